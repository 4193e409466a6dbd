package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/lsm"
)

func newRootCommand() *cobra.Command {
	e := &env{}
	root := &cobra.Command{
		Use:           "runtool",
		Short:         "build and inspect sorted runs",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return e.open()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return e.close()
		},
	}
	root.PersistentFlags().StringVar(&e.configPath, "config", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&e.dataDir, "dir", "", "page store directory (overrides the configuration)")
	root.PersistentFlags().StringVar(&e.metricsPath, "metrics-file", "", "write Prometheus text metrics here on exit")

	root.AddCommand(
		buildCommand(e),
		getCommand(e),
		scanCommand(e),
		statCommand(e),
		verifyCommand(e),
		mergeCommand(e),
		releaseCommand(e),
	)
	return root
}

func buildCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "build <level>/<number> <input>",
		Short: "write a run from key<TAB>value lines (\"-\" reads stdin)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if args[1] != "-" {
				f, err := os.Open(args[1])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			entries, err := readEntries(in)
			if err != nil {
				return err
			}

			r, err := lsm.BuildRun(e.store, e.options(), id.level, id.number, lsm.NewSliceIterator(entries), len(entries))
			if err != nil {
				return err
			}
			if err := e.saveRun(id, r); err != nil {
				return errors.CombineErrors(err, r.Release())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "built %s\n", r)
			return nil
		},
	}
}

func getCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "get <level>/<number> <key>",
		Short: "look up one key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			r, err := e.openRun(id)
			if err != nil {
				return err
			}

			entry, ok, err := r.Get([]byte(args[1]))
			switch {
			case err != nil:
				return err
			case !ok:
				return errors.Newf("key %q not found in run %s", args[1], id)
			case entry.Deleted:
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t<deleted>\n", entry.Key)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", entry.Key, entry.Value)
			}
			return nil
		},
	}
}

func scanCommand(e *env) *cobra.Command {
	var prefix, start, end string
	var limit int
	var tombstones bool

	cmd := &cobra.Command{
		Use:   "scan <level>/<number>",
		Short: "print the entries of a run, optionally restricted to a prefix or range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			r, err := e.openRun(id)
			if err != nil {
				return err
			}

			var it *lsm.SIPIterator
			if prefix != "" {
				if it, err = r.PrefixSearch(lsm.BytesPrefix, []byte(prefix)); err != nil {
					return err
				}
				if it == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "no entries with prefix %q\n", prefix)
					return nil
				}
			} else {
				it = r.NewIter()
			}

			var entry *lsm.Entry
			var ok bool
			if start != "" {
				entry, ok = it.SeekGE([]byte(start))
			} else {
				entry, ok = it.Next()
			}

			tbl := tablewriter.NewWriter(cmd.OutOrStdout())
			tbl.SetHeader([]string{"Key", "Value"})
			n := 0
			for ; ok && (limit <= 0 || n < limit); entry, ok = it.Next() {
				if end != "" && string(entry.Key) >= end {
					break
				}
				value := string(entry.Value)
				if entry.Deleted {
					if !tombstones {
						continue
					}
					value = "<deleted>"
				}
				tbl.Append([]string{string(entry.Key), value})
				n++
			}
			if err := it.Err(); err != nil {
				return err
			}
			tbl.Render()

			stats := it.Stats()
			e.log.Debug("scan finished",
				logging.Count(n),
				logging.Int("data_pages_read", stats.DataPagesRead),
				logging.Int("summary_pages_read", stats.SummaryPagesRead))
			return nil
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "only keys starting with this prefix")
	cmd.Flags().StringVar(&start, "start", "", "first key (inclusive)")
	cmd.Flags().StringVar(&end, "end", "", "last key (exclusive)")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of entries, 0 for all")
	cmd.Flags().BoolVar(&tombstones, "tombstones", false, "show deleted keys")
	return cmd
}

func statCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "stat <level>/<number>...",
		Short: "show size and shape of runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRunIDs(args)
			if err != nil {
				return err
			}

			tbl := tablewriter.NewWriter(cmd.OutOrStdout())
			tbl.SetHeader([]string{"Run", "Entries", "Data Pages", "Summary Pages", "Bytes", "Used Bytes", "Bloom Bits"})
			for _, id := range ids {
				r, err := e.openRun(id)
				if err != nil {
					return err
				}
				raw, err := r.BytesOnDisk()
				if err != nil {
					return err
				}
				used, err := r.UsedBytesOnDisk()
				if err != nil {
					return err
				}

				levels := make([]string, r.SummaryLevels())
				for sl := range levels {
					levels[sl] = strconv.Itoa(r.SummaryPages(sl))
				}
				tbl.Append([]string{
					id.String(),
					strconv.Itoa(r.EntryCount()),
					strconv.Itoa(r.DataPages()),
					strings.Join(levels, "/"),
					strconv.FormatInt(raw, 10),
					strconv.FormatInt(used, 10),
					strconv.Itoa(r.Bloom().Size()),
				})
			}
			tbl.Render()

			hits, misses, rate := e.store.CacheStats()
			fmt.Fprintf(cmd.OutOrStdout(), "page cache: %d hits, %d misses (%.1f%%)\n", hits, misses, rate*100)
			return nil
		},
	}
}

func verifyCommand(e *env) *cobra.Command {
	var parallel int
	cmd := &cobra.Command{
		Use:   "verify <level>/<number>...",
		Short: "check the on-disk structure of runs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRunIDs(args)
			if err != nil {
				return err
			}

			reports := make([]*lsm.VerifyReport, len(ids))
			var g errgroup.Group
			g.SetLimit(max(parallel, 1))
			for i, id := range ids {
				i, id := i, id
				g.Go(func() error {
					r, err := e.openRun(id)
					if err != nil {
						return err
					}
					reports[i], err = r.Verify()
					return err
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}

			tbl := tablewriter.NewWriter(cmd.OutOrStdout())
			tbl.SetHeader([]string{"Run", "Entries", "Tombstones", "Data Pages", "Status"})
			failed := 0
			for _, vr := range reports {
				status := "ok"
				if !vr.OK() {
					status = strings.Join(vr.Problems, "; ")
					failed++
				}
				tbl.Append([]string{vr.Run, strconv.Itoa(vr.Entries), strconv.Itoa(vr.Tombstones), strconv.Itoa(vr.DataPages), status})
			}
			tbl.Render()

			if failed > 0 {
				return errors.Newf("%d of %d runs failed verification", failed, len(reports))
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&parallel, "parallel", 4, "runs verified concurrently")
	return cmd
}

func mergeCommand(e *env) *cobra.Command {
	var out string
	var elide, release bool

	cmd := &cobra.Command{
		Use:   "merge --out <level>/<number> <level>/<number>...",
		Short: "merge runs (newest first) into a new run",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outID, err := parseRunID(out)
			if err != nil {
				return err
			}
			ids, err := parseRunIDs(args)
			if err != nil {
				return err
			}

			runs := make([]*lsm.Run, len(ids))
			for i, id := range ids {
				if runs[i], err = e.openRun(id); err != nil {
					return err
				}
			}

			merged, err := lsm.MergeRuns(e.store, e.options(), outID.level, outID.number, runs, elide)
			if err != nil {
				return err
			}
			if err := e.saveRun(outID, merged); err != nil {
				return errors.CombineErrors(err, merged.Release())
			}
			fmt.Fprintf(cmd.OutOrStdout(), "merged %d runs into %s\n", len(runs), merged)

			if release {
				for i, r := range runs {
					if err := e.releaseRun(ids[i], r); err != nil {
						return err
					}
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&out, "out", "", "output run <level>/<number>")
	cmd.Flags().BoolVar(&elide, "elide-tombstones", false, "drop deletions from the output")
	cmd.Flags().BoolVar(&release, "release-inputs", false, "release the input runs afterwards")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func releaseCommand(e *env) *cobra.Command {
	return &cobra.Command{
		Use:   "release <level>/<number>...",
		Short: "delete runs and their metadata",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseRunIDs(args)
			if err != nil {
				return err
			}
			for _, id := range ids {
				r, err := e.openRun(id)
				if err != nil {
					return err
				}
				if err := e.releaseRun(id, r); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "released %s\n", id)
			}
			return nil
		},
	}
}

func (e *env) releaseRun(id runID, r *lsm.Run) error {
	if err := r.Release(); err != nil {
		return err
	}
	if err := os.Remove(e.metadataPath(id)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing metadata of run %s", id)
	}
	e.log.Info("run released", logging.Run(id.level, id.number))
	return nil
}
