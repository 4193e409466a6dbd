package main

import (
	"bufio"
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/luposdate/luposdate-sub013/pkg/config"
	"github.com/luposdate/luposdate-sub013/pkg/logging"
	"github.com/luposdate/luposdate-sub013/pkg/lsm"
	"github.com/luposdate/luposdate-sub013/pkg/metrics"
	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

// env is the state shared by every subcommand
type env struct {
	configPath  string
	dataDir     string
	metricsPath string
	start       time.Time

	cfg     config.Config
	log     logging.Logger
	metrics *metrics.Registry
	store   *pagestore.FileStore
}

// open loads the configuration and opens the page store
func (e *env) open() error {
	e.start = time.Now()
	cfg := config.Default()
	if e.configPath != "" {
		var err error
		if cfg, err = config.Load(e.configPath); err != nil {
			return err
		}
	}
	if err := cfg.ApplyEnv(); err != nil {
		return err
	}
	if e.dataDir != "" {
		cfg.DataDir = e.dataDir
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	logging.SetDefaultLogger(cfg.Logger())
	e.cfg = cfg
	e.log = logging.DefaultLogger().With(logging.Component("runtool"))
	e.metrics = metrics.NewRegistry()

	store, err := pagestore.NewFileStore(cfg.DataDir, cfg.StoreOptions(e.metrics))
	if err != nil {
		return err
	}
	e.store = store
	return nil
}

func (e *env) close() error {
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	if e.metricsPath != "" {
		e.metrics.UpdateSystemMetrics(e.start)
		if werr := prometheus.WriteToTextfile(e.metricsPath, e.metrics.GetPrometheusRegistry()); werr != nil {
			err = errors.CombineErrors(err, errors.Wrap(werr, "write metrics"))
		}
	}
	return err
}

func (e *env) options() lsm.Options {
	return e.cfg.LSMOptions(e.log, e.metrics)
}

// runID names a run as "<level>/<number>"
type runID struct {
	level, number int
}

func (id runID) String() string {
	return strconv.Itoa(id.level) + "/" + strconv.Itoa(id.number)
}

func parseRunID(s string) (runID, error) {
	l, n, ok := strings.Cut(s, "/")
	if !ok {
		return runID{}, errors.Newf("run %q: want <level>/<number>", s)
	}
	level, err := strconv.Atoi(l)
	if err != nil || level < 0 {
		return runID{}, errors.Newf("run %q: bad level", s)
	}
	number, err := strconv.Atoi(n)
	if err != nil || number < 0 {
		return runID{}, errors.Newf("run %q: bad number", s)
	}
	return runID{level: level, number: number}, nil
}

func parseRunIDs(args []string) ([]runID, error) {
	ids := make([]runID, 0, len(args))
	for _, a := range args {
		id, err := parseRunID(a)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (e *env) metadataPath(id runID) string {
	return filepath.Join(e.cfg.DataDir, lsm.MetadataFileName(id.level, id.number))
}

// openRun reopens a run from its metadata file
func (e *env) openRun(id runID) (*lsm.Run, error) {
	f, err := os.Open(e.metadataPath(id))
	if err != nil {
		return nil, errors.Wrapf(err, "run %s", id)
	}
	defer f.Close()
	return lsm.OpenRun(e.store, e.options(), id.level, id.number, f)
}

// saveRun writes the metadata file of a freshly built run
func (e *env) saveRun(id runID, r *lsm.Run) error {
	f, err := os.Create(e.metadataPath(id))
	if err != nil {
		return errors.Wrapf(err, "run %s", id)
	}
	if err := r.WriteMetadata(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// readEntries parses "key<TAB>value" lines; a line holding only a key is a
// tombstone. Entries are sorted by key, keeping input order for equal keys
// so that the last line for a key wins.
func readEntries(r io.Reader) ([]*lsm.Entry, error) {
	var entries []*lsm.Entry
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), lsm.MaxPageSize)
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		key, value, hasValue := strings.Cut(text, "\t")
		if key == "" {
			return nil, errors.Newf("line %d: empty key", line)
		}
		e := &lsm.Entry{Key: []byte(key), Deleted: !hasValue}
		if hasValue {
			e.Value = []byte(value)
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "reading input")
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return bytes.Compare(entries[i].Key, entries[j].Key) < 0
	})
	return entries, nil
}
