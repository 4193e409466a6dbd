package lsm

import (
	"bytes"
	"fmt"
	"sort"
	"testing"

	"github.com/luposdate/luposdate-sub013/pkg/pagestore"
)

func TestSIPIterator_ScenarioSeeks(t *testing.T) {
	store := newRecordingStore()
	r := scenarioRun(t, store)

	// Start below key 5, then skip to 7 and 10
	it := r.NewIter()
	if e, ok := it.Next(); !ok || e.Key[0] != 1 {
		t.Fatalf("Next = %v, %v; want key 1", e, ok)
	}
	if e, ok := it.SeekGE([]byte{7}); !ok || e.Key[0] != 7 {
		t.Fatalf("SeekGE(7) = %v, %v", e, ok)
	}
	if it.data.page != 1 {
		t.Errorf("SeekGE(7) landed on page %d, want 1", it.data.page)
	}
	if e, ok := it.SeekGE([]byte{10}); !ok || e.Key[0] != 20 {
		t.Fatalf("SeekGE(10) = %v, %v; want key 20", e, ok)
	}

	if _, perPage := store.readsOf(RunFileName(0, 1)); perPage != 1 {
		t.Errorf("A data page was read %d times", perPage)
	}
	if got := it.Stats().DataPagesRead; got != 3 {
		t.Errorf("DataPagesRead = %d, want 3", got)
	}

	if _, ok := it.SeekGE([]byte{21}); ok {
		t.Error("SeekGE past the last key returned an entry")
	}
	if _, ok := it.Next(); ok {
		t.Error("Next after exhaustion returned an entry")
	}
	if it.Err() != nil {
		t.Errorf("Unexpected error: %v", it.Err())
	}
}

func TestSIPIterator_FreshSeekUsesSummary(t *testing.T) {
	store := newRecordingStore()
	r := scenarioRun(t, store)

	it := r.NewIter()
	e, ok := it.SeekGE([]byte{7})
	if !ok || e.Key[0] != 7 {
		t.Fatalf("SeekGE(7) = %v, %v", e, ok)
	}
	stats := it.Stats()
	if stats.DataPagesRead != 1 || stats.SummaryPagesRead != 1 {
		t.Errorf("Fresh seek read %d data and %d summary pages, want 1 and 1",
			stats.DataPagesRead, stats.SummaryPagesRead)
	}
	if n, _ := store.readsOf(RunFileName(0, 1)); n != 1 {
		t.Errorf("Fresh seek read %d data pages", n)
	}

	// The current entry already satisfies a smaller or equal target
	if e, ok := it.SeekGE([]byte{6}); !ok || e.Key[0] != 7 {
		t.Errorf("SeekGE(6) after 7 = %v, %v; want 7 again", e, ok)
	}
	if e, ok := it.Next(); !ok || e.Key[0] != 8 {
		t.Errorf("Next after seek = %v, %v; want 8", e, ok)
	}
}

func TestSIPIterator_FullScan(t *testing.T) {
	store := pagestore.NewMemoryStore()
	keys := make([]uint32, 1000)
	for i := range keys {
		keys[i] = uint32(i * 5)
	}
	r := buildTestRun(t, store, smallPages(40), sortedEntries(keys...))

	it := r.NewIter()
	i := 0
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		if !bytes.Equal(e.Key, key32(keys[i])) {
			t.Fatalf("Entry %d = %x, want %d", i, e.Key, keys[i])
		}
		i++
	}
	if i != len(keys) || it.Err() != nil {
		t.Fatalf("Scanned %d of %d entries, err=%v", i, len(keys), it.Err())
	}
	if it.Stats().DataPagesRead != r.DataPages() {
		t.Errorf("Full scan read %d pages, run has %d", it.Stats().DataPagesRead, r.DataPages())
	}
}

func TestSIPIterator_CachedDescent(t *testing.T) {
	store := newRecordingStore()
	keys := make([]uint32, 5000)
	for i := range keys {
		keys[i] = uint32(i * 2)
	}
	r := buildTestRun(t, store, smallPages(48), sortedEntries(keys...))
	if r.SummaryLevels() < 3 {
		t.Fatalf("Expected a deep summary, got %d levels", r.SummaryLevels())
	}

	summaryPages := 0
	for sl := 0; sl < r.SummaryLevels(); sl++ {
		summaryPages += r.SummaryPages(sl)
	}

	store.reset()
	it := r.NewIter()
	seeks := 0
	for target := uint32(1); target < 10000; target += 37 {
		e, ok := it.SeekGE(key32(target))
		if !ok {
			t.Fatalf("SeekGE(%d) found nothing", target)
		}
		if want := key32(target + target%2); !bytes.Equal(e.Key, want) {
			t.Fatalf("SeekGE(%d) = %x, want %x", target, e.Key, want)
		}
		seeks++
	}

	stats := it.Stats()
	if stats.SummaryPagesRead > summaryPages {
		t.Errorf("Read %d summary pages, the run only has %d", stats.SummaryPagesRead, summaryPages)
	}
	if stats.DataPagesRead > r.DataPages() {
		t.Errorf("Read %d data pages, the run only has %d", stats.DataPagesRead, r.DataPages())
	}
	for sl := 0; sl < r.SummaryLevels(); sl++ {
		if _, perPage := store.readsOf(SummaryFileName(0, 1, sl)); perPage > 1 {
			t.Errorf("A page of summary level %d was read %d times", sl, perPage)
		}
	}
	if _, perPage := store.readsOf(RunFileName(0, 1)); perPage > 1 {
		t.Errorf("A data page was read %d times", perPage)
	}

	// Independent point lookups walk the full path every time
	store.reset()
	for target := uint32(1); target < 10000; target += 37 {
		if _, _, err := r.Get(key32(target + target%2)); err != nil {
			t.Fatal(err)
		}
	}
	lookupReads := 0
	for sl := 0; sl < r.SummaryLevels(); sl++ {
		n, _ := store.readsOf(SummaryFileName(0, 1, sl))
		lookupReads += n
	}
	if stats.SummaryPagesRead >= lookupReads {
		t.Errorf("Cached descent read %d summary pages, point lookups %d", stats.SummaryPagesRead, lookupReads)
	}
	t.Logf("%d seeks: %d summary pages (lookups: %d), %d levels visited",
		seeks, stats.SummaryPagesRead, lookupReads, stats.LevelsVisited)
}

func TestSIPIterator_PrefixSearch(t *testing.T) {
	store := pagestore.NewMemoryStore()
	var entries []*Entry
	for _, p := range []string{"alpha", "beta", "delta", "gamma"} {
		for i := 0; i < 50; i++ {
			entries = append(entries, &Entry{Key: []byte(fmt.Sprintf("%s:%03d", p, i)), Value: []byte(p)})
		}
	}
	opts := smallPages(128)
	opts.BloomPrefixLength = 4
	r := buildTestRun(t, store, opts, entries)

	it, err := r.PrefixSearch(BytesPrefix, []byte("delta:"))
	if err != nil || it == nil {
		t.Fatalf("PrefixSearch(delta:) = %v, %v", it, err)
	}
	n := 0
	for e, ok := it.Next(); ok; e, ok = it.Next() {
		if !bytes.HasPrefix(e.Key, []byte("delta:")) {
			t.Fatalf("Entry %s does not match the prefix", e.Key)
		}
		n++
	}
	if n != 50 {
		t.Errorf("Expected 50 entries for delta:, got %d", n)
	}

	// Seeking within the prefix, then past it
	it, _ = r.PrefixSearch(BytesPrefix, []byte("beta:"))
	if e, ok := it.SeekGE([]byte("beta:040")); !ok || string(e.Key) != "beta:040" {
		t.Errorf("SeekGE(beta:040) = %v, %v", e, ok)
	}
	if _, ok := it.SeekGE([]byte("c")); ok {
		t.Error("SeekGE beyond the prefix returned an entry")
	}

	// Prefix between stored keys, and one rejected by the bloom filter
	for _, prefix := range []string{"beta:9", "epsilon:"} {
		it, err := r.PrefixSearch(BytesPrefix, []byte(prefix))
		if err != nil || it != nil {
			t.Errorf("PrefixSearch(%s) = %v, %v; want no iterator", prefix, it, err)
		}
	}
}

func TestRun_Scan(t *testing.T) {
	store := pagestore.NewMemoryStore()
	entries := sortedEntries(10, 20, 30, 40, 50, 60)
	entries[2].Deleted = true
	entries[2].Value = nil
	r := buildTestRun(t, store, smallPages(32), entries)

	tests := []struct {
		start, end []byte
		want       []uint32
	}{
		{nil, nil, []uint32{10, 20, 40, 50, 60}},
		{key32(15), key32(50), []uint32{20, 40}},
		{key32(40), nil, []uint32{40, 50, 60}},
		{nil, key32(10), nil},
		{key32(61), nil, nil},
	}

	for _, tt := range tests {
		got, err := r.Scan(tt.start, tt.end)
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		var keys []uint32
		for _, e := range got {
			keys = append(keys, uint32(e.Key[3])|uint32(e.Key[2])<<8)
		}
		if fmt.Sprint(keys) != fmt.Sprint(tt.want) {
			t.Errorf("Scan(%x, %x) = %v, want %v", tt.start, tt.end, keys, tt.want)
		}
	}
}

// TestSIPIterator_SeekMatchesSearch checks seeks against sort.Search on the key list
func TestSIPIterator_SeekMatchesSearch(t *testing.T) {
	store := pagestore.NewMemoryStore()
	keys := make([]uint32, 0, 800)
	for i := uint32(0); i < 800; i++ {
		keys = append(keys, i*i)
	}
	r := buildTestRun(t, store, smallPages(36), sortedEntries(keys...))

	for _, step := range []uint32{1, 13, 501, 9000, 70000} {
		it := r.NewIter()
		for target := uint32(0); target <= keys[len(keys)-1]+1; target += step {
			i := sort.Search(len(keys), func(i int) bool { return keys[i] >= target })
			e, ok := it.SeekGE(key32(target))
			if i == len(keys) {
				if ok {
					t.Fatalf("step %d: SeekGE(%d) = %x past the end", step, target, e.Key)
				}
				break
			}
			if !ok || !bytes.Equal(e.Key, key32(keys[i])) {
				t.Fatalf("step %d: SeekGE(%d) = %v, %v; want %d", step, target, e, ok, keys[i])
			}
		}
	}
}

func TestSIPIterator_RepeatedSeeksAndNext(t *testing.T) {
	store := newRecordingStore()
	keys := make([]uint32, 0, 3000)
	for i := uint32(0); i < 3000; i++ {
		keys = append(keys, 3*i)
	}
	r := buildTestRun(t, store, smallPages(32), sortedEntries(keys...))
	store.reset()

	type step struct {
		seek   int32 // -1 calls Next instead
		expect uint32
	}
	steps := []step{
		{10, 12}, {10, 12}, {-1, 15}, {13, 15}, {15, 15}, {-1, 18}, {-1, 21},
		{21, 21}, {600, 600}, {600, 600}, {-1, 603}, {601, 603},
		{4000, 4002}, {4000, 4002}, {-1, 4005}, {-1, 4008}, {4008, 4008},
		{8997, 8997}, {-1, 0},
	}
	it := r.NewIter()
	for i, s := range steps {
		var e *Entry
		var ok bool
		if s.seek < 0 {
			e, ok = it.Next()
		} else {
			e, ok = it.SeekGE(key32(uint32(s.seek)))
		}
		if i == len(steps)-1 {
			if ok {
				t.Fatalf("step %d: iterator should be exhausted, got %x", i, e.Key)
			}
			break
		}
		if !ok || !bytes.Equal(e.Key, key32(s.expect)) {
			t.Fatalf("step %d (seek %d): got %v, %v; want %d", i, s.seek, e, ok, s.expect)
		}
	}
	if err := it.Err(); err != nil {
		t.Fatal(err)
	}

	files := []string{RunFileName(0, 1)}
	for sl := 0; sl < r.SummaryLevels(); sl++ {
		files = append(files, SummaryFileName(0, 1, sl))
	}
	for _, file := range files {
		if _, maxReads := store.readsOf(file); maxReads > 1 {
			t.Errorf("%s: a page was read %d times", file, maxReads)
		}
	}
}
