package pagestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/luposdate/luposdate-sub013/pkg/metrics"
	"golang.org/x/exp/mmap"
)

// DefaultSegmentPages is the number of pages kept in one segment file
const DefaultSegmentPages = 4096

// FileStoreOptions configures a FileStore
type FileStoreOptions struct {
	// SegmentPages is the number of pages per segment file (default 4096).
	SegmentPages int
	// CacheCapacity is the number of pages held in the LRU page cache.
	CacheCapacity int
	// Metrics receives cache hit/miss counts; may be nil.
	Metrics *metrics.Registry
}

// FileStore keeps each logical file as a chain of segment files inside a
// directory: segment 0 is "<dir>/<file>", segment i is "<dir>/<file>_<i>".
// Reads are served from the page cache, then from a memory-mapped view of
// the segment that is dropped whenever the segment is written.
type FileStore struct {
	dir          string
	segmentPages int
	cache        *PageCache
	metrics      *metrics.Registry

	mu      sync.RWMutex
	readers map[string]*mmap.ReaderAt
	closed  bool
}

// NewFileStore opens (creating if needed) a page store rooted at dir
func NewFileStore(dir string, opts FileStoreOptions) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "failed to create page store directory %s", dir)
	}
	if opts.SegmentPages <= 0 {
		opts.SegmentPages = DefaultSegmentPages
	}
	return &FileStore{
		dir:          dir,
		segmentPages: opts.SegmentPages,
		cache:        NewPageCache(opts.CacheCapacity),
		metrics:      opts.Metrics,
		readers:      make(map[string]*mmap.ReaderAt),
	}, nil
}

// Dir returns the directory holding the segment files
func (fs *FileStore) Dir() string {
	return fs.dir
}

// SegmentPath returns the path of segment seg of file
func (fs *FileStore) SegmentPath(file string, seg int) string {
	if seg == 0 {
		return filepath.Join(fs.dir, file)
	}
	return filepath.Join(fs.dir, fmt.Sprintf("%s_%d", file, seg))
}

func (fs *FileStore) locate(addr Address) (path string, pageInSegment int) {
	seg := addr.Page / fs.segmentPages
	return fs.SegmentPath(addr.File, seg), addr.Page % fs.segmentPages
}

// ReadPage returns the page at addr
func (fs *FileStore) ReadPage(pageSize int, addr Address) ([]byte, error) {
	if page, ok := fs.cache.Get(addr); ok && len(page) == pageSize {
		fs.metrics.RecordCacheAccess(true)
		return page, nil
	}
	fs.metrics.RecordCacheAccess(false)

	path, idx := fs.locate(addr)
	page := make([]byte, pageSize)
	if err := fs.readAt(path, page, int64(idx)*int64(pageSize)); err != nil {
		return nil, errors.Wrapf(err, "read %s", addr)
	}

	fs.cache.Put(addr, page)
	return page, nil
}

func (fs *FileStore) readAt(path string, buf []byte, off int64) error {
	for {
		fs.mu.RLock()
		if fs.closed {
			fs.mu.RUnlock()
			return ErrClosed
		}
		r, ok := fs.readers[path]
		if ok {
			defer fs.mu.RUnlock()
			if off+int64(len(buf)) > int64(r.Len()) {
				return ErrPageNotFound
			}
			_, err := r.ReadAt(buf, off)
			return err
		}
		fs.mu.RUnlock()

		if err := fs.openReader(path); err != nil {
			return err
		}
	}
}

func (fs *FileStore) openReader(path string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.readers[path]; ok {
		return nil
	}
	r, err := mmap.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrPageNotFound
		}
		return err
	}
	fs.readers[path] = r
	return nil
}

// dropReader closes the mapped view of path; callers hold fs.mu.
func (fs *FileStore) dropReader(path string) {
	if r, ok := fs.readers[path]; ok {
		_ = r.Close()
		delete(fs.readers, path)
	}
}

// WritePage writes page to its segment file and refreshes the cache
func (fs *FileStore) WritePage(pageSize int, addr Address, page []byte) error {
	if err := checkPage(pageSize, addr, page); err != nil {
		return err
	}

	path, idx := fs.locate(addr)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return ErrClosed
	}
	fs.dropReader(path)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return errors.Wrapf(err, "open segment for %s", addr)
	}
	if _, err := f.WriteAt(page, int64(idx)*int64(pageSize)); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "write %s", addr)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close segment for %s", addr)
	}

	fs.cache.Put(addr, append([]byte(nil), page...))
	return nil
}

// ReleaseAll drops cached pages of file and deletes its segments, stopping
// at the first missing segment
func (fs *FileStore) ReleaseAll(file string) error {
	fs.cache.DropFile(file)

	fs.mu.Lock()
	defer fs.mu.Unlock()

	for seg := 0; ; seg++ {
		path := fs.SegmentPath(file, seg)
		fs.dropReader(path)
		if err := os.Remove(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil
			}
			return errors.Wrapf(err, "remove segment %s", path)
		}
	}
}

// FileSize sums the sizes of all segments of file
func (fs *FileStore) FileSize(file string) (int64, error) {
	var size int64
	for seg := 0; ; seg++ {
		info, err := os.Stat(fs.SegmentPath(file, seg))
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return size, nil
			}
			return 0, errors.Wrapf(err, "stat %s", file)
		}
		size += info.Size()
	}
}

// Segments lists the segment files currently present for file
func (fs *FileStore) Segments(file string) []string {
	var paths []string
	for seg := 0; ; seg++ {
		path := fs.SegmentPath(file, seg)
		if _, err := os.Stat(path); err != nil {
			return paths
		}
		paths = append(paths, path)
	}
}

// CacheStats returns page cache statistics
func (fs *FileStore) CacheStats() (hits, misses int64, hitRate float64) {
	return fs.cache.Stats()
}

// Close unmaps every open segment. The store cannot be used afterwards.
func (fs *FileStore) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	var firstErr error
	for path, r := range fs.readers {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(fs.readers, path)
	}
	fs.cache.Clear()
	fs.closed = true
	return firstErr
}
