package pagestore

import (
	"container/list"
	"sync"
)

// PageCache is an LRU cache of page images keyed by address
type PageCache struct {
	mu       sync.Mutex
	capacity int
	cache    map[Address]*list.Element
	lru      *list.List

	// Statistics
	hits   int64
	misses int64
}

type cacheEntry struct {
	addr Address
	page []byte
}

// NewPageCache creates a new LRU page cache holding at most capacity pages.
// A capacity of zero or less disables caching.
func NewPageCache(capacity int) *PageCache {
	return &PageCache{
		capacity: capacity,
		cache:    make(map[Address]*list.Element),
		lru:      list.New(),
	}
}

// Get retrieves a page from the cache
func (pc *PageCache) Get(addr Address) ([]byte, bool) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	if elem, ok := pc.cache[addr]; ok {
		pc.lru.MoveToFront(elem)
		pc.hits++
		return elem.Value.(*cacheEntry).page, true
	}

	pc.misses++
	return nil, false
}

// Put adds a page to the cache
func (pc *PageCache) Put(addr Address, page []byte) {
	if pc.capacity <= 0 {
		return
	}

	pc.mu.Lock()
	defer pc.mu.Unlock()

	if elem, ok := pc.cache[addr]; ok {
		pc.lru.MoveToFront(elem)
		elem.Value.(*cacheEntry).page = page
		return
	}

	elem := pc.lru.PushFront(&cacheEntry{addr: addr, page: page})
	pc.cache[addr] = elem

	if pc.lru.Len() > pc.capacity {
		pc.evict()
	}
}

// evict removes the least recently used entry
func (pc *PageCache) evict() {
	elem := pc.lru.Back()
	if elem != nil {
		pc.lru.Remove(elem)
		delete(pc.cache, elem.Value.(*cacheEntry).addr)
	}
}

// DropFile removes every cached page of file
func (pc *PageCache) DropFile(file string) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	for addr, elem := range pc.cache {
		if addr.File == file {
			pc.lru.Remove(elem)
			delete(pc.cache, addr)
		}
	}
}

// Clear removes all entries from the cache
func (pc *PageCache) Clear() {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	pc.cache = make(map[Address]*list.Element)
	pc.lru = list.New()
	pc.hits = 0
	pc.misses = 0
}

// Stats returns cache statistics
func (pc *PageCache) Stats() (hits, misses int64, hitRate float64) {
	pc.mu.Lock()
	defer pc.mu.Unlock()

	hits = pc.hits
	misses = pc.misses
	total := hits + misses
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}
	return
}

// Len returns the current number of cached pages
func (pc *PageCache) Len() int {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.lru.Len()
}
