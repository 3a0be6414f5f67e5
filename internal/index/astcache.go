package index

import (
	"container/list"
	"sync"

	"github.com/cespare/xxhash/v2"
	"go.lsp.dev/uri"

	"github.com/camelscope/camelscope/internal/syntax"
)

// ASTCache is a bounded LRU of parsed trees for closed files, keyed by
// URI and validated by content hash. Open documents never go through the
// cache; their trees live on the Document. Symbols are never evicted from
// the index itself, so dropping a cached tree can never dangle a live
// Reference - re-parsing just costs time.
type ASTCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recent
	entries  map[uri.URI]*list.Element

	hits   int64
	misses int64
}

type cacheEntry struct {
	uri  uri.URI
	hash uint64
	tree *syntax.Tree
}

// NewASTCache creates a cache holding up to capacity trees. A zero
// capacity disables caching.
func NewASTCache(capacity int) *ASTCache {
	return &ASTCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[uri.URI]*list.Element),
	}
}

// HashContent returns the cache validation hash for file content.
func HashContent(content []byte) uint64 {
	return xxhash.Sum64(content)
}

// Get returns the cached tree if the content hash still matches.
func (c *ASTCache) Get(u uri.URI, hash uint64) (*syntax.Tree, bool) {
	if c.capacity == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[u]
	if !ok || el.Value.(*cacheEntry).hash != hash {
		c.misses++
		return nil, false
	}
	c.order.MoveToFront(el)
	c.hits++
	return el.Value.(*cacheEntry).tree, true
}

// Put stores a tree, evicting the least-recently-used entry past
// capacity.
func (c *ASTCache) Put(u uri.URI, hash uint64, tree *syntax.Tree) {
	if c.capacity == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[u]; ok {
		el.Value.(*cacheEntry).hash = hash
		el.Value.(*cacheEntry).tree = tree
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{uri: u, hash: hash, tree: tree})
	c.entries[u] = el
	for c.order.Len() > c.capacity {
		last := c.order.Back()
		c.order.Remove(last)
		delete(c.entries, last.Value.(*cacheEntry).uri)
	}
}

// Drop removes a URI from the cache.
func (c *ASTCache) Drop(u uri.URI) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[u]; ok {
		c.order.Remove(el)
		delete(c.entries, u)
	}
}

// Stats returns hit and miss counts.
func (c *ASTCache) Stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}
