package thumbs

import (
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"

	"github.com/afterlogic/aurora-module-s3-filestorage/internal/metrics"
)

// CacheKey derives the cache slot for a thumbnail from the file's access
// token and name. The same token and name always map to the same slot,
// so repeated requests hit the cache.
func CacheKey(token, name string) string {
	sum := md5.Sum([]byte("Raw/Thumb/" + token + "/" + name))
	return hex.EncodeToString(sum[:])
}

type cacheEntry struct {
	data     []byte
	lastUsed time.Time
}

// Cache is an in-memory thumbnail store with a byte-size cap. Entries
// are scoped per user so one user's previews never serve another's.
// When the cap is exceeded the least recently used entries are evicted.
type Cache struct {
	mu       sync.Mutex
	maxBytes int64
	size     int64
	entries  map[string]*cacheEntry
}

// NewCache creates a cache holding at most maxBytes of thumbnail data.
// A non-positive cap disables eviction.
func NewCache(maxBytes int64) *Cache {
	return &Cache{
		maxBytes: maxBytes,
		entries:  make(map[string]*cacheEntry),
	}
}

func (c *Cache) slot(user, key string) string {
	return user + "/" + key
}

// Get returns the cached thumbnail for the user's key, if present.
func (c *Cache) Get(user, key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[c.slot(user, key)]
	if !ok {
		return nil, false
	}
	e.lastUsed = time.Now()
	return e.data, true
}

// Put stores a thumbnail for the user's key. Storing the same key twice
// replaces the previous bytes.
func (c *Cache) Put(user, key string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	slot := c.slot(user, key)
	if old, ok := c.entries[slot]; ok {
		c.size -= int64(len(old.data))
	}
	c.entries[slot] = &cacheEntry{data: data, lastUsed: time.Now()}
	c.size += int64(len(data))
	c.evictLocked()
	metrics.SetThumbnailCacheBytes(c.size)
}

// PurgeUser drops every cached thumbnail belonging to the user.
func (c *Cache) PurgeUser(user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	prefix := user + "/"
	for slot, e := range c.entries {
		if len(slot) >= len(prefix) && slot[:len(prefix)] == prefix {
			c.size -= int64(len(e.data))
			delete(c.entries, slot)
		}
	}
	metrics.SetThumbnailCacheBytes(c.size)
}

// Size returns the number of cached bytes.
func (c *Cache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *Cache) evictLocked() {
	if c.maxBytes <= 0 {
		return
	}
	for c.size > c.maxBytes && len(c.entries) > 0 {
		var oldestSlot string
		var oldest time.Time
		for slot, e := range c.entries {
			if oldestSlot == "" || e.lastUsed.Before(oldest) {
				oldestSlot = slot
				oldest = e.lastUsed
			}
		}
		c.size -= int64(len(c.entries[oldestSlot].data))
		delete(c.entries, oldestSlot)
	}
}
