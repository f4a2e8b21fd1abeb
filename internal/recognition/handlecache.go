package recognition

import "sync"

// HandleCache maps local file paths to remote Files API handles so a
// document is uploaded once per cache lifetime. Callers own the lifetime:
// the server keeps one per process and forgets entries when a file's
// content is replaced; the CLI builds a fresh one per run.
type HandleCache struct {
	mu      sync.Mutex
	entries map[string]string
}

// NewHandleCache creates an empty cache.
func NewHandleCache() *HandleCache {
	return &HandleCache{entries: make(map[string]string)}
}

// Get returns the cached handle for key, if any.
func (c *HandleCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	handle, ok := c.entries[key]
	return handle, ok
}

// Put records the handle for key.
func (c *HandleCache) Put(key, handle string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = handle
}

// Forget drops the entry for key. Call it when the file behind the key
// changes; the next Register uploads the new content.
func (c *HandleCache) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}
