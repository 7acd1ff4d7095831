package authen

import (
	"crypto/rand"
	"crypto/subtle"
	"sync"
	"time"

	"golang.org/x/crypto/argon2"
)

// Cache remembers credential pairs that were recently accepted.
type Cache interface {
	Get(username, password string) bool
	Set(username, password string)
}

// Tuned for a hot authentication path; the hash never leaves the process.
const (
	argonMemory      = 8 * 1024 // 8 MiB
	argonIterations  = 1
	argonParallelism = 1
	argonKeyLen      = 32
	saltLen          = 16
)

type cacheEntry struct {
	salt    []byte
	hash    []byte
	expires time.Time
}

// MemoryCache is an in-process Cache. Only an Argon2id hash of the accepted
// password is kept, never the password itself.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]cacheEntry
	now     func() time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{ttl: ttl, entries: map[string]cacheEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(username, password string) bool {
	c.mu.Lock()
	e, ok := c.entries[username]
	if ok && !c.now().Before(e.expires) {
		delete(c.entries, username)
		ok = false
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	other := argon2.IDKey([]byte(password), e.salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	return subtle.ConstantTimeCompare(e.hash, other) == 1
}

func (c *MemoryCache) Set(username, password string) {
	if c.ttl <= 0 {
		return
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return
	}
	hash := argon2.IDKey([]byte(password), salt, argonIterations, argonMemory, argonParallelism, argonKeyLen)
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
		}
	}
	c.entries[username] = cacheEntry{salt: salt, hash: hash, expires: now.Add(c.ttl)}
}

// Len reports the number of live and not yet swept entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
