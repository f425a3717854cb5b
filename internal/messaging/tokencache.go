package messaging

import (
	"sync"
	"time"
)

const defaultTokenTTL = 30 * time.Minute

// TokenCache holds service-account access tokens keyed by username with a
// time-based expiry. Reads are concurrent; refresh-on-expiry is not mutually
// exclusive. A duplicate login race is benign since logins are idempotent
// and cheap.
type TokenCache struct {
	mu      sync.RWMutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]tokenEntry
}

type tokenEntry struct {
	token     string
	expiresAt time.Time
}

// NewTokenCache creates a cache with the given TTL (default 30m when <= 0).
func NewTokenCache(ttl time.Duration) *TokenCache {
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}
	return &TokenCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]tokenEntry),
	}
}

// Get returns a cached, unexpired token for the username.
func (c *TokenCache) Get(username string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[username]
	if !ok || c.now().After(e.expiresAt) {
		return "", false
	}
	return e.token, true
}

// Put stores a token for the username.
func (c *TokenCache) Put(username, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[username] = tokenEntry{token: token, expiresAt: c.now().Add(c.ttl)}
}

// Invalidate drops the cached token for the username.
func (c *TokenCache) Invalidate(username string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, username)
}
