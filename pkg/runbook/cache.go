// Package runbook resolves the runbook guidance handed to the agent for an
// alert: fetched from GitHub (or any allowed host) and cached in memory.
package runbook

import (
	"net/url"
	"strings"
	"sync"
	"time"
)

const (
	defaultMaxEntries = 256
	maxFailureTTL     = 30 * time.Second
)

// source identifies runbook content independent of how an alert spelled
// the link: the raw URL with scheme and host lower-cased, a "www." prefix
// dropped and the fragment removed.
type source string

func sourceOf(rawURL string) source {
	u, err := url.Parse(rawURL)
	if err != nil {
		return source(rawURL)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""
	return source(u.String())
}

type cacheEntry struct {
	content string
	err     error
	expires time.Time
}

// Cache holds fetched runbooks per source. Failed fetches are remembered
// for a shorter time so an alert storm pointing at a missing runbook does
// not refetch it for every alert. The cache never grows past maxEntries.
type Cache struct {
	mu         sync.Mutex
	entries    map[source]cacheEntry
	ttl        time.Duration
	failureTTL time.Duration
	maxEntries int
	now        func() time.Time
}

// NewCache creates a cache whose content lives for ttl.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	return &Cache{
		entries:    make(map[source]cacheEntry),
		ttl:        ttl,
		failureTTL: min(ttl, maxFailureTTL),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached outcome for src. ok is false when nothing live is
// cached. A cached failure is returned as err.
func (c *Cache) Get(src source) (content string, ok bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, found := c.entries[src]
	if !found {
		return "", false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, src)
		return "", false, nil
	}
	return e.content, true, e.err
}

// Put caches fetched content.
func (c *Cache) Put(src source, content string) {
	c.store(src, cacheEntry{content: content, expires: c.now().Add(c.ttl)})
}

// PutFailure caches a failed fetch.
func (c *Cache) PutFailure(src source, err error) {
	c.store(src, cacheEntry{err: err, expires: c.now().Add(c.failureTTL)})
}

func (c *Cache) store(src source, e cacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[src]; !exists && len(c.entries) >= c.maxEntries {
		c.evict()
	}
	c.entries[src] = e
}

// evict drops expired entries, or the one closest to expiry when none has
// expired. Callers hold mu.
func (c *Cache) evict() {
	now := c.now()
	var (
		oldest    source
		oldestExp time.Time
	)
	for src, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, src)
			continue
		}
		if oldestExp.IsZero() || e.expires.Before(oldestExp) {
			oldest, oldestExp = src, e.expires
		}
	}
	if len(c.entries) >= c.maxEntries {
		delete(c.entries, oldest)
	}
}
