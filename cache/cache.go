// Package cache keeps finished scrape sessions addressable by ID so a later
// download request can select records by index.
package cache

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/mediagrab/media"
)

// entry holds a session with its creation timestamp.
type entry struct {
	session   *media.Session
	createdAt time.Time
}

// Store is an in-memory session store with TTL and capacity eviction.
// It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	store      map[string]*entry
	maxEntries int
	ttl        time.Duration

	done chan struct{}
	once sync.Once
}

// New creates a Store holding at most maxEntries sessions for ttl each.
// A background goroutine evicts expired sessions until Close is called.
func New(maxEntries int, ttl time.Duration) *Store {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	c := &Store{
		store:      make(map[string]*entry),
		maxEntries: maxEntries,
		ttl:        ttl,
		done:       make(chan struct{}),
	}

	go c.cleanupLoop()
	return c
}

// Put stores sess under a fresh ID and returns the ID. At capacity the
// oldest session is evicted to make room.
func (c *Store) Put(sess *media.Session) string {
	id := uuid.NewString()

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.store) >= c.maxEntries {
		c.evictOldestLocked()
	}
	c.store[id] = &entry{session: sess, createdAt: time.Now()}
	return id
}

// Get returns the session stored under id unless it has expired.
func (c *Store) Get(id string) (*media.Session, bool) {
	c.mu.RLock()
	e, ok := c.store[id]
	c.mu.RUnlock()

	if !ok || time.Since(e.createdAt) > c.ttl {
		return nil, false
	}
	return e.session, true
}

// Delete removes id from the store.
func (c *Store) Delete(id string) {
	c.mu.Lock()
	delete(c.store, id)
	c.mu.Unlock()
}

// Len is the number of stored sessions, expired ones included until the
// next cleanup.
func (c *Store) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.store)
}

// Close stops the cleanup goroutine.
func (c *Store) Close() {
	c.once.Do(func() { close(c.done) })
}

func (c *Store) evictOldestLocked() {
	var oldestID string
	var oldest time.Time
	for id, e := range c.store {
		if oldestID == "" || e.createdAt.Before(oldest) {
			oldestID, oldest = id, e.createdAt
		}
	}
	delete(c.store, oldestID)
}

// cleanupLoop evicts expired sessions every ttl/4, at most every 5 minutes.
func (c *Store) cleanupLoop() {
	interval := min(c.ttl/4, 5*time.Minute)
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.evictExpired()
		}
	}
}

func (c *Store) evictExpired() {
	cutoff := time.Now().Add(-c.ttl)
	c.mu.Lock()
	for k, e := range c.store {
		if e.createdAt.Before(cutoff) {
			delete(c.store, k)
		}
	}
	c.mu.Unlock()
}
