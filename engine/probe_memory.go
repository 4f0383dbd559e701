package engine

import (
	"sync"
	"time"
)

// ProbeMemory remembers hosts whose observed header probe timed out, so
// later sessions on the same host go straight to synthesized headers
// instead of waiting out the probe timeout again. Entries expire after
// the configured TTL and are cleaned up periodically.
type ProbeMemory struct {
	store sync.Map // host (string) -> expiry (time.Time)
	ttl   time.Duration
	done  chan struct{}
	once  sync.Once
}

// NewProbeMemory creates a ProbeMemory with the given TTL and starts
// a background goroutine that prunes expired entries every ttl.
func NewProbeMemory(ttl time.Duration) *ProbeMemory {
	if ttl <= 0 {
		ttl = time.Hour
	}
	pm := &ProbeMemory{
		ttl:  ttl,
		done: make(chan struct{}),
	}
	go pm.cleanupLoop()
	return pm
}

// ShouldSkip reports whether host is remembered as not answering the
// observed probe.
func (pm *ProbeMemory) ShouldSkip(host string) bool {
	val, ok := pm.store.Load(host)
	if !ok {
		return false
	}
	if time.Now().After(val.(time.Time)) {
		pm.store.Delete(host)
		return false
	}
	return true
}

// MarkTimeout records that the observed probe timed out for host.
func (pm *ProbeMemory) MarkTimeout(host string) {
	pm.store.Store(host, time.Now().Add(pm.ttl))
}

// Forget removes host (e.g. after an observed probe succeeded again).
func (pm *ProbeMemory) Forget(host string) {
	pm.store.Delete(host)
}

// Stop terminates the background cleanup goroutine.
func (pm *ProbeMemory) Stop() {
	pm.once.Do(func() { close(pm.done) })
}

func (pm *ProbeMemory) cleanupLoop() {
	ticker := time.NewTicker(pm.ttl)
	defer ticker.Stop()
	for {
		select {
		case <-pm.done:
			return
		case <-ticker.C:
			now := time.Now()
			pm.store.Range(func(key, value any) bool {
				if now.After(value.(time.Time)) {
					pm.store.Delete(key)
				}
				return true
			})
		}
	}
}
