// ABOUTME: Thread-safe TTL cache recording which platform event deliveries were handled.
// ABOUTME: Lets the dispatcher drop webhook retries and gateway replays of the same event.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// claim is one remembered delivery.
type claim struct {
	key     string
	claimed time.Time
}

// Cache remembers event deliveries for a fixed TTL, bounded by maxSize.
// Claims are kept in a list in claim order so the oldest can be evicted or
// expired from the front without scanning.
type Cache struct {
	mu      sync.Mutex
	claims  map[string]*list.Element
	order   *list.List // *claim, oldest at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	done      chan struct{}
	closeOnce sync.Once
}

// New creates a cache that remembers each delivery for ttl and holds at
// most maxSize deliveries. A background goroutine sweeps expired claims
// every sweep interval until Close is called; a zero sweep disables it.
func New(ttl time.Duration, maxSize int, sweep time.Duration) *Cache {
	c := &Cache{
		claims:  make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if sweep > 0 {
		go c.sweepLoop(sweep)
	}
	return c
}

// Key builds the cache key for a platform delivery.
func Key(platform, eventID string) string {
	return platform + ":" + eventID
}

// Claim reports whether the caller is the first to handle this delivery
// within the TTL. The check and the mark happen under one lock. An empty
// eventID cannot be deduplicated and is always claimable.
func (c *Cache) Claim(platform, eventID string) bool {
	if eventID == "" {
		return true
	}
	key := Key(platform, eventID)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.expireLocked(now)

	if _, seen := c.claims[key]; seen {
		return false
	}

	if c.maxSize > 0 && len(c.claims) >= c.maxSize {
		c.removeLocked(c.order.Front())
	}
	c.claims[key] = c.order.PushBack(&claim{key: key, claimed: now})
	return true
}

// Len returns the number of remembered deliveries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.claims)
}

// expireLocked drops claims older than the TTL. Must be called with mu held.
func (c *Cache) expireLocked(now time.Time) {
	for e := c.order.Front(); e != nil; e = c.order.Front() {
		if now.Sub(e.Value.(*claim).claimed) < c.ttl {
			return
		}
		c.removeLocked(e)
	}
}

func (c *Cache) removeLocked(e *list.Element) {
	if e == nil {
		return
	}
	c.order.Remove(e)
	delete(c.claims, e.Value.(*claim).key)
}

func (c *Cache) sweepLoop(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.mu.Lock()
			c.expireLocked(c.now())
			c.mu.Unlock()
		case <-c.done:
			return
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}
