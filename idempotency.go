package mailstrom

import (
	"context"
	"sync"
	"time"
)

// IdempotencyStore deduplicates logical send requests by message id. The
// in-memory IdempotencyCache is the default; RedisIdempotencyStore is a
// drop-in alternative for operators who already run Redis.
type IdempotencyStore interface {
	// IsDuplicate reports whether a live (non-expired) record exists for
	// the id, regardless of completion state.
	IsDuplicate(ctx context.Context, id string) bool
	// CachedOutcome returns the cached outcome only if a live record
	// exists and is marked completed.
	CachedOutcome(ctx context.Context, id string) (SendOutcome, bool)
	// MarkInProgress creates a fresh incomplete record, overwriting any
	// existing record for the id.
	MarkInProgress(ctx context.Context, id string)
	// MarkCompleted stores the outcome on a live record; no-op if the
	// record is missing or expired.
	MarkCompleted(ctx context.Context, id string, outcome SendOutcome)
	// Remove deletes the record unconditionally so a failed logical send
	// can be retried by the caller under the same id.
	Remove(ctx context.Context, id string)
	// Len reports the number of live records.
	Len(ctx context.Context) int
	// Clear discards all records.
	Clear(ctx context.Context)
	// Close stops any background activity owned by the store.
	Close() error
}

type idempotencyRecord struct {
	createdAt time.Time
	completed bool
	outcome   SendOutcome
}

// IdempotencyCache is the in-memory IdempotencyStore. Records expire after a
// fixed TTL; a background sweep evicts expired records on a fixed interval
// independent of the TTL, and expired records observed by foreground calls
// are evicted immediately.
type IdempotencyCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	records map[string]*idempotencyRecord

	stop     chan struct{}
	stopOnce sync.Once
}

// NewIdempotencyCache creates an in-memory cache and starts its sweep
// goroutine. Call Close to stop the sweeper.
func NewIdempotencyCache(ttl, sweepInterval time.Duration) *IdempotencyCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}

	c := &IdempotencyCache{
		ttl:     ttl,
		records: make(map[string]*idempotencyRecord),
		stop:    make(chan struct{}),
	}

	go c.sweepLoop(sweepInterval)
	return c
}

// IsDuplicate implements IdempotencyStore.
func (c *IdempotencyCache) IsDuplicate(_ context.Context, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return false
	}
	if c.expired(rec, time.Now()) {
		delete(c.records, id)
		return false
	}
	return true
}

// CachedOutcome implements IdempotencyStore.
func (c *IdempotencyCache) CachedOutcome(_ context.Context, id string) (SendOutcome, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return SendOutcome{}, false
	}
	if c.expired(rec, time.Now()) {
		delete(c.records, id)
		return SendOutcome{}, false
	}
	if !rec.completed {
		return SendOutcome{}, false
	}
	return rec.outcome, true
}

// MarkInProgress implements IdempotencyStore.
func (c *IdempotencyCache) MarkInProgress(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records[id] = &idempotencyRecord{createdAt: time.Now()}
}

// MarkCompleted implements IdempotencyStore.
func (c *IdempotencyCache) MarkCompleted(_ context.Context, id string, outcome SendOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok || c.expired(rec, time.Now()) {
		return
	}
	rec.completed = true
	rec.outcome = outcome
}

// Remove implements IdempotencyStore.
func (c *IdempotencyCache) Remove(_ context.Context, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, id)
}

// Len implements IdempotencyStore.
func (c *IdempotencyCache) Len(_ context.Context) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	n := 0
	for _, rec := range c.records {
		if !c.expired(rec, now) {
			n++
		}
	}
	return n
}

// Clear implements IdempotencyStore.
func (c *IdempotencyCache) Clear(_ context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*idempotencyRecord)
}

// Close stops the background sweep goroutine.
func (c *IdempotencyCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *IdempotencyCache) expired(rec *idempotencyRecord, now time.Time) bool {
	return now.Sub(rec.createdAt) >= c.ttl
}

func (c *IdempotencyCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stop:
			return
		}
	}
}

func (c *IdempotencyCache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for id, rec := range c.records {
		if c.expired(rec, now) {
			delete(c.records, id)
		}
	}
}
