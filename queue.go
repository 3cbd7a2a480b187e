package mailstrom

import (
	"context"
	"sync"
	"time"
)

// QueueItemStatus tracks the lifecycle of one queued message.
type QueueItemStatus string

const (
	QueuePending  QueueItemStatus = "pending"
	QueueSending  QueueItemStatus = "sending"
	QueueRetrying QueueItemStatus = "retrying"
	QueueFailed   QueueItemStatus = "failed"
)

// maxQueueAttempts caps per-item processing attempts; items that fail this
// many times are dropped, not retried further.
const maxQueueAttempts = 3

// Processor is the callback the queue invokes per message; the orchestrator
// supplies its synchronous send path here.
type Processor func(ctx context.Context, msg Message) error

// QueueStats reports item counts by status plus overall size.
type QueueStats struct {
	Pending  int `json:"pending"`
	Sending  int `json:"sending"`
	Retrying int `json:"retrying"`
	Failed   int `json:"failed"`
	Size     int `json:"size"`
}

type queueItem struct {
	msg          Message
	priority     int
	seq          uint64
	attempts     int
	lastAttempt  time.Time
	nextEligible time.Time
	status       QueueItemStatus
}

// WorkQueue buffers messages for deferred processing. Items are dequeued by
// eligibility, then priority descending, then enqueue order. The processing
// loop starts on the first enqueue, exits when the queue empties, and
// restarts on the next enqueue. A failed item is re-enqueued with an
// exponential delay (2^attempts * retryBaseUnit) up to maxQueueAttempts.
type WorkQueue struct {
	mu    sync.Mutex
	cond  *sync.Cond
	items []*queueItem
	seq   uint64

	processor     Processor
	pollInterval  time.Duration
	retryBaseUnit time.Duration

	running bool
	closed  bool
	epoch   uint64

	logger  Logger
	metrics *MetricsCollector
}

// NewWorkQueue creates an idle queue. The processor must be registered before
// the first enqueue.
func NewWorkQueue(pollInterval, retryBaseUnit time.Duration) *WorkQueue {
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}
	if retryBaseUnit <= 0 {
		retryBaseUnit = time.Second
	}
	q := &WorkQueue{
		pollInterval:  pollInterval,
		retryBaseUnit: retryBaseUnit,
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// SetProcessor registers the per-message callback.
func (q *WorkQueue) SetProcessor(p Processor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = p
}

// Enqueue inserts a message (higher priority dequeues first) and starts the
// processing loop if it is not already running. Panics if no processor has
// been registered; that is a programming-contract violation, not a delivery
// failure.
func (q *WorkQueue) Enqueue(msg Message, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.processor == nil {
		panic(ErrNoProcessor)
	}
	if q.closed {
		return
	}

	q.seq++
	q.items = append(q.items, &queueItem{
		msg:      msg,
		priority: priority,
		seq:      q.seq,
		status:   QueuePending,
	})

	if q.metrics != nil {
		q.metrics.RecordQueueDepth(len(q.items))
	}

	if !q.running {
		q.running = true
		go q.loop()
	}
}

func (q *WorkQueue) loop() {
	for {
		q.mu.Lock()
		if q.closed || len(q.items) == 0 {
			q.running = false
			q.cond.Broadcast()
			q.mu.Unlock()
			return
		}

		item := q.nextEligible(time.Now())
		if item == nil {
			q.mu.Unlock()
			time.Sleep(q.pollInterval)
			continue
		}

		item.status = QueueSending
		item.attempts++
		item.lastAttempt = time.Now()
		epoch := q.epoch
		msg := item.msg
		attempts := item.attempts
		q.mu.Unlock()

		err := q.processor(context.Background(), msg)

		q.mu.Lock()
		if epoch != q.epoch {
			// Queue was cleared while this item was in flight; the result
			// is discarded along with the item.
			q.mu.Unlock()
			continue
		}
		switch {
		case err == nil:
			q.remove(item)
		case attempts >= maxQueueAttempts:
			item.status = QueueFailed
			if q.logger != nil {
				q.logger.Warn("dropping message after max attempts", "messageID", msg.ID, "attempts", attempts, "error", err.Error())
			}
			if q.metrics != nil {
				q.metrics.RecordQueueDrop()
			}
			q.remove(item)
		default:
			item.status = QueueRetrying
			item.nextEligible = time.Now().Add(time.Duration(1<<uint(attempts)) * q.retryBaseUnit)
		}
		if q.metrics != nil {
			q.metrics.RecordQueueDepth(len(q.items))
		}
		q.cond.Broadcast()
		q.mu.Unlock()
	}
}

// nextEligible picks the highest-priority eligible item, breaking ties by
// enqueue order. Caller holds the mutex.
func (q *WorkQueue) nextEligible(now time.Time) *queueItem {
	var best *queueItem
	for _, item := range q.items {
		switch item.status {
		case QueuePending:
		case QueueRetrying:
			if item.nextEligible.After(now) {
				continue
			}
		default:
			continue
		}
		if best == nil || item.priority > best.priority || (item.priority == best.priority && item.seq < best.seq) {
			best = item
		}
	}
	return best
}

// remove deletes the item from the queue. Caller holds the mutex.
func (q *WorkQueue) remove(target *queueItem) {
	for i, item := range q.items {
		if item == target {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return
		}
	}
}

// Clear discards all items immediately. In-flight processing already started
// is allowed to finish, but its result is discarded.
func (q *WorkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.epoch++
	if q.metrics != nil {
		q.metrics.RecordQueueDepth(0)
	}
	q.cond.Broadcast()
}

// Stats reports item counts by status and overall size.
func (q *WorkQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	stats := QueueStats{Size: len(q.items)}
	for _, item := range q.items {
		switch item.status {
		case QueuePending:
			stats.Pending++
		case QueueSending:
			stats.Sending++
		case QueueRetrying:
			stats.Retrying++
		case QueueFailed:
			stats.Failed++
		}
	}
	return stats
}

// WaitForDrain blocks until the queue is empty and its processing loop has
// stopped. Intended for deterministic shutdown and testing.
func (q *WorkQueue) WaitForDrain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 || q.running {
		q.cond.Wait()
	}
}

// Close discards all items and prevents further enqueues, then waits for the
// processing loop to stop.
func (q *WorkQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.epoch++
	q.cond.Broadcast()
	for q.running {
		q.cond.Wait()
	}
	q.mu.Unlock()
}
