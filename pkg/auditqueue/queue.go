// Package auditqueue buffers audit entries in memory and drains them into
// the audit store in the background, so a slow database never adds latency
// to the request path. The drop-on-full and non-blocking publish pattern
// mirrors pkg/stream.Hub.Publish.
package auditqueue

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sentrygate/gateway/pkg/audit"
)

// inserter is the subset of audit.Store the queue needs.
type inserter interface {
	Insert(ctx context.Context, e audit.Entry) (int64, error)
}

// Queue is a bounded, best-effort audit sink. In async mode a background
// drainer pulls batches off the channel; in sync mode Enqueue inserts
// directly and no drainer runs at all.
type Queue struct {
	store         inserter
	ch            chan audit.Entry
	async         bool
	batchSize     int
	drainInterval time.Duration
	dropped       atomic.Int64
	size          atomic.Int64
	done          chan struct{}
}

// Option configures Queue construction.
type Option func(*Queue)

func WithBatchSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.batchSize = n
		}
	}
}

func WithDrainInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.drainInterval = d
		}
	}
}

// New builds a Queue with the given capacity. When async is false, Enqueue
// blocks the caller only as long as the insert itself takes, and Start is a
// no-op: there is nothing to drain.
func New(store inserter, capacity int, async bool, opts ...Option) *Queue {
	if capacity <= 0 {
		capacity = 1000
	}
	q := &Queue{
		store:         store,
		ch:            make(chan audit.Entry, capacity),
		async:         async,
		batchSize:     10,
		drainInterval: time.Second,
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue accepts one entry. In async mode it never blocks: a full queue
// drops the entry and increments the dropped counter. In sync mode it
// inserts immediately and returns the store error, if any.
func (q *Queue) Enqueue(ctx context.Context, e audit.Entry) error {
	if !q.async {
		_, err := q.store.Insert(ctx, e)
		return err
	}
	select {
	case q.ch <- e:
		q.size.Add(1)
	default:
		q.dropped.Add(1)
		log.Printf("auditqueue: dropped entry for request %s, queue full", e.RequestID)
	}
	return nil
}

// Dropped returns the number of entries dropped since construction.
func (q *Queue) Dropped() int64 { return q.dropped.Load() }

// Size returns the current best-effort in-flight count, for the
// firewall_audit_queue_size gauge.
func (q *Queue) Size() int64 { return q.size.Load() }

// Start launches the background drainer. Only meaningful in async mode;
// called at most once.
func (q *Queue) Start(ctx context.Context) {
	if !q.async {
		return
	}
	go q.drainLoop(ctx)
}

func (q *Queue) drainLoop(ctx context.Context) {
	ticker := time.NewTicker(q.drainInterval)
	defer ticker.Stop()
	defer close(q.done)
	for {
		select {
		case <-ctx.Done():
			q.drainBatch(context.Background())
			return
		case <-ticker.C:
			q.drainBatch(ctx)
		}
	}
}

func (q *Queue) drainBatch(ctx context.Context) {
	var batch []audit.Entry
collect:
	for i := 0; i < q.batchSize; i++ {
		select {
		case e := <-q.ch:
			q.size.Add(-1)
			batch = append(batch, e)
		default:
			break collect
		}
	}
	if len(batch) == 0 {
		return
	}
	var wg sync.WaitGroup
	for _, e := range batch {
		wg.Add(1)
		go func(e audit.Entry) {
			defer wg.Done()
			// one failed insert must not poison the rest of the batch
			if _, err := q.store.Insert(ctx, e); err != nil {
				log.Printf("auditqueue: insert failed for request %s: %v", e.RequestID, err)
			}
		}(e)
	}
	wg.Wait()
}

// Flush synchronously drains every pending entry, used during shutdown.
// It takes entries off the channel one at a time, alongside the background
// drainer, and returns as soon as the channel is empty; it does not sleep
// between steps and does not wait for a batch the drainer has already taken.
func (q *Queue) Flush(ctx context.Context) {
	if !q.async {
		return
	}
	for {
		select {
		case e := <-q.ch:
			q.size.Add(-1)
			if _, err := q.store.Insert(ctx, e); err != nil {
				log.Printf("auditqueue: flush insert failed for request %s: %v", e.RequestID, err)
			}
		default:
			return
		}
	}
}
