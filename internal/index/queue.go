package index

import (
	"context"
	"fmt"

	"github.com/supportal/kbsearch/internal/domain"
	"github.com/supportal/kbsearch/internal/metrics"
)

// pendingOp is one incremental update captured while a rebuild/cutover is
// in flight. Either doc is set (upsert) or deleteID (delete).
type pendingOp struct {
	doc      *domain.Document
	deleteID string
}

// pendingQueue buffers incremental updates for replay into the new
// generation after cutover. Bounded: when full, producers block until
// space frees or their context expires. Backpressure is preferred over
// dropping updates, since a dropped update is a silent divergence from
// the content layer.
type pendingQueue struct {
	ch chan pendingOp
}

func newPendingQueue(capacity int) *pendingQueue {
	if capacity <= 0 {
		capacity = 4096
	}
	return &pendingQueue{ch: make(chan pendingOp, capacity)}
}

func (q *pendingQueue) add(ctx context.Context, op pendingOp) error {
	select {
	case q.ch <- op:
		metrics.PendingUpdatesDepth.Set(float64(len(q.ch)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("queue update: %w", ctx.Err())
	}
}

// drain applies every queued op and stops at the first apply error, leaving
// the remainder queued for a later replay attempt.
func (q *pendingQueue) drain(apply func(pendingOp) error) error {
	for {
		select {
		case op := <-q.ch:
			if err := apply(op); err != nil {
				return err
			}
			metrics.PendingUpdatesDepth.Set(float64(len(q.ch)))
		default:
			metrics.PendingUpdatesDepth.Set(float64(len(q.ch)))
			return nil
		}
	}
}

// discard empties the queue without applying the ops.
func (q *pendingQueue) discard() {
	for {
		select {
		case <-q.ch:
		default:
			metrics.PendingUpdatesDepth.Set(float64(len(q.ch)))
			return
		}
	}
}

func (q *pendingQueue) depth() int {
	return len(q.ch)
}
