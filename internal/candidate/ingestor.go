package candidate

import (
	"sync"

	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/telemetry"
)

// Ingestor feeds outcome feedback into the store through a bounded queue.
// Application is serialized by the single worker, which preserves the
// per-PSP write ordering. On overflow the oldest queued feedback is dropped
// and counted; offering never blocks the caller.
type Ingestor struct {
	store   *Store
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu     sync.RWMutex
	closed bool
	ch     chan model.Feedback
	done   chan struct{}
}

// NewIngestor creates an ingestor with the given queue depth.
func NewIngestor(store *Store, depth int, logger *zap.Logger, metrics *telemetry.Metrics) *Ingestor {
	if depth < 1 {
		depth = 1
	}
	return &Ingestor{
		store:   store,
		logger:  logger,
		metrics: metrics,
		ch:      make(chan model.Feedback, depth),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine.
func (i *Ingestor) Start() {
	go i.run()
}

func (i *Ingestor) run() {
	defer close(i.done)
	for fb := range i.ch {
		if err := i.store.ApplyFeedback(fb); err != nil {
			// Malformed feedback is logged and dropped, never blocking.
			i.logger.Warn("feedback_rejected",
				zap.String("decision_id", fb.DecisionID),
				zap.String("psp", fb.PSP),
				zap.Error(err),
			)
		}
	}
}

// Offer enqueues feedback without blocking. When the queue is full the
// oldest entry is evicted to make room; Offer reports whether the given
// feedback was accepted.
func (i *Ingestor) Offer(fb model.Feedback) bool {
	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.closed {
		return false
	}
	select {
	case i.ch <- fb:
		return true
	default:
	}
	// Full: evict the oldest queued entry, then try once more. The worker
	// may have raced us to it, which is fine either way.
	select {
	case old := <-i.ch:
		i.metrics.FeedbackDropped.Inc()
		i.logger.Warn("feedback_queue_overflow",
			zap.String("dropped_decision_id", old.DecisionID),
		)
	default:
	}
	select {
	case i.ch <- fb:
		return true
	default:
		i.metrics.FeedbackDropped.Inc()
		return false
	}
}

// Close stops accepting feedback and waits for the worker to drain the
// queue.
func (i *Ingestor) Close() {
	i.mu.Lock()
	if i.closed {
		i.mu.Unlock()
		<-i.done
		return
	}
	i.closed = true
	close(i.ch)
	i.mu.Unlock()
	<-i.done
}
