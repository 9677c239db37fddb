package candidate

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/history"
)

func TestIngestor_AppliesFeedbackAsynchronously(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, history.NewMemoryStore())
	ing := NewIngestor(s, 16, zaptest.NewLogger(t), s.metrics)
	ing.Start()

	for i := 0; i < 10; i++ {
		assert.True(t, ing.Offer(feedbackFor("payflow", fmt.Sprintf("d-%d", i), true)))
	}
	ing.Close()

	c := s.GetAllCandidates()[0]
	assert.Equal(t, int64(10), c.Totals.Count)
}

func TestIngestor_MalformedFeedbackDroppedWithoutBlocking(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, history.NewMemoryStore())
	ing := NewIngestor(s, 16, zaptest.NewLogger(t), s.metrics)
	ing.Start()

	bad := feedbackFor("", "d-1", true) // missing psp
	assert.True(t, ing.Offer(bad))
	assert.True(t, ing.Offer(feedbackFor("payflow", "d-2", true)))
	ing.Close()

	require.Len(t, s.GetAllCandidates(), 1)
	assert.Equal(t, "payflow", s.GetAllCandidates()[0].PSP)
}

func TestIngestor_OverflowDropsOldest(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, history.NewMemoryStore())
	ing := NewIngestor(s, 2, zaptest.NewLogger(t), s.metrics)
	// Worker not started: the queue can only fill.

	assert.True(t, ing.Offer(feedbackFor("payflow", "d-1", true)))
	assert.True(t, ing.Offer(feedbackFor("payflow", "d-2", true)))
	assert.True(t, ing.Offer(feedbackFor("payflow", "d-3", true)), "accepted after evicting oldest")
	assert.GreaterOrEqual(t, testutil.ToFloat64(s.metrics.FeedbackDropped), 1.0)

	ing.Start()
	ing.Close()

	c := s.GetAllCandidates()[0]
	assert.Equal(t, int64(2), c.Totals.Count, "d-1 was dropped, d-2 and d-3 applied")
}

func TestIngestor_OfferAfterCloseIsRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, history.NewMemoryStore())
	ing := NewIngestor(s, 4, zaptest.NewLogger(t), s.metrics)
	ing.Start()
	ing.Close()

	assert.False(t, ing.Offer(feedbackFor("payflow", "d-1", true)))
}

func TestIngestor_CloseDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTestStore(t, history.NewMemoryStore())
	ing := NewIngestor(s, 128, zaptest.NewLogger(t), s.metrics)
	ing.Start()

	for i := 0; i < 100; i++ {
		ing.Offer(feedbackFor("payflow", fmt.Sprintf("d-%d", i), true))
	}
	done := make(chan struct{})
	go func() {
		ing.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Close did not drain the queue")
	}

	c := s.GetAllCandidates()[0]
	assert.Equal(t, int64(100), c.Totals.Count)
}
