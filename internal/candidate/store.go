// Package candidate maintains the authoritative in-memory PSP candidate
// set: rolling performance statistics refreshed from the historical outcome
// store and continuously updated by feedback.
package candidate

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/config"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/history"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/telemetry"
)

// Observer is notified of each outcome applied to candidate state, after
// dedup. The bandit predictor implements it to keep its posteriors in step
// with the live feedback stream.
type Observer interface {
	Observe(psp string, authorized bool)
}

// entry holds the live state for one PSP. The mutex serializes writers for
// this PSP only; readers load the snapshot pointer without locking, so a
// reader always sees a complete candidate that existed at some instant.
type entry struct {
	mu   sync.Mutex
	snap atomic.Pointer[model.Candidate]
	ring *dedupRing
}

// Store owns the candidate set. All candidates handed out are copies.
type Store struct {
	cfg     config.CandidateConfig
	retrain config.RetrainConfig

	outcomes history.Store
	logger   *zap.Logger
	metrics  *telemetry.Metrics
	now      func() time.Time

	successCodes map[int]bool
	observer     Observer

	mu      sync.RWMutex
	entries map[string]*entry

	segCache *expirable.LRU[string, *segmentView]
	group    singleflight.Group

	retrainMu            sync.Mutex
	retrained            bool
	lastRetrain          time.Time
	feedbackSinceRetrain atomic.Int64
}

// New creates a store backed by the given historical outcome source.
func New(cfg config.CandidateConfig, retrain config.RetrainConfig, outcomes history.Store, logger *zap.Logger, metrics *telemetry.Metrics) *Store {
	successCodes := make(map[int]bool, len(cfg.SuccessStatusCodes))
	for _, code := range cfg.SuccessStatusCodes {
		successCodes[code] = true
	}
	return &Store{
		cfg:          cfg,
		retrain:      retrain,
		outcomes:     outcomes,
		logger:       logger,
		metrics:      metrics,
		now:          time.Now,
		successCodes: successCodes,
		entries:      make(map[string]*entry),
		segCache:     expirable.NewLRU[string, *segmentView](cfg.SegmentCacheSize, nil, cfg.SegmentTTL),
	}
}

// SetObserver registers the outcome observer. Call before feedback starts
// flowing; the observer is invoked under the per-PSP write lock.
func (s *Store) SetObserver(o Observer) { s.observer = o }

// Seed registers a candidate roster, typically at startup. Seeded fields
// (supported, fee structure, capabilities) survive retraining.
func (s *Store) Seed(candidates []model.Candidate) {
	for _, c := range candidates {
		e := s.entry(c.PSP)
		e.mu.Lock()
		c.LastUpdated = s.now()
		if c.Health == "" {
			c.Health = model.HealthFor(c.RecentAuthRate, s.cfg.GreenCutoff, s.cfg.YellowCutoff)
		}
		snapshot := c
		e.snap.Store(&snapshot)
		e.mu.Unlock()
	}
}

// entry returns the live entry for a PSP, creating it on first use.
func (s *Store) entry(psp string) *entry {
	s.mu.RLock()
	e, ok := s.entries[psp]
	s.mu.RUnlock()
	if ok {
		return e
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[psp]; ok {
		return e
	}
	e = &entry{ring: newDedupRing(s.cfg.DedupRingCapacity)}
	c := model.Candidate{
		PSP:       psp,
		Supported: true,
		Health:    model.HealthRed,
	}
	e.snap.Store(&c)
	s.entries[psp] = e
	return e
}

// ApplyFeedback folds one observed outcome into candidate state. It is
// idempotent on decision id: re-delivery within the dedup ring is a no-op.
// Feedback for an unknown PSP registers a new candidate.
func (s *Store) ApplyFeedback(fb model.Feedback) error {
	if err := fb.Validate(); err != nil {
		return err
	}
	e := s.entry(fb.PSP)

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ring.Seen(fb.DecisionID) {
		s.metrics.FeedbackDuplicate.Inc()
		s.logger.Debug("feedback_duplicate",
			zap.String("decision_id", fb.DecisionID),
			zap.String("psp", fb.PSP),
		)
		return nil
	}

	c := *e.snap.Load()
	c.Totals.Count++
	if fb.Authorized {
		c.Totals.Successes++
	}
	c.AuthRate = float64(c.Totals.Successes) / float64(c.Totals.Count)
	c.RecentAuthRate = c.AuthRate
	c.Health = model.HealthFor(c.RecentAuthRate, s.cfg.GreenCutoff, s.cfg.YellowCutoff)
	if fb.ProcessingMs > 0 {
		if c.AvgProcessingMs == 0 {
			c.AvgProcessingMs = float64(fb.ProcessingMs)
		} else {
			alpha := s.cfg.ProcessingTimeAlpha
			c.AvgProcessingMs = alpha*float64(fb.ProcessingMs) + (1-alpha)*c.AvgProcessingMs
		}
	}
	c.LastUpdated = s.now()

	e.ring.Add(fb.DecisionID)
	e.snap.Store(&c)

	if s.observer != nil {
		s.observer.Observe(fb.PSP, fb.Authorized)
	}
	s.archiveFeedback(fb, c)

	s.feedbackSinceRetrain.Add(1)
	s.metrics.FeedbackApplied.Inc()
	return nil
}

// archiveFeedback forwards an applied outcome to the history archive so
// retraining sees it. Feedback without segment identifiers only updates
// live state. An archive failure never fails the feedback itself.
func (s *Store) archiveFeedback(fb model.Feedback, c model.Candidate) {
	if fb.CurrencyID <= 0 || fb.PaymentMethodID <= 0 {
		return
	}
	row := history.OutcomeRow{
		PSP:             fb.PSP,
		Status:          archiveStatus(fb.Authorized),
		CurrencyID:      fb.CurrencyID,
		PaymentMethodID: fb.PaymentMethodID,
		FeeBps:          c.FeeBps,
		FixedFee:        c.FixedFee,
		ThreeDS:         c.Supports3DS,
		Tokenized:       c.SupportsTokenization,
		CreatedAt:       fb.ProcessedAt,
	}
	if fb.Amount > 0 && fb.FeeAmount > 0 {
		row.FeeBps = fb.FeeAmount / fb.Amount * 10000
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SegmentRefreshTimeout)
	defer cancel()
	if err := s.outcomes.Append(ctx, row); err != nil {
		s.logger.Warn("outcome_archive_failed",
			zap.String("decision_id", fb.DecisionID),
			zap.String("psp", fb.PSP),
			zap.Error(err),
		)
	}
}

// archiveStatus maps an authorization outcome onto the archive's status
// encoding: 5 is the canonical approved code, 2 the canonical decline.
func archiveStatus(authorized bool) int {
	if authorized {
		return 5
	}
	return 2
}

// GetAllCandidates returns a snapshot of every tracked candidate, ordered
// by PSP name. Intended for observability.
func (s *Store) GetAllCandidates() []model.Candidate {
	s.mu.RLock()
	out := make([]model.Candidate, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, *e.snap.Load())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].PSP < out[j].PSP })
	return out
}

// GetCandidates returns the routable candidates for the transaction's
// segment, ordered by segment auth rate descending (ties broken by lower
// mean fee). Candidates below the minimum segment volume or not marked
// supported are dropped.
func (s *Store) GetCandidates(ctx context.Context, txn model.Transaction) ([]model.Candidate, error) {
	seg := history.Segment{CurrencyID: txn.CurrencyID, PaymentMethodID: txn.PaymentMethodID}
	view, err := s.segmentView(ctx, seg)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("%w: segment %s: %v", model.ErrCandidateUnavailable, seg, err)
	}

	out := make([]model.Candidate, 0, len(view.stats))
	for _, st := range view.stats {
		if st.count < s.cfg.MinVolume {
			continue
		}
		c := s.projectSegment(st)
		if !c.Supported {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AuthRate != out[j].AuthRate {
			return out[i].AuthRate > out[j].AuthRate
		}
		return out[i].FeeBps < out[j].FeeBps
	})
	return out, nil
}

// projectSegment joins one segment aggregate with the candidate's live
// state (supported flag, smoothed processing time).
func (s *Store) projectSegment(st segmentStats) model.Candidate {
	live := *s.entry(st.psp).snap.Load()

	c := model.Candidate{
		PSP:                  st.psp,
		Supported:            live.Supported,
		AuthRate:             st.authRate(),
		RecentAuthRate:       st.recentAuthRate(),
		FeeBps:               st.meanFeeBps(),
		FixedFee:             st.meanFixedFee(),
		Supports3DS:          st.threeDS,
		SupportsTokenization: st.tokenized,
		AvgProcessingMs:      live.AvgProcessingMs,
		Totals:               model.Totals{Count: st.count, Successes: st.successes},
		LastUpdated:          live.LastUpdated,
	}
	c.Health = model.HealthFor(c.RecentAuthRate, s.cfg.GreenCutoff, s.cfg.YellowCutoff)
	return c
}

// segmentView serves the cached view for a segment, coalescing concurrent
// recomputes of the same cold segment into one pass over the history.
func (s *Store) segmentView(ctx context.Context, seg history.Segment) (*segmentView, error) {
	key := seg.String()
	if view, ok := s.segCache.Get(key); ok {
		s.metrics.SegmentCacheHits.Inc()
		return view, nil
	}
	s.metrics.SegmentCacheMiss.Inc()

	result := s.group.DoChan(key, func() (any, error) {
		// The refresh runs on its own deadline so one caller's
		// cancellation does not fail the coalesced waiters.
		refreshCtx, cancel := context.WithTimeout(context.Background(), s.cfg.SegmentRefreshTimeout)
		defer cancel()
		view, err := s.buildSegmentView(refreshCtx, seg)
		if err != nil {
			return nil, err
		}
		s.segCache.Add(key, view)
		return view, nil
	})
	select {
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*segmentView), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *Store) buildSegmentView(ctx context.Context, seg history.Segment) (*segmentView, error) {
	now := s.now()
	since := now.AddDate(0, 0, -s.cfg.WindowDays)
	rows, err := s.outcomes.QuerySegment(ctx, seg, since)
	if err != nil {
		return nil, err
	}
	recentSince := now.AddDate(0, 0, -s.cfg.RecentWindowDays)
	view := &segmentView{computedAt: now, stats: make(map[string]segmentStats)}
	for _, row := range rows {
		st := view.stats[row.PSP]
		st.psp = row.PSP
		st.count++
		if s.successCodes[row.Status] {
			st.successes++
		}
		if !row.CreatedAt.Before(recentSince) {
			st.recentCount++
			if s.successCodes[row.Status] {
				st.recentSuccesses++
			}
		}
		st.feeBpsSum += row.FeeBps
		st.fixedFeeSum += row.FixedFee
		// Capability is projected from presence in the segment, never
		// from absence.
		st.threeDS = st.threeDS || row.ThreeDS
		st.tokenized = st.tokenized || row.Tokenized
		view.stats[row.PSP] = st
	}
	s.logger.Debug("segment_view_built",
		zap.String("segment", seg.String()),
		zap.Int("rows", len(rows)),
		zap.Int("candidates", len(view.stats)),
	)
	return view, nil
}

// segmentView is one cached (currency, payment method) aggregation.
type segmentView struct {
	computedAt time.Time
	stats      map[string]segmentStats
}

type segmentStats struct {
	psp             string
	count           int64
	successes       int64
	recentCount     int64
	recentSuccesses int64
	feeBpsSum       float64
	fixedFeeSum     float64
	threeDS         bool
	tokenized       bool
}

func (st segmentStats) authRate() float64 {
	if st.count == 0 {
		return 0
	}
	return float64(st.successes) / float64(st.count)
}

func (st segmentStats) recentAuthRate() float64 {
	if st.recentCount == 0 {
		return st.authRate()
	}
	return float64(st.recentSuccesses) / float64(st.recentCount)
}

func (st segmentStats) meanFeeBps() float64 {
	if st.count == 0 {
		return 0
	}
	return st.feeBpsSum / float64(st.count)
}

func (st segmentStats) meanFixedFee() float64 {
	if st.count == 0 {
		return 0
	}
	return st.fixedFeeSum / float64(st.count)
}

// ShouldRetrain reports whether any retraining trigger has fired: never
// retrained, the retrain interval elapsed, or enough feedback accumulated.
func (s *Store) ShouldRetrain() bool {
	s.retrainMu.Lock()
	defer s.retrainMu.Unlock()
	if !s.retrained {
		return true
	}
	if s.now().Sub(s.lastRetrain) > s.retrain.Interval {
		return true
	}
	return s.feedbackSinceRetrain.Load() >= s.retrain.FeedbackThreshold
}

// Retrain rebuilds candidate statistics from the historical outcome store
// over the full rolling window and resets the retraining triggers. Dedup
// rings, supported flags and smoothed processing times survive.
func (s *Store) Retrain(ctx context.Context) error {
	now := s.now()
	since := now.AddDate(0, 0, -s.cfg.WindowDays)
	rows, err := s.outcomes.QueryAll(ctx, since)
	if err != nil {
		s.metrics.RetrainFailures.Inc()
		return fmt.Errorf("retrain query: %w", err)
	}

	recentSince := now.AddDate(0, 0, -s.cfg.RecentWindowDays)
	agg := make(map[string]segmentStats)
	for _, row := range rows {
		st := agg[row.PSP]
		st.psp = row.PSP
		st.count++
		if s.successCodes[row.Status] {
			st.successes++
		}
		if !row.CreatedAt.Before(recentSince) {
			st.recentCount++
			if s.successCodes[row.Status] {
				st.recentSuccesses++
			}
		}
		st.feeBpsSum += row.FeeBps
		st.fixedFeeSum += row.FixedFee
		st.threeDS = st.threeDS || row.ThreeDS
		st.tokenized = st.tokenized || row.Tokenized
		agg[row.PSP] = st
	}

	for psp, st := range agg {
		e := s.entry(psp)
		e.mu.Lock()
		c := *e.snap.Load()
		c.AuthRate = st.authRate()
		c.RecentAuthRate = st.recentAuthRate()
		c.FeeBps = st.meanFeeBps()
		c.FixedFee = st.meanFixedFee()
		c.Supports3DS = c.Supports3DS || st.threeDS
		c.SupportsTokenization = c.SupportsTokenization || st.tokenized
		c.Totals = model.Totals{Count: st.count, Successes: st.successes}
		c.Health = model.HealthFor(c.RecentAuthRate, s.cfg.GreenCutoff, s.cfg.YellowCutoff)
		c.LastUpdated = now
		e.snap.Store(&c)
		e.mu.Unlock()
	}

	s.segCache.Purge()

	s.retrainMu.Lock()
	s.retrained = true
	s.lastRetrain = now
	s.retrainMu.Unlock()
	s.feedbackSinceRetrain.Store(0)

	s.metrics.RetrainsTotal.Inc()
	s.logger.Info("retrain_complete",
		zap.Int("rows", len(rows)),
		zap.Int("candidates", len(agg)),
	)
	return nil
}
