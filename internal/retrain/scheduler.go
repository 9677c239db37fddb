// Package retrain drives the candidate store's retraining triggers and the
// predictor's model reload from a single background scheduler.
package retrain

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/predictor"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/telemetry"
)

// Trainable is the store-side retraining contract.
type Trainable interface {
	ShouldRetrain() bool
	Retrain(ctx context.Context) error
}

// Scheduler polls the retraining triggers and runs a retrain pass when one
// fires. A pass that fails is retried with exponential backoff before
// being counted as a failure. The retrainer never touches candidate state
// directly; the store owns it.
type Scheduler struct {
	store        Trainable
	reloader     predictor.Reloader
	pollInterval time.Duration
	maxTries     uint
	logger       *zap.Logger
	metrics      *telemetry.Metrics
}

// New creates a scheduler. The reloader may be nil when the predictor has
// no reloadable artifact.
func New(store Trainable, reloader predictor.Reloader, pollInterval time.Duration, maxTries uint, logger *zap.Logger, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		store:        store,
		reloader:     reloader,
		pollInterval: pollInterval,
		maxTries:     maxTries,
		logger:       logger,
		metrics:      metrics,
	}
}

// Run polls until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.store.ShouldRetrain() {
				s.runOnce(ctx)
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	operation := func() (struct{}, error) {
		if err := s.store.Retrain(ctx); err != nil {
			s.logger.Warn("retrain_attempt_failed", zap.Error(err))
			return struct{}{}, err
		}
		return struct{}{}, nil
	}
	_, err := backoff.Retry(ctx, operation, backoff.WithMaxTries(s.maxTries))
	if err != nil {
		s.metrics.RetrainFailures.Inc()
		s.logger.Error("retrain_failed", zap.Error(err))
		return
	}

	if s.reloader != nil {
		if err := s.reloader.Reload(ctx); err != nil {
			s.logger.Warn("model_reload_after_retrain_failed", zap.Error(err))
		}
	}
}
