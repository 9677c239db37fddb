// Package predictor provides the predictive layer of the router: per
// (transaction, candidate) predictions of authorization probability,
// processing time and health. Prediction is fallible by contract; callers
// must treat ErrPredictorUnavailable as a signal to fall back.
package predictor

import (
	"context"
	"sync/atomic"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

// Predictor is implemented by the local ensemble, the bandit variant and
// the null predictor.
type Predictor interface {
	// Predict returns a prediction for routing the transaction through the
	// candidate, or ErrPredictorUnavailable. No external I/O happens inside
	// a single call.
	Predict(ctx context.Context, txn model.Transaction, cand model.Candidate) (model.Prediction, error)

	// IsReady is a non-blocking liveness probe.
	IsReady() bool
}

// Reloader is implemented by predictors whose model artifact can be
// reloaded in place, typically after retraining.
type Reloader interface {
	Reload(ctx context.Context) error
}

// State is the readiness state of a predictor's model.
type State int32

const (
	StateNotLoaded State = iota
	StateLoading
	StateReady
	StateReloading
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNotLoaded:
		return "not_loaded"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateReloading:
		return "reloading"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CanServe reports whether a predictor in this state answers Predict.
// Reloading serves the previous model snapshot.
func (s State) CanServe() bool {
	return s == StateReady || s == StateReloading
}

// stateVar is an atomically updated State.
type stateVar struct {
	v atomic.Int32
}

func (s *stateVar) Get() State { return State(s.v.Load()) }

func (s *stateVar) Set(next State) { s.v.Store(int32(next)) }

func (s *stateVar) CompareAndSwap(old, next State) bool {
	return s.v.CompareAndSwap(int32(old), int32(next))
}
