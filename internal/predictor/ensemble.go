package predictor

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

// LinearHead is one model head: a clamped linear evaluation over the
// feature vector.
type LinearHead struct {
	Bias    float64   `yaml:"bias"`
	Weights []float64 `yaml:"weights"`
}

// Eval computes bias + w·x.
func (h LinearHead) Eval(x [FeatureCount]float64) float64 {
	out := h.Bias
	for i, w := range h.Weights {
		if i >= FeatureCount {
			break
		}
		out += w * x[i]
	}
	return out
}

// HealthHead classifies predicted health from the predicted authorization
// probability.
type HealthHead struct {
	GreenCutoff  float64 `yaml:"green_cutoff"`
	YellowCutoff float64 `yaml:"yellow_cutoff"`
}

// ModelArtifact is the on-disk shape of an ensemble model, produced by the
// external training pipeline.
type ModelArtifact struct {
	Version    string     `yaml:"version"`
	AuthHead   LinearHead `yaml:"auth_head"`
	TimeHead   LinearHead `yaml:"time_head"`
	HealthHead HealthHead `yaml:"health_head"`
}

func (a *ModelArtifact) validate() error {
	if a.Version == "" {
		return fmt.Errorf("model artifact missing version")
	}
	if len(a.AuthHead.Weights) == 0 || len(a.TimeHead.Weights) == 0 {
		return fmt.Errorf("model artifact %q has an empty head", a.Version)
	}
	if a.HealthHead.GreenCutoff < a.HealthHead.YellowCutoff {
		return fmt.Errorf("model artifact %q has inverted health cutoffs", a.Version)
	}
	return nil
}

// DefaultArtifact returns the baseline model shipped with the router: the
// auth head passes through the candidate's recent success rate and the
// time head its recent processing time, so predictions match observed
// behavior until a trained artifact is loaded.
func DefaultArtifact() *ModelArtifact {
	authWeights := make([]float64, FeatureCount)
	authWeights[11] = 1 // RecentSuccessRate
	timeWeights := make([]float64, FeatureCount)
	timeWeights[12] = 1 // RecentProcessingMs
	return &ModelArtifact{
		Version:    "baseline-1",
		AuthHead:   LinearHead{Weights: authWeights},
		TimeHead:   LinearHead{Weights: timeWeights},
		HealthHead: HealthHead{GreenCutoff: 0.80, YellowCutoff: 0.60},
	}
}

// LocalEnsemble evaluates three local model heads (authorization
// probability, processing time, health) from one feature vector. All three
// are evaluated per call; a failure of any fails the whole prediction.
type LocalEnsemble struct {
	path     string
	logger   *zap.Logger
	now      func() time.Time
	state    stateVar
	artifact atomic.Pointer[ModelArtifact]
}

// NewLocalEnsemble creates an unloaded ensemble. With an empty path, Load
// installs the baseline artifact.
func NewLocalEnsemble(path string, logger *zap.Logger) *LocalEnsemble {
	return &LocalEnsemble{path: path, logger: logger, now: time.Now}
}

// State returns the readiness state.
func (e *LocalEnsemble) State() State { return e.state.Get() }

// ModelVersion returns the loaded artifact version, or empty when none is
// loaded.
func (e *LocalEnsemble) ModelVersion() string {
	if a := e.artifact.Load(); a != nil {
		return a.Version
	}
	return ""
}

// IsReady reports whether Predict will answer.
func (e *LocalEnsemble) IsReady() bool { return e.state.Get().CanServe() }

// Load performs the initial artifact load: NotLoaded -> Loading -> Ready,
// or Failed when the artifact cannot be read.
func (e *LocalEnsemble) Load(ctx context.Context) error {
	if !e.state.CompareAndSwap(StateNotLoaded, StateLoading) &&
		!e.state.CompareAndSwap(StateFailed, StateLoading) {
		return fmt.Errorf("load from state %s", e.state.Get())
	}
	artifact, err := e.readArtifact(ctx)
	if err != nil {
		e.state.Set(StateFailed)
		return err
	}
	e.artifact.Store(artifact)
	e.state.Set(StateReady)
	e.logger.Info("model_loaded", zap.String("version", artifact.Version))
	return nil
}

// Reload swaps in a fresh artifact: Ready -> Reloading -> Ready. The
// previous snapshot keeps serving during the reload; if the new artifact
// is unreadable the previous one stays in place.
func (e *LocalEnsemble) Reload(ctx context.Context) error {
	if !e.state.CompareAndSwap(StateReady, StateReloading) {
		return fmt.Errorf("reload from state %s", e.state.Get())
	}
	artifact, err := e.readArtifact(ctx)
	if err != nil {
		e.state.Set(StateReady)
		e.logger.Warn("model_reload_failed", zap.Error(err))
		return err
	}
	e.artifact.Store(artifact)
	e.state.Set(StateReady)
	e.logger.Info("model_reloaded", zap.String("version", artifact.Version))
	return nil
}

func (e *LocalEnsemble) readArtifact(ctx context.Context) (*ModelArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if e.path == "" {
		return DefaultArtifact(), nil
	}
	data, err := os.ReadFile(e.path)
	if err != nil {
		return nil, fmt.Errorf("read model artifact: %w", err)
	}
	var artifact ModelArtifact
	if err := yaml.Unmarshal(data, &artifact); err != nil {
		return nil, fmt.Errorf("parse model artifact: %w", err)
	}
	if err := artifact.validate(); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// Predict evaluates the three heads over the assembled feature vector.
func (e *LocalEnsemble) Predict(ctx context.Context, txn model.Transaction, cand model.Candidate) (model.Prediction, error) {
	if !e.state.Get().CanServe() {
		return model.Prediction{}, fmt.Errorf("%w: model %s", model.ErrPredictorUnavailable, e.state.Get())
	}
	if err := ctx.Err(); err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %v", model.ErrPredictorUnavailable, err)
	}
	artifact := e.artifact.Load()
	now := e.now()
	x := BuildFeatures(txn, cand, now).Vector()

	prob := clamp01(artifact.AuthHead.Eval(x))
	processingMs := artifact.TimeHead.Eval(x)
	if processingMs < 0 {
		processingMs = 0
	}
	health := model.HealthFor(prob, artifact.HealthHead.GreenCutoff, artifact.HealthHead.YellowCutoff)

	if err := ctx.Err(); err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %v", model.ErrPredictorUnavailable, err)
	}
	return model.Prediction{
		AuthProbability: prob,
		ProcessingMs:    processingMs,
		Health:          health,
		ModelVersion:    artifact.Version,
		GeneratedAt:     now,
	}, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
