// Package router orchestrates a routing decision: guardrail filtering,
// per-candidate prediction, scoring and decision shaping, with a
// deterministic fallback when prediction is unavailable.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/config"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/predictor"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/scorer"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/telemetry"
)

// CandidateSource serves ordered candidate snapshots for a transaction's
// segment. *candidate.Store satisfies it.
type CandidateSource interface {
	GetCandidates(ctx context.Context, txn model.Transaction) ([]model.Candidate, error)
}

// Params bundles the router's dependencies and knobs.
type Params struct {
	Candidates     CandidateSource
	Predictor      predictor.Predictor
	Scorer         *scorer.Scorer
	Routing        config.RoutingConfig
	// RoutableHealth lists the health statuses the health guardrail admits.
	// Empty means green and yellow.
	RoutableHealth []string
	PredictTimeout time.Duration
	Logger         *zap.Logger
	Metrics        *telemetry.Metrics
}

// Router holds no mutable per-request state; concurrent Decide calls do
// not interact.
type Router struct {
	candidates     CandidateSource
	pred           predictor.Predictor
	scorer         *scorer.Scorer
	cfg            config.RoutingConfig
	routable       map[model.HealthStatus]bool
	predictTimeout time.Duration
	logger         *zap.Logger
	metrics        *telemetry.Metrics
	newID          func() string
}

// New creates a Router.
func New(p Params) *Router {
	routable := make(map[model.HealthStatus]bool, len(p.RoutableHealth))
	for _, h := range p.RoutableHealth {
		routable[model.HealthStatus(h)] = true
	}
	if len(routable) == 0 {
		routable[model.HealthGreen] = true
		routable[model.HealthYellow] = true
	}
	return &Router{
		candidates:     p.Candidates,
		pred:           p.Predictor,
		scorer:         p.Scorer,
		cfg:            p.Routing,
		routable:       routable,
		predictTimeout: p.PredictTimeout,
		logger:         p.Logger,
		metrics:        p.Metrics,
		newID:          func() string { return uuid.NewString() },
	}
}

// Decide produces a complete, explainable decision for the transaction or
// fails with one of the surfaced error kinds. Predictor failures never
// surface: they engage the deterministic fallback.
func (r *Router) Decide(ctx context.Context, txn model.Transaction) (model.Decision, error) {
	start := time.Now()
	decision, err := r.decide(ctx, txn)
	r.metrics.DecisionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		r.metrics.DecisionErrors.WithLabelValues(model.ErrorKind(err)).Inc()
		return model.Decision{}, err
	}
	r.metrics.DecisionsTotal.WithLabelValues(string(decision.Guardrail)).Inc()
	return decision, nil
}

func (r *Router) decide(ctx context.Context, txn model.Transaction) (model.Decision, error) {
	if err := txn.Validate(); err != nil {
		return model.Decision{}, err
	}
	if err := ctx.Err(); err != nil {
		return model.Decision{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.Deadline)
	defer cancel()

	candidates, err := r.candidates.GetCandidates(ctx, txn)
	if err != nil {
		return model.Decision{}, err
	}

	mustUse3DS := txn.SCARequired && r.cfg.IsCardMethod(txn.PaymentMethodID)
	survivors, guardrail, err := r.applyGuardrails(txn, candidates, mustUse3DS)
	if err != nil {
		return model.Decision{}, err
	}

	predictions, fallback := r.predictAll(ctx, txn, survivors)
	if err := ctx.Err(); err != nil {
		// Caller cancellation or the routing deadline: no partial decision.
		return model.Decision{}, err
	}
	if fallback {
		r.metrics.FallbacksTotal.Inc()
	}

	inputs := make([]scorer.Input, len(survivors))
	for i, c := range survivors {
		inputs[i] = scorer.Input{Candidate: c}
		if !fallback {
			inputs[i].Prediction = predictions[i]
		}
	}
	ranked := r.scorer.Rank(txn, inputs)

	decision := r.shapeDecision(txn, ranked, guardrail, mustUse3DS, fallback)
	r.logger.Info("decision_made",
		zap.String("decision_id", decision.DecisionID),
		zap.String("candidate", decision.Candidate),
		zap.Strings("alternates", decision.Alternates),
		zap.String("guardrail", string(decision.Guardrail)),
		zap.Bool("fallback", fallback),
		zap.Bool("must_use_3ds", mustUse3DS),
	)
	return decision, nil
}

// applyGuardrails filters in the fixed order capability, health,
// compliance. The returned tag names the first stage that dropped at least
// one candidate; if a stage empties the set the call fails with that stage
// recorded.
func (r *Router) applyGuardrails(txn model.Transaction, candidates []model.Candidate, mustUse3DS bool) ([]model.Candidate, model.GuardrailTag, error) {
	guardrail := model.GuardrailNone

	stages := []struct {
		tag  model.GuardrailTag
		keep func(model.Candidate) bool
	}{
		{model.GuardrailCapability, func(c model.Candidate) bool { return c.Supported }},
		{model.GuardrailHealth, func(c model.Candidate) bool { return r.routable[c.Health] }},
		{model.GuardrailCompliance, func(c model.Candidate) bool { return !mustUse3DS || c.Supports3DS }},
	}

	survivors := candidates
	for _, stage := range stages {
		kept := make([]model.Candidate, 0, len(survivors))
		for _, c := range survivors {
			if stage.keep(c) {
				kept = append(kept, c)
			}
		}
		if len(kept) < len(survivors) && guardrail == model.GuardrailNone {
			guardrail = stage.tag
		}
		survivors = kept
		if len(survivors) == 0 {
			r.logger.Warn("no_eligible_candidate",
				zap.String("guardrail", string(stage.tag)),
				zap.Int("initial_candidates", len(candidates)),
			)
			return nil, stage.tag, fmt.Errorf("%w: %s guardrail removed all candidates",
				model.ErrNoEligibleCandidate, stage.tag)
		}
	}
	return survivors, guardrail, nil
}

// predictAll runs one bounded prediction per survivor. Any failure, the
// predictor not being ready, or a prediction timeout switches the whole
// decision onto the deterministic fallback; per-candidate results are
// never mixed with fallback values.
func (r *Router) predictAll(ctx context.Context, txn model.Transaction, survivors []model.Candidate) ([]*model.Prediction, bool) {
	if !r.pred.IsReady() {
		r.metrics.PredictorErrors.WithLabelValues("not_ready").Inc()
		r.logger.Info("fallback_engaged", zap.String("reason", "predictor not ready"))
		return nil, true
	}

	predictions := make([]*model.Prediction, len(survivors))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.MaxConcurrentPredictions)
	for i, cand := range survivors {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, r.predictTimeout)
			defer cancel()
			p, err := r.pred.Predict(pctx, txn, cand)
			if err != nil {
				return fmt.Errorf("predict %s: %w", cand.PSP, err)
			}
			predictions[i] = &p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		reason := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		r.metrics.PredictorErrors.WithLabelValues(reason).Inc()
		r.logger.Info("fallback_engaged", zap.String("reason", reason), zap.Error(err))
		return nil, true
	}
	return predictions, false
}

func (r *Router) shapeDecision(txn model.Transaction, ranked []scorer.Ranked, guardrail model.GuardrailTag, mustUse3DS, fallback bool) model.Decision {
	winner := ranked[0]

	alternates := make([]string, 0, 2)
	for _, alt := range ranked[1:] {
		if len(alternates) == 2 {
			break
		}
		alternates = append(alternates, alt.Candidate.PSP)
	}

	return model.Decision{
		SchemaVersion: model.SchemaVersion,
		DecisionID:    r.newID(),
		Candidate:     winner.Candidate.PSP,
		Alternates:    alternates,
		Reasoning:     buildReasoning(winner, mustUse3DS, fallback),
		Guardrail:     guardrail,
		Constraints: model.Constraints{
			MustUse3DS:    mustUse3DS,
			RetryWindowMs: r.cfg.RetryWindowMs,
			MaxRetries:    r.cfg.MaxRetries,
		},
		FeaturesUsed: buildFeaturesUsed(txn, winner, mustUse3DS, fallback),
	}
}

func buildReasoning(winner scorer.Ranked, mustUse3DS, fallback bool) string {
	if fallback {
		return fmt.Sprintf(
			"chosen for highest rolling auth rate (%.2f) at %.0f bps; deterministic fallback: predictor unavailable",
			winner.PAuth, winner.Candidate.FeeBps)
	}
	if mustUse3DS {
		return fmt.Sprintf(
			"chosen for highest predicted auth given 3DS requirement (predicted auth %.2f)",
			winner.PAuth)
	}
	return fmt.Sprintf(
		"chosen for highest expected utility (predicted auth %.2f, fee %.0f bps)",
		winner.PAuth, winner.Candidate.FeeBps)
}

// Feature tags allowed in a decision's features_used list. The vocabulary
// is fixed for downstream parsers.
const (
	FeatureSCARequired   = "sca_required"
	FeatureRiskScore     = "risk_score"
	FeatureAuthRate      = "auth_rate"
	FeaturePredictedAuth = "predicted_auth"
	FeatureFeeBps        = "fee_bps"
	FeatureHealth        = "health"
	FeatureSupports3DS   = "supports_3ds"
	FeatureTokenized     = "tokenized"
	FeatureFallback      = "fallback"
)

func buildFeaturesUsed(txn model.Transaction, winner scorer.Ranked, mustUse3DS, fallback bool) []string {
	feats := []string{
		fmt.Sprintf("%s=%t", FeatureSCARequired, txn.SCARequired),
		fmt.Sprintf("%s=%d", FeatureRiskScore, txn.RiskScore),
		fmt.Sprintf("%s=%.2f", FeatureAuthRate, winner.Candidate.AuthRate),
		fmt.Sprintf("%s=%.0f", FeatureFeeBps, winner.Candidate.FeeBps),
		fmt.Sprintf("%s=%s", FeatureHealth, winner.Health),
	}
	if !fallback && winner.Prediction != nil {
		feats = append(feats, fmt.Sprintf("%s=%.2f", FeaturePredictedAuth, winner.Prediction.AuthProbability))
	}
	if mustUse3DS {
		feats = append(feats, fmt.Sprintf("%s=%t", FeatureSupports3DS, winner.Candidate.Supports3DS))
	}
	if txn.Tokenized {
		feats = append(feats, fmt.Sprintf("%s=true", FeatureTokenized))
	}
	if fallback {
		feats = append(feats, fmt.Sprintf("%s=true", FeatureFallback))
	}
	return feats
}
