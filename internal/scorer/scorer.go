// Package scorer turns candidate state, predictor output and product
// weights into a single utility per candidate and ranks candidates with
// deterministic tie-breaks.
package scorer

import (
	"math"
	"sort"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/config"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

// WeightsSource hands out the weights snapshot in effect for one scoring
// pass. *config.WeightsProvider satisfies it.
type WeightsSource interface {
	Current() config.Weights
}

// Input pairs a candidate with its prediction. A nil prediction selects the
// deterministic fallback: the candidate's rolling auth rate stands in for
// the predicted probability, and health penalties come from candidate
// state.
type Input struct {
	Candidate  model.Candidate
	Prediction *model.Prediction
}

// Ranked is one scored candidate in final selection order.
type Ranked struct {
	Candidate  model.Candidate
	Prediction *model.Prediction
	Score      float64
	PAuth      float64
	Health     model.HealthStatus
}

// Scorer scores and ranks candidates.
type Scorer struct {
	weights WeightsSource
}

// New creates a Scorer drawing weights from the given source.
func New(weights WeightsSource) *Scorer {
	return &Scorer{weights: weights}
}

// Rank scores every input and returns them best-first. Selection order:
// score, then candidate auth rate, then lower total fee on this amount,
// then PSP name. The ordering is fully deterministic for fixed inputs.
func (s *Scorer) Rank(txn model.Transaction, inputs []Input) []Ranked {
	w := s.weights.Current()
	ranked := make([]Ranked, 0, len(inputs))
	for _, in := range inputs {
		ranked = append(ranked, s.score(txn, in, w))
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Candidate.AuthRate != b.Candidate.AuthRate {
			return a.Candidate.AuthRate > b.Candidate.AuthRate
		}
		feeA := a.Candidate.TotalFee(txn.Amount)
		feeB := b.Candidate.TotalFee(txn.Amount)
		if feeA != feeB {
			return feeA < feeB
		}
		return a.Candidate.PSP < b.Candidate.PSP
	})
	return ranked
}

func (s *Scorer) score(txn model.Transaction, in Input, w config.Weights) Ranked {
	c := in.Candidate

	pAuth := c.AuthRate
	health := c.Health
	if in.Prediction != nil {
		pAuth = in.Prediction.AuthProbability
		health = in.Prediction.Health
	}

	score := w.Auth * pAuth
	score -= w.FeeBps * (c.FeeBps / 10000)
	score -= w.FixedFee * (c.FixedFee / math.Max(txn.Amount, 1))
	if txn.SCARequired && c.Supports3DS {
		score += w.ThreeDSBonus
	}
	score -= w.RiskPenalty * float64(txn.RiskScore)
	if health == model.HealthYellow {
		score -= w.YellowPenalty
	}
	score += w.BusinessBias * w.BiasFor(c.PSP)

	return Ranked{
		Candidate:  c,
		Prediction: in.Prediction,
		Score:      score,
		PAuth:      pAuth,
		Health:     health,
	}
}
