package scorer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/config"
	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

type staticWeights struct {
	w config.Weights
}

func (s staticWeights) Current() config.Weights { return s.w }

func newTestScorer(w config.Weights) *Scorer {
	return New(staticWeights{w: w})
}

func healthyCandidate(psp string, authRate, feeBps float64) model.Candidate {
	return model.Candidate{
		PSP:       psp,
		Supported: true,
		Health:    model.HealthGreen,
		AuthRate:  authRate,
		FeeBps:    feeBps,
	}
}

func TestRank_HigherAuthDominatesSmallFeeDelta(t *testing.T) {
	s := newTestScorer(config.DefaultWeights())
	txn := model.Transaction{Amount: 150, RiskScore: 15}

	ranked := s.Rank(txn, []Input{
		{Candidate: healthyCandidate("a", 0.89, 200)},
		{Candidate: healthyCandidate("b", 0.87, 180)},
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, "a", ranked[0].Candidate.PSP)
	assert.Equal(t, "b", ranked[1].Candidate.PSP)
}

func TestRank_UsesPredictionWhenPresent(t *testing.T) {
	s := newTestScorer(config.DefaultWeights())
	txn := model.Transaction{Amount: 100}

	// Candidate b has the lower rolling rate but the model predicts better.
	ranked := s.Rank(txn, []Input{
		{Candidate: healthyCandidate("a", 0.90, 200)},
		{
			Candidate:  healthyCandidate("b", 0.70, 200),
			Prediction: &model.Prediction{AuthProbability: 0.95, Health: model.HealthGreen},
		},
	})

	assert.Equal(t, "b", ranked[0].Candidate.PSP)
	assert.InDelta(t, 0.95, ranked[0].PAuth, 1e-9)
}

func TestRank_FallbackUsesRollingAuthRate(t *testing.T) {
	s := newTestScorer(config.DefaultWeights())
	txn := model.Transaction{Amount: 100}

	ranked := s.Rank(txn, []Input{
		{Candidate: healthyCandidate("a", 0.85, 250)},
		{Candidate: healthyCandidate("b", 0.80, 150)},
	})

	assert.Equal(t, "a", ranked[0].Candidate.PSP)
	assert.InDelta(t, 0.85, ranked[0].PAuth, 1e-9)
}

func TestRank_ThreeDSBonusAppliesOnlyUnderSCA(t *testing.T) {
	w := config.DefaultWeights()
	s := newTestScorer(w)

	with3DS := healthyCandidate("a", 0.80, 200)
	with3DS.Supports3DS = true
	without3DS := healthyCandidate("b", 0.80, 200)

	sca := model.Transaction{Amount: 100, SCARequired: true}
	ranked := s.Rank(sca, []Input{{Candidate: without3DS}, {Candidate: with3DS}})
	assert.Equal(t, "a", ranked[0].Candidate.PSP)
	assert.InDelta(t, w.ThreeDSBonus, ranked[0].Score-ranked[1].Score, 1e-9)

	noSCA := model.Transaction{Amount: 100}
	ranked = s.Rank(noSCA, []Input{{Candidate: without3DS}, {Candidate: with3DS}})
	assert.InDelta(t, ranked[0].Score, ranked[1].Score, 1e-9)
}

func TestRank_YellowHealthPenalty(t *testing.T) {
	s := newTestScorer(config.DefaultWeights())
	txn := model.Transaction{Amount: 100}

	yellow := healthyCandidate("a", 0.82, 200)
	yellow.Health = model.HealthYellow
	green := healthyCandidate("b", 0.80, 200)

	ranked := s.Rank(txn, []Input{{Candidate: yellow}, {Candidate: green}})
	// The 0.05 penalty outweighs the 0.02 auth advantage.
	assert.Equal(t, "b", ranked[0].Candidate.PSP)
}

func TestRank_BusinessBias(t *testing.T) {
	w := config.DefaultWeights()
	w.BiasByPSP = map[string]float64{"b": 0.10}
	s := newTestScorer(w)
	txn := model.Transaction{Amount: 100}

	ranked := s.Rank(txn, []Input{
		{Candidate: healthyCandidate("a", 0.85, 200)},
		{Candidate: healthyCandidate("b", 0.80, 200)},
	})
	assert.Equal(t, "b", ranked[0].Candidate.PSP)
}

func TestRank_TieBreaks(t *testing.T) {
	// Zero weights make every score exactly zero, isolating the tie-break
	// chain.
	s := newTestScorer(config.Weights{})
	txn := model.Transaction{Amount: 100}

	t.Run("higher auth rate wins equal scores", func(t *testing.T) {
		a := healthyCandidate("a", 0.90, 200)
		b := healthyCandidate("b", 0.85, 150)
		ranked := s.Rank(txn, []Input{{Candidate: b}, {Candidate: a}})
		assert.Equal(t, "a", ranked[0].Candidate.PSP)
	})

	t.Run("lower total fee wins equal scores and rates", func(t *testing.T) {
		a := healthyCandidate("a", 0.85, 250)
		b := healthyCandidate("b", 0.85, 150)
		ranked := s.Rank(txn, []Input{{Candidate: a}, {Candidate: b}})
		assert.Equal(t, "b", ranked[0].Candidate.PSP)
	})

	t.Run("lexicographic name breaks full ties", func(t *testing.T) {
		a := healthyCandidate("zeta", 0.85, 200)
		b := healthyCandidate("alpha", 0.85, 200)
		ranked := s.Rank(txn, []Input{{Candidate: a}, {Candidate: b}})
		assert.Equal(t, "alpha", ranked[0].Candidate.PSP)
	})
}
