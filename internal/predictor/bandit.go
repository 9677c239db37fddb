package predictor

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

// BanditVersion is the model version reported by the bandit predictor.
const BanditVersion = "bandit/epsilon-greedy-1"

// Bandit is an epsilon-greedy predictor over per-PSP Beta posteriors. The
// authorization probability is the posterior mean; with probability epsilon
// an optimistic exploration estimate is returned instead, nudging the
// scorer toward under-observed arms. Exploration draws use crypto/rand.
type Bandit struct {
	epsilon      float64
	greenCutoff  float64
	yellowCutoff float64
	now          func() time.Time

	mu   sync.RWMutex
	arms map[string]*betaArm
}

// betaArm is a Beta(alpha, beta) posterior over an arm's auth probability,
// starting from the uniform prior Beta(1, 1).
type betaArm struct {
	alpha float64
	beta  float64
}

func (a *betaArm) mean() float64 { return a.alpha / (a.alpha + a.beta) }

// optimistic returns the mean plus one posterior standard deviation,
// clamped to [0, 1].
func (a *betaArm) optimistic() float64 {
	n := a.alpha + a.beta
	variance := (a.alpha * a.beta) / (n * n * (n + 1))
	v := a.mean() + math.Sqrt(variance)
	if v > 1 {
		return 1
	}
	return v
}

// NewBandit creates a bandit predictor with the given exploration
// probability and health cutoffs.
func NewBandit(epsilon, greenCutoff, yellowCutoff float64) *Bandit {
	return &Bandit{
		epsilon:      epsilon,
		greenCutoff:  greenCutoff,
		yellowCutoff: yellowCutoff,
		now:          time.Now,
		arms:         make(map[string]*betaArm),
	}
}

// IsReady always reports true: the posteriors need no loading.
func (*Bandit) IsReady() bool { return true }

// Observe updates a PSP's posterior with one outcome.
func (b *Bandit) Observe(psp string, authorized bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	arm := b.arms[psp]
	if arm == nil {
		arm = &betaArm{alpha: 1, beta: 1}
		b.arms[psp] = arm
	}
	if authorized {
		arm.alpha++
	} else {
		arm.beta++
	}
}

// Predict derives the prediction from the candidate's posterior. Arms never
// observed fall back to the candidate's rolling auth rate as the posterior
// mean seed.
func (b *Bandit) Predict(ctx context.Context, txn model.Transaction, cand model.Candidate) (model.Prediction, error) {
	if err := ctx.Err(); err != nil {
		return model.Prediction{}, fmt.Errorf("%w: %v", model.ErrPredictorUnavailable, err)
	}

	b.mu.RLock()
	arm := b.arms[cand.PSP]
	b.mu.RUnlock()

	var prob float64
	if arm == nil {
		prob = cand.AuthRate
	} else if b.epsilon > 0 && cryptoFloat64() < b.epsilon {
		prob = arm.optimistic()
	} else {
		prob = arm.mean()
	}

	return model.Prediction{
		AuthProbability: prob,
		ProcessingMs:    cand.AvgProcessingMs,
		Health:          model.HealthFor(prob, b.greenCutoff, b.yellowCutoff),
		ModelVersion:    BanditVersion,
		GeneratedAt:     b.now(),
	}, nil
}

// cryptoFloat64 returns an unbiased draw from [0, 1).
func cryptoFloat64() float64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand does not fail on supported platforms; refuse to
		// explore rather than bias the draw.
		return 1
	}
	return float64(binary.BigEndian.Uint64(buf[:])>>11) / (1 << 53)
}
