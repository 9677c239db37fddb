package predictor

import (
	"context"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

// Null is the predictor used when prediction is deliberately disabled. It
// is never ready and every Predict fails, which forces the router onto the
// deterministic fallback path.
type Null struct{}

func (Null) IsReady() bool { return false }

func (Null) Predict(context.Context, model.Transaction, model.Candidate) (model.Prediction, error) {
	return model.Prediction{}, model.ErrPredictorUnavailable
}
