// Package history provides the historical transaction outcome source the
// candidate store aggregates over. The engine treats it as read-only except
// for archival of terminal feedback.
package history

import (
	"context"
	"fmt"
	"time"
)

// OutcomeRow is one historical transaction outcome.
type OutcomeRow struct {
	PSP             string    `json:"psp"`
	Status          int       `json:"status"`
	CurrencyID      int       `json:"currency_id"`
	PaymentMethodID int       `json:"payment_method_id"`
	FeeBps          float64   `json:"fee_bps"`
	FixedFee        float64   `json:"fixed_fee"`
	ThreeDS         bool      `json:"three_ds"`
	Tokenized       bool      `json:"tokenized"`
	CreatedAt       time.Time `json:"created_at"`
}

// Segment identifies a (currency, payment method) slice of the history.
type Segment struct {
	CurrencyID      int
	PaymentMethodID int
}

func (s Segment) String() string {
	return fmt.Sprintf("%d:%d", s.CurrencyID, s.PaymentMethodID)
}

// Store is the time-bounded segmented read source.
type Store interface {
	// QuerySegment returns the rows for one segment created at or after
	// the given instant.
	QuerySegment(ctx context.Context, seg Segment, since time.Time) ([]OutcomeRow, error)

	// QueryAll returns every row created at or after the given instant,
	// across all segments. Used by retraining.
	QueryAll(ctx context.Context, since time.Time) ([]OutcomeRow, error)

	// Append archives outcome rows.
	Append(ctx context.Context, rows ...OutcomeRow) error

	Close() error
}
