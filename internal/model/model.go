package model

import (
	"fmt"
	"time"
)

// Transaction represents an incoming payment to be routed. It is created
// per request and never mutated.
type Transaction struct {
	MerchantID      string  `json:"merchant_id"`
	BuyerCountry    string  `json:"buyer_country"`
	MerchantCountry string  `json:"merchant_country"`
	CurrencyID      int     `json:"currency_id"`
	PaymentMethodID int     `json:"payment_method_id"`
	Amount          float64 `json:"amount"`
	CardBIN         string  `json:"card_bin,omitempty"`
	Tokenized       bool    `json:"tokenized"`
	SCARequired     bool    `json:"sca_required"`
	RiskScore       int     `json:"risk_score"`
}

// Validate checks the boundary constraints on a transaction.
func (t Transaction) Validate() error {
	if t.Amount <= 0 {
		return fmt.Errorf("%w: amount must be greater than 0", ErrInvalidArgument)
	}
	if t.CurrencyID <= 0 {
		return fmt.Errorf("%w: currency_id must be greater than 0", ErrInvalidArgument)
	}
	if t.PaymentMethodID <= 0 {
		return fmt.Errorf("%w: payment_method_id must be greater than 0", ErrInvalidArgument)
	}
	if t.RiskScore < 0 || t.RiskScore > 100 {
		return fmt.Errorf("%w: risk_score must be between 0 and 100", ErrInvalidArgument)
	}
	return nil
}

// HealthStatus classifies a candidate by its recent authorization rate.
type HealthStatus string

const (
	HealthGreen  HealthStatus = "green"
	HealthYellow HealthStatus = "yellow"
	HealthRed    HealthStatus = "red"
)

// HealthFor projects an authorization rate onto a health band. A rate
// exactly at a cutoff maps to the higher band.
func HealthFor(authRate, greenCutoff, yellowCutoff float64) HealthStatus {
	switch {
	case authRate >= greenCutoff:
		return HealthGreen
	case authRate >= yellowCutoff:
		return HealthYellow
	default:
		return HealthRed
	}
}

// Totals accumulates outcome counts for a candidate.
type Totals struct {
	Count     int64 `json:"count"`
	Successes int64 `json:"successes"`
}

// Candidate is a snapshot of a routable PSP with its rolling performance
// statistics. The candidate store owns the authoritative state; everything
// handed out is a copy.
type Candidate struct {
	PSP                  string       `json:"psp"`
	Supported            bool         `json:"supported"`
	Health               HealthStatus `json:"health"`
	AuthRate             float64      `json:"auth_rate"`
	RecentAuthRate       float64      `json:"recent_auth_rate"`
	FeeBps               float64      `json:"fee_bps"`
	FixedFee             float64      `json:"fixed_fee"`
	Supports3DS          bool         `json:"supports_3ds"`
	SupportsTokenization bool         `json:"supports_tokenization"`
	AvgProcessingMs      float64      `json:"avg_processing_ms"`
	Totals               Totals       `json:"totals"`
	LastUpdated          time.Time    `json:"last_updated"`
}

// TotalFee returns the absolute fee a candidate would charge for the
// given amount: the bps component plus the fixed component.
func (c Candidate) TotalFee(amount float64) float64 {
	return amount*c.FeeBps/10000 + c.FixedFee
}

// Feedback is the observed outcome of a routed transaction. It is applied
// at most once per decision id.
type Feedback struct {
	DecisionID      string `json:"decision_id"`
	PSP             string `json:"psp"`
	CurrencyID      int    `json:"currency_id,omitempty"`
	PaymentMethodID int    `json:"payment_method_id,omitempty"`

	Authorized   bool      `json:"authorized"`
	Amount       float64   `json:"amount"`
	FeeAmount    float64   `json:"fee_amount"`
	ProcessingMs int64     `json:"processing_ms"`
	RiskScore    int       `json:"risk_score"`
	ProcessedAt  time.Time `json:"processed_at"`
	ErrorCode    string    `json:"error_code,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Validate checks the minimal shape of a feedback payload.
func (f Feedback) Validate() error {
	if f.DecisionID == "" {
		return fmt.Errorf("%w: decision_id is required", ErrInvalidArgument)
	}
	if f.PSP == "" {
		return fmt.Errorf("%w: psp is required", ErrInvalidArgument)
	}
	return nil
}

// Prediction is the predictor's per-(transaction, candidate) output. It is
// consumed by the scorer and never stored.
type Prediction struct {
	AuthProbability float64      `json:"auth_probability"`
	ProcessingMs    float64      `json:"processing_ms"`
	Health          HealthStatus `json:"health"`
	ModelVersion    string       `json:"model_version"`
	GeneratedAt     time.Time    `json:"generated_at"`
}
