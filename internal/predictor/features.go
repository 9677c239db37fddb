package predictor

import (
	"hash/fnv"
	"math"
	"time"

	"github.com/marlonbarreto-git/nimbus-psp-router/internal/model"
)

// FeatureCount is the length of the assembled feature vector.
const FeatureCount = 16

// Features is the numeric vector assembled per (transaction, candidate)
// call. Every value derives deterministically from the inputs and the
// supplied instant.
type Features struct {
	Amount             float64
	AmountLog10        float64
	PaymentMethodID    float64
	CurrencyID         float64
	CountryID          float64
	RiskScore          float64
	Tokenized          float64
	Has3DS             float64
	PSPID              float64
	HourOfDay          float64
	DayOfWeek          float64
	RecentSuccessRate  float64
	RecentProcessingMs float64
	RecentVolume       float64
	RiskAdjustedAmount float64
	TimeOfDayCategory  float64
}

// BuildFeatures assembles the feature vector. The instant is passed in so
// repeated calls with the same inputs produce identical vectors.
func BuildFeatures(txn model.Transaction, cand model.Candidate, at time.Time) Features {
	return Features{
		Amount:             txn.Amount,
		AmountLog10:        math.Log10(math.Max(txn.Amount, 1)),
		PaymentMethodID:    float64(txn.PaymentMethodID),
		CurrencyID:         float64(txn.CurrencyID),
		CountryID:          idHash(txn.BuyerCountry),
		RiskScore:          float64(txn.RiskScore),
		Tokenized:          boolFeature(txn.Tokenized),
		Has3DS:             boolFeature(cand.Supports3DS),
		PSPID:              idHash(cand.PSP),
		HourOfDay:          float64(at.Hour()),
		DayOfWeek:          float64(at.Weekday()),
		RecentSuccessRate:  cand.RecentAuthRate,
		RecentProcessingMs: cand.AvgProcessingMs,
		RecentVolume:       float64(cand.Totals.Count),
		RiskAdjustedAmount: txn.Amount * (1 + float64(txn.RiskScore)/100),
		TimeOfDayCategory:  timeOfDayCategory(at.Hour()),
	}
}

// Vector returns the features in their fixed order.
func (f Features) Vector() [FeatureCount]float64 {
	return [FeatureCount]float64{
		f.Amount,
		f.AmountLog10,
		f.PaymentMethodID,
		f.CurrencyID,
		f.CountryID,
		f.RiskScore,
		f.Tokenized,
		f.Has3DS,
		f.PSPID,
		f.HourOfDay,
		f.DayOfWeek,
		f.RecentSuccessRate,
		f.RecentProcessingMs,
		f.RecentVolume,
		f.RiskAdjustedAmount,
		f.TimeOfDayCategory,
	}
}

func boolFeature(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// idHash maps an identifier onto a stable small numeric id.
func idHash(s string) float64 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return float64(h.Sum32() % 1000)
}

// timeOfDayCategory buckets the hour: 0 night, 1 morning, 2 afternoon,
// 3 evening.
func timeOfDayCategory(hour int) float64 {
	switch {
	case hour < 6:
		return 0
	case hour < 12:
		return 1
	case hour < 18:
		return 2
	default:
		return 3
	}
}
