package candidate

import "github.com/marlonbarreto-git/nimbus-psp-router/internal/model"

// DefaultRoster returns the PSP roster used when the outcome archive is
// empty, e.g. on a fresh install. Rates and fees reflect contracted
// baselines; live statistics take over as feedback accumulates.
func DefaultRoster() []model.Candidate {
	return []model.Candidate{
		{
			PSP:                  "payflow",
			Supported:            true,
			AuthRate:             0.70,
			RecentAuthRate:       0.70,
			FeeBps:               220,
			FixedFee:             0.25,
			Supports3DS:          true,
			SupportsTokenization: true,
		},
		{
			PSP:                  "cardmax",
			Supported:            true,
			AuthRate:             0.85,
			RecentAuthRate:       0.85,
			FeeBps:               260,
			FixedFee:             0.30,
			Supports3DS:          true,
			SupportsTokenization: false,
		},
		{
			PSP:                  "pixpay",
			Supported:            true,
			AuthRate:             0.78,
			RecentAuthRate:       0.78,
			FeeBps:               150,
			FixedFee:             0.10,
			Supports3DS:          false,
			SupportsTokenization: true,
		},
		{
			PSP:                  "globalpay",
			Supported:            true,
			AuthRate:             0.75,
			RecentAuthRate:       0.75,
			FeeBps:               200,
			FixedFee:             0.20,
			Supports3DS:          true,
			SupportsTokenization: true,
		},
	}
}
