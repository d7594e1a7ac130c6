package chain

import (
	"context"

	"github.com/walletscore/jobgate/internal/models"
)

// Source fetches on-chain facts for an address.
type Source interface {
	Fetch(ctx context.Context, in models.Input) (models.Facts, error)
}

// SampleSource returns a fixed fact set. It is used when no indexer is
// configured and as the fallback when an indexer read fails.
type SampleSource struct{}

func (SampleSource) Fetch(context.Context, models.Input) (models.Facts, error) {
	return SampleFacts(), nil
}

// SampleFacts returns a fresh copy of the fixed sample facts.
func SampleFacts() models.Facts {
	str := func(s string) *string { return &s }
	return models.Facts{
		Balances: models.Balances{ADA: 1543.21, TokenCount: 3},
		Staking: models.Staking{
			Delegated: true,
			PoolID:    str("pool1xyz"),
			Since:     str("2023-11-01"),
		},
		FirstSeen:                str("2023-01-01"),
		AgeDays:                  300,
		TxVelocity30d:            14,
		CounterpartyDiversity90d: 0.72,
		KnownLabel:               str("exchange"),
		TopTokens: []models.Token{
			{Asset: "TOKEN", Policy: "abcd...", Qty: "1000"},
			{Asset: "XYZ", Policy: "ef01...", Qty: "250"},
		},
	}
}
