package scoring

import (
	"context"
	"fmt"

	"github.com/walletscore/jobgate/internal/models"
)

// ModeDeterministic is the analysis mode reported for the rule-based scorer.
const ModeDeterministic = "deterministic"

// Scorer turns on-chain facts into a risk score.
type Scorer interface {
	Score(ctx context.Context, facts models.Facts) (models.Score, error)
}

// Mode returns the analysis mode name of s. Scorers may report their own by
// implementing Mode() string.
func Mode(s Scorer) string {
	if m, ok := s.(interface{ Mode() string }); ok {
		return m.Mode()
	}
	return ModeDeterministic
}

// Deterministic is the rule-based scorer. It never fails and is used as the
// fallback for every other scorer.
type Deterministic struct{}

func (Deterministic) Mode() string { return ModeDeterministic }

// Score starts at 50 and adjusts for age, staking, velocity, counterparty
// diversity and known labels. Lower is safer.
func (Deterministic) Score(_ context.Context, f models.Facts) (models.Score, error) {
	return Evaluate(f), nil
}

// Evaluate applies the deterministic rules to f.
func Evaluate(f models.Facts) models.Score {
	score := 50
	var reasons []string

	switch {
	case f.AgeDays >= 365:
		score -= 10
		reasons = append(reasons, "address is older than 1 year (positive)")
	case f.AgeDays < 30:
		score += 10
		reasons = append(reasons, "new address (<30 days, needs monitoring)")
	}

	if f.Staking.Delegated {
		score -= 8
		reasons = append(reasons, "delegated/staked ADA adds stability")
	}

	switch {
	case f.TxVelocity30d > 100:
		score += 10
		reasons = append(reasons, "very high recent tx velocity (potential bot)")
	case f.TxVelocity30d < 5:
		score -= 4
		reasons = append(reasons, "low recent tx activity (dormant or holder)")
	}

	switch {
	case f.CounterpartyDiversity90d >= 0.7:
		score -= 6
		reasons = append(reasons, "diverse counterparties (healthy ecosystem participation)")
	case f.CounterpartyDiversity90d <= 0.2:
		score += 6
		reasons = append(reasons, "low counterparty diversity (concentrated activity)")
	}

	if f.KnownLabel != nil && (*f.KnownLabel == "exchange" || *f.KnownLabel == "custody") {
		score -= 5
		reasons = append(reasons, fmt.Sprintf("known label: %s (trusted entity)", *f.KnownLabel))
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "no special risk factors identified (deterministic analysis)")
	}

	return models.Score{RiskScore: score, Health: HealthFor(score), Reasons: reasons}
}

// HealthFor buckets a risk score: <=33 safe, <=66 caution, else risky.
func HealthFor(score int) string {
	switch {
	case score <= 33:
		return models.HealthSafe
	case score <= 66:
		return models.HealthCaution
	default:
		return models.HealthRisky
	}
}
