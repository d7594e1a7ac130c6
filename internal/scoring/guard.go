package scoring

import (
	"context"
	"fmt"

	"github.com/walletscore/jobgate/internal/models"
)

// Guard wraps a scorer so a panic comes back as an error.
func Guard(s Scorer) Scorer {
	return guarded{inner: s}
}

type guarded struct {
	inner Scorer
}

func (g guarded) Mode() string { return Mode(g.inner) }

func (g guarded) Score(ctx context.Context, f models.Facts) (score models.Score, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scorer panic: %v", r)
		}
	}()
	score, err = g.inner.Score(ctx, f)
	if err != nil {
		return score, err
	}
	return normalize(score)
}

// normalize clamps the score and checks the health bucket of an external scorer.
func normalize(s models.Score) (models.Score, error) {
	if s.RiskScore < 0 {
		s.RiskScore = 0
	}
	if s.RiskScore > 100 {
		s.RiskScore = 100
	}
	switch s.Health {
	case models.HealthSafe, models.HealthCaution, models.HealthRisky:
	default:
		return s, fmt.Errorf("scorer returned unknown health %q", s.Health)
	}
	if len(s.Reasons) == 0 {
		s.Reasons = []string{"analysis completed"}
	}
	return s, nil
}
