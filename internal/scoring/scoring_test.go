package scoring

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/walletscore/jobgate/internal/models"
)

func label(s string) *string { return &s }

func hasReason(reasons []string, substr string) bool {
	for _, r := range reasons {
		if strings.Contains(r, substr) {
			return true
		}
	}
	return false
}

func TestDeterministicProfiles(t *testing.T) {
	tests := []struct {
		name    string
		facts   models.Facts
		health  string
		score   int
		reasons []string
	}{
		{
			name: "safe",
			facts: models.Facts{
				AgeDays:                  400,
				Staking:                  models.Staking{Delegated: true},
				TxVelocity30d:            2,
				CounterpartyDiversity90d: 0.75,
				KnownLabel:               label("exchange"),
			},
			health:  models.HealthSafe,
			score:   17,
			reasons: []string{"older than 1 year", "delegated/staked ADA", "diverse counterparties", "known label"},
		},
		{
			name: "risky",
			facts: models.Facts{
				AgeDays:                  10,
				TxVelocity30d:            120,
				CounterpartyDiversity90d: 0.1,
			},
			health:  models.HealthRisky,
			score:   76,
			reasons: []string{"new address"},
		},
		{
			name: "caution",
			facts: models.Facts{
				AgeDays:                  300,
				TxVelocity30d:            14,
				CounterpartyDiversity90d: 0.5,
			},
			health:  models.HealthCaution,
			score:   50,
			reasons: []string{"no special risk factors"},
		},
		{
			name: "untrusted label ignored",
			facts: models.Facts{
				AgeDays:                  300,
				TxVelocity30d:            14,
				CounterpartyDiversity90d: 0.5,
				KnownLabel:               label("mixer"),
			},
			health: models.HealthCaution,
			score:  50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Deterministic{}.Score(context.Background(), tt.facts)
			if err != nil {
				t.Fatalf("Score: %v", err)
			}
			if got.RiskScore != tt.score || got.Health != tt.health {
				t.Errorf("got %d/%s, want %d/%s", got.RiskScore, got.Health, tt.score, tt.health)
			}
			for _, r := range tt.reasons {
				if !hasReason(got.Reasons, r) {
					t.Errorf("missing reason %q in %v", r, got.Reasons)
				}
			}
		})
	}
}

func TestHealthBuckets(t *testing.T) {
	tests := map[int]string{0: "safe", 33: "safe", 34: "caution", 66: "caution", 67: "risky", 100: "risky"}
	for score, want := range tests {
		if got := HealthFor(score); got != want {
			t.Errorf("HealthFor(%d) = %s, want %s", score, got, want)
		}
	}
}

type panicky struct{}

func (panicky) Score(context.Context, models.Facts) (models.Score, error) {
	panic("boom")
}

type fixed struct {
	score models.Score
	err   error
}

func (f fixed) Score(context.Context, models.Facts) (models.Score, error) { return f.score, f.err }
func (fixed) Mode() string { return "openai" }

func TestGuardRecoversPanic(t *testing.T) {
	_, err := Guard(panicky{}).Score(context.Background(), models.Facts{})
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected panic converted to error, got %v", err)
	}
}

func TestGuardNormalizes(t *testing.T) {
	g := Guard(fixed{score: models.Score{RiskScore: 140, Health: "risky"}})
	got, err := g.Score(context.Background(), models.Facts{})
	if err != nil {
		t.Fatal(err)
	}
	if got.RiskScore != 100 || len(got.Reasons) == 0 {
		t.Errorf("unexpected normalized score %+v", got)
	}
	if Mode(g) != "openai" {
		t.Errorf("guard should keep the inner mode, got %s", Mode(g))
	}

	_, err = Guard(fixed{score: models.Score{Health: "great"}}).Score(context.Background(), models.Facts{})
	if err == nil {
		t.Error("unknown health should be rejected")
	}

	sentinel := errors.New("upstream down")
	if _, err := Guard(fixed{err: sentinel}).Score(context.Background(), models.Facts{}); !errors.Is(err, sentinel) {
		t.Errorf("expected wrapped upstream error, got %v", err)
	}
}
