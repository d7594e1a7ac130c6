package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/walletscore/jobgate/internal/models"
)

// ModeOpenAI is the analysis mode reported for the OpenAI scorer.
const ModeOpenAI = "openai"

const (
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultOpenAITemperature = 0.3
	promptTopTokens          = 5
	promptAssetLen           = 20
)

const systemPrompt = `You are an expert Cardano blockchain analyst specializing in wallet risk assessment.

Evaluate the wallet from four perspectives: security (suspicious patterns, known bad actors),
DeFi (leverage, protocol exposure), behavioral (velocity, counterparty diversity, age) and
compliance (mixing services, sanctioned entities).

Risk score scale (0-100): 0-33 safe, 34-66 caution, 67-100 risky.

Guidelines:
- New wallets are not automatically risky.
- Staking is a positive signal.
- High velocity can be legitimate; low diversity with high velocity suggests automation.
- Known exchange or custody labels reduce risk.

Reply with a JSON object:
{"risk_score": <0-100>, "health": "<safe|caution|risky>", "reasons": ["<insight>", ...],
 "perspectives": {"security": "...", "defi": "...", "behavioral": "...", "compliance": "..."}}`

// OpenAI scores facts with an OpenAI chat model in JSON mode.
type OpenAI struct {
	client      *openai.Client
	model       string
	temperature float32
}

// OpenAIOption configures the OpenAI scorer.
type OpenAIOption func(*openaiSettings)

type openaiSettings struct {
	config      openai.ClientConfig
	model       string
	temperature float32
}

// WithOpenAIBaseURL points the scorer at a different API endpoint.
func WithOpenAIBaseURL(u string) OpenAIOption {
	return func(s *openaiSettings) { s.config.BaseURL = strings.TrimRight(u, "/") }
}

// WithOpenAIModel selects the chat model.
func WithOpenAIModel(model string) OpenAIOption {
	return func(s *openaiSettings) {
		if model != "" {
			s.model = model
		}
	}
}

// NewOpenAI creates an OpenAI scorer authenticated with apiKey.
func NewOpenAI(apiKey string, opts ...OpenAIOption) *OpenAI {
	s := &openaiSettings{
		config:      openai.DefaultConfig(apiKey),
		model:       defaultOpenAIModel,
		temperature: defaultOpenAITemperature,
	}
	for _, opt := range opts {
		opt(s)
	}
	return &OpenAI{
		client:      openai.NewClientWithConfig(s.config),
		model:       s.model,
		temperature: s.temperature,
	}
}

// Mode implements the optional mode reporting of Scorer.
func (o *OpenAI) Mode() string { return ModeOpenAI }

type openaiVerdict struct {
	RiskScore *int     `json:"risk_score"`
	Health    string   `json:"health"`
	Reasons   []string `json:"reasons"`
}

// Score asks the model for a verdict. Missing fields default to a score of
// 50 and caution; an unknown health label becomes caution.
func (o *OpenAI) Score(ctx context.Context, f models.Facts) (models.Score, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: o.temperature,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(f)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return models.Score{}, fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return models.Score{}, errors.New("openai completion: no choices")
	}

	var v openaiVerdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &v); err != nil {
		return models.Score{}, fmt.Errorf("decode openai verdict: %w", err)
	}

	score := models.Score{RiskScore: 50, Health: strings.ToLower(strings.TrimSpace(v.Health)), Reasons: v.Reasons}
	if v.RiskScore != nil {
		score.RiskScore = *v.RiskScore
	}
	switch score.Health {
	case models.HealthSafe, models.HealthCaution, models.HealthRisky:
	default:
		score.Health = models.HealthCaution
	}
	if len(score.Reasons) == 0 {
		score.Reasons = []string{"AI analysis completed"}
	}
	return score, nil
}

func buildPrompt(f models.Facts) string {
	var b strings.Builder
	b.WriteString("Analyze this Cardano wallet:\n\n")
	fmt.Fprintf(&b, "Balances:\n- ADA: %g ADA\n- Tokens: %d different tokens\n\n", f.Balances.ADA, f.Balances.TokenCount)
	fmt.Fprintf(&b, "Staking:\n- Delegated: %t\n- Pool: %s\n- Since: %s\n\n",
		f.Staking.Delegated, orDefault(f.Staking.PoolID, "None"), orDefault(f.Staking.Since, "N/A"))
	fmt.Fprintf(&b, "Activity:\n- First seen: %s\n- Age: %d days\n- Transaction velocity (30d): %d transactions\n- Counterparty diversity (90d): %.2f (0=low, 1=high)\n\n",
		orDefault(f.FirstSeen, "Unknown"), f.AgeDays, f.TxVelocity30d, f.CounterpartyDiversity90d)
	fmt.Fprintf(&b, "Known labels: %s\n\nTop tokens:\n", orDefault(f.KnownLabel, "None"))

	if len(f.TopTokens) == 0 {
		b.WriteString("None\n")
	}
	for i, tok := range f.TopTokens {
		if i == promptTopTokens {
			break
		}
		asset := tok.Asset
		if len(asset) > promptAssetLen {
			asset = asset[:promptAssetLen]
		}
		fmt.Fprintf(&b, "  - %s: %s\n", asset, tok.Qty)
	}

	b.WriteString("\nProvide a comprehensive risk assessment with specific, actionable insights.")
	return b.String()
}

func orDefault(s *string, def string) string {
	if s == nil || *s == "" {
		return def
	}
	return *s
}

// New returns the scorer for mode. "openai" needs apiKey; every other mode,
// or a missing key, yields the deterministic scorer.
func New(mode, apiKey string, opts ...OpenAIOption) Scorer {
	if strings.EqualFold(mode, ModeOpenAI) && apiKey != "" {
		return NewOpenAI(apiKey, opts...)
	}
	return Deterministic{}
}
