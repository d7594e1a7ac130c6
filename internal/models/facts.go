package models

// Balances summarizes wallet holdings.
type Balances struct {
	ADA        float64 `json:"ada"`
	TokenCount int     `json:"token_count"`
}

// Staking describes stake delegation.
type Staking struct {
	Delegated bool    `json:"delegated"`
	PoolID    *string `json:"pool_id"`
	Since     *string `json:"since"`
}

// Token is one native asset held by the wallet.
type Token struct {
	Asset  string `json:"asset"`
	Policy string `json:"policy"`
	Qty    string `json:"qty"`
}

// Facts are the on-chain observations the scorer works from.
type Facts struct {
	Balances                 Balances `json:"balances"`
	Staking                  Staking  `json:"staking"`
	FirstSeen                *string  `json:"first_seen"`
	AgeDays                  int      `json:"age_days"`
	TxVelocity30d            int      `json:"tx_velocity_30d"`
	CounterpartyDiversity90d float64  `json:"counterparty_diversity_90d"`
	KnownLabel               *string  `json:"known_label"`
	TopTokens                []Token  `json:"top_tokens"`
}

// Health buckets.
const (
	HealthSafe    = "safe"
	HealthCaution = "caution"
	HealthRisky   = "risky"
)

// Score is the scorer output. Lower RiskScore is safer.
type Score struct {
	RiskScore int      `json:"risk_score"`
	Health    string   `json:"health"`
	Reasons   []string `json:"reasons"`
}

// Result is the payload persisted on completed jobs, serialized as a JSON string.
type Result struct {
	Address string `json:"address"`
	Network string `json:"network"`
	Facts
	Score
	AnalysisMode      string `json:"analysis_mode"`
	Symbol            string `json:"symbol"`
	WindowLabel       string `json:"window_label"`
	IndicatorsSummary string `json:"indicators_summary"`
	ReportPath        string `json:"report_path,omitempty"`
}
