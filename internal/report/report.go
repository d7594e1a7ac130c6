package report

import (
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/walletscore/jobgate/internal/models"
)

// Renderer writes a human-readable report for a completed analysis.
type Renderer interface {
	Render(jobID string, payload models.Result) (string, error)
}

// HTMLRenderer writes {dir}/{job_id}.html.
type HTMLRenderer struct {
	dir  string
	tmpl *template.Template
	now  func() time.Time
}

// NewHTMLRenderer creates a renderer writing into dir.
func NewHTMLRenderer(dir string) *HTMLRenderer {
	return &HTMLRenderer{
		dir:  dir,
		tmpl: template.Must(template.New("wallet_report").Parse(walletReport)),
		now:  time.Now,
	}
}

type view struct {
	models.Result
	GeneratedAt   string
	HealthClass   string
	RawJSONPretty string
}

// Render returns the path of the written file.
func (r *HTMLRenderer) Render(jobID string, payload models.Result) (string, error) {
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}

	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal report data: %w", err)
	}

	var b strings.Builder
	err = r.tmpl.Execute(&b, view{
		Result:        payload,
		GeneratedAt:   r.now().UTC().Format("2006-01-02 15:04:05 UTC"),
		HealthClass:   healthClass(payload.Health),
		RawJSONPretty: string(raw),
	})
	if err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}

	path := filepath.Join(r.dir, jobID+".html")
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func healthClass(health string) string {
	switch strings.ToLower(health) {
	case "safe", "good", "low":
		return "safe"
	case "caution", "medium":
		return "caution"
	default:
		return "risky"
	}
}

const walletReport = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Wallet report {{.Address}}</title>
<style>
body { font-family: sans-serif; margin: 2rem; color: #222; }
.badge { padding: .2rem .6rem; border-radius: .3rem; color: #fff; }
.safe { background: #2e7d32; } .caution { background: #f9a825; } .risky { background: #c62828; }
table { border-collapse: collapse; } td { padding: .2rem .8rem; border-bottom: 1px solid #eee; }
pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
</style>
</head>
<body>
<h1>Wallet health report</h1>
<p>{{.Address}} on {{.Network}} &middot; generated {{.GeneratedAt}}</p>
<p>Risk score <strong>{{.RiskScore}}</strong> <span class="badge {{.HealthClass}}">{{.Health}}</span></p>
<h2>Reasons</h2>
<ul>{{range .Reasons}}<li>{{.}}</li>{{end}}</ul>
<h2>Activity</h2>
<table>
<tr><td>First seen</td><td>{{with .FirstSeen}}{{.}}{{else}}unknown{{end}}</td></tr>
<tr><td>Age (days)</td><td>{{.AgeDays}}</td></tr>
<tr><td>Tx velocity (30d)</td><td>{{.TxVelocity30d}}</td></tr>
<tr><td>Counterparty diversity (90d)</td><td>{{printf "%.2f" .CounterpartyDiversity90d}}</td></tr>
<tr><td>ADA balance</td><td>{{.Balances.ADA}}</td></tr>
<tr><td>Token count</td><td>{{.Balances.TokenCount}}</td></tr>
<tr><td>Delegated</td><td>{{.Staking.Delegated}}{{with .Staking.PoolID}} ({{.}}){{end}}</td></tr>
<tr><td>Known label</td><td>{{with .KnownLabel}}{{.}}{{else}}none{{end}}</td></tr>
</table>
{{if .TopTokens}}<h2>Top tokens</h2>
<table>{{range .TopTokens}}<tr><td>{{.Asset}}</td><td>{{.Qty}}</td></tr>{{end}}</table>{{end}}
<h2>Market context</h2>
<p>{{.Symbol}} &middot; {{.WindowLabel}} &middot; {{.IndicatorsSummary}}</p>
<h2>Raw data</h2>
<pre>{{.RawJSONPretty}}</pre>
</body>
</html>
`
