package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// State is the outcome of one payment status read.
type State int

const (
	// Unknown means no read form produced an answer. Callers treat it as NotPaid.
	Unknown State = iota
	NotPaid
	Paid
)

// String returns a lowercase name for logs.
func (s State) String() string {
	switch s {
	case Paid:
		return "paid"
	case NotPaid:
		return "not paid"
	default:
		return "unknown"
	}
}

// Provider reads payment status from an external payment service.
type Provider interface {
	IsPaid(ctx context.Context, paymentID, network string) (State, error)
}

// queryParams are the identifier parameter names tried, in order, after the path form.
var queryParams = []string{"identifierFromPurchaser", "payment_id", "purchase_id", "id"}

// paidMarkers are substrings of a lowercased status that mean the purchase is settled.
var paidMarkers = []string{"paid", "completed", "success"}

// Client talks to a Masumi-style payment service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a payment service client. The API key is sent in the "token" header.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// BaseURL returns the normalized service URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NetworkLabel maps a network name to the label the payment service expects.
func NetworkLabel(network string) string {
	if strings.EqualFold(network, "preprod") {
		return "Preprod"
	}
	return "Mainnet"
}

// IsPaid tries GET /purchase/{id} and then GET /purchase?{param}={id} for each
// known parameter name. The first 200 response decides Paid or NotPaid. If no
// form answers with 200 the state is Unknown and the last error is returned.
func (c *Client) IsPaid(ctx context.Context, paymentID, network string) (State, error) {
	base := url.Values{}
	if network != "" {
		base.Set("network", NetworkLabel(network))
	}

	attempts := make([]string, 0, len(queryParams)+1)
	attempts = append(attempts, c.baseURL+"/purchase/"+url.PathEscape(paymentID)+encode(base))
	for _, p := range queryParams {
		q := cloneValues(base)
		q.Set(p, paymentID)
		attempts = append(attempts, c.baseURL+"/purchase"+encode(q))
	}

	var lastErr error
	for _, u := range attempts {
		body, err := c.get(ctx, u)
		if err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return Unknown, ctx.Err()
			}
			continue
		}
		if LooksPaid(body) {
			return Paid, nil
		}
		return NotPaid, nil
	}
	return Unknown, lastErr
}

func (c *Client) get(ctx context.Context, u string) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("token", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}

	var data map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("GET %s: decode: %w", u, err)
	}
	return data, nil
}

// LooksPaid interprets a purchase response. It accepts a flat object or one
// wrapped under "data", and matches the status key case-insensitively.
func LooksPaid(data map[string]interface{}) bool {
	if statusPaid(data) {
		return true
	}
	if inner, ok := pluck(data, "data").(map[string]interface{}); ok {
		return statusPaid(inner)
	}
	return false
}

func statusPaid(obj map[string]interface{}) bool {
	status, ok := pluck(obj, "status").(string)
	if !ok {
		return false
	}
	status = strings.ToLower(status)
	for _, m := range paidMarkers {
		if strings.Contains(status, m) {
			return true
		}
	}
	return false
}

func pluck(obj map[string]interface{}, key string) interface{} {
	for k, v := range obj {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return nil
}

// CreateResponse is the raw outcome of POST /purchase.
type CreateResponse struct {
	StatusCode int         `json:"status_code"`
	Data       interface{} `json:"data"`
}

// CreatePurchase posts payload to /purchase. Non-JSON bodies are returned as {"raw": text}.
func (c *Client) CreatePurchase(ctx context.Context, payload *PurchasePayload) (*CreateResponse, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal purchase: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/purchase", bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("token", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	hc := *c.httpClient
	hc.Timeout = 15 * time.Second
	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("create purchase: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read purchase response: %w", err)
	}

	out := &CreateResponse{StatusCode: resp.StatusCode}
	var data interface{}
	if err := json.Unmarshal(raw, &data); err != nil {
		out.Data = map[string]string{"raw": string(raw)}
	} else {
		out.Data = data
	}
	return out, nil
}

func encode(v url.Values) string {
	if len(v) == 0 {
		return ""
	}
	return "?" + v.Encode()
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v)+1)
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}
