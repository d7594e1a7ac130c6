package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/models"
	"github.com/walletscore/jobgate/internal/payment"
)

// PaymentSettings describes the payment service this agent sells through.
type PaymentSettings struct {
	ServiceURL        string
	APIKey            string
	SellerVKey        string
	PriceADA          float64
	DefaultNetwork    string
	TimeoutSec           int
	IdempotencyWindowSec int
}

// PurchaseService builds purchase payloads and describes how to pay.
type PurchaseService struct {
	store    database.Store
	client   *payment.Client
	settings PaymentSettings
}

// NewPurchaseService creates a PurchaseService. client may be nil when the
// payment service is not configured; executing purchases is then refused.
func NewPurchaseService(store database.Store, client *payment.Client, settings PaymentSettings) *PurchaseService {
	return &PurchaseService{store: store, client: client, settings: settings}
}

// PrepareRequest selects the purchase to build.
type PrepareRequest struct {
	JobID     string
	PaymentID string
	Network   string
	Execute   bool
	Timing    payment.Timing
}

// PreparedPurchase is the response of PreparePurchase.
type PreparedPurchase struct {
	PaymentID      string                   `json:"payment_id"`
	Network        string                   `json:"network"`
	SellerVKey     string                   `json:"seller_vkey"`
	Payload        *payment.PurchasePayload `json:"payload"`
	Curl           string                   `json:"curl"`
	Notes          []string                 `json:"notes"`
	CreateResponse *payment.CreateResponse  `json:"create_response,omitempty"`
}

// PreparePurchase builds a purchase payload, tying the input hash to the job
// and payment ids. Unknown job ids are ignored. With Execute the payload is
// posted to the payment service.
func (s *PurchaseService) PreparePurchase(ctx context.Context, req PrepareRequest) (*PreparedPurchase, error) {
	var job *models.Job
	var input interface{}
	if req.JobID != "" {
		j, err := s.store.GetJobByID(ctx, req.JobID)
		switch {
		case err == nil:
			job = j
			if in, err := j.Input(); err == nil {
				input = in
			}
		case !errors.Is(err, errorx.ErrJobNotFound):
			return nil, err
		}
	}

	network := req.Network
	if network == "" {
		network = s.settings.DefaultNetwork
		if in, ok := input.(models.Input); ok {
			network = in.Network
		}
	}

	paymentID := req.PaymentID
	if paymentID == "" {
		if job != nil {
			paymentID = job.PaymentID
		} else {
			paymentID = uuid.NewString()
		}
	}

	var jobID interface{}
	if req.JobID != "" {
		jobID = req.JobID
	}
	hash := payment.ComputeInputHash(map[string]interface{}{
		"payment_id": paymentID,
		"job_id":     jobID,
		"input":      input,
	})

	payload := payment.BuildPurchasePayload(payment.PurchaseRequest{
		PaymentID:  paymentID,
		SellerVKey: s.settings.SellerVKey,
		Network:    network,
		InputHash:  hash,
		Timing:     req.Timing,
	}, s.store.Now())

	curl, err := curlCommand(s.baseURL(), payload)
	if err != nil {
		return nil, err
	}

	out := &PreparedPurchase{
		PaymentID:  paymentID,
		Network:    network,
		SellerVKey: s.settings.SellerVKey,
		Payload:    payload,
		Curl:       curl,
		Notes: []string{
			"Include header 'token' with your MASUMI_API_KEY.",
			"payByTime is before submitResultTime by at least 5 minutes; unlock times are ordered correctly.",
		},
	}

	if !req.Execute {
		return out, nil
	}
	if s.client == nil || s.settings.ServiceURL == "" || s.settings.APIKey == "" {
		return nil, errorx.Invalid("execute", "Missing MASUMI_PAYMENT_SERVICE_URL or MASUMI_API_KEY to execute purchase.")
	}
	resp, err := s.client.CreatePurchase(ctx, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: Failed to create purchase: %v", errorx.ErrUpstream, err)
	}
	out.CreateResponse = resp
	return out, nil
}

func (s *PurchaseService) baseURL() string {
	if s.client != nil {
		return s.client.BaseURL()
	}
	return s.settings.ServiceURL
}

func curlCommand(base string, payload *payment.PurchasePayload) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	return fmt.Sprintf("curl -X 'POST' '%s/purchase' -H 'accept: application/json' "+
		"-H 'token: <MASUMI_API_KEY>' -H 'Content-Type: application/json' -d '%s'", base, body), nil
}

// StatusRead lists the payment status read forms.
type StatusRead struct {
	Preferred string   `json:"preferred"`
	Fallbacks []string `json:"fallbacks"`
	Note      string   `json:"note"`
}

// IdempotencyInfo describes request deduplication.
type IdempotencyInfo struct {
	WindowSec int    `json:"window_sec"`
	Behavior  string `json:"behavior"`
}

// RefundPolicy describes what happens when payment does not arrive.
type RefundPolicy struct {
	PaymentTimeoutSec int    `json:"payment_timeout_sec"`
	OnTimeout         string `json:"on_timeout"`
	HowToRefund       string `json:"how_to_refund"`
	Note              string `json:"note"`
}

// PaymentInformation is the response of /payment_information.
type PaymentInformation struct {
	PaymentID         string          `json:"payment_id"`
	PriceADA          float64         `json:"price_ada"`
	SellerVKey        string          `json:"seller_vkey"`
	PaymentServiceURL string          `json:"payment_service_url"`
	AuthHeader        string          `json:"auth_header"`
	NetworkDefault    string          `json:"network_default"`
	StatusRead        StatusRead      `json:"status_read"`
	Idempotency       IdempotencyInfo `json:"idempotency"`
	RefundPolicy      RefundPolicy    `json:"refund_policy"`
	Note              string          `json:"note"`
}

// PaymentInformation describes how to pay for paymentID.
func (s *PurchaseService) PaymentInformation(paymentID string) PaymentInformation {
	return PaymentInformation{
		PaymentID:         paymentID,
		PriceADA:          s.settings.PriceADA,
		SellerVKey:        s.settings.SellerVKey,
		PaymentServiceURL: s.settings.ServiceURL,
		AuthHeader:        "token",
		NetworkDefault:    s.settings.DefaultNetwork,
		StatusRead: StatusRead{
			Preferred: "/purchase?identifierFromPurchaser=<payment_id>",
			Fallbacks: []string{
				"/purchase/<payment_id>",
				"/purchase?payment_id=<payment_id>",
				"/purchase?purchase_id=<payment_id>",
				"/purchase?id=<payment_id>",
			},
			Note: "Include header 'token: <MASUMI_API_KEY>'. 200 = found; check 'status' for paid/completed.",
		},
		Idempotency: IdempotencyInfo{
			WindowSec: s.settings.IdempotencyWindowSec,
			Behavior:  "If an identical input (address+network) was received within window_sec, the service reuses the same job_id/payment_id.",
		},
		RefundPolicy: RefundPolicy{
			PaymentTimeoutSec: s.settings.TimeoutSec,
			OnTimeout:         "Job marked failed with reason 'payment timeout'.",
			HowToRefund:       "Use PATCH/GET on /purchase according to your Payment Service deployment to request/confirm refund if supported.",
			Note:              "Always include ?network=Preprod|Mainnet and header 'token: <MASUMI_API_KEY>'.",
		},
		Note: "Use POST /purchase to create a purchase, then poll GET using 'identifierFromPurchaser' (preferred). Include header 'token: <MASUMI_API_KEY>'.",
	}
}
