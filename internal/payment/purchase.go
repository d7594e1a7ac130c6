package payment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// MinSubmitGapMinutes is the minimum distance between payByTime and submitResultTime.
const MinSubmitGapMinutes = 5

// PurchasePayload is the body of POST /purchase. Times are unix seconds as strings.
type PurchasePayload struct {
	BlockchainIdentifier      string `json:"blockchainIdentifier"`
	AgentIdentifier           string `json:"agentIdentifier"`
	SubmitResultTime          string `json:"submitResultTime"`
	ExternalDisputeUnlockTime string `json:"externalDisputeUnlockTime"`
	IdentifierFromPurchaser   string `json:"identifierFromPurchaser"`
	PayByTime                 string `json:"payByTime"`
	UnlockTime                string `json:"unlockTime"`
	SellerVKey                string `json:"sellerVkey"`
	Network                   string `json:"network"`
	InputHash                 string `json:"inputHash"`
}

// Timing holds the minute offsets used to derive purchase deadlines.
type Timing struct {
	PayByMinutes                     int
	SubmitAfterPayByMinutes          int
	UnlockAfterSubmitMinutes         int
	ExternalUnlockAfterUnlockMinutes int
}

// DefaultTiming matches the payment service's recommended windows.
func DefaultTiming() Timing {
	return Timing{
		PayByMinutes:                     10,
		SubmitAfterPayByMinutes:          10,
		UnlockAfterSubmitMinutes:         5,
		ExternalUnlockAfterUnlockMinutes: 5,
	}
}

// PurchaseRequest describes a purchase to build.
type PurchaseRequest struct {
	PaymentID            string
	SellerVKey           string
	Network              string
	InputHash            string
	BlockchainIdentifier string
	AgentIdentifier      string
	Timing               Timing
}

// BuildPurchasePayload derives deadlines that satisfy the service constraints:
// payByTime precedes submitResultTime by at least MinSubmitGapMinutes,
// unlockTime follows submitResultTime and externalDisputeUnlockTime follows unlockTime.
func BuildPurchasePayload(req PurchaseRequest, now time.Time) *PurchasePayload {
	minutes := func(n int) int64 { return int64(n) * 60 }

	payBy := now.Unix() + minutes(atLeast(req.Timing.PayByMinutes, 1))
	submit := payBy + minutes(atLeast(req.Timing.SubmitAfterPayByMinutes, MinSubmitGapMinutes))
	unlock := submit + minutes(atLeast(req.Timing.UnlockAfterSubmitMinutes, 1))
	external := unlock + minutes(atLeast(req.Timing.ExternalUnlockAfterUnlockMinutes, 1))

	p := &PurchasePayload{
		BlockchainIdentifier:      req.BlockchainIdentifier,
		AgentIdentifier:           req.AgentIdentifier,
		SubmitResultTime:          strconv.FormatInt(submit, 10),
		ExternalDisputeUnlockTime: strconv.FormatInt(external, 10),
		IdentifierFromPurchaser:   req.PaymentID,
		PayByTime:                 strconv.FormatInt(payBy, 10),
		UnlockTime:                strconv.FormatInt(unlock, 10),
		SellerVKey:                req.SellerVKey,
		Network:                   NetworkLabel(req.Network),
		InputHash:                 req.InputHash,
	}
	if p.BlockchainIdentifier == "" {
		p.BlockchainIdentifier = uuid.NewString()
	}
	if p.AgentIdentifier == "" {
		p.AgentIdentifier = uuid.NewString()
	}
	if p.InputHash == "" {
		p.InputHash = ComputeInputHash(map[string]interface{}{"payment_id": req.PaymentID})
	}
	return p
}

// ComputeInputHash returns the SHA-256 hex digest of v encoded as JSON.
// Map keys are sorted by encoding/json, so the digest is stable.
func ComputeInputHash(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(strconv.Quote(fmt.Sprint(v)))
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func atLeast(v, min int) int {
	if v < min {
		return min
	}
	return v
}
