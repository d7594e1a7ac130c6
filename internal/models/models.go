package models

import (
	"encoding/json"
	"strings"
)

// Status is the lifecycle state of a job.
type Status string

// Status constants. The values are the strings clients see on /status.
const (
	StatusAwaitingPayment Status = "awaiting payment"
	StatusRunning         Status = "running"
	StatusCompleted       Status = "completed"
	StatusFailed          Status = "failed"
)

// Terminal reports whether no further transition can leave s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusAwaitingPayment, StatusRunning, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Networks accepted for the network input key.
const (
	NetworkMainnet = "mainnet"
	NetworkPreprod = "preprod"
)

// Fail reasons recorded on failed jobs.
const (
	ReasonPaymentTimeout = "payment timeout"
	ReasonInterrupted    = "interrupted by restart"
)

// Input is the caller-supplied analysis input after flattening input_data.
// Field order is alphabetical so the JSON encoding is canonical.
type Input struct {
	Address string `json:"address" validate:"required"`
	Network string `json:"network" validate:"required,oneof=mainnet preprod"`
}

// Normalize trims the address and lowercases the network.
func (in Input) Normalize() Input {
	return Input{
		Address: strings.TrimSpace(in.Address),
		Network: strings.ToLower(strings.TrimSpace(in.Network)),
	}
}

// Key returns the normalized input serialization used for idempotency.
func (in Input) Key() string {
	b, _ := json.Marshal(in.Normalize())
	return string(b)
}

// CacheKey returns the subset of the input that determines a result.
func (in Input) CacheKey() CacheKey {
	n := in.Normalize()
	return CacheKey{Address: n.Address, Network: n.Network}
}

// ParseInput decodes a normalized input serialization.
func ParseInput(normalized string) (Input, error) {
	var in Input
	err := json.Unmarshal([]byte(normalized), &in)
	return in, err
}

// KV is one entry of the input_data list.
type KV struct {
	Key   string `json:"key"`
	Value any    `json:"value"`
}

// StartJobRequest is the body of POST /start_job.
type StartJobRequest struct {
	InputData []KV `json:"input_data"`
}

// Flatten turns input_data into a map. Duplicate keys resolve to the last one.
func (r StartJobRequest) Flatten() map[string]any {
	out := make(map[string]any, len(r.InputData))
	for _, kv := range r.InputData {
		out[kv.Key] = kv.Value
	}
	return out
}

// StartJobResponse is returned by POST /start_job.
type StartJobResponse struct {
	JobID     string `json:"job_id"`
	PaymentID string `json:"payment_id"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	JobID      string  `json:"job_id"`
	Status     Status  `json:"status"`
	Result     *string `json:"result"`
	FailReason string  `json:"fail_reason,omitempty"`
}

// Metrics holds job counts by status
type Metrics struct {
	TotalJobs           int64 `json:"total_jobs"`
	AwaitingPaymentJobs int64 `json:"awaiting_payment_jobs"`
	RunningJobs         int64 `json:"running_jobs"`
	CompletedJobs       int64 `json:"completed_jobs"`
	FailedJobs          int64 `json:"failed_jobs"`
	CacheEntries        int64 `json:"cache_entries"`
}
