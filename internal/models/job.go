package models

import (
	"errors"
	"time"
)

// Job is one submitted analysis request.
type Job struct {
	ID              string    `json:"job_id"`
	PaymentID       string    `json:"payment_id"`
	Status          Status    `json:"status"`
	NormalizedInput string    `json:"normalized_input"`
	Result          string    `json:"result,omitempty"`
	FailReason      string    `json:"fail_reason,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// NewAwaitingJob builds a job in its initial state.
func NewAwaitingJob(id, paymentID, normalizedInput string, now time.Time) *Job {
	return &Job{
		ID:              id,
		PaymentID:       paymentID,
		Status:          StatusAwaitingPayment,
		NormalizedInput: normalizedInput,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// NewCompletedJob builds a job that is already completed, as used for cache hits.
func NewCompletedJob(id, paymentID, normalizedInput, result string, now time.Time) (*Job, error) {
	if result == "" {
		return nil, errors.New("completed job requires a result")
	}
	return &Job{
		ID:              id,
		PaymentID:       paymentID,
		Status:          StatusCompleted,
		NormalizedInput: normalizedInput,
		Result:          result,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Check verifies the status/result/fail_reason invariants.
func (j *Job) Check() error {
	if !j.Status.Valid() {
		return errors.New("unknown status " + string(j.Status))
	}
	if (j.Result != "") != (j.Status == StatusCompleted) {
		return errors.New("result must be set exactly when completed")
	}
	if (j.FailReason != "") != (j.Status == StatusFailed) {
		return errors.New("fail_reason must be set exactly when failed")
	}
	return nil
}

// Input decodes the job's normalized input.
func (j *Job) Input() (Input, error) {
	return ParseInput(j.NormalizedInput)
}

// StatusView converts the job into the /status response shape.
func (j *Job) StatusView() StatusResponse {
	resp := StatusResponse{
		JobID:      j.ID,
		Status:     j.Status,
		FailReason: j.FailReason,
	}
	if j.Status == StatusCompleted {
		r := j.Result
		resp.Result = &r
	}
	return resp
}

// CacheKey identifies a cache row.
type CacheKey struct {
	Address string
	Network string
}

// CacheEntry is a previously computed result for a cache key.
type CacheEntry struct {
	Key        CacheKey
	Result     string
	ComputedAt time.Time
}
