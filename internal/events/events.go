package events

import (
	"context"
	"errors"
	"time"

	"github.com/walletscore/jobgate/internal/models"
)

// Event types.
const (
	TypeCreated   = "job.created"
	TypeRunning   = "job.running"
	TypeCompleted = "job.completed"
	TypeFailed    = "job.failed"
)

// Event describes one job state change.
type Event struct {
	Type       string        `json:"type"`
	JobID      string        `json:"job_id"`
	PaymentID  string        `json:"payment_id,omitempty"`
	Status     models.Status `json:"status"`
	FailReason string        `json:"fail_reason,omitempty"`
	At         time.Time     `json:"at"`
}

// ForStatus builds the event emitted when a job enters status.
func ForStatus(jobID, paymentID string, status models.Status, reason string, at time.Time) Event {
	ev := Event{JobID: jobID, PaymentID: paymentID, Status: status, FailReason: reason, At: at}
	switch status {
	case models.StatusRunning:
		ev.Type = TypeRunning
	case models.StatusCompleted:
		ev.Type = TypeCompleted
	case models.StatusFailed:
		ev.Type = TypeFailed
	default:
		ev.Type = TypeCreated
	}
	return ev
}

// Publisher delivers job events. Delivery is best effort.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards events.
type Nop struct{}

// Publish does nothing.
func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

// Publish delivers ev to every publisher, even after one fails.
func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
