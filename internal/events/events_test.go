package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/walletscore/jobgate/internal/models"
)

type recorder struct {
	events []Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func TestForStatus(t *testing.T) {
	at := time.Unix(1700000000, 0)
	tests := []struct {
		status models.Status
		want   string
	}{
		{models.StatusAwaitingPayment, TypeCreated},
		{models.StatusRunning, TypeRunning},
		{models.StatusCompleted, TypeCompleted},
		{models.StatusFailed, TypeFailed},
	}
	for _, tt := range tests {
		if got := ForStatus("j", "p", tt.status, "", at).Type; got != tt.want {
			t.Errorf("ForStatus(%s) = %s, want %s", tt.status, got, tt.want)
		}
	}
}

func TestMultiFansOut(t *testing.T) {
	a := &recorder{}
	b := &recorder{err: errors.New("down")}
	m := Multi{a, nil, b}

	err := m.Publish(context.Background(), Event{Type: TypeCreated, JobID: "j"})
	if err == nil {
		t.Error("expected joined error from failing publisher")
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Errorf("every publisher should see the event: %d %d", len(a.events), len(b.events))
	}
}

func TestRedisPublisher(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	defer mr.Close()

	ctx := context.Background()
	pub, err := NewRedisPublisher(ctx, mr.Addr(), "", 0, "jobgate:jobs")
	if err != nil {
		t.Fatalf("NewRedisPublisher: %v", err)
	}
	defer pub.Close()

	sub := pub.Subscribe(ctx)
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	want := ForStatus("job-1", "pay-1", models.StatusFailed, models.ReasonPaymentTimeout, time.Unix(1700000000, 0).UTC())
	if err := pub.Publish(ctx, want); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	rctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	msg, err := sub.ReceiveMessage(rctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.Channel != "jobgate:jobs" {
		t.Errorf("channel = %s", msg.Channel)
	}
	var got Event
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeFailed || got.JobID != "job-1" || got.FailReason != models.ReasonPaymentTimeout || !got.At.Equal(want.At) {
		t.Errorf("unexpected event %+v", got)
	}
}

func TestNewRedisPublisherFailsWithoutServer(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatal(err)
	}
	addr := mr.Addr()
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := NewRedisPublisher(ctx, addr, "", 0, "c"); err == nil {
		t.Error("expected connection error")
	}
}
