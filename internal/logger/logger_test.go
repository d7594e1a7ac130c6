package logger

import (
	"context"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestContextFieldsAreAttached(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	l := New(zap.New(core))

	ctx := WithJobID(context.Background(), "job-1")
	ctx = WithPaymentID(ctx, "pay-1")
	l.Infof(ctx, "[SUBMIT] status=%s", "awaiting payment")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Message != "[SUBMIT] status=awaiting payment" {
		t.Errorf("unexpected message %q", e.Message)
	}
	fields := e.ContextMap()
	if fields["job_id"] != "job-1" || fields["payment_id"] != "pay-1" {
		t.Errorf("unexpected fields %v", fields)
	}
	if _, ok := fields["client_ip"]; ok {
		t.Error("client_ip should be absent")
	}
}

func TestNewZapLoggerLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error", "bogus"} {
		l, err := NewZapLogger(level)
		if err != nil {
			t.Fatalf("level %s: %v", level, err)
		}
		l.Debugf(context.Background(), "level check %s", level)
	}
}
