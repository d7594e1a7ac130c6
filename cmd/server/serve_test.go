package main

import (
	"testing"

	"github.com/walletscore/jobgate/internal/config"
)

func TestPaymentSettingsKeepSeconds(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("IDEMPOTENCY_WINDOW_SEC", "900")
	t.Setenv("MASUMI_PAYMENT_TIMEOUT_SEC", "300")
	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}

	got := paymentSettings(cfg)
	if got.IdempotencyWindowSec != 900 {
		t.Errorf("IdempotencyWindowSec = %d, want 900", got.IdempotencyWindowSec)
	}
	if got.TimeoutSec != 300 {
		t.Errorf("TimeoutSec = %d, want 300", got.TimeoutSec)
	}
	if got.DefaultNetwork != cfg.App.Network {
		t.Errorf("DefaultNetwork = %q, want %q", got.DefaultNetwork, cfg.App.Network)
	}
}
