package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/models"
	"github.com/walletscore/jobgate/internal/payment"
)

func openStore(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestPreparePurchaseFromJob(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()
	in := models.Input{Address: "addr1", Network: "preprod"}
	if err := db.InsertJob(ctx, models.NewAwaitingJob("job-1", "pay-1", in.Key(), db.Now())); err != nil {
		t.Fatal(err)
	}

	svc := NewPurchaseService(db, nil, PaymentSettings{SellerVKey: "vkey", DefaultNetwork: "mainnet", ServiceURL: "http://pay.local"})
	got, err := svc.PreparePurchase(ctx, PrepareRequest{JobID: "job-1", Timing: payment.DefaultTiming()})
	if err != nil {
		t.Fatalf("PreparePurchase: %v", err)
	}
	if got.PaymentID != "pay-1" || got.Network != "preprod" || got.Payload.Network != "Preprod" {
		t.Errorf("job should supply payment id and network: %+v", got)
	}
	if !strings.Contains(got.Curl, "http://pay.local/purchase") || strings.Contains(got.Curl, "MASUMI_API_KEY=") {
		t.Errorf("unexpected curl %q", got.Curl)
	}

	other, err := svc.PreparePurchase(ctx, PrepareRequest{PaymentID: "pay-1"})
	if err != nil {
		t.Fatal(err)
	}
	if other.Payload.InputHash == got.Payload.InputHash {
		t.Error("input hash should depend on the job")
	}
	if other.Network != "mainnet" {
		t.Errorf("network should default, got %s", other.Network)
	}
}

func TestPreparePurchaseExecute(t *testing.T) {
	db := openStore(t)
	ctx := context.Background()

	svc := NewPurchaseService(db, nil, PaymentSettings{DefaultNetwork: "mainnet"})
	_, err := svc.PreparePurchase(ctx, PrepareRequest{Execute: true})
	if !errorx.IsValidation(err) {
		t.Fatalf("execute without service config should be a validation error, got %v", err)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"success"}`))
	}))
	client := payment.NewClient(srv.URL, "k")
	svc = NewPurchaseService(db, client, PaymentSettings{ServiceURL: srv.URL, APIKey: "k", DefaultNetwork: "mainnet"})
	got, err := svc.PreparePurchase(ctx, PrepareRequest{Execute: true})
	if err != nil {
		t.Fatalf("PreparePurchase: %v", err)
	}
	if got.CreateResponse == nil || got.CreateResponse.StatusCode != http.StatusOK {
		t.Errorf("unexpected create response %+v", got.CreateResponse)
	}

	srv.Close()
	_, err = svc.PreparePurchase(ctx, PrepareRequest{Execute: true})
	if !errors.Is(err, errorx.ErrUpstream) {
		t.Errorf("provider failure should wrap ErrUpstream, got %v", err)
	}
}

func TestPaymentInformation(t *testing.T) {
	svc := NewPurchaseService(openStore(t), nil, PaymentSettings{PriceADA: 0.03, TimeoutSec: 600, IdempotencyWindowSec: 600, DefaultNetwork: "mainnet"})
	info := svc.PaymentInformation("pay-1")
	if info.PaymentID != "pay-1" || info.PriceADA != 0.03 || info.AuthHeader != "token" {
		t.Errorf("unexpected info %+v", info)
	}
	if info.RefundPolicy.PaymentTimeoutSec != 600 || len(info.StatusRead.Fallbacks) != 4 {
		t.Errorf("unexpected policy %+v", info)
	}
}
