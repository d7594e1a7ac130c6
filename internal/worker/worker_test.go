package worker

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/walletscore/jobgate/internal/chain"
	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
	"github.com/walletscore/jobgate/internal/payment"
	"github.com/walletscore/jobgate/internal/report"
	"github.com/walletscore/jobgate/internal/scoring"
)

// fakeProvider reports paid once paidAfter has elapsed since creation and
// fails the first failures reads.
type fakeProvider struct {
	mu        sync.Mutex
	start     time.Time
	paidAfter time.Duration
	never     bool
	failures  int
	calls     int
}

func (p *fakeProvider) IsPaid(ctx context.Context, paymentID, network string) (payment.State, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if err := ctx.Err(); err != nil {
		return payment.Unknown, err
	}
	if p.failures > 0 {
		p.failures--
		return payment.Unknown, errors.New("connection refused")
	}
	if p.never || time.Since(p.start) < p.paidAfter {
		return payment.NotPaid, nil
	}
	return payment.Paid, nil
}

func (p *fakeProvider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type eventLog struct {
	mu     sync.Mutex
	events []events.Event
}

func (l *eventLog) Publish(_ context.Context, ev events.Event) error {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
	return nil
}

func (l *eventLog) Types(jobID string) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.JobID == jobID {
			out = append(out, ev.Type)
		}
	}
	return out
}

type failingSource struct{}

func (failingSource) Fetch(context.Context, models.Input) (models.Facts, error) {
	return models.Facts{}, errors.New("indexer unavailable")
}

type panickingScorer struct{}

func (panickingScorer) Score(context.Context, models.Facts) (models.Score, error) {
	panic("model exploded")
}

func (panickingScorer) Mode() string { return "openai" }

func openDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func insertAwaiting(t *testing.T, db *database.DB, id string, createdAt time.Time) *models.Job {
	t.Helper()
	in := models.Input{Address: "addr_" + id, Network: "preprod"}
	job := models.NewAwaitingJob(id, "pay-"+id, in.Key(), createdAt)
	if err := db.InsertJob(context.Background(), job); err != nil {
		t.Fatalf("InsertJob: %v", err)
	}
	return job
}

func getJob(t *testing.T, db *database.DB, id string) *models.Job {
	t.Helper()
	job, err := db.GetJobByID(context.Background(), id)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	return job
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func TestGateTimeoutNeverRuns(t *testing.T) {
	db := openDB(t)
	log := &eventLog{}
	provider := &fakeProvider{never: true}
	runner := NewRunner(db, nil, nil, nil, log, logger.NewNop())
	gate := NewGate(db, provider, runner, log, logger.NewNop(), GateConfig{Timeout: 150 * time.Millisecond, PollInterval: 20 * time.Millisecond})

	job := insertAwaiting(t, db, "j1", db.Now())
	if !gate.Watch(job) {
		t.Fatal("Watch refused a job")
	}
	gate.Wait()

	got := getJob(t, db, "j1")
	if got.Status != models.StatusFailed || got.FailReason != models.ReasonPaymentTimeout {
		t.Fatalf("expected payment timeout failure, got %+v", got)
	}
	if contains(log.Types("j1"), events.TypeRunning) {
		t.Error("job must never reach running")
	}
	if provider.Calls() < 2 {
		t.Errorf("expected repeated polling, got %d calls", provider.Calls())
	}
	if gate.Pending() != 0 {
		t.Errorf("pending = %d after wait", gate.Pending())
	}
}

func TestGatePaidAfterDelayCompletes(t *testing.T) {
	db := openDB(t)
	log := &eventLog{}
	provider := &fakeProvider{start: time.Now(), paidAfter: 80 * time.Millisecond}
	runner := NewRunner(db, chain.SampleSource{}, scoring.Deterministic{}, nil, log, logger.NewNop())
	gate := NewGate(db, provider, runner, log, logger.NewNop(), GateConfig{Timeout: 5 * time.Second, PollInterval: 20 * time.Millisecond})

	job := insertAwaiting(t, db, "j1", db.Now())
	gate.Watch(job)
	gate.Wait()

	got := getJob(t, db, "j1")
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %+v", got)
	}
	var result models.Result
	if err := json.Unmarshal([]byte(got.Result), &result); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if result.Address != "addr_j1" || result.Network != "preprod" || result.AnalysisMode != scoring.ModeDeterministic {
		t.Errorf("unexpected result %+v", result)
	}

	types := log.Types("j1")
	if len(types) != 2 || types[0] != events.TypeRunning || types[1] != events.TypeCompleted {
		t.Errorf("unexpected events %v", types)
	}

	if _, err := db.GetCache(context.Background(), models.CacheKey{Address: "addr_j1", Network: "preprod"}, time.Hour); err != nil {
		t.Errorf("result should be cached: %v", err)
	}
}

func TestGateTransientErrorsCountAsNotPaid(t *testing.T) {
	db := openDB(t)
	provider := &fakeProvider{failures: 3}
	runner := NewRunner(db, nil, nil, nil, nil, logger.NewNop())
	gate := NewGate(db, provider, runner, nil, logger.NewNop(), GateConfig{Timeout: 5 * time.Second, PollInterval: 10 * time.Millisecond})

	gate.Watch(insertAwaiting(t, db, "j1", db.Now()))
	gate.Wait()

	if got := getJob(t, db, "j1"); got.Status != models.StatusCompleted {
		t.Fatalf("expected completion after transient errors, got %+v", got)
	}
	if provider.Calls() != 4 {
		t.Errorf("expected 4 reads, got %d", provider.Calls())
	}
}

func TestGateShutdownAbandonsWatches(t *testing.T) {
	db := openDB(t)
	provider := &fakeProvider{never: true}
	runner := NewRunner(db, nil, nil, nil, nil, logger.NewNop())
	gate := NewGate(db, provider, runner, nil, logger.NewNop(), GateConfig{Timeout: time.Hour, PollInterval: 10 * time.Millisecond})

	gate.Watch(insertAwaiting(t, db, "j1", db.Now()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := gate.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := gate.Shutdown(ctx); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}

	if got := getJob(t, db, "j1"); got.Status != models.StatusAwaitingPayment {
		t.Errorf("abandoned job should stay awaiting payment, got %s", got.Status)
	}
	if gate.Watch(insertAwaiting(t, db, "j2", db.Now())) {
		t.Error("Watch after shutdown should be refused")
	}
}

func TestRunnerFallbacks(t *testing.T) {
	db := openDB(t)
	dir := t.TempDir()
	runner := NewRunner(db, failingSource{}, panickingScorer{}, report.NewHTMLRenderer(dir), nil, logger.NewNop())

	job := insertAwaiting(t, db, "j1", db.Now())
	if err := runner.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got := getJob(t, db, "j1")
	if got.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %+v", got)
	}
	var result models.Result
	if err := json.Unmarshal([]byte(got.Result), &result); err != nil {
		t.Fatal(err)
	}
	sample := chain.SampleFacts()
	if result.AgeDays != sample.AgeDays || result.Balances.ADA != sample.Balances.ADA {
		t.Errorf("expected sample facts, got %+v", result.Facts)
	}
	if result.AnalysisMode != scoring.ModeDeterministic || result.Health == "" {
		t.Errorf("expected deterministic fallback, got %+v", result.Score)
	}
	if result.ReportPath != filepath.Join(dir, "j1.html") {
		t.Errorf("report_path = %q", result.ReportPath)
	}
}

func TestRunnerRunsOnce(t *testing.T) {
	db := openDB(t)
	runner := NewRunner(db, nil, nil, nil, nil, logger.NewNop())
	job := insertAwaiting(t, db, "j1", db.Now())

	if err := runner.Run(context.Background(), job); err != nil {
		t.Fatal(err)
	}
	if err := runner.Run(context.Background(), job); !errors.Is(err, errorx.ErrInvalidTransition) {
		t.Errorf("second run should be rejected, got %v", err)
	}
}

func TestReconcileWithGate(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()
	log := &eventLog{}
	provider := &fakeProvider{}
	runner := NewRunner(db, nil, nil, nil, log, logger.NewNop())
	timeout := 10 * time.Minute
	gate := NewGate(db, provider, runner, log, logger.NewNop(), GateConfig{Timeout: timeout, PollInterval: 10 * time.Millisecond})

	insertAwaiting(t, db, "expired", db.Now().Add(-time.Hour))
	insertAwaiting(t, db, "fresh", db.Now())
	insertAwaiting(t, db, "crashed", db.Now())
	if err := db.MarkRunning(ctx, "crashed"); err != nil {
		t.Fatal(err)
	}

	rep, err := Reconcile(ctx, Recovery{Store: db, Runner: runner, Gate: gate, Publisher: log, Log: logger.NewNop(), Timeout: timeout})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	gate.Wait()

	if rep.Interrupted != 1 || rep.Resumed != 2 {
		t.Errorf("unexpected report %+v", rep)
	}
	if got := getJob(t, db, "crashed"); got.Status != models.StatusFailed || got.FailReason != models.ReasonInterrupted {
		t.Errorf("crashed job: %+v", got)
	}
	if got := getJob(t, db, "expired"); got.Status != models.StatusFailed || got.FailReason != models.ReasonPaymentTimeout {
		t.Errorf("expired job: %+v", got)
	}
	if got := getJob(t, db, "fresh"); got.Status != models.StatusCompleted {
		t.Errorf("fresh job: %+v", got)
	}
}

func TestReconcileBypassRunsImmediately(t *testing.T) {
	db := openDB(t)
	runner := NewRunner(db, nil, nil, nil, nil, logger.NewNop())
	insertAwaiting(t, db, "j1", db.Now().Add(-time.Hour))

	rep, err := Reconcile(context.Background(), Recovery{Store: db, Runner: runner, Log: logger.NewNop(), Timeout: time.Minute})
	if err != nil {
		t.Fatal(err)
	}
	if rep.Ran != 1 {
		t.Errorf("unexpected report %+v", rep)
	}
	if got := getJob(t, db, "j1"); got.Status != models.StatusCompleted {
		t.Errorf("expected completed, got %+v", got)
	}
}
