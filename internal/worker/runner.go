package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/walletscore/jobgate/internal/chain"
	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
	"github.com/walletscore/jobgate/internal/report"
	"github.com/walletscore/jobgate/internal/scoring"
)

// Result payload constants.
const (
	resultSymbol      = "ADA"
	resultWindowLabel = "30d"
	resultIndicators  = "EMA(12/26), MACD, RSI(14)"
)

// Runner executes one analysis attempt for a job.
type Runner struct {
	store     database.Store
	source    chain.Source
	scorer    scoring.Scorer
	renderer  report.Renderer
	publisher events.Publisher
	log       logger.Logger
}

// NewRunner creates a Runner. A nil renderer disables reports and a nil
// publisher disables events.
func NewRunner(store database.Store, source chain.Source, scorer scoring.Scorer, renderer report.Renderer, publisher events.Publisher, log logger.Logger) *Runner {
	if source == nil {
		source = chain.SampleSource{}
	}
	if scorer == nil {
		scorer = scoring.Deterministic{}
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Runner{
		store:     store,
		source:    source,
		scorer:    scoring.Guard(scorer),
		renderer:  renderer,
		publisher: publisher,
		log:       log,
	}
}

// Run moves job from awaiting payment to running and then to completed.
// It returns errorx.ErrInvalidTransition if another owner already moved the
// job. Once running, the attempt finishes even if ctx is cancelled.
func (r *Runner) Run(ctx context.Context, job *models.Job) error {
	ctx = logger.WithPaymentID(logger.WithJobID(ctx, job.ID), job.PaymentID)

	if err := r.store.MarkRunning(ctx, job.ID); err != nil {
		if errors.Is(err, errorx.ErrInvalidTransition) {
			r.log.Warnf(ctx, "[RUN] job is no longer awaiting payment, skipping")
		}
		return err
	}
	ctx = context.WithoutCancel(ctx)
	r.publish(ctx, job, models.StatusRunning, "")

	in, err := job.Input()
	if err != nil {
		return r.fail(ctx, job, fmt.Errorf("decode input: %w", err))
	}
	r.log.Infof(ctx, "[RUN] analyzing address=%s network=%s", in.Address, in.Network)

	payload := r.analyze(ctx, job.ID, in)

	body, err := json.Marshal(payload)
	if err != nil {
		return r.fail(ctx, job, fmt.Errorf("encode result: %w", err))
	}
	result := string(body)

	if err := r.store.PutCache(ctx, in.CacheKey(), result); err != nil {
		r.log.Warnf(ctx, "[RUN] cache write failed: %v", err)
	}

	if err := r.store.Complete(ctx, job.ID, result); err != nil {
		return r.fail(ctx, job, fmt.Errorf("complete job: %w", err))
	}
	r.publish(ctx, job, models.StatusCompleted, "")
	r.log.Infof(ctx, "[FINISH] risk_score=%d health=%s mode=%s", payload.RiskScore, payload.Health, payload.AnalysisMode)
	return nil
}

// analyze fetches facts and scores them, falling back to sample facts and
// deterministic scoring. It never fails.
func (r *Runner) analyze(ctx context.Context, jobID string, in models.Input) models.Result {
	facts, err := r.source.Fetch(ctx, in)
	if err != nil {
		r.log.Warnf(ctx, "[RUN] data source failed, using sample facts: %v", err)
		facts = chain.SampleFacts()
	}

	mode := scoring.Mode(r.scorer)
	score, err := r.scorer.Score(ctx, facts)
	if err != nil {
		r.log.Warnf(ctx, "[RUN] scorer %s failed, using deterministic rules: %v", mode, err)
		score = scoring.Evaluate(facts)
		mode = scoring.ModeDeterministic
	}

	payload := models.Result{
		Address:           in.Address,
		Network:           in.Network,
		Facts:             facts,
		Score:             score,
		AnalysisMode:      mode,
		Symbol:            resultSymbol,
		WindowLabel:       resultWindowLabel,
		IndicatorsSummary: resultIndicators,
	}

	if r.renderer != nil {
		path, err := r.renderer.Render(jobID, payload)
		if err != nil {
			r.log.Warnf(ctx, "[RUN] report rendering failed: %v", err)
		} else {
			payload.ReportPath = path
		}
	}
	return payload
}

func (r *Runner) fail(ctx context.Context, job *models.Job, cause error) error {
	reason := "internal error: " + cause.Error()
	r.log.Errorf(ctx, "[RUN] %s", reason)
	if err := r.store.Fail(ctx, job.ID, models.StatusRunning, reason); err != nil {
		r.log.Errorf(ctx, "[RUN] failed to record failure: %v", err)
		return fmt.Errorf("%w (record failure: %v)", cause, err)
	}
	r.publish(ctx, job, models.StatusFailed, reason)
	return cause
}

func (r *Runner) publish(ctx context.Context, job *models.Job, status models.Status, reason string) {
	ev := events.ForStatus(job.ID, job.PaymentID, status, reason, r.store.Now())
	if err := r.publisher.Publish(ctx, ev); err != nil {
		r.log.Warnf(ctx, "[EVENT] publish %s failed: %v", ev.Type, err)
	}
}
