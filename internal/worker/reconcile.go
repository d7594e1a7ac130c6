package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
)

// Recovery holds what a previous process left behind and how to resume it.
type Recovery struct {
	Store     database.Store
	Runner    *Runner
	Gate      *Gate // nil when payments are bypassed
	Publisher events.Publisher
	Log       logger.Logger
	Timeout   time.Duration
}

// RecoveryReport counts the jobs touched by Reconcile.
type RecoveryReport struct {
	Interrupted int
	Resumed     int
	Ran         int
}

// Reconcile fails jobs left running by a crash, since an attempt may already
// have happened, and resumes jobs still awaiting payment. With a Gate the
// deadline is created_at + Timeout; without one the job runs immediately.
func Reconcile(ctx context.Context, r Recovery) (RecoveryReport, error) {
	var rep RecoveryReport
	pub := r.Publisher
	if pub == nil {
		pub = events.Nop{}
	}

	running, err := r.Store.ListJobsByStatus(ctx, models.StatusRunning)
	if err != nil {
		return rep, fmt.Errorf("list running jobs: %w", err)
	}
	for i := range running {
		job := &running[i]
		jctx := logger.WithJobID(ctx, job.ID)
		if err := r.Store.Fail(ctx, job.ID, models.StatusRunning, models.ReasonInterrupted); err != nil {
			r.Log.Warnf(jctx, "[RECOVER] could not fail interrupted job: %v", err)
			continue
		}
		rep.Interrupted++
		r.Log.Warnf(jctx, "[RECOVER] job was running at shutdown, marked failed")
		ev := events.ForStatus(job.ID, job.PaymentID, models.StatusFailed, models.ReasonInterrupted, r.Store.Now())
		if err := pub.Publish(jctx, ev); err != nil {
			r.Log.Warnf(jctx, "[EVENT] publish %s failed: %v", ev.Type, err)
		}
	}

	awaiting, err := r.Store.ListJobsByStatus(ctx, models.StatusAwaitingPayment)
	if err != nil {
		return rep, fmt.Errorf("list awaiting jobs: %w", err)
	}
	for i := range awaiting {
		job := &awaiting[i]
		if r.Gate == nil {
			if err := r.Runner.Run(ctx, job); err != nil {
				r.Log.Warnf(logger.WithJobID(ctx, job.ID), "[RECOVER] run failed: %v", err)
				continue
			}
			rep.Ran++
			continue
		}
		if r.Gate.WatchUntil(job, job.CreatedAt.Add(r.Timeout)) {
			rep.Resumed++
		}
	}

	r.Log.Infof(ctx, "[RECOVER] interrupted=%d resumed=%d ran=%d", rep.Interrupted, rep.Resumed, rep.Ran)
	return rep, nil
}
