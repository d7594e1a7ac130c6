package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/models"
)

// MarkRunning moves a job from awaiting payment to running.
func (db *DB) MarkRunning(ctx context.Context, jobID string) error {
	return db.transition(ctx, jobID, models.StatusAwaitingPayment, models.StatusRunning, "", "")
}

// Complete moves a running job to completed and stores its result.
func (db *DB) Complete(ctx context.Context, jobID, result string) error {
	if result == "" {
		return fmt.Errorf("complete job %s: empty result", jobID)
	}
	return db.transition(ctx, jobID, models.StatusRunning, models.StatusCompleted, result, "")
}

// Fail moves a job from the given non-terminal status to failed.
func (db *DB) Fail(ctx context.Context, jobID string, from models.Status, reason string) error {
	if reason == "" {
		return fmt.Errorf("fail job %s: empty reason", jobID)
	}
	if from.Terminal() {
		return fmt.Errorf("fail job %s from %s: %w", jobID, from, errorx.ErrInvalidTransition)
	}
	return db.transition(ctx, jobID, from, models.StatusFailed, "", reason)
}

// transition applies from -> to only if the job is still in from. The
// conditional update is what keeps two owners from both advancing a job.
func (db *DB) transition(ctx context.Context, jobID string, from, to models.Status, result, reason string) error {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs
		SET status = ?, result = ?, fail_reason = ?, updated_at = ?
		WHERE job_id = ? AND status = ?
	`, string(to), nullString(result), nullString(reason), db.now().UnixNano(), jobID, string(from))
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", jobID, to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", jobID, to, err)
	}
	if n == 1 {
		return nil
	}

	current, err := db.GetJobByID(ctx, jobID)
	if errors.Is(err, errorx.ErrJobNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("update job %s to %s: %w", jobID, to, err)
	}
	return fmt.Errorf("job %s is %s, not %s: %w", jobID, current.Status, from, errorx.ErrInvalidTransition)
}
