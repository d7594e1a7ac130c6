package database

import (
	"context"
	"time"

	"github.com/walletscore/jobgate/internal/models"
)

// Store is the job and cache persistence used by the service and workers.
type Store interface {
	Now() time.Time

	InsertJob(ctx context.Context, job *models.Job) error
	GetJobByID(ctx context.Context, id string) (*models.Job, error)
	FindRecentByInput(ctx context.Context, normalized string, since time.Time) (*models.Job, error)
	ListJobs(ctx context.Context, status models.Status, limit int) ([]models.Job, error)
	ListJobsByStatus(ctx context.Context, status models.Status) ([]models.Job, error)
	GetMetrics(ctx context.Context) (*models.Metrics, error)

	MarkRunning(ctx context.Context, jobID string) error
	Complete(ctx context.Context, jobID, result string) error
	Fail(ctx context.Context, jobID string, from models.Status, reason string) error

	GetCache(ctx context.Context, key models.CacheKey, ttl time.Duration) (*models.CacheEntry, error)
	PutCache(ctx context.Context, key models.CacheKey, result string) error
}

var _ Store = (*DB)(nil)
