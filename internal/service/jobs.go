package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
	"github.com/walletscore/jobgate/internal/worker"
)

const (
	msgInvalidAddress = "Missing or invalid 'address'"
	msgInvalidNetwork = "Invalid 'network' (use 'mainnet' or 'preprod')"
)

// Config holds the request handling settings.
type Config struct {
	DefaultNetwork    string
	CacheTTL          time.Duration
	IdempotencyWindow time.Duration
}

// JobService creates jobs and answers status queries. With a nil gate jobs
// run synchronously inside StartJob.
type JobService struct {
	store     database.Store
	runner    *worker.Runner
	gate      *worker.Gate
	publisher events.Publisher
	log       logger.Logger
	cfg       Config
	validate  *validator.Validate
	newID     func() string
}

// NewJobService wires a JobService.
func NewJobService(store database.Store, runner *worker.Runner, gate *worker.Gate, publisher events.Publisher, log logger.Logger, cfg Config) *JobService {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if cfg.DefaultNetwork == "" {
		cfg.DefaultNetwork = models.NetworkMainnet
	}
	return &JobService{
		store:     store,
		runner:    runner,
		gate:      gate,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		validate:  validator.New(),
		newID:     uuid.NewString,
	}
}

// Bypass reports whether jobs run without waiting for payment.
func (s *JobService) Bypass() bool {
	return s.gate == nil
}

// ParseInput flattens input_data and validates it. Duplicate keys resolve to
// the last occurrence and a missing network defaults to the configured one.
func (s *JobService) ParseInput(req models.StartJobRequest) (models.Input, error) {
	kv := req.Flatten()

	var address string
	if raw, present := kv["address"]; present && raw != nil {
		a, ok := raw.(string)
		if !ok {
			return models.Input{}, errorx.Invalid("address", msgInvalidAddress)
		}
		address = a
	}

	network := s.cfg.DefaultNetwork
	if raw, present := kv["network"]; present {
		n, ok := raw.(string)
		if !ok {
			return models.Input{}, errorx.Invalid("network", msgInvalidNetwork)
		}
		network = n
	}

	in := models.Input{Address: address, Network: network}.Normalize()
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Field() == "Network" {
			return models.Input{}, errorx.Invalid("network", msgInvalidNetwork)
		}
		return models.Input{}, errorx.Invalid("address", msgInvalidAddress)
	}
	return in, nil
}

// StartJob returns the job for in: a recent identical job if one exists
// within the idempotency window, a new completed job on a cache hit, or a
// new job that is either run immediately or handed to the payment gate.
func (s *JobService) StartJob(ctx context.Context, in models.Input) (*models.StartJobResponse, error) {
	in = in.Normalize()
	key := in.Key()
	now := s.store.Now()

	recent, err := s.store.FindRecentByInput(ctx, key, now.Add(-s.cfg.IdempotencyWindow))
	switch {
	case err == nil:
		s.log.Infof(logger.WithJobID(ctx, recent.ID), "[IDEMPOTENT] reusing job status=%s", recent.Status)
		return &models.StartJobResponse{JobID: recent.ID, PaymentID: recent.PaymentID}, nil
	case !errors.Is(err, errorx.ErrJobNotFound):
		return nil, fmt.Errorf("idempotency lookup: %w", err)
	}

	jobID, paymentID := s.newID(), s.newID()
	ctx = logger.WithPaymentID(logger.WithJobID(ctx, jobID), paymentID)

	entry, err := s.store.GetCache(ctx, in.CacheKey(), s.cfg.CacheTTL)
	switch {
	case err == nil:
		job, err := models.NewCompletedJob(jobID, paymentID, key, entry.Result, now)
		if err != nil {
			return nil, err
		}
		if err := s.store.InsertJob(ctx, job); err != nil {
			return nil, fmt.Errorf("create cached job: %w", err)
		}
		s.log.Infof(ctx, "[CACHE] completed from cache network=%s", in.Network)
		s.publish(ctx, job, models.StatusCompleted)
		return &models.StartJobResponse{JobID: jobID, PaymentID: paymentID}, nil
	case !errors.Is(err, errorx.ErrCacheMiss):
		return nil, fmt.Errorf("cache lookup: %w", err)
	}

	job := models.NewAwaitingJob(jobID, paymentID, key, now)
	if err := s.store.InsertJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	s.log.Infof(ctx, "[SUBMIT] job created status=%s network=%s", job.Status, in.Network)
	s.publish(ctx, job, models.StatusAwaitingPayment)

	if s.gate == nil {
		// The run outcome is recorded on the job; the caller still gets its ids.
		// A client disconnect must not strand the job before it starts running.
		if err := s.runner.Run(context.WithoutCancel(ctx), job); err != nil {
			s.log.Errorf(ctx, "[SUBMIT] immediate run failed: %v", err)
		}
	} else if !s.gate.Watch(job) {
		s.log.Warnf(ctx, "[SUBMIT] gate is shutting down, job left awaiting payment")
	}

	return &models.StartJobResponse{JobID: jobID, PaymentID: paymentID}, nil
}

// Status returns the public view of a job.
func (s *JobService) Status(ctx context.Context, jobID string) (*models.StatusResponse, error) {
	job, err := s.store.GetJobByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	view := job.StatusView()
	return &view, nil
}

// Job returns the stored job.
func (s *JobService) Job(ctx context.Context, jobID string) (*models.Job, error) {
	return s.store.GetJobByID(ctx, jobID)
}

// ListJobs returns recent jobs, newest first, optionally filtered by status.
func (s *JobService) ListJobs(ctx context.Context, status models.Status, limit int) ([]models.Job, error) {
	if status != "" && !status.Valid() {
		return nil, errorx.Invalid("status", fmt.Sprintf("unknown status %q", status))
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.store.ListJobs(ctx, status, limit)
}

// Metrics returns job counts by status.
func (s *JobService) Metrics(ctx context.Context) (*models.Metrics, error) {
	return s.store.GetMetrics(ctx)
}

func (s *JobService) publish(ctx context.Context, job *models.Job, status models.Status) {
	ev := events.ForStatus(job.ID, job.PaymentID, status, "", s.store.Now())
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.log.Warnf(ctx, "[EVENT] publish %s failed: %v", ev.Type, err)
	}
}
