package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/errorx"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/models"
	"github.com/walletscore/jobgate/internal/payment"
)

// GateConfig controls payment polling.
type GateConfig struct {
	Timeout      time.Duration
	PollInterval time.Duration
}

// Gate waits for payment confirmation of awaiting jobs and hands paid jobs
// to the Runner. Each job is watched by its own goroutine; all of them
// derive from the Gate context and are tracked for shutdown.
type Gate struct {
	store     database.Store
	provider  payment.Provider
	runner    *Runner
	publisher events.Publisher
	log       logger.Logger
	cfg       GateConfig

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.Mutex // orders wg.Add against Shutdown
	wg      sync.WaitGroup
	closing *atomic.Bool
	pending *atomic.Int64
}

// NewGate creates a Gate. Call Shutdown to stop it.
func NewGate(store database.Store, provider payment.Provider, runner *Runner, publisher events.Publisher, log logger.Logger, cfg GateConfig) *Gate {
	if publisher == nil {
		publisher = events.Nop{}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		store:     store,
		provider:  provider,
		runner:    runner,
		publisher: publisher,
		log:       log,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		closing:   atomic.NewBool(false),
		pending:   atomic.NewInt64(0),
	}
}

// Watch starts polling for job with a deadline of now + timeout.
func (g *Gate) Watch(job *models.Job) bool {
	return g.WatchUntil(job, g.store.Now().Add(g.cfg.Timeout))
}

// WatchUntil starts polling for job until deadline. It returns false if the
// Gate is shutting down; the job then stays awaiting payment.
func (g *Gate) WatchUntil(job *models.Job, deadline time.Time) bool {
	g.mu.Lock()
	if g.closing.Load() {
		g.mu.Unlock()
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	g.pending.Inc()
	go func() {
		defer g.wg.Done()
		defer g.pending.Dec()
		g.watch(job, deadline)
	}()
	return true
}

func (g *Gate) watch(job *models.Job, deadline time.Time) {
	ctx := logger.WithPaymentID(logger.WithJobID(g.ctx, job.ID), job.PaymentID)

	network := ""
	if in, err := job.Input(); err == nil {
		network = in.Network
	}

	g.log.Infof(ctx, "[GATE] waiting for payment until %s", deadline.UTC().Format(time.RFC3339))

	for {
		if !g.store.Now().Before(deadline) {
			g.expire(ctx, job)
			return
		}

		state, err := g.provider.IsPaid(ctx, job.PaymentID, network)
		if err != nil {
			if ctx.Err() != nil {
				g.log.Infof(ctx, "[GATE] abandoned on shutdown, job stays awaiting payment")
				return
			}
			// Read errors count as not paid for this cycle.
			g.log.Warnf(ctx, "[GATE] payment status read failed: %v", err)
		}
		if state == payment.Paid {
			g.log.Infof(ctx, "[GATE] payment confirmed")
			if err := g.runner.Run(ctx, job); err != nil {
				g.log.Errorf(ctx, "[GATE] run failed: %v", err)
			}
			return
		}

		wait := g.cfg.PollInterval
		if remaining := deadline.Sub(g.store.Now()); remaining < wait {
			wait = remaining
		}
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			g.log.Infof(ctx, "[GATE] abandoned on shutdown, job stays awaiting payment")
			return
		case <-timer.C:
		}
	}
}

func (g *Gate) expire(ctx context.Context, job *models.Job) {
	err := g.store.Fail(context.WithoutCancel(ctx), job.ID, models.StatusAwaitingPayment, models.ReasonPaymentTimeout)
	switch {
	case errors.Is(err, errorx.ErrInvalidTransition):
		g.log.Warnf(ctx, "[GATE] timeout reached but job already left awaiting payment")
		return
	case err != nil:
		g.log.Errorf(ctx, "[GATE] failed to record payment timeout: %v", err)
		return
	}
	g.log.Infof(ctx, "[GATE] payment timeout")

	ev := events.ForStatus(job.ID, job.PaymentID, models.StatusFailed, models.ReasonPaymentTimeout, g.store.Now())
	if err := g.publisher.Publish(ctx, ev); err != nil {
		g.log.Warnf(ctx, "[EVENT] publish %s failed: %v", ev.Type, err)
	}
}

// Pending returns the number of jobs currently being watched.
func (g *Gate) Pending() int64 {
	return g.pending.Load()
}

// Wait blocks until every watched job has finished.
func (g *Gate) Wait() {
	g.wg.Wait()
}

// Shutdown stops accepting jobs, abandons the running watches and waits for
// them until ctx expires. It is safe to call more than once.
func (g *Gate) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	if g.closing.CAS(false, true) {
		g.log.Infof(ctx, "[GATE] shutting down, %d watches pending", g.pending.Load())
		g.cancel()
	}
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
