package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/walletscore/jobgate/internal/api"
	"github.com/walletscore/jobgate/internal/chain"
	"github.com/walletscore/jobgate/internal/config"
	"github.com/walletscore/jobgate/internal/database"
	"github.com/walletscore/jobgate/internal/events"
	"github.com/walletscore/jobgate/internal/logger"
	"github.com/walletscore/jobgate/internal/payment"
	"github.com/walletscore/jobgate/internal/ratelimit"
	"github.com/walletscore/jobgate/internal/report"
	"github.com/walletscore/jobgate/internal/scoring"
	"github.com/walletscore/jobgate/internal/service"
	"github.com/walletscore/jobgate/internal/websocket"
	"github.com/walletscore/jobgate/internal/worker"
)

const shutdownGrace = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the payment gate",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}
		return serve(cfg)
	},
}

func serve(cfg *config.Config) error {
	log, err := logger.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()

	ctx := context.Background()

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return err
	}
	defer db.Close()
	log.Infof(ctx, "[INIT] Database initialized at %s", cfg.Database.Path)

	var source chain.Source = chain.SampleSource{}
	if cfg.Chain.BlockfrostProjectID != "" {
		source = chain.NewBlockfrost(cfg.Chain.BlockfrostProjectID)
		log.Infof(ctx, "[INIT] Using Blockfrost data source")
	}
	scorer := scoring.New(cfg.AI.Mode, cfg.AI.OpenAIAPIKey, scoring.WithOpenAIModel(cfg.AI.Model))
	if cfg.AI.Mode == scoring.ModeOpenAI && cfg.AI.OpenAIAPIKey == "" {
		log.Warnf(ctx, "[INIT] ai.mode=openai but OPENAI_API_KEY is not set, using deterministic analysis")
	}
	log.Infof(ctx, "[INIT] Analysis mode: %s", scoring.Mode(scorer))
	renderer := report.NewHTMLRenderer(cfg.Reports.Dir)

	wsManager := websocket.New(db, log)
	defer wsManager.Close()

	publishers := events.Multi{wsManager}
	if cfg.Events.RedisAddr != "" {
		redisPub, err := events.NewRedisPublisher(ctx, cfg.Events.RedisAddr, cfg.Events.RedisPassword, cfg.Events.RedisDB, cfg.Events.Channel)
		if err != nil {
			return err
		}
		defer redisPub.Close()
		publishers = append(publishers, redisPub)
		log.Infof(ctx, "[INIT] Publishing job events to redis channel %s", redisPub.Channel())
	}

	runner := worker.NewRunner(db, source, scorer, renderer, publishers, log)

	var client *payment.Client
	if cfg.Payments.ServiceURL != "" && cfg.Payments.APIKey != "" {
		client = payment.NewClient(cfg.Payments.ServiceURL, cfg.Payments.APIKey)
	}

	var gate *worker.Gate
	if !cfg.Payments.Bypass {
		gate = worker.NewGate(db, client, runner, publishers, log, worker.GateConfig{
			Timeout:      cfg.Payments.Timeout(),
			PollInterval: cfg.Payments.PollInterval(),
		})
		log.Infof(ctx, "[INIT] Payment gate enabled: timeout=%s poll=%s", cfg.Payments.Timeout(), cfg.Payments.PollInterval())
	} else {
		log.Warnf(ctx, "[INIT] Payments are bypassed, jobs run immediately")
	}

	if cfg.Payments.ResumeOnStart {
		rep, err := worker.Reconcile(ctx, worker.Recovery{
			Store:     db,
			Runner:    runner,
			Gate:      gate,
			Publisher: publishers,
			Log:       log,
			Timeout:   cfg.Payments.Timeout(),
		})
		if err != nil {
			return fmt.Errorf("reconcile jobs: %w", err)
		}
		log.Infof(ctx, "[RECOVER] interrupted=%d resumed=%d ran=%d", rep.Interrupted, rep.Resumed, rep.Ran)
	}

	jobs := service.NewJobService(db, runner, gate, publishers, log, service.Config{
		DefaultNetwork:    cfg.App.Network,
		CacheTTL:          cfg.Cache.TTL(),
		IdempotencyWindow: cfg.Idempotency.Window(),
	})
	purchases := service.NewPurchaseService(db, client, paymentSettings(cfg))

	apiServer := api.NewServer(jobs, purchases, ratelimit.New(cfg.RateLimitCapacity()), wsManager, log, api.Info{
		Name:       cfg.App.Name,
		Bypass:     cfg.Payments.Bypass,
		ReportsDir: cfg.Reports.Dir,
		ScorerMode: scoring.Mode(scorer),
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           apiServer.SetupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof(ctx, "[INIT] Server starting on http://localhost%s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case sig := <-sigCh:
		log.Infof(ctx, "[SHUTDOWN] received %s", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warnf(ctx, "[SHUTDOWN] http server: %v", err)
	}
	if gate != nil {
		if err := gate.Shutdown(shutdownCtx); err != nil {
			log.Warnf(ctx, "[SHUTDOWN] payment gate: %v", err)
		}
	}
	log.Infof(ctx, "[SHUTDOWN] done")
	return nil
}

func paymentSettings(cfg *config.Config) service.PaymentSettings {
	return service.PaymentSettings{
		ServiceURL:           cfg.Payments.ServiceURL,
		APIKey:               cfg.Payments.APIKey,
		SellerVKey:           cfg.Payments.SellerVKey,
		PriceADA:             cfg.Payments.PriceADA,
		DefaultNetwork:       cfg.App.Network,
		TimeoutSec:           cfg.Payments.TimeoutSec,
		IdempotencyWindowSec: cfg.Idempotency.WindowSec,
	}
}
