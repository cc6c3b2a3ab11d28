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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/virtnum/golang_services/internal/platform/config"
	"github.com/virtnum/golang_services/internal/platform/database"
	"github.com/virtnum/golang_services/internal/platform/logger"
	"github.com/virtnum/golang_services/internal/platform/messagebroker"

	"github.com/virtnum/golang_services/internal/provisioning_service/adapters/telephonyprovider"
	"github.com/virtnum/golang_services/internal/provisioning_service/app"
	"github.com/virtnum/golang_services/internal/provisioning_service/repository/postgres"
	transporthttp "github.com/virtnum/golang_services/internal/provisioning_service/transport/http"
)

const (
	serviceName     = "provisioning-service"
	startupTimeout  = 30 * time.Second
	shutdownTimeout = 15 * time.Second
)

func main() {
	mainCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("Starting service...")

	startupCtx, cancelStartup := context.WithTimeout(mainCtx, startupTimeout)
	defer cancelStartup()

	dbPool, err := database.NewDBPool(startupCtx, cfg.PostgresDSN)
	if err != nil {
		log.Error("Failed to initialize database connection pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	log.Info("Database connection pool initialized")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, log, serviceName)
	if err != nil {
		log.Error("Failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	log.Info("NATS connection initialized")

	numberRepo := postgres.NewPgNumberRepository(dbPool, log)
	taskRepo := postgres.NewPgTaskRepository(dbPool, log)

	var adapter telephonyprovider.Adapter
	if cfg.ProviderName == "mock" {
		adapter = telephonyprovider.NewMockProvider(log, "mock", cfg.ProviderFailRate, 50, 250)
	} else {
		adapter = telephonyprovider.NewHTTPProvider(log, cfg.ProviderBaseURL, cfg.ProviderAPIKey, nil)
	}
	log.Info("Telephony provider adapter initialized", "provider", adapter.GetName())

	sinks := []app.Notifier{app.NewNATSNotifier(natsClient, cfg.EventsSubject, log)}
	if cfg.SMTPHost != "" {
		sinks = append(sinks, app.NewEmailNotifier(app.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
		}, log))
	}
	notifier := app.NewMultiNotifier(log, sinks...)

	policy := app.RetryPolicy{
		MaxAttempts:  cfg.RetryMaxAttempts,
		PriorityStep: cfg.RetryPriorityStep,
		MinPriority:  cfg.RetryMinPriority,
	}
	processor := app.NewQueueProcessor(taskRepo, numberRepo, adapter, notifier, policy, app.ProcessorConfig{
		PollingInterval:    cfg.ProcessorPollingInterval,
		Concurrency:        cfg.ProcessorConcurrency,
		AdapterCallTimeout: cfg.ProcessorAdapterCallTimeout,
		StaleClaimAfter:    cfg.ProcessorStaleClaimAfter,
		RetentionWindow:    cfg.ProcessorRetentionWindow,
		SweepInterval:      cfg.ProcessorSweepInterval,
	}, log)

	svc := app.NewProvisioningService(taskRepo, numberRepo, processor, natsClient, log)

	if cfg.ProcessorAutoStart {
		if err := processor.Start(context.Background()); err != nil {
			log.Error("Failed to start queue processor", "error", err)
			os.Exit(1)
		}
	}

	if err := svc.StartConsumingBillingEvents(mainCtx, cfg.BillingEventsSubject, serviceName); err != nil {
		log.Error("Failed to subscribe to billing events", "error", err)
		os.Exit(1)
	}
	defer svc.StopConsumingBillingEvents()

	validate := validator.New()
	handler := transporthttp.NewProvisioningHandler(svc, log, validate)

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())

	authMW := transporthttp.AdminAuthMiddleware(cfg.AdminAPIToken, log)
	r.Route("/api/v1", func(v1 chi.Router) {
		v1.Use(authMW)
		handler.RegisterRoutes(v1)
		handler.RegisterProcessorRoutes(v1)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: r,
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("Starting HTTP server", "address", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-groupCtx.Done()
		log.Info("Shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown failed", "error", err)
		}
		if err := processor.Stop(shutdownCtx); err != nil {
			log.Error("Queue processor shutdown failed", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Service exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("Service stopped")
}
