package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/patternwatch/internal/adapter/agentapi"
	pwhttp "github.com/Strob0t/patternwatch/internal/adapter/http"
	pwnats "github.com/Strob0t/patternwatch/internal/adapter/nats"
	"github.com/Strob0t/patternwatch/internal/adapter/natskv"
	pwotel "github.com/Strob0t/patternwatch/internal/adapter/otel"
	"github.com/Strob0t/patternwatch/internal/adapter/ristretto"
	"github.com/Strob0t/patternwatch/internal/adapter/tiered"
	"github.com/Strob0t/patternwatch/internal/adapter/ws"
	"github.com/Strob0t/patternwatch/internal/config"
	"github.com/Strob0t/patternwatch/internal/middleware"
	"github.com/Strob0t/patternwatch/internal/port/cache"
	"github.com/Strob0t/patternwatch/internal/port/messagequeue"
	"github.com/Strob0t/patternwatch/internal/resilience"
	"github.com/Strob0t/patternwatch/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(f *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and live view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			closer := setupLogger(cfg.Logging, os.Stdout)
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
	cmd.Flags().StringVarP(&f.port, "port", "p", "", "HTTP listen port")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"remote_url", cfg.Remote.URL,
		"log_level", cfg.Logging.Level,
		"nats_enabled", cfg.NATS.URL != "",
		"telemetry_enabled", cfg.Telemetry.OTLPEndpoint != "",
	)

	// --- Telemetry ---
	otelShutdown, err := pwotel.Setup(ctx, pwotel.Config{
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Error("telemetry shutdown", "error", err)
		}
	}()
	metrics, err := pwotel.NewMetrics(nil)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client := agentapi.NewClient(cfg.Remote.URL, cfg.Remote.ResponseHeaderTimeout)
	client.SetBreaker(breaker)

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("results cache: %w", err)
	}
	defer l1.Close()

	var (
		queue        messagequeue.Queue
		resultsCache cache.Cache = l1
	)
	if cfg.NATS.URL != "" {
		q, err := pwnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := q.Drain(); err != nil {
				slog.Error("nats drain", "error", err)
			}
		}()
		queue = q

		kv, err := q.ReportBucket(ctx, cfg.Cache.TTL)
		if err != nil {
			return fmt.Errorf("results cache: %w", err)
		}
		resultsCache = tiered.New(l1, natskv.New(kv), cfg.Cache.TTL)
	}

	// --- Services ---
	registry := service.NewRegistry(client, metrics, service.DriverOptions{
		MaxTaskLength: cfg.Limits.MaxTaskLength,
		ChunkSize:     cfg.Remote.ChunkSize,
	})
	live := ws.NewLiveView()
	registry.Subscribe(live)
	if queue != nil {
		registry.Subscribe(pwnats.NewStepSink(queue, cfg.NATS.SubjectPrefix))
	}
	resultsSvc := service.NewResultsService(registry, resultsCache, cfg.Cache.TTL, cfg.Views.Options())

	// --- HTTP ---
	handlers := &pwhttp.Handlers{
		Registry: registry,
		Results:  resultsSvc,
		LiveView: live,
		Remote:   client,
		Breaker:  breaker,
		Queue:    queue,
		Limits:   cfg.Limits,
		Version:  version,
	}

	var submitMW func(http.Handler) http.Handler
	if cfg.Limits.SubmitRate > 0 {
		limiter := middleware.NewSubmitLimiter(cfg.Limits.SubmitRate, cfg.Limits.SubmitBurst)
		limiter.StartCleanup(ctx, time.Minute, 10*time.Minute)
		submitMW = limiter.Handler
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(pwhttp.Logger)
	r.Use(chimw.Recoverer)
	r.Use(pwhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(pwhttp.SecurityHeaders)
	r.Use(pwotel.HTTPMiddleware(cfg.Telemetry.ServiceName))
	pwhttp.MountRoutes(r, handlers, submitMW)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := registry.Shutdown(sctx); err != nil {
			slog.Error("session shutdown", "error", err)
		}
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}
