// Portfolio Optimizer Server
// Serves the recommend/optimize workflow over HTTP and WebSocket

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	httpapi "github.com/saltfish/portfolio-optimizer/internal/api/http"
	"github.com/saltfish/portfolio-optimizer/internal/config"
	"github.com/saltfish/portfolio-optimizer/internal/db"
	"github.com/saltfish/portfolio-optimizer/internal/db/repository"
	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/events"
	"github.com/saltfish/portfolio-optimizer/internal/logging"
	"github.com/saltfish/portfolio-optimizer/internal/optimizer"
	"github.com/saltfish/portfolio-optimizer/internal/workflow"
	"github.com/saltfish/portfolio-optimizer/web"
)

// Build-time variables (set via ldflags)
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file (YAML)")
	flag.Parse()

	// A missing .env file is fine
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Portfolio Optimizer",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("environment", cfg.Env),
		zap.String("log_level", cfg.Logging.Level),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Application error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("Portfolio Optimizer stopped")
}

// run initializes and runs all application components.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// 1. Optional result archive
	var (
		archive repository.ResultArchive
		pool    *db.Pool
	)
	if cfg.Database.Enabled {
		logger.Info("Connecting to PostgreSQL...")
		p, err := db.NewPool(ctx, &cfg.Database, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer p.Close()

		if err := repository.EnsureSchema(ctx, p); err != nil {
			return fmt.Errorf("failed to prepare result archive: %w", err)
		}
		pool = p
		archive = repository.NewResultArchive(p)
		logger.Info("Result archive enabled")
	} else {
		logger.Info("Database disabled, optimization results will not be archived")
	}

	// 2. Event publisher (RabbitMQ)
	var brokerPublisher events.Publisher
	if cfg.RabbitMQ.Enabled() {
		logger.Info("Connecting to RabbitMQ...")
		publisher, err := events.NewRabbitMQPublisher(&cfg.RabbitMQ, logger)
		if err != nil {
			logger.Warn("Failed to connect to RabbitMQ, using no-op publisher", zap.Error(err))
			brokerPublisher = events.NewNoOpPublisher()
		} else {
			brokerPublisher = publisher
			logger.Info("Connected to RabbitMQ")
		}
	} else {
		logger.Info("RabbitMQ not configured, using no-op publisher")
		brokerPublisher = events.NewNoOpPublisher()
	}

	// 3. WebSocket hub receives both state snapshots and lifecycle events
	hub := httpapi.NewHub(logger)
	go hub.Run()

	publisher := events.NewMultiPublisher(brokerPublisher, hub)
	defer publisher.Close()

	// 4. Optimizer backend client
	mode := optimizer.RecommendMode(cfg.Optimizer.RecommendMode)
	client := optimizer.NewClient(
		&http.Client{Timeout: cfg.Optimizer.Timeout()},
		cfg.Optimizer.BaseURL,
		mode,
		logger,
	)
	logger.Info("Optimizer backend configured",
		zap.String("base_url", cfg.Optimizer.BaseURL),
		zap.String("recommend_mode", string(client.Mode())),
		zap.Duration("timeout", cfg.Optimizer.Timeout()),
	)

	// 5. Workflow controller
	ctrl := workflow.NewController(client, logger,
		workflow.WithInitialInputs(domain.RiskLevelFromString(cfg.Workflow.DefaultRiskLevel), cfg.Workflow.DefaultTickers),
		workflow.WithRecommendFailureMessage(client.Mode().FailureMessage()),
		workflow.WithPublisher(publisher),
		workflow.WithListener(hub),
	)
	logger.Info("Workflow session created", zap.String("session_id", ctrl.SessionID().String()))

	// 6. HTTP server
	opts := []httpapi.ServerOption{
		httpapi.WithHub(hub),
		httpapi.WithWriteTimeout(cfg.Optimizer.Timeout() + cfg.Server.ShutdownTimeoutDuration()),
	}
	if archive != nil {
		opts = append(opts, httpapi.WithArchive(archive), httpapi.WithDatabase(pool))
	}
	if ui, err := web.Handler(); err != nil {
		logger.Warn("Form UI unavailable", zap.Error(err))
	} else {
		opts = append(opts, httpapi.WithStatic(ui))
	}

	httpapi.Version = Version
	httpAddr := fmt.Sprintf(":%d", cfg.Server.HTTPPort)
	httpServer := httpapi.NewServer(httpAddr, ctrl, logger, opts...)

	serverErr := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	logger.Info("Portfolio Optimizer initialized and running", zap.String("http_address", httpAddr))

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		runErr = fmt.Errorf("http server: %w", err)
	}

	logger.Info("Shutting down Portfolio Optimizer...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeoutDuration())
	defer shutdownCancel()

	if err := httpServer.Stop(shutdownCtx); err != nil {
		logger.Error("Error stopping HTTP server", zap.Error(err))
	}
	logger.Info("HTTP server stopped")

	return runErr
}
