// portfolioctl runs the recommend/optimize workflow from a terminal.
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/config"
	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/events"
	"github.com/saltfish/portfolio-optimizer/internal/logging"
	"github.com/saltfish/portfolio-optimizer/internal/optimizer"
	"github.com/saltfish/portfolio-optimizer/internal/workflow"
)

// app carries what every subcommand needs.
type app struct {
	configPath string
	verbose    bool

	cfg       *config.Config
	logger    *zap.Logger
	publisher events.Publisher
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "portfolioctl",
		Short:         "Recommend tickers and optimize portfolio allocations",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.teardown()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file (YAML)")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log debug output to stderr")

	rootCmd.AddCommand(
		newRecommendCmd(a),
		newOptimizeCmd(a),
		newWatchCmd(a),
	)

	return rootCmd
}

// setup loads configuration and builds the logger. Logs go to stderr so
// stdout only carries results.
func (a *app) setup() error {
	// A missing .env file is fine
	_ = godotenv.Load()

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logCfg := cfg.Logging
	logCfg.Format = "console"
	logCfg.OutputPath = "stderr"
	if a.verbose {
		logCfg.Level = "debug"
	} else {
		logCfg.Level = "warn"
	}

	logger, err := logging.New(logCfg)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}

	a.cfg = cfg
	a.logger = logger
	a.publisher = events.NewNoOpPublisher()

	return nil
}

func (a *app) teardown() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("Failed to close publisher", zap.Error(err))
		}
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

// newController builds a controller talking to the configured backend.
// Lifecycle events are published to RabbitMQ when it is configured.
func (a *app) newController(risk domain.RiskLevel, tickerInput string) *workflow.Controller {
	if a.cfg.RabbitMQ.Enabled() {
		publisher, err := events.NewRabbitMQPublisher(&a.cfg.RabbitMQ, a.logger)
		if err != nil {
			a.logger.Warn("Failed to connect to RabbitMQ, events will not be published", zap.Error(err))
		} else {
			a.publisher = publisher
		}
	}

	client := optimizer.NewClient(
		&http.Client{Timeout: a.cfg.Optimizer.Timeout()},
		a.cfg.Optimizer.BaseURL,
		optimizer.RecommendMode(a.cfg.Optimizer.RecommendMode),
		a.logger,
	)

	return workflow.NewController(client, a.logger,
		workflow.WithInitialInputs(risk, tickerInput),
		workflow.WithRecommendFailureMessage(client.Mode().FailureMessage()),
		workflow.WithPublisher(a.publisher),
	)
}

// parseRisk resolves the --risk flag, falling back to the configured default.
func (a *app) parseRisk(flag string) (domain.RiskLevel, error) {
	if flag == "" {
		flag = a.cfg.Workflow.DefaultRiskLevel
	}
	risk := domain.RiskLevel(flag)
	if !risk.IsValid() {
		return "", fmt.Errorf("%w: risk level must be one of low, medium, high, got %q", domain.ErrInvalidInput, flag)
	}
	return risk, nil
}
