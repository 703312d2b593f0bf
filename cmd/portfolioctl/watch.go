package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/events"
	"github.com/saltfish/portfolio-optimizer/internal/export"
)

func newWatchCmd(a *app) *cobra.Command {
	var routingKeys []string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print workflow events as they are published",
		Example: `  portfolioctl watch
  portfolioctl watch --key workflow.optimize.failed --key workflow.recommend.failed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !a.cfg.RabbitMQ.Enabled() {
				return fmt.Errorf("%w: rabbitmq.url is not configured", domain.ErrInvalidInput)
			}

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			queue := "portfolioctl-watch-" + uuid.NewString()[:8]
			sub, err := events.NewRabbitMQSubscriber(&a.cfg.RabbitMQ, queue, a.logger)
			if err != nil {
				return fmt.Errorf("connect to rabbitmq: %w", err)
			}
			defer sub.Close()

			out := cmd.OutOrStdout()
			handler := events.WorkflowEventHandler(func(e *events.WorkflowEvent) error {
				_, err := fmt.Fprintln(out, formatEvent(e))
				return err
			})

			if err := sub.Subscribe(ctx, routingKeys, handler); err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "Watching %s (Ctrl+C to stop)\n", strings.Join(routingKeys, ", "))

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&routingKeys, "key", []string{events.RoutingKeyAllWorkflow}, "Routing key to bind, repeatable")

	return cmd
}

// formatEvent renders one event as a single log-like line.
func formatEvent(e *events.WorkflowEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-28s session=%s risk=%s",
		e.Timestamp.Format(time.RFC3339), e.RoutingKey(), shortID(e.SessionID), e.RiskLevel)

	if len(e.Tickers) > 0 {
		fmt.Fprintf(&b, " tickers=%q", e.Tickers.String())
	}
	if e.DurationMs > 0 {
		fmt.Fprintf(&b, " duration=%dms", e.DurationMs)
	}
	if e.Metrics != nil {
		fmt.Fprintf(&b, " return=%s volatility=%s sharpe=%s",
			export.FormatPercent(e.Metrics.ExpectedReturn),
			export.FormatPercent(e.Metrics.ExpectedVolatility),
			export.FormatRatio(e.Metrics.SharpeRatio))
	}
	if e.ErrorMessage != "" {
		fmt.Fprintf(&b, " message=%q", e.ErrorMessage)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
