package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/export"
	"github.com/saltfish/portfolio-optimizer/internal/render"
)

type optimizeOptions struct {
	risk      string
	tickers   string
	recommend bool
	format    string
	style     string
	chart     bool
	export    bool
	exportDir string
}

func newOptimizeCmd(a *app) *cobra.Command {
	opts := &optimizeOptions{}

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Optimize allocation weights for a list of tickers",
		Example: `  portfolioctl optimize --risk high --tickers "AAPL, MSFT, NVDA"
  portfolioctl optimize --risk low --recommend --chart
  portfolioctl optimize --tickers "AAPL, MSFT" --format markdown --export-dir ./out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptimize(cmd, a, opts)
		},
	}

	cmd.Flags().StringVar(&opts.risk, "risk", "", "Risk level: low, medium or high (default from config)")
	cmd.Flags().StringVar(&opts.tickers, "tickers", "", `Comma-separated tickers, e.g. "AAPL, MSFT" (default from config)`)
	cmd.Flags().BoolVar(&opts.recommend, "recommend", false, "Ask the backend for tickers first and optimize those")
	cmd.Flags().StringVar(&opts.format, "format", string(render.FormatTable), "Output format: table, markdown or json")
	cmd.Flags().StringVar(&opts.style, "style", "auto", `Markdown style: auto, dark, light, notty or "" for raw markdown`)
	cmd.Flags().BoolVar(&opts.chart, "chart", false, "Include the price history")
	cmd.Flags().BoolVar(&opts.export, "export", false, "Write "+export.WeightsFilename+" to the configured export dir")
	cmd.Flags().StringVar(&opts.exportDir, "export-dir", "", "Write "+export.WeightsFilename+" to this directory")

	return cmd
}

func runOptimize(cmd *cobra.Command, a *app, opts *optimizeOptions) error {
	format := render.Format(opts.format)
	if !format.IsValid() {
		return fmt.Errorf("%w: unknown format %q", domain.ErrInvalidInput, opts.format)
	}

	risk, err := a.parseRisk(opts.risk)
	if err != nil {
		return err
	}

	tickers := opts.tickers
	if !cmd.Flags().Changed("tickers") {
		tickers = a.cfg.Workflow.DefaultTickers
	}

	ctrl := a.newController(risk, tickers)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var state domain.WorkflowState
	if opts.recommend {
		state, err = ctrl.RecommendAndOptimize(ctx)
	} else {
		state, err = ctrl.Optimize(ctx)
	}
	if err != nil {
		var opErr *domain.OperationError
		if errors.As(err, &opErr) {
			return errors.New(opErr.Message)
		}
		return err
	}

	report, err := render.NewReport(state, opts.chart)
	if err != nil {
		return err
	}

	style := opts.style
	if style == "auto" && !isTerminal(cmd) {
		style = "notty"
	}

	if err := render.Render(cmd.OutOrStdout(), report, render.Options{
		Format: format,
		Chart:  opts.chart,
		Style:  style,
	}); err != nil {
		return err
	}

	dir := opts.exportDir
	if dir == "" && opts.export {
		dir = a.cfg.Export.Dir
	}
	if dir != "" {
		doc, err := ctrl.WeightsDocument()
		if err != nil {
			return err
		}
		path, err := export.NewFileSink(dir, a.logger).Save(ctx, doc)
		if err != nil {
			return fmt.Errorf("export weights: %w", err)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Weights exported to %s\n", path)
	}

	return nil
}

// isTerminal reports whether the command writes to an interactive terminal.
func isTerminal(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}
