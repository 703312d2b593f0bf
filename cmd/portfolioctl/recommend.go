package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/render"
)

func newRecommendCmd(a *app) *cobra.Command {
	var (
		risk   string
		format string
	)

	cmd := &cobra.Command{
		Use:     "recommend",
		Short:   "Ask the backend for tickers suited to a risk level",
		Example: `  portfolioctl recommend --risk low`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			level, err := a.parseRisk(risk)
			if err != nil {
				return err
			}
			if format != string(render.FormatTable) && format != string(render.FormatJSON) {
				return fmt.Errorf("%w: recommend supports table or json, got %q", domain.ErrInvalidInput, format)
			}

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}

			state, err := a.newController(level, "").Recommend(ctx)
			if err != nil {
				var opErr *domain.OperationError
				if errors.As(err, &opErr) {
					return errors.New(opErr.Message)
				}
				return err
			}

			if format == string(render.FormatJSON) {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]interface{}{
					"risk_level": level,
					"tickers":    state.RecommendedTickers,
				})
			}
			render.Tickers(cmd.OutOrStdout(), level, state.RecommendedTickers)
			return nil
		},
	}

	cmd.Flags().StringVar(&risk, "risk", "", "Risk level: low, medium or high (default from config)")
	cmd.Flags().StringVar(&format, "format", string(render.FormatTable), "Output format: table or json")

	return cmd
}
