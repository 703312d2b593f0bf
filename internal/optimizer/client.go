// Package optimizer is the HTTP client of the remote portfolio optimization service.
package optimizer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

// RecommendMode selects how the recommendation endpoint is called.
type RecommendMode string

const (
	// RecommendViaPost sends POST /recommend with a JSON body.
	RecommendViaPost RecommendMode = "post"
	// RecommendViaGet sends GET /recommend?risk_level=...
	RecommendViaGet RecommendMode = "get"
)

// IsValid returns true if the mode is known.
func (m RecommendMode) IsValid() bool {
	return m == RecommendViaPost || m == RecommendViaGet
}

// FailureMessage returns the user-facing message for a failed recommend call
// in this mode.
func (m RecommendMode) FailureMessage() string {
	if m == RecommendViaGet {
		return domain.MsgRecommendFailed
	}
	return domain.MsgRecommendUnavailable
}

// ErrMalformedResponse is returned when a 2xx body does not have the expected shape.
var ErrMalformedResponse = errors.New("malformed response")

// StatusError is returned for non-2xx responses.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("responded with %v http code", e.StatusCode)
}

type optimizeResponse struct {
	ExpectedReturn     *float64            `json:"expected_return"`
	ExpectedVolatility *float64            `json:"expected_volatility"`
	SharpeRatio        *float64            `json:"sharpe_ratio"`
	Weights            *domain.Weights     `json:"weights"`
	PriceHistory       domain.PriceHistory `json:"price_history"`
}

type recommendResponse struct {
	Tickers *domain.TickerList `json:"tickers"`
}

// Client talks to the optimization service.
type Client struct {
	baseURL string
	mode    RecommendMode
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a new Client. An unknown mode falls back to RecommendViaPost.
func NewClient(c *http.Client, baseURL string, mode RecommendMode, logger *zap.Logger) *Client {
	if c == nil {
		c = &http.Client{Timeout: 60 * time.Second}
	}
	if !mode.IsValid() {
		mode = RecommendViaPost
	}
	return &Client{
		baseURL: baseURL,
		mode:    mode,
		client:  c,
		logger:  logger.With(zap.String("caller", "OptimizerClient")),
	}
}

// Mode returns the recommend mode the client was built with.
func (c *Client) Mode() RecommendMode {
	return c.mode
}

// Optimize requests a portfolio allocation for the given inputs.
func (c *Client) Optimize(ctx context.Context, req domain.OptimizeRequest) (*domain.OptimizationResult, error) {
	logger := c.logger.With(zap.String("method", "Optimize"))

	if req.Tickers == nil {
		req.Tickers = domain.TickerList{}
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request data: %w", err)
	}

	var r optimizeResponse
	if err := c.do(ctx, logger, http.MethodPost, "/optimize", nil, body, &r); err != nil {
		return nil, err
	}

	switch {
	case r.ExpectedReturn == nil:
		return nil, fmt.Errorf("%w: missing expected_return", ErrMalformedResponse)
	case r.ExpectedVolatility == nil:
		return nil, fmt.Errorf("%w: missing expected_volatility", ErrMalformedResponse)
	case r.SharpeRatio == nil:
		return nil, fmt.Errorf("%w: missing sharpe_ratio", ErrMalformedResponse)
	case r.Weights == nil:
		return nil, fmt.Errorf("%w: missing weights", ErrMalformedResponse)
	}

	history := r.PriceHistory
	if history == nil {
		history = domain.PriceHistory{}
	}
	return &domain.OptimizationResult{
		ExpectedReturn:     *r.ExpectedReturn,
		ExpectedVolatility: *r.ExpectedVolatility,
		SharpeRatio:        *r.SharpeRatio,
		Weights:            *r.Weights,
		PriceHistory:       history,
	}, nil
}

// Recommend asks the service for a ticker list suited to the risk level.
func (c *Client) Recommend(ctx context.Context, risk domain.RiskLevel) (domain.TickerList, error) {
	logger := c.logger.With(zap.String("method", "Recommend"), zap.String("mode", string(c.mode)))

	var r recommendResponse
	if c.mode == RecommendViaGet {
		q := url.Values{}
		q.Set("risk_level", risk.String())
		if err := c.do(ctx, logger, http.MethodGet, "/recommend", q, nil, &r); err != nil {
			return nil, err
		}
	} else {
		body, err := json.Marshal(domain.RecommendRequest{RiskLevel: risk})
		if err != nil {
			return nil, fmt.Errorf("marshal request data: %w", err)
		}
		if err := c.do(ctx, logger, http.MethodPost, "/recommend", nil, body, &r); err != nil {
			return nil, err
		}
	}

	if r.Tickers == nil {
		return nil, fmt.Errorf("%w: missing tickers", ErrMalformedResponse)
	}
	return *r.Tickers, nil
}

func (c *Client) do(ctx context.Context, logger *zap.Logger, method, endpoint string, query url.Values, body []byte, out any) error {
	start := time.Now()

	path, err := url.JoinPath(c.baseURL, endpoint)
	if err != nil {
		return fmt.Errorf("build request url: %w", err)
	}
	if len(query) > 0 {
		path += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	logger.Debug("sending request", zap.String("url", path))
	resp, err := c.client.Do(req)
	if err != nil {
		logger.Warn("request failed", zap.Duration("duration", time.Since(start)), zap.Error(err))
		return fmt.Errorf("send %s request: %w", method, err)
	}
	defer resp.Body.Close()

	logger.Info("finish run",
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return &StatusError{StatusCode: resp.StatusCode}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrMalformedResponse, err)
	}
	return nil
}
