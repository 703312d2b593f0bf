package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTickers(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected TickerList
	}{
		{"single", "aapl", TickerList{"AAPL"}},
		{"comma and space", "AAPL, MSFT", TickerList{"AAPL", "MSFT"}},
		{"mixed case and padding", "  aapl ,msft,  Nvda ", TickerList{"AAPL", "MSFT", "NVDA"}},
		{"duplicates kept", "AAPL, aapl", TickerList{"AAPL", "AAPL"}},
		{"empty entries kept", "AAPL,,MSFT", TickerList{"AAPL", "", "MSFT"}},
		{"blank input", "   ", TickerList{}},
		{"empty input", "", TickerList{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseTickers(tt.input))
		})
	}
}

func TestTickerList_String(t *testing.T) {
	assert.Equal(t, "TSLA, NVDA", TickerList{"TSLA", "NVDA"}.String())
	assert.Equal(t, "", TickerList{}.String())
}

func TestRiskLevelFromString(t *testing.T) {
	assert.Equal(t, RiskLevelLow, RiskLevelFromString("low"))
	assert.Equal(t, RiskLevelHigh, RiskLevelFromString("high"))
	assert.Equal(t, RiskLevelMedium, RiskLevelFromString("extreme"))
	assert.False(t, RiskLevel("LOW").IsValid())
}

func TestWeights_UnmarshalKeepsOrder(t *testing.T) {
	var w Weights
	err := json.Unmarshal([]byte(`{"MSFT": 0.25, "AAPL": 0.5, "GOOG": 0.25}`), &w)
	require.NoError(t, err)

	assert.Equal(t, TickerList{"MSFT", "AAPL", "GOOG"}, w.Tickers())
	f, ok := w.Get("AAPL")
	assert.True(t, ok)
	assert.Equal(t, 0.5, f)

	_, ok = w.Get("TSLA")
	assert.False(t, ok)
}

func TestWeights_RoundTripOrder(t *testing.T) {
	w := Weights{{Ticker: "ZZZ", Fraction: 0.1}, {Ticker: "AAA", Fraction: 0.9}}
	data, err := json.Marshal(w)
	require.NoError(t, err)
	assert.Equal(t, `{"ZZZ":0.1,"AAA":0.9}`, string(data))
}

func TestWeights_Invalid(t *testing.T) {
	var w Weights
	assert.Error(t, json.Unmarshal([]byte(`["AAPL"]`), &w))
	assert.Error(t, json.Unmarshal([]byte(`{"AAPL": "half"}`), &w))
}

func TestWeights_NullInsideObject(t *testing.T) {
	var res OptimizationResult
	require.NoError(t, json.Unmarshal([]byte(`{"weights": null}`), &res))
	assert.Nil(t, res.Weights)
}

func TestPriceRecord_Unmarshal(t *testing.T) {
	var history PriceHistory
	err := json.Unmarshal([]byte(`[
		{"Date": "2024-01-01", "AAPL": 100, "MSFT": 370.5},
		{"Date": "2024-01-02", "MSFT": null, "AAPL": 102},
		{"Date": 20240103, "AAPL": "n/a"}
	]`), &history)
	require.NoError(t, err)
	require.Len(t, history, 3)

	assert.Equal(t, "2024-01-01", history[0].Date)
	assert.Equal(t, []TickerPrice{{"AAPL", 100}, {"MSFT", 370.5}}, history[0].Prices)

	p, ok := history[1].Price("AAPL")
	assert.True(t, ok)
	assert.Equal(t, 102.0, p)
	_, ok = history[1].Price("MSFT")
	assert.False(t, ok, "null price is a gap")

	assert.Equal(t, "20240103", history[2].Date)
	_, ok = history[2].Price("AAPL")
	assert.False(t, ok, "non-numeric price is a gap")
}

func TestPriceRecord_Marshal(t *testing.T) {
	rec := PriceRecord{Date: "2024-01-01", Prices: []TickerPrice{{"MSFT", 1.5}, {"AAPL", 2}}}
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"Date":"2024-01-01","MSFT":1.5,"AAPL":2}`, string(data))
}

func TestOptimizationResult_Unmarshal(t *testing.T) {
	body := `{
		"expected_return": 0.12,
		"expected_volatility": 0.2,
		"sharpe_ratio": 0.6,
		"weights": {"AAPL": 0.5, "MSFT": 0.5}
	}`
	var res OptimizationResult
	require.NoError(t, json.Unmarshal([]byte(body), &res))
	assert.Equal(t, 0.12, res.ExpectedReturn)
	assert.Equal(t, 0.2, res.ExpectedVolatility)
	assert.Equal(t, 0.6, res.SharpeRatio)
	assert.Len(t, res.Weights, 2)
	assert.Nil(t, res.PriceHistory)
}

func TestWorkflowState_Clone(t *testing.T) {
	s := NewWorkflowState(RiskLevelHigh, "AAPL")
	s.RecommendedTickers = TickerList{"AAPL"}
	s.PriceHistory = PriceHistory{{Date: "d", Prices: []TickerPrice{{"AAPL", 1}}}}
	s.ResultFor = &OptimizeRequest{RiskLevel: RiskLevelHigh, Tickers: TickerList{"AAPL"}}

	c := s.Clone()
	c.RecommendedTickers[0] = "X"
	c.PriceHistory[0].Prices[0].Price = 99
	c.ResultFor.Tickers[0] = "Y"

	assert.Equal(t, "AAPL", s.RecommendedTickers[0])
	assert.Equal(t, 1.0, s.PriceHistory[0].Prices[0].Price)
	assert.Equal(t, "AAPL", s.ResultFor.Tickers[0])
}

func TestNewWorkflowState_Defaults(t *testing.T) {
	s := NewWorkflowState("bogus", "")
	assert.Equal(t, RiskLevelMedium, s.RiskLevel)
	assert.Equal(t, WorkflowStatusIdle, s.Status)
	assert.False(t, s.HasResult())
	assert.Empty(t, s.Tickers())
}

func TestOperationError(t *testing.T) {
	cause := fmt.Errorf("send POST request: %w", errors.New("connection refused"))
	err := NewOperationError(OperationOptimize, MsgOptimizeFailed, cause)

	assert.True(t, errors.Is(err, ErrNetworkOrServer))
	assert.True(t, errors.Is(err, cause))
	assert.Contains(t, err.Error(), "connection refused")

	var opErr *OperationError
	require.True(t, errors.As(error(err), &opErr))
	assert.Equal(t, MsgOptimizeFailed, opErr.Message)
}
