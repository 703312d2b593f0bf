package export

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

func TestWeightsCSV(t *testing.T) {
	tests := []struct {
		name     string
		weights  domain.Weights
		expected string
	}{
		{
			name:     "two entries in order",
			weights:  domain.Weights{{Ticker: "AAPL", Fraction: 0.5}, {Ticker: "MSFT", Fraction: 0.25}},
			expected: "Ticker,Weight\nAAPL,50.00%\nMSFT,25.00%",
		},
		{
			name:     "rounds to two decimals",
			weights:  domain.Weights{{Ticker: "X", Fraction: 0.333333}},
			expected: "Ticker,Weight\nX,33.33%",
		},
		{
			name:     "order follows the mapping, not the alphabet",
			weights:  domain.Weights{{Ticker: "MSFT", Fraction: 0.25}, {Ticker: "AAPL", Fraction: 0.75}},
			expected: "Ticker,Weight\nMSFT,25.00%\nAAPL,75.00%",
		},
		{
			name:     "rounds up",
			weights:  domain.Weights{{Ticker: "Y", Fraction: 0.666666}},
			expected: "Ticker,Weight\nY,66.67%",
		},
		{
			name:     "zero and full",
			weights:  domain.Weights{{Ticker: "A", Fraction: 0}, {Ticker: "B", Fraction: 1}},
			expected: "Ticker,Weight\nA,0.00%\nB,100.00%",
		},
		{
			name:     "header only",
			weights:  domain.Weights{},
			expected: "Ticker,Weight",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, WeightsCSV(tt.weights))
		})
	}
}

func TestWeightsCSV_Deterministic(t *testing.T) {
	w := domain.Weights{{Ticker: "AAPL", Fraction: 0.5}, {Ticker: "MSFT", Fraction: 0.25}}
	assert.Equal(t, WeightsCSV(w), WeightsCSV(w))
}

func TestFormatPercent(t *testing.T) {
	assert.Equal(t, "12.35%", FormatPercent(0.12345))
	assert.Equal(t, "-3.10%", FormatPercent(-0.031))
	assert.Equal(t, "1.24", FormatRatio(1.2351))
}

func TestNormalizePriceHistory(t *testing.T) {
	history := domain.PriceHistory{
		{Date: "2024-01-01", Prices: []domain.TickerPrice{{Ticker: "AAPL", Price: 100}}},
		{Date: "2024-01-02", Prices: []domain.TickerPrice{{Ticker: "AAPL", Price: 102}}},
	}

	series := NormalizePriceHistory(history, domain.TickerList{"AAPL"})
	require.Len(t, series, 1)
	assert.Equal(t, "AAPL", series[0].Ticker)
	require.Len(t, series[0].Points, 2)

	assert.Equal(t, "2024-01-01", series[0].Points[0].Date)
	require.NotNil(t, series[0].Points[0].Price)
	assert.Equal(t, 100.0, *series[0].Points[0].Price)

	assert.Equal(t, "2024-01-02", series[0].Points[1].Date)
	require.NotNil(t, series[0].Points[1].Price)
	assert.Equal(t, 102.0, *series[0].Points[1].Price)
	assert.Zero(t, series[0].Gaps())
}

func TestNormalizePriceHistory_Gaps(t *testing.T) {
	history := domain.PriceHistory{
		{Date: "2024-01-01", Prices: []domain.TickerPrice{{Ticker: "AAPL", Price: 100}, {Ticker: "MSFT", Price: 370}}},
		{Date: "2024-01-02", Prices: []domain.TickerPrice{{Ticker: "AAPL", Price: 102}}},
	}

	series := NormalizePriceHistory(history, domain.TickerList{"MSFT", "TSLA"})
	require.Len(t, series, 2)

	msft := series[0]
	assert.Equal(t, "MSFT", msft.Ticker)
	require.Len(t, msft.Points, 2)
	require.NotNil(t, msft.Points[0].Price)
	assert.Nil(t, msft.Points[1].Price)
	assert.Equal(t, "2024-01-02", msft.Points[1].Date)
	assert.Equal(t, 1, msft.Gaps())

	tsla := series[1]
	assert.Equal(t, 2, tsla.Gaps())
}

func TestNormalizePriceHistory_DoesNotMutateInput(t *testing.T) {
	history := domain.PriceHistory{
		{Date: "d1", Prices: []domain.TickerPrice{{Ticker: "AAPL", Price: 1}}},
	}
	series := NormalizePriceHistory(history, domain.TickerList{"AAPL"})
	*series[0].Points[0].Price = 42

	assert.Equal(t, 1.0, history[0].Prices[0].Price)
}

func TestNormalizePriceHistory_Empty(t *testing.T) {
	series := NormalizePriceHistory(nil, domain.TickerList{"AAPL"})
	require.Len(t, series, 1)
	assert.Empty(t, series[0].Points)

	assert.Empty(t, NormalizePriceHistory(nil, nil))
}

func TestFileSink_Save(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "exports")
	sink := NewFileSink(dir, zaptest.NewLogger(t))

	doc := NewWeightsDocument(domain.Weights{{Ticker: "AAPL", Fraction: 0.5}, {Ticker: "MSFT", Fraction: 0.25}})
	assert.Equal(t, WeightsFilename, doc.Filename)
	assert.Equal(t, CSVMIMEType, doc.MIMEType)

	path, err := sink.Save(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "portfolio_weights.csv"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "Ticker,Weight\nAAPL,50.00%\nMSFT,25.00%", string(content))
}

func TestFileSink_RejectsPathFilenames(t *testing.T) {
	sink := NewFileSink(t.TempDir(), zaptest.NewLogger(t))

	_, err := sink.Save(context.Background(), Document{Filename: "../escape.csv"})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))

	_, err = sink.Save(context.Background(), Document{})
	assert.True(t, errors.Is(err, domain.ErrInvalidInput))
}
