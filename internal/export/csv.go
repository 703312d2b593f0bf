// Package export turns optimization results into downloadable documents and
// chart-ready series.
package export

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

// WeightsFilename is the suggested name of the exported weights document.
const WeightsFilename = "portfolio_weights.csv"

// CSVMIMEType is the content type of the exported weights document.
const CSVMIMEType = "text/csv;charset=utf-8"

var hundred = decimal.NewFromInt(100)

// FormatPercent renders a fraction as a percentage with exactly two decimals,
// e.g. 0.333333 -> "33.33%". Ties round away from zero.
func FormatPercent(fraction float64) string {
	return decimal.NewFromFloat(fraction).Mul(hundred).StringFixed(2) + "%"
}

// FormatRatio renders a unitless number with exactly two decimals.
func FormatRatio(v float64) string {
	return decimal.NewFromFloat(v).StringFixed(2)
}

// WeightsCSV serializes weights as "Ticker,Weight" followed by one
// "TICKER,NN.NN%" line per entry, in order. Lines are separated by "\n"
// with no trailing newline. Tickers are written verbatim.
func WeightsCSV(weights domain.Weights) string {
	lines := make([]string, 0, len(weights)+1)
	lines = append(lines, "Ticker,Weight")
	for _, w := range weights {
		lines = append(lines, w.Ticker+","+FormatPercent(w.Fraction))
	}
	return strings.Join(lines, "\n")
}
