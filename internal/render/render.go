// Package render prints workflow results on a terminal.
package render

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/charmbracelet/glamour"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/export"
)

//go:embed templates/*.md
var templates embed.FS

// Format selects how a report is printed.
type Format string

const (
	FormatTable    Format = "table"
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

// IsValid checks if the format is valid.
func (f Format) IsValid() bool {
	switch f {
	case FormatTable, FormatMarkdown, FormatJSON:
		return true
	}
	return false
}

// Options configures Render.
type Options struct {
	Format Format
	// Chart includes the price history.
	Chart bool
	// Style is the glamour style of markdown output, e.g. "auto", "dark" or
	// "notty". Empty prints the raw markdown.
	Style string
}

// Report is the printable view of an optimization.
type Report struct {
	RiskLevel   domain.RiskLevel           `json:"risk_level"`
	Tickers     domain.TickerList          `json:"tickers"`
	Recommended domain.TickerList          `json:"recommended_tickers,omitempty"`
	Result      *domain.OptimizationResult `json:"result"`
	Series      []export.Series            `json:"series,omitempty"`
	Dates       []string                   `json:"-"`
}

// NewReport builds a report from a state holding a result.
func NewReport(state domain.WorkflowState, withSeries bool) (Report, error) {
	if state.Result == nil {
		return Report{}, domain.ErrNoResult
	}

	r := Report{
		RiskLevel: state.RiskLevel,
		Tickers:   state.Tickers(),
		Result:    state.Result,
	}
	if state.ResultFor != nil {
		r.RiskLevel = state.ResultFor.RiskLevel
		r.Tickers = state.ResultFor.Tickers.Clone()
	}
	if len(state.RecommendedTickers) > 0 {
		r.Recommended = state.RecommendedTickers.Clone()
	}
	if withSeries {
		r.Series = export.NormalizePriceHistory(state.PriceHistory, r.Tickers)
		r.Dates = export.Dates(state.PriceHistory)
	}
	return r, nil
}

// Render writes report to w in the configured format.
func Render(w io.Writer, report Report, opts Options) error {
	if !opts.Chart {
		report.Series = nil
		report.Dates = nil
	}

	switch opts.Format {
	case FormatJSON:
		return JSON(w, report)
	case FormatMarkdown:
		md, err := Markdown(report)
		if err != nil {
			return err
		}
		return Terminal(w, md, opts.Style)
	case FormatTable, "":
		Table(w, report)
		return nil
	default:
		return fmt.Errorf("%w: unknown format %q", domain.ErrInvalidInput, opts.Format)
	}
}

// Table prints the metrics, the weights and, when present, the price history
// as tables.
func Table(w io.Writer, report Report) {
	metrics := newTable(w)
	metrics.SetTitle("Risk level: " + report.RiskLevel.String())
	metrics.AppendHeader(table.Row{"Metric", "Value"})
	metrics.AppendRow(table.Row{"Expected annual return", export.FormatPercent(report.Result.ExpectedReturn)})
	metrics.AppendRow(table.Row{"Annual volatility", export.FormatPercent(report.Result.ExpectedVolatility)})
	metrics.AppendRow(table.Row{"Sharpe ratio", export.FormatRatio(report.Result.SharpeRatio)})
	metrics.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	metrics.Render()
	fmt.Fprintln(w)

	weights := newTable(w)
	weights.AppendHeader(table.Row{"Ticker", "Weight"})
	for _, wt := range report.Result.Weights {
		weights.AppendRow(table.Row{wt.Ticker, export.FormatPercent(wt.Fraction)})
	}
	weights.SetColumnConfigs([]table.ColumnConfig{{Number: 2, Align: text.AlignRight}})
	weights.Render()

	if len(report.Series) > 0 {
		fmt.Fprintln(w)
		SeriesTable(w, report.Dates, report.Series)
	}
}

// SeriesTable prints one row per date and one column per ticker. Gaps are
// shown as "-".
func SeriesTable(w io.Writer, dates []string, series []export.Series) {
	tw := newTable(w)

	hdr := table.Row{"Date"}
	cfgs := make([]table.ColumnConfig, 0, len(series))
	for i, s := range series {
		hdr = append(hdr, s.Ticker)
		cfgs = append(cfgs, table.ColumnConfig{Number: i + 2, Align: text.AlignRight, AlignHeader: text.AlignRight})
	}
	tw.AppendHeader(hdr)
	tw.SetColumnConfigs(cfgs)

	for i, date := range dates {
		row := table.Row{date}
		for _, s := range series {
			row = append(row, formatPrice(s.Points[i].Price))
		}
		tw.AppendRow(row)
	}
	tw.Render()
}

// Tickers prints a recommendation.
func Tickers(w io.Writer, risk domain.RiskLevel, tickers domain.TickerList) {
	tw := newTable(w)
	tw.SetTitle("Recommended for risk level " + risk.String())
	tw.AppendHeader(table.Row{"#", "Ticker"})
	for i, t := range tickers {
		tw.AppendRow(table.Row{i + 1, t})
	}
	tw.Render()
}

// Markdown renders report as a markdown document.
func Markdown(report Report) (string, error) {
	tmpl, err := template.New("report.md").Funcs(template.FuncMap{
		"percent":     export.FormatPercent,
		"ratio":       export.FormatRatio,
		"price":       formatPrice,
		"joinTickers": func(t domain.TickerList) string { return t.String() },
	}).ParseFS(templates, "templates/*.md")
	if err != nil {
		return "", fmt.Errorf("parse report templates: %w", err)
	}

	var b strings.Builder
	if err := tmpl.ExecuteTemplate(&b, "report.md", report); err != nil {
		return "", fmt.Errorf("execute report template: %w", err)
	}
	return b.String(), nil
}

// Terminal writes md styled by glamour. An empty style writes md unchanged.
func Terminal(w io.Writer, md, style string) error {
	if style == "" {
		_, err := io.WriteString(w, md)
		return err
	}

	out, err := glamour.Render(md, style)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

// JSON writes report as indented JSON.
func JSON(w io.Writer, report Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(report)
}

func newTable(w io.Writer) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	return tw
}

func formatPrice(p *float64) string {
	if p == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *p)
}
