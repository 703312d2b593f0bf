package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// TickerList is an ordered sequence of ticker symbols.
// Duplicates and empty entries are kept as typed; the backend validates.
type TickerList []string

// ParseTickers derives a TickerList from comma-separated free text.
// Every entry is trimmed and upper-cased. Whitespace-only input yields an
// empty list.
func ParseTickers(text string) TickerList {
	if strings.TrimSpace(text) == "" {
		return TickerList{}
	}
	parts := strings.Split(text, ",")
	tickers := make(TickerList, 0, len(parts))
	for _, p := range parts {
		tickers = append(tickers, strings.ToUpper(strings.TrimSpace(p)))
	}
	return tickers
}

// String renders the list the way it is shown in the ticker input.
func (t TickerList) String() string {
	return strings.Join(t, ", ")
}

// Clone returns a copy that shares no backing array with t.
func (t TickerList) Clone() TickerList {
	if t == nil {
		return nil
	}
	out := make(TickerList, len(t))
	copy(out, t)
	return out
}

// Weight is the fraction of capital allocated to one ticker.
type Weight struct {
	Ticker   string  `json:"ticker"`
	Fraction float64 `json:"weight"`
}

// Weights is an ordered ticker -> fraction association.
// On the wire it is a JSON object; key order is preserved both ways.
type Weights []Weight

// Get returns the fraction for ticker.
func (w Weights) Get(ticker string) (float64, bool) {
	for _, e := range w {
		if e.Ticker == ticker {
			return e.Fraction, true
		}
	}
	return 0, false
}

// Tickers returns the tickers in allocation order.
func (w Weights) Tickers() TickerList {
	out := make(TickerList, 0, len(w))
	for _, e := range w {
		out = append(out, e.Ticker)
	}
	return out
}

// UnmarshalJSON decodes a JSON object keeping its key order.
func (w *Weights) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	ok, err := openObject(dec)
	if err != nil {
		return fmt.Errorf("weights: %w", err)
	}
	if !ok {
		*w = nil
		return nil
	}

	out := Weights{}
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return fmt.Errorf("weights: %w", err)
		}
		var fraction float64
		if err := dec.Decode(&fraction); err != nil {
			return fmt.Errorf("weights: ticker %s: %w", key, err)
		}
		out = append(out, Weight{Ticker: key, Fraction: fraction})
	}
	if err := closeObject(dec); err != nil {
		return fmt.Errorf("weights: %w", err)
	}

	*w = out
	return nil
}

// MarshalJSON encodes the weights as a JSON object in allocation order.
func (w Weights) MarshalJSON() ([]byte, error) {
	if w == nil {
		return []byte("null"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range w {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeMember(&buf, e.Ticker, e.Fraction); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PriceDateKey is the record key holding the date label.
const PriceDateKey = "Date"

// TickerPrice is one ticker's price inside a PriceRecord.
type TickerPrice struct {
	Ticker string
	Price  float64
}

// PriceRecord is one dated row of the price history.
// Date is an opaque label; it is never parsed.
type PriceRecord struct {
	Date   string
	Prices []TickerPrice
}

// Price returns the price of ticker in this record.
func (r PriceRecord) Price(ticker string) (float64, bool) {
	for _, p := range r.Prices {
		if p.Ticker == ticker {
			return p.Price, true
		}
	}
	return 0, false
}

// UnmarshalJSON decodes {"Date": ..., "AAPL": 101.2, ...} keeping key order.
// Values that are not JSON numbers are dropped and show up as gaps.
func (r *PriceRecord) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	ok, err := openObject(dec)
	if err != nil {
		return fmt.Errorf("price record: %w", err)
	}
	if !ok {
		*r = PriceRecord{}
		return nil
	}

	rec := PriceRecord{}
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return fmt.Errorf("price record: %w", err)
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("price record: key %s: %w", key, err)
		}
		if key == PriceDateKey {
			rec.Date = dateLabel(v)
			continue
		}
		n, isNumber := v.(json.Number)
		if !isNumber {
			continue
		}
		price, err := strconv.ParseFloat(n.String(), 64)
		if err != nil {
			continue
		}
		rec.Prices = append(rec.Prices, TickerPrice{Ticker: key, Price: price})
	}
	if err := closeObject(dec); err != nil {
		return fmt.Errorf("price record: %w", err)
	}

	*r = rec
	return nil
}

// MarshalJSON encodes the record with Date first, then prices in order.
func (r PriceRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	if err := writeMember(&buf, PriceDateKey, r.Date); err != nil {
		return nil, err
	}
	for _, p := range r.Prices {
		buf.WriteByte(',')
		if err := writeMember(&buf, p.Ticker, p.Price); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// PriceHistory is the ordered per-date price series supplied by the backend.
type PriceHistory []PriceRecord

// Clone returns a deep copy of the history.
func (h PriceHistory) Clone() PriceHistory {
	if h == nil {
		return nil
	}
	out := make(PriceHistory, len(h))
	for i, rec := range h {
		out[i] = PriceRecord{Date: rec.Date, Prices: append([]TickerPrice(nil), rec.Prices...)}
	}
	return out
}

// OptimizeRequest is the payload of a single optimize call.
type OptimizeRequest struct {
	RiskLevel RiskLevel  `json:"risk_level"`
	Tickers   TickerList `json:"tickers"`
}

// RecommendRequest is the payload of a single recommend call.
type RecommendRequest struct {
	RiskLevel RiskLevel `json:"risk_level"`
}

// OptimizationResult is the value returned by a successful optimize call.
// It is treated as immutable once received.
type OptimizationResult struct {
	ExpectedReturn     float64      `json:"expected_return"`
	ExpectedVolatility float64      `json:"expected_volatility"`
	SharpeRatio        float64      `json:"sharpe_ratio"`
	Weights            Weights      `json:"weights"`
	PriceHistory       PriceHistory `json:"price_history,omitempty"`
}

func openObject(dec *json.Decoder) (bool, error) {
	tok, err := dec.Token()
	if err != nil {
		return false, err
	}
	if tok == nil {
		return false, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return false, fmt.Errorf("expected object, got %v", tok)
	}
	return true, nil
}

func objectKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", err
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("expected object key, got %v", tok)
	}
	return key, nil
}

func closeObject(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '}' {
		return fmt.Errorf("expected end of object, got %v", tok)
	}
	return nil
}

func writeMember(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func dateLabel(v any) string {
	switch d := v.(type) {
	case nil:
		return ""
	case string:
		return d
	case json.Number:
		return d.String()
	default:
		return fmt.Sprint(d)
	}
}
