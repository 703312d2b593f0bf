package export

import "github.com/saltfish/portfolio-optimizer/internal/domain"

// Point is one (date, price) pair of a chart series.
// A nil Price is a gap the chart renderer leaves empty.
type Point struct {
	Date  string   `json:"date"`
	Price *float64 `json:"price"`
}

// Series is the price line of a single ticker.
type Series struct {
	Ticker string  `json:"ticker"`
	Points []Point `json:"points"`
}

// Gaps counts the points without a price.
func (s Series) Gaps() int {
	n := 0
	for _, p := range s.Points {
		if p.Price == nil {
			n++
		}
	}
	return n
}

// NormalizePriceHistory extracts, for every ticker in order, the sequence of
// (Date, price) pairs from history. Every series has one point per record;
// a ticker missing from a record yields a gap. Dates are copied verbatim.
func NormalizePriceHistory(history domain.PriceHistory, tickers domain.TickerList) []Series {
	out := make([]Series, 0, len(tickers))
	for _, ticker := range tickers {
		s := Series{Ticker: ticker, Points: make([]Point, 0, len(history))}
		for _, rec := range history {
			p := Point{Date: rec.Date}
			if price, ok := rec.Price(ticker); ok {
				v := price
				p.Price = &v
			}
			s.Points = append(s.Points, p)
		}
		out = append(out, s)
	}
	return out
}

// Dates returns the date labels of history in order.
func Dates(history domain.PriceHistory) []string {
	out := make([]string, 0, len(history))
	for _, rec := range history {
		out = append(out, rec.Date)
	}
	return out
}
