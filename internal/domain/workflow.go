package domain

import "time"

// WorkflowState is everything a form UI needs to render the workflow.
// It is owned by a single controller; callers only receive clones.
type WorkflowState struct {
	RiskLevel          RiskLevel           `json:"risk_level"`
	TickerInput        string              `json:"ticker_input"`
	RecommendedTickers TickerList          `json:"recommended_tickers"`
	Result             *OptimizationResult `json:"result,omitempty"`
	ResultFor          *OptimizeRequest    `json:"result_for,omitempty"`
	PriceHistory       PriceHistory        `json:"price_history"`
	Status             WorkflowStatus      `json:"status"`
	Operation          Operation           `json:"operation,omitempty"`
	ErrorMessage       string              `json:"error_message,omitempty"`
	UpdatedAt          time.Time           `json:"updated_at"`

	// Version increases with every change; a higher version is newer.
	Version uint64 `json:"version"`
}

// NewWorkflowState returns the state a fresh controller starts with.
func NewWorkflowState(risk RiskLevel, tickerInput string) WorkflowState {
	if !risk.IsValid() {
		risk = DefaultRiskLevel
	}
	return WorkflowState{
		RiskLevel:          risk,
		TickerInput:        tickerInput,
		RecommendedTickers: TickerList{},
		PriceHistory:       PriceHistory{},
		Status:             WorkflowStatusIdle,
		UpdatedAt:          time.Now(),
	}
}

// Tickers returns the ticker list derived from the current ticker input.
func (s WorkflowState) Tickers() TickerList {
	return ParseTickers(s.TickerInput)
}

// IsPending returns true while an operation is in flight.
func (s WorkflowState) IsPending() bool {
	return s.Status == WorkflowStatusPending
}

// HasResult returns true once an optimize call has succeeded.
func (s WorkflowState) HasResult() bool {
	return s.Result != nil
}

// Clone returns a copy whose slices can be handed out safely.
// Result is shared because it is never mutated after it is stored.
func (s WorkflowState) Clone() WorkflowState {
	out := s
	out.RecommendedTickers = s.RecommendedTickers.Clone()
	out.PriceHistory = s.PriceHistory.Clone()
	if s.ResultFor != nil {
		req := *s.ResultFor
		req.Tickers = req.Tickers.Clone()
		out.ResultFor = &req
	}
	return out
}
