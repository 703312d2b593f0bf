// Package events provides RabbitMQ publishing and subscription of workflow
// lifecycle events.
package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

// Routing keys for events.
const (
	RoutingKeyOptimizeStarted   = "workflow.optimize.started"
	RoutingKeyOptimizeSucceeded = "workflow.optimize.succeeded"
	RoutingKeyOptimizeFailed    = "workflow.optimize.failed"

	RoutingKeyRecommendStarted   = "workflow.recommend.started"
	RoutingKeyRecommendSucceeded = "workflow.recommend.succeeded"
	RoutingKeyRecommendFailed    = "workflow.recommend.failed"

	// RoutingKeyAllWorkflow matches every workflow event on a topic exchange.
	RoutingKeyAllWorkflow = "workflow.#"
)

// Event phases.
const (
	PhaseStarted   = "started"
	PhaseSucceeded = "succeeded"
	PhaseFailed    = "failed"
)

// DefaultSource identifies this service in published events.
const DefaultSource = "portfolio-optimizer"

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source,omitempty"`
}

// NewBaseEvent creates a new BaseEvent with auto-generated event_id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: time.Now(),
		Source:    DefaultSource,
	}
}

// ResultMetrics are the headline numbers of a successful optimization.
type ResultMetrics struct {
	ExpectedReturn     float64 `json:"expected_return"`
	ExpectedVolatility float64 `json:"expected_volatility"`
	SharpeRatio        float64 `json:"sharpe_ratio"`
}

// WorkflowEvent is published at every phase of a remote operation.
type WorkflowEvent struct {
	BaseEvent
	SessionID    uuid.UUID         `json:"session_id"`
	Operation    domain.Operation  `json:"operation"`
	Phase        string            `json:"phase"`
	RiskLevel    domain.RiskLevel  `json:"risk_level"`
	Tickers      domain.TickerList `json:"tickers"`
	DurationMs   int64             `json:"duration_ms,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metrics      *ResultMetrics    `json:"metrics,omitempty"`
}

// RoutingKey returns the routing key for the event's operation and phase.
func (e *WorkflowEvent) RoutingKey() string {
	return RoutingKeyFor(e.Operation, e.Phase)
}

// RoutingKeyFor builds "workflow.<operation>.<phase>".
func RoutingKeyFor(op domain.Operation, phase string) string {
	return "workflow." + string(op) + "." + phase
}

func newWorkflowEvent(sessionID uuid.UUID, op domain.Operation, phase string, risk domain.RiskLevel, tickers domain.TickerList) *WorkflowEvent {
	if tickers == nil {
		tickers = domain.TickerList{}
	}
	return &WorkflowEvent{
		BaseEvent: NewBaseEvent(RoutingKeyFor(op, phase)),
		SessionID: sessionID,
		Operation: op,
		Phase:     phase,
		RiskLevel: risk,
		Tickers:   tickers.Clone(),
	}
}

// NewStartedEvent creates the event published when an operation is dispatched.
// Tickers is the snapshot sent to the backend (empty for recommend).
func NewStartedEvent(sessionID uuid.UUID, op domain.Operation, risk domain.RiskLevel, tickers domain.TickerList) *WorkflowEvent {
	return newWorkflowEvent(sessionID, op, PhaseStarted, risk, tickers)
}

// NewOptimizeSucceededEvent creates the event published after a successful optimize.
func NewOptimizeSucceededEvent(sessionID uuid.UUID, req domain.OptimizeRequest, result *domain.OptimizationResult, duration time.Duration) *WorkflowEvent {
	e := newWorkflowEvent(sessionID, domain.OperationOptimize, PhaseSucceeded, req.RiskLevel, req.Tickers)
	e.DurationMs = duration.Milliseconds()
	if result != nil {
		e.Metrics = &ResultMetrics{
			ExpectedReturn:     result.ExpectedReturn,
			ExpectedVolatility: result.ExpectedVolatility,
			SharpeRatio:        result.SharpeRatio,
		}
	}
	return e
}

// NewRecommendSucceededEvent creates the event published after a successful recommend.
// Tickers carries the recommended list.
func NewRecommendSucceededEvent(sessionID uuid.UUID, risk domain.RiskLevel, tickers domain.TickerList, duration time.Duration) *WorkflowEvent {
	e := newWorkflowEvent(sessionID, domain.OperationRecommend, PhaseSucceeded, risk, tickers)
	e.DurationMs = duration.Milliseconds()
	return e
}

// NewFailedEvent creates the event published when an operation fails.
func NewFailedEvent(sessionID uuid.UUID, op domain.Operation, risk domain.RiskLevel, tickers domain.TickerList, message string, cause error, duration time.Duration) *WorkflowEvent {
	e := newWorkflowEvent(sessionID, op, PhaseFailed, risk, tickers)
	e.DurationMs = duration.Milliseconds()
	e.ErrorMessage = message
	if cause != nil {
		e.Error = cause.Error()
	}
	return e
}
