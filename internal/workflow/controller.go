// Package workflow drives the recommend/optimize form workflow: it owns the
// workflow state, dispatches at most one backend call at a time and maps each
// outcome onto the state.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/events"
	"github.com/saltfish/portfolio-optimizer/internal/export"
)

// Backend is the remote optimization service.
type Backend interface {
	Optimize(ctx context.Context, req domain.OptimizeRequest) (*domain.OptimizationResult, error)
	Recommend(ctx context.Context, risk domain.RiskLevel) (domain.TickerList, error)
}

// EventPublisher defines the interface for publishing workflow events.
type EventPublisher interface {
	PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error
}

// Listener is notified with a snapshot after every state change. Snapshots
// arrive one at a time in version order; a listener must not block for long
// or call back into the Controller's setters.
type Listener interface {
	WorkflowChanged(state domain.WorkflowState)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(state domain.WorkflowState)

// WorkflowChanged calls f(state).
func (f ListenerFunc) WorkflowChanged(state domain.WorkflowState) {
	f(state)
}

// Option configures a Controller.
type Option func(*Controller)

// WithPublisher publishes lifecycle events of every operation.
func WithPublisher(p EventPublisher) Option {
	return func(c *Controller) {
		c.publisher = p
	}
}

// WithListener registers a state change listener.
func WithListener(l Listener) Option {
	return func(c *Controller) {
		c.listeners = append(c.listeners, l)
	}
}

// WithRecommendFailureMessage overrides the message stored when recommend fails.
func WithRecommendFailureMessage(msg string) Option {
	return func(c *Controller) {
		if msg != "" {
			c.recommendFailureMsg = msg
		}
	}
}

// WithInitialInputs sets the risk level and ticker text a fresh workflow starts with.
func WithInitialInputs(risk domain.RiskLevel, tickerInput string) Option {
	return func(c *Controller) {
		c.state = domain.NewWorkflowState(risk, tickerInput)
	}
}

// Controller owns one WorkflowState. It is safe for concurrent use.
type Controller struct {
	backend             Backend
	publisher           EventPublisher
	listeners           []Listener
	recommendFailureMsg string
	sessionID           uuid.UUID
	logger              *zap.Logger

	mu    sync.Mutex
	state domain.WorkflowState

	// notifyMu serializes listener delivery; notified is the last version
	// delivered.
	notifyMu sync.Mutex
	notified uint64
}

// NewController creates a new Controller in the idle state.
func NewController(backend Backend, logger *zap.Logger, opts ...Option) *Controller {
	c := &Controller{
		backend:             backend,
		publisher:           events.NewNoOpPublisher(),
		recommendFailureMsg: domain.MsgRecommendUnavailable,
		sessionID:           uuid.New(),
		state:               domain.NewWorkflowState(domain.DefaultRiskLevel, ""),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logger.With(zap.String("session_id", c.sessionID.String()))
	return c
}

// SessionID identifies this controller in events and archived results.
func (c *Controller) SessionID() uuid.UUID {
	return c.sessionID
}

// State returns a snapshot of the current state.
func (c *Controller) State() domain.WorkflowState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// SetRiskLevel updates the risk level input. It never changes the status and
// does not affect an operation already in flight.
func (c *Controller) SetRiskLevel(level domain.RiskLevel) error {
	if !level.IsValid() {
		return fmt.Errorf("%w: unknown risk level %q", domain.ErrInvalidInput, level)
	}

	c.mu.Lock()
	c.state.RiskLevel = level
	c.touch()
	snapshot := c.state.Clone()
	c.mu.Unlock()

	c.notify(snapshot)
	return nil
}

// SetTickerInput replaces the free-text ticker input. Like SetRiskLevel it is
// allowed while an operation is pending.
func (c *Controller) SetTickerInput(text string) {
	c.mu.Lock()
	c.state.TickerInput = text
	c.touch()
	snapshot := c.state.Clone()
	c.mu.Unlock()

	c.notify(snapshot)
}

// Optimize requests an allocation for the current inputs.
//
// While another operation is pending the call returns
// domain.ErrOperationInFlight without touching the state or the backend.
// Backend failures are returned as *domain.OperationError; the previous
// result stays in place.
func (c *Controller) Optimize(ctx context.Context) (domain.WorkflowState, error) {
	c.mu.Lock()
	if c.state.IsPending() {
		snapshot := c.state.Clone()
		c.mu.Unlock()
		return snapshot, domain.ErrOperationInFlight
	}
	req := c.beginOptimize()
	snapshot := c.state.Clone()
	c.mu.Unlock()

	return c.optimize(ctx, req, snapshot)
}

// Recommend asks the backend for tickers suited to the current risk level.
// On success the ticker input is overwritten with the recommendation; on
// failure it is left untouched.
func (c *Controller) Recommend(ctx context.Context) (domain.WorkflowState, error) {
	c.mu.Lock()
	if c.state.IsPending() {
		snapshot := c.state.Clone()
		c.mu.Unlock()
		return snapshot, domain.ErrOperationInFlight
	}
	risk := c.state.RiskLevel
	c.begin(domain.OperationRecommend)
	snapshot := c.state.Clone()
	c.mu.Unlock()

	state, _, err := c.recommend(ctx, risk, snapshot, false)
	return state, err
}

// RecommendAndOptimize runs Recommend and, if it succeeds, Optimize on the
// recommended tickers. The controller stays pending between the two steps,
// so no other operation can run in between.
func (c *Controller) RecommendAndOptimize(ctx context.Context) (domain.WorkflowState, error) {
	c.mu.Lock()
	if c.state.IsPending() {
		snapshot := c.state.Clone()
		c.mu.Unlock()
		return snapshot, domain.ErrOperationInFlight
	}
	risk := c.state.RiskLevel
	c.begin(domain.OperationRecommend)
	snapshot := c.state.Clone()
	c.mu.Unlock()

	state, req, err := c.recommend(ctx, risk, snapshot, true)
	if err != nil {
		return state, err
	}
	return c.optimize(ctx, *req, state)
}

// optimize performs a dispatched optimization. The state is already pending.
func (c *Controller) optimize(ctx context.Context, req domain.OptimizeRequest, snapshot domain.WorkflowState) (domain.WorkflowState, error) {
	logger := c.logger.With(zap.String("method", "Optimize"))
	logger.Info("Optimize dispatched",
		zap.String("risk_level", req.RiskLevel.String()),
		zap.Strings("tickers", req.Tickers),
	)
	c.notify(snapshot)
	c.publish(ctx, events.NewStartedEvent(c.sessionID, domain.OperationOptimize, req.RiskLevel, req.Tickers))

	start := time.Now()
	result, err := c.backend.Optimize(ctx, req)
	if err == nil && result == nil {
		err = errors.New("empty optimization result")
	}
	duration := time.Since(start)

	c.mu.Lock()
	if err != nil {
		opErr := domain.NewOperationError(domain.OperationOptimize, domain.MsgOptimizeFailed, err)
		c.fail(opErr.Message)
		snapshot = c.state.Clone()
		c.mu.Unlock()

		logger.Error("Optimize failed", zap.Duration("duration", duration), zap.Error(err))
		c.notify(snapshot)
		c.publish(ctx, events.NewFailedEvent(c.sessionID, domain.OperationOptimize, req.RiskLevel, req.Tickers, opErr.Message, err, duration))
		return snapshot, opErr
	}

	history := result.PriceHistory.Clone()
	if history == nil {
		history = domain.PriceHistory{}
	}
	c.state.Result = result
	c.state.ResultFor = &domain.OptimizeRequest{RiskLevel: req.RiskLevel, Tickers: req.Tickers.Clone()}
	c.state.PriceHistory = history
	c.succeed()
	snapshot = c.state.Clone()
	c.mu.Unlock()

	logger.Info("Optimize succeeded",
		zap.Duration("duration", duration),
		zap.Int("weights", len(result.Weights)),
		zap.Int("price_records", len(history)),
	)
	c.notify(snapshot)
	c.publish(ctx, events.NewOptimizeSucceededEvent(c.sessionID, req, result, duration))
	return snapshot, nil
}

// recommend performs a dispatched recommendation. The state is already
// pending. With chain set, success moves straight on to a pending optimize
// and returns its request.
func (c *Controller) recommend(ctx context.Context, risk domain.RiskLevel, snapshot domain.WorkflowState, chain bool) (domain.WorkflowState, *domain.OptimizeRequest, error) {
	logger := c.logger.With(zap.String("method", "Recommend"))
	logger.Info("Recommend dispatched", zap.String("risk_level", risk.String()))
	c.notify(snapshot)
	c.publish(ctx, events.NewStartedEvent(c.sessionID, domain.OperationRecommend, risk, nil))

	start := time.Now()
	tickers, err := c.backend.Recommend(ctx, risk)
	duration := time.Since(start)

	c.mu.Lock()
	if err != nil {
		opErr := domain.NewOperationError(domain.OperationRecommend, c.recommendFailureMsg, err)
		c.fail(opErr.Message)
		snapshot = c.state.Clone()
		c.mu.Unlock()

		logger.Error("Recommend failed", zap.Duration("duration", duration), zap.Error(err))
		c.notify(snapshot)
		c.publish(ctx, events.NewFailedEvent(c.sessionID, domain.OperationRecommend, risk, nil, opErr.Message, err, duration))
		return snapshot, nil, opErr
	}

	recommended := tickers.Clone()
	if recommended == nil {
		recommended = domain.TickerList{}
	}
	c.state.TickerInput = recommended.String()
	c.state.RecommendedTickers = recommended

	var next *domain.OptimizeRequest
	if chain {
		req := c.beginOptimize()
		next = &req
	} else {
		c.succeed()
	}
	snapshot = c.state.Clone()
	c.mu.Unlock()

	logger.Info("Recommend succeeded",
		zap.Duration("duration", duration),
		zap.Strings("tickers", recommended),
	)
	if !chain {
		c.notify(snapshot)
	}
	c.publish(ctx, events.NewRecommendSucceededEvent(c.sessionID, risk, recommended, duration))
	return snapshot, next, nil
}

// WeightsCSV serializes the weights of the last successful result.
func (c *Controller) WeightsCSV() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Result == nil {
		return "", domain.ErrNoResult
	}
	return export.WeightsCSV(c.state.Result.Weights), nil
}

// WeightsDocument wraps WeightsCSV into a downloadable document.
func (c *Controller) WeightsDocument() (export.Document, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Result == nil {
		return export.Document{}, domain.ErrNoResult
	}
	return export.NewWeightsDocument(c.state.Result.Weights), nil
}

// PriceSeries normalizes the stored price history for charting, one series
// per ticker of the current ticker input.
func (c *Controller) PriceSeries() ([]export.Series, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Result == nil {
		return nil, domain.ErrNoResult
	}
	return export.NormalizePriceHistory(c.state.PriceHistory, c.state.Tickers()), nil
}

// begin moves the state to pending. Caller holds mu.
func (c *Controller) begin(op domain.Operation) {
	c.state.Status = domain.WorkflowStatusPending
	c.state.Operation = op
	c.state.ErrorMessage = ""
	c.touch()
}

// beginOptimize moves the state to a pending optimize and returns the
// request for the current inputs. Caller holds mu.
func (c *Controller) beginOptimize() domain.OptimizeRequest {
	req := domain.OptimizeRequest{RiskLevel: c.state.RiskLevel, Tickers: c.state.Tickers()}
	c.begin(domain.OperationOptimize)
	return req
}

// succeed moves the state to succeeded. Caller holds mu.
func (c *Controller) succeed() {
	c.state.Status = domain.WorkflowStatusSucceeded
	c.state.ErrorMessage = ""
	c.touch()
}

// fail moves the state to failed. Caller holds mu.
func (c *Controller) fail(message string) {
	c.state.Status = domain.WorkflowStatusFailed
	c.state.ErrorMessage = message
	c.touch()
}

// touch marks the state as changed. Caller holds mu.
func (c *Controller) touch() {
	c.state.Version++
	c.state.UpdatedAt = time.Now()
}

// notify delivers state to the listeners one snapshot at a time. A snapshot
// older than one already delivered is skipped, so listeners always end on the
// newest state.
func (c *Controller) notify(state domain.WorkflowState) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	if state.Version <= c.notified {
		return
	}
	c.notified = state.Version

	for _, l := range c.listeners {
		l.WorkflowChanged(state)
	}
}

func (c *Controller) publish(ctx context.Context, event *events.WorkflowEvent) {
	if err := c.publisher.PublishWorkflowEvent(context.WithoutCancel(ctx), event); err != nil {
		c.logger.Warn("Failed to publish workflow event",
			zap.String("routing_key", event.RoutingKey()),
			zap.Error(err),
		)
	}
}
