package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/events"
)

// mockBackend is a hand-written Backend whose responses are queued per call.
type mockBackend struct {
	mu sync.Mutex

	optimizeCalls  []domain.OptimizeRequest
	recommendCalls []domain.RiskLevel

	optimizeResults []*domain.OptimizationResult
	optimizeErrs    []error
	recommendResult domain.TickerList
	recommendErr    error

	// block, when set, holds every call until it is closed.
	block   chan struct{}
	entered chan struct{}
}

func (m *mockBackend) Optimize(ctx context.Context, req domain.OptimizeRequest) (*domain.OptimizationResult, error) {
	m.mu.Lock()
	m.optimizeCalls = append(m.optimizeCalls, req)
	n := len(m.optimizeCalls) - 1
	m.mu.Unlock()

	m.wait()

	var res *domain.OptimizationResult
	var err error
	if n < len(m.optimizeResults) {
		res = m.optimizeResults[n]
	}
	if n < len(m.optimizeErrs) {
		err = m.optimizeErrs[n]
	}
	return res, err
}

func (m *mockBackend) Recommend(ctx context.Context, risk domain.RiskLevel) (domain.TickerList, error) {
	m.mu.Lock()
	m.recommendCalls = append(m.recommendCalls, risk)
	m.mu.Unlock()

	m.wait()
	return m.recommendResult, m.recommendErr
}

func (m *mockBackend) wait() {
	if m.entered != nil {
		m.entered <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
}

func (m *mockBackend) calls() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.optimizeCalls), len(m.recommendCalls)
}

// mockPublisher records published workflow events.
type mockPublisher struct {
	mu     sync.Mutex
	events []*events.WorkflowEvent
	err    error
}

func (m *mockPublisher) PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return m.err
}

func (m *mockPublisher) routingKeys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.events))
	for _, e := range m.events {
		keys = append(keys, e.RoutingKey())
	}
	return keys
}

// statusRecorder records the status of every notified snapshot.
type statusRecorder struct {
	mu       sync.Mutex
	statuses []domain.WorkflowStatus
}

func (r *statusRecorder) WorkflowChanged(state domain.WorkflowState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, state.Status)
}

func sampleResult() *domain.OptimizationResult {
	return &domain.OptimizationResult{
		ExpectedReturn:     0.12,
		ExpectedVolatility: 0.2,
		SharpeRatio:        0.6,
		Weights:            domain.Weights{{Ticker: "AAPL", Fraction: 0.5}, {Ticker: "MSFT", Fraction: 0.25}, {Ticker: "GOOG", Fraction: 0.25}},
		PriceHistory: domain.PriceHistory{
			{Date: "2024-01-01", Prices: []domain.TickerPrice{{Ticker: "AAPL", Price: 100}, {Ticker: "MSFT", Price: 370}}},
			{Date: "2024-01-02", Prices: []domain.TickerPrice{{Ticker: "AAPL", Price: 102}}},
		},
	}
}

func TestNewController_Defaults(t *testing.T) {
	c := NewController(&mockBackend{}, zaptest.NewLogger(t))
	state := c.State()

	assert.Equal(t, domain.RiskLevelMedium, state.RiskLevel)
	assert.Equal(t, domain.WorkflowStatusIdle, state.Status)
	assert.Empty(t, state.TickerInput)
	assert.Nil(t, state.Result)
	assert.Empty(t, state.ErrorMessage)
	assert.NotEqual(t, uuid.Nil, c.SessionID())
}

func TestController_OptimizeSuccess(t *testing.T) {
	backend := &mockBackend{optimizeResults: []*domain.OptimizationResult{sampleResult()}}
	pub := &mockPublisher{}
	rec := &statusRecorder{}
	c := NewController(backend, zaptest.NewLogger(t),
		WithInitialInputs(domain.RiskLevelHigh, "aapl, msft"),
		WithPublisher(pub),
		WithListener(rec),
	)

	state, err := c.Optimize(context.Background())
	require.NoError(t, err)

	assert.Equal(t, domain.WorkflowStatusSucceeded, state.Status)
	assert.Equal(t, domain.OperationOptimize, state.Operation)
	require.NotNil(t, state.Result)
	assert.Equal(t, 0.12, state.Result.ExpectedReturn)
	assert.Empty(t, state.ErrorMessage)
	assert.Len(t, state.PriceHistory, 2)
	require.NotNil(t, state.ResultFor)
	assert.Equal(t, domain.TickerList{"AAPL", "MSFT"}, state.ResultFor.Tickers)

	require.Len(t, backend.optimizeCalls, 1)
	assert.Equal(t, domain.OptimizeRequest{RiskLevel: domain.RiskLevelHigh, Tickers: domain.TickerList{"AAPL", "MSFT"}}, backend.optimizeCalls[0])

	assert.Equal(t, []string{events.RoutingKeyOptimizeStarted, events.RoutingKeyOptimizeSucceeded}, pub.routingKeys())
	assert.Equal(t, []domain.WorkflowStatus{domain.WorkflowStatusPending, domain.WorkflowStatusSucceeded}, rec.statuses)
}

func TestController_OptimizeWithoutPriceHistory(t *testing.T) {
	res := sampleResult()
	res.PriceHistory = nil
	c := NewController(&mockBackend{optimizeResults: []*domain.OptimizationResult{res}}, zaptest.NewLogger(t))

	state, err := c.Optimize(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, state.PriceHistory)
	assert.Empty(t, state.PriceHistory)
}

func TestController_OptimizeEmptyTickersForwarded(t *testing.T) {
	backend := &mockBackend{optimizeErrs: []error{errors.New("responded with 422 http code")}}
	c := NewController(backend, zaptest.NewLogger(t))

	_, err := c.Optimize(context.Background())
	require.Error(t, err)

	require.Len(t, backend.optimizeCalls, 1)
	assert.Equal(t, domain.TickerList{}, backend.optimizeCalls[0].Tickers)
}

func TestController_OptimizeFailureKeepsPreviousResult(t *testing.T) {
	first := sampleResult()
	cause := errors.New("connection refused")
	backend := &mockBackend{
		optimizeResults: []*domain.OptimizationResult{first, nil},
		optimizeErrs:    []error{nil, cause},
	}
	pub := &mockPublisher{}
	c := NewController(backend, zaptest.NewLogger(t),
		WithInitialInputs(domain.RiskLevelLow, "AAPL, MSFT"),
		WithPublisher(pub),
	)

	_, err := c.Optimize(context.Background())
	require.NoError(t, err)

	state, err := c.Optimize(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNetworkOrServer))
	assert.True(t, errors.Is(err, cause))

	var opErr *domain.OperationError
	require.True(t, errors.As(err, &opErr))
	assert.Equal(t, domain.OperationOptimize, opErr.Op)

	assert.Equal(t, domain.WorkflowStatusFailed, state.Status)
	assert.Equal(t, "Failed to fetch optimization results. Please try again.", state.ErrorMessage)
	assert.Same(t, first, state.Result)
	assert.Len(t, state.PriceHistory, 2)

	keys := pub.routingKeys()
	require.Len(t, keys, 4)
	assert.Equal(t, events.RoutingKeyOptimizeFailed, keys[3])
	assert.Equal(t, "connection refused", pub.events[3].Error)
}

func TestController_OptimizeNilResultIsFailure(t *testing.T) {
	c := NewController(&mockBackend{}, zaptest.NewLogger(t))

	state, err := c.Optimize(context.Background())
	assert.ErrorIs(t, err, domain.ErrNetworkOrServer)
	assert.Equal(t, domain.WorkflowStatusFailed, state.Status)
	assert.Nil(t, state.Result)
}

func TestController_SuccessClearsPreviousError(t *testing.T) {
	backend := &mockBackend{
		optimizeResults: []*domain.OptimizationResult{nil, sampleResult()},
		optimizeErrs:    []error{errors.New("boom"), nil},
	}
	c := NewController(backend, zaptest.NewLogger(t))

	state, _ := c.Optimize(context.Background())
	assert.NotEmpty(t, state.ErrorMessage)

	state, err := c.Optimize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, state.ErrorMessage)
	assert.Equal(t, domain.WorkflowStatusSucceeded, state.Status)
}

func TestController_RecommendOverwritesTickerInput(t *testing.T) {
	backend := &mockBackend{recommendResult: domain.TickerList{"TSLA", "NVDA"}}
	pub := &mockPublisher{}
	c := NewController(backend, zaptest.NewLogger(t),
		WithInitialInputs(domain.RiskLevelHigh, "AAPL, MSFT"),
		WithPublisher(pub),
	)

	state, err := c.Recommend(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "TSLA, NVDA", state.TickerInput)
	assert.Equal(t, domain.TickerList{"TSLA", "NVDA"}, state.RecommendedTickers)
	assert.Equal(t, domain.WorkflowStatusSucceeded, state.Status)
	assert.Equal(t, domain.OperationRecommend, state.Operation)
	assert.Equal(t, []domain.RiskLevel{domain.RiskLevelHigh}, backend.recommendCalls)
	assert.Equal(t, []string{events.RoutingKeyRecommendStarted, events.RoutingKeyRecommendSucceeded}, pub.routingKeys())
}

func TestController_RecommendFailureKeepsTickerInput(t *testing.T) {
	tests := []struct {
		name     string
		opts     []Option
		expected string
	}{
		{"default message", nil, "Could not fetch recommended portfolio."},
		{"get endpoint message", []Option{WithRecommendFailureMessage(domain.MsgRecommendFailed)}, "Failed to fetch recommended portfolio."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &mockBackend{recommendErr: errors.New("responded with 503 http code")}
			opts := append([]Option{WithInitialInputs(domain.RiskLevelLow, "AAPL, MSFT")}, tt.opts...)
			c := NewController(backend, zaptest.NewLogger(t), opts...)

			state, err := c.Recommend(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrNetworkOrServer)

			assert.Equal(t, domain.WorkflowStatusFailed, state.Status)
			assert.Equal(t, tt.expected, state.ErrorMessage)
			assert.Equal(t, "AAPL, MSFT", state.TickerInput)
			assert.Empty(t, state.RecommendedTickers)
		})
	}
}

func TestController_ReentrantCallsRejected(t *testing.T) {
	backend := &mockBackend{
		optimizeResults: []*domain.OptimizationResult{sampleResult()},
		block:           make(chan struct{}),
		entered:         make(chan struct{}, 1),
	}
	c := NewController(backend, zaptest.NewLogger(t), WithInitialInputs(domain.RiskLevelMedium, "AAPL"))

	done := make(chan error, 1)
	go func() {
		_, err := c.Optimize(context.Background())
		done <- err
	}()

	select {
	case <-backend.entered:
	case <-time.After(time.Second):
		t.Fatal("backend was not called")
	}

	pending := c.State()
	assert.Equal(t, domain.WorkflowStatusPending, pending.Status)

	state, err := c.Optimize(context.Background())
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)
	assert.Equal(t, domain.WorkflowStatusPending, state.Status)

	_, err = c.Recommend(context.Background())
	assert.ErrorIs(t, err, domain.ErrOperationInFlight)

	optimizeCalls, recommendCalls := backend.calls()
	assert.Equal(t, 1, optimizeCalls)
	assert.Equal(t, 0, recommendCalls)

	close(backend.block)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("optimize did not complete")
	}

	assert.Equal(t, domain.WorkflowStatusSucceeded, c.State().Status)
}

func TestController_EditsWhilePending(t *testing.T) {
	backend := &mockBackend{
		optimizeResults: []*domain.OptimizationResult{sampleResult()},
		block:           make(chan struct{}),
		entered:         make(chan struct{}, 1),
	}
	c := NewController(backend, zaptest.NewLogger(t), WithInitialInputs(domain.RiskLevelLow, "AAPL, MSFT"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Optimize(context.Background())
	}()
	<-backend.entered

	require.NoError(t, c.SetRiskLevel(domain.RiskLevelHigh))
	c.SetTickerInput("NVDA")

	state := c.State()
	assert.Equal(t, domain.WorkflowStatusPending, state.Status)
	assert.Equal(t, domain.RiskLevelHigh, state.RiskLevel)
	assert.Equal(t, "NVDA", state.TickerInput)

	close(backend.block)
	<-done

	// The in-flight request used the snapshot taken at dispatch
	assert.Equal(t, domain.OptimizeRequest{RiskLevel: domain.RiskLevelLow, Tickers: domain.TickerList{"AAPL", "MSFT"}}, backend.optimizeCalls[0])

	state = c.State()
	assert.Equal(t, domain.RiskLevelHigh, state.RiskLevel)
	assert.Equal(t, "NVDA", state.TickerInput)
	assert.Equal(t, domain.RiskLevelLow, state.ResultFor.RiskLevel)
}

func TestController_SetRiskLevelInvalid(t *testing.T) {
	rec := &statusRecorder{}
	c := NewController(&mockBackend{}, zaptest.NewLogger(t), WithListener(rec))

	err := c.SetRiskLevel("extreme")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.RiskLevelMedium, c.State().RiskLevel)
	assert.Empty(t, rec.statuses)
}

func TestController_EditsDoNotChangeStatus(t *testing.T) {
	c := NewController(&mockBackend{recommendErr: errors.New("down")}, zaptest.NewLogger(t))
	_, _ = c.Recommend(context.Background())

	c.SetTickerInput("AAPL")
	require.NoError(t, c.SetRiskLevel(domain.RiskLevelLow))

	state := c.State()
	assert.Equal(t, domain.WorkflowStatusFailed, state.Status)
	assert.NotEmpty(t, state.ErrorMessage)
}

func TestController_RecommendAndOptimize(t *testing.T) {
	backend := &mockBackend{
		recommendResult: domain.TickerList{"TSLA", "NVDA"},
		optimizeResults: []*domain.OptimizationResult{sampleResult()},
	}
	c := NewController(backend, zaptest.NewLogger(t), WithInitialInputs(domain.RiskLevelHigh, ""))

	state, err := c.RecommendAndOptimize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusSucceeded, state.Status)
	require.Len(t, backend.optimizeCalls, 1)
	assert.Equal(t, domain.TickerList{"TSLA", "NVDA"}, backend.optimizeCalls[0].Tickers)
}

func TestController_RecommendAndOptimize_StopsOnRecommendFailure(t *testing.T) {
	backend := &mockBackend{recommendErr: errors.New("down")}
	c := NewController(backend, zaptest.NewLogger(t))

	_, err := c.RecommendAndOptimize(context.Background())
	require.Error(t, err)
	optimizeCalls, _ := backend.calls()
	assert.Zero(t, optimizeCalls)
}

func TestController_ExportsRequireResult(t *testing.T) {
	c := NewController(&mockBackend{optimizeResults: []*domain.OptimizationResult{sampleResult()}}, zaptest.NewLogger(t),
		WithInitialInputs(domain.RiskLevelMedium, "AAPL, MSFT"))

	_, err := c.WeightsCSV()
	assert.ErrorIs(t, err, domain.ErrNoResult)
	_, err = c.PriceSeries()
	assert.ErrorIs(t, err, domain.ErrNoResult)
	_, err = c.WeightsDocument()
	assert.ErrorIs(t, err, domain.ErrNoResult)

	_, err = c.Optimize(context.Background())
	require.NoError(t, err)

	csv, err := c.WeightsCSV()
	require.NoError(t, err)
	assert.Equal(t, "Ticker,Weight\nAAPL,50.00%\nMSFT,25.00%\nGOOG,25.00%", csv)

	doc, err := c.WeightsDocument()
	require.NoError(t, err)
	assert.Equal(t, "portfolio_weights.csv", doc.Filename)
	assert.Equal(t, csv, string(doc.Content))

	series, err := c.PriceSeries()
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, "MSFT", series[1].Ticker)
	assert.Nil(t, series[1].Points[1].Price)
}

func TestController_PriceSeriesFollowsCurrentTickerInput(t *testing.T) {
	c := NewController(&mockBackend{optimizeResults: []*domain.OptimizationResult{sampleResult()}}, zaptest.NewLogger(t),
		WithInitialInputs(domain.RiskLevelMedium, "AAPL, MSFT"))
	_, err := c.Optimize(context.Background())
	require.NoError(t, err)

	c.SetTickerInput("AAPL")
	series, err := c.PriceSeries()
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.Equal(t, "AAPL", series[0].Ticker)
}

func TestController_PublishErrorsAreNotFatal(t *testing.T) {
	pub := &mockPublisher{err: errors.New("channel not available")}
	c := NewController(&mockBackend{optimizeResults: []*domain.OptimizationResult{sampleResult()}}, zaptest.NewLogger(t),
		WithPublisher(pub))

	state, err := c.Optimize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, domain.WorkflowStatusSucceeded, state.Status)
}

func TestController_StateIsACopy(t *testing.T) {
	c := NewController(&mockBackend{recommendResult: domain.TickerList{"TSLA"}}, zaptest.NewLogger(t))
	_, err := c.Recommend(context.Background())
	require.NoError(t, err)

	state := c.State()
	state.RecommendedTickers[0] = "X"
	assert.Equal(t, "TSLA", c.State().RecommendedTickers[0])
}

func TestListenerFunc(t *testing.T) {
	var got domain.WorkflowStatus
	c := NewController(&mockBackend{}, zaptest.NewLogger(t), WithListener(ListenerFunc(func(s domain.WorkflowState) {
		got = s.Status
	})))
	c.SetTickerInput("AAPL")
	assert.Equal(t, domain.WorkflowStatusIdle, got)
}

// blockingListener holds the first snapshot with status blockOn until release
// is closed, then records it. Other snapshots are recorded immediately.
type blockingListener struct {
	blockOn domain.WorkflowStatus
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	blocked bool
	states  []domain.WorkflowState
}

func (l *blockingListener) WorkflowChanged(state domain.WorkflowState) {
	l.mu.Lock()
	block := !l.blocked && state.Status == l.blockOn
	if block {
		l.blocked = true
	}
	l.mu.Unlock()

	if block {
		l.entered <- struct{}{}
		<-l.release
	}

	l.mu.Lock()
	l.states = append(l.states, state)
	l.mu.Unlock()
}

func (l *blockingListener) recorded() []domain.WorkflowState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]domain.WorkflowState(nil), l.states...)
}

func TestController_ListenersSeeChangesInOrder(t *testing.T) {
	l := &blockingListener{
		blockOn: domain.WorkflowStatusSucceeded,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	c := NewController(&mockBackend{optimizeResults: []*domain.OptimizationResult{sampleResult()}}, zaptest.NewLogger(t),
		WithInitialInputs(domain.RiskLevelMedium, "AAPL"),
		WithListener(l),
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = c.Optimize(context.Background())
	}()

	select {
	case <-l.entered:
	case <-time.After(time.Second):
		t.Fatal("succeeded snapshot was not delivered")
	}

	edited := make(chan struct{})
	go func() {
		defer close(edited)
		c.SetTickerInput("NVDA")
	}()
	require.Eventually(t, func() bool { return c.State().TickerInput == "NVDA" }, time.Second, 5*time.Millisecond)

	close(l.release)
	<-done
	<-edited

	states := l.recorded()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	assert.Equal(t, "NVDA", last.TickerInput)
	assert.Equal(t, domain.WorkflowStatusSucceeded, last.Status)
	assert.Equal(t, c.State().Version, last.Version)

	for i := 1; i < len(states); i++ {
		assert.Greater(t, states[i].Version, states[i-1].Version)
	}
}

func TestController_VersionIncreasesOnEveryChange(t *testing.T) {
	c := NewController(&mockBackend{optimizeResults: []*domain.OptimizationResult{sampleResult()}}, zaptest.NewLogger(t))
	v0 := c.State().Version

	c.SetTickerInput("AAPL")
	v1 := c.State().Version
	assert.Greater(t, v1, v0)

	require.NoError(t, c.SetRiskLevel(domain.RiskLevelHigh))
	v2 := c.State().Version
	assert.Greater(t, v2, v1)

	state, err := c.Optimize(context.Background())
	require.NoError(t, err)
	assert.Greater(t, state.Version, v2+1, "pending and succeeded are separate changes")

	// A rejected edit is not a change
	assert.Error(t, c.SetRiskLevel("extreme"))
	assert.Equal(t, state.Version, c.State().Version)
}

// publisherFunc adapts a function to EventPublisher.
type publisherFunc func(ctx context.Context, event *events.WorkflowEvent) error

func (f publisherFunc) PublishWorkflowEvent(ctx context.Context, event *events.WorkflowEvent) error {
	return f(ctx, event)
}

func TestController_RecommendAndOptimize_HoldsSlotBetweenSteps(t *testing.T) {
	backend := &mockBackend{
		recommendResult: domain.TickerList{"TSLA", "NVDA"},
		optimizeResults: []*domain.OptimizationResult{sampleResult()},
	}

	var (
		c           *Controller
		betweenErr  error
		betweenSeen domain.WorkflowState
	)
	pub := publisherFunc(func(ctx context.Context, event *events.WorkflowEvent) error {
		// Another caller arriving right after the recommendation
		if event.RoutingKey() == events.RoutingKeyRecommendSucceeded {
			betweenSeen, betweenErr = c.Optimize(context.Background())
		}
		return nil
	})
	rec := &statusRecorder{}
	c = NewController(backend, zaptest.NewLogger(t),
		WithInitialInputs(domain.RiskLevelHigh, "AAPL"),
		WithPublisher(pub),
		WithListener(rec),
	)

	state, err := c.RecommendAndOptimize(context.Background())
	require.NoError(t, err)

	assert.ErrorIs(t, betweenErr, domain.ErrOperationInFlight)
	assert.Equal(t, domain.WorkflowStatusPending, betweenSeen.Status)
	assert.Equal(t, domain.OperationOptimize, betweenSeen.Operation)

	assert.Equal(t, domain.WorkflowStatusSucceeded, state.Status)
	assert.Equal(t, "TSLA, NVDA", state.TickerInput)
	require.Len(t, backend.optimizeCalls, 1)
	assert.Equal(t, domain.TickerList{"TSLA", "NVDA"}, backend.optimizeCalls[0].Tickers)

	// The controller never left pending between the two steps
	assert.Equal(t, []domain.WorkflowStatus{
		domain.WorkflowStatusPending,
		domain.WorkflowStatusPending,
		domain.WorkflowStatusSucceeded,
	}, rec.statuses)
}
