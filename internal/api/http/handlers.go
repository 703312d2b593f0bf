package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saltfish/portfolio-optimizer/internal/db/repository"
	"github.com/saltfish/portfolio-optimizer/internal/domain"
	"github.com/saltfish/portfolio-optimizer/internal/export"
)

// WorkflowService is the workflow the handlers drive.
type WorkflowService interface {
	SessionID() uuid.UUID
	State() domain.WorkflowState
	SetRiskLevel(level domain.RiskLevel) error
	SetTickerInput(text string)
	Optimize(ctx context.Context) (domain.WorkflowState, error)
	Recommend(ctx context.Context) (domain.WorkflowState, error)
	RecommendAndOptimize(ctx context.Context) (domain.WorkflowState, error)
	WeightsDocument() (export.Document, error)
	PriceSeries() ([]export.Series, error)
}

// Handler provides REST API handlers.
type Handler struct {
	workflow WorkflowService
	archive  repository.ResultArchive
	logger   *zap.Logger
}

// NewHandler creates a new Handler instance. archive may be nil.
func NewHandler(workflow WorkflowService, archive repository.ResultArchive, logger *zap.Logger) *Handler {
	return &Handler{
		workflow: workflow,
		archive:  archive,
		logger:   logger,
	}
}

// Error response structure
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, err error, message string) {
	writeJSON(w, status, ErrorResponse{
		Error:   err.Error(),
		Message: message,
	})
}

// ========================================
// Workflow Handlers
// ========================================

// HandleGetWorkflow returns the current workflow state.
func (h *Handler) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.workflow.State())
}

// UpdateInputsRequest represents the request body for editing the form inputs.
// Absent fields are left unchanged.
type UpdateInputsRequest struct {
	RiskLevel *string `json:"risk_level,omitempty"`
	Tickers   *string `json:"tickers,omitempty"`
}

// HandleUpdateInputs edits the risk level and ticker text.
func (h *Handler) HandleUpdateInputs(w http.ResponseWriter, r *http.Request) {
	var req UpdateInputsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err, "Invalid request body")
		return
	}

	if req.RiskLevel != nil {
		if err := h.workflow.SetRiskLevel(domain.RiskLevel(*req.RiskLevel)); err != nil {
			writeError(w, http.StatusBadRequest, err, "risk_level must be one of low, medium, high")
			return
		}
	}
	if req.Tickers != nil {
		h.workflow.SetTickerInput(*req.Tickers)
	}

	writeJSON(w, http.StatusOK, h.workflow.State())
}

// HandleOptimize runs an optimization for the current inputs.
func (h *Handler) HandleOptimize(w http.ResponseWriter, r *http.Request) {
	// The operation outlives a client that disconnects mid-request.
	ctx := context.WithoutCancel(r.Context())

	state, err := h.workflow.Optimize(ctx)
	h.respondOperation(w, ctx, state, err)
}

// HandleRecommend replaces the ticker input with a recommendation.
func (h *Handler) HandleRecommend(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	state, err := h.workflow.Recommend(ctx)
	h.respondOperation(w, ctx, state, err)
}

// HandleRecommendAndOptimize recommends tickers and optimizes them.
func (h *Handler) HandleRecommendAndOptimize(w http.ResponseWriter, r *http.Request) {
	ctx := context.WithoutCancel(r.Context())

	state, err := h.workflow.RecommendAndOptimize(ctx)
	h.respondOperation(w, ctx, state, err)
}

// respondOperation maps an operation outcome to a response. Backend failures
// answer 502 with the failed state so the form can show its error message.
func (h *Handler) respondOperation(w http.ResponseWriter, ctx context.Context, state domain.WorkflowState, err error) {
	switch {
	case err == nil:
		if state.Operation == domain.OperationOptimize {
			h.archiveResult(ctx, state)
		}
		writeJSON(w, http.StatusOK, state)
	case errors.Is(err, domain.ErrOperationInFlight):
		writeError(w, http.StatusConflict, err, "Another operation is in progress")
	case errors.Is(err, domain.ErrNetworkOrServer):
		writeJSON(w, http.StatusBadGateway, state)
	default:
		h.logger.Error("Workflow operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "Operation failed")
	}
}

// archiveResult records a successful optimization. Failures are only logged.
func (h *Handler) archiveResult(ctx context.Context, state domain.WorkflowState) {
	if h.archive == nil || state.Result == nil || state.ResultFor == nil {
		return
	}

	archived := domain.NewArchivedResult(h.workflow.SessionID(), *state.ResultFor, state.Result)
	if err := h.archive.Create(ctx, archived); err != nil {
		h.logger.Warn("Failed to archive optimization result",
			zap.String("result_id", archived.ID.String()),
			zap.Error(err),
		)
		return
	}

	h.logger.Debug("Optimization result archived", zap.String("result_id", archived.ID.String()))
}

// HandleExportWeights serves the weights of the last result as a CSV download.
func (h *Handler) HandleExportWeights(w http.ResponseWriter, r *http.Request) {
	doc, err := h.workflow.WeightsDocument()
	if err != nil {
		writeError(w, http.StatusNotFound, err, "Run an optimization first")
		return
	}

	w.Header().Set("Content-Type", doc.MIMEType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+doc.Filename+`"`)
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(doc.Content); err != nil {
		h.logger.Warn("Failed to write export", zap.Error(err))
	}
}

// ChartResponse carries the price series of the current ticker input.
type ChartResponse struct {
	Tickers domain.TickerList `json:"tickers"`
	Series  []export.Series   `json:"series"`
}

// HandleChart returns the normalized price history for charting.
func (h *Handler) HandleChart(w http.ResponseWriter, r *http.Request) {
	series, err := h.workflow.PriceSeries()
	if err != nil {
		writeError(w, http.StatusNotFound, err, "Run an optimization first")
		return
	}

	tickers := make(domain.TickerList, 0, len(series))
	for _, s := range series {
		tickers = append(tickers, s.Ticker)
	}

	writeJSON(w, http.StatusOK, ChartResponse{Tickers: tickers, Series: series})
}

// ========================================
// Archive Handlers
// ========================================

// ListResultsResponse represents the response for listing archived results.
type ListResultsResponse struct {
	Results []*domain.ArchivedResult `json:"results"`
	Limit   int                      `json:"limit"`
	Offset  int                      `json:"offset"`
}

// HandleListResults lists archived results. Without an archive the list is empty.
func (h *Handler) HandleListResults(w http.ResponseWriter, r *http.Request) {
	query, err := parseArchiveQuery(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "Invalid query parameters")
		return
	}
	query.SetDefaults()

	resp := ListResultsResponse{
		Results: []*domain.ArchivedResult{},
		Limit:   query.Limit,
		Offset:  query.Offset,
	}

	if h.archive != nil {
		results, err := h.archive.List(r.Context(), query)
		if err != nil {
			h.logger.Error("Failed to list archived results", zap.Error(err))
			writeError(w, http.StatusInternalServerError, err, "Failed to list results")
			return
		}
		resp.Results = results
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleGetResult returns one archived result.
func (h *Handler) HandleGetResult(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err, "Invalid result ID")
		return
	}

	if h.archive == nil {
		writeError(w, http.StatusNotFound, domain.NewNotFoundError("optimization_result", id.String()), "Result archive is disabled")
		return
	}

	result, err := h.archive.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, err, "")
			return
		}
		h.logger.Error("Failed to get archived result", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err, "Failed to get result")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func parseArchiveQuery(r *http.Request) (domain.ArchiveQuery, error) {
	var query domain.ArchiveQuery
	values := r.URL.Query()

	if v := values.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil {
			return query, errors.New("limit must be an integer")
		}
		query.Limit = limit
	}
	if v := values.Get("offset"); v != "" {
		offset, err := strconv.Atoi(v)
		if err != nil {
			return query, errors.New("offset must be an integer")
		}
		query.Offset = offset
	}
	if v := values.Get("risk_level"); v != "" {
		risk := domain.RiskLevel(v)
		if !risk.IsValid() {
			return query, errors.New("risk_level must be one of low, medium, high")
		}
		query.RiskLevel = &risk
	}

	return query, nil
}

// ========================================
// WebSocket Handler
// ========================================

// HandleWebSocket upgrades the connection and greets the client with the
// current state.
func (h *Handler) HandleWebSocket(hub *Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		greeting := &WSMessage{Type: EventTypeWorkflowState, Data: h.workflow.State()}
		hub.ServeWS(w, r, h.logger, greeting)
	}
}
