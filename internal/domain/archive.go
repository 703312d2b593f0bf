package domain

import (
	"time"

	"github.com/google/uuid"
)

// ArchivedResult is a stored copy of a successful optimization.
// It is a record of what the backend returned, not workflow state.
type ArchivedResult struct {
	ID                 uuid.UUID  `json:"id"`
	SessionID          uuid.UUID  `json:"session_id"`
	RiskLevel          RiskLevel  `json:"risk_level"`
	Tickers            TickerList `json:"tickers"`
	ExpectedReturn     float64    `json:"expected_return"`
	ExpectedVolatility float64    `json:"expected_volatility"`
	SharpeRatio        float64    `json:"sharpe_ratio"`
	Weights            Weights    `json:"weights"`
	CreatedAt          time.Time  `json:"created_at"`
}

// NewArchivedResult creates an ArchivedResult with a generated UUID.
func NewArchivedResult(sessionID uuid.UUID, req OptimizeRequest, result *OptimizationResult) *ArchivedResult {
	return &ArchivedResult{
		ID:                 uuid.New(),
		SessionID:          sessionID,
		RiskLevel:          req.RiskLevel,
		Tickers:            req.Tickers.Clone(),
		ExpectedReturn:     result.ExpectedReturn,
		ExpectedVolatility: result.ExpectedVolatility,
		SharpeRatio:        result.SharpeRatio,
		Weights:            append(Weights(nil), result.Weights...),
		CreatedAt:          time.Now(),
	}
}

// ArchiveQuery represents query parameters for listing archived results.
type ArchiveQuery struct {
	RiskLevel *RiskLevel
	Limit     int
	Offset    int
}

// SetDefaults sets default values for the query.
func (q *ArchiveQuery) SetDefaults() {
	if q.Limit <= 0 {
		q.Limit = 20
	}
	if q.Limit > 100 {
		q.Limit = 100
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
}
