package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/saltfish/portfolio-optimizer/internal/db"
	"github.com/saltfish/portfolio-optimizer/internal/domain"
)

// Weights are stored as JSON rather than JSONB so the ticker order of the
// backend response survives a round trip.
var archiveSchema = []string{
	`CREATE TABLE IF NOT EXISTS optimization_results (
		id                  UUID PRIMARY KEY,
		session_id          UUID NOT NULL,
		risk_level          TEXT NOT NULL,
		tickers             TEXT[] NOT NULL,
		expected_return     DOUBLE PRECISION NOT NULL,
		expected_volatility DOUBLE PRECISION NOT NULL,
		sharpe_ratio        DOUBLE PRECISION NOT NULL,
		weights             JSON NOT NULL,
		created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_optimization_results_created_at
		ON optimization_results (created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_optimization_results_risk_level
		ON optimization_results (risk_level)`,
}

const archiveColumns = `
	id, session_id, risk_level, tickers,
	expected_return, expected_volatility, sharpe_ratio,
	weights, created_at`

// resultArchiveRepo implements ResultArchive using PostgreSQL.
type resultArchiveRepo struct {
	pool *db.Pool
}

// NewResultArchive creates a new PostgreSQL result archive.
func NewResultArchive(pool *db.Pool) ResultArchive {
	return &resultArchiveRepo{pool: pool}
}

// EnsureSchema creates the archive table and its indexes if they are missing.
func EnsureSchema(ctx context.Context, pool *db.Pool) error {
	return pool.WithTx(ctx, func(tx pgx.Tx) error {
		for _, stmt := range archiveSchema {
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("failed to apply archive schema: %w", err)
			}
		}
		return nil
	})
}

// Create stores a new archived result.
func (r *resultArchiveRepo) Create(ctx context.Context, result *domain.ArchivedResult) error {
	weightsJSON, err := json.Marshal(result.Weights)
	if err != nil {
		return fmt.Errorf("failed to marshal weights: %w", err)
	}

	query := `
		INSERT INTO optimization_results (` + archiveColumns + `
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9
		)
	`

	_, err = r.pool.Exec(ctx, query,
		result.ID,
		result.SessionID,
		result.RiskLevel.String(),
		[]string(result.Tickers),
		result.ExpectedReturn,
		result.ExpectedVolatility,
		result.SharpeRatio,
		string(weightsJSON),
		result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create archived result: %w", err)
	}

	return nil
}

// GetByID retrieves an archived result by ID.
func (r *resultArchiveRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.ArchivedResult, error) {
	query := `SELECT ` + archiveColumns + ` FROM optimization_results WHERE id = $1`

	result, err := scanArchivedResult(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.NewNotFoundError("optimization_result", id.String())
		}
		return nil, err
	}
	return result, nil
}

// List lists archived results, newest first.
func (r *resultArchiveRepo) List(ctx context.Context, query domain.ArchiveQuery) ([]*domain.ArchivedResult, error) {
	query.SetDefaults()

	var conditions []string
	var args []interface{}
	argNum := 1

	if query.RiskLevel != nil {
		conditions = append(conditions, fmt.Sprintf("risk_level = $%d", argNum))
		args = append(args, query.RiskLevel.String())
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	selectQuery := fmt.Sprintf(`
		SELECT %s
		FROM optimization_results
		%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d
	`, archiveColumns, whereClause, argNum, argNum+1)

	args = append(args, query.Limit, query.Offset)

	rows, err := r.pool.Query(ctx, selectQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query archived results: %w", err)
	}
	defer rows.Close()

	results := make([]*domain.ArchivedResult, 0)
	for rows.Next() {
		result, err := scanArchivedResult(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate archived results: %w", err)
	}

	return results, nil
}

func scanArchivedResult(row pgx.Row) (*domain.ArchivedResult, error) {
	var (
		result      domain.ArchivedResult
		riskLevel   string
		tickers     []string
		weightsJSON []byte
	)

	err := row.Scan(
		&result.ID,
		&result.SessionID,
		&riskLevel,
		&tickers,
		&result.ExpectedReturn,
		&result.ExpectedVolatility,
		&result.SharpeRatio,
		&weightsJSON,
		&result.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan archived result: %w", err)
	}

	result.RiskLevel = domain.RiskLevel(riskLevel)
	result.Tickers = domain.TickerList(tickers)
	if err := json.Unmarshal(weightsJSON, &result.Weights); err != nil {
		return nil, fmt.Errorf("failed to unmarshal weights: %w", err)
	}

	return &result, nil
}

// Ensure interface implementations at compile time.
var _ ResultArchive = (*resultArchiveRepo)(nil)
