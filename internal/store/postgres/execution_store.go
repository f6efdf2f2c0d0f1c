package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chainarb/chainarb/internal/domain"
)

// ExecutionStore implements domain.HistoryStore using PostgreSQL.
type ExecutionStore struct {
	pool *pgxpool.Pool
}

// NewExecutionStore creates a new ExecutionStore.
func NewExecutionStore(pool *pgxpool.Pool) *ExecutionStore {
	return &ExecutionStore{pool: pool}
}

// Insert writes an execution result and its step references in one
// transaction. Inserting the same execution id twice is an error.
func (s *ExecutionStore) Insert(ctx context.Context, res domain.ExecutionResult) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO executions (id, opportunity_id, kind, network, success, profit_usd, gas_usd, class, error, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		res.ID, res.OpportunityID, string(res.Kind), res.Network,
		res.Success, res.ProfitUSD, res.GasUSD, string(res.Class), res.Err,
		res.StartedAt, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert execution %s: %w", res.ID, err)
	}

	for i, ref := range res.Refs {
		if _, err := tx.Exec(ctx, `
			INSERT INTO execution_refs (execution_id, seq, ref)
			VALUES ($1, $2, $3)`,
			res.ID, i, ref,
		); err != nil {
			return fmt.Errorf("postgres: insert ref %d for %s: %w", i, res.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit execution %s: %w", res.ID, err)
	}
	return nil
}

// ListRecent returns the most recently completed executions, newest first,
// with their step references attached.
func (s *ExecutionStore) ListRecent(ctx context.Context, limit int) ([]domain.ExecutionResult, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, opportunity_id, kind, network, success, profit_usd, gas_usd, class, error, started_at, completed_at
		FROM executions
		ORDER BY completed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}
	defer rows.Close()

	var out []domain.ExecutionResult
	for rows.Next() {
		var res domain.ExecutionResult
		var kind, class string
		if err := rows.Scan(
			&res.ID, &res.OpportunityID, &kind, &res.Network,
			&res.Success, &res.ProfitUSD, &res.GasUSD, &class, &res.Err,
			&res.StartedAt, &res.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan execution: %w", err)
		}
		res.Kind = domain.OppKind(kind)
		res.Class = domain.FailureClass(class)
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list executions: %w", err)
	}

	for i := range out {
		refs, err := s.listRefs(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Refs = refs
	}
	return out, nil
}

// SumProfit returns the realized profit across executions completed at or
// after since. Failed executions contribute their zero committed profit.
func (s *ExecutionStore) SumProfit(ctx context.Context, since time.Time) (float64, error) {
	var sum float64
	err := s.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(profit_usd), 0)
		FROM executions
		WHERE completed_at >= $1`, since,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("postgres: sum profit: %w", err)
	}
	return sum, nil
}

func (s *ExecutionStore) listRefs(ctx context.Context, executionID string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ref FROM execution_refs
		WHERE execution_id = $1
		ORDER BY seq`, executionID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list refs for %s: %w", executionID, err)
	}
	defer rows.Close()

	var refs []string
	for rows.Next() {
		var ref string
		if err := rows.Scan(&ref); err != nil {
			return nil, fmt.Errorf("postgres: scan ref: %w", err)
		}
		refs = append(refs, ref)
	}
	if err := rows.Err(); err != nil && err != pgx.ErrNoRows {
		return nil, fmt.Errorf("postgres: list refs for %s: %w", executionID, err)
	}
	return refs, nil
}
