package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/FACorreiaa/statement-ledger/internal/domain/common"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/internal/domain/report"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

// PgxPool is the subset of *pgxpool.Pool the repository needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ PgxPool = (*pgxpool.Pool)(nil)

const (
	insertRunQuery = `
		INSERT INTO statement_runs (
			id, file_name, currency, threshold, page_count, pages_extracted,
			credit_total, credit_count, debit_total, debit_count,
			top_credit_origin, top_debit_origin, input_tokens, output_tokens,
			cost_usd, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING created_at`

	insertFailureQuery = `
		INSERT INTO statement_page_failures (run_id, page, stage, reason)
		VALUES ($1, $2, $3, $4)`

	runColumns = `id, file_name, currency, threshold, page_count, pages_extracted,
		credit_total, credit_count, debit_total, debit_count,
		top_credit_origin, top_debit_origin, input_tokens, output_tokens,
		cost_usd, duration_ms, created_at`

	getRunQuery = `SELECT ` + runColumns + ` FROM statement_runs WHERE id = $1`

	listRunsQuery = `SELECT ` + runColumns + `, COUNT(*) OVER() FROM statement_runs
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	listFailuresQuery = `
		SELECT page, stage, reason FROM statement_page_failures
		WHERE run_id = $1
		ORDER BY page`

	listTransactionsQuery = `
		SELECT page, line, type, amount_minor, raw_origin, origin, date_text, posted_at
		FROM statement_transactions
		WHERE run_id = $1
		ORDER BY position`

	getRunCurrencyQuery = `SELECT currency FROM statement_runs WHERE id = $1`

	deleteRunQuery = `DELETE FROM statement_runs WHERE id = $1`
)

var transactionColumns = []string{
	"run_id", "position", "page", "line", "type", "amount_minor",
	"raw_origin", "origin", "date_text", "posted_at",
}

// PostgresRunRepository implements RunRepository using PostgreSQL
type PostgresRunRepository struct {
	pool PgxPool
}

// NewPostgresRunRepository creates a new PostgreSQL run repository
func NewPostgresRunRepository(pool PgxPool) *PostgresRunRepository {
	return &PostgresRunRepository{pool: pool}
}

// CreateRun inserts the run header, copies its transactions and records its
// page failures in one database transaction.
func (r *PostgresRunRepository) CreateRun(ctx context.Context, run *Run, txs []report.Transaction) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	err = tx.QueryRow(ctx, insertRunQuery,
		run.ID, run.FileName, run.Currency, run.Threshold, run.PageCount, run.PagesExtracted,
		run.CreditTotal, run.CreditCount, run.DebitTotal, run.DebitCount,
		run.TopCreditOrigin, run.TopDebitOrigin, run.InputTokens, run.OutputTokens,
		run.CostUSD, run.DurationMS,
	).Scan(&run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	if len(txs) > 0 {
		copied, err := tx.CopyFrom(ctx,
			pgx.Identifier{"statement_transactions"},
			transactionColumns,
			pgx.CopyFromSlice(len(txs), func(i int) ([]any, error) {
				t := txs[i]
				return []any{
					run.ID, i, t.Page, t.Line, string(t.Type), amountMinor(t.Amount),
					t.RawOrigin, t.Origin, t.Date, t.PostedAt,
				}, nil
			}),
		)
		if err != nil {
			return fmt.Errorf("failed to copy transactions: %w", err)
		}
		if int(copied) != len(txs) {
			return fmt.Errorf("copied %d of %d transactions", copied, len(txs))
		}
	}

	for _, f := range run.Failures {
		if _, err := tx.Exec(ctx, insertFailureQuery, run.ID, f.Page, string(f.Stage), f.Reason); err != nil {
			return fmt.Errorf("failed to insert page failure: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// GetRun retrieves a run and its page failures by ID
func (r *PostgresRunRepository) GetRun(ctx context.Context, id uuid.UUID) (*Run, error) {
	run := &Run{}
	err := r.pool.QueryRow(ctx, getRunQuery, id).Scan(runDest(run)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", common.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := r.pool.Query(ctx, listFailuresQuery, id)
	if err != nil {
		return nil, fmt.Errorf("failed to list page failures: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var f PageFailure
		var stage string
		if err := rows.Scan(&f.Page, &stage, &f.Reason); err != nil {
			return nil, fmt.Errorf("failed to scan page failure: %w", err)
		}
		f.Stage = Stage(stage)
		run.Failures = append(run.Failures, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate page failures: %w", err)
	}
	return run, nil
}

// ListRuns returns a page of runs, newest first
func (r *PostgresRunRepository) ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, listRunsQuery, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]*Run, 0)
	total := 0
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(append(runDest(run), &total)...); err != nil {
			return nil, 0, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, total, nil
}

// ListTransactions returns the stored transactions of a run in ledger order
func (r *PostgresRunRepository) ListTransactions(ctx context.Context, runID uuid.UUID) ([]report.Transaction, error) {
	var currency string
	err := r.pool.QueryRow(ctx, getRunCurrencyQuery, runID).Scan(&currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: run %s", common.ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run currency: %w", err)
	}

	rows, err := r.pool.Query(ctx, listTransactionsQuery, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]report.Transaction, 0)
	for rows.Next() {
		var (
			t        report.Transaction
			typ      string
			minor    int64
			postedAt *time.Time
		)
		if err := rows.Scan(&t.Page, &t.Line, &typ, &minor, &t.RawOrigin, &t.Origin, &t.Date, &postedAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		t.Type = parser.TransactionType(typ)
		t.Amount = money.New(minor, currency)
		t.PostedAt = postedAt
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}
	return txs, nil
}

// DeleteRun removes a run; transactions and failures cascade
func (r *PostgresRunRepository) DeleteRun(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, deleteRunQuery, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: run %s", common.ErrNotFound, id)
	}
	return nil
}

func runDest(run *Run) []any {
	return []any{
		&run.ID, &run.FileName, &run.Currency, &run.Threshold, &run.PageCount, &run.PagesExtracted,
		&run.CreditTotal, &run.CreditCount, &run.DebitTotal, &run.DebitCount,
		&run.TopCreditOrigin, &run.TopDebitOrigin, &run.InputTokens, &run.OutputTokens,
		&run.CostUSD, &run.DurationMS, &run.CreatedAt,
	}
}

func amountMinor(m *money.Money) int64 {
	if m == nil {
		return 0
	}
	return m.Amount()
}
