// Package repository persists analyzed statement runs.
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-ledger/internal/domain/report"
)

// Stage names the pipeline step where a page failed.
type Stage string

const (
	StageRender  Stage = "render"
	StageUpload  Stage = "upload"
	StageExtract Stage = "extract"
	StageParse   Stage = "parse"
)

// PageFailure records a page that contributed no rows.
type PageFailure struct {
	Page   int    `json:"page"`
	Stage  Stage  `json:"stage"`
	Reason string `json:"reason"`
}

// Run is the stored outcome of one statement analysis.
type Run struct {
	ID              uuid.UUID     `json:"id"`
	FileName        string        `json:"file_name"`
	Currency        string        `json:"currency"`
	Threshold       float64       `json:"threshold"`
	PageCount       int           `json:"page_count"`
	PagesExtracted  int           `json:"pages_extracted"`
	CreditTotal     int64         `json:"credit_total_minor"`
	CreditCount     int           `json:"credit_count"`
	DebitTotal      int64         `json:"debit_total_minor"`
	DebitCount      int           `json:"debit_count"`
	TopCreditOrigin string        `json:"top_credit_origin"`
	TopDebitOrigin  string        `json:"top_debit_origin"`
	InputTokens     int           `json:"input_tokens"`
	OutputTokens    int           `json:"output_tokens"`
	CostUSD         float64       `json:"cost_usd"`
	DurationMS      int64         `json:"duration_ms"`
	CreatedAt       time.Time     `json:"created_at"`
	Failures        []PageFailure `json:"failures,omitempty"`
}

// RunRepository defines persistence for statement runs.
type RunRepository interface {
	// CreateRun stores the run, its transactions and page failures atomically.
	CreateRun(ctx context.Context, run *Run, txs []report.Transaction) error
	GetRun(ctx context.Context, id uuid.UUID) (*Run, error)
	// ListRuns returns runs newest first and the total number of runs.
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, int, error)
	ListTransactions(ctx context.Context, runID uuid.UUID) ([]report.Transaction, error)
	DeleteRun(ctx context.Context, id uuid.UUID) error
}
