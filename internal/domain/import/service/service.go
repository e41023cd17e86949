// Package service orchestrates statement analysis: it renders the PDF,
// extracts each page with the vision model, parses the answers, unifies the
// spelling of origins and builds the report.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/FACorreiaa/statement-ledger/internal/domain/common"
	"github.com/FACorreiaa/statement-ledger/internal/domain/extraction"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/repository"
	"github.com/FACorreiaa/statement-ledger/internal/domain/notify"
	"github.com/FACorreiaa/statement-ledger/internal/domain/report"
	"github.com/FACorreiaa/statement-ledger/internal/domain/search"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
	"github.com/FACorreiaa/statement-ledger/pkg/observability"
	"github.com/FACorreiaa/statement-ledger/pkg/storage"
)

// ErrNoPagesExtracted is returned when every page of a statement failed.
var ErrNoPagesExtracted = errors.New("no page of the statement could be extracted")

// DefaultConcurrency bounds the pages processed at the same time.
const DefaultConcurrency = 4

// Renderer turns a PDF into page images.
type Renderer interface {
	Render(ctx context.Context, pdf []byte) ([]parser.PageImage, []parser.PageError, error)
}

// OriginIndex stores canonical origins for cross-run search.
type OriginIndex interface {
	IndexRun(ctx context.Context, runID uuid.UUID, ledger *report.Ledger) (int, error)
	Search(ctx context.Context, q string, limit int) ([]search.Result, error)
	DeleteRun(ctx context.Context, runID uuid.UUID) error
}

// Mailer e-mails an analysis summary.
type Mailer interface {
	Enabled() bool
	Send(ctx context.Context, to, fileName string, summary report.Summary, xlsx []byte) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	// DefaultThreshold applies when a request sets none. Zero means
	// normalizer.DefaultThreshold.
	DefaultThreshold float64
	Concurrency      int
	SanitizeOrigins  bool
	Currency         string
	// BalanceTerms are extra balance-line labels to drop besides the defaults.
	BalanceTerms []string
}

// AnalyzeInput is one statement to analyze.
type AnalyzeInput struct {
	FileName  string
	PDF       []byte
	Threshold *float64
	// Email receives the summary and workbook when set.
	Email string
}

// Analysis is the result of analyzing a statement.
type Analysis struct {
	RunID          uuid.UUID                `json:"run_id"`
	FileName       string                   `json:"file_name"`
	Threshold      float64                  `json:"threshold"`
	PageCount      int                      `json:"page_count"`
	PagesExtracted int                      `json:"pages_extracted"`
	Summary        report.Summary           `json:"summary"`
	Transactions   []report.Transaction     `json:"transactions"`
	Groups         []normalizer.Group       `json:"groups"`
	Skipped        []parser.SkippedRow      `json:"skipped"`
	Failures       []repository.PageFailure `json:"failures"`
	Usage          extraction.Usage         `json:"usage"`
	CostUSD        float64                  `json:"cost_usd"`
	Duration       time.Duration            `json:"duration_ns"`
	Persisted      bool                     `json:"persisted"`
	Indexed        bool                     `json:"indexed"`
	EmailID        string                   `json:"email_id,omitempty"`
	EmailError     string                   `json:"email_error,omitempty"`

	ledger *report.Ledger
}

// Ledger returns the analyzed ledger.
func (a *Analysis) Ledger() *report.Ledger {
	return a.ledger
}

// NormalizeResult is the outcome of clustering a list of names.
type NormalizeResult struct {
	Threshold float64            `json:"threshold"`
	Mapping   normalizer.Mapping `json:"mapping"`
	Groups    []normalizer.Group `json:"groups"`
}

// StatementService runs the statement pipeline. Storage, repository, index
// and mailer are optional.
type StatementService struct {
	renderer  Renderer
	extractor extraction.Extractor
	parser    *parser.ResponseParser
	sanitizer *normalizer.OriginSanitizer
	storage   storage.Storage
	repo      repository.RunRepository
	index     OriginIndex
	mailer    Mailer
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	workbook  func(*report.Ledger, io.Writer) error
}

// NewStatementService creates the pipeline with its required stages.
func NewStatementService(renderer Renderer, extractor extraction.Extractor, cfg Config, logger *slog.Logger) *StatementService {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Currency == "" {
		cfg.Currency = money.BRL
	}
	if cfg.DefaultThreshold == 0 {
		cfg.DefaultThreshold = normalizer.DefaultThreshold
	}

	responseParser := parser.NewResponseParser(
		parser.WithCurrency(cfg.Currency),
		parser.WithBalanceFilter(parser.NewBalanceFilter(cfg.BalanceTerms...)),
	)
	s := &StatementService{
		renderer:  renderer,
		extractor: extractor,
		parser:    responseParser,
		cfg:       cfg,
		logger:    logger,
		tracer:    otel.Tracer("statement-ledger/import"),
		workbook:  (*report.Ledger).ExportXLSX,
	}
	if cfg.SanitizeOrigins {
		s.sanitizer = normalizer.NewOriginSanitizer()
	}
	return s
}

// WithStorage keeps page images in st while a run is processed.
func (s *StatementService) WithStorage(st storage.Storage) *StatementService {
	s.storage = st
	return s
}

// WithRepository persists every analyzed run.
func (s *StatementService) WithRepository(repo repository.RunRepository) *StatementService {
	s.repo = repo
	return s
}

// WithOriginIndex indexes the canonical origins of every run.
func (s *StatementService) WithOriginIndex(index OriginIndex) *StatementService {
	s.index = index
	return s
}

// WithMailer enables e-mailing analysis summaries.
func (s *StatementService) WithMailer(m Mailer) *StatementService {
	s.mailer = m
	return s
}

// ResolveThreshold returns the threshold to use for a request: the requested
// one when set, the configured default otherwise.
func (s *StatementService) ResolveThreshold(requested *float64) (float64, error) {
	threshold := s.cfg.DefaultThreshold
	if requested != nil {
		threshold = *requested
	}
	if err := normalizer.ValidateThreshold(threshold); err != nil {
		return 0, err
	}
	return threshold, nil
}

// pageOutcome is what processing one page produced.
type pageOutcome struct {
	rows    *parser.PageRows
	usage   extraction.Usage
	failure *repository.PageFailure
}

// Analyze runs the whole pipeline for one statement.
func (s *StatementService) Analyze(ctx context.Context, in AnalyzeInput) (analysis *Analysis, err error) {
	start := time.Now()
	runID := uuid.New()

	ctx, span := s.tracer.Start(ctx, "StatementService.Analyze", trace.WithAttributes(
		attribute.String("run.id", runID.String()),
		attribute.String("file.name", in.FileName),
		attribute.Int("file.size", len(in.PDF)),
	))
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.AnalysisDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		span.End()
	}()

	threshold, err := s.ResolveThreshold(in.Threshold)
	if err != nil {
		return nil, err
	}
	if in.Email != "" {
		if err := notify.ValidateAddress(in.Email); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrBadRequest, err)
		}
	}

	logger := s.logger.With(slog.String("run_id", runID.String()), slog.String("file_name", in.FileName))

	pages, renderFailures, err := s.render(ctx, in.PDF)
	if err != nil {
		return nil, fmt.Errorf("failed to render statement: %w", err)
	}
	pageCount := len(pages) + len(renderFailures)
	logger.Info("statement rendered", slog.Int("pages", pageCount), slog.Int("failed", len(renderFailures)))

	if s.storage != nil {
		defer s.cleanup(context.WithoutCancel(ctx), runID, logger)
	}

	outcomes, err := s.processPages(ctx, runID, pages)
	if err != nil {
		return nil, err
	}

	failures := make([]repository.PageFailure, 0, len(renderFailures))
	for _, pe := range renderFailures {
		failures = append(failures, repository.PageFailure{Page: pe.Page, Stage: repository.StageRender, Reason: pe.Err.Error()})
	}

	var (
		rows    []parser.ParsedRow
		skipped = make([]parser.SkippedRow, 0)
		usage   extraction.Usage
	)
	for _, o := range outcomes {
		usage = usage.Add(o.usage)
		if o.failure != nil {
			failures = append(failures, *o.failure)
			continue
		}
		rows = append(rows, o.rows.Rows...)
		skipped = append(skipped, o.rows.Skipped...)
	}
	sort.Slice(failures, func(i, j int) bool { return failures[i].Page < failures[j].Page })
	recordPageMetrics(failures, pageCount, rows, skipped, usage)

	extracted := pageCount - len(failures)
	if extracted == 0 {
		for _, f := range failures {
			logger.Warn("page failed", slog.Int("page", f.Page), slog.String("stage", string(f.Stage)), slog.String("reason", f.Reason))
		}
		return nil, fmt.Errorf("%w: %d pages failed", ErrNoPagesExtracted, len(failures))
	}

	if s.sanitizer != nil {
		for i := range rows {
			rows[i].Origin = s.sanitizer.Clean(rows[i].Origin)
		}
	}

	ledger := report.NewLedger(s.cfg.Currency, rows)
	groups := s.normalize(ctx, ledger, threshold)

	analysis = &Analysis{
		RunID:          runID,
		FileName:       in.FileName,
		Threshold:      threshold,
		PageCount:      pageCount,
		PagesExtracted: extracted,
		Summary:        ledger.Summary(),
		Transactions:   ledger.Transactions(),
		Groups:         groups,
		Skipped:        skipped,
		Failures:       failures,
		Usage:          usage,
		CostUSD:        usage.CostUSD(),
		ledger:         ledger,
	}
	analysis.Duration = time.Since(start)

	s.persist(ctx, analysis, logger)
	s.indexRun(ctx, analysis, logger)
	if in.Email != "" {
		s.email(ctx, in.Email, analysis, logger)
	}

	logger.Info("statement analyzed",
		slog.Int("pages", pageCount),
		slog.Int("pages_failed", len(failures)),
		slog.Int("transactions", ledger.Len()),
		slog.Int("rows_skipped", len(skipped)),
		slog.Int("groups", len(groups)),
		slog.Float64("threshold", threshold),
		slog.Int64("input_tokens", usage.InputTokens),
		slog.Int64("output_tokens", usage.OutputTokens),
		slog.Float64("cost_usd", analysis.CostUSD),
		slog.Duration("duration", analysis.Duration),
	)
	return analysis, nil
}

func (s *StatementService) render(ctx context.Context, pdf []byte) ([]parser.PageImage, []parser.PageError, error) {
	ctx, span := s.tracer.Start(ctx, "render")
	defer span.End()

	pages, failed, err := s.renderer.Render(ctx, pdf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil, err
	}
	span.SetAttributes(attribute.Int("pages.rendered", len(pages)), attribute.Int("pages.failed", len(failed)))
	return pages, failed, nil
}

// processPages uploads, extracts and parses pages concurrently. Page
// failures are values; only cancellation of ctx is returned as an error.
func (s *StatementService) processPages(ctx context.Context, runID uuid.UUID, pages []parser.PageImage) ([]pageOutcome, error) {
	ctx, span := s.tracer.Start(ctx, "extract_pages", trace.WithAttributes(attribute.Int("pages", len(pages))))
	defer span.End()

	outcomes := make([]pageOutcome, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)

	for i, page := range pages {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			outcomes[i] = s.processPage(gctx, runID, page)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func (s *StatementService) processPage(ctx context.Context, runID uuid.UUID, page parser.PageImage) pageOutcome {
	fail := func(stage repository.Stage, err error) pageOutcome {
		s.logger.Warn("page failed",
			slog.String("run_id", runID.String()),
			slog.Int("page", page.Page),
			slog.String("stage", string(stage)),
			slog.Any("error", err),
		)
		return pageOutcome{failure: &repository.PageFailure{Page: page.Page, Stage: stage, Reason: err.Error()}}
	}

	if s.storage != nil {
		name := fmt.Sprintf("page-%03d.png", page.Page)
		if _, err := s.storage.Upload(ctx, runID, name, page.MimeType, bytes.NewReader(page.PNG)); err != nil {
			return fail(repository.StageUpload, err)
		}
	}

	ext, err := s.extractor.Extract(ctx, page)
	if err != nil {
		return fail(repository.StageExtract, err)
	}

	rows, err := s.parser.Parse(page.Page, ext.Text)
	if err != nil {
		out := fail(repository.StageParse, err)
		out.usage = ext.Usage
		return out
	}

	s.logger.Debug("page extracted",
		slog.String("run_id", runID.String()),
		slog.Int("page", page.Page),
		slog.Int("rows", len(rows.Rows)),
		slog.Int("skipped", len(rows.Skipped)),
		slog.Duration("duration", ext.Duration),
	)
	return pageOutcome{rows: rows, usage: ext.Usage}
}

// normalize clusters the ledger's origins and relabels its transactions.
func (s *StatementService) normalize(ctx context.Context, ledger *report.Ledger, threshold float64) []normalizer.Group {
	_, span := s.tracer.Start(ctx, "normalize_origins")
	defer span.End()

	start := time.Now()
	groups := normalizer.NewClusterer(normalizer.WithThreshold(threshold)).Group(ledger.RawOrigins())
	ledger.ApplyMapping(normalizer.MappingFromGroups(groups))

	merged := 0
	for _, g := range groups {
		if g.Size() > 1 {
			merged++
		}
	}

	observability.ClusterDuration.Observe(time.Since(start).Seconds())
	observability.ClusterGroups.Observe(float64(len(groups)))
	span.SetAttributes(
		attribute.Int("groups", len(groups)),
		attribute.Int("groups.merged", merged),
		attribute.Float64("threshold", threshold),
	)
	return groups
}

func (s *StatementService) persist(ctx context.Context, a *Analysis, logger *slog.Logger) {
	if s.repo == nil {
		return
	}
	run := runFromAnalysis(a, s.cfg.Currency)
	if err := s.repo.CreateRun(ctx, run, a.Transactions); err != nil {
		logger.Error("failed to persist run", slog.Any("error", err))
		return
	}
	a.Persisted = true
}

// indexRun only indexes persisted runs so every search hit resolves to a
// stored run.
func (s *StatementService) indexRun(ctx context.Context, a *Analysis, logger *slog.Logger) {
	if s.index == nil || !a.Persisted {
		return
	}
	n, err := s.index.IndexRun(ctx, a.RunID, a.ledger)
	if err != nil {
		logger.Warn("failed to index origins", slog.Any("error", err))
		return
	}
	a.Indexed = true
	logger.Debug("origins indexed", slog.Int("documents", n))
}

func (s *StatementService) email(ctx context.Context, to string, a *Analysis, logger *slog.Logger) {
	if s.mailer == nil || !s.mailer.Enabled() {
		a.EmailError = notify.ErrMailerDisabled.Error()
		return
	}

	var buf bytes.Buffer
	if err := s.workbook(a.ledger, &buf); err != nil {
		logger.Warn("failed to export workbook for e-mail", slog.Any("error", err))
		a.EmailError = fmt.Sprintf("failed to export workbook: %v", err)
		return
	}

	id, err := s.mailer.Send(ctx, to, a.FileName, a.Summary, buf.Bytes())
	if err != nil {
		logger.Warn("failed to e-mail report", slog.Any("error", err))
		a.EmailError = err.Error()
		return
	}
	a.EmailID = id
}

func (s *StatementService) cleanup(ctx context.Context, runID uuid.UUID, logger *slog.Logger) {
	if err := s.storage.DeleteRun(ctx, runID); err != nil {
		logger.Warn("failed to delete page images", slog.Any("error", err))
	}
}

func runFromAnalysis(a *Analysis, currency string) *repository.Run {
	return &repository.Run{
		ID:              a.RunID,
		FileName:        a.FileName,
		Currency:        currency,
		Threshold:       a.Threshold,
		PageCount:       a.PageCount,
		PagesExtracted:  a.PagesExtracted,
		CreditTotal:     a.Summary.Credit.Total.Amount(),
		CreditCount:     a.Summary.Credit.Count,
		DebitTotal:      a.Summary.Debit.Total.Amount(),
		DebitCount:      a.Summary.Debit.Count,
		TopCreditOrigin: a.Summary.Credit.TopOrigin,
		TopDebitOrigin:  a.Summary.Debit.TopOrigin,
		InputTokens:     int(a.Usage.InputTokens),
		OutputTokens:    int(a.Usage.OutputTokens),
		CostUSD:         a.CostUSD,
		DurationMS:      a.Duration.Milliseconds(),
		Failures:        a.Failures,
	}
}

func recordPageMetrics(failures []repository.PageFailure, pageCount int, rows []parser.ParsedRow, skipped []parser.SkippedRow, usage extraction.Usage) {
	for _, f := range failures {
		observability.PageFailures.WithLabelValues(string(f.Stage)).Inc()
	}
	observability.PagesProcessed.WithLabelValues("failed").Add(float64(len(failures)))
	observability.PagesProcessed.WithLabelValues("ok").Add(float64(pageCount - len(failures)))
	observability.RowsParsed.Add(float64(len(rows)))
	for _, sk := range skipped {
		observability.RowsSkipped.WithLabelValues(sk.Reason).Inc()
	}
	observability.ModelTokens.WithLabelValues("input").Add(float64(usage.InputTokens))
	observability.ModelTokens.WithLabelValues("output").Add(float64(usage.OutputTokens))
}

// NormalizeOrigins clusters names directly, without a statement.
func (s *StatementService) NormalizeOrigins(names []string, threshold *float64) (*NormalizeResult, error) {
	th, err := s.ResolveThreshold(threshold)
	if err != nil {
		return nil, err
	}
	if s.sanitizer != nil {
		names = s.sanitizer.SanitizeAll(names)
	}
	groups := normalizer.NewClusterer(normalizer.WithThreshold(th)).Group(names)
	return &NormalizeResult{
		Threshold: th,
		Mapping:   normalizer.MappingFromGroups(groups),
		Groups:    groups,
	}, nil
}

// GetRun returns a stored run.
func (s *StatementService) GetRun(ctx context.Context, id uuid.UUID) (*repository.Run, error) {
	if s.repo == nil {
		return nil, common.ErrPersistenceDisabled
	}
	return s.repo.GetRun(ctx, id)
}

// ListRuns returns stored runs newest first with the total count.
func (s *StatementService) ListRuns(ctx context.Context, limit, offset int) ([]*repository.Run, int, error) {
	if s.repo == nil {
		return nil, 0, common.ErrPersistenceDisabled
	}
	return s.repo.ListRuns(ctx, limit, offset)
}

// GetRunLedger rebuilds the ledger of a stored run.
func (s *StatementService) GetRunLedger(ctx context.Context, id uuid.UUID) (*repository.Run, *report.Ledger, error) {
	run, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return run, report.FromTransactions(run.Currency, txs), nil
}

// DeleteRun removes a stored run and its indexed origins.
func (s *StatementService) DeleteRun(ctx context.Context, id uuid.UUID) error {
	if s.repo == nil {
		return common.ErrPersistenceDisabled
	}
	if err := s.repo.DeleteRun(ctx, id); err != nil {
		return err
	}
	if s.index != nil {
		if err := s.index.DeleteRun(ctx, id); err != nil {
			s.logger.Warn("failed to remove run from origin index",
				slog.String("run_id", id.String()),
				slog.Any("error", err),
			)
		}
	}
	return nil
}

// SearchOrigins searches the canonical origins of all indexed runs.
func (s *StatementService) SearchOrigins(ctx context.Context, q string, limit int) ([]search.Result, error) {
	if s.index == nil {
		return nil, common.ErrSearchDisabled
	}
	return s.index.Search(ctx, q, limit)
}
