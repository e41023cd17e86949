// Package handler exposes the statement pipeline over HTTP.
package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-ledger/internal/domain/common"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/repository"
	importservice "github.com/FACorreiaa/statement-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/statement-ledger/internal/domain/report"
	"github.com/FACorreiaa/statement-ledger/internal/domain/search"
	"github.com/FACorreiaa/statement-ledger/pkg/interceptors"
)

const (
	// DefaultMaxUploadBytes caps the statement PDF size.
	DefaultMaxUploadBytes = 20 << 20
	xlsxContentType       = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultListLimit      = 50
)

// StatementService is the part of the pipeline the handlers need.
type StatementService interface {
	Analyze(ctx context.Context, in importservice.AnalyzeInput) (*importservice.Analysis, error)
	NormalizeOrigins(names []string, threshold *float64) (*importservice.NormalizeResult, error)
	GetRun(ctx context.Context, id uuid.UUID) (*repository.Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*repository.Run, int, error)
	GetRunLedger(ctx context.Context, id uuid.UUID) (*repository.Run, *report.Ledger, error)
	DeleteRun(ctx context.Context, id uuid.UUID) error
	SearchOrigins(ctx context.Context, q string, limit int) ([]search.Result, error)
}

var _ StatementService = (*importservice.StatementService)(nil)

// ImportHandler handles the statement and origin endpoints.
type ImportHandler struct {
	svc            StatementService
	logger         *slog.Logger
	maxUploadBytes int64
}

// NewImportHandler creates a new import handler
func NewImportHandler(svc StatementService, logger *slog.Logger) *ImportHandler {
	return &ImportHandler{
		svc:            svc,
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
}

// WithMaxUploadBytes overrides the upload size limit.
func (h *ImportHandler) WithMaxUploadBytes(n int64) *ImportHandler {
	if n > 0 {
		h.maxUploadBytes = n
	}
	return h
}

// Routes registers the endpoints on mux.
func (h *ImportHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/statements", h.AnalyzeStatement)
	mux.HandleFunc("POST /v1/statements/export", h.ExportStatement)
	mux.HandleFunc("GET /v1/statements", h.ListRuns)
	mux.HandleFunc("GET /v1/statements/{id}", h.GetRun)
	mux.HandleFunc("GET /v1/statements/{id}/transactions", h.ListTransactions)
	mux.HandleFunc("GET /v1/statements/{id}/export", h.ExportRun)
	mux.HandleFunc("DELETE /v1/statements/{id}", h.DeleteRun)
	mux.HandleFunc("POST /v1/origins/normalize", h.NormalizeOrigins)
	mux.HandleFunc("GET /v1/origins/search", h.SearchOrigins)
}

// AnalyzeStatement runs the pipeline on an uploaded PDF.
func (h *ImportHandler) AnalyzeStatement(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.analyzeUpload(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, r, http.StatusOK, analysis)
}

// ExportStatement runs the pipeline on an uploaded PDF and answers with the
// workbook.
func (h *ImportHandler) ExportStatement(w http.ResponseWriter, r *http.Request) {
	analysis, ok := h.analyzeUpload(w, r)
	if !ok {
		return
	}
	h.writeWorkbook(w, r, analysis.Ledger(), workbookName(analysis.FileName))
}

func (h *ImportHandler) analyzeUpload(w http.ResponseWriter, r *http.Request) (*importservice.Analysis, bool) {
	in, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}

	analysis, err := h.svc.Analyze(r.Context(), *in)
	if err != nil {
		h.writeError(w, r, err)
		return nil, false
	}
	return analysis, true
}

func (h *ImportHandler) readUpload(w http.ResponseWriter, r *http.Request) (*importservice.AnalyzeInput, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: invalid multipart form: %v", common.ErrBadRequest, err)
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: missing file field", common.ErrBadRequest)
	}
	defer file.Close()

	if header.Size > h.maxUploadBytes {
		return nil, &http.MaxBytesError{Limit: h.maxUploadBytes}
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(file, h.maxUploadBytes+1)); err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if int64(buf.Len()) > h.maxUploadBytes {
		return nil, &http.MaxBytesError{Limit: h.maxUploadBytes}
	}
	if buf.Len() == 0 {
		return nil, fmt.Errorf("%w: empty file", common.ErrBadRequest)
	}

	threshold, err := parseThreshold(r.FormValue("threshold"))
	if err != nil {
		return nil, err
	}

	return &importservice.AnalyzeInput{
		FileName:  filepath.Base(header.Filename),
		PDF:       buf.Bytes(),
		Threshold: threshold,
		Email:     strings.TrimSpace(r.FormValue("email")),
	}, nil
}

// listRunsResponse is a page of stored runs.
type listRunsResponse struct {
	Runs   []*repository.Run `json:"runs"`
	Total  int               `json:"total"`
	Limit  int               `json:"limit"`
	Offset int               `json:"offset"`
}

// ListRuns returns stored runs newest first.
func (h *ImportHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", defaultListLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	runs, total, err := h.svc.ListRuns(r.Context(), limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if runs == nil {
		runs = []*repository.Run{}
	}
	h.writeJSON(w, r, http.StatusOK, listRunsResponse{Runs: runs, Total: total, Limit: limit, Offset: offset})
}

// GetRun returns one stored run.
func (h *ImportHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	run, err := h.svc.GetRun(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, r, http.StatusOK, run)
}

type transactionsResponse struct {
	RunID        uuid.UUID            `json:"run_id"`
	Origin       string               `json:"origin,omitempty"`
	Transactions []report.Transaction `json:"transactions"`
}

// ListTransactions returns the ledger of a stored run. The optional origin
// query keeps the transactions whose origin fuzzily matches it.
func (h *ImportHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	_, ledger, err := h.svc.GetRunLedger(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	origin := strings.TrimSpace(r.URL.Query().Get("origin"))
	h.writeJSON(w, r, http.StatusOK, transactionsResponse{
		RunID:        id,
		Origin:       origin,
		Transactions: ledger.Search(origin),
	})
}

// ExportRun answers with the workbook of a stored run, restricted to the
// origin query when one is given.
func (h *ImportHandler) ExportRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	run, ledger, err := h.svc.GetRunLedger(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if origin := strings.TrimSpace(r.URL.Query().Get("origin")); origin != "" {
		ledger = report.FromTransactions(ledger.Currency(), ledger.Search(origin))
	}
	h.writeWorkbook(w, r, ledger, workbookName(run.FileName))
}

// DeleteRun removes a stored run.
func (h *ImportHandler) DeleteRun(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.svc.DeleteRun(r.Context(), id); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type normalizeRequest struct {
	Names     []string `json:"names"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// NormalizeOrigins clusters a list of names.
func (h *ImportHandler) NormalizeOrigins(w http.ResponseWriter, r *http.Request) {
	var req normalizeRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 4<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.writeError(w, r, fmt.Errorf("%w: invalid json body: %v", common.ErrBadRequest, err))
		return
	}
	if req.Names == nil {
		req.Names = []string{}
	}

	res, err := h.svc.NormalizeOrigins(req.Names, req.Threshold)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if res.Groups == nil {
		res.Groups = []normalizer.Group{}
	}
	h.writeJSON(w, r, http.StatusOK, res)
}

type searchResponse struct {
	Query   string          `json:"query"`
	Results []search.Result `json:"results"`
}

// SearchOrigins searches canonical origins across stored runs.
func (h *ImportHandler) SearchOrigins(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	limit, err := queryInt(r, "limit", search.DefaultLimit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	results, err := h.svc.SearchOrigins(r.Context(), q, limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	h.writeJSON(w, r, http.StatusOK, searchResponse{Query: q, Results: results})
}

func (h *ImportHandler) writeWorkbook(w http.ResponseWriter, r *http.Request, ledger *report.Ledger, name string) {
	var buf bytes.Buffer
	if err := ledger.ExportXLSX(&buf); err != nil {
		h.writeError(w, r, fmt.Errorf("failed to export workbook: %w", err))
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("failed to write workbook", slog.Any("error", err))
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, common.ErrBadRequest),
		errors.Is(err, normalizer.ErrInvalidThreshold),
		errors.Is(err, parser.ErrNotPDF),
		errors.Is(err, parser.ErrEmptyPDF):
		return http.StatusBadRequest
	case errors.Is(err, importservice.ErrNoPagesExtracted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, common.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, common.ErrPersistenceDisabled),
		errors.Is(err, common.ErrSearchDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled):
		return 499
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *ImportHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		msg = http.StatusText(status)
	}
	h.writeJSON(w, r, status, errorResponse{Error: msg, RequestID: interceptors.RequestID(r.Context())})
}

func (h *ImportHandler) writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to encode response", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
}

func parseThreshold(raw string) (*float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	if err != nil {
		return nil, fmt.Errorf("%w: threshold %q is not a number", common.ErrBadRequest, raw)
	}
	return &v, nil
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", common.ErrBadRequest, key)
	}
	return v, nil
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid run id", common.ErrBadRequest)
	}
	return id, nil
}

// workbookName turns "marco.pdf" into "marco.xlsx".
func workbookName(fileName string) string {
	base := strings.TrimSuffix(filepath.Base(fileName), filepath.Ext(fileName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "extrato"
	}
	return base + ".xlsx"
}
