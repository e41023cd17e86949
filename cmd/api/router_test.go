package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/statement-ledger/internal/domain/extraction"
	importhandler "github.com/FACorreiaa/statement-ledger/internal/domain/import/handler"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	importservice "github.com/FACorreiaa/statement-ledger/internal/domain/import/service"
	"github.com/FACorreiaa/statement-ledger/internal/domain/search"
	"github.com/FACorreiaa/statement-ledger/pkg/config"
)

type noRenderer struct{}

func (noRenderer) Render(context.Context, []byte) ([]parser.PageImage, []parser.PageError, error) {
	return nil, nil, parser.ErrEmptyPDF
}

func testDeps(t *testing.T, withIndex bool) *Dependencies {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ext := extraction.ExtractorFunc(func(context.Context, parser.PageImage) (*extraction.Extraction, error) {
		return nil, extraction.ErrEmptyResponse
	})
	svc := importservice.NewStatementService(noRenderer{}, ext, importservice.Config{}, logger)

	deps := &Dependencies{
		Config: &config.Config{
			Server: config.ServerConfig{
				RateLimitPerSecond: 100,
				RateLimitBurst:     100,
				MaxUploadBytes:     1 << 20,
				AllowedOrigins:     []string{"http://localhost:3000"},
			},
			Observability: config.ObservabilityConfig{MetricsEnabled: true},
		},
		Logger:           logger,
		StatementService: svc,
	}
	if withIndex {
		index, err := search.NewOriginIndex("")
		require.NoError(t, err)
		t.Cleanup(func() { _ = index.Close() })
		deps.OriginIndex = index
		svc.WithOriginIndex(index)
	}
	deps.ImportHandler = importhandler.NewImportHandler(svc, logger)
	return deps
}

func TestSetupRouter_UtilityRoutes(t *testing.T) {
	h := SetupRouter(testDeps(t, true))

	tests := []struct {
		path string
		want int
		body string
	}{
		{"/healthz", http.StatusOK, "ok"},
		{"/ready", http.StatusOK, "ready"},
		{"/health/details", http.StatusOK, `"search":{"status":"ok"}`},
		{"/metrics", http.StatusOK, "ledger_"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			assert.Equal(t, tt.want, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
		})
	}
}

func TestSetupRouter_APIRoutes(t *testing.T) {
	h := SetupRouter(testDeps(t, false))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/origins/normalize", strings.NewReader(`{"names":["IFOOD","ifood"]}`))
	req.Header.Set("X-Request-ID", "req-1")
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "req-1", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"canonical":"IFOOD"`)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/statements", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/origins/search?q=x", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSetupRouter_CORSPreflight(t *testing.T) {
	h := SetupRouter(testDeps(t, false))

	req := httptest.NewRequest(http.MethodOptions, "/v1/statements", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
