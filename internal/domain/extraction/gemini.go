package extraction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
)

// DefaultModel is used when the config leaves the model name empty.
const DefaultModel = "gemini-2.5-flash"

// ErrMissingAPIKey is returned when the Gemini extractor is built without a key.
var ErrMissingAPIKey = errors.New("gemini api key is not configured")

// GeminiConfig configures the Gemini extractor.
type GeminiConfig struct {
	Model             string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
}

// generator is the subset of *genai.Models the extractor calls.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiExtractor extracts page transactions with a Gemini vision model.
// Calls are rate limited across all goroutines sharing the extractor.
type GeminiExtractor struct {
	models  generator
	model   string
	limiter *rate.Limiter
	timeout time.Duration
	logger  *slog.Logger
}

// NewGeminiClient creates the genai client used by NewGeminiExtractor.
func NewGeminiClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// NewGeminiExtractor wraps an existing client.
func NewGeminiExtractor(client *genai.Client, cfg GeminiConfig, logger *slog.Logger) *GeminiExtractor {
	return newGeminiExtractor(client.Models, cfg, logger)
}

func newGeminiExtractor(models generator, cfg GeminiConfig, logger *slog.Logger) *GeminiExtractor {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &GeminiExtractor{
		models:  models,
		model:   cfg.Model,
		limiter: rate.NewLimiter(limit, cfg.Burst),
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Model returns the model name sent with every request.
func (g *GeminiExtractor) Model() string {
	return g.model
}

// Extract sends the page image with the system prompt and returns the text.
func (g *GeminiExtractor) Extract(ctx context.Context, page parser.PageImage) (*Extraction, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("page %d: rate limiter: %w", page.Page, err)
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	mime := page.MimeType
	if mime == "" {
		mime = "image/png"
	}

	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromBytes(page.PNG, mime),
		}, genai.RoleUser),
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(SystemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
	}

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.model, contents, config)
	elapsed := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("page %d: generate content: %w", page.Page, err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return nil, fmt.Errorf("page %d: %w", page.Page, ErrEmptyResponse)
	}

	var usage Usage
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}

	g.logger.Debug("page extracted",
		slog.Int("page", page.Page),
		slog.String("model", g.model),
		slog.Int64("input_tokens", usage.InputTokens),
		slog.Int64("output_tokens", usage.OutputTokens),
		slog.Duration("duration", elapsed),
	)

	return &Extraction{
		Page:     page.Page,
		Text:     text,
		Model:    g.model,
		Usage:    usage,
		Duration: elapsed,
	}, nil
}
