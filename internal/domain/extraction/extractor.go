// Package extraction sends rendered statement pages to a vision model and
// returns the raw CSV text it writes, with the tokens the call consumed.
package extraction

import (
	"context"
	"errors"
	"time"

	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
)

// ErrEmptyResponse is returned when the model answers without any text.
var ErrEmptyResponse = errors.New("model returned an empty response")

// Per-million-token prices used for the cost estimate, in USD.
const (
	InputPricePerMillion  = 0.40
	OutputPricePerMillion = 1.60
)

// Usage counts the tokens of one or more model calls.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (u Usage) TotalTokens() int64 {
	return u.InputTokens + u.OutputTokens
}

// CostUSD estimates the price of the calls.
func (u Usage) CostUSD() float64 {
	return float64(u.InputTokens)*InputPricePerMillion/1_000_000 +
		float64(u.OutputTokens)*OutputPricePerMillion/1_000_000
}

// Add returns the sum of two usages.
func (u Usage) Add(other Usage) Usage {
	return Usage{
		InputTokens:  u.InputTokens + other.InputTokens,
		OutputTokens: u.OutputTokens + other.OutputTokens,
	}
}

// Extraction is the model's answer for one page.
type Extraction struct {
	Page     int
	Text     string
	Model    string
	Usage    Usage
	Duration time.Duration
}

// Extractor turns a page image into the model's CSV text.
type Extractor interface {
	Extract(ctx context.Context, page parser.PageImage) (*Extraction, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, page parser.PageImage) (*Extraction, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, page parser.PageImage) (*Extraction, error) {
	return f(ctx, page)
}
