// Package search keeps a full-text index of the canonical origins of every
// analyzed statement so that a payer or payee can be found across runs.
package search

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/simple"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/google/uuid"

	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/internal/domain/report"
)

// DefaultLimit is used when a search asks for no particular size.
const DefaultLimit = 20

// OriginDocument is one canonical origin of one transaction type in one run.
type OriginDocument struct {
	ID         string  `json:"id"`
	RunID      string  `json:"run_id"`
	Origin     string  `json:"origin"`
	RawOrigins string  `json:"raw_origins"` // extracted spellings, "; " separated
	Type       string  `json:"type"`
	Count      float64 `json:"count"`
	Total      float64 `json:"total"`
}

// Result is a search hit with its relevance score.
type Result struct {
	RunID      uuid.UUID `json:"run_id"`
	Origin     string    `json:"origin"`
	RawOrigins []string  `json:"raw_origins"`
	Type       string    `json:"type"`
	Count      int       `json:"count"`
	Total      float64   `json:"total"`
	Score      float64   `json:"score"`
}

// OriginIndex is a bleve index of canonical origins.
type OriginIndex struct {
	index bleve.Index
	mu    sync.RWMutex
	path  string
}

// NewOriginIndex opens the index at path, creating it when missing. An empty
// path keeps the index in memory.
func NewOriginIndex(path string) (*OriginIndex, error) {
	var (
		index bleve.Index
		err   error
	)

	if path == "" {
		index, err = bleve.NewMemOnly(buildIndexMapping())
	} else if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o755); mkdirErr != nil {
			return nil, fmt.Errorf("failed to create index directory: %w", mkdirErr)
		}
		index, err = bleve.New(path, buildIndexMapping())
	} else {
		index, err = bleve.Open(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create/open origin index: %w", err)
	}

	return &OriginIndex{index: index, path: path}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Analyzer = simple.Name

	kw := bleve.NewTextFieldMapping()
	kw.Analyzer = keyword.Name

	num := bleve.NewNumericFieldMapping()

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("run_id", kw)
	doc.AddFieldMappingsAt("origin", text)
	doc.AddFieldMappingsAt("raw_origins", text)
	doc.AddFieldMappingsAt("type", kw)
	doc.AddFieldMappingsAt("count", num)
	doc.AddFieldMappingsAt("total", num)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	m.DefaultAnalyzer = simple.Name
	return m
}

// IndexRun replaces the documents of runID with the canonical origins of the
// ledger. Blank origins are not indexed.
func (oi *OriginIndex) IndexRun(ctx context.Context, runID uuid.UUID, ledger *report.Ledger) (int, error) {
	docs := documentsFor(runID, ledger)

	oi.mu.Lock()
	defer oi.mu.Unlock()

	if err := oi.deleteRunLocked(ctx, runID); err != nil {
		return 0, err
	}

	batch := oi.index.NewBatch()
	for _, doc := range docs {
		if err := batch.Index(doc.ID, doc); err != nil {
			return 0, fmt.Errorf("failed to index origin %q: %w", doc.Origin, err)
		}
	}
	if err := oi.index.Batch(batch); err != nil {
		return 0, fmt.Errorf("failed to execute batch index: %w", err)
	}
	return len(docs), nil
}

func documentsFor(runID uuid.UUID, ledger *report.Ledger) []OriginDocument {
	type key struct{ typ, origin string }

	raw := make(map[key][]string)
	for _, tx := range ledger.Transactions() {
		if strings.TrimSpace(tx.Origin) == "" {
			continue
		}
		k := key{string(tx.Type), tx.Origin}
		if !contains(raw[k], tx.RawOrigin) {
			raw[k] = append(raw[k], tx.RawOrigin)
		}
	}

	docs := make([]OriginDocument, 0, len(raw))
	for _, t := range []parser.TransactionType{parser.Credit, parser.Debit} {
		for i, total := range ledger.TopOrigins(t, 0) {
			docs = append(docs, OriginDocument{
				ID:         fmt.Sprintf("%s/%s/%d", runID, t, i),
				RunID:      runID.String(),
				Origin:     total.Origin,
				RawOrigins: strings.Join(raw[key{string(t), total.Origin}], "; "),
				Type:       string(t),
				Count:      float64(total.Count),
				Total:      total.Total.ToFloat64(),
			})
		}
	}
	return docs
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Search finds origins matching q as a typo-tolerant match, a prefix of an
// origin word or an extracted spelling. Hits are ordered by score.
func (oi *OriginIndex) Search(ctx context.Context, q string, limit int) ([]Result, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return []Result{}, nil
	}
	if limit <= 0 {
		limit = DefaultLimit
	}

	match := bleve.NewMatchQuery(q)
	match.SetField("origin")
	match.SetFuzziness(1)

	rawMatch := bleve.NewMatchQuery(q)
	rawMatch.SetField("raw_origins")

	queries := []query.Query{match, rawMatch}
	for _, word := range strings.Fields(strings.ToLower(q)) {
		prefix := bleve.NewPrefixQuery(word)
		prefix.SetField("origin")
		queries = append(queries, prefix)
	}

	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(queries...))
	req.Size = limit
	req.Fields = []string{"*"}

	oi.mu.RLock()
	defer oi.mu.RUnlock()

	res, err := oi.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("origin search failed: %w", err)
	}
	return convertResults(res), nil
}

func convertResults(res *bleve.SearchResult) []Result {
	out := make([]Result, 0, len(res.Hits))
	for _, hit := range res.Hits {
		r := Result{Score: hit.Score}
		if v, ok := hit.Fields["run_id"].(string); ok {
			r.RunID, _ = uuid.Parse(v)
		}
		if v, ok := hit.Fields["origin"].(string); ok {
			r.Origin = v
		}
		if v, ok := hit.Fields["raw_origins"].(string); ok && v != "" {
			r.RawOrigins = strings.Split(v, "; ")
		}
		if v, ok := hit.Fields["type"].(string); ok {
			r.Type = v
		}
		if v, ok := hit.Fields["count"].(float64); ok {
			r.Count = int(v)
		}
		if v, ok := hit.Fields["total"].(float64); ok {
			r.Total = v
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// DeleteRun removes every document of runID.
func (oi *OriginIndex) DeleteRun(ctx context.Context, runID uuid.UUID) error {
	oi.mu.Lock()
	defer oi.mu.Unlock()
	return oi.deleteRunLocked(ctx, runID)
}

func (oi *OriginIndex) deleteRunLocked(ctx context.Context, runID uuid.UUID) error {
	term := bleve.NewTermQuery(runID.String())
	term.SetField("run_id")

	req := bleve.NewSearchRequest(term)
	req.Size = 10000

	res, err := oi.index.SearchInContext(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to list run documents: %w", err)
	}
	if len(res.Hits) == 0 {
		return nil
	}

	batch := oi.index.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := oi.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to delete run documents: %w", err)
	}
	return nil
}

// DocumentCount returns the number of indexed origins.
func (oi *OriginIndex) DocumentCount() (uint64, error) {
	oi.mu.RLock()
	defer oi.mu.RUnlock()
	return oi.index.DocCount()
}

// Close closes the index
func (oi *OriginIndex) Close() error {
	oi.mu.Lock()
	defer oi.mu.Unlock()

	if oi.index != nil {
		return oi.index.Close()
	}
	return nil
}
