// Package parser turns what the extraction model writes for a statement page
// into typed transaction rows, and renders statement PDFs into page images.
// It uses gocsv for struct-based unmarshaling of the model's CSV.
package parser

import (
	"encoding/csv"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

// ErrNoCSV is returned when a model response holds no recognizable CSV block.
var ErrNoCSV = errors.New("no transaction csv in model response")

// Header is the CSV header the extraction prompt asks the model to emit.
const Header = "tipo,valor,origem, data"

// TransactionType is the direction of a statement movement.
type TransactionType string

const (
	Debit  TransactionType = "debito"
	Credit TransactionType = "credito"
)

// Skip reasons reported on SkippedRow.
const (
	ReasonUnknownType    = "unknown type"
	ReasonInvalidAmount  = "invalid amount"
	ReasonBalanceLine    = "balance line"
	ReasonRepeatedHeader = "repeated header"
)

// ResponseRow is one raw CSV record as the model wrote it.
type ResponseRow struct {
	Tipo   string `csv:"tipo"`
	Valor  string `csv:"valor"`
	Origem string `csv:"origem"`
	Data   string `csv:"data"`
}

// ParsedRow is a transaction recovered from a page.
type ParsedRow struct {
	Page   int
	Line   int
	Type   TransactionType
	Amount *money.Money
	// Origin is empty when the model left the counterparty blank.
	Origin string
	Date   string
	// PostedAt is zero when Date is empty or in an unknown layout.
	PostedAt time.Time
}

// SkippedRow is a record that could not become a transaction.
type SkippedRow struct {
	Page   int
	Line   int
	Raw    string
	Reason string
}

// PageRows is the parse outcome for one page.
type PageRows struct {
	Page    int
	Rows    []ParsedRow
	Skipped []SkippedRow
}

// ResponseParser parses model responses. It is safe for concurrent use.
type ResponseParser struct {
	currency string
	balance  *BalanceFilter
}

// Option configures a ResponseParser.
type Option func(*ResponseParser)

// WithCurrency sets the currency amounts are parsed into (default BRL).
func WithCurrency(code string) Option {
	return func(p *ResponseParser) {
		p.currency = code
	}
}

// WithBalanceFilter replaces the default balance-line filter.
func WithBalanceFilter(f *BalanceFilter) Option {
	return func(p *ResponseParser) {
		p.balance = f
	}
}

// NewResponseParser creates a parser with the default balance filter.
func NewResponseParser(opts ...Option) *ResponseParser {
	p := &ResponseParser{
		currency: money.BRL,
		balance:  NewBalanceFilter(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var (
	headerPattern  = regexp.MustCompile(`(?i)^\s*tipo\s*,\s*valor\s*,\s*origem\s*,\s*data\s*$`)
	rowStartFormat = regexp.MustCompile(`(?i)^\s*"?(d[eé]bito|cr[eé]dito)"?\s*,`)
)

// Parse reads the CSV block out of a model response for the given page.
// Chatter around the block and markdown code fences are ignored. Without a
// header line the block starts at the first line that begins with a type.
func (p *ResponseParser) Parse(page int, raw string) (*PageRows, error) {
	lines, lineNums, err := csvBlock(raw)
	if err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}

	result := &PageRows{
		Page:    page,
		Rows:    make([]ParsedRow, 0, len(lines)),
		Skipped: make([]SkippedRow, 0),
	}
	if len(lines) == 0 {
		return result, nil
	}

	reader := csv.NewReader(strings.NewReader(Header + "\n" + strings.Join(lines, "\n")))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	var records []ResponseRow
	if err := gocsv.UnmarshalCSV(reader, &records); err != nil {
		return nil, fmt.Errorf("page %d: failed to decode csv: %w", page, err)
	}

	// Quoted fields spanning lines break the record to line alignment.
	aligned := len(records) == len(lines)
	for i, rec := range records {
		line := 0
		rawLine := recordText(rec)
		if aligned {
			line = lineNums[i]
			rawLine = lines[i]
		}

		row, reason := p.convert(rec)
		if reason != "" {
			result.Skipped = append(result.Skipped, SkippedRow{
				Page:   page,
				Line:   line,
				Raw:    rawLine,
				Reason: reason,
			})
			continue
		}

		row.Page = page
		row.Line = line
		result.Rows = append(result.Rows, *row)
	}

	return result, nil
}

// convert validates one record. A non-empty reason means the row is skipped.
func (p *ResponseParser) convert(rec ResponseRow) (*ParsedRow, string) {
	if headerPattern.MatchString(recordText(rec)) {
		return nil, ReasonRepeatedHeader
	}

	txType, ok := ParseType(rec.Tipo)
	if !ok {
		return nil, ReasonUnknownType
	}

	origin := cleanOrigin(rec.Origem)
	if p.balance != nil && p.balance.IsBalance(origin) {
		return nil, ReasonBalanceLine
	}

	amount, err := money.Parse(rec.Valor, p.currency)
	if err != nil {
		return nil, ReasonInvalidAmount
	}

	date := strings.TrimSpace(rec.Data)
	return &ParsedRow{
		Type:     txType,
		Amount:   amount.Abs(),
		Origin:   origin,
		Date:     date,
		PostedAt: ParseDate(date),
	}, ""
}

// ParseType accepts debito/credito with or without accents, in any case.
func ParseType(s string) (TransactionType, bool) {
	switch strings.ToLower(strings.Trim(strings.TrimSpace(s), `"`)) {
	case "debito", "débito":
		return Debit, true
	case "credito", "crédito":
		return Credit, true
	}
	return "", false
}

var dateLayouts = []string{
	"02/01/2006",
	"2/1/2006",
	"02/01/06",
	"2006-01-02",
	"02-01-2006",
	"02.01.2006",
}

// ParseDate parses the day-first dates printed on Brazilian statements.
// It returns the zero time when s matches no known layout.
func ParseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// csvBlock returns the non-blank data lines that follow the header (or start
// at the first row when the header is missing) with their 1-indexed line
// numbers within raw.
func csvBlock(raw string) ([]string, []int, error) {
	all := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")

	start := -1
	for i, l := range all {
		if headerPattern.MatchString(l) {
			start = i + 1
			break
		}
	}
	if start < 0 {
		for i, l := range all {
			if rowStartFormat.MatchString(l) {
				start = i
				break
			}
		}
	}
	if start < 0 {
		return nil, nil, ErrNoCSV
	}

	lines := make([]string, 0, len(all)-start)
	nums := make([]int, 0, len(all)-start)
	for i := start; i < len(all); i++ {
		l := strings.TrimSpace(all[i])
		if strings.HasPrefix(l, "```") {
			// Closing fence ends the block.
			if len(lines) > 0 {
				break
			}
			continue
		}
		if l == "" {
			continue
		}
		lines = append(lines, l)
		nums = append(nums, i+1)
	}
	return lines, nums, nil
}

// cleanOrigin trims the edges and surrounding quotes only. Inner spacing is
// kept so the clusterer counts the names exactly as the model wrote them.
func cleanOrigin(s string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(s), `"`))
}

func recordText(rec ResponseRow) string {
	return strings.Join([]string{rec.Tipo, rec.Valor, rec.Origem, rec.Data}, ",")
}
