// Package report consolidates the rows extracted from every page of a
// statement into a ledger, re-labels origins with their canonical names and
// computes the totals shown to the user.
package report

import (
	"sort"
	"strings"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/FACorreiaa/statement-ledger/internal/domain/import/normalizer"
	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

// Transaction is one ledger entry.
type Transaction struct {
	Page      int                    `json:"page"`
	Line      int                    `json:"line"`
	Type      parser.TransactionType `json:"type"`
	Amount    *money.Money           `json:"amount"`
	RawOrigin string                 `json:"raw_origin"`
	// Origin is the canonical name once a mapping has been applied.
	Origin   string     `json:"origin"`
	Date     string     `json:"date"`
	PostedAt *time.Time `json:"posted_at,omitempty"`
}

// Ledger holds the transactions of one statement in page and line order.
// It is not safe for concurrent mutation.
type Ledger struct {
	currency     string
	transactions []Transaction
}

// NewLedger builds a ledger from parsed rows.
func NewLedger(currency string, rows []parser.ParsedRow) *Ledger {
	if currency == "" {
		currency = money.BRL
	}
	txs := make([]Transaction, 0, len(rows))
	for _, r := range rows {
		tx := Transaction{
			Page:      r.Page,
			Line:      r.Line,
			Type:      r.Type,
			Amount:    r.Amount,
			RawOrigin: r.Origin,
			Origin:    r.Origin,
			Date:      r.Date,
		}
		if !r.PostedAt.IsZero() {
			posted := r.PostedAt
			tx.PostedAt = &posted
		}
		if tx.Amount == nil {
			tx.Amount = money.Zero(currency)
		}
		txs = append(txs, tx)
	}
	return &Ledger{currency: currency, transactions: txs}
}

// FromTransactions wraps already built transactions, e.g. loaded from storage.
func FromTransactions(currency string, txs []Transaction) *Ledger {
	if currency == "" {
		currency = money.BRL
	}
	return &Ledger{currency: currency, transactions: txs}
}

// Currency returns the ledger currency.
func (l *Ledger) Currency() string {
	return l.currency
}

// Len returns the number of transactions.
func (l *Ledger) Len() int {
	return len(l.transactions)
}

// Transactions returns a copy of all transactions.
func (l *Ledger) Transactions() []Transaction {
	out := make([]Transaction, len(l.transactions))
	copy(out, l.transactions)
	return out
}

// RawOrigins returns the extracted origin of every transaction, repetitions
// and blanks included, in ledger order.
func (l *Ledger) RawOrigins() []string {
	out := make([]string, len(l.transactions))
	for i, tx := range l.transactions {
		out[i] = tx.RawOrigin
	}
	return out
}

// ApplyMapping re-labels every origin with its canonical name. Blank and
// unmapped origins keep their extracted value.
func (l *Ledger) ApplyMapping(m normalizer.Mapping) {
	for i := range l.transactions {
		l.transactions[i].Origin = m.Apply(l.transactions[i].RawOrigin)
	}
}

// Credits returns the credit transactions.
func (l *Ledger) Credits() []Transaction {
	return l.ofType(parser.Credit)
}

// Debits returns the debit transactions.
func (l *Ledger) Debits() []Transaction {
	return l.ofType(parser.Debit)
}

func (l *Ledger) ofType(t parser.TransactionType) []Transaction {
	out := make([]Transaction, 0)
	for _, tx := range l.transactions {
		if tx.Type == t {
			out = append(out, tx)
		}
	}
	return out
}

// Search returns transactions whose canonical or extracted origin fuzzily
// contains query, ignoring case and accents. An empty query matches all.
func (l *Ledger) Search(query string) []Transaction {
	query = strings.TrimSpace(query)
	if query == "" {
		return l.Transactions()
	}
	out := make([]Transaction, 0)
	for _, tx := range l.transactions {
		if fuzzy.MatchNormalizedFold(query, tx.Origin) || fuzzy.MatchNormalizedFold(query, tx.RawOrigin) {
			out = append(out, tx)
		}
	}
	return out
}

// OriginTotal is the aggregate of one canonical origin.
type OriginTotal struct {
	Origin string       `json:"origin"`
	Count  int          `json:"count"`
	Total  *money.Money `json:"total"`
}

// TopOrigins ranks the origins of one type by total amount, largest first,
// then by name. Blank origins are left out. n <= 0 returns all.
func (l *Ledger) TopOrigins(t parser.TransactionType, n int) []OriginTotal {
	byOrigin := make(map[string]*OriginTotal)
	order := make([]string, 0)
	for _, tx := range l.transactions {
		if tx.Type != t || strings.TrimSpace(tx.Origin) == "" {
			continue
		}
		agg, ok := byOrigin[tx.Origin]
		if !ok {
			agg = &OriginTotal{Origin: tx.Origin, Total: money.Zero(l.currency)}
			byOrigin[tx.Origin] = agg
			order = append(order, tx.Origin)
		}
		agg.Count++
		agg.Total = agg.Total.MustAdd(tx.Amount)
	}

	out := make([]OriginTotal, 0, len(order))
	for _, o := range order {
		out = append(out, *byOrigin[o])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if c := out[i].Total.Compare(out[j].Total); c != 0 {
			return c > 0
		}
		return out[i].Origin < out[j].Origin
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
