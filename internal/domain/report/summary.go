package report

import (
	"strings"

	"github.com/FACorreiaa/statement-ledger/internal/domain/import/parser"
	"github.com/FACorreiaa/statement-ledger/pkg/money"
)

// TypeSummary aggregates the transactions of one type.
type TypeSummary struct {
	Type  parser.TransactionType `json:"type"`
	Count int                    `json:"count"`
	Total *money.Money           `json:"total"`
	// TopOrigin is the most frequent non-blank origin; ties go to the
	// alphabetically first name. Empty when no transaction has an origin.
	TopOrigin      string       `json:"top_origin"`
	TopOriginCount int          `json:"top_origin_count"`
	TopOriginTotal *money.Money `json:"top_origin_total"`
}

// Summary is the statement overview.
type Summary struct {
	Credit TypeSummary `json:"credit"`
	Debit  TypeSummary `json:"debit"`
	// Net is total credit minus total debit.
	Net          *money.Money `json:"net"`
	Transactions int          `json:"transactions"`
}

// Summary computes totals per type, the net balance and each type's most
// frequent origin with the sum of its amounts.
func (l *Ledger) Summary() Summary {
	credit := l.typeSummary(parser.Credit)
	debit := l.typeSummary(parser.Debit)

	net, err := credit.Total.Subtract(debit.Total)
	if err != nil {
		net = money.Zero(l.currency)
	}

	return Summary{
		Credit:       credit,
		Debit:        debit,
		Net:          net,
		Transactions: len(l.transactions),
	}
}

func (l *Ledger) typeSummary(t parser.TransactionType) TypeSummary {
	s := TypeSummary{
		Type:           t,
		Total:          money.Zero(l.currency),
		TopOriginTotal: money.Zero(l.currency),
	}

	counts := make(map[string]int)
	amounts := make([]*money.Money, 0)
	for _, tx := range l.transactions {
		if tx.Type != t {
			continue
		}
		s.Count++
		amounts = append(amounts, tx.Amount)
		if strings.TrimSpace(tx.Origin) != "" {
			counts[tx.Origin]++
		}
	}
	if total, err := money.Sum(l.currency, amounts...); err == nil {
		s.Total = total
	}

	s.TopOrigin, s.TopOriginCount = mode(counts)
	if s.TopOrigin == "" {
		return s
	}
	top := make([]*money.Money, 0, s.TopOriginCount)
	for _, tx := range l.transactions {
		if tx.Type == t && tx.Origin == s.TopOrigin {
			top = append(top, tx.Amount)
		}
	}
	if total, err := money.Sum(l.currency, top...); err == nil {
		s.TopOriginTotal = total
	}
	return s
}

// mode returns the key with the highest count, the smallest key on ties.
func mode(counts map[string]int) (string, int) {
	best, bestCount := "", 0
	for k, c := range counts {
		if c > bestCount || (c == bestCount && k < best) {
			best, bestCount = k, c
		}
	}
	return best, bestCount
}
