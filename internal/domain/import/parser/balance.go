package parser

import (
	"strings"

	"github.com/cloudflare/ahocorasick"
)

// DefaultBalanceTerms are the labels banks use for balance lines that the
// model sometimes copies into the movement table.
var DefaultBalanceTerms = []string{
	"SALDO DO DIA",
	"SALDO ANTERIOR",
	"SALDO FINAL",
	"SALDO INICIAL",
	"SALDO DISPONIVEL",
	"SALDO DISPONÍVEL",
	"SALDO TOTAL",
	"SALDO EM CONTA",
	"SALDO BLOQUEADO",
	"SALDO C/C",
	"SDO CTA",
}

// BalanceFilter recognizes balance lines with a single Aho-Corasick pass
// over the upper-cased origin.
type BalanceFilter struct {
	matcher *ahocorasick.Matcher
}

// NewBalanceFilter builds a filter for DefaultBalanceTerms plus extra terms.
func NewBalanceFilter(extra ...string) *BalanceFilter {
	terms := make([]string, 0, len(DefaultBalanceTerms)+len(extra))
	terms = append(terms, DefaultBalanceTerms...)
	for _, t := range extra {
		if t = strings.ToUpper(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	return &BalanceFilter{matcher: ahocorasick.NewStringMatcher(terms)}
}

// IsBalance reports whether origin names a balance rather than a counterparty.
func (f *BalanceFilter) IsBalance(origin string) bool {
	if strings.TrimSpace(origin) == "" {
		return false
	}
	normalized := strings.Join(strings.Fields(strings.ToUpper(origin)), " ")
	return len(f.matcher.MatchThreadSafe([]byte(normalized))) > 0
}
