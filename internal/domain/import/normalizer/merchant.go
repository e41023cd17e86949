// Package normalizer groups the free-text counterparty names ("origens")
// extracted from statement pages and resolves each group to one canonical name.
// merchant.go strips the bank-specific noise around a counterparty name.
package normalizer

import (
	"regexp"
	"strings"
)

// OriginSanitizer removes statement noise (transfer prefixes, glued dates,
// reference numbers) from raw origins before they are clustered.
type OriginSanitizer struct {
	prefixes []*regexp.Regexp
}

var (
	trailingDatePattern = regexp.MustCompile(`\s*\d{1,2}/\d{1,2}(/\d{2,4})?$`)
	trailingRefPattern  = regexp.MustCompile(`\s+\d{4,}$`)
	spacePattern        = regexp.MustCompile(`\s+`)
)

// NewOriginSanitizer creates a sanitizer with the common Brazilian prefixes.
func NewOriginSanitizer() *OriginSanitizer {
	return &OriginSanitizer{
		prefixes: defaultOriginPrefixes(),
	}
}

// Clean strips known prefixes and trailing dates or references from raw.
// Blank input is returned unchanged so absent origins stay absent.
func (s *OriginSanitizer) Clean(raw string) string {
	if isBlank(raw) {
		return raw
	}

	result := spacePattern.ReplaceAllString(strings.TrimSpace(raw), " ")

	for _, p := range s.prefixes {
		if loc := p.FindStringIndex(result); loc != nil && loc[0] == 0 {
			result = strings.TrimSpace(result[loc[1]:])
			break
		}
	}

	// "SHPP BRASIL26/03" and "IFOOD.COM A27/03" carry the posting date.
	result = trailingDatePattern.ReplaceAllString(result, "")
	result = trailingRefPattern.ReplaceAllString(result, "")
	result = strings.TrimSpace(result)

	if result == "" {
		// Nothing but a prefix: keep what the bank printed.
		return strings.TrimSpace(raw)
	}
	return result
}

// SanitizeAll cleans every origin, keeping order and blank ones blank.
func (s *OriginSanitizer) SanitizeAll(origins []string) []string {
	out := make([]string, len(origins))
	for i, o := range origins {
		out[i] = s.Clean(o)
	}
	return out
}

// defaultOriginPrefixes lists prefixes seen on Brazilian statements. Longer
// forms come first so "DEV PIX" wins over "PIX".
func defaultOriginPrefixes() []*regexp.Regexp {
	prefix := func(p string) *regexp.Regexp {
		return regexp.MustCompile(`(?i)^(?:` + p + `)(?:\s+|$)`)
	}
	return []*regexp.Regexp{
		prefix(`DEV(?:OLUCAO|OLUÇÃO)?\s+PIX`),
		prefix(`PIX\s+QRS`),
		prefix(`PIX\s+QR\s*CODE`),
		prefix(`PIX\s+(?:ENVIADO|ENV|TRANSF|TRANSFERENCIA)`),
		prefix(`PIX\s+(?:RECEBIDO|REC)`),
		prefix(`PIX`),
		prefix(`TED(?:\s+(?:ENVIADA|RECEBIDA))?`),
		prefix(`DOC(?:\s+(?:ENVIADO|RECEBIDO))?`),
		prefix(`COMPRA\s+(?:CARTAO|CARTÃO|CART)(?:\s+(?:DEB|CRED|DEBITO|CREDITO))?`),
		prefix(`COMPRA`),
		prefix(`PAG(?:AMENTO)?\s+(?:BOLETO|TITULO|TÍTULO)`),
		prefix(`PAG(?:AMENTO)?\s+FATURA`),
		prefix(`TRANSF(?:ERENCIA|ERÊNCIA)?(?:\s+(?:ENVIADA|RECEBIDA))?`),
		prefix(`DEB(?:ITO)?\s+AUT(?:OMATICO|OMÁTICO)?`),
	}
}
