package normalizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"SHPP BRASIL", "shpp brasil"},
		{"SHPP  BRASIL", "shpp brasil"},
		{"  Netflix\t\n", "netflix"},
		{"IFOOD.COM A27/03", "ifood.com a27/03"},
		{"JOÃO  DA\tSILVA", "joão da silva"},
		{"", ""},
		{"   ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeName(tt.input))
		})
	}
}

func TestRatio(t *testing.T) {
	tests := []struct {
		name     string
		a, b     string
		expected float64
	}{
		{"identical", "netflix", "netflix", 1.0},
		{"both empty", "", "", 1.0},
		{"empty vs non-empty", "", "netflix", 0.0},
		{"shifted window", "abcd", "bcde", 0.75},
		{"trailing period", "abc ltda", "abc ltda.", 16.0 / 17.0},
		{"nothing in common", "abc", "xyz", 0.0},
		{"multibyte counts as one character", "joão", "joao", 0.75},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Ratio(tt.a, tt.b), 1e-9)
		})
	}
}

func TestSimilar(t *testing.T) {
	t.Run("case only difference is identical", func(t *testing.T) {
		assert.True(t, Similar("IFOOD.COM A27/03", "ifood.com a27/03", 1.0))
	})

	t.Run("whitespace only difference is identical", func(t *testing.T) {
		assert.True(t, Similar("SHPP BRASIL", "SHPP  BRASIL", 1.0))
	})

	t.Run("trailing period fails strict threshold", func(t *testing.T) {
		assert.False(t, Similar("ABC Ltda", "ABC Ltda.", 1.0))
		assert.True(t, Similar("ABC Ltda", "ABC Ltda.", 0.9))
	})

	t.Run("empty vs non-empty only at zero threshold", func(t *testing.T) {
		assert.False(t, Similar("", "Netflix", 0.1))
		assert.True(t, Similar("", "Netflix", 0))
	})

	t.Run("empty vs empty", func(t *testing.T) {
		assert.True(t, Similar("", "  ", 1.0))
	})

	t.Run("reflexive for any threshold", func(t *testing.T) {
		names := []string{"Netflix", "SHPP BRASIL", "PIX QRS IFOOD.COM A27/03", "Ana Souza", "x", ""}
		for _, n := range names {
			for _, threshold := range []float64{0, 0.5, 0.8, 1.0} {
				assert.True(t, Similar(n, n, threshold), "%q at %v", n, threshold)
			}
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		first := Ratio("mercado livre", "mercado li")
		for i := 0; i < 10; i++ {
			assert.Equal(t, first, Ratio("mercado livre", "mercado li"))
		}
	})
}

func BenchmarkRatio(b *testing.B) {
	a := NormalizeName("PIX QRS IFOOD.COM A27/03")
	c := NormalizeName("PIX QRS IFOOD COM A28/03")
	for i := 0; i < b.N; i++ {
		Ratio(a, c)
	}
}
