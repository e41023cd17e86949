package normalizer

import (
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClusterer_Group(t *testing.T) {
	t.Run("case and whitespace variants", func(t *testing.T) {
		names := []string{"IFOOD.COM A27/03", "ifood.com a27/03", "SHPP BRASIL", "SHPP  BRASIL", "SHPP BRASIL", "Netflix"}

		groups := NewClusterer().Group(names)
		require.Len(t, groups, 3)

		assert.Equal(t, []string{"IFOOD.COM A27/03", "ifood.com a27/03"}, groups[0].Members)
		assert.Equal(t, []string{"SHPP BRASIL", "SHPP  BRASIL"}, groups[1].Members)
		assert.Equal(t, "SHPP BRASIL", groups[1].Canonical)
		assert.Equal(t, 2, groups[1].Counts["SHPP BRASIL"])
		assert.Equal(t, 1, groups[1].Counts["SHPP  BRASIL"])
		assert.Equal(t, 3, groups[1].Occurrences())
		assert.Equal(t, []string{"Netflix"}, groups[2].Members)
		assert.Equal(t, "Netflix", groups[2].Canonical)
	})

	t.Run("strict threshold keeps punctuation variants apart", func(t *testing.T) {
		groups := NewClusterer(WithThreshold(1.0)).Group([]string{"ABC Ltda", "ABC Ltda."})
		require.Len(t, groups, 2)
		assert.Equal(t, "ABC Ltda", groups[0].Canonical)
		assert.Equal(t, "ABC Ltda.", groups[1].Canonical)
	})

	t.Run("empty input", func(t *testing.T) {
		assert.Empty(t, NewClusterer().Group(nil))
		assert.Empty(t, NewClusterer().Group([]string{}))
	})

	t.Run("only blank origins", func(t *testing.T) {
		assert.Empty(t, NewClusterer().Group([]string{"", "  ", "\t"}))
	})

	t.Run("mutually dissimilar names stay singletons", func(t *testing.T) {
		names := []string{"Netflix", "SHPP BRASIL", "Posto Shell", "Drogasil"}
		groups := NewClusterer().Group(names)
		require.Len(t, groups, len(names))
		for i, g := range groups {
			assert.Equal(t, []string{names[i]}, g.Members)
			assert.Equal(t, names[i], g.Canonical)
		}
	})

	t.Run("founder only recruits, members do not", func(t *testing.T) {
		// padaria sol~padaria so (0.95), padaria so~padaria (0.82),
		// padaria sol~padaria (0.78).
		groups := NewClusterer().Group([]string{"padaria sol", "padaria so", "padaria"})
		require.Len(t, groups, 2)
		assert.Equal(t, []string{"padaria sol", "padaria so"}, groups[0].Members)
		assert.Equal(t, []string{"padaria"}, groups[1].Members)
	})

	t.Run("first appearance decides the founder", func(t *testing.T) {
		groups := NewClusterer().Group([]string{"padaria so", "padaria sol", "padaria"})
		require.Len(t, groups, 1)
		assert.Equal(t, []string{"padaria so", "padaria sol", "padaria"}, groups[0].Members)
	})

	t.Run("ties resolve to the first occurrence", func(t *testing.T) {
		names := []string{"Uber Trip", "UBER TRIP", "UBER TRIP", "Uber Trip"}
		groups := NewClusterer().Group(names)
		require.Len(t, groups, 1)
		assert.Equal(t, "Uber Trip", groups[0].Canonical)
	})

	t.Run("most frequent member wins even when seen later", func(t *testing.T) {
		names := []string{"Mercado Livre", "MERCADO LIVRE", "MERCADO LIVRE", "mercadolivre"}
		groups := NewClusterer().Group(names)
		require.Len(t, groups, 1)
		assert.Equal(t, "MERCADO LIVRE", groups[0].Canonical)
	})
}

func TestClusterer_Canonicalize(t *testing.T) {
	names := []string{"IFOOD.COM A27/03", "ifood.com a27/03", "SHPP BRASIL", "SHPP  BRASIL", "SHPP BRASIL", "Netflix"}

	mapping := NewClusterer().Canonicalize(names)

	assert.Equal(t, Mapping{
		"IFOOD.COM A27/03": "IFOOD.COM A27/03",
		"ifood.com a27/03": "IFOOD.COM A27/03",
		"SHPP BRASIL":      "SHPP BRASIL",
		"SHPP  BRASIL":     "SHPP BRASIL",
		"Netflix":          "Netflix",
	}, mapping)
}

func TestMapping_Apply(t *testing.T) {
	mapping := Mapping{"SHPP  BRASIL": "SHPP BRASIL"}

	assert.Equal(t, "SHPP BRASIL", mapping.Apply("SHPP  BRASIL"))
	assert.Equal(t, "", mapping.Apply(""))
	assert.Equal(t, "  ", mapping.Apply("  "))
	assert.Equal(t, "unseen", mapping.Apply("unseen"))
}

func TestNormalizeOrigins(t *testing.T) {
	t.Run("nil threshold uses default", func(t *testing.T) {
		mapping := NormalizeOrigins([]string{"Ana Souza", "Ana Sousa"}, nil)
		assert.Equal(t, "Ana Souza", mapping["Ana Sousa"])
	})

	t.Run("explicit threshold", func(t *testing.T) {
		strict := 0.95
		mapping := NormalizeOrigins([]string{"Ana Souza", "Ana Sousa"}, &strict)
		assert.Equal(t, "Ana Sousa", mapping["Ana Sousa"])
	})

	t.Run("empty sequence", func(t *testing.T) {
		mapping := NormalizeOrigins(nil, nil)
		assert.NotNil(t, mapping)
		assert.Empty(t, mapping)
	})

	t.Run("blank origins are never keys", func(t *testing.T) {
		mapping := NormalizeOrigins([]string{"", "Netflix", " "}, nil)
		assert.Equal(t, Mapping{"Netflix": "Netflix"}, mapping)
	})
}

func TestWithThreshold(t *testing.T) {
	tests := []struct {
		input    float64
		expected float64
	}{
		{0.8, 0.8},
		{0, 0},
		{1, 1},
		{-0.5, 0},
		{1.5, 1},
		{math.NaN(), DefaultThreshold},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.input), func(t *testing.T) {
			assert.Equal(t, tt.expected, NewClusterer(WithThreshold(tt.input)).Threshold())
		})
	}

	assert.Equal(t, DefaultThreshold, NewClusterer().Threshold())
}

func TestValidateThreshold(t *testing.T) {
	assert.NoError(t, ValidateThreshold(0))
	assert.NoError(t, ValidateThreshold(0.8))
	assert.NoError(t, ValidateThreshold(1))
	assert.ErrorIs(t, ValidateThreshold(-0.1), ErrInvalidThreshold)
	assert.ErrorIs(t, ValidateThreshold(1.01), ErrInvalidThreshold)
	assert.ErrorIs(t, ValidateThreshold(math.NaN()), ErrInvalidThreshold)
}

// ============================================================================
// Properties
// ============================================================================

func fakeOrigins(seed int64, n int) []string {
	faker := gofakeit.New(seed)
	base := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		base = append(base, faker.Company())
	}

	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := base[faker.IntRange(0, len(base)-1)]
		switch faker.IntRange(0, 4) {
		case 0:
			name = "  " + name
		case 1:
			name = name + "."
		case 2:
			name = ""
		}
		names = append(names, name)
	}
	return names
}

func TestClusterer_Properties(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		names := fakeOrigins(seed, 120)
		distinct, counts := tally(names)
		groups := NewClusterer().Group(names)

		t.Run(fmt.Sprintf("partition/seed=%d", seed), func(t *testing.T) {
			seen := make(map[string]int)
			for _, g := range groups {
				for _, m := range g.Members {
					seen[m]++
				}
			}
			assert.Len(t, seen, len(distinct))
			for _, name := range distinct {
				assert.Equal(t, 1, seen[name], "%q must be in exactly one group", name)
			}
		})

		t.Run(fmt.Sprintf("frequency/seed=%d", seed), func(t *testing.T) {
			for _, g := range groups {
				for _, m := range g.Members {
					assert.GreaterOrEqual(t, counts[g.Canonical], counts[m])
				}
			}
		})

		t.Run(fmt.Sprintf("mapping covers distinct names/seed=%d", seed), func(t *testing.T) {
			mapping := MappingFromGroups(groups)
			assert.Len(t, mapping, len(distinct))
			for _, name := range names {
				if isBlank(name) {
					assert.Equal(t, name, mapping.Apply(name))
					continue
				}
				canonical, ok := mapping[name]
				require.True(t, ok)
				assert.Equal(t, canonical, mapping[canonical], "canonical maps to itself")
			}
		})
	}
}

func TestClusterer_Idempotent(t *testing.T) {
	names := []string{"IFOOD.COM A27/03", "ifood.com a27/03", "SHPP BRASIL", "SHPP  BRASIL", "SHPP BRASIL", "Netflix"}
	mapping := NewClusterer().Canonicalize(names)

	canonical := make([]string, 0, len(names))
	for _, n := range names {
		canonical = append(canonical, mapping.Apply(n))
	}

	again := NewClusterer().Canonicalize(canonical)
	for _, c := range canonical {
		assert.Equal(t, c, again[c])
	}
}

func TestClusterer_ThresholdMonotonicity(t *testing.T) {
	names := []string{
		"mercado livre", "mercado livr", "mercado li",
		"padaria sol", "padaria so", "padaria",
		"Ana Souza", "Ana Sousa", "Uber Trip", "UBER TRIP SP",
	}
	thresholds := []float64{0.5, 0.8, 0.9, 1.0}

	for i := 1; i < len(thresholds); i++ {
		looser := NewClusterer(WithThreshold(thresholds[i-1])).Canonicalize(names)
		stricter := NewClusterer(WithThreshold(thresholds[i])).Group(names)

		for _, g := range stricter {
			// Every stricter group lies inside a single looser group.
			target := looser[g.Members[0]]
			for _, m := range g.Members {
				assert.Equal(t, target, looser[m], "threshold %v splits %v", thresholds[i], g.Members)
			}
		}
		assert.GreaterOrEqual(t, len(stricter), len(groupsOf(looser)))
	}
}

func TestClusterer_ConcurrentUse(t *testing.T) {
	clusterer := NewClusterer()
	names := fakeOrigins(42, 80)
	want := clusterer.Canonicalize(names)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, want, clusterer.Canonicalize(names))
		}()
	}
	wg.Wait()
}

func groupsOf(m Mapping) map[string]struct{} {
	out := make(map[string]struct{})
	for _, canonical := range m {
		out[canonical] = struct{}{}
	}
	return out
}

func BenchmarkClusterer_Group200(b *testing.B) {
	names := fakeOrigins(7, 200)
	clusterer := NewClusterer()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		clusterer.Group(names)
	}
}
