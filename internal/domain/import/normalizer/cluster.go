package normalizer

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// DefaultThreshold is the similarity ratio at or above which two origins are
// treated as the same counterparty when the caller does not pick one.
const DefaultThreshold = 0.8

// ErrInvalidThreshold is returned by ValidateThreshold for values outside [0, 1].
var ErrInvalidThreshold = errors.New("similarity threshold must be within [0, 1]")

// Group is a set of distinct raw origins judged to name the same counterparty.
type Group struct {
	Canonical string         `json:"canonical"`
	Members   []string       `json:"members"` // Founder first, then first-appearance order
	Counts    map[string]int `json:"counts"`  // Occurrences of each member in the input
}

// Size returns the number of distinct raw names in the group.
func (g Group) Size() int {
	return len(g.Members)
}

// Occurrences returns how many input rows the group covers.
func (g Group) Occurrences() int {
	total := 0
	for _, n := range g.Counts {
		total += n
	}
	return total
}

// Mapping maps every distinct non-blank raw origin of a run to its canonical name.
type Mapping map[string]string

// Apply returns the canonical name for origin. Blank origins and origins the
// mapping never saw are returned unchanged.
func (m Mapping) Apply(origin string) string {
	if isBlank(origin) {
		return origin
	}
	if canonical, ok := m[origin]; ok {
		return canonical
	}
	return origin
}

// Clusterer partitions raw origins into groups of similar names and picks a
// canonical representative for each group. It holds no mutable state and can
// be shared between goroutines.
type Clusterer struct {
	threshold float64
}

// Option configures a Clusterer.
type Option func(*Clusterer)

// WithThreshold sets the similarity threshold. NaN falls back to
// DefaultThreshold and out-of-range values are clamped to [0, 1].
func WithThreshold(threshold float64) Option {
	return func(c *Clusterer) {
		c.threshold = clampThreshold(threshold)
	}
}

// NewClusterer creates a clusterer using DefaultThreshold unless overridden.
func NewClusterer(opts ...Option) *Clusterer {
	c := &Clusterer{threshold: DefaultThreshold}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Threshold returns the similarity threshold in use.
func (c *Clusterer) Threshold() float64 {
	return c.threshold
}

// Group partitions the distinct non-blank names of the input into groups.
//
// Distinct names are visited in order of first appearance. Each unprocessed
// name founds a group and claims every other unprocessed name similar to it.
// Later members never recruit further names in the same pass, so similarity
// is not closed transitively. The canonical name of a group is the member
// with the most occurrences in names; ties go to the member seen first.
func (c *Clusterer) Group(names []string) []Group {
	distinct, counts := tally(names)
	if len(distinct) == 0 {
		return nil
	}

	normalized := make([]string, len(distinct))
	for i, name := range distinct {
		normalized[i] = NormalizeName(name)
	}

	processed := make([]bool, len(distinct))
	groups := make([]Group, 0, len(distinct))

	for i := range distinct {
		if processed[i] {
			continue
		}
		processed[i] = true
		members := []int{i}

		for j := range distinct {
			if processed[j] {
				continue
			}
			if Ratio(normalized[i], normalized[j]) >= c.threshold {
				members = append(members, j)
				processed[j] = true
			}
		}

		groups = append(groups, buildGroup(distinct, counts, members))
	}

	return groups
}

// Canonicalize returns the raw-to-canonical mapping for names.
func (c *Clusterer) Canonicalize(names []string) Mapping {
	return MappingFromGroups(c.Group(names))
}

// MappingFromGroups flattens groups into a raw-to-canonical mapping.
func MappingFromGroups(groups []Group) Mapping {
	mapping := make(Mapping)
	for _, g := range groups {
		for _, member := range g.Members {
			mapping[member] = g.Canonical
		}
	}
	return mapping
}

// NormalizeOrigins clusters the raw origins of one run and returns the
// mapping to canonical names. A nil threshold means DefaultThreshold.
func NormalizeOrigins(names []string, threshold *float64) Mapping {
	opts := []Option{}
	if threshold != nil {
		opts = append(opts, WithThreshold(*threshold))
	}
	return NewClusterer(opts...).Canonicalize(names)
}

// ValidateThreshold rejects thresholds that are not a number within [0, 1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		return fmt.Errorf("%w: got %v", ErrInvalidThreshold, threshold)
	}
	return nil
}

// tally returns the distinct non-blank names in order of first appearance
// along with their occurrence counts.
func tally(names []string) ([]string, map[string]int) {
	counts := make(map[string]int, len(names))
	distinct := make([]string, 0, len(names))
	for _, name := range names {
		if isBlank(name) {
			continue
		}
		if _, seen := counts[name]; !seen {
			distinct = append(distinct, name)
		}
		counts[name]++
	}
	return distinct, counts
}

// buildGroup resolves the canonical name of a group. Member indices are in
// first-appearance order, so a strict comparison keeps the earliest on ties.
func buildGroup(distinct []string, counts map[string]int, members []int) Group {
	g := Group{
		Members: make([]string, 0, len(members)),
		Counts:  make(map[string]int, len(members)),
	}
	best := -1
	for _, idx := range members {
		name := distinct[idx]
		g.Members = append(g.Members, name)
		g.Counts[name] = counts[name]
		if counts[name] > best {
			best = counts[name]
			g.Canonical = name
		}
	}
	return g
}

func clampThreshold(threshold float64) float64 {
	switch {
	case math.IsNaN(threshold):
		return DefaultThreshold
	case threshold < 0:
		return 0
	case threshold > 1:
		return 1
	}
	return threshold
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
