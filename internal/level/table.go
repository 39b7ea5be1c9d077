// Package level defines the progression ladder and the lookups derived from it.
package level

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// Open marks the ceiling of the top tier, which has no upper bound.
const Open int64 = math.MaxInt64

// ErrInvalidTable indicates a ladder that does not partition experience or breaks unlock monotonicity.
var ErrInvalidTable = errors.New("invalid level table")

// Definition describes a single tier of the ladder.
type Definition struct {
	Key          string
	DisplayName  string
	Floor        int64
	Ceiling      int64
	Order        int
	Class        string
	Capabilities []string
}

// Contains reports whether exp falls inside [Floor, Ceiling).
func (d Definition) Contains(exp int64) bool {
	return exp >= d.Floor && (d.Ceiling == Open || exp < d.Ceiling)
}

// IsTop reports whether the tier is open-ended.
func (d Definition) IsTop() bool {
	return d.Ceiling == Open
}

// Unlocks reports whether the tier grants the capability.
func (d Definition) Unlocks(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Table is an immutable ladder ordered by Definition.Order.
type Table struct {
	defs  []Definition
	index map[string]int
}

// NewTable validates defs and builds a table. Definitions may be passed in any order.
func NewTable(defs ...Definition) (*Table, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("%w: no levels defined", ErrInvalidTable)
	}

	sorted := make([]Definition, len(defs))
	for i, d := range defs {
		d.Capabilities = append([]string(nil), d.Capabilities...)
		sorted[i] = d
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	index := make(map[string]int, len(sorted))
	for i, d := range sorted {
		if d.Key == "" {
			return nil, fmt.Errorf("%w: level at order %d has no key", ErrInvalidTable, d.Order)
		}
		if _, dup := index[d.Key]; dup {
			return nil, fmt.Errorf("%w: duplicate key %q", ErrInvalidTable, d.Key)
		}
		index[d.Key] = i

		if i == 0 {
			if d.Floor != 0 {
				return nil, fmt.Errorf("%w: lowest level %q must start at 0", ErrInvalidTable, d.Key)
			}
		} else {
			prev := sorted[i-1]
			if d.Order == prev.Order {
				return nil, fmt.Errorf("%w: %q and %q share order %d", ErrInvalidTable, prev.Key, d.Key, d.Order)
			}
			if prev.Ceiling != d.Floor {
				return nil, fmt.Errorf("%w: gap or overlap between %q and %q", ErrInvalidTable, prev.Key, d.Key)
			}
			if missing := difference(prev.Capabilities, d.Capabilities); len(missing) > 0 {
				return nil, fmt.Errorf("%w: %q drops capabilities %v", ErrInvalidTable, d.Key, missing)
			}
		}

		last := i == len(sorted)-1
		switch {
		case last && d.Ceiling != Open:
			return nil, fmt.Errorf("%w: top level %q must be open-ended", ErrInvalidTable, d.Key)
		case !last && d.Ceiling <= d.Floor:
			return nil, fmt.Errorf("%w: %q has empty range", ErrInvalidTable, d.Key)
		}
	}

	return &Table{defs: sorted, index: index}, nil
}

// MustNewTable is NewTable that panics on an invalid ladder.
func MustNewTable(defs ...Definition) *Table {
	t, err := NewTable(defs...)
	if err != nil {
		panic(err)
	}
	return t
}

// Definitions returns a copy of the ladder in ascending order.
func (t *Table) Definitions() []Definition {
	out := make([]Definition, len(t.defs))
	copy(out, t.defs)
	return out
}

// Keys returns level keys in ascending order.
func (t *Table) Keys() []string {
	keys := make([]string, len(t.defs))
	for i, d := range t.defs {
		keys[i] = d.Key
	}
	return keys
}

// Lowest returns the entry tier.
func (t *Table) Lowest() Definition {
	return t.defs[0]
}

// Top returns the open-ended tier.
func (t *Table) Top() Definition {
	return t.defs[len(t.defs)-1]
}

// Lookup returns the definition for key without falling back.
func (t *Table) Lookup(key string) (Definition, bool) {
	i, ok := t.index[key]
	if !ok {
		return Definition{}, false
	}
	return t.defs[i], true
}

// DefinitionFor returns the definition for key, or the lowest tier when key is unknown.
func (t *Table) DefinitionFor(key string) Definition {
	if d, ok := t.Lookup(key); ok {
		return d
	}
	return t.Lowest()
}

// BucketFor returns the tier whose range contains exp.
// Negative values land in the lowest tier; values past every ceiling land in the top tier.
func (t *Table) BucketFor(exp int64) Definition {
	if exp < 0 {
		return t.Lowest()
	}

	i := sort.Search(len(t.defs), func(i int) bool {
		return t.defs[i].IsTop() || exp < t.defs[i].Ceiling
	})
	if i >= len(t.defs) {
		return t.Top()
	}
	return t.defs[i]
}

// UnlockDiff returns the capabilities toKey adds over the tier immediately below it.
// fromKey does not take part in the computation; transitions always report what the
// destination tier newly grants.
func (t *Table) UnlockDiff(fromKey, toKey string) []string {
	_ = fromKey

	i, ok := t.index[toKey]
	if !ok {
		return nil
	}
	if i == 0 {
		return append([]string(nil), t.defs[0].Capabilities...)
	}
	return difference(t.defs[i].Capabilities, t.defs[i-1].Capabilities)
}

// RequiredLevelFor returns the lowest tier that unlocks capability.
func (t *Table) RequiredLevelFor(capability string) (Definition, bool) {
	for _, d := range t.defs {
		if d.Unlocks(capability) {
			return d, true
		}
	}
	return Definition{}, false
}

// HasAccess reports whether currentKey ranks at or above requiredKey.
// Unknown keys rank as the lowest tier.
func (t *Table) HasAccess(currentKey, requiredKey string) bool {
	return t.DefinitionFor(currentKey).Order >= t.DefinitionFor(requiredKey).Order
}

// Progress returns how far exp has advanced through its tier, in [0, 1].
func (t *Table) Progress(exp int64) float64 {
	d := t.BucketFor(exp)
	if d.IsTop() {
		return 1
	}
	if exp < d.Floor {
		return 0
	}
	return float64(exp-d.Floor) / float64(d.Ceiling-d.Floor)
}

// difference returns the members of a missing from b, preserving a's order.
func difference(a, b []string) []string {
	seen := make(map[string]struct{}, len(b))
	for _, v := range b {
		seen[v] = struct{}{}
	}

	var out []string
	for _, v := range a {
		if _, ok := seen[v]; !ok {
			out = append(out, v)
		}
	}
	return out
}
