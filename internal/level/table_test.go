package level

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_BucketFor(t *testing.T) {
	table := Default()

	testCases := []struct {
		name     string
		exp      int64
		expected string
	}{
		{name: "zero", exp: 0, expected: Yellow},
		{name: "negative clamps to lowest", exp: -10, expected: Yellow},
		{name: "just below boundary", exp: 2999, expected: Yellow},
		{name: "exact boundary lands in higher tier", exp: 3000, expected: Orange},
		{name: "middle of green", exp: 8000, expected: Green},
		{name: "blue floor", exp: 10000, expected: Blue},
		{name: "black ceiling minus one", exp: 49999, expected: Black},
		{name: "red floor", exp: 50000, expected: Red},
		{name: "past the original max", exp: 100000, expected: Red},
		{name: "huge", exp: 1 << 60, expected: Red},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, table.BucketFor(tc.exp).Key)
		})
	}
}

func TestTable_BucketsPartitionExperience(t *testing.T) {
	table := Default()

	for exp := int64(0); exp <= 60000; exp += 7 {
		matches := 0
		for _, d := range table.Definitions() {
			if d.Contains(exp) {
				matches++
			}
		}
		require.Equal(t, 1, matches, "exp %d", exp)

		bucket := table.BucketFor(exp)
		require.True(t, bucket.Contains(exp), "exp %d not inside %s", exp, bucket.Key)
	}
}

func TestTable_CapabilitiesAreMonotonic(t *testing.T) {
	defs := Default().Definitions()

	for i := range defs {
		for j := i + 1; j < len(defs); j++ {
			for _, c := range defs[i].Capabilities {
				assert.True(t, defs[j].Unlocks(c), "%s lost %s present in %s", defs[j].Key, c, defs[i].Key)
			}
		}
	}
}

func TestTable_DefinitionFor(t *testing.T) {
	table := Default()

	assert.Equal(t, Green, table.DefinitionFor(Green).Key)
	assert.Equal(t, Yellow, table.DefinitionFor("platinum").Key)
	assert.Equal(t, Yellow, table.DefinitionFor("").Key)

	_, ok := table.Lookup("platinum")
	assert.False(t, ok)
}

func TestTable_UnlockDiff(t *testing.T) {
	table := Default()

	assert.Equal(t, []string{CapMarketTrade}, table.UnlockDiff(Yellow, Orange))
	// Only the tier below the destination matters, not the origin.
	assert.Equal(t, []string{CapReportsMonthly}, table.UnlockDiff(Yellow, Green))
	assert.Equal(t, []string{CapPortfolioView, CapMarketQuotes}, table.UnlockDiff("", Yellow))
	assert.Nil(t, table.UnlockDiff(Yellow, "platinum"))
}

func TestTable_RequiredLevelFor(t *testing.T) {
	table := Default()

	d, ok := table.RequiredLevelFor(CapMarketMargin)
	require.True(t, ok)
	assert.Equal(t, Blue, d.Key)

	d, ok = table.RequiredLevelFor(CapPortfolioView)
	require.True(t, ok)
	assert.Equal(t, Yellow, d.Key)

	_, ok = table.RequiredLevelFor("unknown.capability")
	assert.False(t, ok)
}

func TestTable_HasAccess(t *testing.T) {
	table := Default()

	assert.True(t, table.HasAccess(Green, Orange))
	assert.True(t, table.HasAccess(Green, Green))
	assert.False(t, table.HasAccess(Orange, Green))
	assert.True(t, table.HasAccess("bogus", Yellow))
	assert.False(t, table.HasAccess("bogus", Orange))
}

func TestTable_Progress(t *testing.T) {
	table := Default()

	assert.InDelta(t, 0.0, table.Progress(0), 1e-9)
	assert.InDelta(t, 0.5, table.Progress(1500), 1e-9)
	assert.InDelta(t, 0.25, table.Progress(7000), 1e-9)
	assert.InDelta(t, 1.0, table.Progress(75000), 1e-9)
}

func TestNewTable_Rejects(t *testing.T) {
	testCases := []struct {
		name string
		defs []Definition
	}{
		{name: "empty", defs: nil},
		{
			name: "gap",
			defs: []Definition{
				{Key: "a", Floor: 0, Ceiling: 10, Order: 1},
				{Key: "b", Floor: 11, Ceiling: Open, Order: 2},
			},
		},
		{
			name: "lowest not at zero",
			defs: []Definition{{Key: "a", Floor: 5, Ceiling: Open, Order: 1}},
		},
		{
			name: "closed top",
			defs: []Definition{{Key: "a", Floor: 0, Ceiling: 10, Order: 1}},
		},
		{
			name: "duplicate key",
			defs: []Definition{
				{Key: "a", Floor: 0, Ceiling: 10, Order: 1},
				{Key: "a", Floor: 10, Ceiling: Open, Order: 2},
			},
		},
		{
			name: "capability dropped",
			defs: []Definition{
				{Key: "a", Floor: 0, Ceiling: 10, Order: 1, Capabilities: []string{"x"}},
				{Key: "b", Floor: 10, Ceiling: Open, Order: 2, Capabilities: []string{"y"}},
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewTable(tc.defs...)
			assert.ErrorIs(t, err, ErrInvalidTable)
		})
	}
}

func TestNewTable_SortsByOrder(t *testing.T) {
	table, err := NewTable(
		Definition{Key: "b", Floor: 10, Ceiling: Open, Order: 2, Capabilities: []string{"x", "y"}},
		Definition{Key: "a", Floor: 0, Ceiling: 10, Order: 1, Capabilities: []string{"x"}},
	)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, table.Keys())
	assert.Equal(t, "a", table.Lowest().Key)
	assert.Equal(t, "b", table.Top().Key)
}
