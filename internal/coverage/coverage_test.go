package coverage

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmt/internal/profile"
	"xmt/internal/stage"
)

func newProfile(t *testing.T) *profile.Profile {
	t.Helper()
	p, err := profile.Create(filepath.Join(t.TempDir(), "prof"), stage.Relations())
	require.NoError(t, err)
	require.NoError(t, p.AppendTable("item", []profile.Row{
		{"i-id": 10, "i-input": "a"},
		{"i-id": 20, "i-input": "b"},
		{"i-id": 30, "i-input": "c"},
	}))
	return p
}

func TestCompute(t *testing.T) {
	p := newProfile(t)
	require.NoError(t, p.AppendTable("p-result", []profile.Row{
		{"i-id": 10, "p-id": 0}, {"i-id": 10, "p-id": 1}, {"i-id": 20, "p-id": 0},
	}))
	require.NoError(t, p.AppendTable("x-result", []profile.Row{
		{"i-id": 10, "p-id": 0, "x-id": 0}, {"i-id": 10, "p-id": 0, "x-id": 1}, {"i-id": 10, "p-id": 1, "x-id": 0},
	}))
	require.NoError(t, p.AppendTable("g-result", []profile.Row{
		{"i-id": 10, "p-id": 0, "x-id": 1, "g-id": 0},
	}))

	s, err := Compute(p, nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{
		Items:             3,
		ItemsParsed:       2,
		Parses:            3,
		ItemsTransferred:  1,
		ParsesTransferred: 2,
		Transfers:         3,
		ItemsRealized:     1,
		TransfersRealized: 1,
		Realizations:      1,
	}, s)
}

func TestCompute_NeverRunStagesAreEmpty(t *testing.T) {
	s, err := Compute(newProfile(t), nil)
	require.NoError(t, err)
	assert.Equal(t, Stats{Items: 3}, s)
}

func TestAddAndFormat(t *testing.T) {
	var total Stats
	total.Add(Stats{Items: 3, ItemsParsed: 2, Parses: 4})
	total.Add(Stats{Items: 1, ItemsParsed: 1, Parses: 1, Rephrasings: 2, ItemsRephrased: 1, ParsesRephrased: 1})
	assert.Equal(t, 4, total.Items)
	assert.Equal(t, 5, total.Parses)

	var buf bytes.Buffer
	require.NoError(t, Format(&buf, "Summary", total))
	out := buf.String()
	assert.Contains(t, out, "Summary:\n")
	assert.Contains(t, out, "Items parsed:")
	assert.Contains(t, out, "3/4 (0.7500)")
	assert.Contains(t, out, "Rephrasing (1 items, 1 parses, 2 results)")
	assert.Contains(t, out, "Transfer/Parse:", "zero denominators still print")
}
