package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRelations = `
item:
  i-id :integer :key                    # item id
  i-input :string                       # input string
  i-length :integer
  i-translation :string

p-result:
  i-id :integer :key
  p-id :integer :key
  mrs :string
  score :float

output:
  i-id :integer :key
  o-surface :string
`

func newTestProfile(t *testing.T) *Profile {
	t.Helper()
	p, err := Create(filepath.Join(t.TempDir(), "prof"), []byte(testRelations))
	require.NoError(t, err)
	return p
}

func item(id int64, input, translation string) Row {
	return Row{
		"i-id":          id,
		"i-input":       input,
		"i-length":      int64(len(strings.Fields(input))),
		"i-translation": translation,
	}
}

func TestParseRelations(t *testing.T) {
	s, err := ParseRelations(strings.NewReader(testRelations))
	require.NoError(t, err)
	assert.Equal(t, []string{"item", "p-result", "output"}, s.Tables())

	rel, ok := s.Relation("p-result")
	require.True(t, ok)
	assert.Equal(t, []string{"i-id", "p-id"}, rel.Keys())
	f, ok := rel.Field("score")
	require.True(t, ok)
	assert.Equal(t, TypeFloat, f.Type)

	itemRel, _ := s.Relation("item")
	idField, _ := itemRel.Field("i-id")
	assert.Equal(t, "item id", idField.Comment)
}

func TestParseRelations_Errors(t *testing.T) {
	_, err := ParseRelations(strings.NewReader("  i-id :integer\n"))
	assert.Error(t, err, "field outside of a table")

	_, err = ParseRelations(strings.NewReader("item:\n  i-id :blob\n"))
	assert.Error(t, err, "unsupported datatype")
}

func TestOpen_NotAProfile(t *testing.T) {
	_, err := Open(t.TempDir())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotAProfile))

	var se *StorageError
	assert.True(t, errors.As(err, &se))
}

func TestReadTable_Missing(t *testing.T) {
	p := newTestProfile(t)

	_, err := p.ReadTable("p-result")
	assert.True(t, errors.Is(err, ErrMissingTable))

	rows, err := p.ReadAll("p-result")
	require.NoError(t, err)
	assert.Empty(t, rows)

	_, err = p.ReadTable("nope")
	assert.True(t, errors.Is(err, ErrUnknownRelation))
}

func TestAppendTable_AcrossFlushes(t *testing.T) {
	p := newTestProfile(t)

	require.NoError(t, p.AppendTable("item", []Row{item(10, "a b", "x")}))
	require.NoError(t, p.AppendTable("item", []Row{item(20, "c", "y"), item(30, "d e f", "z")}))

	assert.FileExists(t, filepath.Join(p.Root(), "item.gz"))
	assert.NoFileExists(t, filepath.Join(p.Root(), "item"))

	rows, err := p.ReadAll("item")
	require.NoError(t, err)
	want := []Row{
		{"i-id": int64(10), "i-input": "a b", "i-length": int64(2), "i-translation": "x"},
		{"i-id": int64(20), "i-input": "c", "i-length": int64(1), "i-translation": "y"},
		{"i-id": int64(30), "i-input": "d e f", "i-length": int64(3), "i-translation": "z"},
	}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows mismatch (-want +got):\n%s", diff)
	}
}

func TestAppendTable_ZeroRowsCreatesTable(t *testing.T) {
	p := newTestProfile(t)

	require.NoError(t, p.AppendTable("p-result", nil))
	assert.True(t, p.Exists("p-result"))

	seq, err := p.ReadTable("p-result")
	require.NoError(t, err, "an empty table is not a missing table")
	n := 0
	for _, err := range seq {
		require.NoError(t, err)
		n++
	}
	assert.Zero(t, n)
}

func TestAppendTable_MigratesPlain(t *testing.T) {
	p := newTestProfile(t)
	plain := filepath.Join(p.Root(), "item")
	require.NoError(t, os.WriteFile(plain, []byte("10@plain input@2@ref\n"), 0o644))

	rows, err := p.ReadAll("item")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "plain input", rows[0].String("i-input"))

	require.NoError(t, p.AppendTable("item", []Row{item(20, "new", "ref")}))
	assert.NoFileExists(t, plain)

	rows, err = p.ReadAll("item")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(10), rows[0].Int("i-id"))
	assert.Equal(t, int64(20), rows[1].Int("i-id"))
}

func TestAppendTables_FailureRollsBackEveryTable(t *testing.T) {
	p := newTestProfile(t)
	require.NoError(t, p.AppendTable("item", []Row{item(10, "a", "A")}))
	// a directory where the compressed file belongs makes the append fail
	require.NoError(t, os.Mkdir(filepath.Join(p.Root(), "output.gz"), 0o755))

	err := p.AppendTables(
		TableRows{Table: "item", Rows: []Row{item(20, "b", "B")}},
		TableRows{Table: "p-result", Rows: []Row{{"i-id": 20, "p-id": 0, "mrs": "m", "score": 1.0}}},
		TableRows{Table: "output", Rows: []Row{{"i-id": 20, "o-surface": "b"}}},
	)
	var se *StorageError
	require.ErrorAs(t, err, &se)

	rows, err := p.ReadAll("item")
	require.NoError(t, err, "the item table must still decode")
	require.Len(t, rows, 1)
	assert.Equal(t, int64(10), rows[0].Int("i-id"))
	assert.NoFileExists(t, filepath.Join(p.Root(), "p-result.gz"))
}

func TestAppendTables_UnknownRelationWritesNothing(t *testing.T) {
	p := newTestProfile(t)

	err := p.AppendTables(
		TableRows{Table: "item", Rows: []Row{item(10, "a", "A")}},
		TableRows{Table: "nope", Rows: []Row{{}}},
	)
	assert.ErrorIs(t, err, ErrUnknownRelation)
	assert.False(t, p.Exists("item"))
}

func TestCodec_Escaping(t *testing.T) {
	p := newTestProfile(t)
	tricky := "a@b\\c\nd \\s"
	require.NoError(t, p.AppendTable("p-result", []Row{
		{"i-id": 1, "p-id": 0, "mrs": tricky, "score": 0.25},
		{"i-id": 1, "p-id": 1, "mrs": ""},
	}))

	rows, err := p.ReadAll("p-result")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, tricky, rows[0].String("mrs"))
	assert.Equal(t, 0.25, rows[0].Float("score"))
	assert.Equal(t, -1.0, rows[1].Float("score"), "missing float encodes as -1")
}

func TestDecodeRow_WrongArity(t *testing.T) {
	p := newTestProfile(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Root(), "output"), []byte("1@a@extra\n"), 0o644))

	_, err := p.ReadAll("output")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 1")
}

func TestClearTable(t *testing.T) {
	p := newTestProfile(t)
	require.NoError(t, os.WriteFile(filepath.Join(p.Root(), "p-result"), nil, 0o644))
	require.NoError(t, p.AppendTable("p-result", []Row{{"i-id": 1, "p-id": 0, "mrs": "m", "score": 1.0}}))
	require.NoError(t, os.WriteFile(filepath.Join(p.Root(), "p-result"), nil, 0o644))

	require.NoError(t, p.ClearTable("p-result"))
	assert.False(t, p.Exists("p-result"))

	// clearing an absent table is not an error
	require.NoError(t, p.ClearTable("p-result"))

	require.NoError(t, p.AppendTable("p-result", []Row{{"i-id": 2, "p-id": 0, "mrs": "n", "score": 1.0}}))
	rows, err := p.ReadAll("p-result")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(2), rows[0].Int("i-id"))
}

func TestReadTable_EarlyBreak(t *testing.T) {
	p := newTestProfile(t)
	require.NoError(t, p.AppendTable("item", []Row{item(10, "a", ""), item(20, "b", ""), item(30, "c", "")}))

	seq, err := p.ReadTable("item")
	require.NoError(t, err)
	var seen []int64
	for row, err := range seq {
		require.NoError(t, err)
		seen = append(seen, row.Int("i-id"))
		if len(seen) == 2 {
			break
		}
	}
	assert.Equal(t, []int64{10, 20}, seen)
}

func TestJoin(t *testing.T) {
	p := newTestProfile(t)
	require.NoError(t, p.AppendTable("item", []Row{item(30, "c", "C"), item(10, "a", "A"), item(20, "b", "B")}))
	require.NoError(t, p.AppendTable("p-result", []Row{
		{"i-id": 10, "p-id": 0, "mrs": "a0", "score": 1.0},
		{"i-id": 30, "p-id": 0, "mrs": "c0", "score": 1.0},
		{"i-id": 10, "p-id": 1, "mrs": "a1", "score": 1.0},
	}))

	seq, err := p.Join("item", "p-result")
	require.NoError(t, err)

	var got []string
	for row, err := range seq {
		require.NoError(t, err)
		got = append(got, row.String("item:i-input")+"/"+row.String("p-result:mrs"))
	}
	// left order first (30 before 10), item 20 has no parse and is dropped
	assert.Equal(t, []string{"c/c0", "a/a0", "a/a1"}, got)
}

func TestJoin_NoSharedKey(t *testing.T) {
	rels := "a:\n  x :integer :key\n\nb:\n  y :integer :key\n"
	p, err := Create(filepath.Join(t.TempDir(), "p"), []byte(rels))
	require.NoError(t, err)
	require.NoError(t, p.AppendTable("a", nil))
	require.NoError(t, p.AppendTable("b", nil))

	_, err = p.Join("a", "b")
	assert.True(t, errors.Is(err, ErrNoSharedKey))
}
