package processor

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoResults = `(:results . (((:result-id . 0) (:mrs . "[ LTOP: h0 ]") (:derivation . "(root (1 hello))") (:flags ((:ascore . 1.5) (:probability . 0.73))))
  ((:result-id . 1) (:mrs . "[ LTOP: h1 \"quoted\" ]") (:derivation . "(root (2 hi))") (:flags ((:probability . 0.27))))))
(:tcpu . 120)
(:others . 2097152)
`

func TestDecodeBlock_Results(t *testing.T) {
	resp := decodeBlock(twoResults)
	require.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, int64(120), resp.CPUTime)
	assert.Equal(t, int64(2097152), resp.Memory)
	require.Len(t, resp.Results, 2)

	want := Result{
		Fields: map[string]string{
			"result-id":  "1",
			"mrs":        `[ LTOP: h1 "quoted" ]`,
			"derivation": "(root (2 hi))",
		},
		Flags: []Flag{{Name: "probability", Value: "0.27"}},
	}
	if diff := cmp.Diff(want, resp.Results[1]); diff != "" {
		t.Errorf("second result mismatch (-want +got):\n%s", diff)
	}
	assert.InDelta(t, 0.73, DefaultScore(resp.Results[0]), 1e-9)
}

func TestDecodeBlock_NoResults(t *testing.T) {
	resp := decodeBlock("(:results . nil) (:tcpu . 3) (:error . \"no lexical entry for 'zzz'\")\n")
	assert.Equal(t, StatusOK, resp.Status)
	assert.Empty(t, resp.Results)
	assert.Equal(t, int64(3), resp.CPUTime)
	assert.Equal(t, int64(Unknown), resp.Memory)
	assert.Equal(t, "no lexical entry for 'zzz'", resp.Warning)
}

func TestDecodeBlock_WrappedAlist(t *testing.T) {
	resp := decodeBlock(`((:results ((:surface . "Hello."))) (:tcpu . 5))`)
	require.Equal(t, StatusOK, resp.Status)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Hello.", resp.Results[0].Get("surface"))
}

func TestDecodeBlock_Malformed(t *testing.T) {
	cases := map[string]string{
		"unbalanced":   "((:results . (",
		"stray paren":  ")",
		"bare atom":    "SKIP: garbage on stdout",
		"results atom": "(:results . 42)",
		"empty":        "   \n",
	}
	for name, block := range cases {
		t.Run(name, func(t *testing.T) {
			resp := decodeBlock(block)
			assert.Equal(t, StatusMalformed, resp.Status)
			assert.Empty(t, resp.Results)
			assert.Equal(t, int64(Unknown), resp.CPUTime)
			assert.NotEmpty(t, resp.Warning)
		})
	}
}

func TestReadSexprs_DottedAndStrings(t *testing.T) {
	forms, err := readSexprs(`(:a . "x \\ y") (b c) (:n . -1.5)`)
	require.NoError(t, err)
	require.Len(t, forms, 3)

	car, cdr, ok := forms[0].pair()
	require.True(t, ok)
	assert.Equal(t, ":a", car.value())
	assert.Equal(t, `x \ y`, cdr.value())

	items, ok := forms[1].elements()
	require.True(t, ok)
	assert.Len(t, items, 2)

	_, cdr, ok = forms[2].pair()
	require.True(t, ok)
	assert.Equal(t, int64(-1), integer(cdr))
}

func TestFlagScore(t *testing.T) {
	r := Result{Flags: []Flag{{Name: "ascore", Value: "2.5"}, {Name: "probability", Value: "bogus"}}}
	assert.Equal(t, 2.5, FlagScore("ascore")(r))
	assert.Equal(t, NoScore, DefaultScore(r))
	assert.Equal(t, NoScore, DefaultScore(Result{}))
}
