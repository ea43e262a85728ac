package profile

import (
	"errors"
	"fmt"
	"iter"
	"strings"
)

// ErrNoSharedKey means two tables have no common key-column prefix to join on.
var ErrNoSharedKey = errors.New("no shared key columns")

// SharedKeys returns the longest common prefix of two relations' key columns.
func SharedKeys(a, b *Relation) []string {
	ka, kb := a.Keys(), b.Keys()
	var shared []string
	for i := 0; i < len(ka) && i < len(kb) && ka[i] == kb[i]; i++ {
		shared = append(shared, ka[i])
	}
	return shared
}

// Join pairs each row of left with every row of right that agrees on the
// shared key-column prefix. Output follows left's row order, then right's.
// Columns are qualified as "table:column". Left rows without a match are
// dropped. The right table is loaded into memory; the left one is streamed.
func (p *Profile) Join(left, right string) (iter.Seq2[Row, error], error) {
	lrel, err := p.relation(left)
	if err != nil {
		return nil, err
	}
	rrel, err := p.relation(right)
	if err != nil {
		return nil, err
	}
	keys := SharedKeys(lrel, rrel)
	if len(keys) == 0 {
		return nil, fmt.Errorf("join %s with %s: %w", left, right, ErrNoSharedKey)
	}

	lseq, err := p.ReadTable(left)
	if err != nil {
		return nil, err
	}
	rseq, err := p.ReadTable(right)
	if err != nil {
		return nil, err
	}

	return func(yield func(Row, error) bool) {
		index := make(map[string][]Row)
		for row, err := range rseq {
			if err != nil {
				yield(nil, err)
				return
			}
			k := keyOf(row, keys)
			index[k] = append(index[k], row)
		}

		for lrow, err := range lseq {
			if err != nil {
				yield(nil, err)
				return
			}
			for _, rrow := range index[keyOf(lrow, keys)] {
				if !yield(combine(left, lrow, right, rrow), nil) {
					return
				}
			}
		}
	}, nil
}

func keyOf(row Row, keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = row.String(k)
	}
	return strings.Join(parts, "\x00")
}

func combine(left string, lrow Row, right string, rrow Row) Row {
	out := make(Row, len(lrow)+len(rrow))
	for k, v := range lrow {
		out[left+":"+k] = v
	}
	for k, v := range rrow {
		out[right+":"+k] = v
	}
	return out
}

func lineError(lineNo int, err error) error {
	return fmt.Errorf("line %d: %w", lineNo, err)
}
