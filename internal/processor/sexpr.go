package processor

import (
	"fmt"
	"strings"
)

// The processor reports each response as an association list:
//
//	(:results . (((:mrs . "[ ... ]") (:flags ((:probability . 0.73)))) ...))
//	(:tcpu . 120) (:others . 2097152)
//
// sexpr is a minimal reader for that notation: atoms, double-quoted
// strings, proper lists and dotted pairs.

type sexprKind int

const (
	sexprAtom sexprKind = iota
	sexprString
	sexprList
)

type sexpr struct {
	kind  sexprKind
	text  string
	items []sexpr
	// tail is the cdr of a dotted list, nil for proper lists.
	tail *sexpr
}

// value returns the textual content of an atom or string.
func (s sexpr) value() string { return s.text }

// pair splits a dotted pair (car . cdr).
func (s sexpr) pair() (car, cdr sexpr, ok bool) {
	if s.kind != sexprList || len(s.items) != 1 || s.tail == nil {
		return sexpr{}, sexpr{}, false
	}
	return s.items[0], *s.tail, true
}

// elements returns the members of a proper list.
func (s sexpr) elements() ([]sexpr, bool) {
	if s.kind != sexprList || s.tail != nil {
		return nil, false
	}
	return s.items, true
}

type sexprReader struct {
	src string
	pos int
}

func readSexprs(src string) ([]sexpr, error) {
	r := &sexprReader{src: src}
	var out []sexpr
	for {
		r.skipSpace()
		if r.pos >= len(r.src) {
			return out, nil
		}
		x, err := r.read()
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
}

func (r *sexprReader) skipSpace() {
	for r.pos < len(r.src) {
		switch r.src[r.pos] {
		case ' ', '\t', '\n', '\r':
			r.pos++
		default:
			return
		}
	}
}

func (r *sexprReader) errorf(format string, args ...any) error {
	return fmt.Errorf("offset %d: %s", r.pos, fmt.Sprintf(format, args...))
}

func (r *sexprReader) read() (sexpr, error) {
	r.skipSpace()
	if r.pos >= len(r.src) {
		return sexpr{}, r.errorf("unexpected end of input")
	}
	switch c := r.src[r.pos]; c {
	case '(':
		r.pos++
		return r.readList()
	case ')':
		return sexpr{}, r.errorf("unexpected ')'")
	case '"':
		return r.readString()
	default:
		return r.readAtom(), nil
	}
}

func (r *sexprReader) readList() (sexpr, error) {
	list := sexpr{kind: sexprList}
	for {
		r.skipSpace()
		if r.pos >= len(r.src) {
			return sexpr{}, r.errorf("unterminated list")
		}
		if r.src[r.pos] == ')' {
			r.pos++
			return list, nil
		}
		if r.isDot() {
			if len(list.items) == 0 {
				return sexpr{}, r.errorf("dotted pair without car")
			}
			r.pos++
			tail, err := r.read()
			if err != nil {
				return sexpr{}, err
			}
			r.skipSpace()
			if r.pos >= len(r.src) || r.src[r.pos] != ')' {
				return sexpr{}, r.errorf("expected ')' after dotted tail")
			}
			r.pos++
			list.tail = &tail
			return list, nil
		}
		x, err := r.read()
		if err != nil {
			return sexpr{}, err
		}
		list.items = append(list.items, x)
	}
}

// isDot reports whether the reader is at a lone '.' separator.
func (r *sexprReader) isDot() bool {
	if r.src[r.pos] != '.' {
		return false
	}
	next := r.pos + 1
	return next >= len(r.src) || isDelimiter(r.src[next])
}

func (r *sexprReader) readString() (sexpr, error) {
	r.pos++ // opening quote
	var b strings.Builder
	for r.pos < len(r.src) {
		c := r.src[r.pos]
		switch c {
		case '\\':
			if r.pos+1 >= len(r.src) {
				return sexpr{}, r.errorf("dangling escape")
			}
			b.WriteByte(r.src[r.pos+1])
			r.pos += 2
		case '"':
			r.pos++
			return sexpr{kind: sexprString, text: b.String()}, nil
		default:
			b.WriteByte(c)
			r.pos++
		}
	}
	return sexpr{}, r.errorf("unterminated string")
}

func (r *sexprReader) readAtom() sexpr {
	start := r.pos
	for r.pos < len(r.src) && !isDelimiter(r.src[r.pos]) {
		r.pos++
	}
	return sexpr{kind: sexprAtom, text: r.src[start:r.pos]}
}

func isDelimiter(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '(', ')', '"':
		return true
	}
	return false
}
