package processor

import (
	"fmt"
	"strconv"
	"strings"
)

// decodeBlock turns one blank-line-terminated response block into a
// Response. It never fails: a block that cannot be read yields a
// StatusMalformed response with no results.
func decodeBlock(block string) *Response {
	forms, err := readSexprs(block)
	if err != nil {
		return degraded(StatusMalformed, fmt.Sprintf("unreadable response: %v", err))
	}
	forms = unwrapAlist(forms)
	if len(forms) == 0 {
		return degraded(StatusMalformed, "empty response")
	}

	resp := &Response{CPUTime: Unknown, Memory: Unknown, Status: StatusOK}
	for _, form := range forms {
		key, value, ok := entry(form)
		if !ok {
			return degraded(StatusMalformed, fmt.Sprintf("response entry is not a keyed pair: %s", preview(block)))
		}
		switch key {
		case "results":
			results, err := decodeResults(value)
			if err != nil {
				return degraded(StatusMalformed, err.Error())
			}
			resp.Results = results
		case "tcpu":
			resp.CPUTime = integer(value)
		case "others":
			resp.Memory = integer(value)
		case "error":
			resp.Warning = strings.TrimSpace(scalar(value).value())
		}
	}
	return resp
}

// unwrapAlist accepts a block written as a single outer list of entries.
func unwrapAlist(forms []sexpr) []sexpr {
	if len(forms) != 1 {
		return forms
	}
	items, ok := forms[0].elements()
	if !ok || len(items) == 0 {
		return forms
	}
	for _, it := range items {
		if _, _, ok := entry(it); !ok {
			return forms
		}
	}
	return items
}

// entry splits (:key . value) or (:key v1 v2 ...). In the second form the
// value is the list (v1 v2 ...), as in Lisp.
func entry(s sexpr) (key string, value sexpr, ok bool) {
	if s.kind != sexprList || len(s.items) == 0 || s.items[0].kind != sexprAtom {
		return "", sexpr{}, false
	}
	name := s.items[0].text
	if !strings.HasPrefix(name, ":") {
		return "", sexpr{}, false
	}
	if s.tail != nil {
		return name[1:], *s.tail, true
	}
	return name[1:], sexpr{kind: sexprList, items: s.items[1:]}, true
}

func decodeResults(value sexpr) ([]Result, error) {
	if value.kind == sexprAtom && strings.EqualFold(value.text, "nil") {
		return nil, nil
	}
	items, ok := value.elements()
	if !ok {
		return nil, fmt.Errorf(":results is not a list")
	}
	results := make([]Result, 0, len(items))
	for i, item := range items {
		r, err := decodeResult(item)
		if err != nil {
			return nil, fmt.Errorf("result %d: %w", i, err)
		}
		results = append(results, r)
	}
	return results, nil
}

func decodeResult(s sexpr) (Result, error) {
	fields, ok := s.elements()
	if !ok {
		return Result{}, fmt.Errorf("not a list")
	}
	r := Result{Fields: make(map[string]string, len(fields))}
	for _, f := range fields {
		key, value, ok := entry(f)
		if !ok {
			return Result{}, fmt.Errorf("field is not a keyed pair")
		}
		if key == "flags" {
			r.Flags = decodeFlags(value)
			continue
		}
		value = scalar(value)
		if value.kind == sexprList {
			// nested structure we do not record
			continue
		}
		r.Fields[key] = value.value()
	}
	return r, nil
}

// decodeFlags reads ((:name . value) ...). Both (:flags . (pairs)) and
// (:flags (pairs)) spellings occur.
func decodeFlags(value sexpr) []Flag {
	items, ok := value.elements()
	if !ok {
		return nil
	}
	if len(items) == 1 {
		if _, _, isEntry := entry(items[0]); !isEntry {
			return decodeFlags(items[0])
		}
	}
	var flags []Flag
	for _, it := range items {
		key, v, ok := entry(it)
		if v = scalar(v); !ok || v.kind == sexprList {
			continue
		}
		flags = append(flags, Flag{Name: key, Value: v.value()})
	}
	return flags
}

// scalar unwraps the one-element list a (:key value) entry produces.
func scalar(s sexpr) sexpr {
	if items, ok := s.elements(); ok && len(items) == 1 && items[0].kind != sexprList {
		return items[0]
	}
	return s
}

func integer(s sexpr) int64 {
	s = scalar(s)
	if s.kind == sexprList {
		return Unknown
	}
	n, err := strconv.ParseInt(s.value(), 10, 64)
	if err != nil {
		f, ferr := strconv.ParseFloat(s.value(), 64)
		if ferr != nil {
			return Unknown
		}
		return int64(f)
	}
	return n
}

func preview(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 80 {
		return s[:80] + "..."
	}
	return s
}
