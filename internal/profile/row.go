package profile

import (
	"fmt"
	"strconv"
	"strings"
)

// Row maps column names to scalar values: int64, float64 or string.
// Rows handed to AppendTable may also carry int values.
type Row map[string]any

// Int returns an integer column, or -1 when absent or not numeric.
func (r Row) Int(col string) int64 {
	switch v := r[col].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	case string:
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return -1
}

// Float returns a float column, or -1 when absent or not numeric.
func (r Row) Float(col string) float64 {
	switch v := r[col].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return -1
}

// String returns a column formatted as text.
func (r Row) String(col string) string {
	v, ok := r[col]
	if !ok || v == nil {
		return ""
	}
	return formatValue(v)
}

// Project copies the named columns into a new row.
func (r Row) Project(cols ...string) Row {
	out := make(Row, len(cols))
	for _, c := range cols {
		if v, ok := r[c]; ok {
			out[c] = v
		}
	}
	return out
}

func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "1"
		}
		return "0"
	default:
		return fmt.Sprint(v)
	}
}

// Table files hold one row per line with fields joined by '@'.
// Backslash escapes keep separators and newlines out of values.
var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`, "@", `\s`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n", `\s`, "@")
)

func encodeRow(rel *Relation, row Row) string {
	var b strings.Builder
	for i, f := range rel.Fields {
		if i > 0 {
			b.WriteByte('@')
		}
		v, ok := row[f.Name]
		if !ok || v == nil {
			if f.Type != TypeString {
				b.WriteString("-1")
			}
			continue
		}
		b.WriteString(escaper.Replace(formatValue(v)))
	}
	return b.String()
}

func decodeRow(rel *Relation, line string) (Row, error) {
	cols := strings.Split(line, "@")
	if len(cols) != len(rel.Fields) {
		return nil, fmt.Errorf("%s: expected %d fields, got %d", rel.Name, len(rel.Fields), len(cols))
	}
	row := make(Row, len(cols))
	for i, f := range rel.Fields {
		raw := unescaper.Replace(cols[i])
		switch f.Type {
		case TypeInteger:
			if raw == "" {
				row[f.Name] = int64(-1)
				continue
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", rel.Name, f.Name, err)
			}
			row[f.Name] = n
		case TypeFloat:
			if raw == "" {
				row[f.Name] = float64(-1)
				continue
			}
			x, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", rel.Name, f.Name, err)
			}
			row[f.Name] = x
		default:
			row[f.Name] = raw
		}
	}
	return row, nil
}
