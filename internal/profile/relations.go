package profile

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// FieldType is the declared datatype of a column.
type FieldType string

const (
	TypeInteger FieldType = ":integer"
	TypeFloat   FieldType = ":float"
	TypeString  FieldType = ":string"
)

// Field is one column of a relation.
type Field struct {
	Name    string
	Type    FieldType
	Key     bool
	Comment string
}

// Relation is the column schema of one table.
type Relation struct {
	Name   string
	Fields []Field
}

// Keys returns the key column names in declaration order.
func (r *Relation) Keys() []string {
	var keys []string
	for _, f := range r.Fields {
		if f.Key {
			keys = append(keys, f.Name)
		}
	}
	return keys
}

// Field returns the named column.
func (r *Relation) Field(name string) (Field, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Schema is a parsed relations file.
type Schema struct {
	relations map[string]*Relation
	order     []string
}

// Relation returns the schema for a table.
func (s *Schema) Relation(name string) (*Relation, bool) {
	r, ok := s.relations[name]
	return r, ok
}

// Tables lists the declared tables in file order.
func (s *Schema) Tables() []string {
	return append([]string(nil), s.order...)
}

// ParseRelations reads a relations file:
//
//	table:
//	  column :type [:key] [# comment]
//
// Relations are separated by blank lines.
func ParseRelations(r io.Reader) (*Schema, error) {
	s := &Schema{relations: make(map[string]*Relation)}
	var cur *Relation

	sc := bufio.NewScanner(r)
	for lineNo := 1; sc.Scan(); lineNo++ {
		line := sc.Text()
		var comment string
		if i := strings.IndexByte(line, '#'); i >= 0 {
			comment = strings.TrimSpace(line[i+1:])
			line = line[:i]
		}
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == "":
			if line == "" && comment == "" {
				cur = nil
			}
		case !startsWithSpace(line) && strings.HasSuffix(trimmed, ":"):
			name := strings.TrimSuffix(trimmed, ":")
			if _, dup := s.relations[name]; dup {
				return nil, fmt.Errorf("relations line %d: table %q declared twice", lineNo, name)
			}
			cur = &Relation{Name: name}
			s.relations[name] = cur
			s.order = append(s.order, name)
		default:
			if cur == nil {
				return nil, fmt.Errorf("relations line %d: field outside of a table", lineNo)
			}
			f, err := parseField(trimmed)
			if err != nil {
				return nil, fmt.Errorf("relations line %d: %w", lineNo, err)
			}
			f.Comment = comment
			cur.Fields = append(cur.Fields, f)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return s, nil
}

func parseField(s string) (Field, error) {
	parts := strings.Fields(s)
	if len(parts) < 2 {
		return Field{}, fmt.Errorf("field %q has no datatype", s)
	}
	f := Field{Name: parts[0], Type: FieldType(parts[1])}
	switch f.Type {
	case TypeInteger, TypeFloat, TypeString:
	default:
		return Field{}, fmt.Errorf("field %q: unsupported datatype %s", f.Name, parts[1])
	}
	for _, flag := range parts[2:] {
		if flag == ":key" {
			f.Key = true
		}
	}
	return f, nil
}

func startsWithSpace(s string) bool {
	return s != "" && (s[0] == ' ' || s[0] == '\t')
}
