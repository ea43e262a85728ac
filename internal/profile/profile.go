// Package profile implements the file-backed tabular store that holds one
// batch of items and every stage's output.
//
// A profile is a directory with a "relations" schema file and one file per
// table. Tables may be stored plain or gzip-compressed; reads accept either
// form, appends always produce the compressed form. Appends add a new gzip
// member to the end of the file, so a table written over several flushes
// still reads back as one sequence.
//
// The store does no locking: callers serialize writers per profile.
package profile

import (
	"bufio"
	"compress/gzip"
	"errors"
	"io"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"xmt/internal/fsutil"
)

// RelationsFile is the schema declaration that marks a directory as a profile.
const RelationsFile = "relations"

const gzipExt = ".gz"

// Profile is an open profile directory.
type Profile struct {
	root   string
	schema *Schema
	logger *zap.Logger
}

// Option configures Open and Create.
type Option func(*Profile)

// WithLogger sets the logger used for store operations.
func WithLogger(l *zap.Logger) Option {
	return func(p *Profile) {
		if l != nil {
			p.logger = l
		}
	}
}

// Open loads the profile at path.
func Open(path string, opts ...Option) (*Profile, error) {
	f, err := os.Open(filepath.Join(path, RelationsFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &StorageError{Op: "open", Path: path, Err: ErrNotAProfile}
		}
		return nil, storageErr("open", path, err)
	}
	defer f.Close()

	schema, err := ParseRelations(f)
	if err != nil {
		return nil, storageErr("read relations", path, err)
	}
	p := &Profile{root: path, schema: schema, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Create makes a new profile directory with the given relations and opens it.
func Create(path string, relations []byte, opts ...Option) (*Profile, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, storageErr("create", path, err)
	}
	if err := fsutil.WriteFileAtomic(filepath.Join(path, RelationsFile), relations); err != nil {
		return nil, storageErr("write relations", path, err)
	}
	return Open(path, opts...)
}

// Root returns the profile directory.
func (p *Profile) Root() string { return p.root }

// Schema returns the parsed relations file.
func (p *Profile) Schema() *Schema { return p.schema }

// Exists reports whether a table has a file on disk in either form.
func (p *Profile) Exists(table string) bool {
	_, _, err := p.tableFile(table)
	return err == nil
}

// tableFile finds the file backing a table. The compressed form wins when
// both exist.
func (p *Profile) tableFile(table string) (path string, compressed bool, err error) {
	base := filepath.Join(p.root, table)
	if fileExists(base + gzipExt) {
		return base + gzipExt, true, nil
	}
	if fileExists(base) {
		return base, false, nil
	}
	return "", false, ErrMissingTable
}

func (p *Profile) relation(table string) (*Relation, error) {
	rel, ok := p.schema.Relation(table)
	if !ok {
		return nil, &StorageError{Op: "lookup", Path: filepath.Join(p.root, table), Err: ErrUnknownRelation}
	}
	return rel, nil
}

// ReadTable returns a lazy sequence over a table's rows in file order.
// It fails with ErrMissingTable when the table was never written.
func (p *Profile) ReadTable(table string) (iter.Seq2[Row, error], error) {
	rel, err := p.relation(table)
	if err != nil {
		return nil, err
	}
	path, compressed, err := p.tableFile(table)
	if err != nil {
		return nil, &StorageError{Op: "read", Path: filepath.Join(p.root, table), Err: err}
	}

	return func(yield func(Row, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			yield(nil, storageErr("read", path, err))
			return
		}
		defer f.Close()

		var r io.Reader = f
		if compressed {
			zr, err := gzip.NewReader(f)
			if errors.Is(err, io.EOF) {
				return // empty file
			}
			if err != nil {
				yield(nil, storageErr("read", path, err))
				return
			}
			defer zr.Close()
			r = zr
		}

		br := bufio.NewReader(r)
		for lineNo := 1; ; lineNo++ {
			line, rerr := br.ReadString('\n')
			line = strings.TrimSuffix(line, "\n")
			if line != "" {
				row, err := decodeRow(rel, line)
				if err != nil {
					yield(nil, storageErr("decode", path, lineError(lineNo, err)))
					return
				}
				if !yield(row, nil) {
					return
				}
			}
			if rerr == io.EOF {
				return
			}
			if rerr != nil {
				yield(nil, storageErr("read", path, rerr))
				return
			}
		}
	}, nil
}

// ReadAll collects a whole table. A missing table yields no rows and no error.
func (p *Profile) ReadAll(table string) ([]Row, error) {
	seq, err := p.ReadTable(table)
	if errors.Is(err, ErrMissingTable) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rows []Row
	for row, err := range seq {
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// AppendTable appends rows to a table, creating it if absent. The data is
// synced to disk before AppendTable returns. A plain table is first migrated
// into the compressed form. Appending zero rows still creates the table.
// A failed append leaves the table as it was.
func (p *Profile) AppendTable(table string, rows []Row) error {
	return p.AppendTables(TableRows{Table: table, Rows: rows})
}

// TableRows is one table's share of an AppendTables call.
type TableRows struct {
	Table string
	Rows  []Row
}

// AppendTables appends to several tables in order, as one unit: if any
// append fails, every table is cut back to its length before the call.
func (p *Profile) AppendTables(batch ...TableRows) error {
	rels := make([]*Relation, len(batch))
	for i, b := range batch {
		rel, err := p.relation(b.Table)
		if err != nil {
			return err
		}
		rels[i] = rel
	}
	marks := make([]mark, len(batch))
	for i, b := range batch {
		m, err := p.markTable(b.Table)
		if err != nil {
			return err
		}
		marks[i] = m
	}
	for i, b := range batch {
		if err := p.appendRows(rels[i], marks[i], b.Rows); err != nil {
			return errors.Join(err, p.restore(marks))
		}
		p.logger.Debug("appended rows", zap.String("table", b.Table), zap.Int("rows", len(b.Rows)))
	}
	return nil
}

// mark is the length of a compressed table file before an append.
type mark struct {
	path   string
	size   int64
	exists bool
}

// markTable migrates a plain table and records the compressed file length.
func (p *Profile) markTable(table string) (mark, error) {
	base := filepath.Join(p.root, table)
	gzPath := base + gzipExt
	if fileExists(base) {
		if err := p.migratePlain(base, gzPath); err != nil {
			return mark{}, err
		}
	}
	info, err := os.Stat(gzPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return mark{path: gzPath}, nil
	case err != nil:
		return mark{}, storageErr("stat", gzPath, err)
	}
	return mark{path: gzPath, size: info.Size(), exists: true}, nil
}

// restore truncates every marked file to its recorded length, removing
// files that did not exist. Gzip members are whole or absent afterwards.
func (p *Profile) restore(marks []mark) error {
	var errs []error
	for _, m := range marks {
		var err error
		if m.exists {
			err = os.Truncate(m.path, m.size)
		} else if err = os.Remove(m.path); errors.Is(err, fs.ErrNotExist) {
			err = nil
		}
		if err != nil {
			p.logger.Error("failed to roll back table", zap.String("path", m.path), zap.Error(err))
			errs = append(errs, storageErr("roll back", m.path, err))
			continue
		}
		p.logger.Warn("rolled back table", zap.String("path", m.path), zap.Int64("size", m.size))
	}
	return errors.Join(errs...)
}

// appendRows writes rows as one new gzip member at the end of the file.
func (p *Profile) appendRows(rel *Relation, m mark, rows []Row) error {
	if len(rows) == 0 && m.exists {
		return nil
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return storageErr("append", m.path, err)
	}
	zw := gzip.NewWriter(f)
	bw := bufio.NewWriter(zw)
	for _, row := range rows {
		bw.WriteString(encodeRow(rel, row))
		bw.WriteByte('\n')
	}
	err = bw.Flush()
	if cerr := zw.Close(); err == nil {
		err = cerr
	}
	if serr := f.Sync(); err == nil {
		err = serr
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return storageErr("append", m.path, err)
}

// migratePlain moves a plain table into the compressed file. When a
// compressed file already exists it is authoritative and the plain file is
// dropped.
func (p *Profile) migratePlain(plain, gzPath string) error {
	if fileExists(gzPath) {
		p.logger.Warn("dropping plain table shadowed by compressed copy", zap.String("path", plain))
		return storageErr("remove", plain, os.Remove(plain))
	}
	data, err := os.ReadFile(plain)
	if err != nil {
		return storageErr("read", plain, err)
	}
	var buf strings.Builder
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return storageErr("compress", plain, err)
	}
	if err := zw.Close(); err != nil {
		return storageErr("compress", plain, err)
	}
	if err := fsutil.WriteFileAtomic(gzPath, []byte(buf.String())); err != nil {
		return storageErr("write", gzPath, err)
	}
	return storageErr("remove", plain, os.Remove(plain))
}

// ClearTable removes both on-disk forms of a table.
func (p *Profile) ClearTable(table string) error {
	base := filepath.Join(p.root, table)
	for _, path := range []string{base, base + gzipExt} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return storageErr("clear", path, err)
		}
	}
	p.logger.Debug("cleared table", zap.String("table", table))
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
