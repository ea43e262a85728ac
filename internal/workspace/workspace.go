// Package workspace creates workspaces and imports item sets into them as
// profiles.
package workspace

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/unicode/norm"

	"xmt/internal/config"
	"xmt/internal/profile"
	"xmt/internal/stage"
)

// ErrInvalidItem is returned for item sources that are neither a bitext
// file nor a profile.
var ErrInvalidItem = errors.New("invalid item source")

// Options describes one init.
type Options struct {
	// Defaults set [DEFAULT] keys of default.conf.
	Defaults config.Flags

	// Stages set keys of the named stage sections.
	Stages map[string]config.Flags

	// Items are bitext files or existing profiles to import.
	Items []string

	// Builtin fills keys missing from [DEFAULT]; config.Defaults when nil.
	Builtin map[string]string

	Registry *stage.Registry
	Logger   *zap.Logger
}

// Init creates or updates the workspace at dir and imports each item as a
// new profile. Items are read before anything is written, so a bad item
// leaves the workspace untouched. It returns the new profile paths.
func Init(dir string, opts Options) ([]string, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := opts.Registry
	if reg == nil {
		reg = stage.Default()
	}
	for name := range opts.Stages {
		if _, err := reg.Lookup(name); err != nil {
			return nil, err
		}
	}
	builtin := opts.Builtin
	if builtin == nil {
		builtin = config.Defaults()
		config.ApplyEnvOverrides(builtin)
	}

	imports := make([][]profile.Row, len(opts.Items))
	for i, item := range opts.Items {
		rows, err := ItemRows(item)
		if err != nil {
			return nil, err
		}
		imports[i] = rows
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	err := config.MergeWorkspaceDefaults(dir, config.WorkspaceDefaults{
		Builtin:    builtin,
		Defaults:   opts.Defaults,
		Stages:     opts.Stages,
		StageNames: reg.Names(),
	})
	if err != nil {
		return nil, err
	}
	logger.Info("workspace ready", zap.String("dir", dir))

	var created []string
	for i, item := range opts.Items {
		path, err := uniquePath(dir, filepath.Base(filepath.Clean(item)))
		if err != nil {
			return created, err
		}
		p, err := profile.Create(path, stage.Relations(), profile.WithLogger(logger))
		if err != nil {
			return created, err
		}
		if err := p.AppendTable("item", imports[i]); err != nil {
			return created, err
		}
		logger.Info("imported items",
			zap.String("source", item),
			zap.String("profile", path),
			zap.Int("items", len(imports[i])))
		created = append(created, path)
	}
	return created, nil
}

// ItemRows reads the item rows of a bitext file or an existing profile.
func ItemRows(item string) ([]profile.Row, error) {
	info, err := os.Stat(item)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s does not exist", ErrInvalidItem, item)
		}
		return nil, err
	}
	if info.IsDir() {
		return profileRows(item)
	}
	return bitextRows(item)
}

func makeRow(id int64, input, translation string) profile.Row {
	input = normalize(input)
	return profile.Row{
		"i-id":          id,
		"i-input":       input,
		"i-length":      len(strings.Fields(input)),
		"i-translation": normalize(translation),
	}
}

func normalize(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// bitextRows reads "source<TAB>target" lines. Item ids are (line+1)*10,
// counting lines from zero, so blank lines leave gaps.
func bitextRows(path string) ([]profile.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []profile.Row
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for i := 0; sc.Scan(); i++ {
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		src, tgt, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fmt.Errorf("%w: %s:%d: expected source<TAB>target", ErrInvalidItem, path, i+1)
		}
		rows = append(rows, makeRow(int64(i+1)*10, src, tgt))
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

// profileRows takes items from an existing profile. When the profile has
// system output, that output becomes the translation.
func profileRows(path string) ([]profile.Row, error) {
	p, err := profile.Open(path)
	if err != nil {
		if errors.Is(err, profile.ErrNotAProfile) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidItem, err)
		}
		return nil, err
	}

	if hasRows(p, "output") {
		seq, err := p.Join("item", "output")
		if err != nil {
			return nil, err
		}
		var rows []profile.Row
		for row, err := range seq {
			if err != nil {
				return nil, err
			}
			rows = append(rows, makeRow(row.Int("item:i-id"), row.String("item:i-input"), row.String("output:o-surface")))
		}
		return rows, nil
	}

	items, err := p.ReadAll("item")
	if err != nil {
		return nil, err
	}
	rows := make([]profile.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, makeRow(it.Int("i-id"), it.String("i-input"), it.String("i-translation")))
	}
	return rows, nil
}

func hasRows(p *profile.Profile, table string) bool {
	if _, ok := p.Schema().Relation(table); !ok || !p.Exists(table) {
		return false
	}
	seq, err := p.ReadTable(table)
	if err != nil {
		return false
	}
	for _, err := range seq {
		return err == nil
	}
	return false
}

// uniquePath returns dir/base, or dir/base.1, dir/base.2, ... when taken.
func uniquePath(dir, base string) (string, error) {
	path := filepath.Join(dir, base)
	for i := 1; ; i++ {
		_, err := os.Stat(path)
		if errors.Is(err, fs.ErrNotExist) {
			return path, nil
		}
		if err != nil {
			return "", err
		}
		path = filepath.Join(dir, base+"."+strconv.Itoa(i))
	}
}
