package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"sort"

	"go.uber.org/zap"
	"gopkg.in/ini.v1"

	"xmt/internal/fsutil"
	"xmt/internal/stage"
)

func init() {
	// run.conf and default.conf must carry an explicit [DEFAULT] header
	ini.DefaultHeader = true
}

var loadOptions = ini.LoadOptions{
	Loose:               true,
	IgnoreInlineComment: true,
}

// Resolver builds effective stage configurations.
// A profile's workspace is its parent directory.
type Resolver struct {
	// LookPath locates the processor executable; exec.LookPath when nil.
	LookPath func(string) (string, error)

	// Builtin sits below every file layer. NewResolver fills it with
	// Defaults adjusted by the environment.
	Builtin map[string]string

	logger *zap.Logger
}

// NewResolver creates a Resolver.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	builtin := Defaults()
	ApplyEnvOverrides(builtin)
	return &Resolver{Builtin: builtin, logger: logger}
}

func workspaceFor(profileDir string) string {
	return filepath.Dir(filepath.Clean(profileDir))
}

// Resolve merges the layers for (desc, profileDir), validates the
// result and persists it to the profile's run.conf. Nothing is written when
// validation fails.
func (r *Resolver) Resolve(desc stage.Descriptor, profileDir string, flags Flags) (*StageConfig, error) {
	defaultsPath := filepath.Join(workspaceFor(profileDir), DefaultsFile)
	runPath := filepath.Join(profileDir, RunFile)

	file, err := ini.LoadSources(loadOptions, defaultsPath, runPath)
	if err != nil {
		return nil, &Error{Profile: profileDir, Err: err}
	}

	sec := file.Section(desc.Name)
	for _, key := range sortedKeys(flags) {
		if !AppliesTo(desc, key) {
			r.logger.Debug("ignoring option for stage", zap.String("stage", desc.Name), zap.String("key", key))
			continue
		}
		sec.Key(key).SetValue(flags[key])
	}

	values := effective(r.Builtin, file, desc.Name)
	cfg, err := newStageConfig(desc.Name, values)
	if err != nil {
		var ce *Error
		if errors.As(err, &ce) {
			ce.Profile = profileDir
		}
		return nil, err
	}
	if err := r.validate(cfg, profileDir); err != nil {
		return nil, err
	}

	if err := saveFile(file, runPath); err != nil {
		return nil, fmt.Errorf("persist %s: %w", runPath, err)
	}
	r.logger.Debug("resolved configuration",
		zap.String("stage", desc.Name),
		zap.String("profile", profileDir),
		zap.Any("values", values))
	return cfg, nil
}

func (r *Resolver) validate(cfg *StageConfig, profileDir string) error {
	if cfg.Grammar == "" {
		return &Error{Profile: profileDir, Key: KeyGrammar, Err: ErrMissingGrammar}
	}
	if _, err := os.Stat(cfg.Grammar); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &Error{Profile: profileDir, Key: KeyGrammar, Err: fmt.Errorf("%w: %s", ErrGrammarNotFound, cfg.Grammar)}
		}
		return &Error{Profile: profileDir, Key: KeyGrammar, Err: err}
	}
	lookPath := r.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if cfg.Executable == "" {
		return &Error{Profile: profileDir, Key: KeyExecutable, Err: ErrExecutableMissing}
	}
	if _, err := lookPath(cfg.Executable); err != nil {
		return &Error{Profile: profileDir, Key: KeyExecutable, Err: fmt.Errorf("%w: %v", ErrExecutableMissing, err)}
	}
	return nil
}

// effective flattens builtin, then [DEFAULT], then the stage section.
func effective(builtin map[string]string, file *ini.File, section string) map[string]string {
	out := make(map[string]string, len(builtin))
	for k, v := range builtin {
		out[k] = v
	}
	for _, k := range file.Section(DefaultSection).Keys() {
		out[k.Name()] = k.Value()
	}
	if sec, err := file.GetSection(section); err == nil {
		for _, k := range sec.Keys() {
			out[k.Name()] = k.Value()
		}
	}
	return out
}

// WorkspaceDefaults describes the changes an init makes to default.conf.
type WorkspaceDefaults struct {
	// Builtin values only fill keys missing from [DEFAULT].
	Builtin map[string]string
	// Defaults override [DEFAULT] keys.
	Defaults Flags
	// Stages override keys of the named stage sections.
	Stages map[string]Flags
	// StageNames get a section each, even without overrides.
	StageNames []string
}

// MergeWorkspaceDefaults creates or updates <dir>/default.conf. The file is
// merged, never replaced: keys written by earlier inits survive unless
// overridden explicitly.
func MergeWorkspaceDefaults(dir string, wd WorkspaceDefaults) error {
	path := filepath.Join(dir, DefaultsFile)
	file, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return &Error{Err: fmt.Errorf("load %s: %w", path, err)}
	}

	def := file.Section(DefaultSection)
	for _, key := range sortedKeys(wd.Builtin) {
		if !def.HasKey(key) {
			def.Key(key).SetValue(wd.Builtin[key])
		}
	}
	for _, key := range sortedKeys(wd.Defaults) {
		def.Key(key).SetValue(wd.Defaults[key])
	}
	for _, name := range wd.StageNames {
		sec, err := file.NewSection(name)
		if err != nil {
			return &Error{Err: err}
		}
		flags := wd.Stages[name]
		for _, key := range sortedKeys(flags) {
			sec.Key(key).SetValue(flags[key])
		}
	}
	return saveFile(file, path)
}

// LoadFile reads a configuration file without merging.
func LoadFile(path string) (*ini.File, error) {
	return ini.LoadSources(loadOptions, path)
}

func saveFile(file *ini.File, path string) error {
	var buf bytes.Buffer
	if _, err := file.WriteTo(&buf); err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, buf.Bytes())
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
