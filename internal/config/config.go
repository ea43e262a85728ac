// Package config resolves the configuration applied to one stage run.
//
// Layers are merged, lowest precedence first:
//
//  0. built-in defaults    (Defaults, adjusted by XMT_* environment variables)
//  1. workspace defaults   ([DEFAULT] in <workspace>/default.conf)
//  2. task overrides       ([<stage>] in <workspace>/default.conf)
//  3. persisted run config (<profile>/run.conf, written by the previous run)
//  4. invocation flags     (explicitly set command-line flags)
//
// Layers 1 to 4 are written back to run.conf so later runs inherit the
// choices made here. Built-in values are never persisted.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Recognized configuration keys.
const (
	KeyExecutable    = "processor-executable"
	KeyGrammar       = "grammar"
	KeyResultLimit   = "result-limit"
	KeyTimeout       = "timeout-seconds"
	KeyMaxChart      = "max-chart-megabytes"
	KeyMaxUnpack     = "max-unpack-megabytes"
	KeyOnlySubsuming = "only-subsuming"
	KeyYYMode        = "yy-mode"
	KeyBufferSize    = "result-buffer-size"
)

const (
	// DefaultsFile holds workspace defaults and task overrides.
	DefaultsFile = "default.conf"
	// RunFile holds the merged configuration of a profile's last run.
	RunFile = "run.conf"
	// DefaultSection is the section every stage section inherits from.
	DefaultSection = "DEFAULT"
)

var (
	ErrMissingGrammar    = errors.New("no grammar configured")
	ErrGrammarNotFound   = errors.New("grammar not found")
	ErrExecutableMissing = errors.New("processor executable not found")
	ErrInvalidValue      = errors.New("invalid value")
)

// Error is a configuration error. It is raised before any process is
// spawned or any table is touched.
type Error struct {
	Profile string
	Key     string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Profile != "" && e.Key != "":
		return fmt.Sprintf("configuration error for %s (%s): %v", e.Profile, e.Key, e.Err)
	case e.Profile != "":
		return fmt.Sprintf("configuration error for %s: %v", e.Profile, e.Err)
	default:
		return fmt.Sprintf("configuration error: %v", e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Flags holds explicitly set invocation options keyed by configuration key.
type Flags map[string]string

// StageConfig is the effective configuration of one stage run.
type StageConfig struct {
	Stage              string
	Executable         string
	Grammar            string
	ResultLimit        int // -1 means unlimited
	Timeout            time.Duration
	MaxChartMegabytes  int
	MaxUnpackMegabytes int
	OnlySubsuming      bool
	YYMode             bool
	ResultBufferSize   int
}

func newStageConfig(stageName string, values map[string]string) (*StageConfig, error) {
	c := &StageConfig{
		Stage:       stageName,
		Executable:  strings.TrimSpace(values[KeyExecutable]),
		Grammar:     expandHome(strings.TrimSpace(values[KeyGrammar])),
		ResultLimit: -1,
	}

	var err error
	if c.ResultLimit, err = intValue(values, KeyResultLimit, -1); err != nil {
		return nil, err
	}
	seconds, err := intValue(values, KeyTimeout, 0)
	if err != nil {
		return nil, err
	}
	c.Timeout = time.Duration(seconds) * time.Second
	if c.MaxChartMegabytes, err = intValue(values, KeyMaxChart, 0); err != nil {
		return nil, err
	}
	if c.MaxUnpackMegabytes, err = intValue(values, KeyMaxUnpack, 0); err != nil {
		return nil, err
	}
	if c.OnlySubsuming, err = boolValue(values, KeyOnlySubsuming); err != nil {
		return nil, err
	}
	if c.YYMode, err = boolValue(values, KeyYYMode); err != nil {
		return nil, err
	}
	if c.ResultBufferSize, err = intValue(values, KeyBufferSize, defaultBufferSize); err != nil {
		return nil, err
	}
	if c.ResultBufferSize < 1 {
		return nil, &Error{Key: KeyBufferSize, Err: fmt.Errorf("%w: must be at least 1", ErrInvalidValue)}
	}
	if c.ResultLimit < -1 {
		return nil, &Error{Key: KeyResultLimit, Err: fmt.Errorf("%w: must be -1 or more", ErrInvalidValue)}
	}
	return c, nil
}

func intValue(values map[string]string, key string, fallback int) (int, error) {
	raw, ok := values[key]
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, &Error{Key: key, Err: fmt.Errorf("%w: %q is not an integer", ErrInvalidValue, raw)}
	}
	return n, nil
}

func boolValue(values map[string]string, key string) (bool, error) {
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	b, err := ParseBool(raw)
	if err != nil {
		return false, &Error{Key: key, Err: err}
	}
	return b, nil
}

// ParseBool accepts the spellings INI files commonly use.
func ParseBool(raw string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "yes", "true", "on":
		return true, nil
	case "0", "no", "false", "off", "":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q is not a boolean", ErrInvalidValue, raw)
}

// FormatBool renders a boolean the way configuration files store it.
func FormatBool(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
