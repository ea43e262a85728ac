package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xmt/internal/stage"
)

func lookup(t *testing.T, name string) stage.Descriptor {
	t.Helper()
	d, err := stage.Default().Lookup(name)
	require.NoError(t, err)
	return d
}

// testWorkspace lays out <ws>/default.conf, <ws>/prof and a grammar file.
func testWorkspace(t *testing.T, defaultConf string) (ws, prof, grammar string) {
	t.Helper()
	ws = t.TempDir()
	prof = filepath.Join(ws, "prof")
	require.NoError(t, os.MkdirAll(prof, 0o755))
	grammar = filepath.Join(ws, "erg.dat")
	require.NoError(t, os.WriteFile(grammar, []byte("grammar"), 0o644))
	if defaultConf != "" {
		require.NoError(t, os.WriteFile(filepath.Join(ws, DefaultsFile), []byte(defaultConf), 0o644))
	}
	return ws, prof, grammar
}

// testResolver only takes the executable from builtins so each test sees
// exactly the values its files and flags set.
func testResolver() *Resolver {
	r := NewResolver(nil)
	r.Builtin = map[string]string{KeyExecutable: "ace"}
	r.LookPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }
	return r
}

// =============================================================================
// CASCADE PRECEDENCE
// =============================================================================

func TestResolve_Precedence(t *testing.T) {
	parse := lookup(t, "parse")
	_, prof, grammar := testWorkspace(t, "")
	ws := filepath.Dir(prof)

	writeDefaults := func(body string) {
		require.NoError(t, os.WriteFile(filepath.Join(ws, DefaultsFile), []byte(body), 0o644))
	}
	resolve := func(flags Flags) *StageConfig {
		cfg, err := testResolver().Resolve(parse, prof, flags)
		require.NoError(t, err)
		return cfg
	}

	// workspace default only
	writeDefaults("[DEFAULT]\ngrammar = " + grammar + "\ntimeout-seconds = 10\n")
	assert.Equal(t, 10*time.Second, resolve(nil).Timeout)

	// task override beats workspace default; drop the run.conf the last
	// call persisted so only default.conf is in play
	require.NoError(t, os.Remove(filepath.Join(prof, RunFile)))
	writeDefaults("[DEFAULT]\ngrammar = " + grammar + "\ntimeout-seconds = 10\n\n[parse]\ntimeout-seconds = 20\n")
	assert.Equal(t, 20*time.Second, resolve(nil).Timeout)

	// persisted run config beats task override
	require.NoError(t, os.WriteFile(filepath.Join(prof, RunFile), []byte("[parse]\ntimeout-seconds = 30\n"), 0o644))
	assert.Equal(t, 30*time.Second, resolve(nil).Timeout)

	// invocation flag beats everything, and is persisted
	assert.Equal(t, 40*time.Second, resolve(Flags{KeyTimeout: "40"}).Timeout)
	assert.Equal(t, 40*time.Second, resolve(nil).Timeout)
}

func TestResolve_BuiltinIsLowest(t *testing.T) {
	parse := lookup(t, "parse")
	t.Setenv("XMT_RESULT_LIMIT", "")
	_, prof, grammar := testWorkspace(t, "[DEFAULT]\nresult-limit = 9\n")

	r := NewResolver(nil)
	r.LookPath = func(name string) (string, error) { return name, nil }
	cfg, err := r.Resolve(parse, prof, Flags{KeyGrammar: grammar})
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.ResultLimit, "default.conf beats builtin")
	assert.Equal(t, 1000, cfg.ResultBufferSize, "builtin fills what no file sets")
	assert.Equal(t, 1200, cfg.MaxChartMegabytes)

	run, err := LoadFile(filepath.Join(prof, RunFile))
	require.NoError(t, err)
	assert.False(t, run.Section(DefaultSection).HasKey(KeyBufferSize), "builtins are not persisted")
}

func TestResolve_PersistsRunConfig(t *testing.T) {
	parse := lookup(t, "parse")
	_, prof, grammar := testWorkspace(t, "[DEFAULT]\nresult-limit = 5\n")

	cfg, err := testResolver().Resolve(parse, prof, Flags{KeyGrammar: grammar, KeyResultLimit: "2"})
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.ResultLimit)
	assert.Equal(t, grammar, cfg.Grammar)

	run, err := LoadFile(filepath.Join(prof, RunFile))
	require.NoError(t, err)
	assert.Equal(t, grammar, run.Section("parse").Key(KeyGrammar).String())
	assert.Equal(t, "5", run.Section(DefaultSection).Key(KeyResultLimit).String())

	// the grammar carries forward without the flag
	cfg, err = testResolver().Resolve(parse, prof, nil)
	require.NoError(t, err)
	assert.Equal(t, grammar, cfg.Grammar)
}

func TestSavedFilesCarryDefaultHeader(t *testing.T) {
	ws, prof, grammar := testWorkspace(t, "max-chart-megabytes = 1200\n")

	_, err := testResolver().Resolve(lookup(t, "parse"), prof, Flags{KeyGrammar: grammar})
	require.NoError(t, err)
	run, err := os.ReadFile(filepath.Join(prof, RunFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(run), "[DEFAULT]\n"), "run.conf:\n%s", run)

	require.NoError(t, MergeWorkspaceDefaults(ws, WorkspaceDefaults{Defaults: Flags{KeyResultLimit: "3"}}))
	defaults, err := os.ReadFile(filepath.Join(ws, DefaultsFile))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(defaults), "[DEFAULT]\n"), "default.conf:\n%s", defaults)
	assert.Contains(t, string(defaults), "max-chart-megabytes")
}

func TestResolve_TypedValues(t *testing.T) {
	generate := lookup(t, "generate")
	_, prof, grammar := testWorkspace(t, "[DEFAULT]\nprocessor-executable = ace\nmax-chart-megabytes = 1200\n\n[generate]\nonly-subsuming = yes\nresult-buffer-size = 7\n")

	cfg, err := testResolver().Resolve(generate, prof, Flags{KeyGrammar: grammar})
	require.NoError(t, err)
	assert.Equal(t, "generate", cfg.Stage)
	assert.Equal(t, "ace", cfg.Executable)
	assert.True(t, cfg.OnlySubsuming)
	assert.False(t, cfg.YYMode)
	assert.Equal(t, 7, cfg.ResultBufferSize)
	assert.Equal(t, -1, cfg.ResultLimit, "unset result-limit is unlimited")
	assert.Equal(t, 1200, cfg.MaxChartMegabytes)
}

func TestResolve_IgnoresFlagsForOtherStages(t *testing.T) {
	transfer := lookup(t, "transfer")
	_, prof, grammar := testWorkspace(t, "")

	cfg, err := testResolver().Resolve(transfer, prof, Flags{
		KeyGrammar: grammar,
		KeyYYMode:  "yes",
	})
	require.NoError(t, err)
	assert.False(t, cfg.YYMode)
}

// =============================================================================
// CONFIGURATION ERRORS
// =============================================================================

func TestResolve_MissingGrammar(t *testing.T) {
	parse := lookup(t, "parse")
	_, prof, _ := testWorkspace(t, "[DEFAULT]\ntimeout-seconds = 10\n")

	_, err := testResolver().Resolve(parse, prof, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingGrammar))

	var ce *Error
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, prof, ce.Profile)
	assert.Equal(t, KeyGrammar, ce.Key)

	assert.NoFileExists(t, filepath.Join(prof, RunFile), "a failed resolve must not write run.conf")
}

func TestResolve_GrammarNotFound(t *testing.T) {
	parse := lookup(t, "parse")
	_, prof, _ := testWorkspace(t, "")

	_, err := testResolver().Resolve(parse, prof, Flags{KeyGrammar: "/no/such/grammar.dat"})
	assert.True(t, errors.Is(err, ErrGrammarNotFound))
}

func TestResolve_ExecutableMissing(t *testing.T) {
	parse := lookup(t, "parse")
	_, prof, grammar := testWorkspace(t, "")

	r := NewResolver(nil)
	r.LookPath = func(string) (string, error) { return "", errors.New("not in PATH") }
	_, err := r.Resolve(parse, prof, Flags{KeyGrammar: grammar, KeyExecutable: "ace"})
	assert.True(t, errors.Is(err, ErrExecutableMissing))
}

func TestResolve_InvalidValues(t *testing.T) {
	parse := lookup(t, "parse")
	cases := map[string]string{
		"non-integer limit": "[parse]\nresult-limit = many\n",
		"zero buffer":       "[parse]\nresult-buffer-size = 0\n",
		"bad bool":          "[parse]\nyy-mode = perhaps\n",
		"limit below -1":    "[parse]\nresult-limit = -3\n",
	}
	for name, conf := range cases {
		t.Run(name, func(t *testing.T) {
			_, prof, grammar := testWorkspace(t, conf)
			_, err := testResolver().Resolve(parse, prof, Flags{KeyGrammar: grammar})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidValue))
			var ce *Error
			require.True(t, errors.As(err, &ce))
			assert.Equal(t, prof, ce.Profile)
		})
	}
}

// =============================================================================
// WORKSPACE DEFAULTS
// =============================================================================

func TestMergeWorkspaceDefaults_Merges(t *testing.T) {
	ws := t.TempDir()
	names := stage.Default().Names()

	require.NoError(t, MergeWorkspaceDefaults(ws, WorkspaceDefaults{
		Builtin:    Defaults(),
		Stages:     map[string]Flags{"parse": {KeyGrammar: "erg.dat"}},
		StageNames: names,
	}))
	require.NoError(t, MergeWorkspaceDefaults(ws, WorkspaceDefaults{
		Builtin:    map[string]string{KeyResultLimit: "99"},
		Defaults:   Flags{KeyExecutable: "/opt/ace"},
		Stages:     map[string]Flags{"generate": {KeyGrammar: "jacy.dat"}},
		StageNames: names,
	}))

	file, err := LoadFile(filepath.Join(ws, DefaultsFile))
	require.NoError(t, err)
	def := file.Section(DefaultSection)
	assert.Equal(t, "5", def.Key(KeyResultLimit).String(), "builtin never overwrites")
	assert.Equal(t, "/opt/ace", def.Key(KeyExecutable).String())
	assert.Equal(t, "erg.dat", file.Section("parse").Key(KeyGrammar).String(), "first init survives")
	assert.Equal(t, "jacy.dat", file.Section("generate").Key(KeyGrammar).String())
	for _, name := range names {
		_, err := file.GetSection(name)
		assert.NoError(t, err, name)
	}
}

func TestParseBool(t *testing.T) {
	for _, s := range []string{"yes", "True", "1", "on"} {
		b, err := ParseBool(s)
		require.NoError(t, err)
		assert.True(t, b, s)
	}
	for _, s := range []string{"no", "false", "0", "off", ""} {
		b, err := ParseBool(s)
		require.NoError(t, err)
		assert.False(t, b, s)
	}
	_, err := ParseBool("maybe")
	assert.Error(t, err)
	assert.Equal(t, "yes", FormatBool(true))
	assert.Equal(t, "no", FormatBool(false))
}
