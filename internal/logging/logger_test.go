package logging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestLevelForVerbosity(t *testing.T) {
	assert.Equal(t, zapcore.WarnLevel, LevelForVerbosity(0))
	assert.Equal(t, zapcore.InfoLevel, LevelForVerbosity(1))
	assert.Equal(t, zapcore.DebugLevel, LevelForVerbosity(2))
	assert.Equal(t, zapcore.DebugLevel, LevelForVerbosity(5))
}

func TestNew_Levels(t *testing.T) {
	quiet, err := New(Options{})
	require.NoError(t, err)
	assert.False(t, quiet.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, quiet.Core().Enabled(zapcore.WarnLevel))

	loud, err := New(Options{Verbosity: 2, JSON: true})
	require.NoError(t, err)
	assert.True(t, loud.Core().Enabled(zapcore.DebugLevel))
}

func TestFor_NamesChildLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	For(zap.New(core), CategoryEngine).Info("hello")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "engine", logs.All()[0].LoggerName)

	// nil parent must not panic
	For(nil, CategoryProfile).Info("ignored")
}

func TestCategoryFilter(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	root := zap.New(&categoryFilter{Core: core, disabled: disabledSet(map[string]bool{
		"processor": false,
		"engine":    true,
	})})

	For(root, CategoryProcessor).Info("dropped")
	For(root, CategoryProcessor).Named("stderr").Info("dropped too")
	For(root, CategoryEngine).Info("kept")
	For(root, CategoryEngine).With(zap.String("k", "v")).Info("kept with fields")

	require.Equal(t, 2, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
	assert.Equal(t, "kept with fields", logs.All()[1].Message)
}

func TestTimer(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core)

	elapsed := StartTimer(logger, "flush").Stop()
	assert.GreaterOrEqual(t, elapsed, time.Duration(0))
	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "flush completed", logs.All()[0].Message)

	StartTimer(logger, "slow").StopWithThreshold(-time.Second)
	require.Equal(t, 2, logs.Len())
	assert.Equal(t, zapcore.WarnLevel, logs.All()[1].Level)
}
