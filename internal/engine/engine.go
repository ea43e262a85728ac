// Package engine runs pipeline stages over profiles.
//
// Every stage shares one routine, parameterized by its stage.Descriptor:
//
//	RESOLVE -> CLEAR -> ACQUIRE -> ITERATE (flushing in batches) -> FLUSH
//
// with RELEASE of the processor deferred across the whole run. Within a
// profile rows are handled strictly in table order; separate profiles are
// independent and may run in parallel (see Run).
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"xmt/internal/config"
	"xmt/internal/logging"
	"xmt/internal/processor"
	"xmt/internal/profile"
	"xmt/internal/stage"
)

// defaultTimeoutGrace is added to the processor's own timeout so that a
// processor honoring --timeout still reports before the adapter gives up.
const defaultTimeoutGrace = 5 * time.Second

// Engine executes stages. It holds no per-run state and is safe for
// concurrent use across profiles.
type Engine struct {
	registry     *stage.Registry
	resolver     *config.Resolver
	launcher     processor.Launcher
	score        processor.ScoreFunc
	logger       *zap.Logger
	recorder     Recorder
	timeoutGrace time.Duration
	closeGrace   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithRegistry replaces the built-in stage registry.
func WithRegistry(r *stage.Registry) Option { return func(e *Engine) { e.registry = r } }

// WithResolver replaces the configuration resolver.
func WithResolver(r *config.Resolver) Option { return func(e *Engine) { e.resolver = r } }

// WithLauncher replaces the subprocess launcher.
func WithLauncher(l processor.Launcher) Option { return func(e *Engine) { e.launcher = l } }

// WithScore replaces the score extraction strategy.
func WithScore(f processor.ScoreFunc) Option { return func(e *Engine) { e.score = f } }

// WithLogger sets the parent logger.
func WithLogger(l *zap.Logger) Option { return func(e *Engine) { e.logger = l } }

// WithRecorder sets where finished profile outcomes are recorded.
func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

// WithTimeoutGrace sets the slack between the configured timeout and the
// adapter deadline.
func WithTimeoutGrace(d time.Duration) Option { return func(e *Engine) { e.timeoutGrace = d } }

// WithCloseGrace sets how long RELEASE waits for the processor to exit.
func WithCloseGrace(d time.Duration) Option { return func(e *Engine) { e.closeGrace = d } }

// New creates an Engine.
func New(opts ...Option) *Engine {
	e := &Engine{
		registry:     stage.Default(),
		launcher:     processor.ExecLauncher,
		score:        processor.DefaultScore,
		timeoutGrace: defaultTimeoutGrace,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if e.resolver == nil {
		e.resolver = config.NewResolver(logging.For(e.logger, logging.CategoryConfig))
	}
	return e
}

// Summary describes one completed stage run on one profile.
type Summary struct {
	Stage     string
	Profile   string
	Inputs    int
	Results   int
	Flushes   int
	TimedOut  int
	Malformed int
	Duration  time.Duration
}

// ProfileError is a fatal error for one profile's stage run.
type ProfileError struct {
	Stage   string
	Profile string
	Err     error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Profile, e.Err)
}

func (e *ProfileError) Unwrap() error { return e.Err }

// RunProfile runs one stage on one profile.
//
// Configuration and schema problems are reported before anything on disk
// changes. After CLEAR, a fatal error leaves the output tables holding the
// rows of every flushed batch and nothing else.
func (e *Engine) RunProfile(ctx context.Context, desc stage.Descriptor, path string, flags config.Flags) (*Summary, error) {
	fail := func(err error) error {
		return &ProfileError{Stage: desc.Name, Profile: path, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return nil, fail(err)
	}
	logger := logging.For(e.logger, logging.CategoryEngine).With(
		zap.String("stage", desc.Name), zap.String("profile", path))
	timer := logging.StartTimer(logger, desc.Name)

	prof, err := profile.Open(path, profile.WithLogger(logging.For(e.logger, logging.CategoryProfile)))
	if err != nil {
		return nil, fail(err)
	}
	for _, table := range []string{desc.InfoTable(), desc.ResultTable()} {
		if _, ok := prof.Schema().Relation(table); !ok {
			return nil, fail(fmt.Errorf("%w: %s", profile.ErrUnknownRelation, table))
		}
	}

	// RESOLVE
	cfg, err := e.resolver.Resolve(desc, path, flags)
	if err != nil {
		return nil, fail(err)
	}

	// CLEAR
	for _, table := range []string{desc.InfoTable(), desc.ResultTable()} {
		if err := prof.ClearTable(table); err != nil {
			return nil, fail(err)
		}
	}

	r := &run{
		desc:    desc,
		cfg:     cfg,
		prof:    prof,
		score:   e.score,
		logger:  logger,
		summary: &Summary{Stage: desc.Name, Profile: path},
	}

	rows, err := prof.ReadTable(desc.Input.Table)
	switch {
	case errors.Is(err, profile.ErrMissingTable):
		logger.Warn("input table is missing; writing empty outputs", zap.String("table", desc.Input.Table))
	case err != nil:
		return nil, fail(err)
	default:
		// ACQUIRE
		proc, err := e.launcher.Launch(ctx, e.processorOptions(desc, cfg, path))
		if err != nil {
			return nil, fail(fmt.Errorf("acquire processor: %w", err))
		}
		// RELEASE
		defer func() {
			if cerr := proc.Close(); cerr != nil {
				logger.Warn("releasing processor", zap.Error(cerr))
			}
		}()

		// ITERATE
		for row, err := range rows {
			if err != nil {
				return nil, fail(err)
			}
			if err := r.process(ctx, proc, row); err != nil {
				return nil, fail(err)
			}
		}
	}

	// FLUSH
	if err := r.flush(); err != nil {
		return nil, fail(err)
	}
	r.summary.Duration = timer.Stop()
	logger.Info("stage complete",
		zap.Int("inputs", r.summary.Inputs),
		zap.Int("results", r.summary.Results),
		zap.Int("timed_out", r.summary.TimedOut),
		zap.Int("malformed", r.summary.Malformed))
	return r.summary, nil
}

func (e *Engine) processorOptions(desc stage.Descriptor, cfg *config.StageConfig, dir string) processor.Options {
	opts := processor.Options{
		Executable: cfg.Executable,
		Grammar:    cfg.Grammar,
		Flags:      processorFlags(desc, cfg),
		CloseGrace: e.closeGrace,
		Dir:        dir,
		Logger:     logging.For(e.logger, logging.CategoryProcessor).With(zap.String("profile", dir)),
	}
	if cfg.Timeout > 0 {
		opts.Timeout = cfg.Timeout + e.timeoutGrace
	}
	return opts
}

// run holds the buffers of one stage run.
type run struct {
	desc   stage.Descriptor
	cfg    *config.StageConfig
	prof   *profile.Profile
	score  processor.ScoreFunc
	logger *zap.Logger

	infoRows   []profile.Row
	resultRows []profile.Row
	summary    *Summary
}

func (r *run) process(ctx context.Context, proc processor.Processor, row profile.Row) error {
	keys := row.Project(r.desc.Keys...)
	input := row.String(r.desc.Input.Column)
	r.logger.Debug("process", zap.Any("keys", keys), zap.String("input", input))

	resp, err := proc.Interact(ctx, input)
	if err != nil {
		return err
	}
	r.summary.Inputs++
	switch resp.Status {
	case processor.StatusTimedOut:
		r.summary.TimedOut++
	case processor.StatusMalformed:
		r.summary.Malformed++
		r.logger.Warn("recording no results for malformed response",
			zap.Any("keys", keys), zap.String("warning", resp.Warning))
	}

	info := withKeys(keys)
	info["time"] = resp.CPUTime
	info["memory"] = resp.Memory
	r.infoRows = append(r.infoRows, info)

	results := resp.Results
	if limit := r.cfg.ResultLimit; limit >= 0 && len(results) > limit {
		results = results[:limit]
	}
	for i, res := range results {
		out := withKeys(keys)
		for _, col := range r.desc.Outputs {
			out[col] = res.Get(col)
		}
		out[r.desc.IDColumn()] = i
		out["score"] = r.score(res)
		r.resultRows = append(r.resultRows, out)
	}
	r.summary.Results += len(results)
	r.logger.Debug("processed", zap.Int("results", len(results)), zap.Stringer("status", resp.Status))

	if len(r.resultRows) >= r.cfg.ResultBufferSize {
		return r.flush()
	}
	return nil
}

// flush appends both buffers as one unit and resets them. A failed flush
// leaves both tables at the previous flush.
func (r *run) flush() error {
	err := r.prof.AppendTables(
		profile.TableRows{Table: r.desc.InfoTable(), Rows: r.infoRows},
		profile.TableRows{Table: r.desc.ResultTable(), Rows: r.resultRows},
	)
	if err != nil {
		return err
	}
	r.logger.Debug("flushed",
		zap.Int("info_rows", len(r.infoRows)),
		zap.Int("result_rows", len(r.resultRows)))
	r.infoRows = nil
	r.resultRows = nil
	r.summary.Flushes++
	return nil
}

func withKeys(keys profile.Row) profile.Row {
	out := make(profile.Row, len(keys)+4)
	for k, v := range keys {
		out[k] = v
	}
	return out
}
