package engine

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"xmt/internal/config"
	"xmt/internal/logging"
)

// Outcome is the result of one profile in a multi-profile run. Exactly one
// of Summary and Err is set.
type Outcome struct {
	Profile string
	Summary *Summary
	Err     error
}

// Record is one profile outcome as handed to a Recorder.
type Record struct {
	RunID   string
	Stage   string
	Started time.Time
	Outcome
}

// Recorder keeps a history of profile outcomes. Recording failures are
// logged and never fail the run.
type Recorder interface {
	Record(ctx context.Context, rec Record) error
}

// Run executes a stage over several profiles, at most jobs at a time. A
// fatal error in one profile never stops the others. Outcomes are returned
// in the order of profiles; the error joins every failed profile's error.
// Paths naming the same directory run once, under the first spelling.
func (e *Engine) Run(ctx context.Context, stageName string, profiles []string, flags config.Flags, jobs int) ([]Outcome, error) {
	desc, err := e.registry.Lookup(stageName)
	if err != nil {
		return nil, err
	}
	if jobs < 1 {
		jobs = 1
	}

	runID := uuid.NewString()
	child := *e
	child.logger = e.logger.With(zap.String("run_id", runID))
	profiles = uniqueProfiles(profiles, child.logger)
	child.logger.Info("starting run",
		zap.String("stage", desc.Name),
		zap.Int("profiles", len(profiles)),
		zap.Int("jobs", jobs))

	timer := logging.StartTimer(child.logger, desc.Name+" run")
	defer timer.StopWithInfo()

	width := len(strconv.Itoa(len(profiles)))
	outcomes := make([]Outcome, len(profiles))

	var g errgroup.Group
	g.SetLimit(jobs)
	for i, path := range profiles {
		outcomes[i].Profile = path
		g.Go(func() error {
			child.logger.Sugar().Infof("%s %*d/%d %s", desc.Title(), width, i+1, len(profiles), path)
			started := time.Now()
			summary, err := child.RunProfile(ctx, desc, path, flags)
			if err != nil {
				child.logger.Error("profile failed", zap.String("profile", path), zap.Error(err))
				outcomes[i].Err = err
			} else {
				outcomes[i].Summary = summary
			}
			child.record(ctx, Record{RunID: runID, Stage: desc.Name, Started: started, Outcome: outcomes[i]})
			return nil
		})
	}
	_ = g.Wait()

	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, o.Err)
		}
	}
	return outcomes, errors.Join(errs...)
}

// uniqueProfiles cleans paths and drops repeats. Two workers must never
// share a profile.
func uniqueProfiles(paths []string, logger *zap.Logger) []string {
	seen := make(map[string]bool, len(paths))
	out := make([]string, 0, len(paths))
	for _, path := range paths {
		path = filepath.Clean(path)
		key := path
		if abs, err := filepath.Abs(path); err == nil {
			key = abs
		}
		if resolved, err := filepath.EvalSymlinks(key); err == nil {
			key = resolved
		}
		if seen[key] {
			logger.Warn("skipping repeated profile", zap.String("profile", path))
			continue
		}
		seen[key] = true
		out = append(out, path)
	}
	return out
}

func (e *Engine) record(ctx context.Context, rec Record) {
	if e.recorder == nil {
		return
	}
	// the profile's own context may be canceled; history is still wanted
	if err := e.recorder.Record(context.WithoutCancel(ctx), rec); err != nil {
		e.logger.Warn("failed to record outcome", zap.String("profile", rec.Profile), zap.Error(err))
	}
}
