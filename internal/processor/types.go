// Package processor wraps one external grammar processor behind a
// request/response contract.
//
// A Processor is a scoped resource: acquire it with a Launcher, call
// Interact once per input, and always Close it. Row-level problems
// (timeouts, unparseable responses) come back as a degraded Response;
// only a dead or unreachable process is reported as an error.
package processor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Unknown marks a diagnostic the processor did not report.
const Unknown = -1

var (
	// ErrCrashed means the process exited or its pipes broke. It is fatal
	// for the run that owns the processor.
	ErrCrashed = errors.New("processor crashed")

	// ErrClosed is returned by Interact after Close.
	ErrClosed = errors.New("processor closed")
)

// Status classifies a response.
type Status int

const (
	StatusOK Status = iota
	StatusTimedOut
	StatusMalformed
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimedOut:
		return "timed-out"
	case StatusMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Flag is one named attribute attached to a result.
type Flag struct {
	Name  string
	Value string
}

// Result is one ranked candidate.
type Result struct {
	Fields map[string]string
	Flags  []Flag
}

// Get returns a named field, or "" when absent.
func (r Result) Get(name string) string {
	return r.Fields[name]
}

// Flag returns the value of a named flag.
func (r Result) Flag(name string) (string, bool) {
	for _, f := range r.Flags {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Response is the processor's answer to one input, results in rank order.
type Response struct {
	Results []Result

	// CPUTime is in milliseconds, Memory in bytes; Unknown when not reported.
	CPUTime int64
	Memory  int64

	Status Status
	// Warning describes a degraded response or a processor-reported error.
	Warning string
}

func degraded(status Status, warning string) *Response {
	return &Response{CPUTime: Unknown, Memory: Unknown, Status: status, Warning: warning}
}

// Processor is one live external process.
type Processor interface {
	// Interact sends one input and waits for its response or the timeout.
	Interact(ctx context.Context, input string) (*Response, error)

	// Close terminates the process. It is safe to call more than once.
	Close() error
}

// Options configures a processor launch.
type Options struct {
	Executable string
	Grammar    string
	// Flags follow "-g <grammar>" on the command line.
	Flags []string

	// Timeout bounds each Interact; zero waits indefinitely.
	Timeout time.Duration

	// CloseGrace is how long Close waits for a clean exit before killing.
	CloseGrace time.Duration

	// Dir is the working directory of the process.
	Dir string

	Logger *zap.Logger
}

// Args returns the command-line arguments for the process.
func (o Options) Args() []string {
	args := []string{"-g", o.Grammar}
	return append(args, o.Flags...)
}

// Launcher acquires processors.
type Launcher interface {
	Launch(ctx context.Context, opts Options) (Processor, error)
}

// LauncherFunc adapts a function to Launcher.
type LauncherFunc func(ctx context.Context, opts Options) (Processor, error)

// Launch calls f.
func (f LauncherFunc) Launch(ctx context.Context, opts Options) (Processor, error) {
	return f(ctx, opts)
}

// ExecLauncher starts real subprocesses.
var ExecLauncher Launcher = LauncherFunc(func(ctx context.Context, opts Options) (Processor, error) {
	p, err := Start(ctx, opts)
	if err != nil {
		return nil, err
	}
	return p, nil
})
