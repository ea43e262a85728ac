package processor

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	defaultCloseGrace = 5 * time.Second
	stderrTailBytes   = 4096
)

// Process drives one external processor over its standard streams: one
// input per line on stdin, one response per blank-line-terminated block on
// stdout.
type Process struct {
	opts   Options
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	logger *zap.Logger

	responses chan string
	quit      chan struct{}
	readers   sync.WaitGroup
	readErr   error // set before responses is closed

	stderr *tailBuffer

	// mu serializes Interact; stale counts responses still owed for inputs
	// that timed out.
	mu     sync.Mutex
	stale  int
	closed bool

	closeOnce sync.Once
	closeErr  error
}

var _ Processor = (*Process)(nil)

// Start launches the processor described by opts.
func Start(ctx context.Context, opts Options) (*Process, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = defaultCloseGrace
	}

	cmd := exec.Command(opts.Executable, opts.Args()...)
	cmd.Dir = opts.Dir
	setupProcessGroup(cmd)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	logger.Debug("starting processor",
		zap.String("executable", opts.Executable),
		zap.Strings("args", opts.Args()))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", opts.Executable, err)
	}

	p := &Process{
		opts:      opts,
		cmd:       cmd,
		stdin:     stdin,
		logger:    logger.With(zap.Int("pid", cmd.Process.Pid)),
		responses: make(chan string),
		quit:      make(chan struct{}),
		stderr:    &tailBuffer{max: stderrTailBytes},
	}
	p.readers.Add(2)
	go p.readResponses(stdout)
	go p.drainStderr(stderr)
	return p, nil
}

// Interact implements Processor.
func (p *Process) Interact(ctx context.Context, input string) (*Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrClosed
	}

	line := strings.ReplaceAll(strings.ReplaceAll(input, "\r", " "), "\n", " ")
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return nil, p.crashed(fmt.Errorf("write input: %w", err))
	}

	var deadline <-chan time.Time
	if p.opts.Timeout > 0 {
		timer := time.NewTimer(p.opts.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	for {
		select {
		case block, ok := <-p.responses:
			if !ok {
				return nil, p.crashed(p.readErr)
			}
			if p.stale > 0 {
				p.stale--
				p.logger.Debug("discarded late response", zap.Int("still_owed", p.stale))
				continue
			}
			resp := decodeBlock(block)
			if resp.Status == StatusMalformed {
				p.logger.Warn("malformed processor response", zap.String("warning", resp.Warning))
			}
			return resp, nil
		case <-deadline:
			p.stale++
			p.logger.Warn("processor timed out",
				zap.Duration("timeout", p.opts.Timeout),
				zap.String("input", preview(input)))
			return degraded(StatusTimedOut, fmt.Sprintf("timed out after %s", p.opts.Timeout)), nil
		case <-ctx.Done():
			// the response to this input may still arrive
			p.stale++
			return nil, ctx.Err()
		}
	}
}

func (p *Process) crashed(cause error) error {
	msg := strings.TrimSpace(p.stderr.String())
	switch {
	case cause != nil && msg != "":
		return fmt.Errorf("%w: %v: %s", ErrCrashed, cause, msg)
	case cause != nil:
		return fmt.Errorf("%w: %v", ErrCrashed, cause)
	case msg != "":
		return fmt.Errorf("%w: %s", ErrCrashed, msg)
	default:
		return ErrCrashed
	}
}

// Close implements Processor. Closing stdin asks the processor to exit; it
// is killed if it has not done so within the close grace.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()

		close(p.quit)
		_ = p.stdin.Close()

		done := make(chan struct{})
		go func() {
			p.readers.Wait()
			close(done)
		}()

		killed := false
		grace := time.NewTimer(p.opts.CloseGrace)
		select {
		case <-done:
			grace.Stop()
		case <-grace.C:
			p.logger.Warn("processor did not exit, killing", zap.Duration("grace", p.opts.CloseGrace))
			killProcessGroup(p.cmd)
			killed = true
			<-done
		}

		err := p.cmd.Wait()
		var exitErr *exec.ExitError
		switch {
		case err == nil:
		case killed || errors.As(err, &exitErr):
			p.logger.Debug("processor exited", zap.Error(err))
		default:
			p.closeErr = fmt.Errorf("wait for processor: %w", err)
		}
		p.logger.Debug("processor released")
	})
	return p.closeErr
}

func (p *Process) readResponses(stdout io.Reader) {
	defer p.readers.Done()
	defer close(p.responses)

	r := bufio.NewReaderSize(stdout, 64*1024)
	var block strings.Builder
	for {
		line, err := r.ReadString('\n')
		if blank := line != "" && strings.TrimSpace(line) == ""; blank {
			if block.Len() > 0 {
				select {
				case p.responses <- block.String():
				case <-p.quit:
					return
				}
				block.Reset()
			}
		} else {
			block.WriteString(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.readErr = err
			} else if block.Len() > 0 {
				p.readErr = errors.New("output ended inside a response")
			} else {
				p.readErr = errors.New("processor exited")
			}
			return
		}
	}
}

func (p *Process) drainStderr(stderr io.Reader) {
	defer p.readers.Done()
	sc := bufio.NewScanner(stderr)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		text := sc.Text()
		p.stderr.WriteLine(text)
		p.logger.Debug("processor stderr", zap.String("line", text))
	}
}

// tailBuffer keeps the last max bytes of lines written to it.
type tailBuffer struct {
	mu  sync.Mutex
	max int
	buf []byte
}

func (t *tailBuffer) WriteLine(line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, line...)
	t.buf = append(t.buf, '\n')
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
