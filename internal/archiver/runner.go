package archiver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

const (
	DefaultWaitBudget = 10 * time.Second

	streamStdout = "stdout"
	streamStderr = "stderr"

	maxChunkSize = 1024 * 1024
)

// RunSpec is one archiver invocation after command building.
type RunSpec struct {
	Binary string
	Args   CommandLine
	Debug  bool
	// Shell runs the command through sh -c (cmd /C on Windows) instead of
	// spawning the binary directly.
	Shell bool
	Dir   string
}

type Runner struct {
	logger *logging.Logger
	parser ProgressParser
	goos   string
}

func NewRunner(logger *logging.Logger) *Runner {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Runner{
		logger: logger,
		parser: PercentParser{},
		goos:   runtime.GOOS,
	}
}

func (r *Runner) WithParser(parser ProgressParser) *Runner {
	clone := *r
	clone.parser = parser
	return &clone
}

func (r *Runner) command(ctx context.Context, spec RunSpec) *exec.Cmd {
	var cmd *exec.Cmd
	if spec.Shell {
		line := ShellString(r.goos, spec.Binary, spec.Args)
		if r.goos == "windows" {
			cmd = exec.CommandContext(ctx, "cmd", "/C", line)
		} else {
			cmd = exec.CommandContext(ctx, "sh", "-c", line)
		}
	} else {
		cmd = exec.CommandContext(ctx, spec.Binary, spec.Args...)
	}
	cmd.Dir = spec.Dir
	isolate(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd.Process)
	}
	return cmd
}

// Start spawns the archiver and returns at once. Output is consumed in the
// background and the dispatcher receives start, progress and end events.
// A handle is returned even on failure so its Result is always readable.
func (r *Runner) Start(ctx context.Context, spec RunSpec, d *Dispatcher) (*Handle, error) {
	h := newHandle()
	h.setState(StateStarting)

	cmd := r.command(ctx, spec)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return r.fail(h, d, &SpawnError{Binary: spec.Binary, Cause: fmt.Errorf("stdout pipe: %w", err)})
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return r.fail(h, d, &SpawnError{Binary: spec.Binary, Cause: fmt.Errorf("stderr pipe: %w", err)})
	}

	r.logger.Debug("starting archiver",
		zap.String("binary", spec.Binary),
		zap.Strings("args", spec.Args),
		zap.Bool("shell", spec.Shell),
	)
	r.logger.Trace(spec.Debug, append([]string{spec.Binary}, spec.Args...))

	if err := cmd.Start(); err != nil {
		return r.fail(h, d, &SpawnError{Binary: spec.Binary, Cause: err})
	}

	h.attach(cmd, stdout, stderr)
	d.start()

	var output *outputBuffer
	if spec.Debug {
		output = &outputBuffer{}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		r.consume(stdout, streamStdout, spec.Debug, output, d)
	}()
	go func() {
		defer wg.Done()
		r.consume(stderr, streamStderr, spec.Debug, output, d)
	}()

	go func() {
		wg.Wait()
		waitErr := cmd.Wait()

		result := h.complete(ctx, waitErr)
		if output != nil {
			result.Output = output.String()
		}

		if result.Success {
			r.logger.Debug("archiver finished",
				zap.String("binary", spec.Binary),
				zap.Duration("duration", result.Duration),
			)
		} else {
			r.logger.Warn("archiver failed",
				zap.String("binary", spec.Binary),
				zap.Int("exit_code", result.ExitCode),
				zap.Duration("duration", result.Duration),
				zap.Error(result.Err),
			)
		}

		h.setResult(result)
		d.end(result)
		close(h.done)
	}()

	return h, nil
}

// Run starts the archiver and waits up to budget for it to exit. When the
// budget elapses first, the still-running handle is returned together with
// ErrWaitBudgetExceeded and the caller decides whether to terminate it.
func (r *Runner) Run(ctx context.Context, spec RunSpec, d *Dispatcher, budget time.Duration) (*Handle, error) {
	h, err := r.Start(ctx, spec, d)
	if err != nil {
		return h, err
	}
	if budget <= 0 {
		budget = DefaultWaitBudget
	}

	timer := time.NewTimer(budget)
	defer timer.Stop()

	select {
	case <-h.Done():
		return h, nil
	case <-ctx.Done():
		// cmd.Cancel kills the process group; wait for the end event.
		<-h.Done()
		return h, nil
	case <-timer.C:
		return h, ErrWaitBudgetExceeded
	}
}

func (r *Runner) fail(h *Handle, d *Dispatcher, err error) (*Handle, error) {
	r.logger.Error("failed to start archiver", zap.Error(err))
	return h.abort(d, err), err
}

func (r *Runner) consume(reader io.Reader, stream string, debug bool, output *outputBuffer, d *Dispatcher) {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxChunkSize)
	scanner.Split(scanOutputChunks)

	for scanner.Scan() {
		chunk := scanner.Text()
		if output != nil {
			output.WriteLine(chunk)
		}
		r.logger.Trace(debug, chunk, zap.String("stream", stream))

		if stream != streamStdout {
			continue
		}
		if percent, ok := r.parser.Parse(chunk); ok {
			d.progress(percent)
		}
	}

	if err := scanner.Err(); err != nil {
		r.logger.Debug("archiver output scan stopped",
			zap.String("stream", stream),
			zap.Error(err),
		)
		// Keep draining so the archiver never blocks on a full pipe.
		_, _ = io.Copy(io.Discard, reader)
	}
}

// Handle tracks one spawned archiver process.
type Handle struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	pipes      []io.Closer
	state      State
	result     Result
	startedAt  time.Time
	terminated error
	done       chan struct{}
}

func newHandle() *Handle {
	return &Handle{
		state:     StateIdle,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

func (h *Handle) attach(cmd *exec.Cmd, pipes ...io.Closer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cmd = cmd
	h.pipes = pipes
	h.state = StateRunning
}

// abort ends a handle whose process never ran.
func (h *Handle) abort(d *Dispatcher, err error) *Handle {
	result := failureResult(err)
	h.setResult(result)
	d.end(result)
	close(h.done)
	return h
}

func (h *Handle) setState(state State) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.state = state
}

func (h *Handle) setResult(result Result) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.result = result
	if result.Success {
		h.state = StateFinished
	} else {
		h.state = StateFailed
	}
}

func (h *Handle) complete(ctx context.Context, waitErr error) Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	result := Result{Duration: time.Since(h.startedAt)}
	if waitErr == nil {
		result.Success = true
		return result
	}

	result.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		result.ExitCode = exitErr.ExitCode()
	}

	switch {
	case h.terminated != nil:
		result.Err = h.terminated
	case ctx.Err() != nil:
		result.Err = fmt.Errorf("archiver interrupted: %w", ctx.Err())
	case result.ExitCode >= 0:
		result.Err = &ExitError{ExitCode: result.ExitCode}
	default:
		result.Err = fmt.Errorf("archiver wait failed: %w", waitErr)
	}
	return result
}

func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// Done is closed after the end event has been delivered.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

// Result is only meaningful once Done is closed.
func (h *Handle) Result() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.result
}

func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.done:
		return h.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Terminate kills a running archiver. The end event still fires, with
// ErrTerminated as the result error. Terminating a finished handle is a
// no-op.
func (h *Handle) Terminate() error {
	return h.terminate(ErrTerminated)
}

func (h *Handle) terminate(cause error) error {
	h.mu.Lock()
	if h.cmd == nil || h.cmd.Process == nil || h.state.Terminal() || h.terminated != nil {
		h.mu.Unlock()
		return nil
	}
	h.terminated = cause
	process := h.cmd.Process
	pipes := h.pipes
	h.mu.Unlock()

	if err := killProcessGroup(process); err != nil {
		return fmt.Errorf("failed to kill archiver: %w", err)
	}
	// A child that escaped the group may keep the pipes open after the kill.
	for _, p := range pipes {
		_ = p.Close()
	}
	return nil
}

type outputBuffer struct {
	mu sync.Mutex
	sb strings.Builder
}

func (b *outputBuffer) WriteLine(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sb.WriteString(line)
	b.sb.WriteByte('\n')
}

func (b *outputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.sb.String()
}
