package archiver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

type BinaryLocator interface {
	Resolve(ctx context.Context) (string, error)
}

type VersionProber interface {
	Probe(ctx context.Context, binaryPath string) (*float64, string)
}

// Options configures an Orchestrator. Zero values select the defaults
// noted on each field.
type Options struct {
	// Cache holds the resolved binary. Orchestrators sharing a cache
	// resolve and probe once between them. Default: a private cache.
	Cache *BinaryCache
	// Locator finds the archiver. Default: a Resolver searching the
	// bundled directory next to the executable and PATH, no bootstrap.
	Locator BinaryLocator
	// Prober reads the archiver version. Default: NewProber with a 5s
	// timeout.
	Prober VersionProber
	Runner *Runner
	Logger *logging.Logger
	// WaitBudget bounds the blocking entry points. Default: 10s.
	WaitBudget time.Duration
	// DetachOnTimeout leaves the archiver running when the wait budget
	// elapses; it stays reachable through Active and Terminate. By
	// default it is killed.
	DetachOnTimeout bool
	// Shell routes every command through the platform shell.
	Shell bool
	// Debug enables tracing for every task, regardless of Task.Debug.
	Debug bool
}

// Orchestrator runs compress and extract tasks through the archiver
// binary, one at a time.
type Orchestrator struct {
	cache      *BinaryCache
	locator    BinaryLocator
	prober     VersionProber
	runner     *Runner
	logger     *logging.Logger
	waitBudget time.Duration
	detach     bool
	shell      bool
	debug      bool

	mu     sync.Mutex
	busy   bool
	active *Handle
}

func New(opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.NewNopLogger()
	}
	if opts.Cache == nil {
		opts.Cache = NewBinaryCache()
	}
	if opts.Runner == nil {
		opts.Runner = NewRunner(opts.Logger)
	}
	if opts.Prober == nil {
		opts.Prober = NewProber(DefaultProbeTimeout, opts.Logger)
	}
	if opts.Locator == nil {
		opts.Locator = NewResolver(ResolverOptions{
			BinDir:     executableDir(),
			SearchPath: true,
		}, nil, opts.Runner, opts.Logger)
	}
	if opts.WaitBudget <= 0 {
		opts.WaitBudget = DefaultWaitBudget
	}

	return &Orchestrator{
		cache:      opts.Cache,
		locator:    opts.Locator,
		prober:     opts.Prober,
		runner:     opts.Runner,
		logger:     opts.Logger,
		waitBudget: opts.WaitBudget,
		detach:     opts.DetachOnTimeout,
		shell:      opts.Shell,
		debug:      opts.Debug,
	}
}

// Binary resolves and probes the archiver, using the cache when possible.
func (o *Orchestrator) Binary(ctx context.Context) (Binary, error) {
	path, err := o.cache.Path(ctx, o.locator.Resolve)
	if err != nil {
		return Binary{}, err
	}
	ver, raw := o.cache.Version(ctx, path, o.prober.Probe)
	return NewBinary(path, ver, raw), nil
}

func (o *Orchestrator) Compress(ctx context.Context, source, destination, filter string, cb Callbacks) Result {
	return o.Run(ctx, NewCompressTask(source, destination, filter), cb)
}

func (o *Orchestrator) Extract(ctx context.Context, archivePath, destination, filter string, cb Callbacks) Result {
	return o.Run(ctx, NewExtractTask(archivePath, destination, filter), cb)
}

func (o *Orchestrator) CompressAsync(ctx context.Context, source, destination, filter string, cb Callbacks) (*Handle, error) {
	return o.Start(ctx, NewCompressTask(source, destination, filter), cb)
}

func (o *Orchestrator) ExtractAsync(ctx context.Context, archivePath, destination, filter string, cb Callbacks) (*Handle, error) {
	return o.Start(ctx, NewExtractTask(archivePath, destination, filter), cb)
}

// Start launches task and returns without waiting. Every failure, including
// ErrBusy, is also delivered to cb.OnEnd; the returned handle is never nil.
func (o *Orchestrator) Start(ctx context.Context, task Task, cb Callbacks) (*Handle, error) {
	d, spec, err := o.prepare(ctx, task, cb)
	if err != nil {
		return newHandle().abort(d, err), err
	}
	h, err := o.runner.Start(ctx, spec, d)
	o.track(h)
	return h, err
}

// Run executes task and blocks until OnEnd has been delivered or the wait
// budget elapses.
func (o *Orchestrator) Run(ctx context.Context, task Task, cb Callbacks) Result {
	d, spec, err := o.prepare(ctx, task, cb)
	if err != nil {
		return newHandle().abort(d, err).Result()
	}

	h, err := o.runner.Run(ctx, spec, d, o.waitBudget)
	o.track(h)
	if !errors.Is(err, ErrWaitBudgetExceeded) {
		return h.Result()
	}

	if o.detach {
		o.logger.Warn("archiver still running after wait budget, leaving it attached",
			zap.Duration("wait_budget", o.waitBudget),
		)
		return Result{
			ExitCode: -1,
			Err:      err,
			Duration: o.waitBudget,
		}
	}

	o.logger.Warn("archiver exceeded wait budget, terminating",
		zap.Duration("wait_budget", o.waitBudget),
	)
	if termErr := h.terminate(fmt.Errorf("%w: %w", ErrWaitBudgetExceeded, ErrTerminated)); termErr != nil {
		o.logger.Error("failed to terminate archiver", zap.Error(termErr))
	}
	<-h.Done()
	return h.Result()
}

// Active returns the handle of the running archiver, if any.
func (o *Orchestrator) Active() *Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Terminate kills the running archiver, if any.
func (o *Orchestrator) Terminate() error {
	h := o.Active()
	if h == nil {
		return nil
	}
	return h.Terminate()
}

func (o *Orchestrator) prepare(ctx context.Context, task Task, cb Callbacks) (*Dispatcher, RunSpec, error) {
	task = task.WithDebug(task.Debug || o.debug)
	d := NewDispatcher(cb, o.logger, task.Debug)

	if !o.acquire() {
		return d, RunSpec{}, ErrBusy
	}
	d.beforeEndHook(func(Result) { o.release() })

	if err := task.Validate(); err != nil {
		return d, RunSpec{}, err
	}

	binary, err := o.Binary(ctx)
	if err != nil {
		return d, RunSpec{}, err
	}

	if task.Operation == OperationCompress {
		task = task.WithSourceKind(sourceKind(task.Source))
	}

	args, err := BuildCommand(task, binary.Capabilities)
	if err != nil {
		return d, RunSpec{}, err
	}

	o.logger.Trace(task.Debug, map[string]any{
		"operation":    task.Operation,
		"source":       task.Source,
		"destination":  task.Destination,
		"filter":       task.Filter,
		"binary":       binary.Path,
		"version":      binary.RawVersion,
		"capabilities": binary.Capabilities.String(),
	})

	return d, RunSpec{
		Binary: binary.Path,
		Args:   args,
		Debug:  task.Debug,
		Shell:  o.shell,
	}, nil
}

func (o *Orchestrator) acquire() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busy {
		return false
	}
	o.busy = true
	return true
}

func (o *Orchestrator) release() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.busy = false
	o.active = nil
}

// track records h as active unless it already finished. The runner sets
// the result before release runs, so a finished handle is never recorded.
func (o *Orchestrator) track(h *Handle) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if h != nil && !h.State().Terminal() && o.busy {
		o.active = h
	}
}

func sourceKind(source string) SourceKind {
	info, err := os.Stat(source)
	if err == nil && info.Mode().IsRegular() {
		return SourceFile
	}
	return SourceDirectory
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	return filepath.Dir(exe)
}
