package archiver

import (
	"fmt"
	"sync"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

// Dispatcher delivers Callbacks for a single task. OnStart fires at most
// once, OnProgress only between start and end, OnEnd exactly once. Calls
// are serialised, so callbacks never overlap.
type Dispatcher struct {
	mu        sync.Mutex
	callbacks Callbacks
	started   bool
	ended     bool
	beforeEnd []func(Result)
	logger    *logging.Logger
	debug     bool
}

func NewDispatcher(callbacks Callbacks, logger *logging.Logger, debug bool) *Dispatcher {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &Dispatcher{
		callbacks: callbacks,
		logger:    logger,
		debug:     debug,
	}
}

// beforeEndHook runs internal bookkeeping ahead of the caller's OnEnd, so
// that state observed from inside OnEnd is already final.
func (d *Dispatcher) beforeEndHook(hook func(Result)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.beforeEnd = append(d.beforeEnd, hook)
}

func (d *Dispatcher) start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.ended {
		return
	}
	d.started = true
	if d.callbacks.OnStart != nil {
		d.invoke("start", d.callbacks.OnStart)
	}
}

func (d *Dispatcher) progress(percent int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started || d.ended {
		return
	}
	if d.callbacks.OnProgress != nil {
		d.invoke("progress", func() { d.callbacks.OnProgress(percent) })
	}
}

func (d *Dispatcher) end(result Result) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ended {
		return
	}
	d.ended = true

	if result.Err != nil {
		d.logger.Trace(d.debug, result.Err, zap.Int("exit_code", result.ExitCode))
	}

	for _, hook := range d.beforeEnd {
		hook(result)
	}
	if d.callbacks.OnEnd != nil {
		d.invoke("end", func() { d.callbacks.OnEnd(result) })
	}
}

func (d *Dispatcher) Started() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.started
}

func (d *Dispatcher) Ended() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ended
}

func (d *Dispatcher) invoke(event string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("archiver callback panicked",
				zap.String("event", event),
				zap.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn()
}
