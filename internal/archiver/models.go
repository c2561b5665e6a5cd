package archiver

import (
	"fmt"
	"time"
)

type Operation string

const (
	OperationCompress Operation = "compress"
	OperationExtract  Operation = "extract"
)

func (o Operation) Valid() bool {
	return o == OperationCompress || o == OperationExtract
}

type SourceKind int

const (
	SourceDirectory SourceKind = iota
	SourceFile
)

// Task describes one archiver invocation. It is a value type; the
// With* helpers return modified copies.
type Task struct {
	Source      string
	Destination string
	Filter      string
	Operation   Operation
	Debug       bool
	SourceKind  SourceKind
}

func NewCompressTask(source, destination, filter string) Task {
	return Task{
		Source:      source,
		Destination: destination,
		Filter:      filter,
		Operation:   OperationCompress,
	}
}

func NewExtractTask(archivePath, destination, filter string) Task {
	return Task{
		Source:      archivePath,
		Destination: destination,
		Filter:      filter,
		Operation:   OperationExtract,
	}
}

func (t Task) WithDebug(debug bool) Task {
	t.Debug = debug
	return t
}

func (t Task) WithSourceKind(kind SourceKind) Task {
	t.SourceKind = kind
	return t
}

func (t Task) Validate() error {
	if !t.Operation.Valid() {
		return fmt.Errorf("%w: unknown operation %q", ErrInvalidTask, t.Operation)
	}
	if t.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidTask)
	}
	if t.Destination == "" {
		return fmt.Errorf("%w: destination is required", ErrInvalidTask)
	}
	return nil
}

// CommandLine is the argument list passed to the archiver, excluding the
// executable itself.
type CommandLine []string

type State int

const (
	StateIdle State = iota
	StateStarting
	StateRunning
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// Result is delivered exactly once per task through Callbacks.OnEnd and is
// also returned by the blocking entry points. ExitCode is -1 when the
// archiver never ran or was killed by a signal.
type Result struct {
	Success  bool          `json:"success"`
	ExitCode int           `json:"exitCode"`
	Err      error         `json:"-"`
	Duration time.Duration `json:"duration"`
	Output   string        `json:"output,omitempty"`
}

func (r Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

func failureResult(err error) Result {
	return Result{Success: false, ExitCode: -1, Err: err}
}

// Callbacks are optional lifecycle hooks for one task. Closures carry the
// caller's own context; the orchestrator never passes itself to them.
//
// OnProgress reports the latest percentage printed by the archiver. Values
// are not guaranteed to increase monotonically.
type Callbacks struct {
	OnStart    func()
	OnProgress func(percent int)
	OnEnd      func(result Result)
}
