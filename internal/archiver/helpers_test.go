package archiver

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const banner16 = `echo "7-Zip [64] 16.02 : Copyright (c) 1999-2016 Igor Pavlov : 2016-05-21"`

func requirePOSIXShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures need a POSIX shell")
	}
}

// writeScript writes an executable shell script and returns its path.
func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	requirePOSIXShell(t)
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0755))
	return path
}

// fakeArchiver writes a 7z stand-in. Run bare it prints bannerLine and
// counts the call in <path>.probes; otherwise it records its arguments in
// <path>.args, one per line, and runs body.
func fakeArchiver(t *testing.T, bannerLine, body string) string {
	t.Helper()
	dir := t.TempDir()
	script := `if [ $# -eq 0 ]; then
  echo probe >> "$0.probes"
  ` + bannerLine + `
  exit 0
fi
printf '%s\n' "$@" > "$0.args"
` + body
	return writeScript(t, dir, "7za", script)
}

func recordedArgs(t *testing.T, binary string) []string {
	t.Helper()
	data, err := os.ReadFile(binary + ".args")
	require.NoError(t, err)
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

func probeCount(t *testing.T, binary string) int {
	t.Helper()
	data, err := os.ReadFile(binary + ".probes")
	if os.IsNotExist(err) {
		return 0
	}
	require.NoError(t, err)
	return strings.Count(string(data), "probe\n")
}

// staticLocator always resolves to one path.
type staticLocator struct {
	mu    sync.Mutex
	path  string
	err   error
	calls int
}

func (l *staticLocator) Resolve(context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	return l.path, l.err
}

func (l *staticLocator) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// recorder captures callback invocations in order.
type recorder struct {
	mu       sync.Mutex
	events   []string
	progress []int
	results  []Result
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnStart: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "start")
		},
		OnProgress: func(percent int) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "progress")
			r.progress = append(r.progress, percent)
		},
		OnEnd: func(result Result) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.events = append(r.events, "end")
			r.results = append(r.results, result)
		},
	}
}

func (r *recorder) snapshot() ([]string, []int, []Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string{}, r.events...), append([]int{}, r.progress...), append([]Result{}, r.results...)
}
