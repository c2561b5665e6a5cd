package operations

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/validation"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStartOperationCompress(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.service.StartOperation("10.0.0.1", OperationRequest{
		Operation:   "compress",
		Source:      "data",
		Destination: "out/data.7z",
	})
	require.NoError(t, err)

	op := waitForOperation(t, env.service, id)
	assert.Equal(t, StatusCompleted, op.Status)
	require.NotNil(t, op.ExitCode)
	assert.Equal(t, 0, *op.ExitCode)
	assert.Equal(t, 100, op.Progress)
	assert.NotNil(t, op.EndTime)
	assert.FileExists(t, filepath.Join(env.root, "out", "data.7z"))

	msgs := op.Broadcaster.Messages()
	assert.Equal(t, []StreamMessageType{
		StreamTypeStart, StreamTypeProgress, StreamTypeProgress, StreamTypeProgress, StreamTypeComplete,
	}, messageTypes(msgs))
	assert.Equal(t, 10, *msgs[1].Percent)
	assert.Equal(t, 100, *msgs[3].Percent)
	assert.True(t, *msgs[4].Success)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(filepath.Join(env.auditDir, "audit-current.jsonl"))
		return err == nil && bytes.Contains(data, []byte(`"operation.completed"`))
	}, 2*time.Second, 20*time.Millisecond)
}

func TestStartOperationExtractFailure(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.service.StartOperation("", OperationRequest{
		Operation:   "extract",
		Source:      "broken.7z",
		Destination: "restore",
	})
	require.NoError(t, err)

	op := waitForOperation(t, env.service, id)
	assert.Equal(t, StatusFailed, op.Status)
	require.NotNil(t, op.ExitCode)
	assert.Equal(t, 2, *op.ExitCode)
	assert.Contains(t, op.Error, "code 2")

	msgs := op.Broadcaster.Messages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, StreamTypeComplete, last.Type)
	assert.False(t, *last.Success)
	assert.Equal(t, 2, *last.ExitCode)
}

func TestStartOperationExtractDebugOutput(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.service.StartOperation("", OperationRequest{
		Operation:   "extract",
		Source:      "backup.7z",
		Destination: "restore",
		Debug:       true,
	})
	require.NoError(t, err)

	op := waitForOperation(t, env.service, id)
	assert.Equal(t, StatusCompleted, op.Status)
	assert.FileExists(t, filepath.Join(env.root, "restore", "restored.txt"))
	assert.Contains(t, messageTypes(op.Broadcaster.Messages()), StreamTypeStdout)
}

func TestStartOperationValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		req  OperationRequest
		want error
	}{
		{"unknown operation", OperationRequest{Operation: "delete", Source: "data", Destination: "x.7z"}, ErrInvalidOperation},
		{"traversal source", OperationRequest{Operation: "compress", Source: "../etc", Destination: "x.7z"}, validation.ErrPathTraversal},
		{"absolute destination", OperationRequest{Operation: "compress", Source: "data", Destination: "/tmp/x.7z"}, validation.ErrPathTraversal},
		{"switch filter", OperationRequest{Operation: "compress", Source: "data", Destination: "x.7z", Filter: "-r"}, ErrInvalidFilter},
		{"missing source", OperationRequest{Operation: "compress", Source: "nope", Destination: "x.7z"}, ErrSourceNotFound},
		{"extract directory", OperationRequest{Operation: "extract", Source: "data", Destination: "out"}, ErrInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := env.service.StartOperation("", tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Empty(t, id)
		})
	}
	assert.Empty(t, env.service.ListOperations())
}

func TestStartOperationRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated rights on windows")
	}
	env := newTestEnv(t)

	outside := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.7z"), []byte("7z"), 0644))
	require.NoError(t, os.Symlink(outside, filepath.Join(env.root, "link")))

	tests := []struct {
		name string
		req  OperationRequest
	}{
		{"compress source", OperationRequest{Operation: "compress", Source: "link/secret.txt", Destination: "out/x.7z"}},
		{"extract source", OperationRequest{Operation: "extract", Source: "link/secret.7z", Destination: "restore"}},
		{"compress destination", OperationRequest{Operation: "compress", Source: "data", Destination: "link/nested/x.7z"}},
		{"extract destination", OperationRequest{Operation: "extract", Source: "backup.7z", Destination: "link/restore"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := env.service.StartOperation("", tt.req)
			assert.ErrorIs(t, err, validation.ErrOutsideRoot)
			assert.Empty(t, id)
		})
	}

	assert.Empty(t, env.service.ListOperations())
	assert.NoDirExists(t, filepath.Join(outside, "nested"))
	assert.NoDirExists(t, filepath.Join(outside, "restore"))
}

func TestStartOperationAllowsInternalSymlink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated rights on windows")
	}
	env := newTestEnv(t)
	require.NoError(t, os.Symlink(filepath.Join(env.root, "data"), filepath.Join(env.root, "alias")))

	id, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "alias",
		Destination: "out/alias.7z",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitForOperation(t, env.service, id).Status)
}

func TestDestinationLockAndTerminate(t *testing.T) {
	env := newTestEnv(t)

	slowID, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "slow",
		Destination: "out/shared.7z",
	})
	require.NoError(t, err)

	_, err = env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "data",
		Destination: "out/shared.7z",
	})
	require.ErrorIs(t, err, ErrDestinationBusy)

	require.NoError(t, env.service.TerminateOperation(slowID))
	op := waitForOperation(t, env.service, slowID)
	assert.Equal(t, StatusTerminated, op.Status)
	assert.Nil(t, op.ExitCode)

	assert.ErrorIs(t, env.service.TerminateOperation(slowID), ErrOperationNotRunning)
	assert.ErrorIs(t, env.service.TerminateOperation("missing"), ErrOperationNotFound)

	id, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "data",
		Destination: "out/shared.7z",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, waitForOperation(t, env.service, id).Status)
}

func TestStartOperationBinaryNotFound(t *testing.T) {
	env := newTestEnv(t)
	env.factory.locator = testLocator{err: &archiver.BinaryNotFoundError{Candidates: []string{"7za"}}}

	id, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "data",
		Destination: "out/data.7z",
	})

	var notFound *archiver.BinaryNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.NotEmpty(t, id)

	op := waitForOperation(t, env.service, id)
	assert.Equal(t, StatusFailed, op.Status)
	msgs := op.Broadcaster.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, StreamTypeError, msgs[0].Type)
	assert.Contains(t, msgs[0].Data, "not found")
}

func TestStreamOperationReplaysHistory(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "data/file.txt",
		Destination: "out/file.7z",
	})
	require.NoError(t, err)
	waitForOperation(t, env.service, id)

	var buf bytes.Buffer
	require.NoError(t, env.service.StreamOperation(context.Background(), id, &buf))

	out := buf.String()
	assert.Contains(t, out, `data: {"type":"start"`)
	assert.Contains(t, out, `"type":"complete","success":true,"exitCode":0`)
	assert.ErrorIs(t, env.service.StreamOperation(context.Background(), "missing", &buf), ErrOperationNotFound)
}

func TestStreamOperationStopsOnCancel(t *testing.T) {
	env := newTestEnv(t)

	id, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "slow",
		Destination: "out/slow.7z",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	err = env.service.StreamOperation(ctx, id, &bytes.Buffer{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, env.service.TerminateOperation(id))
	waitForOperation(t, env.service, id)
}

func TestFinishedOperationsArePruned(t *testing.T) {
	env := newTestEnv(t)

	first, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "data",
		Destination: "out/one.7z",
	})
	require.NoError(t, err)
	waitForOperation(t, env.service, first)

	env.service.now = func() time.Time { return time.Now().Add(2 * DefaultRetention) }

	second, err := env.service.StartOperation("", OperationRequest{
		Operation:   "compress",
		Source:      "data",
		Destination: "out/two.7z",
	})
	require.NoError(t, err)
	waitForOperation(t, env.service, second)

	_, ok := env.service.GetOperation(first)
	assert.False(t, ok)
	ops := env.service.ListOperations()
	require.Len(t, ops, 1)
	assert.Equal(t, second, ops[0].ID)
}
