package operations

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"github.com/stretchr/testify/require"
)

// fakeArchiverScript mimics the parts of 7-Zip the service relies on.
// Sources containing "slow" block until killed; archives containing
// "broken" fail with exit code 2.
const fakeArchiverScript = `#!/bin/sh
case "$1" in
a)
  dest="$2"; src="$3"
  case "$src" in *slow*) exec sleep 5;; esac
  printf ' 10%%\r 60%%\r100%%\n'
  echo "archived $src" > "$dest"
  ;;
x)
  src="$3"; out="${4#-o}"
  case "$src" in *broken*) echo "ERROR: cannot open $src as archive" >&2; exit 2;; esac
  mkdir -p "$out"
  echo restored > "$out/restored.txt"
  printf '100%%\n'
  ;;
esac
`

type testLocator struct {
	path string
	err  error
}

func (l testLocator) Resolve(context.Context) (string, error) {
	return l.path, l.err
}

type testProber struct{}

func (testProber) Probe(context.Context, string) (*float64, string) {
	v := 16.02
	return &v, "16.02"
}

type testFactory struct {
	locator testLocator
	cache   *archiver.BinaryCache
}

func (f *testFactory) New() *archiver.Orchestrator {
	return archiver.New(archiver.Options{
		Cache:   f.cache,
		Locator: f.locator,
		Prober:  testProber{},
	})
}

type testEnv struct {
	service  *Service
	root     string
	auditDir string
	factory  *testFactory
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fixtures need a POSIX shell")
	}

	binDir := t.TempDir()
	binary := filepath.Join(binDir, "7za")
	require.NoError(t, os.WriteFile(binary, []byte(fakeArchiverScript), 0755))

	auditDir := t.TempDir()
	auditService, err := audit.NewService(true, filepath.Join(auditDir, "audit.jsonl"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = auditService.Close() })

	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "data"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "data", "file.txt"), []byte("hello"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "slow"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "backup.7z"), []byte("7z"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.7z"), []byte("??"), 0644))

	factory := &testFactory{locator: testLocator{path: binary}, cache: archiver.NewBinaryCache()}
	service := NewService(root, factory, websocket.NewHub(nil), auditService, nil)
	t.Cleanup(service.Shutdown)

	return &testEnv{service: service, root: root, auditDir: auditDir, factory: factory}
}

func waitForOperation(t *testing.T, s *Service, id string) Operation {
	t.Helper()
	op, ok := s.GetOperation(id)
	require.True(t, ok)
	select {
	case <-op.Broadcaster.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("operation %s did not finish", id)
	}
	op, _ = s.GetOperation(id)
	return op
}

func messageTypes(msgs []StreamMessage) []StreamMessageType {
	types := make([]StreamMessageType, 0, len(msgs))
	for _, m := range msgs {
		types = append(types, m.Type)
	}
	return types
}
