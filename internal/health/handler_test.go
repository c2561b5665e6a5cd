package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"
	"github.com/tech-arch1tect/berth-archiver/internal/websocket"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	binary archiver.Binary
	err    error
	cached bool
}

func (f *fakeProvider) Binary(context.Context) (archiver.Binary, error) {
	return f.binary, f.err
}

func (f *fakeProvider) Cached() (archiver.Binary, bool) {
	return f.binary, f.cached
}

func (f *fakeProvider) Candidates() []string {
	return []string{"/opt/bin/7za"}
}

// cacheProvider reports a real BinaryCache, the way archiver.Factory does.
type cacheProvider struct {
	cache *archiver.BinaryCache
}

func (p cacheProvider) Binary(context.Context) (archiver.Binary, error) {
	return archiver.Binary{}, errors.New("not used")
}

func (p cacheProvider) Cached() (archiver.Binary, bool) {
	return p.cache.Snapshot()
}

func (p cacheProvider) Candidates() []string {
	return nil
}

func newAuditService(t *testing.T) (*audit.Service, string) {
	t.Helper()
	dir := t.TempDir()
	svc, err := audit.NewService(true, filepath.Join(dir, "audit.jsonl"), 0, nil)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, filepath.Join(dir, "audit-current.jsonl")
}

func call(t *testing.T, fn echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	require.NoError(t, fn(c))
	return rec
}

func TestArchiverStatusAvailable(t *testing.T) {
	v := 16.02
	provider := &fakeProvider{binary: archiver.NewBinary("/opt/bin/7za", &v, "16.02")}
	auditService, _ := newAuditService(t)
	h := NewHandler(provider, websocket.NewHub(nil), auditService, nil)

	rec := call(t, h.ArchiverStatus)
	require.Equal(t, http.StatusOK, rec.Code)

	var status ArchiverStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.True(t, status.Available)
	assert.Equal(t, "/opt/bin/7za", status.Path)
	assert.Equal(t, "16.02", status.Version)
	assert.Equal(t, "stream-progress", status.Capabilities)
}

func TestArchiverStatusUnavailable(t *testing.T) {
	provider := &fakeProvider{err: &archiver.BinaryNotFoundError{
		Candidates: []string{"/a/7za", "/b/7za"},
		Cause:      errors.New("bootstrap disabled"),
	}}
	auditService, auditPath := newAuditService(t)
	h := NewHandler(provider, websocket.NewHub(nil), auditService, nil)

	rec := call(t, h.ArchiverStatus)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var status ArchiverStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.False(t, status.Available)
	assert.Equal(t, []string{"/a/7za", "/b/7za"}, status.Candidates)
	assert.Contains(t, status.Error, "bootstrap disabled")

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), audit.EventBinaryResolveFailed)
}

func TestHealthReportsCacheState(t *testing.T) {
	auditService, _ := newAuditService(t)

	for _, cached := range []bool{false, true} {
		h := NewHandler(&fakeProvider{cached: cached}, websocket.NewHub(nil), auditService, nil)
		rec := call(t, h.Health)
		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "healthy", body["status"])
		assert.Equal(t, cached, body["archiverResolved"])
	}
}

func TestBinaryMonitorAuditsCacheEvents(t *testing.T) {
	auditService, auditPath := newAuditService(t)
	monitor := NewBinaryMonitor(websocket.NewHub(nil), auditService, nil)

	cache := archiver.NewBinaryCache()
	monitor.Attach(cache, nil)

	path, err := cache.Path(context.Background(), func(context.Context) (string, error) {
		return "/opt/bin/7za", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "/opt/bin/7za", path)

	monitor.Invalidated(path)

	data, err := os.ReadFile(auditPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), audit.EventBinaryResolved)
	assert.Contains(t, string(data), audit.EventBinaryInvalidated)
}

func TestHealthAnswersDuringSlowResolve(t *testing.T) {
	cache := archiver.NewBinaryCache()
	entered := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_, _ = cache.Path(context.Background(), func(context.Context) (string, error) {
			close(entered)
			<-release
			return "/opt/bin/7za", nil
		})
	}()
	<-entered
	defer close(release)

	auditService, _ := newAuditService(t)
	h := NewHandler(cacheProvider{cache: cache}, websocket.NewHub(nil), auditService, nil)

	done := make(chan int)
	go func() {
		rec := httptest.NewRecorder()
		c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), rec)
		_ = h.Health(c)
		done <- rec.Code
	}()

	select {
	case code := <-done:
		assert.Equal(t, http.StatusOK, code)
	case <-time.After(time.Second):
		t.Fatal("health route blocked while the archiver was being resolved")
	}
}
