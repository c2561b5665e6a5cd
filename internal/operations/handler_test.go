package operations

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/audit"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, env *testEnv) *echo.Echo {
	t.Helper()
	auditService, err := audit.NewService(false, "", 0, nil)
	require.NoError(t, err)

	h := NewHandler(env.service, auditService)
	e := echo.New()
	e.POST("/api/operations", h.StartOperation)
	e.GET("/api/operations", h.ListOperations)
	e.GET("/api/operations/:operationId/status", h.GetOperationStatus)
	e.GET("/api/operations/:operationId/stream", h.StreamOperation)
	e.DELETE("/api/operations/:operationId", h.TerminateOperation)
	return e
}

func doRequest(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func startViaAPI(t *testing.T, e *echo.Echo, body string) string {
	t.Helper()
	rec := doRequest(e, http.MethodPost, "/api/operations", body)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp OperationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.OperationID)
	return resp.OperationID
}

func TestHandlerOperationLifecycle(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env)

	id := startViaAPI(t, e, `{"operation":"compress","source":"data","destination":"out/data.7z"}`)

	require.Eventually(t, func() bool {
		rec := doRequest(e, http.MethodGet, "/api/operations/"+id+"/status", "")
		var op Operation
		return rec.Code == http.StatusOK &&
			json.Unmarshal(rec.Body.Bytes(), &op) == nil &&
			op.Status == StatusCompleted
	}, 5*time.Second, 20*time.Millisecond)

	rec := doRequest(e, http.MethodGet, "/api/operations/"+id+"/stream", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), `"type":"progress","percent":60`)
	assert.Contains(t, rec.Body.String(), `"type":"complete","success":true`)

	rec = doRequest(e, http.MethodGet, "/api/operations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var ops []Operation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ops))
	require.Len(t, ops, 1)
	assert.Equal(t, "out/data.7z", ops[0].Request.Destination)

	rec = doRequest(e, http.MethodDelete, "/api/operations/"+id, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlerStartErrors(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"operation":`, http.StatusBadRequest},
		{"unknown operation", `{"operation":"zip","source":"data","destination":"a.7z"}`, http.StatusBadRequest},
		{"traversal", `{"operation":"compress","source":"../../etc","destination":"a.7z"}`, http.StatusBadRequest},
		{"missing source", `{"operation":"extract","source":"gone.7z","destination":"out"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doRequest(e, http.MethodPost, "/api/operations", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
}

func TestHandlerRejectsSymlinkEscape(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks need elevated rights on windows")
	}
	env := newTestEnv(t)
	e := newTestServer(t, env)
	require.NoError(t, os.Symlink(t.TempDir(), filepath.Join(env.root, "link")))

	rec := doRequest(e, http.MethodPost, "/api/operations",
		`{"operation":"compress","source":"data","destination":"link/a.7z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), "within the workspace")
}

func TestHandlerConflictAndTerminate(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env)

	id := startViaAPI(t, e, `{"operation":"compress","source":"slow","destination":"out/slow.7z"}`)

	rec := doRequest(e, http.MethodPost, "/api/operations", `{"operation":"compress","source":"data","destination":"out/slow.7z"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(e, http.MethodDelete, "/api/operations/"+id, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)

	op := waitForOperation(t, env.service, id)
	assert.Equal(t, StatusTerminated, op.Status)
}

func TestHandlerBinaryUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.factory.locator = testLocator{err: &archiver.BinaryNotFoundError{}}
	e := newTestServer(t, env)

	rec := doRequest(e, http.MethodPost, "/api/operations", `{"operation":"compress","source":"data","destination":"a.7z"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerOperationIDValidation(t *testing.T) {
	env := newTestEnv(t)
	e := newTestServer(t, env)

	rec := doRequest(e, http.MethodGet, "/api/operations/not-a-uuid/status", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/operations/0b8f6c2e-4a7d-4f1e-9c2b-3d5e6f7a8b9c/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(e, http.MethodGet, "/api/operations/0b8f6c2e-4a7d-4f1e-9c2b-3d5e6f7a8b9c/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(e, http.MethodDelete, "/api/operations/0b8f6c2e-4a7d-4f1e-9c2b-3d5e6f7a8b9c", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
