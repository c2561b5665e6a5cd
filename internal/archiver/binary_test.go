package archiver

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapabilitiesFor(t *testing.T) {
	tests := []struct {
		version string
		want    bool
	}{
		{version: "16.02", want: true},
		{version: "15.09", want: true},
		{version: "23.01", want: true},
		{version: "15.08", want: false},
		{version: "9.20", want: false},
		{version: "", want: false},
		{version: "unknown", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			assert.Equal(t, tt.want, CapabilitiesFor(tt.version).Has(CapStreamProgress))
		})
	}
}

func TestNewBinaryFormatsVersion(t *testing.T) {
	v := 16.02
	b := NewBinary("/usr/bin/7za", &v, "")
	assert.Equal(t, "16.02", b.RawVersion)
	assert.True(t, b.Capabilities.Has(CapStreamProgress))
	assert.Equal(t, "stream-progress", b.Capabilities.String())

	unknown := NewBinary("/usr/bin/7za", nil, "")
	assert.Nil(t, unknown.Version)
	assert.Equal(t, Capabilities(0), unknown.Capabilities)
}

func TestBinaryCacheResolvesOnce(t *testing.T) {
	cache := NewBinaryCache()
	var mu sync.Mutex
	calls := 0
	resolve := func(context.Context) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		return "/opt/7za", nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			path, err := cache.Path(context.Background(), resolve)
			assert.NoError(t, err)
			assert.Equal(t, "/opt/7za", path)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
}

func TestBinaryCacheDoesNotCacheFailures(t *testing.T) {
	cache := NewBinaryCache()
	calls := 0
	resolve := func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errors.New("not yet")
		}
		return "/opt/7za", nil
	}

	_, err := cache.Path(context.Background(), resolve)
	require.Error(t, err)

	path, err := cache.Path(context.Background(), resolve)
	require.NoError(t, err)
	assert.Equal(t, "/opt/7za", path)
	assert.Equal(t, 2, calls)
}

func TestBinaryCacheVersion(t *testing.T) {
	cache := NewBinaryCache()
	probes := 0
	failing := func(context.Context, string) (*float64, string) {
		probes++
		return nil, ""
	}
	v := 16.02
	working := func(context.Context, string) (*float64, string) {
		probes++
		return &v, "16.02"
	}

	ver, _ := cache.Version(context.Background(), "/opt/7za", failing)
	assert.Nil(t, ver)

	ver, raw := cache.Version(context.Background(), "/opt/7za", working)
	require.NotNil(t, ver)
	assert.Equal(t, "16.02", raw)

	ver, _ = cache.Version(context.Background(), "/opt/7za", working)
	require.NotNil(t, ver)
	assert.Equal(t, 2, probes)
}

func TestBinaryCacheInvalidateAndHooks(t *testing.T) {
	cache := NewBinaryCache()
	var resolved []string
	cache.OnResolved(func(path string) { resolved = append(resolved, path) })

	_, ok := cache.Snapshot()
	assert.False(t, ok)

	next := "/opt/a/7za"
	resolve := func(context.Context) (string, error) { return next, nil }

	_, err := cache.Path(context.Background(), resolve)
	require.NoError(t, err)
	_, err = cache.Path(context.Background(), resolve)
	require.NoError(t, err)

	snapshot, ok := cache.Snapshot()
	require.True(t, ok)
	assert.Equal(t, "/opt/a/7za", snapshot.Path)

	cache.Invalidate()
	_, ok = cache.Snapshot()
	assert.False(t, ok)

	next = "/opt/b/7za"
	path, err := cache.Path(context.Background(), resolve)
	require.NoError(t, err)
	assert.Equal(t, "/opt/b/7za", path)
	assert.Equal(t, []string{"/opt/a/7za", "/opt/b/7za"}, resolved)
}

func TestBinaryCacheSnapshotDoesNotWaitForResolve(t *testing.T) {
	cache := NewBinaryCache()
	entered := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_, _ = cache.Path(context.Background(), func(context.Context) (string, error) {
			close(entered)
			<-release
			return "/opt/7za", nil
		})
	}()
	<-entered
	defer close(release)

	done := make(chan bool)
	go func() {
		_, ok := cache.Snapshot()
		done <- ok
	}()

	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("Snapshot blocked behind an in-flight resolve")
	}
}

func TestBinaryCacheDropsProbeOverlappingInvalidate(t *testing.T) {
	cache := NewBinaryCache()
	v := 16.02
	probe := func(context.Context, string) (*float64, string) {
		cache.Invalidate()
		return &v, "16.02"
	}

	ver, raw := cache.Version(context.Background(), "/opt/7za", probe)
	require.NotNil(t, ver)
	assert.Equal(t, "16.02", raw)

	probes := 0
	counting := func(context.Context, string) (*float64, string) {
		probes++
		return &v, "16.02"
	}
	cache.Version(context.Background(), "/opt/7za", counting)
	assert.Equal(t, 1, probes)
}
