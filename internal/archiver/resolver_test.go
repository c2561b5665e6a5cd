package archiver

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDownloader serves fixed file contents keyed by URL.
type fakeDownloader struct {
	mu      sync.Mutex
	files   map[string]string
	fail    error
	fetched []string
}

func (f *fakeDownloader) Download(_ context.Context, url, destination string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if f.fail != nil {
		return "", f.fail
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return "", err
	}
	if err := os.WriteFile(destination, []byte(f.files[url]), 0644); err != nil {
		return "", err
	}
	return destination, nil
}

const fakeInstaller = `#!/bin/sh
out=""
for a in "$@"; do
  case "$a" in -o*) out="${a#-o}";; esac
done
printf '#!/bin/sh\necho "7-Zip 23.01 (x64)"\n' > "$out/7za"
`

func TestResolverFindsExtraCandidateFirst(t *testing.T) {
	binDir := t.TempDir()
	writeScript(t, filepath.Join(binDir, BundledDirName), "7za", banner16)
	extra := writeScript(t, t.TempDir(), "custom-7z", banner16)

	r := NewResolver(ResolverOptions{BinDir: binDir, ExtraCandidates: []string{extra}}, nil, nil, nil)
	path, err := r.Resolve(context.Background())

	require.NoError(t, err)
	assert.Equal(t, extra, path)
}

func TestResolverFindsBundledBinary(t *testing.T) {
	binDir := t.TempDir()
	bundled := writeScript(t, filepath.Join(binDir, BundledDirName), "7za", banner16)

	r := NewResolver(ResolverOptions{BinDir: binDir, GOOS: "linux"}, nil, nil, nil)
	path, err := r.Resolve(context.Background())

	require.NoError(t, err)
	assert.Equal(t, bundled, path)
}

func TestResolverSearchesPath(t *testing.T) {
	r := NewResolver(ResolverOptions{SearchPath: true, GOOS: "linux"}, nil, nil, nil)
	r.lookPath = func(name string) (string, error) {
		if name == "7z" {
			return "/usr/bin/7z", nil
		}
		return "", errors.New("not found")
	}

	path, err := r.Resolve(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/7z", path)
}

func TestResolverNotFoundWithoutBootstrap(t *testing.T) {
	downloader := &fakeDownloader{}
	r := NewResolver(ResolverOptions{BinDir: t.TempDir(), ManagedDir: t.TempDir(), GOOS: "linux"}, downloader, nil, nil)

	_, err := r.Resolve(context.Background())

	var notFound *BinaryNotFoundError
	require.True(t, errors.As(err, &notFound))
	assert.Nil(t, notFound.Cause)
	assert.Len(t, notFound.Candidates, 4)
	assert.Empty(t, downloader.fetched)
}

func TestResolverWindowsCandidates(t *testing.T) {
	r := NewResolver(ResolverOptions{
		BinDir:     "bin",
		ManagedDir: "managed",
		SearchPath: true,
		GOOS:       "windows",
	}, nil, nil, nil)
	r.getenv = func(key string) string {
		if key == "ProgramFiles" {
			return "pf"
		}
		return ""
	}

	assert.Equal(t, []string{
		filepath.Join("bin", BundledDirName, "7z.exe"),
		filepath.Join("managed", "7za.exe"),
		filepath.Join("managed", "7z.exe"),
		filepath.Join("pf", "7-Zip", "7z.exe"),
		"7z.exe",
	}, r.Candidates())
	assert.Equal(t, DefaultWindowsInstallerURL, r.opts.Bootstrap.InstallerURL)
	assert.Equal(t, DefaultWindowsArchiveURL, r.opts.Bootstrap.ArchiveURL)
}

func TestResolverBootstrap(t *testing.T) {
	requirePOSIXShell(t)

	managed := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(managed, "stale.txt"), []byte("old"), 0644))

	downloader := &fakeDownloader{files: map[string]string{
		"https://mirror.example/7zr":      fakeInstaller,
		"https://mirror.example/extra.7z": "archive-bytes",
	}}
	r := NewResolver(ResolverOptions{
		ManagedDir: managed,
		GOOS:       "linux",
		Bootstrap: BootstrapOptions{
			Enabled:      true,
			InstallerURL: "https://mirror.example/7zr",
			ArchiveURL:   "https://mirror.example/extra.7z",
			InstallWait:  5 * time.Second,
		},
	}, downloader, nil, nil)

	path, err := r.Resolve(context.Background())

	require.NoError(t, err)
	assert.Equal(t, filepath.Join(managed, "7za"), path)
	assert.NoFileExists(t, filepath.Join(managed, "stale.txt"))
	assert.FileExists(t, filepath.Join(managed, bootstrapDirName, "extra.7z"))
	assert.Equal(t, []string{"https://mirror.example/7zr", "https://mirror.example/extra.7z"}, downloader.fetched)

	ver, raw := NewProber(time.Second, nil).Probe(context.Background(), path)
	require.NotNil(t, ver)
	assert.Equal(t, "23.01", raw)
}

func TestResolverBootstrapDownloadFailure(t *testing.T) {
	cause := &DownloadError{URL: "https://mirror.example/7zr", Destination: "x"}
	r := NewResolver(ResolverOptions{
		ManagedDir: t.TempDir(),
		GOOS:       "linux",
		Bootstrap: BootstrapOptions{
			Enabled:      true,
			InstallerURL: "https://mirror.example/7zr",
			ArchiveURL:   "https://mirror.example/extra.7z",
		},
	}, &fakeDownloader{fail: cause}, nil, nil)

	_, err := r.Resolve(context.Background())

	var notFound *BinaryNotFoundError
	require.True(t, errors.As(err, &notFound))
	var dlErr *DownloadError
	assert.True(t, errors.As(err, &dlErr))
}

func TestResolverBootstrapInstallerFailure(t *testing.T) {
	downloader := &fakeDownloader{files: map[string]string{
		"https://mirror.example/7zr":      "#!/bin/sh\nexit 3\n",
		"https://mirror.example/extra.7z": "archive-bytes",
	}}
	requirePOSIXShell(t)

	r := NewResolver(ResolverOptions{
		ManagedDir: t.TempDir(),
		GOOS:       "linux",
		Bootstrap: BootstrapOptions{
			Enabled:      true,
			InstallerURL: "https://mirror.example/7zr",
			ArchiveURL:   "https://mirror.example/extra.7z",
			InstallWait:  5 * time.Second,
		},
	}, downloader, nil, nil)

	_, err := r.Resolve(context.Background())

	var notFound *BinaryNotFoundError
	require.True(t, errors.As(err, &notFound))
	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.ExitCode)
}

func TestResolverBootstrapWithoutURLs(t *testing.T) {
	r := NewResolver(ResolverOptions{
		ManagedDir: t.TempDir(),
		GOOS:       "linux",
		Bootstrap:  BootstrapOptions{Enabled: true},
	}, &fakeDownloader{}, nil, nil)

	_, err := r.Resolve(context.Background())

	var notFound *BinaryNotFoundError
	require.True(t, errors.As(err, &notFound))
	require.Error(t, notFound.Cause)
}
