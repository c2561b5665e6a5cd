package archiver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

const DefaultDownloadTimeout = 50 * time.Second

// BundledDirName is the directory next to the agent binary that may hold
// shipped copies of the archiver and of the fetch tools.
const BundledDirName = "bin_3rdParty"

var DefaultFetchTools = []string{"curl", "wget"}

type Downloader interface {
	// Download fetches url into destination, replacing any existing file,
	// and returns the destination path.
	Download(ctx context.Context, url, destination string) (string, error)
}

type fetchTool struct {
	name    string
	path    string
	bundled bool
}

// FetchToolDownloader shells out to curl or wget. Bundled copies are
// preferred over the ones on PATH.
type FetchToolDownloader struct {
	binDir   string
	tools    []string
	timeout  time.Duration
	logger   *logging.Logger
	goos     string
	lookPath func(string) (string, error)
}

func NewFetchToolDownloader(binDir string, tools []string, timeout time.Duration, logger *logging.Logger) *FetchToolDownloader {
	if len(tools) == 0 {
		tools = DefaultFetchTools
	}
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &FetchToolDownloader{
		binDir:   binDir,
		tools:    tools,
		timeout:  timeout,
		logger:   logger,
		goos:     runtime.GOOS,
		lookPath: exec.LookPath,
	}
}

func (d *FetchToolDownloader) locate() (fetchTool, error) {
	var searched []string

	if d.binDir != "" {
		for _, name := range d.tools {
			candidate := filepath.Join(d.binDir, BundledDirName, executableName(d.goos, name))
			searched = append(searched, candidate)
			if isRegularFile(candidate) {
				return fetchTool{name: name, path: candidate, bundled: true}, nil
			}
		}
	}

	for _, name := range d.tools {
		searched = append(searched, name)
		if path, err := d.lookPath(name); err == nil {
			return fetchTool{name: name, path: path}, nil
		}
	}

	return fetchTool{}, &ToolMissingError{Candidates: searched}
}

func (d *FetchToolDownloader) Download(ctx context.Context, url, destination string) (string, error) {
	tool, err := d.locate()
	if err != nil {
		return "", err
	}

	if err := prepareDestination(destination); err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	args := fetchArgs(tool, url, destination)
	d.logger.Info("downloading archiver component",
		zap.String("url", url),
		zap.String("destination", destination),
		zap.String("tool", tool.path),
		zap.Bool("bundled_tool", tool.bundled),
	)

	output, err := exec.CommandContext(timeoutCtx, tool.path, args...).CombinedOutput()
	if err != nil {
		if timeoutCtx.Err() != nil {
			err = fmt.Errorf("timed out after %s: %w", d.timeout, timeoutCtx.Err())
		} else if msg := strings.TrimSpace(string(output)); msg != "" {
			err = fmt.Errorf("%w: %s", err, msg)
		}
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}

	if !isRegularFile(destination) {
		return "", &DownloadError{URL: url, Destination: destination}
	}
	return destination, nil
}

func fetchArgs(tool fetchTool, url, destination string) []string {
	var args []string
	switch tool.name {
	case "wget":
		args = []string{"-q", "-O", destination}
		if tool.bundled {
			// Bundled copies ship without a CA store.
			args = append(args, "--no-check-certificate")
		}
	default:
		args = []string{"-L", "-f", "-s", "-S", "-o", destination}
		if tool.bundled {
			args = append(args, "-k")
		}
	}
	return append(args, url)
}

// HTTPDownloader fetches in-process with net/http.
type HTTPDownloader struct {
	client  *http.Client
	timeout time.Duration
	logger  *logging.Logger
}

func NewHTTPDownloader(client *http.Client, timeout time.Duration, logger *logging.Logger) *HTTPDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultDownloadTimeout
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &HTTPDownloader{client: client, timeout: timeout, logger: logger}
}

func (d *HTTPDownloader) Download(ctx context.Context, url, destination string) (string, error) {
	if err := prepareDestination(destination); err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, url, nil)
	if err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}

	d.logger.Info("downloading archiver component",
		zap.String("url", url),
		zap.String("destination", destination),
	)

	resp, err := d.client.Do(req)
	if err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &DownloadError{URL: url, Destination: destination, Cause: fmt.Errorf("unexpected status %s", resp.Status)}
	}

	tmp, err := os.CreateTemp(filepath.Dir(destination), ".download-*")
	if err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}
	if err := tmp.Close(); err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}
	if err := os.Chmod(tmpName, 0755); err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}
	if err := os.Rename(tmpName, destination); err != nil {
		return "", &DownloadError{URL: url, Destination: destination, Cause: err}
	}
	return destination, nil
}

func prepareDestination(destination string) error {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}
	if err := os.Remove(destination); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove existing file: %w", err)
	}
	return nil
}

func isRegularFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func executableName(goos, name string) string {
	if goos == "windows" && filepath.Ext(name) == "" {
		return name + ".exe"
	}
	return name
}
