package archiver

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"path/filepath"
	"runtime"
	"time"

	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/zap"
)

const (
	DefaultInstallWait = 60 * time.Second

	DefaultWindowsInstallerURL = "https://www.7-zip.org/a/7zr.exe"
	DefaultWindowsArchiveURL   = "https://www.7-zip.org/a/7z2301-extra.7z"

	bootstrapDirName = "bootstrap"
)

type BootstrapOptions struct {
	Enabled bool
	// InstallerURL points at a minimal standalone extractor (7zr).
	InstallerURL string
	// ArchiveURL points at the full distribution the installer unpacks
	// into the managed directory.
	ArchiveURL  string
	InstallWait time.Duration
}

type ResolverOptions struct {
	// BinDir is the directory of the running executable; bundled copies
	// live below it.
	BinDir string
	// ManagedDir receives bootstrapped installations.
	ManagedDir      string
	ExtraCandidates []string
	SearchPath      bool
	Bootstrap       BootstrapOptions
	// GOOS selects the candidate table; defaults to runtime.GOOS.
	GOOS string
}

type candidate struct {
	path   string
	onPath bool
}

// Resolver finds a usable archiver executable, provisioning one into the
// managed directory when allowed.
type Resolver struct {
	opts       ResolverOptions
	downloader Downloader
	runner     *Runner
	logger     *logging.Logger
	lookPath   func(string) (string, error)
	getenv     func(string) string
}

func NewResolver(opts ResolverOptions, downloader Downloader, runner *Runner, logger *logging.Logger) *Resolver {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.Bootstrap.InstallWait <= 0 {
		opts.Bootstrap.InstallWait = DefaultInstallWait
	}
	if opts.GOOS == "windows" {
		if opts.Bootstrap.InstallerURL == "" {
			opts.Bootstrap.InstallerURL = DefaultWindowsInstallerURL
		}
		if opts.Bootstrap.ArchiveURL == "" {
			opts.Bootstrap.ArchiveURL = DefaultWindowsArchiveURL
		}
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if runner == nil {
		runner = NewRunner(logger)
	}
	return &Resolver{
		opts:       opts,
		downloader: downloader,
		runner:     runner,
		logger:     logger,
		lookPath:   exec.LookPath,
		getenv:     os.Getenv,
	}
}

func (r *Resolver) candidates() []candidate {
	var list []candidate
	for _, extra := range r.opts.ExtraCandidates {
		list = append(list, candidate{path: extra})
	}

	bundled := ""
	if r.opts.BinDir != "" {
		bundled = filepath.Join(r.opts.BinDir, BundledDirName)
	}

	if r.opts.GOOS == "windows" {
		if bundled != "" {
			list = append(list, candidate{path: filepath.Join(bundled, "7z.exe")})
		}
		list = append(list, r.managedCandidates()...)
		if programFiles := r.getenv("ProgramFiles"); programFiles != "" {
			list = append(list, candidate{path: filepath.Join(programFiles, "7-Zip", "7z.exe")})
		}
		if r.opts.SearchPath {
			list = append(list, candidate{path: "7z.exe", onPath: true})
		}
		return list
	}

	if bundled != "" {
		list = append(list,
			candidate{path: filepath.Join(bundled, "7za")},
			candidate{path: filepath.Join(r.opts.BinDir, "..", "..", "external", "macosx", "p7zip", "7za")},
		)
	}
	list = append(list, r.managedCandidates()...)
	if r.opts.SearchPath {
		for _, name := range []string{"7za", "7z", "7zz"} {
			list = append(list, candidate{path: name, onPath: true})
		}
	}
	return list
}

func (r *Resolver) managedCandidates() []candidate {
	if r.opts.ManagedDir == "" {
		return nil
	}
	names := []string{"7za", "7zz"}
	if r.opts.GOOS == "windows" {
		names = []string{"7za.exe", "7z.exe"}
	}
	list := make([]candidate, 0, len(names))
	for _, name := range names {
		list = append(list, candidate{path: filepath.Join(r.opts.ManagedDir, name)})
	}
	return list
}

// Candidates lists every location Resolve checks, in order.
func (r *Resolver) Candidates() []string {
	list := r.candidates()
	paths := make([]string, 0, len(list))
	for _, c := range list {
		paths = append(paths, c.path)
	}
	return paths
}

func (r *Resolver) find(list []candidate) (string, bool) {
	for _, c := range list {
		if c.onPath {
			if found, err := r.lookPath(c.path); err == nil {
				return found, true
			}
			continue
		}
		if isRegularFile(c.path) {
			return filepath.Clean(c.path), true
		}
	}
	return "", false
}

// Resolve returns the first existing candidate. When none exists and
// bootstrap is enabled, the archiver is installed into the managed
// directory first. Any failure yields a *BinaryNotFoundError.
func (r *Resolver) Resolve(ctx context.Context) (string, error) {
	list := r.candidates()
	if found, ok := r.find(list); ok {
		r.logger.Debug("archiver binary resolved", zap.String("path", found))
		return found, nil
	}

	notFound := &BinaryNotFoundError{Candidates: r.Candidates()}
	if !r.opts.Bootstrap.Enabled {
		return "", notFound
	}

	r.logger.Info("archiver binary not found, bootstrapping",
		zap.String("managed_dir", r.opts.ManagedDir),
	)
	installed, err := r.bootstrap(ctx)
	if err != nil {
		r.logger.Error("archiver bootstrap failed", zap.Error(err))
		notFound.Cause = err
		return "", notFound
	}

	r.logger.Info("archiver binary bootstrapped", zap.String("path", installed))
	return installed, nil
}

func (r *Resolver) bootstrap(ctx context.Context) (string, error) {
	opts := r.opts.Bootstrap
	if r.opts.ManagedDir == "" {
		return "", errors.New("bootstrap requires a managed directory")
	}
	if opts.InstallerURL == "" || opts.ArchiveURL == "" {
		return "", errors.New("bootstrap installer and archive URLs are not configured")
	}
	if r.downloader == nil {
		return "", errors.New("bootstrap requires a downloader")
	}

	bootDir := filepath.Join(r.opts.ManagedDir, bootstrapDirName)

	installer, err := r.downloader.Download(ctx, opts.InstallerURL, filepath.Join(bootDir, executableName(r.opts.GOOS, "7zr")))
	if err != nil {
		return "", fmt.Errorf("failed to download installer: %w", err)
	}
	if err := os.Chmod(installer, 0755); err != nil {
		return "", fmt.Errorf("failed to mark installer executable: %w", err)
	}

	archive, err := r.downloader.Download(ctx, opts.ArchiveURL, filepath.Join(bootDir, archiveFileName(opts.ArchiveURL)))
	if err != nil {
		return "", fmt.Errorf("failed to download archive: %w", err)
	}

	if err := r.removeManagedInstall(); err != nil {
		return "", err
	}

	spec := RunSpec{
		Binary: installer,
		Args:   CommandLine{cmdExtract, flagAssumeYes, archive, flagOutputDir + r.opts.ManagedDir},
	}
	h, err := r.runner.Run(ctx, spec, NewDispatcher(Callbacks{}, r.logger, false), opts.InstallWait)
	if errors.Is(err, ErrWaitBudgetExceeded) {
		_ = h.Terminate()
		<-h.Done()
		return "", fmt.Errorf("installer did not finish within %s: %w", opts.InstallWait, err)
	}
	if err != nil {
		return "", fmt.Errorf("failed to run installer: %w", err)
	}
	if result := h.Result(); !result.Success {
		return "", fmt.Errorf("installer failed: %w", result.Err)
	}

	installed, ok := r.find(r.managedCandidates())
	if !ok {
		return "", fmt.Errorf("installer finished but no archiver was found in %s", r.opts.ManagedDir)
	}
	if err := os.Chmod(installed, 0755); err != nil {
		return "", fmt.Errorf("failed to mark archiver executable: %w", err)
	}
	return installed, nil
}

// removeManagedInstall clears the managed directory except for the
// downloaded bootstrap files.
func (r *Resolver) removeManagedInstall() error {
	entries, err := os.ReadDir(r.opts.ManagedDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read managed directory: %w", err)
	}
	for _, entry := range entries {
		if entry.Name() == bootstrapDirName {
			continue
		}
		if err := os.RemoveAll(filepath.Join(r.opts.ManagedDir, entry.Name())); err != nil {
			return fmt.Errorf("failed to remove previous installation: %w", err)
		}
	}
	return nil
}

func archiveFileName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if name := path.Base(u.Path); name != "" && name != "." && name != "/" {
			return name
		}
	}
	return "7z-extra.7z"
}
