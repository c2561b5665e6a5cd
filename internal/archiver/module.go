package archiver

import (
	"context"

	"github.com/tech-arch1tect/berth-archiver/config"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"go.uber.org/fx"
)

var Module = fx.Options(
	fx.Provide(NewBinaryCache),
	fx.Provide(NewRunner),
	fx.Provide(NewDownloaderFromConfig),
	fx.Provide(NewResolverFromConfig),
	fx.Provide(NewProberFromConfig),
	fx.Provide(NewFactory),
	fx.Provide(NewBinaryWatcherFromConfig),
	fx.Invoke(RegisterWatcher),
)

func NewDownloaderFromConfig(cfg *config.Config, logger *logging.Logger) Downloader {
	ac := cfg.Archiver
	if ac.FetchMode == config.FetchModeNative {
		return NewHTTPDownloader(nil, ac.DownloadTimeout, logger)
	}
	return NewFetchToolDownloader(ac.BinDir, ac.FetchTools, ac.DownloadTimeout, logger)
}

func NewResolverFromConfig(cfg *config.Config, downloader Downloader, runner *Runner, logger *logging.Logger) *Resolver {
	ac := cfg.Archiver
	return NewResolver(ResolverOptions{
		BinDir:          ac.BinDir,
		ManagedDir:      ac.ManagedDir,
		ExtraCandidates: ac.Candidates,
		SearchPath:      ac.SearchPath,
		Bootstrap: BootstrapOptions{
			Enabled:      ac.BootstrapEnabled,
			InstallerURL: ac.InstallerURL,
			ArchiveURL:   ac.ArchiveURL,
			InstallWait:  ac.InstallTimeout,
		},
	}, downloader, runner, logger)
}

func NewProberFromConfig(cfg *config.Config, logger *logging.Logger) *Prober {
	return NewProber(cfg.Archiver.ProbeTimeout, logger)
}

// Factory builds orchestrators that share one binary cache, so a server
// running many operations resolves and probes the archiver once.
type Factory struct {
	cache    *BinaryCache
	resolver *Resolver
	prober   *Prober
	runner   *Runner
	logger   *logging.Logger
	cfg      config.ArchiverConfig
}

func NewFactory(cfg *config.Config, cache *BinaryCache, resolver *Resolver, prober *Prober, runner *Runner, logger *logging.Logger) *Factory {
	return &Factory{
		cache:    cache,
		resolver: resolver,
		prober:   prober,
		runner:   runner,
		logger:   logger,
		cfg:      cfg.Archiver,
	}
}

func (f *Factory) New() *Orchestrator {
	return New(Options{
		Cache:           f.cache,
		Locator:         f.resolver,
		Prober:          f.prober,
		Runner:          f.runner,
		Logger:          f.logger,
		WaitBudget:      f.cfg.WaitBudget,
		DetachOnTimeout: f.cfg.DetachOnTimeout,
		Shell:           f.cfg.ShellMode,
		Debug:           f.cfg.Debug,
	})
}

// Binary resolves and probes the shared archiver without starting a task.
func (f *Factory) Binary(ctx context.Context) (Binary, error) {
	return f.New().Binary(ctx)
}

// Cached reports the binary already held by the shared cache, if any.
func (f *Factory) Cached() (Binary, bool) {
	return f.cache.Snapshot()
}

func (f *Factory) Candidates() []string {
	return f.resolver.Candidates()
}

func (f *Factory) Cache() *BinaryCache {
	return f.cache
}

func NewBinaryWatcherFromConfig(cfg *config.Config, cache *BinaryCache, logger *logging.Logger) *BinaryWatcher {
	if !cfg.Archiver.WatchBinary {
		return nil
	}
	return NewBinaryWatcher(cache, logger)
}

func RegisterWatcher(lc fx.Lifecycle, watcher *BinaryWatcher) {
	if watcher == nil {
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return watcher.Start()
		},
		OnStop: func(ctx context.Context) error {
			watcher.Stop()
			return nil
		},
	})
}
