package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tech-arch1tect/berth-archiver/config"
	"github.com/tech-arch1tect/berth-archiver/internal/archiver"
	"github.com/tech-arch1tect/berth-archiver/internal/logging"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

var (
	infoColor    = color.New(color.FgCyan)
	successColor = color.New(color.FgGreen)
	failureColor = color.New(color.FgRed)
	labelColor   = color.New(color.Bold)
)

type taskFlags struct {
	filter   string
	debug    bool
	blocking bool
	quiet    bool
}

const (
	compressFilterUsage = "Exclude entries matching this wildcard from the archive (7-Zip -xr!)"
	extractFilterUsage  = "Only extract entries matching this wildcard"
)

// register binds the task flags. The filter excludes on compress and
// selects on extract, so each command supplies its own usage text.
func (f *taskFlags) register(cmd *cobra.Command, filterUsage string) {
	cmd.Flags().StringVar(&f.filter, "filter", "", filterUsage)
	cmd.Flags().BoolVar(&f.debug, "debug", false, "Trace archiver output to the log")
	cmd.Flags().BoolVar(&f.blocking, "blocking", false, "Give up after the configured wait budget (ARCHIVER_WAIT_BUDGET)")
	cmd.Flags().BoolVarP(&f.quiet, "quiet", "q", false, "Hide the progress bar")
}

// newArchiverFactory builds the same object graph archiver.Module provides
// to the server, without an fx app.
func newArchiverFactory() (*archiver.Factory, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, err
	}

	level := "warn"
	if verbose {
		level = "debug"
	}
	logger, err := logging.NewLogger(level)
	if err != nil {
		return nil, err
	}

	runner := archiver.NewRunner(logger)
	downloader := archiver.NewDownloaderFromConfig(cfg, logger)
	resolver := archiver.NewResolverFromConfig(cfg, downloader, runner, logger)
	prober := archiver.NewProberFromConfig(cfg, logger)
	return archiver.NewFactory(cfg, archiver.NewBinaryCache(), resolver, prober, runner, logger), nil
}

func newCompressCmd() *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "compress <source> <archive>",
		Short: "Compress a file or directory into an archive",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, archivePath, err := absPaths(args[0], args[1])
			if err != nil {
				return err
			}
			task := archiver.NewCompressTask(source, archivePath, flags.filter).WithDebug(flags.debug)
			return runTask(cmd.Context(), task, flags)
		},
	}
	flags.register(cmd, compressFilterUsage)
	return cmd
}

func newExtractCmd() *cobra.Command {
	var flags taskFlags
	cmd := &cobra.Command{
		Use:   "extract <archive> <destination>",
		Short: "Extract an archive into a directory",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			archivePath, destination, err := absPaths(args[0], args[1])
			if err != nil {
				return err
			}
			task := archiver.NewExtractTask(archivePath, destination, flags.filter).WithDebug(flags.debug)
			return runTask(cmd.Context(), task, flags)
		},
	}
	flags.register(cmd, extractFilterUsage)
	return cmd
}

func absPaths(paths ...string) (string, string, error) {
	abs := make([]string, len(paths))
	for i, p := range paths {
		a, err := filepath.Abs(p)
		if err != nil {
			return "", "", fmt.Errorf("invalid path %q: %w", p, err)
		}
		abs[i] = a
	}
	return abs[0], abs[1], nil
}

func runTask(parent context.Context, task archiver.Task, flags taskFlags) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	factory, err := newArchiverFactory()
	if err != nil {
		return err
	}
	orchestrator := factory.New()

	bar := newProgressBar(task.Operation, flags.quiet)
	callbacks := archiver.Callbacks{
		OnStart: func() {
			infoColor.Fprintf(os.Stderr, "%s %s -> %s\n", task.Operation, task.Source, task.Destination)
		},
		OnProgress: func(percent int) {
			_ = bar.Set(percent)
		},
	}

	var result archiver.Result
	if flags.blocking {
		result = orchestrator.Run(ctx, task, callbacks)
	} else {
		handle, err := orchestrator.Start(ctx, task, callbacks)
		if err == nil {
			<-handle.Done()
		}
		result = handle.Result()
	}

	if !result.Success {
		_ = bar.Exit()
		fmt.Fprintln(os.Stderr)
		if result.Output != "" {
			fmt.Fprintln(os.Stderr, result.Output)
		}
		failureColor.Fprintf(os.Stderr, "✗ %s failed (exit code %d)\n", task.Operation, result.ExitCode)
		if result.Err == nil {
			return fmt.Errorf("%s failed with exit code %d", task.Operation, result.ExitCode)
		}
		return result.Err
	}

	_ = bar.Finish()
	fmt.Fprintln(os.Stderr)
	successColor.Fprintf(os.Stderr, "✓ %s finished in %s\n", task.Operation, result.Duration.Round(time.Millisecond))
	return nil
}

func newProgressBar(operation archiver.Operation, quiet bool) *progressbar.ProgressBar {
	if quiet {
		return progressbar.DefaultSilent(100)
	}
	return progressbar.NewOptions(100,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription(string(operation)),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}

func newProbeCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Resolve the archiver binary and report its version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := newArchiverFactory()
			if err != nil {
				return err
			}
			binary, err := factory.Binary(cmd.Context())
			if err != nil {
				return err
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(binary)
			}

			out := cmd.OutOrStdout()
			version := binary.RawVersion
			if version == "" {
				version = "unknown"
			}
			capabilities := binary.Capabilities.String()
			if capabilities == "" {
				capabilities = "none"
			}
			fmt.Fprintf(out, "%s %s\n", labelColor.Sprint("Path:        "), binary.Path)
			fmt.Fprintf(out, "%s %s\n", labelColor.Sprint("Version:     "), version)
			fmt.Fprintf(out, "%s %s\n", labelColor.Sprint("Capabilities:"), capabilities)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the result as JSON")
	return cmd
}

func newResolveCmd() *cobra.Command {
	var listCandidates bool
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the path of the archiver binary, bootstrapping it if enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			factory, err := newArchiverFactory()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if listCandidates {
				for _, candidate := range factory.Candidates() {
					fmt.Fprintln(out, candidate)
				}
				return nil
			}

			binary, err := factory.Binary(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(out, binary.Path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&listCandidates, "candidates", false, "List the locations searched instead of resolving")
	return cmd
}
