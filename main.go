package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	noColor bool
	verbose bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "berth-archiver",
		Short: "Drive the 7-Zip archiver locally or as an HTTP service",
		Long: `berth-archiver locates (and optionally provisions) a 7-Zip binary and runs
compress and extract tasks through it, reporting progress as they run.

Without a subcommand it starts the HTTP service.

Examples:
  # Serve the archive API on $PORT
  berth-archiver serve

  # Compress a directory
  berth-archiver compress ./photos photos.7z

  # Extract only text files
  berth-archiver extract backup.7z ./restore --filter '*.txt'

  # Show which binary would be used
  berth-archiver probe`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor || os.Getenv("NO_COLOR") != "" {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			runServe()
			return nil
		},
	}

	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log archiver activity at debug level")

	cmd.AddCommand(
		newServeCmd(),
		newCompressCmd(),
		newExtractCmd(),
		newProbeCmd(),
		newResolveCmd(),
	)
	return cmd
}
