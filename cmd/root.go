// SPDX-License-Identifier: MIT
package cmd

import (
	"context"

	"dsoscope/internal/config"
	"dsoscope/internal/log"
	"dsoscope/pkg/build"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const shortDescription = "Capture multi-channel signals into an oscilloscope snapshot"

// options are the persistent flags and the configuration they resolve to.
type options struct {
	configPath string
	verbose    bool
	cfg        *config.Config
}

func (o *options) load() error {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return err
	}
	if o.verbose || cfg.Debug {
		cfg.LogLevel = "debug"
	}
	level, ok := log.ParseLevel(cfg.LogLevel)
	if !ok {
		return errors.Errorf("unknown log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)
	o.cfg = cfg
	return nil
}

// NewRootCommand builds the dsoscope command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}
	buildInfo := build.GetBuildFlags()

	rootCmd := &cobra.Command{
		Use:           "dsoscope",
		Short:         shortDescription,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load()
		},
	}
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "f", "",
		"Configuration file (default: config.yaml or dsoscope.yaml in the working directory)")
	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false,
		"Show verbose output")

	rootCmd.AddCommand(
		newListCommand(opts),
		newCaptureCommand(opts),
		newSimulateCommand(opts),
		newCapturesCommand(opts),
		newExportCommand(opts),
	)
	return rootCmd
}

// Execute runs the command line with args.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
