package main

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/askiada/go-cmodel/internal/config"
	"github.com/askiada/go-cmodel/internal/logging"
)

// app holds the state shared by the sub commands.
type app struct {
	configPath string
	verbose    bool

	// flag overrides, applied on top of the config file
	concurrency int
	sqlitePath  string
	graphPath   string
	textfile    string

	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logger: zap.NewNop()}

	rootCmd := &cobra.Command{
		Use:   "cmodel",
		Short: "CModel galaxy photometry",
		Long: `cmodel fits exponential and de Vaucouleurs profiles to the sources of an
image and measures a composite flux from their best linear combination.

Scenes are described in YAML and rendered with the same Gaussian mixtures
used for fitting. Results are written to a SQLite catalog.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = a.logger.Sync()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().IntVar(&a.concurrency, "concurrency", 0, "Sources measured at the same time (default from config)")
	rootCmd.PersistentFlags().StringVarP(&a.sqlitePath, "output", "o", "", "SQLite catalog path (default from config)")
	rootCmd.PersistentFlags().StringVar(&a.graphPath, "graph", "", "Write the annotated stage graph to this DOT file")
	rootCmd.PersistentFlags().StringVar(&a.textfile, "metrics-textfile", "", "Write Prometheus metrics to this file")

	rootCmd.AddCommand(newRunCmd(a))
	rootCmd.AddCommand(newForcedCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))

	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("concurrency") {
		cfg.Pipeline.Concurrency = a.concurrency
	}
	if flags.Changed("output") {
		cfg.Output.SQLite = a.sqlitePath
	}
	if flags.Changed("graph") {
		cfg.Output.Graph = a.graphPath
	}
	if flags.Changed("metrics-textfile") {
		cfg.Metrics.Textfile = a.textfile
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid flags")
	}
	a.cfg = cfg

	logger, err := logging.New(cfg.Logging.Level, a.verbose)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}
