package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/askiada/go-cmodel/pkg/pipeline"
	"github.com/askiada/go-cmodel/pkg/table"
)

func newForcedCmd(a *app) *cobra.Command {
	var referenceRun string

	cmd := &cobra.Command{
		Use:   "forced SCENE",
		Short: "Measure a scene with the ellipses of a reference run",
		Long: `forced re-measures every source of a scene keeping the stage ellipses of a
previous run fixed, so that only the amplitudes are fit. The reference run
must have measured the same pixel grid.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := a.prepare(ctx, args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			if referenceRun == "" {
				referenceRun, err = table.LatestRun(ctx, m.db)
				if err != nil {
					return err
				}
			}
			references, err := table.LoadRecords(ctx, m.db, m.schema, referenceRun)
			if err != nil {
				return err
			}
			a.logger.Info("loaded reference run", zap.String("reference_run", referenceRun), zap.Int("records", len(references)))

			summary, err := a.runBatch(ctx, m, uuid.NewString(), func(b *pipeline.Batch) (*pipeline.Summary, error) {
				return b.RunForced(ctx, m.exposure, m.sources, references)
			})
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&referenceRun, "reference-run", "", "Run id of the reference measurement (default: latest run)")

	return cmd
}
