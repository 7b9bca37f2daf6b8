package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/askiada/go-cmodel/pkg/pipeline"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run SCENE",
		Short: "Measure every source of a scene",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			m, err := a.prepare(ctx, args[0])
			if err != nil {
				return err
			}
			defer m.Close()

			summary, err := a.runBatch(ctx, m, uuid.NewString(), func(b *pipeline.Batch) (*pipeline.Summary, error) {
				return b.Run(ctx, m.exposure, m.sources)
			})
			if err != nil {
				return err
			}
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}
}
