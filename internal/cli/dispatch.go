package cli

import (
	"github.com/doorstephq/doorstep-cloud/internal/app"
	"github.com/spf13/cobra"
)

func newDispatchCmd() *cobra.Command {
	var batchSize int

	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Process one batch of due outbox events and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunDispatchOnce(batchSize)
		},
	}

	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Maximum events to process (0 uses the configured batch size)")

	return cmd
}
