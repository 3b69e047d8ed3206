package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/retry"
)

var sweepCmd = &cobra.Command{
	Use:     "sweep",
	Short:   "Run one retry sweep over pending and failed events",
	GroupID: "ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		maxRetries, _ := cmd.Flags().GetInt("max-retries")
		batch, _ := cmd.Flags().GetInt("batch")
		concurrency, _ := cmd.Flags().GetInt("concurrency")
		grace, _ := cmd.Flags().GetDuration("grace")

		b, err := openBackend(ctx, maxRetries)
		if err != nil {
			return err
		}
		defer b.Close()

		sup := retry.NewSupervisor(retry.Config{
			PendingGrace: grace,
			BatchSize:    batch,
			Concurrency:  concurrency,
			MaxRetries:   maxRetries,
		}, b.ledger, b.ingest, b.logger)

		res, err := sup.Sweep(ctx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(res)
		}
		fmt.Println("Sweep")
		fmt.Printf("  Retried:            %d\n", res.Retried)
		fmt.Printf("  Succeeded:          %d\n", res.Succeeded)
		fmt.Printf("  Permanently failed: %d\n", res.PermanentlyFailed)
		return nil
	},
}

func init() {
	sweepCmd.Flags().Int("max-retries", 8, "retry budget after which events fail permanently")
	sweepCmd.Flags().Int("batch", 100, "maximum events to re-drive")
	sweepCmd.Flags().Int("concurrency", 8, "events re-driven in parallel")
	sweepCmd.Flags().Duration("grace", time.Minute, "leave pending events younger than this alone")
}
