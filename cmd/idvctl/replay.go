package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/audit"
)

var replayCmd = &cobra.Command{
	Use:     "replay <event_row_id>",
	Short:   "Reset a failed event's retry budget and process it now",
	GroupID: "ledger",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid event id %q: %w", args[0], err)
		}
		maxRetries, _ := cmd.Flags().GetInt("max-retries")

		b, err := openBackend(ctx, maxRetries)
		if err != nil {
			return err
		}
		defer b.Close()

		disp, err := b.verification.WithAudit(audit.NewSlogLogger(b.logger)).ReplayEvent(ctx, id, actor)
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(map[string]string{"id": id.String(), "disposition": string(disp)})
		}
		fmt.Printf("Event %s: %s\n", id, disp)
		return nil
	},
}

func init() {
	replayCmd.Flags().Int("max-retries", 8, "retry budget after which the event fails permanently")
}
