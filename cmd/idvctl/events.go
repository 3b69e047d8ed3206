package main

import (
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
)

var eventsCmd = &cobra.Command{
	Use:     "events",
	Short:   "List ledger events, newest first",
	GroupID: "ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		vendor, _ := cmd.Flags().GetString("vendor")
		subject, _ := cmd.Flags().GetString("subject")
		limit, _ := cmd.Flags().GetInt("limit")

		b, err := openBackend(ctx, 0)
		if err != nil {
			return err
		}
		defer b.Close()

		events, err := b.verification.ListEvents(ctx, repository.EventFilter{
			Status:     domain.ProcessingStatus(status),
			Vendor:     vendor,
			SubjectRef: subject,
			Limit:      limit,
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			return printJSON(events)
		}
		printEventTable(events)
		return nil
	},
}

func init() {
	eventsCmd.Flags().String("status", "", "filter by processing status (pending, success, error)")
	eventsCmd.Flags().String("vendor", "", "filter by vendor")
	eventsCmd.Flags().String("subject", "", "filter by subject reference")
	eventsCmd.Flags().Int("limit", 50, "maximum number of events")
}
