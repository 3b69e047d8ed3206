package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:     "status <subject_ref>",
	Short:   "Show the canonical verification record for a subject",
	GroupID: "records",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		b, err := openBackend(ctx, 0)
		if err != nil {
			return err
		}
		defer b.Close()

		rec, err := b.verification.GetVerificationStatus(ctx, args[0])
		if err != nil {
			return err
		}
		if rec == nil {
			return fmt.Errorf("no verification record for %q", args[0])
		}

		if jsonOutput {
			return printJSON(rec)
		}
		printRecord(rec)
		return nil
	},
}
