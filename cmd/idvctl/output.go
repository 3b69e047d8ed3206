package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

func printRecord(rec *domain.VerificationRecord) {
	fmt.Printf("Subject:       %s\n", rec.SubjectRef)
	fmt.Printf("Vendor:        %s\n", rec.Vendor)
	fmt.Printf("Status:        %s\n", rec.Status)
	fmt.Printf("Verified:      %t\n", rec.IsVerified)
	fmt.Printf("Last Event:    %s\n", rec.LastEventID)
	if rec.LastAdvancedAt != nil {
		fmt.Printf("Advanced At:   %s\n", rec.LastAdvancedAt.Format(time.RFC3339))
	}
	if rec.NeedsReview {
		reason := ""
		if rec.ReviewReason != nil {
			reason = *rec.ReviewReason
		}
		fmt.Printf("Needs Review:  %s\n", reason)
	}
	fmt.Printf("Updated At:    %s\n", rec.UpdatedAt.Format(time.RFC3339))
}

func printEventTable(events []domain.VerificationEvent) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tVENDOR\tSUBJECT\tTYPE\tSTATUS\tRETRIES\tRECEIVED\tERROR")
	for _, ev := range events {
		errMsg := ""
		if ev.Error != nil {
			errMsg = *ev.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			ev.ID, ev.Vendor, ev.SubjectRef, ev.EventType, ev.ProcessingStatus,
			ev.RetryCount, ev.ReceivedAt.Format(time.RFC3339), truncate(errMsg, 60))
	}
	_ = w.Flush()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
