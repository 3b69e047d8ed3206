package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/webhook"
)

var signCmd = &cobra.Command{
	Use:     "sign <secret> [payload_file]",
	Short:   "Print the HMAC-SHA256 signature of a payload (stdin when no file)",
	GroupID: "tools",
	Args:    cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			body []byte
			err  error
		)
		if len(args) == 2 {
			body, err = os.ReadFile(args[1])
		} else {
			body, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return fmt.Errorf("read payload: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), webhook.Sign([]byte(args[0]), body))
		return nil
	},
}
