package main

import (
	"fmt"
	"os"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/webhook"
)

// calc_signature.go - Utility to sign a webhook payload for local testing
//
// Usage:
//   go run scripts/calc_signature.go <secret> <payload_file>
//
// Example:
//   go run scripts/calc_signature.go devsecret testdata/approved.json
//   curl -X POST localhost:3000/v1/webhooks/generic \
//     -H "X-Signature: <output>" --data-binary @testdata/approved.json

func main() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: go run calc_signature.go <secret> <payload_file>")
		os.Exit(1)
	}

	body, err := os.ReadFile(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "read payload: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(webhook.Sign([]byte(os.Args[1]), body))
}
