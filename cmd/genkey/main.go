package main

import (
	"fmt"
	"os"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/domain"
)

// Prints a query API key and the hash to put in QUERY_API_KEY_HASH.
// Usage: genkey [test|live]
func main() {
	env := domain.EnvLive
	if len(os.Args) > 1 {
		env = os.Args[1]
	}

	key, hash, prefix, err := domain.GenerateAPIKey(env)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
	fmt.Printf("KEY=%s\nQUERY_API_KEY_HASH=%s\nPREFIX=%s\n", key, hash, prefix)
}
