package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/saturnino-fabrica-de-software/idvsync/internal/config"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/database"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/ingest"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/repository"
	"github.com/saturnino-fabrica-de-software/idvsync/internal/service"
)

var (
	jsonOutput bool
	verbose    bool
	actor      string
)

// backend is the direct database wiring shared by the operator commands.
type backend struct {
	pool         *pgxpool.Pool
	ledger       *repository.EventLedger
	ingest       *ingest.Service
	verification *service.VerificationService
	logger       *slog.Logger
}

func openBackend(ctx context.Context, maxRetries int) (*backend, error) {
	cfg, err := config.LoadDatabase()
	if err != nil {
		return nil, err
	}

	pool, err := database.NewPool(ctx, database.DefaultPoolConfig(cfg.DatabaseURL))
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if verbose {
		logger = config.NewLogger("development")
	}

	ledger := repository.NewEventLedger(pool)
	records := repository.NewRecordStore(pool)

	// Stored events were verified on receipt, so redrive needs no secrets
	ing := ingest.NewService(ingest.Config{MaxRetries: maxRetries}, ledger, records, nil, logger)

	return &backend{
		pool:         pool,
		ledger:       ledger,
		ingest:       ing,
		verification: service.NewVerificationService(records, ledger, ing).WithLogger(logger),
		logger:       logger,
	}, nil
}

func (b *backend) Close() {
	b.pool.Close()
}

var rootCmd = &cobra.Command{
	Use:           "idvctl <command>",
	Short:         "Operator CLI for the idvsync verification ledger",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log processing details to stdout")
	rootCmd.PersistentFlags().StringVar(&actor, "actor", defaultActor(), "actor recorded in the audit log")

	rootCmd.AddGroup(
		&cobra.Group{ID: "records", Title: "Records:"},
		&cobra.Group{ID: "ledger", Title: "Ledger:"},
		&cobra.Group{ID: "tools", Title: "Tools:"},
	)

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(eventsCmd)
	rootCmd.AddCommand(replayCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(signCmd)
}

func defaultActor() string {
	if u := os.Getenv("USER"); u != "" {
		return "cli:" + u
	}
	return "cli"
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
