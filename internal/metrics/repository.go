package metrics

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// Backlog states reported by the aggregator.
const (
	StatePending   = "pending"
	StateRetrying  = "retrying"
	StatePermanent = "permanent"
)

// Querier is satisfied by *pgxpool.Pool.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Repository reads ledger health figures for the backlog gauges
type Repository struct {
	db Querier
}

// NewRepository creates a new metrics repository
func NewRepository(db Querier) *Repository {
	return &Repository{db: db}
}

// Backlog counts ledger events that are not successfully processed, keyed by state.
// Every state is present in the result, zero when absent.
func (r *Repository) Backlog(ctx context.Context) (map[string]int, error) {
	query := `
		SELECT
			CASE
				WHEN permanent THEN 'permanent'
				WHEN processing_status = 'pending' THEN 'pending'
				ELSE 'retrying'
			END AS state,
			COUNT(*)
		FROM verification_events
		WHERE processing_status <> 'success'
		GROUP BY 1
	`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query backlog: %w", err)
	}
	defer rows.Close()

	counts := map[string]int{StatePending: 0, StateRetrying: 0, StatePermanent: 0}
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("scan backlog: %w", err)
		}
		counts[state] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate backlog: %w", err)
	}

	return counts, nil
}
