package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settlr/settlr/model"
)

// IDataSource defines the interface for ledger store operations, grouping related functionalities.
type IDataSource interface {
	intent       // Intent append/read/transition operations
	counterparty // Read-only counterparty directory
	analytics    // On-demand rollups over committed ledger state
}

// intent defines the ledger operations on payment intents.
type intent interface {
	RecordIntent(ctx context.Context, intent *model.PaymentIntent) (*model.PaymentIntent, error)                  // Appends a new intent; Conflict on duplicate id
	GetIntent(ctx context.Context, id string) (*model.PaymentIntent, error)                                       // Retrieves an intent by ID
	UpdateIntentStatus(ctx context.Context, id string, update model.StatusUpdate) error                           // Applies a monotonic status transition
	RecordAttempt(ctx context.Context, id string, at time.Time) (int, error)                                      // Increments the attempt counter, returns the new count
	ListIntents(ctx context.Context, filter model.IntentFilter, limit int, offset int64) ([]model.PaymentIntent, error) // Filtered, paginated listing
	GetResumableIntents(ctx context.Context, cutoff time.Time, limit int) ([]model.PaymentIntent, error)          // Non-terminal intents stale enough to resume
}

// counterparty defines the directory lookups consulted at intent creation.
type counterparty interface {
	GetCounterparty(ctx context.Context, accountID string) (*model.Counterparty, error)
	UpsertCounterparty(ctx context.Context, cp model.Counterparty) error
	AllCounterparties(ctx context.Context) ([]model.Counterparty, error)
}

// analytics defines the rollup queries of the query engine. All of them
// compute from current ledger state; nothing here is cached.
type analytics interface {
	RollupIntents(ctx context.Context, from, to time.Time, groupBy string, statuses []string) (map[string]model.RollupBucket, error)
	TopCounterparties(ctx context.Context, from, to time.Time, statuses []string, limit int) ([]model.CounterpartyTotal, error)
	SuspiciousIntents(ctx context.Context, threshold decimal.Decimal, statuses []string, limit int) ([]model.PaymentIntent, error)
}
