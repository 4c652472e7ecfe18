package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// Repository persists the idempotency ledger and the authoritative
// subscription records.
type Repository interface {
	// InsertEvent appends to the ledger. Returns false when the
	// (provider, provider_event_id) pair already exists.
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id snowflake.ID, processedAt time.Time) error

	FindRecordByUserID(ctx context.Context, db *gorm.DB, userID int64) (*SubscriptionRecord, error)

	// UpsertRecord writes the record in a single statement guarded by an
	// optimistic version check. On insert record.Version must be 1 and
	// expectedVersion 0; on update record.Version must be
	// expectedVersion+1. Returns false when the guard lost the race.
	UpsertRecord(ctx context.Context, db *gorm.DB, record *SubscriptionRecord, expectedVersion int64) (bool, error)

	// IncrementUsage bumps a usage counter without exceeding its quota.
	// Returns false when the record is missing or the quota is exhausted.
	IncrementUsage(ctx context.Context, db *gorm.DB, userID int64, counter string, amount int, now time.Time) (bool, error)
}
