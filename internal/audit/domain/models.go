package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

type ActorType string

const (
	ActorTypeSystem ActorType = "system"
)

// Actions recorded by the reconciliation pipeline.
const (
	ActionSubscriptionCreated  = "billing.subscription_created"
	ActionSubscriptionUpdated  = "billing.subscription_updated"
	ActionSubscriptionDeleted  = "billing.subscription_deleted"
	ActionPaymentSucceeded     = "billing.payment_succeeded"
	ActionPaymentFailed        = "billing.payment_failed"
	ActionCustomerCreated      = "billing.customer_created"
	ActionOrphanedEvent        = "billing.orphaned_event"
	ActionUnknownPriceFallback = "billing.unknown_price_fallback"
)

// AuditLog entries are append-only; nothing in this service updates or
// deletes a row once written.
type AuditLog struct {
	ID         snowflake.ID      `gorm:"primaryKey" json:"id"`
	ActorType  string            `gorm:"type:text;not null" json:"actor_type"`
	ActorID    *string           `gorm:"type:text" json:"actor_id,omitempty"`
	Action     string            `gorm:"type:text;not null" json:"action"`
	TargetType string            `gorm:"type:text;not null" json:"target_type"`
	TargetID   *string           `gorm:"type:text" json:"target_id,omitempty"`
	Metadata   datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"metadata,omitempty"`
	CreatedAt  time.Time         `gorm:"not null" json:"created_at"`
}

func (AuditLog) TableName() string { return "audit_logs" }

type AuditCursor struct {
	ID        snowflake.ID
	CreatedAt time.Time
}

type ListFilter struct {
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
	Cursor     *AuditCursor
	Limit      int
}
