// Package domain contains the reconciliation models: the authoritative
// per-user subscription record and the inbound billing event shapes.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
	"gorm.io/datatypes"
)

// SubscriptionStatus represents lifecycle states for a subscription record.
type SubscriptionStatus string

const (
	StatusTrialing SubscriptionStatus = "trialing"
	StatusActive   SubscriptionStatus = "active"
	StatusPastDue  SubscriptionStatus = "past_due"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusInactive SubscriptionStatus = "inactive"
)

// MapExternalStatus is total over processor status vocabulary; anything
// unrecognized maps to inactive as the safe default.
func MapExternalStatus(external string) SubscriptionStatus {
	switch external {
	case "active":
		return StatusActive
	case "trialing":
		return StatusTrialing
	case "past_due":
		return StatusPastDue
	case "canceled":
		return StatusCanceled
	default:
		return StatusInactive
	}
}

// SubscriptionRecord is the single authoritative row per user. It is
// created by the first event that touches the user and never deleted;
// cancellation demotes it to the free plan instead.
//
// Entitlement columns apart from the *Used counters always hold exactly
// what the plan catalog returns for Plan.
type SubscriptionRecord struct {
	UserID                 int64                   `gorm:"primaryKey" json:"user_id"`
	ExternalCustomerID     string                  `gorm:"type:text;index" json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string                  `gorm:"type:text" json:"external_subscription_id,omitempty"`
	Plan                   plandomain.Plan         `gorm:"type:text;not null" json:"plan"`
	Status                 SubscriptionStatus      `gorm:"type:text;not null" json:"status"`
	CurrentPeriodStart     *time.Time              `json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time              `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool                    `gorm:"not null;default:false" json:"cancel_at_period_end"`
	TrialEnd               *time.Time              `json:"trial_end,omitempty"`
	ContactViewQuota       int                     `gorm:"not null;default:0" json:"contact_view_quota"`
	ContactViewsUsed       int                     `gorm:"not null;default:0" json:"contact_views_used"`
	ProfileBoosts          int                     `gorm:"not null;default:0" json:"profile_boosts"`
	ProfileBoostsUsed      int                     `gorm:"not null;default:0" json:"profile_boosts_used"`
	UnlimitedChat          bool                    `gorm:"not null;default:false" json:"unlimited_chat"`
	FeaturedPlacement      bool                    `gorm:"not null;default:false" json:"featured_placement"`
	AdvancedFilters        bool                    `gorm:"not null;default:false" json:"advanced_filters"`
	VideoCall              bool                    `gorm:"not null;default:false" json:"video_call"`
	PrioritySupport        bool                    `gorm:"not null;default:false" json:"priority_support"`
	LastPaymentAt          *time.Time              `json:"last_payment_at,omitempty"`
	NextBillingAt          *time.Time              `json:"next_billing_at,omitempty"`
	Version                int64                   `gorm:"not null;default:1" json:"version"`
	CreatedAt              time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt              time.Time               `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

func (SubscriptionRecord) TableName() string { return "subscription_records" }

// ApplyBundle replaces the entitlement columns with the bundle and
// resets both usage counters.
func (r *SubscriptionRecord) ApplyBundle(bundle plandomain.EntitlementBundle) {
	r.ContactViewQuota = bundle.ContactViewQuota
	r.ContactViewsUsed = 0
	r.ProfileBoosts = bundle.ProfileBoosts
	r.ProfileBoostsUsed = 0
	r.UnlimitedChat = bundle.UnlimitedChat
	r.FeaturedPlacement = bundle.FeaturedPlacement
	r.AdvancedFilters = bundle.AdvancedFilters
	r.VideoCall = bundle.VideoCall
	r.PrioritySupport = bundle.PrioritySupport
}

// Bundle returns the entitlement columns as a bundle value.
func (r *SubscriptionRecord) Bundle() plandomain.EntitlementBundle {
	return plandomain.EntitlementBundle{
		ContactViewQuota:  r.ContactViewQuota,
		ProfileBoosts:     r.ProfileBoosts,
		UnlimitedChat:     r.UnlimitedChat,
		FeaturedPlacement: r.FeaturedPlacement,
		AdvancedFilters:   r.AdvancedFilters,
		VideoCall:         r.VideoCall,
		PrioritySupport:   r.PrioritySupport,
	}
}

// EventRecord is the idempotency ledger row for one delivered webhook
// event. Redeliveries of a processed event are acknowledged without
// reprocessing.
type EventRecord struct {
	ID                 snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider           string         `gorm:"type:text;not null" json:"provider"`
	ProviderEventID    string         `gorm:"type:text;not null" json:"provider_event_id"`
	EventType          string         `gorm:"type:text;not null" json:"event_type"`
	ExternalCustomerID string         `gorm:"type:text;not null" json:"external_customer_id"`
	Payload            datatypes.JSON `gorm:"type:jsonb;not null" json:"payload"`
	ReceivedAt         time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt        *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "billing_events" }

// Billing event types, the closed set the parser may emit.
const (
	EventTypeSubscriptionCreated = "subscription_created"
	EventTypeSubscriptionUpdated = "subscription_updated"
	EventTypeSubscriptionDeleted = "subscription_deleted"
	EventTypePaymentSucceeded    = "payment_succeeded"
	EventTypePaymentFailed       = "payment_failed"
	EventTypeCustomerCreated     = "customer_created"
)

// BillingEvent is the canonical event parsed by adapters. Each event is
// treated as an authoritative snapshot of the subscription, not a diff.
type BillingEvent struct {
	Provider               string
	ProviderEventID        string
	Type                   string
	ExternalCustomerID     string
	ExternalSubscriptionID string
	PriceID                string
	ExternalStatus         string
	CancelAtPeriodEnd      bool
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	TrialEnd               *time.Time
	OccurredAt             time.Time
	RawPayload             []byte
}
