package domain

import (
	"context"
	"errors"
	"net/http"
)

var (
	ErrInvalidProvider      = errors.New("invalid_provider")
	ErrProviderNotSupported = errors.New("provider_not_supported")
	ErrInvalidSignature     = errors.New("invalid_signature")
	ErrInvalidPayload       = errors.New("invalid_payload")
	ErrInvalidEvent         = errors.New("invalid_event")
	ErrEventIgnored         = errors.New("event_ignored")
	ErrWebhookNotConfigured = errors.New("webhook_not_configured")
	ErrRecordNotFound       = errors.New("record_not_found")
	ErrRecordConflict       = errors.New("record_conflict")
	ErrInvalidUserID        = errors.New("invalid_user_id")
	ErrInvalidUsageCounter  = errors.New("invalid_usage_counter")
	ErrInvalidUsageAmount   = errors.New("invalid_usage_amount")
	ErrQuotaExceeded        = errors.New("quota_exceeded")
)

// Outcome classifies how an inbound webhook delivery was handled. Every
// outcome is acknowledged with a success status so the processor stops
// redelivering.
type Outcome string

const (
	OutcomeProcessed Outcome = "processed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeOrphaned  Outcome = "orphaned"
	OutcomeDuplicate Outcome = "duplicate"
)

// Usage counters exposed by the usage endpoint.
const (
	CounterContactViews  = "contact_views"
	CounterProfileBoosts = "profile_boosts"
)

// AdapterConfig carries the per-provider verification material.
type AdapterConfig struct {
	WebhookSecret string
}

// WebhookAdapter verifies and parses raw provider payloads into the
// canonical BillingEvent. Verify operates on the exact raw bytes that
// were signed.
type WebhookAdapter interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*BillingEvent, error)
}

// AdapterFactory builds a WebhookAdapter for one provider.
type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (WebhookAdapter, error)
}

type RecordUsageRequest struct {
	UserID  int64  `json:"-"`
	Counter string `json:"counter"`
	Amount  int    `json:"amount"`
}

// Service folds canonical billing events into subscription records and
// serves entitlement reads.
type Service interface {
	ProcessEvent(ctx context.Context, event *BillingEvent) (Outcome, error)
	GetRecord(ctx context.Context, userID int64) (*SubscriptionRecord, error)
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*SubscriptionRecord, error)
}

// WebhookService is the ingestion edge: verify, parse, then hand the
// canonical event to Service.
type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (Outcome, error)
}
