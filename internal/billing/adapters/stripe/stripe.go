package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/matchwell/entitlements/internal/billing/domain"
)

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg domain.AdapterConfig) (domain.WebhookAdapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, domain.ErrWebhookNotConfigured
	}
	return &Adapter{webhookSecret: secret}, nil
}

type Adapter struct {
	webhookSecret string
}

// Verify checks the v1 HMAC-SHA256 signature over "<t>.<raw payload>".
// The payload bytes must be the literal request body; any re-encoding
// would change the digest.
func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return domain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseStripeSignature(sigHeader)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return domain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*domain.BillingEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, domain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "customer.subscription.created":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionCreated)
	case "customer.subscription.updated":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionUpdated)
	case "customer.subscription.deleted":
		return a.parseSubscription(event, payload, domain.EventTypeSubscriptionDeleted)
	case "invoice.payment_succeeded":
		return a.parseInvoice(event, payload, domain.EventTypePaymentSucceeded)
	case "invoice.payment_failed":
		return a.parseInvoice(event, payload, domain.EventTypePaymentFailed)
	case "customer.created":
		return a.parseCustomer(event, payload)
	default:
		return nil, domain.ErrEventIgnored
	}
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeSubscription struct {
	ID                 string                  `json:"id"`
	Customer           string                  `json:"customer"`
	Status             string                  `json:"status"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end"`
	CurrentPeriodStart int64                   `json:"current_period_start"`
	CurrentPeriodEnd   int64                   `json:"current_period_end"`
	TrialEnd           int64                   `json:"trial_end"`
	Created            int64                   `json:"created"`
	Items              stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

type stripeInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	Created      int64  `json:"created"`
}

type stripeCustomer struct {
	ID      string `json:"id"`
	Created int64  `json:"created"`
}

func (a *Adapter) parseSubscription(event stripeEvent, payload []byte, eventType string) (*domain.BillingEvent, error) {
	var sub stripeSubscription
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	customer := strings.TrimSpace(sub.Customer)
	if customer == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := timestamp(sub.Created, event.Created)
	return &domain.BillingEvent{
		Provider:               "stripe",
		ProviderEventID:        event.ID,
		Type:                   eventType,
		ExternalCustomerID:     customer,
		ExternalSubscriptionID: strings.TrimSpace(sub.ID),
		PriceID:                firstPriceID(sub.Items),
		ExternalStatus:         strings.TrimSpace(sub.Status),
		CancelAtPeriodEnd:      sub.CancelAtPeriodEnd,
		CurrentPeriodStart:     unixTime(sub.CurrentPeriodStart),
		CurrentPeriodEnd:       unixTime(sub.CurrentPeriodEnd),
		TrialEnd:               unixTime(sub.TrialEnd),
		OccurredAt:             occurredAt,
		RawPayload:             payload,
	}, nil
}

func (a *Adapter) parseInvoice(event stripeEvent, payload []byte, eventType string) (*domain.BillingEvent, error) {
	var invoice stripeInvoice
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	customer := strings.TrimSpace(invoice.Customer)
	if customer == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := timestamp(invoice.Created, event.Created)
	return &domain.BillingEvent{
		Provider:               "stripe",
		ProviderEventID:        event.ID,
		Type:                   eventType,
		ExternalCustomerID:     customer,
		ExternalSubscriptionID: strings.TrimSpace(invoice.Subscription),
		OccurredAt:             occurredAt,
		RawPayload:             payload,
	}, nil
}

func (a *Adapter) parseCustomer(event stripeEvent, payload []byte) (*domain.BillingEvent, error) {
	var customer stripeCustomer
	if err := json.Unmarshal(event.Data.Object, &customer); err != nil {
		return nil, domain.ErrInvalidPayload
	}
	id := strings.TrimSpace(customer.ID)
	if id == "" {
		return nil, domain.ErrInvalidEvent
	}

	occurredAt := timestamp(customer.Created, event.Created)
	return &domain.BillingEvent{
		Provider:           "stripe",
		ProviderEventID:    event.ID,
		Type:               domain.EventTypeCustomerCreated,
		ExternalCustomerID: id,
		OccurredAt:         occurredAt,
		RawPayload:         payload,
	}, nil
}

func firstPriceID(items stripeSubscriptionItems) string {
	if len(items.Data) == 0 {
		return ""
	}
	return strings.TrimSpace(items.Data[0].Price.ID)
}

func parseStripeSignature(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func unixTime(value int64) *time.Time {
	if value == 0 {
		return nil
	}
	ts := time.Unix(value, 0).UTC()
	return &ts
}
