package service

import (
	"time"

	auditdomain "github.com/matchwell/entitlements/internal/audit/domain"
	"github.com/matchwell/entitlements/internal/billing/domain"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
)

// resolution is the outcome of folding one event into a record.
type resolution struct {
	record        domain.SubscriptionRecord
	action        string
	priceFallback bool
}

// baselineRecord is the record a user has before any billing event
// reached us: free plan, inactive, fresh counters.
func baselineRecord(catalog plandomain.Catalog, userID int64, now time.Time) domain.SubscriptionRecord {
	record := domain.SubscriptionRecord{
		UserID:    userID,
		Plan:      plandomain.PlanFree,
		Status:    domain.StatusInactive,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	record.ApplyBundle(catalog.EntitlementsFor(plandomain.PlanFree))
	return record
}

// resolveNext computes the next record from the current one and a single
// event. Events are authoritative snapshots, so subscription events
// replace the lifecycle fields wholesale instead of patching them.
// resolveNext never touches storage; the caller owns versioning and
// persistence.
func resolveNext(catalog plandomain.Catalog, userID int64, event *domain.BillingEvent, current *domain.SubscriptionRecord, now time.Time) (resolution, error) {
	var next domain.SubscriptionRecord
	if current != nil {
		next = *current
	} else {
		next = baselineRecord(catalog, userID, now)
	}
	next.UpdatedAt = now

	switch event.Type {
	case domain.EventTypeSubscriptionCreated, domain.EventTypeSubscriptionUpdated:
		plan, known := catalog.ResolvePrice(event.PriceID)
		planChanged := current == nil || current.Plan != plan
		if planChanged {
			next.ApplyBundle(catalog.EntitlementsFor(plan))
		}
		next.Plan = plan
		next.Status = resolveStatus(event)
		next.ExternalCustomerID = event.ExternalCustomerID
		next.ExternalSubscriptionID = event.ExternalSubscriptionID
		next.CurrentPeriodStart = event.CurrentPeriodStart
		next.CurrentPeriodEnd = event.CurrentPeriodEnd
		next.CancelAtPeriodEnd = event.CancelAtPeriodEnd
		next.TrialEnd = event.TrialEnd
		next.NextBillingAt = event.CurrentPeriodEnd

		action := auditdomain.ActionSubscriptionCreated
		if event.Type == domain.EventTypeSubscriptionUpdated {
			action = auditdomain.ActionSubscriptionUpdated
		}
		return resolution{record: next, action: action, priceFallback: !known}, nil

	case domain.EventTypeSubscriptionDeleted:
		next.Plan = plandomain.PlanFree
		next.ApplyBundle(catalog.EntitlementsFor(plandomain.PlanFree))
		next.Status = domain.StatusInactive
		next.ExternalSubscriptionID = ""
		next.CurrentPeriodStart = nil
		next.CurrentPeriodEnd = nil
		next.CancelAtPeriodEnd = false
		next.TrialEnd = nil
		next.NextBillingAt = nil
		return resolution{record: next, action: auditdomain.ActionSubscriptionDeleted}, nil

	case domain.EventTypePaymentSucceeded:
		occurredAt := event.OccurredAt
		next.Status = domain.StatusActive
		next.LastPaymentAt = &occurredAt
		if next.ExternalCustomerID == "" {
			next.ExternalCustomerID = event.ExternalCustomerID
		}
		return resolution{record: next, action: auditdomain.ActionPaymentSucceeded}, nil

	case domain.EventTypePaymentFailed:
		next.Status = domain.StatusPastDue
		if next.ExternalCustomerID == "" {
			next.ExternalCustomerID = event.ExternalCustomerID
		}
		return resolution{record: next, action: auditdomain.ActionPaymentFailed}, nil
	}

	return resolution{}, domain.ErrInvalidEvent
}

// resolveStatus maps the processor status. A freshly created
// subscription is trialing unless the processor already reports it
// active; updates carry the full status vocabulary through the total
// map, defaulting a status-less event to active.
func resolveStatus(event *domain.BillingEvent) domain.SubscriptionStatus {
	if event.Type == domain.EventTypeSubscriptionCreated {
		if event.ExternalStatus == string(domain.StatusActive) {
			return domain.StatusActive
		}
		return domain.StatusTrialing
	}
	if event.ExternalStatus == "" {
		return domain.StatusActive
	}
	return domain.MapExternalStatus(event.ExternalStatus)
}
