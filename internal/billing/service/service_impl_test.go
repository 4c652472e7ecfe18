package service_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"

	accountdomain "github.com/matchwell/entitlements/internal/account/domain"
	accountrepo "github.com/matchwell/entitlements/internal/account/repository"
	accountservice "github.com/matchwell/entitlements/internal/account/service"
	auditrepo "github.com/matchwell/entitlements/internal/audit/repository"
	auditservice "github.com/matchwell/entitlements/internal/audit/service"
	"github.com/matchwell/entitlements/internal/billing/adapters"
	"github.com/matchwell/entitlements/internal/billing/adapters/stripe"
	billingdomain "github.com/matchwell/entitlements/internal/billing/domain"
	billingrepo "github.com/matchwell/entitlements/internal/billing/repository"
	billingservice "github.com/matchwell/entitlements/internal/billing/service"
	billingwebhook "github.com/matchwell/entitlements/internal/billing/webhook"
	"github.com/matchwell/entitlements/internal/clock"
	"github.com/matchwell/entitlements/internal/config"
	"github.com/matchwell/entitlements/internal/plan/catalog"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
)

const stripeSecret = "whsec_test"

type testStack struct {
	db         *gorm.DB
	clock      *clock.FakeClock
	accountSvc accountdomain.Service
	billingSvc *billingservice.Service
	webhookSvc billingdomain.WebhookService
}

func buildTestStack(t *testing.T) *testStack {
	t.Helper()

	db := setupTestDB(t)
	node, err := snowflake.NewNode(10)
	if err != nil {
		t.Fatalf("new node: %v", err)
	}
	fakeClock := clock.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	accountSvc := accountservice.NewService(accountservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: fakeClock,
		Repo:  accountrepo.Provide(),
	})
	auditSvc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: fakeClock,
		Repo:  auditrepo.Provide(),
	})
	cat := catalog.NewFixed(zap.NewNop(), config.DefaultPriceTable())
	billingSvc := billingservice.NewService(billingservice.Params{
		DB:         db,
		Log:        zap.NewNop(),
		GenID:      node,
		Clock:      fakeClock,
		Catalog:    cat,
		AccountSvc: accountSvc,
		AuditSvc:   auditSvc,
		Repo:       billingrepo.Provide(),
	})
	webhookSvc := billingwebhook.NewService(billingwebhook.Params{
		Log:        zap.NewNop(),
		BillingSvc: billingSvc,
		Adapters:   adapters.NewRegistry(stripe.NewFactory()),
		Cfg:        config.Config{WebhookSecret: stripeSecret},
	})

	return &testStack{
		db:         db,
		clock:      fakeClock,
		accountSvc: accountSvc,
		billingSvc: billingSvc,
		webhookSvc: webhookSvc,
	}
}

func (s *testStack) linkUser(t *testing.T, customerID string, userID int64) {
	t.Helper()
	if _, err := s.accountSvc.CreateLink(context.Background(), accountdomain.CreateLinkRequest{
		ExternalCustomerID: customerID,
		UserID:             userID,
	}); err != nil {
		t.Fatalf("create link: %v", err)
	}
}

func subscriptionEvent(eventID, eventType, customerID, priceID, status string, occurredAt time.Time) *billingdomain.BillingEvent {
	periodEnd := occurredAt.Add(30 * 24 * time.Hour)
	return &billingdomain.BillingEvent{
		Provider:               "stripe",
		ProviderEventID:        eventID,
		Type:                   eventType,
		ExternalCustomerID:     customerID,
		ExternalSubscriptionID: "sub_1",
		PriceID:                priceID,
		ExternalStatus:         status,
		CurrentPeriodStart:     &occurredAt,
		CurrentPeriodEnd:       &periodEnd,
		OccurredAt:             occurredAt,
		RawPayload:             []byte(`{}`),
	}
}

func paymentEvent(eventID, eventType, customerID string, occurredAt time.Time) *billingdomain.BillingEvent {
	return &billingdomain.BillingEvent{
		Provider:           "stripe",
		ProviderEventID:    eventID,
		Type:               eventType,
		ExternalCustomerID: customerID,
		OccurredAt:         occurredAt,
		RawPayload:         []byte(`{}`),
	}
}

func TestIngestWebhookCreatesPremiumRecord(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	stack.linkUser(t, "cus_1", 101)

	now := stack.clock.Now()
	payload := []byte(fmt.Sprintf(
		`{"id":"evt_1","type":"customer.subscription.created","created":%d,"data":{"object":{"id":"sub_1","customer":"cus_1","status":"active","current_period_start":%d,"current_period_end":%d,"created":%d,"items":{"data":[{"price":{"id":"price_premium_monthly"}}]}}}}`,
		now.Unix(), now.Unix(), now.Add(30*24*time.Hour).Unix(), now.Unix(),
	))
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(stripeSecret, payload, now.Unix()))

	outcome, err := stack.webhookSvc.IngestWebhook(ctx, "stripe", payload, reqHeader)
	if err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}
	if outcome != billingdomain.OutcomeProcessed {
		t.Fatalf("expected processed outcome, got %s", outcome)
	}

	record := loadRecord(t, stack.db, 101)
	if record.Plan != plandomain.PlanPremium {
		t.Fatalf("expected premium plan, got %s", record.Plan)
	}
	if record.Status != billingdomain.StatusActive {
		t.Fatalf("expected active status, got %s", record.Status)
	}
	if record.ContactViewQuota != 100 {
		t.Fatalf("expected quota 100, got %d", record.ContactViewQuota)
	}
	if record.Version != 1 {
		t.Fatalf("expected version 1, got %d", record.Version)
	}

	assertCount(t, stack.db, "SELECT COUNT(1) FROM billing_events WHERE processed_at IS NOT NULL", 1)
	assertCount(t, stack.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'billing.subscription_created'", 1)
}

func TestIngestWebhookRejectsBadSignature(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)

	payload := []byte(`{"id":"evt_1","type":"customer.subscription.created","data":{"object":{"id":"sub_1","customer":"cus_1"}}}`)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader("wrong_secret", payload, time.Now().Unix()))

	if _, err := stack.webhookSvc.IngestWebhook(ctx, "stripe", payload, reqHeader); !errors.Is(err, billingdomain.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature, got %v", err)
	}
	assertCount(t, stack.db, "SELECT COUNT(1) FROM billing_events", 0)
}

func TestIngestWebhookIgnoresUnknownEventType(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)

	payload := []byte(`{"id":"evt_1","type":"invoice.finalized","data":{"object":{"id":"in_1","customer":"cus_1"}}}`)
	reqHeader := http.Header{}
	reqHeader.Set("Stripe-Signature", buildStripeSignatureHeader(stripeSecret, payload, time.Now().Unix()))

	outcome, err := stack.webhookSvc.IngestWebhook(ctx, "stripe", payload, reqHeader)
	if err != nil {
		t.Fatalf("ingest webhook: %v", err)
	}
	if outcome != billingdomain.OutcomeIgnored {
		t.Fatalf("expected ignored outcome, got %s", outcome)
	}
	assertCount(t, stack.db, "SELECT COUNT(1) FROM billing_events", 0)
}

func TestPaymentFailedMarksPastDue(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	stack.linkUser(t, "cus_1", 101)
	now := stack.clock.Now()

	if _, err := stack.billingSvc.ProcessEvent(ctx, subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_1", "price_premium_monthly", "active", now)); err != nil {
		t.Fatalf("process created: %v", err)
	}
	if _, err := stack.billingSvc.ProcessEvent(ctx, paymentEvent("evt_2", billingdomain.EventTypePaymentFailed, "cus_1", now.Add(time.Hour))); err != nil {
		t.Fatalf("process failed payment: %v", err)
	}

	record := loadRecord(t, stack.db, 101)
	if record.Status != billingdomain.StatusPastDue {
		t.Fatalf("expected past_due, got %s", record.Status)
	}
	if record.Plan != plandomain.PlanPremium {
		t.Fatalf("plan must be unchanged, got %s", record.Plan)
	}
	if record.ContactViewQuota != 100 {
		t.Fatalf("entitlements must be unchanged, got quota %d", record.ContactViewQuota)
	}
	if record.Version != 2 {
		t.Fatalf("expected version 2, got %d", record.Version)
	}
}

func TestPaymentSucceededRecoversPastDue(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	stack.linkUser(t, "cus_1", 101)
	now := stack.clock.Now()

	if _, err := stack.billingSvc.ProcessEvent(ctx, subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_1", "price_premium_monthly", "active", now)); err != nil {
		t.Fatalf("process created: %v", err)
	}
	if _, err := stack.billingSvc.ProcessEvent(ctx, paymentEvent("evt_2", billingdomain.EventTypePaymentFailed, "cus_1", now.Add(time.Hour))); err != nil {
		t.Fatalf("process failed payment: %v", err)
	}
	paidAt := now.Add(2 * time.Hour)
	if _, err := stack.billingSvc.ProcessEvent(ctx, paymentEvent("evt_3", billingdomain.EventTypePaymentSucceeded, "cus_1", paidAt)); err != nil {
		t.Fatalf("process succeeded payment: %v", err)
	}

	record := loadRecord(t, stack.db, 101)
	if record.Status != billingdomain.StatusActive {
		t.Fatalf("expected active, got %s", record.Status)
	}
	if record.Plan != plandomain.PlanPremium {
		t.Fatalf("plan must be unchanged, got %s", record.Plan)
	}
	if record.LastPaymentAt == nil || !record.LastPaymentAt.Equal(paidAt) {
		t.Fatalf("expected last payment at %v, got %v", paidAt, record.LastPaymentAt)
	}
}

func TestSubscriptionDeletedDemotesToFree(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	stack.linkUser(t, "cus_1", 101)
	now := stack.clock.Now()

	if _, err := stack.billingSvc.ProcessEvent(ctx, subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_1", "price_elite_monthly", "active", now)); err != nil {
		t.Fatalf("process created: %v", err)
	}
	deleted := subscriptionEvent("evt_2", billingdomain.EventTypeSubscriptionDeleted, "cus_1", "", "canceled", now.Add(time.Hour))
	if _, err := stack.billingSvc.ProcessEvent(ctx, deleted); err != nil {
		t.Fatalf("process deleted: %v", err)
	}

	record := loadRecord(t, stack.db, 101)
	if record.Plan != plandomain.PlanFree {
		t.Fatalf("expected free plan, got %s", record.Plan)
	}
	if record.Status != billingdomain.StatusInactive {
		t.Fatalf("expected inactive status, got %s", record.Status)
	}
	if record.ContactViewQuota != 5 {
		t.Fatalf("expected free quota 5, got %d", record.ContactViewQuota)
	}
	if record.ExternalSubscriptionID != "" {
		t.Fatalf("expected subscription id cleared, got %q", record.ExternalSubscriptionID)
	}
}

func TestOrphanedEventIsAcknowledged(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	now := stack.clock.Now()

	outcome, err := stack.billingSvc.ProcessEvent(ctx, subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_unlinked", "price_basic_monthly", "active", now))
	if err != nil {
		t.Fatalf("process orphaned: %v", err)
	}
	if outcome != billingdomain.OutcomeOrphaned {
		t.Fatalf("expected orphaned outcome, got %s", outcome)
	}

	assertCount(t, stack.db, "SELECT COUNT(1) FROM subscription_records", 0)
	assertCount(t, stack.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'billing.orphaned_event'", 1)
	assertCount(t, stack.db, "SELECT COUNT(1) FROM billing_events WHERE processed_at IS NOT NULL", 1)
}

func TestDuplicateDeliveryProcessesOnce(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	stack.linkUser(t, "cus_1", 101)
	now := stack.clock.Now()

	event := subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_1", "price_premium_monthly", "active", now)
	if _, err := stack.billingSvc.ProcessEvent(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}

	redelivery := subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_1", "price_premium_monthly", "active", now)
	outcome, err := stack.billingSvc.ProcessEvent(ctx, redelivery)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != billingdomain.OutcomeDuplicate {
		t.Fatalf("expected duplicate outcome, got %s", outcome)
	}

	record := loadRecord(t, stack.db, 101)
	if record.Version != 1 {
		t.Fatalf("redelivery must not advance the record, got version %d", record.Version)
	}
	assertCount(t, stack.db, "SELECT COUNT(1) FROM billing_events", 1)
}

func TestUnknownPriceFallsBackToFree(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	stack.linkUser(t, "cus_1", 101)
	now := stack.clock.Now()

	if _, err := stack.billingSvc.ProcessEvent(ctx, subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_1", "price_retired_tier", "active", now)); err != nil {
		t.Fatalf("process created: %v", err)
	}

	record := loadRecord(t, stack.db, 101)
	if record.Plan != plandomain.PlanFree {
		t.Fatalf("expected free fallback, got %s", record.Plan)
	}
	assertCount(t, stack.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'billing.unknown_price_fallback'", 1)
}

func TestCustomerCreatedIsInformational(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	now := stack.clock.Now()

	outcome, err := stack.billingSvc.ProcessEvent(ctx, paymentEvent("evt_1", billingdomain.EventTypeCustomerCreated, "cus_9", now))
	if err != nil {
		t.Fatalf("process customer created: %v", err)
	}
	if outcome != billingdomain.OutcomeProcessed {
		t.Fatalf("expected processed outcome, got %s", outcome)
	}
	assertCount(t, stack.db, "SELECT COUNT(1) FROM subscription_records", 0)
	assertCount(t, stack.db, "SELECT COUNT(1) FROM audit_logs WHERE action = 'billing.customer_created'", 1)
}

func TestRecordUsage(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)
	stack.linkUser(t, "cus_1", 101)
	now := stack.clock.Now()

	if _, err := stack.billingSvc.ProcessEvent(ctx, subscriptionEvent("evt_1", billingdomain.EventTypeSubscriptionCreated, "cus_1", "price_basic_monthly", "active", now)); err != nil {
		t.Fatalf("process created: %v", err)
	}

	record, err := stack.billingSvc.RecordUsage(ctx, billingdomain.RecordUsageRequest{
		UserID:  101,
		Counter: billingdomain.CounterContactViews,
		Amount:  3,
	})
	if err != nil {
		t.Fatalf("record usage: %v", err)
	}
	if record.ContactViewsUsed != 3 {
		t.Fatalf("expected 3 used, got %d", record.ContactViewsUsed)
	}

	if _, err := stack.billingSvc.RecordUsage(ctx, billingdomain.RecordUsageRequest{
		UserID:  101,
		Counter: billingdomain.CounterContactViews,
		Amount:  23,
	}); !errors.Is(err, billingdomain.ErrQuotaExceeded) {
		t.Fatalf("expected quota exceeded, got %v", err)
	}

	if _, err := stack.billingSvc.RecordUsage(ctx, billingdomain.RecordUsageRequest{
		UserID:  999,
		Counter: billingdomain.CounterContactViews,
		Amount:  1,
	}); !errors.Is(err, billingdomain.ErrRecordNotFound) {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestGetRecordReturnsFreeBaseline(t *testing.T) {
	ctx := context.Background()
	stack := buildTestStack(t)

	record, err := stack.billingSvc.GetRecord(ctx, 500)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.Plan != plandomain.PlanFree {
		t.Fatalf("expected free baseline, got %s", record.Plan)
	}
	if record.ContactViewQuota != 5 {
		t.Fatalf("expected free quota 5, got %d", record.ContactViewQuota)
	}
	assertCount(t, stack.db, "SELECT COUNT(1) FROM subscription_records", 0)
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:memdb_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}

	schema := []string{
		`CREATE TABLE account_links (
			external_customer_id TEXT PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE subscription_records (
			user_id BIGINT PRIMARY KEY,
			external_customer_id TEXT,
			external_subscription_id TEXT,
			plan TEXT NOT NULL,
			status TEXT NOT NULL,
			current_period_start DATETIME,
			current_period_end DATETIME,
			cancel_at_period_end BOOLEAN NOT NULL DEFAULT FALSE,
			trial_end DATETIME,
			contact_view_quota INTEGER NOT NULL DEFAULT 0,
			contact_views_used INTEGER NOT NULL DEFAULT 0,
			profile_boosts INTEGER NOT NULL DEFAULT 0,
			profile_boosts_used INTEGER NOT NULL DEFAULT 0,
			unlimited_chat BOOLEAN NOT NULL DEFAULT FALSE,
			featured_placement BOOLEAN NOT NULL DEFAULT FALSE,
			advanced_filters BOOLEAN NOT NULL DEFAULT FALSE,
			video_call BOOLEAN NOT NULL DEFAULT FALSE,
			priority_support BOOLEAN NOT NULL DEFAULT FALSE,
			last_payment_at DATETIME,
			next_billing_at DATETIME,
			version BIGINT NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE billing_events (
			id BIGINT PRIMARY KEY,
			provider TEXT NOT NULL,
			provider_event_id TEXT NOT NULL,
			event_type TEXT NOT NULL,
			external_customer_id TEXT NOT NULL,
			payload TEXT NOT NULL,
			received_at DATETIME NOT NULL,
			processed_at DATETIME,
			UNIQUE (provider, provider_event_id)
		)`,
		`CREATE TABLE audit_logs (
			id BIGINT PRIMARY KEY,
			actor_type TEXT NOT NULL,
			actor_id TEXT,
			action TEXT NOT NULL,
			target_type TEXT,
			target_id TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL
		)`,
	}

	for _, stmt := range schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}

	return db
}

func loadRecord(t *testing.T, db *gorm.DB, userID int64) billingdomain.SubscriptionRecord {
	t.Helper()

	var record billingdomain.SubscriptionRecord
	err := db.Raw("SELECT * FROM subscription_records WHERE user_id = ?", userID).Scan(&record).Error
	if err != nil {
		t.Fatalf("load record: %v", err)
	}
	if record.UserID == 0 {
		t.Fatalf("record for user %d not found", userID)
	}
	return record
}

func assertCount(t *testing.T, db *gorm.DB, query string, expected int64) {
	t.Helper()

	var count int64
	if err := db.Raw(query).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	if count != expected {
		t.Fatalf("expected %d, got %d", expected, count)
	}
}

func buildStripeSignatureHeader(secret string, payload []byte, timestamp int64) string {
	signedPayload := fmt.Sprintf("%d.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(signedPayload))
	signature := hex.EncodeToString(mac.Sum(nil))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, signature)
}
