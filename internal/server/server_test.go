package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/matchwell/entitlements/internal/account/domain"
	auditdomain "github.com/matchwell/entitlements/internal/audit/domain"
	billingdomain "github.com/matchwell/entitlements/internal/billing/domain"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
)

type fakeWebhookService struct {
	outcome billingdomain.Outcome
	err     error
}

func (f *fakeWebhookService) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (billingdomain.Outcome, error) {
	return f.outcome, f.err
}

type fakeBillingService struct {
	record   *billingdomain.SubscriptionRecord
	usageErr error
}

func (f *fakeBillingService) ProcessEvent(ctx context.Context, event *billingdomain.BillingEvent) (billingdomain.Outcome, error) {
	return billingdomain.OutcomeProcessed, nil
}

func (f *fakeBillingService) GetRecord(ctx context.Context, userID int64) (*billingdomain.SubscriptionRecord, error) {
	record := *f.record
	record.UserID = userID
	return &record, nil
}

func (f *fakeBillingService) RecordUsage(ctx context.Context, req billingdomain.RecordUsageRequest) (*billingdomain.SubscriptionRecord, error) {
	if f.usageErr != nil {
		return nil, f.usageErr
	}
	return f.record, nil
}

type fakeAccountService struct {
	links map[string]int64
}

func (f *fakeAccountService) CreateLink(ctx context.Context, req accountdomain.CreateLinkRequest) (accountdomain.AccountLink, error) {
	if _, exists := f.links[req.ExternalCustomerID]; exists {
		return accountdomain.AccountLink{}, accountdomain.ErrLinkConflict
	}
	f.links[req.ExternalCustomerID] = req.UserID
	return accountdomain.AccountLink{ExternalCustomerID: req.ExternalCustomerID, UserID: req.UserID}, nil
}

func (f *fakeAccountService) ResolveUser(ctx context.Context, externalCustomerID string) (int64, error) {
	userID, ok := f.links[externalCustomerID]
	if !ok {
		return 0, accountdomain.ErrLinkNotFound
	}
	return userID, nil
}

type fakeAuditService struct{}

func (fakeAuditService) AuditLog(ctx context.Context, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error {
	return nil
}

func (fakeAuditService) List(ctx context.Context, req auditdomain.ListAuditLogRequest) (auditdomain.ListAuditLogResponse, error) {
	return auditdomain.ListAuditLogResponse{}, nil
}

func newTestServer(t *testing.T, webhookSvc billingdomain.WebhookService, billingSvc billingdomain.Service) (*Server, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := gin.New()
	engine.Use(ErrorHandlingMiddleware())

	srv := NewServer(ServerParams{
		Gin:        engine,
		AccountSvc: &fakeAccountService{links: map[string]int64{"cus_1": 101}},
		AuditSvc:   fakeAuditService{},
		BillingSvc: billingSvc,
		WebhookSvc: webhookSvc,
	})
	return srv, engine
}

func premiumRecord() *billingdomain.SubscriptionRecord {
	return &billingdomain.SubscriptionRecord{
		UserID:           101,
		Plan:             plandomain.PlanPremium,
		Status:           billingdomain.StatusActive,
		ContactViewQuota: 100,
		Version:          1,
	}
}

func TestHandleBillingWebhookAcknowledgesOutcomes(t *testing.T) {
	for _, outcome := range []billingdomain.Outcome{
		billingdomain.OutcomeProcessed,
		billingdomain.OutcomeIgnored,
		billingdomain.OutcomeOrphaned,
		billingdomain.OutcomeDuplicate,
	} {
		t.Run(string(outcome), func(t *testing.T) {
			_, engine := newTestServer(t, &fakeWebhookService{outcome: outcome}, &fakeBillingService{record: premiumRecord()})

			req := httptest.NewRequest(http.MethodPost, "/webhooks/billing/stripe", strings.NewReader(`{}`))
			rec := httptest.NewRecorder()
			engine.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["outcome"] != string(outcome) {
				t.Fatalf("expected outcome %s, got %s", outcome, body["outcome"])
			}
		})
	}
}

func TestHandleBillingWebhookRejectsBadSignature(t *testing.T) {
	_, engine := newTestServer(t, &fakeWebhookService{err: billingdomain.ErrInvalidSignature}, &fakeBillingService{record: premiumRecord()})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleBillingWebhookSurfacesPersistenceFailure(t *testing.T) {
	_, engine := newTestServer(t, &fakeWebhookService{err: billingdomain.ErrRecordConflict}, &fakeBillingService{record: premiumRecord()})

	req := httptest.NewRequest(http.MethodPost, "/webhooks/billing/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 to invite redelivery, got %d", rec.Code)
	}
}

func TestGetEntitlements(t *testing.T) {
	_, engine := newTestServer(t, &fakeWebhookService{outcome: billingdomain.OutcomeProcessed}, &fakeBillingService{record: premiumRecord()})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/101/entitlements", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var record billingdomain.SubscriptionRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &record); err != nil {
		t.Fatalf("decode record: %v", err)
	}
	if record.Plan != plandomain.PlanPremium {
		t.Fatalf("expected premium plan, got %s", record.Plan)
	}
}

func TestGetEntitlementsRejectsBadUserID(t *testing.T) {
	_, engine := newTestServer(t, &fakeWebhookService{}, &fakeBillingService{record: premiumRecord()})

	req := httptest.NewRequest(http.MethodGet, "/v1/users/abc/entitlements", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRecordUsageQuotaExceeded(t *testing.T) {
	_, engine := newTestServer(t, &fakeWebhookService{}, &fakeBillingService{
		record:   premiumRecord(),
		usageErr: billingdomain.ErrQuotaExceeded,
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/users/101/usage", strings.NewReader(`{"counter":"contact_views","amount":1}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
}

func TestGetAccountLink(t *testing.T) {
	_, engine := newTestServer(t, &fakeWebhookService{}, &fakeBillingService{record: premiumRecord()})

	req := httptest.NewRequest(http.MethodGet, "/v1/account-links/cus_1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/v1/account-links/cus_missing", nil)
	rec = httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
