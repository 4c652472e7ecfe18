// Package webhook is the ingestion edge for provider deliveries:
// signature verification and payload parsing happen here, folding
// happens in the billing service.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matchwell/entitlements/internal/billing/adapters"
	"github.com/matchwell/entitlements/internal/billing/domain"
	billingservice "github.com/matchwell/entitlements/internal/billing/service"
	"github.com/matchwell/entitlements/internal/config"
	obsmetrics "github.com/matchwell/entitlements/internal/observability/metrics"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	BillingSvc *billingservice.Service
	Adapters   *adapters.Registry
	Cfg        config.Config
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	log        *zap.Logger
	billingSvc *billingservice.Service
	adapters   *adapters.Registry
	secret     string
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) domain.WebhookService {
	return &Service{
		log:        p.Log.Named("billing.webhook"),
		billingSvc: p.BillingSvc,
		adapters:   p.Adapters,
		secret:     strings.TrimSpace(p.Cfg.WebhookSecret),
		obsMetrics: p.ObsMetrics,
	}
}

func (s *Service) IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (domain.Outcome, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		return "", domain.ErrInvalidProvider
	}
	if s.adapters == nil || !s.adapters.ProviderExists(provider) {
		return "", domain.ErrProviderNotSupported
	}
	if s.secret == "" {
		return "", domain.ErrWebhookNotConfigured
	}
	if !json.Valid(payload) {
		return "", domain.ErrInvalidPayload
	}

	adapter, err := s.adapters.NewAdapter(provider, domain.AdapterConfig{WebhookSecret: s.secret})
	if err != nil {
		return "", err
	}

	if err := adapter.Verify(ctx, payload, headers); err != nil {
		s.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return "", err
	}

	event, err := adapter.Parse(ctx, payload)
	if err != nil {
		if errors.Is(err, domain.ErrEventIgnored) {
			s.recordOutcome(ctx, "unrecognized", domain.OutcomeIgnored)
			return domain.OutcomeIgnored, nil
		}
		return "", err
	}

	outcome, err := s.billingSvc.ProcessEvent(ctx, event)
	if err != nil {
		return "", err
	}
	s.recordOutcome(ctx, event.Type, outcome)
	return outcome, nil
}

func (s *Service) recordOutcome(ctx context.Context, eventType string, outcome domain.Outcome) {
	if s.obsMetrics != nil {
		s.obsMetrics.RecordWebhookEvent(ctx, eventType, string(outcome))
	}
}
