package billing

import (
	"go.uber.org/fx"

	"github.com/matchwell/entitlements/internal/billing/adapters"
	"github.com/matchwell/entitlements/internal/billing/adapters/stripe"
	"github.com/matchwell/entitlements/internal/billing/domain"
	"github.com/matchwell/entitlements/internal/billing/repository"
	billingservice "github.com/matchwell/entitlements/internal/billing/service"
	"github.com/matchwell/entitlements/internal/billing/webhook"
)

var Module = fx.Module("billing.service",
	fx.Provide(repository.Provide),
	fx.Provide(func() *adapters.Registry {
		return adapters.NewRegistry(
			stripe.NewFactory(),
		)
	}),
	fx.Provide(billingservice.NewService),
	fx.Provide(func(svc *billingservice.Service) domain.Service { return svc }),
	fx.Provide(webhook.NewService),
)
