package audit

import (
	"github.com/matchwell/entitlements/internal/audit/repository"
	"github.com/matchwell/entitlements/internal/audit/service"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
