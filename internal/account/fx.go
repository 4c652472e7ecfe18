package account

import (
	"github.com/matchwell/entitlements/internal/account/repository"
	"github.com/matchwell/entitlements/internal/account/service"
	"go.uber.org/fx"
)

var Module = fx.Module("account.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
