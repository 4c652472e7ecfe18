package plan

import (
	"github.com/matchwell/entitlements/internal/plan/catalog"
	"go.uber.org/fx"
)

var Module = fx.Module("plan.catalog",
	fx.Provide(catalog.New),
)
