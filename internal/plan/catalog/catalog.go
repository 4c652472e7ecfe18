// Package catalog holds the static plan -> entitlement table and the
// injected price-id -> plan mapping.
package catalog

import (
	"strings"

	"github.com/matchwell/entitlements/internal/config"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// bundles is the one row per plan the rest of the system relies on.
// Changing a value here changes what every user on that plan can do.
var bundles = map[plandomain.Plan]plandomain.EntitlementBundle{
	plandomain.PlanFree: {
		ContactViewQuota: 5,
	},
	plandomain.PlanBasic: {
		ContactViewQuota: 25,
		ProfileBoosts:    1,
		AdvancedFilters:  true,
	},
	plandomain.PlanPremium: {
		ContactViewQuota: 100,
		ProfileBoosts:    5,
		UnlimitedChat:    true,
		AdvancedFilters:  true,
		VideoCall:        true,
	},
	plandomain.PlanElite: {
		ContactViewQuota:  999,
		ProfileBoosts:     20,
		UnlimitedChat:     true,
		FeaturedPlacement: true,
		AdvancedFilters:   true,
		VideoCall:         true,
		PrioritySupport:   true,
	},
}

type Params struct {
	fx.In

	Log    *zap.Logger
	Prices *config.PriceTableHolder
}

type Catalog struct {
	log    *zap.Logger
	prices *config.PriceTableHolder
}

func New(p Params) plandomain.Catalog {
	return &Catalog{
		log:    p.Log.Named("plan.catalog"),
		prices: p.Prices,
	}
}

func (c *Catalog) EntitlementsFor(plan plandomain.Plan) plandomain.EntitlementBundle {
	bundle, ok := bundles[plan]
	if !ok {
		return bundles[plandomain.PlanFree]
	}
	return bundle
}

func (c *Catalog) ResolvePrice(priceID string) (plandomain.Plan, bool) {
	priceID = strings.TrimSpace(priceID)
	if priceID == "" {
		return plandomain.PlanFree, false
	}
	plan, ok := c.prices.Get()[priceID]
	if !ok || !plan.Valid() {
		c.log.Warn("unknown price id, defaulting to free plan",
			zap.String("price_id", priceID))
		return plandomain.PlanFree, false
	}
	return plan, true
}

// NewFixed builds a catalog over a fixed price table, bypassing the
// config holder. Test seam.
func NewFixed(log *zap.Logger, table plandomain.PriceTable) plandomain.Catalog {
	return &Catalog{
		log:    log.Named("plan.catalog"),
		prices: config.NewFixedPriceTableHolder(table),
	}
}
