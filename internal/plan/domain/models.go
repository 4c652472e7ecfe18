// Package domain defines the plan vocabulary and entitlement bundles.
package domain

// Plan is the internal subscription tier.
type Plan string

const (
	PlanFree    Plan = "free"
	PlanBasic   Plan = "basic"
	PlanPremium Plan = "premium"
	PlanElite   Plan = "elite"
)

// Plans lists every known plan. The entitlement table must stay total
// over this set.
var Plans = []Plan{PlanFree, PlanBasic, PlanPremium, PlanElite}

// Valid reports whether p is a known plan.
func (p Plan) Valid() bool {
	switch p {
	case PlanFree, PlanBasic, PlanPremium, PlanElite:
		return true
	}
	return false
}

// EntitlementBundle is the set of quotas and feature flags attached to a
// plan. Usage counters live on the subscription record, not here.
type EntitlementBundle struct {
	ContactViewQuota  int  `json:"contact_view_quota"`
	ProfileBoosts     int  `json:"profile_boosts"`
	UnlimitedChat     bool `json:"unlimited_chat"`
	FeaturedPlacement bool `json:"featured_placement"`
	AdvancedFilters   bool `json:"advanced_filters"`
	VideoCall         bool `json:"video_call"`
	PrioritySupport   bool `json:"priority_support"`
}

// PriceTable maps external price identifiers to internal plans. It is
// injected configuration, never a package-level constant.
type PriceTable map[string]Plan

type Catalog interface {
	// EntitlementsFor is total over Plans; unknown plans fall back to the
	// free bundle.
	EntitlementsFor(plan Plan) EntitlementBundle
	// ResolvePrice maps an external price id to a plan. Unknown ids resolve
	// to PlanFree; the ok result is false so callers can log the fallback.
	ResolvePrice(priceID string) (Plan, bool)
}
