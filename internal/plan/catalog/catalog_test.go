package catalog

import (
	"testing"

	"go.uber.org/zap"

	"github.com/matchwell/entitlements/internal/config"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
)

func TestEntitlementsForIsTotal(t *testing.T) {
	cat := NewFixed(zap.NewNop(), config.DefaultPriceTable())

	for _, plan := range plandomain.Plans {
		bundle := cat.EntitlementsFor(plan)
		if bundle.ContactViewQuota <= 0 {
			t.Fatalf("plan %s has no contact view quota", plan)
		}
	}

	// An unknown plan value degrades to the free bundle.
	bundle := cat.EntitlementsFor(plandomain.Plan("gold"))
	if bundle.ContactViewQuota != 5 {
		t.Fatalf("unknown plan should read as free, got quota %d", bundle.ContactViewQuota)
	}
}

func TestEntitlementFixtures(t *testing.T) {
	cat := NewFixed(zap.NewNop(), config.DefaultPriceTable())

	free := cat.EntitlementsFor(plandomain.PlanFree)
	if free.ContactViewQuota != 5 || free.ProfileBoosts != 0 || free.UnlimitedChat {
		t.Fatalf("unexpected free bundle: %+v", free)
	}

	basic := cat.EntitlementsFor(plandomain.PlanBasic)
	if basic.ContactViewQuota != 25 || !basic.AdvancedFilters || basic.VideoCall {
		t.Fatalf("unexpected basic bundle: %+v", basic)
	}

	premium := cat.EntitlementsFor(plandomain.PlanPremium)
	if premium.ContactViewQuota != 100 || !premium.UnlimitedChat || !premium.VideoCall || premium.PrioritySupport {
		t.Fatalf("unexpected premium bundle: %+v", premium)
	}

	elite := cat.EntitlementsFor(plandomain.PlanElite)
	if elite.ContactViewQuota != 999 || !elite.PrioritySupport || !elite.FeaturedPlacement {
		t.Fatalf("unexpected elite bundle: %+v", elite)
	}
}

func TestResolvePrice(t *testing.T) {
	cat := NewFixed(zap.NewNop(), config.DefaultPriceTable())

	plan, ok := cat.ResolvePrice("price_elite_yearly")
	if !ok || plan != plandomain.PlanElite {
		t.Fatalf("expected elite, got %s (known=%v)", plan, ok)
	}

	plan, ok = cat.ResolvePrice("price_retired_tier")
	if ok {
		t.Fatalf("unknown price must not resolve")
	}
	if plan != plandomain.PlanFree {
		t.Fatalf("unknown price must default to free, got %s", plan)
	}

	plan, ok = cat.ResolvePrice("")
	if ok || plan != plandomain.PlanFree {
		t.Fatalf("empty price must default to free, got %s (known=%v)", plan, ok)
	}
}
