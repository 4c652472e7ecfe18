package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	plandomain "github.com/matchwell/entitlements/internal/plan/domain"
	"github.com/spf13/viper"
)

// DefaultPriceTable covers the price ids the processor is configured
// with out of the box. Deployments override it via plans.yml.
func DefaultPriceTable() plandomain.PriceTable {
	return plandomain.PriceTable{
		"price_basic_monthly":   plandomain.PlanBasic,
		"price_basic_yearly":    plandomain.PlanBasic,
		"price_premium_monthly": plandomain.PlanPremium,
		"price_premium_yearly":  plandomain.PlanPremium,
		"price_elite_monthly":   plandomain.PlanElite,
		"price_elite_yearly":    plandomain.PlanElite,
	}
}

// PriceTableHolder serves the current price-id -> plan table and hot
// reloads it when plans.yml changes on disk.
type PriceTableHolder struct {
	current atomic.Value // holds plandomain.PriceTable
}

func NewPriceTableHolder() (*PriceTableHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/entitlements/config")
	v.AddConfigPath("/etc/entitlements")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENTITLEMENTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fromFile := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fromFile = false
	}

	table := DefaultPriceTable()
	if fromFile {
		loaded, err := decodePriceTable(v)
		if err != nil {
			return nil, err
		}
		table = loaded
	}

	holder := &PriceTableHolder{}
	holder.current.Store(table)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodePriceTable(v)
		if err != nil {
			log.Printf("[price-table] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[price-table] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewFixedPriceTableHolder wraps a fixed table without file watching.
func NewFixedPriceTableHolder(table plandomain.PriceTable) *PriceTableHolder {
	holder := &PriceTableHolder{}
	if table == nil {
		table = plandomain.PriceTable{}
	}
	holder.current.Store(table)
	return holder
}

func (h *PriceTableHolder) Get() plandomain.PriceTable {
	return h.current.Load().(plandomain.PriceTable)
}

func decodePriceTable(v *viper.Viper) (plandomain.PriceTable, error) {
	raw := map[string]string{}
	if err := v.UnmarshalKey("prices", &raw); err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, errors.New("prices cannot be empty")
	}

	table := make(plandomain.PriceTable, len(raw))
	for priceID, planName := range raw {
		plan := plandomain.Plan(strings.ToLower(strings.TrimSpace(planName)))
		if !plan.Valid() {
			return nil, errors.New("unknown plan for price " + priceID)
		}
		table[strings.TrimSpace(priceID)] = plan
	}
	return table, nil
}
