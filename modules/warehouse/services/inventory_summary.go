package services

import (
	"context"
	"time"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/pkg/ttlcache"
)

const expiringWindow = 30 * 24 * time.Hour

// Dashboard serves inventory aggregates through a per-tenant TTL cache.
// Writes do not invalidate it.
type Dashboard struct {
	store ports.LedgerStore
	cache *ttlcache.Cache[types.InventorySummary]
	rt    runtime
}

func NewDashboard(store ports.LedgerStore, cache *ttlcache.Cache[types.InventorySummary], opts ...Option) Dashboard {
	if cache == nil {
		cache = ttlcache.New[types.InventorySummary](ttlcache.DefaultTTL)
	}
	return Dashboard{store: store, cache: cache, rt: newRuntime(opts)}
}

func (d Dashboard) InventorySummary(ctx context.Context, tenantID string) (types.InventorySummary, error) {
	return d.cache.Get(ctx, "inventory-summary:"+tenantID, func(ctx context.Context) (types.InventorySummary, error) {
		now := d.rt.now()
		sum, err := d.store.InventorySummary(ctx, tenantID, now.Add(expiringWindow).Format(dateLayout))
		if err != nil {
			return types.InventorySummary{}, err
		}
		sum.GeneratedAt = now
		return sum, nil
	})
}
