package server

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/monopilot/monopilot/internal/config"
	"github.com/monopilot/monopilot/internal/sqlitedb"
	productionports "github.com/monopilot/monopilot/modules/production/domain/ports"
	productionpersistence "github.com/monopilot/monopilot/modules/production/infrastructure/persistence"
	warehouseports "github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	warehousepersistence "github.com/monopilot/monopilot/modules/warehouse/infrastructure/persistence"
)

// Stores bundles the module stores for one backend.
type Stores struct {
	Warehouse  warehouseports.Store
	Production productionports.Store
	// Tenants is set when the backend carries the tenant domain tables.
	Tenants TenancyResolver

	ping  func(ctx context.Context) error
	close func()
}

func OpenStores(ctx context.Context, cfg config.Config) (*Stores, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("server: postgres: %w", err)
		}
		return &Stores{
			Warehouse:  warehousepersistence.NewPGStore(pool),
			Production: productionpersistence.NewPGStore(pool),
			Tenants:    newTenancyDBResolver(pool),
			ping:       pool.Ping,
			close:      pool.Close,
		}, nil
	case config.DriverSQLite:
		db, err := sqlitedb.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Stores{
			Warehouse:  warehousepersistence.NewSQLiteStore(db),
			Production: productionpersistence.NewSQLiteStore(db),
			ping:       db.PingContext,
			close:      func() { _ = db.Close() },
		}, nil
	case config.DriverMemory:
		return NewMemoryStores(), nil
	default:
		return nil, fmt.Errorf("server: unsupported store driver %q", cfg.StoreDriver)
	}
}

func NewMemoryStores() *Stores {
	return &Stores{
		Warehouse:  warehousepersistence.NewMemoryStore(),
		Production: productionpersistence.NewMemoryStore(),
	}
}

func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}
