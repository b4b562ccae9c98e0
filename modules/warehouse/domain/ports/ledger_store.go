package ports

import (
	"context"
	"errors"
	"time"

	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
)

var (
	ErrNotFound  = errors.New("warehouse: not found")
	ErrConflict  = errors.New("warehouse: concurrent modification")
	ErrDuplicate = errors.New("warehouse: duplicate")
)

// LedgerStore persists license plates and their genealogy. Every method is
// scoped to tenantID; rows of other tenants behave as if they did not exist.
type LedgerStore interface {
	GetLicensePlate(ctx context.Context, tenantID string, id string) (types.LicensePlate, error)
	// GetLicensePlates returns the plates that exist; missing ids are skipped.
	GetLicensePlates(ctx context.Context, tenantID string, ids []string) ([]types.LicensePlate, error)
	ListLicensePlates(ctx context.Context, tenantID string, filter types.LicensePlateFilter) (types.LicensePlatePage, error)
	// CreateLicensePlate assigns the next LP number when lp.LPNumber is empty.
	CreateLicensePlate(ctx context.Context, tenantID string, lp types.LicensePlate) (types.LicensePlate, error)
	// UpdateLicensePlate writes lp if the stored row still has expectedVersion and is
	// not consumed; otherwise ErrConflict.
	UpdateLicensePlate(ctx context.Context, tenantID string, lp types.LicensePlate, expectedVersion int64) (types.LicensePlate, error)
	PeekLPNumbers(ctx context.Context, tenantID string, n int) ([]string, error)

	CommitSplit(ctx context.Context, tenantID string, plan types.SplitPlan) ([]types.LicensePlate, error)
	CommitMerge(ctx context.Context, tenantID string, plan types.MergePlan) (types.LicensePlate, error)

	InsertEdge(ctx context.Context, tenantID string, edge types.GenealogyEdge) (types.GenealogyEdge, error)
	ReverseEdge(ctx context.Context, tenantID string, edgeID string, actor string, at time.Time) (types.GenealogyEdge, error)
	EdgesByChild(ctx context.Context, tenantID string, childIDs []string, includeReversed bool) ([]types.GenealogyEdge, error)
	EdgesByParent(ctx context.Context, tenantID string, parentIDs []string, includeReversed bool) ([]types.GenealogyEdge, error)
	EdgesByWorkOrder(ctx context.Context, tenantID string, workOrderID string) ([]types.GenealogyEdge, error)

	GetSettings(ctx context.Context, tenantID string) (types.WarehouseSettings, bool, error)
	PutSettings(ctx context.Context, tenantID string, settings types.WarehouseSettings) (types.WarehouseSettings, error)

	InventorySummary(ctx context.Context, tenantID string, expiringBefore string) (types.InventorySummary, error)
}

type CatalogStore interface {
	GetProduct(ctx context.Context, tenantID string, id string) (types.Product, error)
	ListProducts(ctx context.Context, tenantID string) ([]types.Product, error)
	CreateProduct(ctx context.Context, tenantID string, p types.Product) (types.Product, error)
	GetLocation(ctx context.Context, tenantID string, id string) (types.Location, error)
	ListLocations(ctx context.Context, tenantID string, warehouseID string) ([]types.Location, error)
	CreateLocation(ctx context.Context, tenantID string, l types.Location) (types.Location, error)
}

// Store is what the persistence adapters implement.
type Store interface {
	LedgerStore
	CatalogStore
}
