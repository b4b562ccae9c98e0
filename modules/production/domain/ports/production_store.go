package ports

import (
	"context"
	"errors"

	"github.com/monopilot/monopilot/modules/production/domain/types"
)

var (
	ErrNotFound  = errors.New("production: not found")
	ErrConflict  = errors.New("production: concurrent modification")
	ErrDuplicate = errors.New("production: duplicate")
)

// Store persists work orders, their operations and the operation log. Every
// method is scoped to tenantID; rows of other tenants behave as if they did
// not exist.
type Store interface {
	// CreateWorkOrder inserts the work order and its operations atomically.
	CreateWorkOrder(ctx context.Context, tenantID string, wo types.WorkOrder, ops []types.Operation) (types.WorkOrder, error)
	// GetWorkOrder returns the header only; Operations is left empty.
	GetWorkOrder(ctx context.Context, tenantID string, id string) (types.WorkOrder, error)
	// UpdateWorkOrderStatus writes wo.Status while the stored row still has
	// expectedStatus and expectedVersion; otherwise ErrConflict.
	UpdateWorkOrderStatus(ctx context.Context, tenantID string, wo types.WorkOrder, expectedStatus types.WorkOrderStatus, expectedVersion int64) (types.WorkOrder, error)

	// ListOperations returns the operations of woID ordered by sequence.
	ListOperations(ctx context.Context, tenantID string, woID string) ([]types.Operation, error)
	GetOperation(ctx context.Context, tenantID string, woID string, opID string) (types.Operation, error)
	TransitionOperation(ctx context.Context, tenantID string, t types.OperationTransition) (types.Operation, error)
	// ListOperationLogs returns the log of one operation, newest first.
	ListOperationLogs(ctx context.Context, tenantID string, woID string, opID string) ([]types.OperationLog, error)

	GetSettings(ctx context.Context, tenantID string) (types.ProductionSettings, bool, error)
	PutSettings(ctx context.Context, tenantID string, settings types.ProductionSettings) (types.ProductionSettings, error)
}
