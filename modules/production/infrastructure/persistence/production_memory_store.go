package persistence

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/monopilot/monopilot/modules/production/domain/ports"
	"github.com/monopilot/monopilot/modules/production/domain/types"
)

// MemoryStore keeps work orders in process for tests and STORE_DRIVER=memory.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*memTenant
}

type memTenant struct {
	workOrders map[string]types.WorkOrder
	operations map[string]types.Operation
	logs       []types.OperationLog
	settings   *types.ProductionSettings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*memTenant)}
}

var _ ports.Store = (*MemoryStore)(nil)

func (s *MemoryStore) tenant(tenantID string) *memTenant {
	t, ok := s.tenants[tenantID]
	if !ok {
		t = &memTenant{
			workOrders: make(map[string]types.WorkOrder),
			operations: make(map[string]types.Operation),
		}
		s.tenants[tenantID] = t
	}
	return t
}

func cloneOp(op types.Operation) types.Operation {
	if op.StartedAt != nil {
		v := *op.StartedAt
		op.StartedAt = &v
	}
	if op.CompletedAt != nil {
		v := *op.CompletedAt
		op.CompletedAt = &v
	}
	if op.ExpectedDurationMinutes != nil {
		v := *op.ExpectedDurationMinutes
		op.ExpectedDurationMinutes = &v
	}
	if op.ActualDurationMinutes != nil {
		v := *op.ActualDurationMinutes
		op.ActualDurationMinutes = &v
	}
	if op.ExpectedYieldPercent != nil {
		v := *op.ExpectedYieldPercent
		op.ExpectedYieldPercent = &v
	}
	if op.ActualYieldPercent != nil {
		v := *op.ActualYieldPercent
		op.ActualYieldPercent = &v
	}
	return op
}

func cloneLog(l types.OperationLog) types.OperationLog {
	l.Metadata = maps.Clone(l.Metadata)
	return l
}

func (s *MemoryStore) CreateWorkOrder(_ context.Context, tenantID string, wo types.WorkOrder, ops []types.Operation) (types.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	if wo.ID == "" {
		return types.WorkOrder{}, fmt.Errorf("production: work order id is required")
	}
	if _, ok := t.workOrders[wo.ID]; ok {
		return types.WorkOrder{}, ports.ErrDuplicate
	}
	for _, existing := range t.workOrders {
		if existing.WONumber == wo.WONumber {
			return types.WorkOrder{}, ports.ErrDuplicate
		}
	}
	seen := make(map[int]bool, len(ops))
	for _, op := range ops {
		if _, ok := t.operations[op.ID]; ok || seen[op.Sequence] {
			return types.WorkOrder{}, ports.ErrDuplicate
		}
		seen[op.Sequence] = true
	}

	wo.Version = 1
	wo.Operations = nil
	t.workOrders[wo.ID] = wo
	stored := make([]types.Operation, 0, len(ops))
	for _, op := range ops {
		op.WorkOrderID = wo.ID
		op.Version = 1
		t.operations[op.ID] = cloneOp(op)
		stored = append(stored, cloneOp(op))
	}
	slices.SortFunc(stored, bySequence)
	wo.Operations = stored
	return wo, nil
}

func bySequence(a, b types.Operation) int {
	return a.Sequence - b.Sequence
}

func (s *MemoryStore) GetWorkOrder(_ context.Context, tenantID string, id string) (types.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wo, ok := s.tenant(tenantID).workOrders[id]
	if !ok {
		return types.WorkOrder{}, ports.ErrNotFound
	}
	return wo, nil
}

func (s *MemoryStore) UpdateWorkOrderStatus(_ context.Context, tenantID string, wo types.WorkOrder, expectedStatus types.WorkOrderStatus, expectedVersion int64) (types.WorkOrder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	cur, ok := t.workOrders[wo.ID]
	if !ok {
		return types.WorkOrder{}, ports.ErrNotFound
	}
	if cur.Status != expectedStatus || cur.Version != expectedVersion {
		return types.WorkOrder{}, ports.ErrConflict
	}
	cur.Status = wo.Status
	cur.UpdatedAt = wo.UpdatedAt
	cur.UpdatedBy = wo.UpdatedBy
	cur.Version++
	t.workOrders[wo.ID] = cur
	return cur, nil
}

func (s *MemoryStore) ListOperations(_ context.Context, tenantID string, woID string) ([]types.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.Operation{}
	for _, op := range s.tenant(tenantID).operations {
		if op.WorkOrderID == woID {
			out = append(out, cloneOp(op))
		}
	}
	slices.SortFunc(out, bySequence)
	return out, nil
}

func (s *MemoryStore) GetOperation(_ context.Context, tenantID string, woID string, opID string) (types.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.tenant(tenantID).operations[opID]
	if !ok || op.WorkOrderID != woID {
		return types.Operation{}, ports.ErrNotFound
	}
	return cloneOp(op), nil
}

func (s *MemoryStore) TransitionOperation(_ context.Context, tenantID string, tr types.OperationTransition) (types.Operation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	cur, ok := t.operations[tr.Next.ID]
	if !ok || cur.WorkOrderID != tr.Next.WorkOrderID {
		return types.Operation{}, ports.ErrNotFound
	}
	if cur.Status != tr.ExpectedStatus || cur.Version != tr.ExpectedVersion {
		return types.Operation{}, ports.ErrConflict
	}
	for _, l := range t.logs {
		if l.ID == tr.Log.ID {
			return types.Operation{}, ports.ErrDuplicate
		}
	}
	next := cloneOp(tr.Next)
	next.Sequence = cur.Sequence
	next.Name = cur.Name
	next.ExpectedDurationMinutes = cur.ExpectedDurationMinutes
	next.ExpectedYieldPercent = cur.ExpectedYieldPercent
	next.Version = cur.Version + 1
	t.operations[next.ID] = next
	t.logs = append(t.logs, cloneLog(tr.Log))
	return cloneOp(next), nil
}

func (s *MemoryStore) ListOperationLogs(_ context.Context, tenantID string, woID string, opID string) ([]types.OperationLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []types.OperationLog{}
	for _, l := range s.tenant(tenantID).logs {
		if l.WorkOrderID == woID && l.OperationID == opID {
			out = append(out, cloneLog(l))
		}
	}
	slices.SortStableFunc(out, func(a, b types.OperationLog) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})
	return out, nil
}

func (s *MemoryStore) GetSettings(_ context.Context, tenantID string) (types.ProductionSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	if t.settings == nil {
		return types.ProductionSettings{}, false, nil
	}
	return *t.settings, true, nil
}

func (s *MemoryStore) PutSettings(_ context.Context, tenantID string, settings types.ProductionSettings) (types.ProductionSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := settings
	s.tenant(tenantID).settings = &v
	return settings, nil
}
