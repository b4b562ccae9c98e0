package persistence

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/shopspring/decimal"
)

// MemoryStore keeps the ledger in process. It is used by tests and by
// STORE_DRIVER=memory; concurrent access is serialized by one mutex.
type MemoryStore struct {
	mu      sync.Mutex
	tenants map[string]*memTenant
}

type memTenant struct {
	lps       map[string]types.LicensePlate
	edges     []types.GenealogyEdge
	settings  *types.WarehouseSettings
	lpSeq     int
	products  map[string]types.Product
	locations map[string]types.Location
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*memTenant)}
}

var _ ports.Store = (*MemoryStore)(nil)

func (s *MemoryStore) tenant(tenantID string) *memTenant {
	t, ok := s.tenants[tenantID]
	if !ok {
		t = &memTenant{
			lps:       make(map[string]types.LicensePlate),
			products:  make(map[string]types.Product),
			locations: make(map[string]types.Location),
		}
		s.tenants[tenantID] = t
	}
	return t
}

func formatLPNumber(seq int) string {
	return fmt.Sprintf("LP%08d", seq)
}

func (t *memTenant) decorate(lp types.LicensePlate) types.LicensePlate {
	if p, ok := t.products[lp.ProductID]; ok {
		lp.ProductCode = p.Code
		lp.ProductName = p.Name
	}
	return lp
}

func (t *memTenant) numberTaken(number string) bool {
	for _, lp := range t.lps {
		if lp.LPNumber == number {
			return true
		}
	}
	return false
}

func (t *memTenant) insertLP(lp types.LicensePlate) (types.LicensePlate, error) {
	if lp.ID == "" {
		return types.LicensePlate{}, fmt.Errorf("warehouse: license plate id is required")
	}
	if _, ok := t.lps[lp.ID]; ok {
		return types.LicensePlate{}, ports.ErrDuplicate
	}
	if lp.LPNumber == "" {
		t.lpSeq++
		lp.LPNumber = formatLPNumber(t.lpSeq)
	}
	if t.numberTaken(lp.LPNumber) {
		return types.LicensePlate{}, ports.ErrDuplicate
	}
	lp.Version = 1
	lp.ProductCode = ""
	lp.ProductName = ""
	t.lps[lp.ID] = lp
	return t.decorate(lp), nil
}

func (s *MemoryStore) GetLicensePlate(_ context.Context, tenantID string, id string) (types.LicensePlate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	lp, ok := t.lps[id]
	if !ok {
		return types.LicensePlate{}, ports.ErrNotFound
	}
	return t.decorate(lp), nil
}

func (s *MemoryStore) GetLicensePlates(_ context.Context, tenantID string, ids []string) ([]types.LicensePlate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	out := make([]types.LicensePlate, 0, len(ids))
	for _, id := range ids {
		if lp, ok := t.lps[id]; ok {
			out = append(out, t.decorate(lp))
		}
	}
	return out, nil
}

func (s *MemoryStore) ListLicensePlates(_ context.Context, tenantID string, f types.LicensePlateFilter) (types.LicensePlatePage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)

	matched := make([]types.LicensePlate, 0)
	for _, lp := range t.lps {
		if matchesFilter(lp, f) {
			matched = append(matched, t.decorate(lp))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].LPNumber > matched[j].LPNumber
	})

	page := types.LicensePlatePage{Total: len(matched)}
	start := min(f.Offset, len(matched))
	end := len(matched)
	if f.Limit > 0 {
		end = min(start+f.Limit, len(matched))
	}
	page.Items = matched[start:end]
	return page, nil
}

func matchesFilter(lp types.LicensePlate, f types.LicensePlateFilter) bool {
	if f.Search != "" && !strings.HasPrefix(strings.ToUpper(lp.LPNumber), strings.ToUpper(f.Search)) {
		return false
	}
	if f.WarehouseID != "" && lp.WarehouseID != f.WarehouseID {
		return false
	}
	if f.LocationID != "" && lp.LocationID != f.LocationID {
		return false
	}
	if f.ProductID != "" && lp.ProductID != f.ProductID {
		return false
	}
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, lp.Status) {
		return false
	}
	if len(f.QAStatuses) > 0 && !slices.Contains(f.QAStatuses, lp.QAStatus) {
		return false
	}
	if f.BatchNumber != "" && lp.BatchNumber != f.BatchNumber {
		return false
	}
	if f.WorkOrderID != "" && lp.WorkOrderID != f.WorkOrderID {
		return false
	}
	if f.ExpiryFrom != "" && (lp.ExpiryDate == "" || lp.ExpiryDate < f.ExpiryFrom) {
		return false
	}
	if f.ExpiryTo != "" && (lp.ExpiryDate == "" || lp.ExpiryDate > f.ExpiryTo) {
		return false
	}
	return true
}

func (s *MemoryStore) CreateLicensePlate(_ context.Context, tenantID string, lp types.LicensePlate) (types.LicensePlate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tenant(tenantID).insertLP(lp)
}

func (s *MemoryStore) UpdateLicensePlate(_ context.Context, tenantID string, lp types.LicensePlate, expectedVersion int64) (types.LicensePlate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	cur, ok := t.lps[lp.ID]
	if !ok {
		return types.LicensePlate{}, ports.ErrNotFound
	}
	if cur.Version != expectedVersion || cur.Consumed {
		return types.LicensePlate{}, ports.ErrConflict
	}
	cur.Quantity = lp.Quantity
	cur.LocationID = lp.LocationID
	cur.WarehouseID = lp.WarehouseID
	cur.Status = lp.Status
	cur.QAStatus = lp.QAStatus
	cur.Consumed = lp.Status == types.LPStatusConsumed
	cur.UpdatedAt = lp.UpdatedAt
	cur.UpdatedBy = lp.UpdatedBy
	cur.Version++
	t.lps[cur.ID] = cur
	return t.decorate(cur), nil
}

func (s *MemoryStore) PeekLPNumbers(_ context.Context, tenantID string, n int) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	out := make([]string, 0, n)
	for i := 1; i <= n; i++ {
		out = append(out, formatLPNumber(t.lpSeq+i))
	}
	return out, nil
}

func (t *memTenant) consume(expected types.LicensePlate, actor string, at time.Time) error {
	cur, ok := t.lps[expected.ID]
	if !ok {
		return ports.ErrNotFound
	}
	if cur.Version != expected.Version || !cur.Available() {
		return ports.ErrConflict
	}
	cur.Status = types.LPStatusConsumed
	cur.Consumed = true
	cur.Version++
	cur.UpdatedAt = at
	cur.UpdatedBy = actor
	t.lps[cur.ID] = cur
	return nil
}

// snapshot lets a failed multi-row write leave nothing behind.
func (t *memTenant) snapshot() (map[string]types.LicensePlate, []types.GenealogyEdge, int) {
	lps := make(map[string]types.LicensePlate, len(t.lps))
	for k, v := range t.lps {
		lps[k] = v
	}
	return lps, slices.Clone(t.edges), t.lpSeq
}

func (t *memTenant) restore(lps map[string]types.LicensePlate, edges []types.GenealogyEdge, seq int) {
	t.lps, t.edges, t.lpSeq = lps, edges, seq
}

func (s *MemoryStore) CommitSplit(_ context.Context, tenantID string, plan types.SplitPlan) ([]types.LicensePlate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	lps, edges, seq := t.snapshot()

	if err := t.consume(plan.Source, plan.Actor, plan.At); err != nil {
		return nil, err
	}
	children := make([]types.LicensePlate, 0, len(plan.Children))
	for _, c := range plan.Children {
		created, err := t.insertLP(c)
		if err != nil {
			t.restore(lps, edges, seq)
			return nil, err
		}
		children = append(children, created)
	}
	t.edges = append(t.edges, plan.Edges...)
	return children, nil
}

func (s *MemoryStore) CommitMerge(_ context.Context, tenantID string, plan types.MergePlan) (types.LicensePlate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	lps, edges, seq := t.snapshot()

	for _, src := range plan.Sources {
		if err := t.consume(src, plan.Actor, plan.At); err != nil {
			t.restore(lps, edges, seq)
			return types.LicensePlate{}, err
		}
	}
	created, err := t.insertLP(plan.Result)
	if err != nil {
		t.restore(lps, edges, seq)
		return types.LicensePlate{}, err
	}
	t.edges = append(t.edges, plan.Edges...)
	return created, nil
}

func (s *MemoryStore) InsertEdge(_ context.Context, tenantID string, edge types.GenealogyEdge) (types.GenealogyEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	if _, ok := t.lps[edge.ParentLPID]; !ok {
		return types.GenealogyEdge{}, ports.ErrNotFound
	}
	if _, ok := t.lps[edge.ChildLPID]; !ok {
		return types.GenealogyEdge{}, ports.ErrNotFound
	}
	for _, e := range t.edges {
		if !e.IsReversed && e.ParentLPID == edge.ParentLPID && e.ChildLPID == edge.ChildLPID && e.OperationType == edge.OperationType {
			return types.GenealogyEdge{}, ports.ErrDuplicate
		}
	}
	t.edges = append(t.edges, edge)
	return edge, nil
}

func (s *MemoryStore) ReverseEdge(_ context.Context, tenantID string, edgeID string, actor string, at time.Time) (types.GenealogyEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	for i, e := range t.edges {
		if e.ID != edgeID {
			continue
		}
		if e.IsReversed {
			return types.GenealogyEdge{}, ports.ErrConflict
		}
		e.IsReversed = true
		e.ReversedAt = &at
		e.ReversedBy = actor
		t.edges[i] = e
		return e, nil
	}
	return types.GenealogyEdge{}, ports.ErrNotFound
}

func (s *MemoryStore) edgesWhere(tenantID string, keep func(types.GenealogyEdge) bool) []types.GenealogyEdge {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	out := make([]types.GenealogyEdge, 0)
	for _, e := range t.edges {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (s *MemoryStore) EdgesByChild(_ context.Context, tenantID string, childIDs []string, includeReversed bool) ([]types.GenealogyEdge, error) {
	return s.edgesWhere(tenantID, func(e types.GenealogyEdge) bool {
		return (includeReversed || !e.IsReversed) && slices.Contains(childIDs, e.ChildLPID)
	}), nil
}

func (s *MemoryStore) EdgesByParent(_ context.Context, tenantID string, parentIDs []string, includeReversed bool) ([]types.GenealogyEdge, error) {
	return s.edgesWhere(tenantID, func(e types.GenealogyEdge) bool {
		return (includeReversed || !e.IsReversed) && slices.Contains(parentIDs, e.ParentLPID)
	}), nil
}

func (s *MemoryStore) EdgesByWorkOrder(_ context.Context, tenantID string, workOrderID string) ([]types.GenealogyEdge, error) {
	return s.edgesWhere(tenantID, func(e types.GenealogyEdge) bool {
		return e.WorkOrderID == workOrderID
	}), nil
}

func (s *MemoryStore) GetSettings(_ context.Context, tenantID string) (types.WarehouseSettings, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	if t.settings == nil {
		return types.WarehouseSettings{}, false, nil
	}
	return *t.settings, true, nil
}

func (s *MemoryStore) PutSettings(_ context.Context, tenantID string, settings types.WarehouseSettings) (types.WarehouseSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	t.settings = &settings
	return settings, nil
}

func (s *MemoryStore) InventorySummary(_ context.Context, tenantID string, expiringBefore string) (types.InventorySummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	sum := types.InventorySummary{
		ByStatus:               map[types.LPStatus]int{},
		ByQAStatus:             map[types.QAStatus]int{},
		AvailableQuantityByUoM: map[string]decimal.Decimal{},
		ExpiringBefore:         expiringBefore,
	}
	for _, lp := range t.lps {
		sum.TotalLPs++
		sum.ByStatus[lp.Status]++
		sum.ByQAStatus[lp.QAStatus]++
		if !lp.Available() {
			continue
		}
		sum.AvailableQuantityByUoM[lp.UoM] = sum.AvailableQuantityByUoM[lp.UoM].Add(lp.Quantity)
		if lp.ExpiryDate != "" && lp.ExpiryDate <= expiringBefore {
			sum.ExpiringSoon++
		}
	}
	return sum, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, tenantID string, id string) (types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.tenant(tenantID).products[id]
	if !ok {
		return types.Product{}, ports.ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) ListProducts(_ context.Context, tenantID string) ([]types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Product, 0)
	for _, p := range s.tenant(tenantID).products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, tenantID string, p types.Product) (types.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	for _, existing := range t.products {
		if existing.ID == p.ID || existing.Code == p.Code {
			return types.Product{}, ports.ErrDuplicate
		}
	}
	t.products[p.ID] = p
	return p, nil
}

func (s *MemoryStore) GetLocation(_ context.Context, tenantID string, id string) (types.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.tenant(tenantID).locations[id]
	if !ok {
		return types.Location{}, ports.ErrNotFound
	}
	return l, nil
}

func (s *MemoryStore) ListLocations(_ context.Context, tenantID string, warehouseID string) ([]types.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Location, 0)
	for _, l := range s.tenant(tenantID).locations {
		if warehouseID == "" || l.WarehouseID == warehouseID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (s *MemoryStore) CreateLocation(_ context.Context, tenantID string, l types.Location) (types.Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tenant(tenantID)
	for _, existing := range t.locations {
		if existing.ID == l.ID || (existing.WarehouseID == l.WarehouseID && existing.Code == l.Code) {
			return types.Location{}, ports.ErrDuplicate
		}
	}
	t.locations[l.ID] = l
	return l, nil
}
