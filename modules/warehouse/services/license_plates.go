package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// LicensePlates covers the single-LP life cycle around the split/merge
// ledger: receipt, amendment, QA and blocking, plus catalog and settings.
type LicensePlates struct {
	store ports.Store
	rules *QAWarningRules
	rt    runtime
}

func NewLicensePlates(store ports.Store, rules *QAWarningRules, opts ...Option) LicensePlates {
	return LicensePlates{store: store, rules: rules, rt: newRuntime(opts)}
}

func (s LicensePlates) Get(ctx context.Context, tenantID string, id string) (types.LicensePlate, error) {
	lp, err := s.store.GetLicensePlate(ctx, tenantID, strings.TrimSpace(id))
	if err != nil {
		return types.LicensePlate{}, mapStoreError(err, "License plate not found")
	}
	return lp, nil
}

func (s LicensePlates) List(ctx context.Context, tenantID string, f types.LicensePlateFilter) (types.LicensePlatePage, error) {
	var problems []string
	for _, st := range f.Statuses {
		if !st.Valid() {
			problems = append(problems, fmt.Sprintf("invalid status %q", st))
		}
	}
	for _, qa := range f.QAStatuses {
		if !qa.Valid() {
			problems = append(problems, fmt.Sprintf("invalid qa_status %q", qa))
		}
	}
	if !validDate(f.ExpiryFrom) || !validDate(f.ExpiryTo) {
		problems = append(problems, "expiry filters must be YYYY-MM-DD")
	}
	if f.Limit < 0 || f.Offset < 0 {
		problems = append(problems, "limit and offset must be >= 0")
	}
	if len(problems) > 0 {
		return types.LicensePlatePage{}, httperr.NewValidation(problems)
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	f.Limit = min(f.Limit, maxListLimit)
	return s.store.ListLicensePlates(ctx, tenantID, f)
}

func (s LicensePlates) Receive(ctx context.Context, tenantID string, actorID string, req types.ReceiveRequest) (types.LicensePlate, error) {
	var problems []string
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.LocationID = strings.TrimSpace(req.LocationID)
	req.LPNumber = strings.TrimSpace(req.LPNumber)

	var product types.Product
	if req.ProductID == "" {
		problems = append(problems, "product_id is required")
	} else {
		p, err := s.store.GetProduct(ctx, tenantID, req.ProductID)
		switch {
		case err == nil:
			product = p
		case errors.Is(err, ports.ErrNotFound):
			problems = append(problems, fmt.Sprintf("Product %s not found", req.ProductID))
		default:
			return types.LicensePlate{}, err
		}
	}

	var location types.Location
	if req.LocationID == "" {
		problems = append(problems, "location_id is required")
	} else {
		l, err := s.store.GetLocation(ctx, tenantID, req.LocationID)
		switch {
		case err == nil:
			location = l
		case errors.Is(err, ports.ErrNotFound):
			problems = append(problems, fmt.Sprintf("Location %s not found", req.LocationID))
		default:
			return types.LicensePlate{}, err
		}
	}

	if !req.Quantity.IsPositive() {
		problems = append(problems, "quantity must be greater than 0")
	}
	if strings.TrimSpace(req.UoM) == "" {
		req.UoM = product.DefaultUoM
	}
	if req.UoM == "" && product.ID != "" {
		problems = append(problems, "uom is required")
	}
	if !validDate(req.ExpiryDate) {
		problems = append(problems, "expiry_date must be YYYY-MM-DD")
	}
	if req.QAStatus == "" {
		req.QAStatus = types.QAStatusPending
	}
	if !req.QAStatus.Valid() {
		problems = append(problems, fmt.Sprintf("invalid qa_status %q", req.QAStatus))
	}
	if req.Source == "" {
		req.Source = types.LPSourceReceipt
	}
	if !req.Source.Valid() || req.Source == types.LPSourceSplit || req.Source == types.LPSourceMerge {
		problems = append(problems, fmt.Sprintf("source %q cannot be received", req.Source))
	}
	if len(problems) > 0 {
		return types.LicensePlate{}, httperr.NewValidation(problems)
	}

	id, err := s.rt.newID()
	if err != nil {
		return types.LicensePlate{}, err
	}
	at := s.rt.now()
	lp, err := s.store.CreateLicensePlate(ctx, tenantID, types.LicensePlate{
		ID:          id,
		LPNumber:    req.LPNumber,
		ProductID:   product.ID,
		Quantity:    req.Quantity,
		UoM:         req.UoM,
		BatchNumber: strings.TrimSpace(req.BatchNumber),
		ExpiryDate:  req.ExpiryDate,
		QAStatus:    req.QAStatus,
		LocationID:  location.ID,
		WarehouseID: location.WarehouseID,
		Status:      types.LPStatusAvailable,
		Source:      req.Source,
		WorkOrderID: strings.TrimSpace(req.WorkOrderID),
		CreatedAt:   at,
		CreatedBy:   actorID,
		UpdatedAt:   at,
		UpdatedBy:   actorID,
	})
	if err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return types.LicensePlate{}, httperr.NewConflict(httperr.CodeConflict, fmt.Sprintf("LP number %s already exists", req.LPNumber))
		}
		return types.LicensePlate{}, err
	}
	return lp, nil
}

// Amend corrects quantity and/or location of an unconsumed LP.
func (s LicensePlates) Amend(ctx context.Context, tenantID string, actorID string, id string, a types.Amendment) (types.LicensePlate, error) {
	if a.Quantity == nil && a.LocationID == nil {
		return types.LicensePlate{}, httperr.NewBadRequest("quantity or location_id is required")
	}
	return s.update(ctx, tenantID, actorID, id, a.ExpectedVersion, func(lp *types.LicensePlate) error {
		if lp.Consumed {
			return httperr.New(http.StatusBadRequest, httperr.CodeInvalidStatus, fmt.Sprintf("LP %s is consumed", lp.LPNumber))
		}
		var problems []string
		if a.Quantity != nil {
			if !a.Quantity.IsPositive() {
				problems = append(problems, "quantity must be greater than 0")
			}
			lp.Quantity = *a.Quantity
		}
		if a.LocationID != nil {
			loc, err := s.store.GetLocation(ctx, tenantID, strings.TrimSpace(*a.LocationID))
			switch {
			case err == nil:
				lp.LocationID = loc.ID
				lp.WarehouseID = loc.WarehouseID
			case errors.Is(err, ports.ErrNotFound):
				problems = append(problems, fmt.Sprintf("Location %s not found", *a.LocationID))
			default:
				return err
			}
		}
		if len(problems) > 0 {
			return httperr.NewValidation(problems)
		}
		return nil
	})
}

func (s LicensePlates) ChangeQAStatus(ctx context.Context, tenantID string, actorID string, id string, status types.QAStatus, expectedVersion int64) (types.LicensePlate, error) {
	if !status.Valid() {
		return types.LicensePlate{}, httperr.NewValidation([]string{fmt.Sprintf("invalid qa_status %q", status)})
	}
	return s.update(ctx, tenantID, actorID, id, expectedVersion, func(lp *types.LicensePlate) error {
		if lp.Consumed {
			return httperr.New(http.StatusBadRequest, httperr.CodeInvalidStatus, fmt.Sprintf("LP %s is consumed", lp.LPNumber))
		}
		lp.QAStatus = status
		return nil
	})
}

func (s LicensePlates) Block(ctx context.Context, tenantID string, actorID string, id string, expectedVersion int64) (types.LicensePlate, error) {
	return s.update(ctx, tenantID, actorID, id, expectedVersion, func(lp *types.LicensePlate) error {
		if lp.Status != types.LPStatusAvailable && lp.Status != types.LPStatusReserved {
			return httperr.New(http.StatusBadRequest, httperr.CodeInvalidTransition, fmt.Sprintf("LP %s cannot be blocked from status %s", lp.LPNumber, lp.Status))
		}
		lp.Status = types.LPStatusBlocked
		return nil
	})
}

func (s LicensePlates) Unblock(ctx context.Context, tenantID string, actorID string, id string, expectedVersion int64) (types.LicensePlate, error) {
	return s.update(ctx, tenantID, actorID, id, expectedVersion, func(lp *types.LicensePlate) error {
		if lp.Status != types.LPStatusBlocked {
			return httperr.New(http.StatusBadRequest, httperr.CodeInvalidTransition, fmt.Sprintf("LP %s is not blocked", lp.LPNumber))
		}
		lp.Status = types.LPStatusAvailable
		return nil
	})
}

// update reads the LP, applies mutate and writes it back under CAS. A
// non-zero expectedVersion must match what was read.
func (s LicensePlates) update(ctx context.Context, tenantID string, actorID string, id string, expectedVersion int64, mutate func(*types.LicensePlate) error) (types.LicensePlate, error) {
	lp, err := s.store.GetLicensePlate(ctx, tenantID, strings.TrimSpace(id))
	if err != nil {
		return types.LicensePlate{}, mapStoreError(err, "License plate not found")
	}
	if expectedVersion != 0 && expectedVersion != lp.Version {
		return types.LicensePlate{}, mapStoreError(ports.ErrConflict, "")
	}
	read := lp.Version
	if err := mutate(&lp); err != nil {
		return types.LicensePlate{}, err
	}
	lp.UpdatedAt = s.rt.now()
	lp.UpdatedBy = actorID
	out, err := s.store.UpdateLicensePlate(ctx, tenantID, lp, read)
	if err != nil {
		return types.LicensePlate{}, mapStoreError(err, "License plate not found")
	}
	return out, nil
}

func (s LicensePlates) Settings(ctx context.Context, tenantID string) (types.WarehouseSettings, error) {
	return loadSettings(ctx, s.store, tenantID)
}

func (s LicensePlates) UpdateSettings(ctx context.Context, tenantID string, actorID string, in types.WarehouseSettings) (types.WarehouseSettings, error) {
	in.QAWarningRule = strings.TrimSpace(in.QAWarningRule)
	if in.QAWarningRule == "" {
		in.QAWarningRule = types.DefaultQAWarningRule
	}
	if s.rules != nil {
		if _, err := s.rules.Compile(in.QAWarningRule); err != nil {
			return types.WarehouseSettings{}, httperr.NewValidation([]string{"qa_warning_rule: " + err.Error()})
		}
	}
	in.UpdatedAt = s.rt.now()
	in.UpdatedBy = actorID
	return s.store.PutSettings(ctx, tenantID, in)
}

func (s LicensePlates) Products(ctx context.Context, tenantID string) ([]types.Product, error) {
	return s.store.ListProducts(ctx, tenantID)
}

func (s LicensePlates) CreateProduct(ctx context.Context, tenantID string, p types.Product) (types.Product, error) {
	p.Code = strings.TrimSpace(p.Code)
	p.Name = strings.TrimSpace(p.Name)
	p.DefaultUoM = strings.TrimSpace(p.DefaultUoM)
	var problems []string
	if p.Code == "" {
		problems = append(problems, "code is required")
	}
	if p.Name == "" {
		problems = append(problems, "name is required")
	}
	if len(problems) > 0 {
		return types.Product{}, httperr.NewValidation(problems)
	}
	id, err := s.rt.newID()
	if err != nil {
		return types.Product{}, err
	}
	p.ID = id
	p.CreatedAt = s.rt.now()
	out, err := s.store.CreateProduct(ctx, tenantID, p)
	if err != nil {
		return types.Product{}, mapStoreError(err, "")
	}
	return out, nil
}

func (s LicensePlates) Locations(ctx context.Context, tenantID string, warehouseID string) ([]types.Location, error) {
	return s.store.ListLocations(ctx, tenantID, strings.TrimSpace(warehouseID))
}

func (s LicensePlates) CreateLocation(ctx context.Context, tenantID string, l types.Location) (types.Location, error) {
	l.WarehouseID = strings.TrimSpace(l.WarehouseID)
	l.Code = strings.TrimSpace(l.Code)
	l.Name = strings.TrimSpace(l.Name)
	var problems []string
	if l.WarehouseID == "" {
		problems = append(problems, "warehouse_id is required")
	}
	if l.Code == "" {
		problems = append(problems, "code is required")
	}
	if len(problems) > 0 {
		return types.Location{}, httperr.NewValidation(problems)
	}
	id, err := s.rt.newID()
	if err != nil {
		return types.Location{}, err
	}
	l.ID = id
	l.CreatedAt = s.rt.now()
	out, err := s.store.CreateLocation(ctx, tenantID, l)
	if err != nil {
		return types.Location{}, mapStoreError(err, "")
	}
	return out, nil
}
