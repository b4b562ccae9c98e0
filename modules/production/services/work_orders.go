package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/monopilot/monopilot/modules/production/domain/ports"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
)

// WorkOrders owns the work order header life cycle and the read side of
// operations. Operation transitions live in Sequencer.
type WorkOrders struct {
	store ports.Store
	rt    runtime
}

func NewWorkOrders(store ports.Store, opts ...Option) WorkOrders {
	return WorkOrders{store: store, rt: newRuntime(opts)}
}

func validateCreate(req types.CreateWorkOrderRequest) []string {
	var problems []string
	if req.WONumber == "" {
		problems = append(problems, "wo_number is required")
	}
	if req.ProductID == "" {
		problems = append(problems, "product_id is required")
	}
	if !req.PlannedQuantity.IsPositive() {
		problems = append(problems, "planned_quantity must be greater than 0")
	}
	if req.UoM == "" {
		problems = append(problems, "uom is required")
	}
	seen := make(map[int]bool, len(req.Operations))
	for i, op := range req.Operations {
		label := fmt.Sprintf("operations[%d]", i)
		if op.Sequence <= 0 {
			problems = append(problems, label+": sequence must be greater than 0")
		} else if seen[op.Sequence] {
			problems = append(problems, fmt.Sprintf("%s: duplicate sequence %d", label, op.Sequence))
		}
		seen[op.Sequence] = true
		if strings.TrimSpace(op.Name) == "" {
			problems = append(problems, label+": name is required")
		}
		if op.ExpectedDurationMinutes != nil && *op.ExpectedDurationMinutes < 0 {
			problems = append(problems, label+": expected_duration_minutes must be >= 0")
		}
		if y := op.ExpectedYieldPercent; y != nil && (y.IsNegative() || y.GreaterThan(hundred)) {
			problems = append(problems, label+": expected_yield_percent must be between 0 and 100")
		}
	}
	return problems
}

func (s WorkOrders) Create(ctx context.Context, tenantID string, actorID string, req types.CreateWorkOrderRequest) (types.WorkOrder, error) {
	req.WONumber = strings.TrimSpace(req.WONumber)
	req.ProductID = strings.TrimSpace(req.ProductID)
	req.UoM = strings.TrimSpace(req.UoM)
	if problems := validateCreate(req); len(problems) > 0 {
		return types.WorkOrder{}, httperr.NewValidation(problems)
	}

	id, err := s.rt.newID()
	if err != nil {
		return types.WorkOrder{}, err
	}
	now := s.rt.now()
	wo := types.WorkOrder{
		ID:              id,
		WONumber:        req.WONumber,
		ProductID:       req.ProductID,
		PlannedQuantity: req.PlannedQuantity,
		UoM:             req.UoM,
		Status:          types.WOStatusDraft,
		CreatedAt:       now,
		CreatedBy:       actorID,
		UpdatedAt:       now,
		UpdatedBy:       actorID,
	}
	ops := make([]types.Operation, 0, len(req.Operations))
	for _, spec := range req.Operations {
		opID, err := s.rt.newID()
		if err != nil {
			return types.WorkOrder{}, err
		}
		ops = append(ops, types.Operation{
			ID:                      opID,
			WorkOrderID:             id,
			Sequence:                spec.Sequence,
			Name:                    strings.TrimSpace(spec.Name),
			Status:                  types.OpStatusPending,
			ExpectedDurationMinutes: spec.ExpectedDurationMinutes,
			ExpectedYieldPercent:    spec.ExpectedYieldPercent,
		})
	}
	created, err := s.store.CreateWorkOrder(ctx, tenantID, wo, ops)
	if err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return types.WorkOrder{}, httperr.NewConflict(httperr.CodeConflict, fmt.Sprintf("Work order %s already exists", wo.WONumber))
		}
		return types.WorkOrder{}, err
	}
	return created, nil
}

// Get returns the work order with its operations in sequence order.
func (s WorkOrders) Get(ctx context.Context, tenantID string, id string) (types.WorkOrder, error) {
	wo, err := s.store.GetWorkOrder(ctx, tenantID, strings.TrimSpace(id))
	if err != nil {
		return types.WorkOrder{}, mapStoreError(err, "Work order not found")
	}
	ops, err := s.store.ListOperations(ctx, tenantID, wo.ID)
	if err != nil {
		return types.WorkOrder{}, err
	}
	wo.Operations = ops
	return wo, nil
}

func (s WorkOrders) Operations(ctx context.Context, tenantID string, woID string) ([]types.Operation, error) {
	wo, err := s.Get(ctx, tenantID, woID)
	if err != nil {
		return nil, err
	}
	return wo.Operations, nil
}

func (s WorkOrders) Logs(ctx context.Context, tenantID string, woID string, opID string) ([]types.OperationLog, error) {
	if _, err := s.store.GetOperation(ctx, tenantID, woID, opID); err != nil {
		return nil, mapStoreError(err, "Operation not found")
	}
	return s.store.ListOperationLogs(ctx, tenantID, woID, opID)
}

func (s WorkOrders) ChangeStatus(ctx context.Context, tenantID string, actorID string, woID string, action types.WorkOrderAction) (types.WorkOrder, error) {
	wo, err := s.store.GetWorkOrder(ctx, tenantID, woID)
	if err != nil {
		return types.WorkOrder{}, mapStoreError(err, "Work order not found")
	}
	target, ok := action.Target(wo.Status)
	if target == "" {
		return types.WorkOrder{}, httperr.NewValidation([]string{fmt.Sprintf("unknown action %q", action)})
	}
	if !ok {
		return types.WorkOrder{}, httperr.New(http.StatusBadRequest, httperr.CodeInvalidTransition,
			fmt.Sprintf("Cannot %s work order in status %s", action, wo.Status))
	}
	return s.transition(ctx, tenantID, actorID, wo, target)
}

func (s WorkOrders) transition(ctx context.Context, tenantID string, actorID string, wo types.WorkOrder, target types.WorkOrderStatus) (types.WorkOrder, error) {
	next := wo
	next.Status = target
	next.UpdatedAt = s.rt.now()
	next.UpdatedBy = actorID
	updated, err := s.store.UpdateWorkOrderStatus(ctx, tenantID, next, wo.Status, wo.Version)
	if err != nil {
		return types.WorkOrder{}, mapStoreError(err, "Work order not found")
	}
	return updated, nil
}

func readiness(wo types.WorkOrder, ops []types.Operation) types.CompletionReadiness {
	r := types.CompletionReadiness{
		WorkOrderID: wo.ID,
		Status:      wo.Status,
		Total:       len(ops),
		Blocking:    []types.OperationRef{},
	}
	for _, op := range ops {
		switch op.Status {
		case types.OpStatusCompleted:
			r.Completed++
		case types.OpStatusSkipped:
			r.Skipped++
		default:
			r.Blocking = append(r.Blocking, types.RefOf(op))
		}
	}
	r.Ready = wo.Status.Running() && len(r.Blocking) == 0
	return r
}

func (s WorkOrders) CompletionReadiness(ctx context.Context, tenantID string, woID string) (types.CompletionReadiness, error) {
	wo, err := s.Get(ctx, tenantID, woID)
	if err != nil {
		return types.CompletionReadiness{}, err
	}
	return readiness(wo, wo.Operations), nil
}

// Complete closes a running work order once every operation is completed or
// skipped.
func (s WorkOrders) Complete(ctx context.Context, tenantID string, actorID string, woID string) (types.WorkOrder, error) {
	wo, err := s.Get(ctx, tenantID, woID)
	if err != nil {
		return types.WorkOrder{}, err
	}
	if !wo.Status.Running() {
		return types.WorkOrder{}, woNotInProgress(wo)
	}
	r := readiness(wo, wo.Operations)
	if len(r.Blocking) > 0 {
		details := make([]string, 0, len(r.Blocking))
		for _, b := range r.Blocking {
			details = append(details, fmt.Sprintf("Operation %d (%s) is %s", b.Sequence, b.Name, b.Status))
		}
		return types.WorkOrder{}, &httperr.Error{
			Status:  http.StatusBadRequest,
			Code:    httperr.CodeWOIncomplete,
			Message: "All operations must be completed or skipped before completing the work order",
			Details: details,
		}
	}
	updated, err := s.transition(ctx, tenantID, actorID, wo, types.WOStatusCompleted)
	if err != nil {
		return types.WorkOrder{}, err
	}
	updated.Operations = wo.Operations
	return updated, nil
}

type Settings struct {
	store ports.Store
	rt    runtime
}

func NewSettings(store ports.Store, opts ...Option) Settings {
	return Settings{store: store, rt: newRuntime(opts)}
}

// Get returns the stored settings; tenants without a row do not enforce
// operation sequence.
func (s Settings) Get(ctx context.Context, tenantID string) (types.ProductionSettings, error) {
	return loadSettings(ctx, s.store, tenantID)
}

func (s Settings) Put(ctx context.Context, tenantID string, actorID string, requireSequence bool) (types.ProductionSettings, error) {
	return s.store.PutSettings(ctx, tenantID, types.ProductionSettings{
		RequireOperationSequence: requireSequence,
		UpdatedAt:                s.rt.now(),
		UpdatedBy:                actorID,
	})
}
