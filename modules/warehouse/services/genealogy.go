package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
)

// Genealogy records production consume/output links. Split and merge edges
// are written by their operators and cannot be created here.
type Genealogy struct {
	store ports.LedgerStore
	rt    runtime
}

func NewGenealogy(store ports.LedgerStore, opts ...Option) Genealogy {
	return Genealogy{store: store, rt: newRuntime(opts)}
}

func (g Genealogy) Link(ctx context.Context, tenantID string, actorID string, req types.LinkRequest) (types.GenealogyEdge, error) {
	req.ParentLPID = strings.TrimSpace(req.ParentLPID)
	req.ChildLPID = strings.TrimSpace(req.ChildLPID)

	var problems []string
	if req.ParentLPID == "" || req.ChildLPID == "" {
		problems = append(problems, "parent_lp_id and child_lp_id are required")
	} else if req.ParentLPID == req.ChildLPID {
		problems = append(problems, "An LP cannot be linked to itself")
	}
	if req.OperationType != types.OperationConsume && req.OperationType != types.OperationOutput {
		problems = append(problems, fmt.Sprintf("operation_type must be consume or output (got %q)", req.OperationType))
	}
	if !req.Quantity.IsPositive() {
		problems = append(problems, "quantity must be greater than 0")
	}
	if req.OperationSequence < 0 {
		problems = append(problems, "operation_sequence must be >= 0")
	}
	if len(problems) > 0 {
		return types.GenealogyEdge{}, httperr.NewValidation(problems)
	}

	lps, err := g.store.GetLicensePlates(ctx, tenantID, []string{req.ParentLPID, req.ChildLPID})
	if err != nil {
		return types.GenealogyEdge{}, err
	}
	var parent *types.LicensePlate
	for i := range lps {
		if lps[i].ID == req.ParentLPID {
			parent = &lps[i]
		}
	}
	if len(lps) != 2 || parent == nil {
		return types.GenealogyEdge{}, httperr.NewNotFound("License plate not found")
	}

	id, err := g.rt.newID()
	if err != nil {
		return types.GenealogyEdge{}, err
	}
	edge, err := g.store.InsertEdge(ctx, tenantID, types.GenealogyEdge{
		ID:                id,
		ParentLPID:        req.ParentLPID,
		ChildLPID:         req.ChildLPID,
		OperationType:     req.OperationType,
		Quantity:          req.Quantity,
		UoM:               parent.UoM,
		WorkOrderID:       strings.TrimSpace(req.WorkOrderID),
		OperationSequence: req.OperationSequence,
		Note:              req.Note,
		CreatedAt:         g.rt.now(),
		CreatedBy:         actorID,
	})
	if err != nil {
		if errors.Is(err, ports.ErrDuplicate) {
			return types.GenealogyEdge{}, httperr.NewConflict(httperr.CodeConflict, "Genealogy link already exists")
		}
		return types.GenealogyEdge{}, mapStoreError(err, "License plate not found")
	}
	return edge, nil
}

func (g Genealogy) Reverse(ctx context.Context, tenantID string, actorID string, linkID string) (types.GenealogyEdge, error) {
	edge, err := g.store.ReverseEdge(ctx, tenantID, strings.TrimSpace(linkID), actorID, g.rt.now())
	if err != nil {
		if errors.Is(err, ports.ErrConflict) {
			return types.GenealogyEdge{}, httperr.NewConflict(httperr.CodeConflict, "Genealogy link is already reversed")
		}
		return types.GenealogyEdge{}, mapStoreError(err, "Genealogy link not found")
	}
	return edge, nil
}

func (g Genealogy) ByWorkOrder(ctx context.Context, tenantID string, workOrderID string) ([]types.GenealogyEdge, error) {
	workOrderID = strings.TrimSpace(workOrderID)
	if workOrderID == "" {
		return nil, httperr.NewBadRequest("wo_id is required")
	}
	return g.store.EdgesByWorkOrder(ctx, tenantID, workOrderID)
}
