package services

import (
	"context"
	"errors"
	"strings"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
)

type MergeOperator struct {
	store   ports.Store
	checker Checker
	rt      runtime
}

func NewMergeOperator(store ports.Store, checker Checker, opts ...Option) MergeOperator {
	return MergeOperator{store: store, checker: checker, rt: newRuntime(opts)}
}

// ValidateMerge never fails on business rules; they come back in the result.
func (o MergeOperator) ValidateMerge(ctx context.Context, tenantID string, req types.MergeRequest) (types.MergeValidation, error) {
	v, _, err := o.validate(ctx, tenantID, req)
	return v, err
}

func (o MergeOperator) Merge(ctx context.Context, tenantID string, actorID string, req types.MergeRequest) (types.MergeResult, error) {
	v, sources, err := o.validate(ctx, tenantID, req)
	if err != nil {
		return types.MergeResult{}, err
	}
	if !v.Valid {
		return types.MergeResult{}, httperr.NewValidation(v.Errors)
	}

	at := o.rt.now()
	sum := v.Summary
	newID, err := o.rt.newID()
	if err != nil {
		return types.MergeResult{}, err
	}
	plan := types.MergePlan{
		Sources: sources,
		Actor:   actorID,
		At:      at,
		Result: types.LicensePlate{
			ID:          newID,
			ProductID:   sum.ProductID,
			Quantity:    sum.TotalQuantity,
			UoM:         sum.UoM,
			BatchNumber: sum.BatchNumber,
			ExpiryDate:  sum.ExpiryDate,
			QAStatus:    sum.QAStatus,
			LocationID:  sum.LocationID,
			WarehouseID: sum.WarehouseID,
			Status:      types.LPStatusAvailable,
			ParentLPID:  sources[0].ID,
			Source:      types.LPSourceMerge,
			CreatedAt:   at,
			CreatedBy:   actorID,
			UpdatedAt:   at,
			UpdatedBy:   actorID,
		},
	}
	for _, src := range sources {
		edgeID, err := o.rt.newID()
		if err != nil {
			return types.MergeResult{}, err
		}
		plan.Edges = append(plan.Edges, types.GenealogyEdge{
			ID:            edgeID,
			ParentLPID:    src.ID,
			ChildLPID:     newID,
			OperationType: types.OperationMerge,
			Quantity:      src.Quantity,
			UoM:           src.UoM,
			Note:          req.Note,
			CreatedAt:     at,
			CreatedBy:     actorID,
		})
	}

	merged, err := o.store.CommitMerge(ctx, tenantID, plan)
	if err != nil {
		if errors.Is(err, ports.ErrConflict) || errors.Is(err, ports.ErrNotFound) {
			return types.MergeResult{}, httperr.NewConflict(httperr.CodeLPConflict, "One or more LPs are no longer available for merge")
		}
		return types.MergeResult{}, mapStoreError(err, "License plate not found")
	}

	consumed := make([]types.LicensePlate, 0, len(sources))
	for _, src := range sources {
		src.Status = types.LPStatusConsumed
		src.Consumed = true
		src.Version++
		src.UpdatedAt = at
		src.UpdatedBy = actorID
		consumed = append(consumed, src)
	}
	return types.MergeResult{
		LicensePlate:   merged,
		Sources:        consumed,
		Edges:          plan.Edges,
		MergedQuantity: sum.TotalQuantity,
		Warnings:       v.Warnings,
	}, nil
}

func (o MergeOperator) validate(ctx context.Context, tenantID string, req types.MergeRequest) (types.MergeValidation, []types.LicensePlate, error) {
	requested := make([]string, 0, len(req.LPIDs))
	unique := make([]string, 0, len(req.LPIDs))
	seen := make(map[string]bool, len(req.LPIDs))
	for _, id := range req.LPIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		requested = append(requested, id)
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	found, err := o.store.GetLicensePlates(ctx, tenantID, unique)
	if err != nil {
		return types.MergeValidation{}, nil, err
	}
	// keep request order; the first requested LP becomes the merge parent
	byID := make(map[string]types.LicensePlate, len(found))
	for _, lp := range found {
		byID[lp.ID] = lp
	}
	ordered := make([]types.LicensePlate, 0, len(found))
	for _, id := range unique {
		if lp, ok := byID[id]; ok {
			ordered = append(ordered, lp)
		}
	}

	targetID := strings.TrimSpace(req.TargetLocationID)
	var target *types.Location
	if targetID != "" {
		l, err := o.store.GetLocation(ctx, tenantID, targetID)
		switch {
		case err == nil:
			target = &l
		case !errors.Is(err, ports.ErrNotFound):
			return types.MergeValidation{}, nil, err
		}
	}

	settings, err := loadSettings(ctx, o.store, tenantID)
	if err != nil {
		return types.MergeValidation{}, nil, err
	}
	return o.checker.CheckMerge(requested, ordered, targetID, target, settings), ordered, nil
}
