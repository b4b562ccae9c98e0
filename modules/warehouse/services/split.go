package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
)

type SplitOperator struct {
	store   ports.Store
	checker Checker
	rt      runtime
}

func NewSplitOperator(store ports.Store, checker Checker, opts ...Option) SplitOperator {
	return SplitOperator{store: store, checker: checker, rt: newRuntime(opts)}
}

// ValidateSplit is the dry run: it reports every problem and the children a
// split would create, with estimated LP numbers.
func (o SplitOperator) ValidateSplit(ctx context.Context, tenantID string, req types.SplitRequest) (types.SplitValidation, error) {
	source, err := o.store.GetLicensePlate(ctx, tenantID, req.LPID)
	if err != nil {
		return types.SplitValidation{}, mapStoreError(err, "License plate not found")
	}
	settings, err := loadSettings(ctx, o.store, tenantID)
	if err != nil {
		return types.SplitValidation{}, err
	}

	v := types.SplitValidation{Source: source, Errors: []string{}, Warnings: []string{}, Parts: []types.SplitPart{}}
	targets, problems, err := o.resolveTargets(ctx, tenantID, source, req)
	if err != nil {
		return types.SplitValidation{}, err
	}
	v.Errors = append(v.Errors, problems...)
	if len(problems) > 0 {
		v.Errors = append(v.Errors, availabilityProblem(source)...)
	} else {
		errs, warnings := o.checker.CheckSplit(source, targets, settings)
		v.Errors = append(v.Errors, errs...)
		v.Warnings = append(v.Warnings, warnings...)
	}

	numbers, err := o.store.PeekLPNumbers(ctx, tenantID, len(targets))
	if err != nil {
		return types.SplitValidation{}, err
	}
	for i, t := range targets {
		part := types.SplitPart{Quantity: t.Quantity, LocationID: source.LocationID}
		if t.LocationID != "" {
			part.LocationID = t.LocationID
		}
		if i < len(numbers) {
			part.LPNumber = numbers[i]
		}
		v.Parts = append(v.Parts, part)
	}
	v.Valid = len(v.Errors) == 0
	return v, nil
}

func (o SplitOperator) PreviewSplit(ctx context.Context, tenantID string, req types.SplitRequest) (types.SplitPreview, error) {
	v, err := o.ValidateSplit(ctx, tenantID, req)
	if err != nil {
		return types.SplitPreview{}, err
	}
	p := types.SplitPreview{SplitValidation: v}
	if req.SplitQuantity != nil && len(v.Parts) == 2 {
		p.RemainingQuantity = v.Parts[1].Quantity
	}
	return p, nil
}

// Split consumes the source and creates one child per part in a single store
// transaction. Nothing is written when validation fails.
func (o SplitOperator) Split(ctx context.Context, tenantID string, actorID string, req types.SplitRequest) (types.SplitResult, error) {
	v, err := o.ValidateSplit(ctx, tenantID, req)
	if err != nil {
		return types.SplitResult{}, err
	}
	if !v.Valid {
		return types.SplitResult{}, httperr.NewValidation(v.Errors)
	}

	at := o.rt.now()
	source := v.Source
	plan := types.SplitPlan{Source: source, Actor: actorID, At: at}
	for _, part := range v.Parts {
		childID, err := o.rt.newID()
		if err != nil {
			return types.SplitResult{}, err
		}
		edgeID, err := o.rt.newID()
		if err != nil {
			return types.SplitResult{}, err
		}
		plan.Children = append(plan.Children, types.LicensePlate{
			ID:          childID,
			ProductID:   source.ProductID,
			Quantity:    part.Quantity,
			UoM:         source.UoM,
			BatchNumber: source.BatchNumber,
			ExpiryDate:  source.ExpiryDate,
			QAStatus:    source.QAStatus,
			LocationID:  part.LocationID,
			WarehouseID: source.WarehouseID,
			Status:      types.LPStatusAvailable,
			ParentLPID:  source.ID,
			Source:      types.LPSourceSplit,
			WorkOrderID: source.WorkOrderID,
			CreatedAt:   at,
			CreatedBy:   actorID,
			UpdatedAt:   at,
			UpdatedBy:   actorID,
		})
		plan.Edges = append(plan.Edges, types.GenealogyEdge{
			ID:            edgeID,
			ParentLPID:    source.ID,
			ChildLPID:     childID,
			OperationType: types.OperationSplit,
			Quantity:      part.Quantity,
			UoM:           source.UoM,
			Note:          req.Note,
			CreatedAt:     at,
			CreatedBy:     actorID,
		})
	}

	children, err := o.store.CommitSplit(ctx, tenantID, plan)
	if err != nil {
		return types.SplitResult{}, mapStoreError(err, "License plate not found")
	}

	source.Status = types.LPStatusConsumed
	source.Consumed = true
	source.Version++
	source.UpdatedAt = at
	source.UpdatedBy = actorID
	return types.SplitResult{Source: source, Children: children, Edges: plan.Edges, Warnings: v.Warnings}, nil
}

// resolveTargets turns the request into concrete parts. problems are request
// shape errors that make the checker's verdict meaningless.
func (o SplitOperator) resolveTargets(ctx context.Context, tenantID string, source types.LicensePlate, req types.SplitRequest) ([]SplitTarget, []string, error) {
	var problems []string
	var targets []SplitTarget

	switch {
	case req.SplitQuantity != nil && len(req.Quantities) > 0:
		return nil, []string{"Provide either quantities or split_quantity, not both"}, nil
	case req.SplitQuantity != nil:
		q := *req.SplitQuantity
		if !q.IsPositive() {
			problems = append(problems, "Split quantity must be greater than 0")
		} else if q.GreaterThanOrEqual(source.Quantity) {
			problems = append(problems, fmt.Sprintf("Split quantity must be less than available quantity (%s)", source.Quantity.String()))
		}
		if len(problems) > 0 {
			return nil, problems, nil
		}
		targets = []SplitTarget{{Quantity: q}, {Quantity: source.Quantity.Sub(q)}}
	default:
		for _, q := range req.Quantities {
			targets = append(targets, SplitTarget{Quantity: q})
		}
	}

	if len(req.LocationIDs) > 0 && len(req.LocationIDs) != len(targets) {
		return targets, []string{"location_ids must have one entry per quantity"}, nil
	}
	locations := make(map[string]*types.Location)
	for i, id := range req.LocationIDs {
		if id == "" {
			continue
		}
		targets[i].LocationID = id
		loc, seen := locations[id]
		if !seen {
			l, err := o.store.GetLocation(ctx, tenantID, id)
			switch {
			case err == nil:
				loc = &l
			case errors.Is(err, ports.ErrNotFound):
				loc = nil
			default:
				return nil, nil, err
			}
			locations[id] = loc
		}
		targets[i].Location = loc
	}
	return targets, problems, nil
}
