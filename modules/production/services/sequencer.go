package services

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/monopilot/monopilot/modules/production/domain/ports"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/monopilot/monopilot/pkg/authz"
	"github.com/monopilot/monopilot/pkg/httperr"
	"github.com/shopspring/decimal"
)

const maxNotesLength = 2000

var hundred = decimal.NewFromInt(100)

// Sequencer moves work order operations through pending -> in_progress ->
// completed. Every transition is a compare-and-swap on the prior status and
// version, written together with its log row.
type Sequencer struct {
	store ports.Store
	authz Permitter
	rt    runtime
}

func NewSequencer(store ports.Store, permitter Permitter, opts ...Option) Sequencer {
	return Sequencer{store: store, authz: permitter, rt: newRuntime(opts)}
}

func (s Sequencer) load(ctx context.Context, tenantID string, woID string, opID string) (types.WorkOrder, types.Operation, error) {
	wo, err := s.store.GetWorkOrder(ctx, tenantID, woID)
	if err != nil {
		return types.WorkOrder{}, types.Operation{}, mapStoreError(err, "Work order not found")
	}
	op, err := s.store.GetOperation(ctx, tenantID, woID, opID)
	if err != nil {
		return types.WorkOrder{}, types.Operation{}, mapStoreError(err, "Operation not found")
	}
	return wo, op, nil
}

func woNotInProgress(wo types.WorkOrder) error {
	return httperr.New(http.StatusBadRequest, httperr.CodeWONotInProgress, fmt.Sprintf("Work order status is %s", wo.Status))
}

// blockingOperation returns the lowest sequence before seq that is neither
// completed nor skipped.
func blockingOperation(ops []types.Operation, seq int) (types.Operation, bool) {
	for _, op := range ops {
		if op.Sequence >= seq {
			break
		}
		if !op.Status.Done() {
			return op, true
		}
	}
	return types.Operation{}, false
}

func (s Sequencer) Start(ctx context.Context, tenantID string, actor types.Actor, woID string, opID string, opts types.StartOptions) (types.StartResult, error) {
	if err := authorize(ctx, s.authz, tenantID, actor, authz.ObjectProductionOperations, authz.ActionStart); err != nil {
		return types.StartResult{}, err
	}
	now := s.rt.now()
	startedAt := now
	if opts.StartedAt != nil {
		if opts.StartedAt.After(now) {
			return types.StartResult{}, httperr.NewValidation([]string{"started_at cannot be in the future"})
		}
		startedAt = opts.StartedAt.UTC()
	}
	wo, op, err := s.load(ctx, tenantID, woID, opID)
	if err != nil {
		return types.StartResult{}, err
	}
	if !wo.Status.Running() {
		return types.StartResult{}, woNotInProgress(wo)
	}
	if op.Status != types.OpStatusPending {
		return types.StartResult{}, httperr.New(http.StatusBadRequest, httperr.CodeInvalidStatus,
			fmt.Sprintf("Operation must be pending to start (current: %s)", op.Status))
	}

	settings, err := loadSettings(ctx, s.store, tenantID)
	if err != nil {
		return types.StartResult{}, err
	}
	if settings.RequireOperationSequence {
		ops, err := s.store.ListOperations(ctx, tenantID, wo.ID)
		if err != nil {
			return types.StartResult{}, err
		}
		if blocker, ok := blockingOperation(ops, op.Sequence); ok {
			return types.StartResult{}, httperr.NewConflict(httperr.CodeSequenceViolation,
				fmt.Sprintf("Operation %d (%s) must be completed first", blocker.Sequence, blocker.Name))
		}
	}

	logID, err := s.rt.newID()
	if err != nil {
		return types.StartResult{}, err
	}

	next := op
	next.Status = types.OpStatusInProgress
	next.StartedAt = &startedAt
	next.StartedBy = actor.ID
	updated, err := s.store.TransitionOperation(ctx, tenantID, types.OperationTransition{
		Next:            next,
		ExpectedStatus:  op.Status,
		ExpectedVersion: op.Version,
		Log: types.OperationLog{
			ID:          logID,
			OperationID: op.ID,
			WorkOrderID: wo.ID,
			EventType:   types.OpEventStarted,
			FromStatus:  op.Status,
			ToStatus:    types.OpStatusInProgress,
			ActorID:     actor.ID,
			CreatedAt:   now,
			Metadata:    map[string]any{"started_at": startedAt.Format(time.RFC3339)},
		},
	})
	if err != nil {
		return types.StartResult{}, mapStoreError(err, "Operation not found")
	}
	return types.StartResult{Operation: updated}, nil
}

func validateCompletion(opts types.CompleteOptions) error {
	if opts.YieldPercent == nil {
		return httperr.New(http.StatusBadRequest, httperr.CodeMissingYield, "Actual yield percent is required")
	}
	if opts.YieldPercent.IsNegative() || opts.YieldPercent.GreaterThan(hundred) {
		return httperr.New(http.StatusBadRequest, httperr.CodeInvalidYield, "Yield must be between 0 and 100")
	}
	var problems []string
	if opts.DurationMinutes != nil && *opts.DurationMinutes < 0 {
		problems = append(problems, "actual_duration_minutes must be >= 0")
	}
	if utf8.RuneCountInString(opts.Notes) > maxNotesLength {
		problems = append(problems, fmt.Sprintf("Notes must be %d characters or less", maxNotesLength))
	}
	if len(problems) > 0 {
		return httperr.NewValidation(problems)
	}
	return nil
}

// elapsedMinutes rounds to the nearest whole minute and never goes negative.
func elapsedMinutes(from time.Time, to time.Time) int {
	d := to.Sub(from)
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Minutes()))
}

func (s Sequencer) Complete(ctx context.Context, tenantID string, actor types.Actor, woID string, opID string, opts types.CompleteOptions) (types.CompleteResult, error) {
	if err := authorize(ctx, s.authz, tenantID, actor, authz.ObjectProductionOperations, authz.ActionComplete); err != nil {
		return types.CompleteResult{}, err
	}
	if err := validateCompletion(opts); err != nil {
		return types.CompleteResult{}, err
	}
	wo, op, err := s.load(ctx, tenantID, woID, opID)
	if err != nil {
		return types.CompleteResult{}, err
	}
	if wo.Status == types.WOStatusCompleted || wo.Status == types.WOStatusCancelled {
		return types.CompleteResult{}, woNotInProgress(wo)
	}
	if op.Status != types.OpStatusInProgress {
		return types.CompleteResult{}, httperr.New(http.StatusBadRequest, httperr.CodeInvalidStatus,
			fmt.Sprintf("Operation must be in progress to complete (current: %s)", op.Status))
	}

	now := s.rt.now()
	duration := 0
	if opts.DurationMinutes != nil {
		duration = *opts.DurationMinutes
	} else if op.StartedAt != nil {
		duration = elapsedMinutes(*op.StartedAt, now)
	}
	yield := *opts.YieldPercent
	logID, err := s.rt.newID()
	if err != nil {
		return types.CompleteResult{}, err
	}

	next := op
	next.Status = types.OpStatusCompleted
	next.CompletedAt = &now
	next.CompletedBy = actor.ID
	next.ActualDurationMinutes = &duration
	next.ActualYieldPercent = &yield
	if opts.Notes != "" {
		next.Notes = opts.Notes
	}
	updated, err := s.store.TransitionOperation(ctx, tenantID, types.OperationTransition{
		Next:            next,
		ExpectedStatus:  op.Status,
		ExpectedVersion: op.Version,
		Log: types.OperationLog{
			ID:          logID,
			OperationID: op.ID,
			WorkOrderID: wo.ID,
			EventType:   types.OpEventCompleted,
			FromStatus:  op.Status,
			ToStatus:    types.OpStatusCompleted,
			ActorID:     actor.ID,
			CreatedAt:   now,
			Metadata: map[string]any{
				"actual_duration_minutes": duration,
				"actual_yield_percent":    yield.String(),
				"duration_override":       opts.DurationMinutes != nil,
			},
		},
	})
	if err != nil {
		return types.CompleteResult{}, mapStoreError(err, "Operation not found")
	}

	res := types.CompleteResult{Operation: updated, ActualDurationMinutes: duration}
	if op.ExpectedDurationMinutes != nil {
		v := duration - *op.ExpectedDurationMinutes
		res.DurationVariance = &v
	}
	if op.ExpectedYieldPercent != nil {
		v := yield.Sub(*op.ExpectedYieldPercent)
		res.YieldVariance = &v
	}
	ops, err := s.store.ListOperations(ctx, tenantID, wo.ID)
	if err != nil {
		return types.CompleteResult{}, err
	}
	for _, candidate := range ops {
		if candidate.Sequence > updated.Sequence && candidate.Status == types.OpStatusPending {
			ref := types.RefOf(candidate)
			res.NextOperation = &ref
			break
		}
	}
	return res, nil
}

// Skip marks a pending operation as not performed; later sequences are no
// longer blocked by it.
func (s Sequencer) Skip(ctx context.Context, tenantID string, actor types.Actor, woID string, opID string, reason string) (types.Operation, error) {
	if err := authorize(ctx, s.authz, tenantID, actor, authz.ObjectProductionWorkOrders, authz.ActionWrite); err != nil {
		return types.Operation{}, err
	}
	if utf8.RuneCountInString(reason) > maxNotesLength {
		return types.Operation{}, httperr.NewValidation([]string{fmt.Sprintf("Notes must be %d characters or less", maxNotesLength)})
	}
	wo, op, err := s.load(ctx, tenantID, woID, opID)
	if err != nil {
		return types.Operation{}, err
	}
	if wo.Status == types.WOStatusCompleted || wo.Status == types.WOStatusCancelled {
		return types.Operation{}, woNotInProgress(wo)
	}
	if op.Status != types.OpStatusPending {
		return types.Operation{}, httperr.New(http.StatusBadRequest, httperr.CodeInvalidStatus,
			fmt.Sprintf("Operation must be pending to skip (current: %s)", op.Status))
	}
	now := s.rt.now()
	logID, err := s.rt.newID()
	if err != nil {
		return types.Operation{}, err
	}
	next := op
	next.Status = types.OpStatusSkipped
	if reason != "" {
		next.Notes = reason
	}
	updated, err := s.store.TransitionOperation(ctx, tenantID, types.OperationTransition{
		Next:            next,
		ExpectedStatus:  op.Status,
		ExpectedVersion: op.Version,
		Log: types.OperationLog{
			ID:          logID,
			OperationID: op.ID,
			WorkOrderID: wo.ID,
			EventType:   types.OpEventSkipped,
			FromStatus:  op.Status,
			ToStatus:    types.OpStatusSkipped,
			ActorID:     actor.ID,
			CreatedAt:   now,
			Metadata:    map[string]any{"reason": reason},
		},
	})
	if err != nil {
		return types.Operation{}, mapStoreError(err, "Operation not found")
	}
	return updated, nil
}
