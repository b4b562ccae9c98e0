package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type WorkOrderStatus string

const (
	WOStatusDraft      WorkOrderStatus = "draft"
	WOStatusReleased   WorkOrderStatus = "released"
	WOStatusInProgress WorkOrderStatus = "in_progress"
	WOStatusPaused     WorkOrderStatus = "paused"
	WOStatusCompleted  WorkOrderStatus = "completed"
	WOStatusCancelled  WorkOrderStatus = "cancelled"
)

// Running reports whether operations of the work order may be started.
func (s WorkOrderStatus) Running() bool {
	return s == WOStatusInProgress || s == WOStatusPaused
}

type WorkOrder struct {
	ID              string          `json:"id"`
	WONumber        string          `json:"wo_number"`
	ProductID       string          `json:"product_id"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	UoM             string          `json:"uom"`
	Status          WorkOrderStatus `json:"status"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	CreatedBy       string          `json:"created_by"`
	UpdatedAt       time.Time       `json:"updated_at"`
	UpdatedBy       string          `json:"updated_by"`
	Operations      []Operation     `json:"operations,omitempty"`
}

type WorkOrderAction string

const (
	WOActionRelease WorkOrderAction = "release"
	WOActionStart   WorkOrderAction = "start"
	WOActionPause   WorkOrderAction = "pause"
	WOActionResume  WorkOrderAction = "resume"
	WOActionCancel  WorkOrderAction = "cancel"
)

// Target returns the status reached by applying a to from, or false when the
// transition is not allowed.
func (a WorkOrderAction) Target(from WorkOrderStatus) (WorkOrderStatus, bool) {
	switch a {
	case WOActionRelease:
		return WOStatusReleased, from == WOStatusDraft
	case WOActionStart:
		return WOStatusInProgress, from == WOStatusReleased
	case WOActionPause:
		return WOStatusPaused, from == WOStatusInProgress
	case WOActionResume:
		return WOStatusInProgress, from == WOStatusPaused
	case WOActionCancel:
		return WOStatusCancelled, from == WOStatusDraft || from == WOStatusReleased || from == WOStatusPaused
	}
	return "", false
}

type OperationSpec struct {
	Sequence                int              `json:"sequence"`
	Name                    string           `json:"name"`
	ExpectedDurationMinutes *int             `json:"expected_duration_minutes,omitempty"`
	ExpectedYieldPercent    *decimal.Decimal `json:"expected_yield_percent,omitempty"`
}

type CreateWorkOrderRequest struct {
	WONumber        string          `json:"wo_number"`
	ProductID       string          `json:"product_id"`
	PlannedQuantity decimal.Decimal `json:"planned_quantity"`
	UoM             string          `json:"uom"`
	Operations      []OperationSpec `json:"operations"`
}

type OperationRef struct {
	ID       string          `json:"id"`
	Sequence int             `json:"sequence"`
	Name     string          `json:"name"`
	Status   OperationStatus `json:"status,omitempty"`
}

func RefOf(op Operation) OperationRef {
	return OperationRef{ID: op.ID, Sequence: op.Sequence, Name: op.Name, Status: op.Status}
}

type CompletionReadiness struct {
	WorkOrderID string          `json:"wo_id"`
	Status      WorkOrderStatus `json:"status"`
	Ready       bool            `json:"ready"`
	Total       int             `json:"total"`
	Completed   int             `json:"completed"`
	Skipped     int             `json:"skipped"`
	Blocking    []OperationRef  `json:"blocking"`
}

type ProductionSettings struct {
	RequireOperationSequence bool      `json:"require_operation_sequence"`
	UpdatedAt                time.Time `json:"updated_at"`
	UpdatedBy                string    `json:"updated_by"`
}

// DefaultProductionSettings applies to tenants that never saved settings.
func DefaultProductionSettings() ProductionSettings {
	return ProductionSettings{RequireOperationSequence: false}
}

// Actor is the caller as asserted by the gateway.
type Actor struct {
	ID   string
	Role string
}
