package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationStatus string

const (
	OpStatusPending    OperationStatus = "pending"
	OpStatusInProgress OperationStatus = "in_progress"
	OpStatusCompleted  OperationStatus = "completed"
	OpStatusSkipped    OperationStatus = "skipped"
)

// Done reports whether the operation no longer blocks later sequences.
func (s OperationStatus) Done() bool {
	return s == OpStatusCompleted || s == OpStatusSkipped
}

type Operation struct {
	ID                      string           `json:"id"`
	WorkOrderID             string           `json:"wo_id"`
	Sequence                int              `json:"sequence"`
	Name                    string           `json:"operation_name"`
	Status                  OperationStatus  `json:"status"`
	StartedAt               *time.Time       `json:"started_at"`
	StartedBy               string           `json:"started_by_user_id,omitempty"`
	CompletedAt             *time.Time       `json:"completed_at"`
	CompletedBy             string           `json:"completed_by_user_id,omitempty"`
	ExpectedDurationMinutes *int             `json:"expected_duration_minutes"`
	ActualDurationMinutes   *int             `json:"actual_duration_minutes"`
	ExpectedYieldPercent    *decimal.Decimal `json:"expected_yield_percent"`
	ActualYieldPercent      *decimal.Decimal `json:"actual_yield_percent"`
	Notes                   string           `json:"notes,omitempty"`
	Version                 int64            `json:"version"`
}

type OperationEvent string

const (
	OpEventStarted   OperationEvent = "started"
	OpEventCompleted OperationEvent = "completed"
	OpEventSkipped   OperationEvent = "skipped"
)

type OperationLog struct {
	ID          string          `json:"id"`
	OperationID string          `json:"operation_id"`
	WorkOrderID string          `json:"wo_id"`
	EventType   OperationEvent  `json:"event_type"`
	FromStatus  OperationStatus `json:"from_status"`
	ToStatus    OperationStatus `json:"to_status"`
	ActorID     string          `json:"user_id"`
	CreatedAt   time.Time       `json:"created_at"`
	Metadata    map[string]any  `json:"metadata"`
}

// OperationTransition is one compare-and-swap step of an operation: Next is
// written only while the stored row still has ExpectedStatus and
// ExpectedVersion, and Log is appended in the same transaction.
type OperationTransition struct {
	Next            Operation
	ExpectedStatus  OperationStatus
	ExpectedVersion int64
	Log             OperationLog
}

type StartOptions struct {
	StartedAt *time.Time `json:"started_at,omitempty"`
}

type CompleteOptions struct {
	YieldPercent    *decimal.Decimal `json:"actual_yield_percent"`
	DurationMinutes *int             `json:"actual_duration_minutes,omitempty"`
	Notes           string           `json:"notes,omitempty"`
}

type StartResult struct {
	Operation Operation `json:"operation"`
}

type CompleteResult struct {
	Operation             Operation        `json:"operation"`
	NextOperation         *OperationRef    `json:"next_operation"`
	ActualDurationMinutes int              `json:"actual_duration_minutes"`
	DurationVariance      *int             `json:"duration_variance_minutes"`
	YieldVariance         *decimal.Decimal `json:"yield_variance_percent"`
}
