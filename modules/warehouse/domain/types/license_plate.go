package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type LPStatus string

const (
	LPStatusAvailable LPStatus = "available"
	LPStatusReserved  LPStatus = "reserved"
	LPStatusConsumed  LPStatus = "consumed"
	LPStatusBlocked   LPStatus = "blocked"
	LPStatusShipped   LPStatus = "shipped"
)

func (s LPStatus) Valid() bool {
	switch s {
	case LPStatusAvailable, LPStatusReserved, LPStatusConsumed, LPStatusBlocked, LPStatusShipped:
		return true
	}
	return false
}

type QAStatus string

const (
	QAStatusPending    QAStatus = "pending"
	QAStatusPassed     QAStatus = "passed"
	QAStatusFailed     QAStatus = "failed"
	QAStatusOnHold     QAStatus = "on_hold"
	QAStatusQuarantine QAStatus = "quarantine"
)

func (s QAStatus) Valid() bool {
	switch s {
	case QAStatusPending, QAStatusPassed, QAStatusFailed, QAStatusOnHold, QAStatusQuarantine:
		return true
	}
	return false
}

type LPSource string

const (
	LPSourceReceipt    LPSource = "receipt"
	LPSourceManual     LPSource = "manual"
	LPSourceSplit      LPSource = "split"
	LPSourceMerge      LPSource = "merge"
	LPSourceProduction LPSource = "production"
)

func (s LPSource) Valid() bool {
	switch s {
	case LPSourceReceipt, LPSourceManual, LPSourceSplit, LPSourceMerge, LPSourceProduction:
		return true
	}
	return false
}

// LicensePlate is a tracked unit of inventory. Once Consumed its quantity is
// frozen; rows are never deleted.
type LicensePlate struct {
	ID          string          `json:"id"`
	LPNumber    string          `json:"lp_number"`
	ProductID   string          `json:"product_id"`
	ProductCode string          `json:"product_code,omitempty"`
	ProductName string          `json:"product_name,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	UoM         string          `json:"uom"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  string          `json:"expiry_date"`
	QAStatus    QAStatus        `json:"qa_status"`
	LocationID  string          `json:"location_id"`
	WarehouseID string          `json:"warehouse_id"`
	Status      LPStatus        `json:"status"`
	Consumed    bool            `json:"consumed"`
	ParentLPID  string          `json:"parent_lp_id,omitempty"`
	Source      LPSource        `json:"source"`
	WorkOrderID string          `json:"wo_id,omitempty"`
	Version     int64           `json:"version"`
	CreatedAt   time.Time       `json:"created_at"`
	CreatedBy   string          `json:"created_by"`
	UpdatedAt   time.Time       `json:"updated_at"`
	UpdatedBy   string          `json:"updated_by"`
}

func (lp LicensePlate) Available() bool {
	return !lp.Consumed && lp.Status == LPStatusAvailable
}

type LicensePlateFilter struct {
	Search      string
	WarehouseID string
	LocationID  string
	ProductID   string
	Statuses    []LPStatus
	QAStatuses  []QAStatus
	BatchNumber string
	ExpiryFrom  string
	ExpiryTo    string
	WorkOrderID string
	Limit       int
	Offset      int
}

type LicensePlatePage struct {
	Items []LicensePlate `json:"items"`
	Total int            `json:"total"`
}

type ReceiveRequest struct {
	LPNumber    string          `json:"lp_number"`
	ProductID   string          `json:"product_id"`
	Quantity    decimal.Decimal `json:"quantity"`
	UoM         string          `json:"uom"`
	LocationID  string          `json:"location_id"`
	BatchNumber string          `json:"batch_number"`
	ExpiryDate  string          `json:"expiry_date"`
	QAStatus    QAStatus        `json:"qa_status"`
	Source      LPSource        `json:"source"`
	WorkOrderID string          `json:"wo_id"`
}

// Amendment changes quantity and/or location of an unconsumed LP.
// ExpectedVersion guards against lost updates when non-zero.
type Amendment struct {
	Quantity        *decimal.Decimal `json:"quantity"`
	LocationID      *string          `json:"location_id"`
	ExpectedVersion int64            `json:"expected_version"`
}

type InventorySummary struct {
	TotalLPs               int                        `json:"total_lps"`
	ByStatus               map[LPStatus]int           `json:"by_status"`
	ByQAStatus             map[QAStatus]int           `json:"by_qa_status"`
	AvailableQuantityByUoM map[string]decimal.Decimal `json:"available_quantity_by_uom"`
	ExpiringSoon           int                        `json:"expiring_soon"`
	ExpiringBefore         string                     `json:"expiring_before"`
	GeneratedAt            time.Time                  `json:"generated_at"`
}
