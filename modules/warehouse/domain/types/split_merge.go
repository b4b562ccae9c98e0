package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// SplitRequest divides one LP into len(Quantities) children. SplitQuantity is
// the short form: one child of that size plus one holding the remainder.
type SplitRequest struct {
	LPID          string            `json:"lp_id"`
	Quantities    []decimal.Decimal `json:"quantities"`
	SplitQuantity *decimal.Decimal  `json:"split_quantity"`
	LocationIDs   []string          `json:"location_ids"`
	Note          string            `json:"note"`
}

type SplitPart struct {
	LPNumber   string          `json:"lp_number,omitempty"`
	Quantity   decimal.Decimal `json:"quantity"`
	LocationID string          `json:"location_id"`
}

type SplitValidation struct {
	Valid    bool         `json:"valid"`
	Errors   []string     `json:"errors"`
	Warnings []string     `json:"warnings"`
	Source   LicensePlate `json:"source"`
	Parts    []SplitPart  `json:"parts"`
}

type SplitResult struct {
	Source   LicensePlate    `json:"source"`
	Children []LicensePlate  `json:"children"`
	Edges    []GenealogyEdge `json:"edges"`
	Warnings []string        `json:"warnings"`
}

type MergeRequest struct {
	LPIDs            []string `json:"lp_ids"`
	TargetLocationID string   `json:"target_location_id"`
	Note             string   `json:"note"`
}

type MergeSummary struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	ProductCode   string          `json:"product_code"`
	TotalQuantity decimal.Decimal `json:"total_quantity"`
	UoM           string          `json:"uom"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    string          `json:"expiry_date"`
	QAStatus      QAStatus        `json:"qa_status"`
	WarehouseID   string          `json:"warehouse_id"`
	LocationID    string          `json:"location_id"`
	LPCount       int             `json:"lp_count"`
}

type MergeValidation struct {
	Valid    bool          `json:"valid"`
	Errors   []string      `json:"errors"`
	Warnings []string      `json:"warnings"`
	Summary  *MergeSummary `json:"summary,omitempty"`
}

type MergeResult struct {
	LicensePlate   LicensePlate    `json:"license_plate"`
	Sources        []LicensePlate  `json:"sources"`
	Edges          []GenealogyEdge `json:"edges"`
	MergedQuantity decimal.Decimal `json:"merged_quantity"`
	Warnings       []string        `json:"warnings"`
}

// SplitPlan is what the store writes in one transaction. Source carries the
// version read during validation; the write fails with ports.ErrConflict if it moved.
type SplitPlan struct {
	Source   LicensePlate
	Children []LicensePlate
	Edges    []GenealogyEdge
	Actor    string
	At       time.Time
}

type MergePlan struct {
	Sources []LicensePlate
	Result  LicensePlate
	Edges   []GenealogyEdge
	Actor   string
	At      time.Time
}

// SplitPreview is ValidateSplit plus what stays behind on the first child in
// the split_quantity form.
type SplitPreview struct {
	SplitValidation
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
}
