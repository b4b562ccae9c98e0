package types

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationType string

const (
	OperationSplit   OperationType = "split"
	OperationMerge   OperationType = "merge"
	OperationConsume OperationType = "consume"
	OperationOutput  OperationType = "output"
)

func (o OperationType) Valid() bool {
	switch o {
	case OperationSplit, OperationMerge, OperationConsume, OperationOutput:
		return true
	}
	return false
}

// GenealogyEdge links a child LP to the parent it was derived from. Edges are
// reversed, never deleted.
type GenealogyEdge struct {
	ID                string          `json:"id"`
	ParentLPID        string          `json:"parent_lp_id"`
	ChildLPID         string          `json:"child_lp_id"`
	OperationType     OperationType   `json:"operation_type"`
	Quantity          decimal.Decimal `json:"quantity"`
	UoM               string          `json:"uom"`
	WorkOrderID       string          `json:"wo_id,omitempty"`
	OperationSequence int             `json:"operation_sequence,omitempty"`
	Note              string          `json:"note,omitempty"`
	IsReversed        bool            `json:"is_reversed"`
	ReversedAt        *time.Time      `json:"reversed_at,omitempty"`
	ReversedBy        string          `json:"reversed_by,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	CreatedBy         string          `json:"created_by"`
}

type LinkRequest struct {
	ParentLPID        string          `json:"parent_lp_id"`
	ChildLPID         string          `json:"child_lp_id"`
	OperationType     OperationType   `json:"operation_type"`
	Quantity          decimal.Decimal `json:"quantity"`
	WorkOrderID       string          `json:"wo_id"`
	OperationSequence int             `json:"operation_sequence"`
	Note              string          `json:"note"`
}

type LineageDirection string

const (
	LineageBoth        LineageDirection = "both"
	LineageAncestors   LineageDirection = "ancestors"
	LineageDescendants LineageDirection = "descendants"
)

type LineageOptions struct {
	// MaxDepth keeps only nodes with |level| <= MaxDepth; 0 means no window.
	MaxDepth        int
	Direction       LineageDirection
	IncludeReversed bool
}

type LineageNode struct {
	LPID          string          `json:"lp_id"`
	LPNumber      string          `json:"lp_number"`
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	Quantity      decimal.Decimal `json:"quantity"`
	UoM           string          `json:"uom"`
	BatchNumber   string          `json:"batch_number"`
	ExpiryDate    string          `json:"expiry_date"`
	QAStatus      QAStatus        `json:"qa_status"`
	Status        LPStatus        `json:"status"`
	Consumed      bool            `json:"consumed"`
	Level         int             `json:"level"`
	LinkedLPID    string          `json:"linked_lp_id,omitempty"`
	OperationType OperationType   `json:"operation_type,omitempty"`
	EdgeQuantity  decimal.Decimal `json:"edge_quantity"`
	WorkOrderID   string          `json:"wo_id,omitempty"`
}

type Lineage struct {
	LPID               string        `json:"lp_id"`
	Nodes              []LineageNode `json:"nodes"`
	HasMoreAncestors   bool          `json:"has_more_ancestors"`
	HasMoreDescendants bool          `json:"has_more_descendants"`
	Truncated          bool          `json:"truncated"`
}
