package types

import "time"

type Product struct {
	ID         string    `json:"id"`
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	DefaultUoM string    `json:"default_uom"`
	CreatedAt  time.Time `json:"created_at"`
}

type Location struct {
	ID          string    `json:"id"`
	WarehouseID string    `json:"warehouse_id"`
	Code        string    `json:"code"`
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
}

const DefaultQAWarningRule = `lp.qa_status != "passed"`

// WarehouseSettings are per-organization toggles for the split/merge ledger.
type WarehouseSettings struct {
	EnableSplitMerge bool      `json:"enable_split_merge"`
	QAWarningRule    string    `json:"qa_warning_rule"`
	UpdatedAt        time.Time `json:"updated_at"`
	UpdatedBy        string    `json:"updated_by"`
}

func DefaultWarehouseSettings() WarehouseSettings {
	return WarehouseSettings{EnableSplitMerge: true, QAWarningRule: DefaultQAWarningRule}
}
