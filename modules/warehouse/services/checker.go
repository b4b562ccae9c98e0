package services

import (
	"fmt"

	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/shopspring/decimal"
)

const (
	msgSplitMergeDisabled = "Split/merge is disabled in warehouse settings"
	msgMergeMinimum       = "At least 2 LPs required for merge operation"
	msgMergeDuplicate     = "Each LP may appear only once in a merge"
	msgMergeProduct       = "All LPs must be the same product for merge"
	msgMergeBatch         = "All LPs must have the same batch number for merge"
	msgMergeExpiry        = "All LPs must have the same expiry date for merge"
	msgMergeQA            = "All LPs must have the same QA status for merge"
	msgMergeWarehouse     = "All LPs must be in the same warehouse for merge"
	msgMergeUoM           = "All LPs must have the same UoM for merge"
	msgTargetWarehouse    = "Target location must be in the same warehouse as the source LPs"
	msgSplitMinimum       = "Split requires at least 2 target quantities"
)

// SplitTarget is one requested child. Location is nil when LocationID was
// given but could not be resolved.
type SplitTarget struct {
	Quantity   decimal.Decimal
	LocationID string
	Location   *types.Location
}

// Checker validates split and merge requests without touching storage. It
// reports every problem it finds instead of stopping at the first.
type Checker struct {
	rules *QAWarningRules
}

func NewChecker(rules *QAWarningRules) Checker {
	return Checker{rules: rules}
}

func (c Checker) CheckSplit(source types.LicensePlate, targets []SplitTarget, settings types.WarehouseSettings) (errs []string, warnings []string) {
	if !settings.EnableSplitMerge {
		errs = append(errs, msgSplitMergeDisabled)
	}
	errs = append(errs, availabilityProblem(source)...)

	if len(targets) < 2 {
		errs = append(errs, msgSplitMinimum)
	}
	sum := decimal.Zero
	for i, t := range targets {
		if !t.Quantity.IsPositive() {
			errs = append(errs, fmt.Sprintf("Quantity #%d must be greater than 0", i+1))
		}
		sum = sum.Add(t.Quantity)
		if t.LocationID == "" {
			continue
		}
		if t.Location == nil {
			errs = append(errs, fmt.Sprintf("Location %s not found", t.LocationID))
			continue
		}
		if t.Location.WarehouseID != source.WarehouseID {
			errs = append(errs, fmt.Sprintf("Location %s is not in the warehouse of %s", t.Location.Code, source.LPNumber))
		}
	}
	if len(targets) > 0 && !sum.Equal(source.Quantity) {
		errs = append(errs, fmt.Sprintf("Split quantities must equal available quantity (sum %s, available %s)", sum.String(), source.Quantity.String()))
	}

	warnings = c.qaWarnings(settings, source)
	return errs, warnings
}

// CheckMerge validates found against the ids the caller asked for. target is
// nil when no target location was requested or it could not be resolved
// (targetID tells the two apart).
func (c Checker) CheckMerge(requested []string, found []types.LicensePlate, targetID string, target *types.Location, settings types.WarehouseSettings) types.MergeValidation {
	v := types.MergeValidation{Errors: []string{}, Warnings: []string{}}
	add := func(msg string) {
		for _, e := range v.Errors {
			if e == msg {
				return
			}
		}
		v.Errors = append(v.Errors, msg)
	}

	if !settings.EnableSplitMerge {
		add(msgSplitMergeDisabled)
	}

	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if seen[id] {
			add(msgMergeDuplicate)
		}
		seen[id] = true
	}
	if len(seen) < 2 {
		add(msgMergeMinimum)
	}

	byID := make(map[string]bool, len(found))
	for _, lp := range found {
		byID[lp.ID] = true
	}
	for _, id := range requested {
		if !byID[id] {
			add(fmt.Sprintf("License plate %s not found", id))
		}
	}

	if len(found) == 0 {
		v.Valid = false
		return v
	}

	first := found[0]
	total := decimal.Zero
	for _, lp := range found {
		total = total.Add(lp.Quantity)
		for _, p := range availabilityProblem(lp) {
			add(p)
		}
		if lp.ProductID != first.ProductID {
			add(msgMergeProduct)
		}
		if lp.BatchNumber != first.BatchNumber {
			add(msgMergeBatch)
		}
		if lp.ExpiryDate != first.ExpiryDate {
			add(msgMergeExpiry)
		}
		if lp.QAStatus != first.QAStatus {
			add(msgMergeQA)
		}
		if lp.WarehouseID != first.WarehouseID {
			add(msgMergeWarehouse)
		}
		if lp.UoM != first.UoM {
			add(msgMergeUoM)
		}
	}

	locationID := first.LocationID
	if targetID != "" {
		switch {
		case target == nil:
			add(fmt.Sprintf("Target location %s not found", targetID))
		case target.WarehouseID != first.WarehouseID:
			add(msgTargetWarehouse)
		default:
			locationID = target.ID
		}
	}

	v.Warnings = append(v.Warnings, c.qaWarnings(settings, found...)...)
	v.Summary = &types.MergeSummary{
		ProductID:     first.ProductID,
		ProductName:   first.ProductName,
		ProductCode:   first.ProductCode,
		TotalQuantity: total,
		UoM:           first.UoM,
		BatchNumber:   first.BatchNumber,
		ExpiryDate:    first.ExpiryDate,
		QAStatus:      first.QAStatus,
		WarehouseID:   first.WarehouseID,
		LocationID:    locationID,
		LPCount:       len(found),
	}
	v.Valid = len(v.Errors) == 0
	return v
}

func availabilityProblem(lp types.LicensePlate) []string {
	if lp.Consumed {
		return []string{fmt.Sprintf("LP %s is consumed", lp.LPNumber)}
	}
	if lp.Status != types.LPStatusAvailable {
		return []string{fmt.Sprintf("LP %s must have status='available' (current: %s)", lp.LPNumber, lp.Status)}
	}
	return nil
}

func (c Checker) qaWarnings(settings types.WarehouseSettings, lps ...types.LicensePlate) []string {
	out := make([]string, 0)
	if c.rules == nil {
		return out
	}
	for _, lp := range lps {
		warn, err := c.rules.Warn(settings.QAWarningRule, lp)
		if err != nil {
			out = append(out, fmt.Sprintf("QA warning rule could not be evaluated for LP %s: %v", lp.LPNumber, err))
			continue
		}
		if warn {
			out = append(out, fmt.Sprintf("LP %s QA status is %s", lp.LPNumber, lp.QAStatus))
		}
	}
	return out
}
