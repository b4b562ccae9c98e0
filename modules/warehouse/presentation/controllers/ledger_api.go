package controllers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/monopilot/monopilot/internal/metrics"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/modules/warehouse/services"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerController serves /warehouse/api/*. Path parameters arrive through
// Request.PathValue, filled in by the routing table.
type LedgerController struct {
	TenantID TenantIDGetter
	Actor    ActorGetter
	Logger   *zap.Logger
	Outcomes OutcomeRecorder

	LicensePlates services.LicensePlates
	Splitter      services.SplitOperator
	Merger        services.MergeOperator
	Lineage       services.LineageBuilder
	Genealogy     services.Genealogy
	Dashboard     services.Dashboard
}

type versionedRequest struct {
	ExpectedVersion int64 `json:"expected_version"`
}

type qaStatusRequest struct {
	QAStatus        types.QAStatus `json:"qa_status"`
	ExpectedVersion int64          `json:"expected_version"`
}

type splitAPIRequest struct {
	Quantities    []decimal.Decimal `json:"quantities"`
	SplitQuantity *decimal.Decimal  `json:"split_quantity"`
	LocationIDs   []string          `json:"location_ids"`
	LocationID    string            `json:"location_id"`
	Note          string            `json:"note"`
}

func (req splitAPIRequest) toSplit(lpID string) types.SplitRequest {
	out := types.SplitRequest{
		LPID:          lpID,
		Quantities:    req.Quantities,
		SplitQuantity: req.SplitQuantity,
		LocationIDs:   req.LocationIDs,
		Note:          req.Note,
	}
	// location_id applies to the split-off part in the short form
	if req.SplitQuantity != nil && len(out.LocationIDs) == 0 && strings.TrimSpace(req.LocationID) != "" {
		out.LocationIDs = []string{strings.TrimSpace(req.LocationID), ""}
	}
	return out
}

func (c LedgerController) scope(w http.ResponseWriter, r *http.Request) (tenantID string, actorID string, ok bool) {
	tenantID, ok = c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return "", "", false
	}
	if c.Actor != nil {
		actorID, _ = c.Actor(r.Context())
	}
	return tenantID, actorID, true
}

func (c LedgerController) record(operation string, err error) {
	if c.Outcomes == nil {
		return
	}
	c.Outcomes.RecordOutcome(operation, metrics.Outcome(err))
}

func (c LedgerController) HandleLicensePlatesAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, ok := c.scope(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		filter, err := licensePlateFilterFromQuery(r)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
			return
		}
		page, err := c.LicensePlates.List(r.Context(), tenantID, filter)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items":  page.Items,
			"total":  page.Total,
			"limit":  effectiveLimit(filter.Limit),
			"offset": filter.Offset,
		})

	case http.MethodPost:
		var req types.ReceiveRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		lp, err := c.LicensePlates.Receive(r.Context(), tenantID, actorID, req)
		c.record("receive", err)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, lp)

	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func effectiveLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	return min(limit, 200)
}

func licensePlateFilterFromQuery(r *http.Request) (types.LicensePlateFilter, error) {
	q := r.URL.Query()
	f := types.LicensePlateFilter{
		Search:      strings.TrimSpace(q.Get("search")),
		WarehouseID: strings.TrimSpace(q.Get("warehouse_id")),
		LocationID:  strings.TrimSpace(q.Get("location_id")),
		ProductID:   strings.TrimSpace(q.Get("product_id")),
		BatchNumber: strings.TrimSpace(q.Get("batch_number")),
		ExpiryFrom:  strings.TrimSpace(q.Get("expiry_from")),
		ExpiryTo:    strings.TrimSpace(q.Get("expiry_to")),
		WorkOrderID: strings.TrimSpace(q.Get("wo_id")),
	}
	for _, s := range splitCSV(q.Get("status")) {
		f.Statuses = append(f.Statuses, types.LPStatus(s))
	}
	for _, s := range splitCSV(q.Get("qa_status")) {
		f.QAStatuses = append(f.QAStatuses, types.QAStatus(s))
	}
	var err error
	if f.Limit, err = intParam(q.Get("limit"), "limit"); err != nil {
		return types.LicensePlateFilter{}, err
	}
	if f.Offset, err = intParam(q.Get("offset"), "offset"); err != nil {
		return types.LicensePlateFilter{}, err
	}
	return f, nil
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

type paramError string

func (e paramError) Error() string { return string(e) }

func intParam(raw string, name string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, paramError(name + " must be an integer")
	}
	return n, nil
}

func (c LedgerController) HandleLicensePlateAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	lp, err := c.LicensePlates.Get(r.Context(), tenantID, r.PathValue("lp_id"))
	if err != nil {
		writeServiceError(w, r, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lp)
}

func (c LedgerController) HandleAmendAPI(w http.ResponseWriter, r *http.Request) {
	c.post(w, r, "amend", func(ctx context.Context, tenantID, actorID string) (any, error) {
		var req types.Amendment
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.LicensePlates.Amend(ctx, tenantID, actorID, r.PathValue("lp_id"), req)
	})
}

func (c LedgerController) HandleQAStatusAPI(w http.ResponseWriter, r *http.Request) {
	c.post(w, r, "qa_status", func(ctx context.Context, tenantID, actorID string) (any, error) {
		var req qaStatusRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.LicensePlates.ChangeQAStatus(ctx, tenantID, actorID, r.PathValue("lp_id"), req.QAStatus, req.ExpectedVersion)
	})
}

func (c LedgerController) HandleBlockAPI(w http.ResponseWriter, r *http.Request) {
	c.post(w, r, "block", func(ctx context.Context, tenantID, actorID string) (any, error) {
		var req versionedRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.LicensePlates.Block(ctx, tenantID, actorID, r.PathValue("lp_id"), req.ExpectedVersion)
	})
}

func (c LedgerController) HandleUnblockAPI(w http.ResponseWriter, r *http.Request) {
	c.post(w, r, "unblock", func(ctx context.Context, tenantID, actorID string) (any, error) {
		var req versionedRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.LicensePlates.Unblock(ctx, tenantID, actorID, r.PathValue("lp_id"), req.ExpectedVersion)
	})
}

func (c LedgerController) HandleValidateSplitAPI(w http.ResponseWriter, r *http.Request) {
	c.post(w, r, "", func(ctx context.Context, tenantID, _ string) (any, error) {
		var req splitAPIRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.Splitter.PreviewSplit(ctx, tenantID, req.toSplit(r.PathValue("lp_id")))
	})
}

func (c LedgerController) HandleSplitAPI(w http.ResponseWriter, r *http.Request) {
	c.postStatus(w, r, "split", http.StatusCreated, func(ctx context.Context, tenantID, actorID string) (any, error) {
		var req splitAPIRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.Splitter.Split(ctx, tenantID, actorID, req.toSplit(r.PathValue("lp_id")))
	})
}

func (c LedgerController) HandleValidateMergeAPI(w http.ResponseWriter, r *http.Request) {
	c.post(w, r, "", func(ctx context.Context, tenantID, _ string) (any, error) {
		var req types.MergeRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.Merger.ValidateMerge(ctx, tenantID, req)
	})
}

func (c LedgerController) HandleMergeAPI(w http.ResponseWriter, r *http.Request) {
	c.postStatus(w, r, "merge", http.StatusCreated, func(ctx context.Context, tenantID, actorID string) (any, error) {
		var req types.MergeRequest
		if err := decodeJSON(r, &req); err != nil {
			return nil, errBadJSON
		}
		return c.Merger.Merge(ctx, tenantID, actorID, req)
	})
}

func (c LedgerController) HandleLineageAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	q := r.URL.Query()
	maxDepth, err := intParam(q.Get("max_depth"), "max_depth")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	includeReversed := false
	if raw := strings.TrimSpace(q.Get("include_reversed")); raw != "" {
		includeReversed, err = strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "include_reversed must be a boolean")
			return
		}
	}
	lineage, err := c.Lineage.Build(r.Context(), tenantID, r.PathValue("lp_id"), types.LineageOptions{
		MaxDepth:        maxDepth,
		Direction:       types.LineageDirection(strings.TrimSpace(q.Get("direction"))),
		IncludeReversed: includeReversed,
	})
	if err != nil {
		writeServiceError(w, r, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lineage)
}

func (c LedgerController) HandleGenealogyAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, ok := c.scope(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		woID := strings.TrimSpace(r.URL.Query().Get("wo_id"))
		edges, err := c.Genealogy.ByWorkOrder(r.Context(), tenantID, woID)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"wo_id": woID, "links": edges})
	case http.MethodPost:
		var req types.LinkRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		edge, err := c.Genealogy.Link(r.Context(), tenantID, actorID, req)
		c.record("link", err)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, edge)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c LedgerController) HandleReverseLinkAPI(w http.ResponseWriter, r *http.Request) {
	c.post(w, r, "reverse_link", func(ctx context.Context, tenantID, actorID string) (any, error) {
		return c.Genealogy.Reverse(ctx, tenantID, actorID, r.PathValue("link_id"))
	})
}

func (c LedgerController) HandleProductsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		products, err := c.LicensePlates.Products(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"products": products})
	case http.MethodPost:
		var req types.Product
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		p, err := c.LicensePlates.CreateProduct(r.Context(), tenantID, req)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, p)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c LedgerController) HandleLocationsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		locations, err := c.LicensePlates.Locations(r.Context(), tenantID, r.URL.Query().Get("warehouse_id"))
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locations": locations})
	case http.MethodPost:
		var req types.Location
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		l, err := c.LicensePlates.CreateLocation(r.Context(), tenantID, req)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusCreated, l)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c LedgerController) HandleInventorySummaryAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	sum, err := c.Dashboard.InventorySummary(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, c.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

type settingsAPIRequest struct {
	EnableSplitMerge *bool  `json:"enable_split_merge"`
	QAWarningRule    string `json:"qa_warning_rule"`
}

func (c LedgerController) HandleSettingsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actorID, ok := c.scope(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s, err := c.LicensePlates.Settings(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case http.MethodPost:
		var req settingsAPIRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		current, err := c.LicensePlates.Settings(r.Context(), tenantID)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		if req.EnableSplitMerge != nil {
			current.EnableSplitMerge = *req.EnableSplitMerge
		}
		if strings.TrimSpace(req.QAWarningRule) != "" {
			current.QAWarningRule = req.QAWarningRule
		}
		s, err := c.LicensePlates.UpdateSettings(r.Context(), tenantID, actorID, current)
		if err != nil {
			writeServiceError(w, r, c.Logger, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

var errBadJSON = paramError("bad json")

// post runs a POST-only action returning 200; a non-empty operation is
// counted in the outcome metrics.
func (c LedgerController) post(w http.ResponseWriter, r *http.Request, operation string, fn func(ctx context.Context, tenantID, actorID string) (any, error)) {
	c.postStatus(w, r, operation, http.StatusOK, fn)
}

func (c LedgerController) postStatus(w http.ResponseWriter, r *http.Request, operation string, status int, fn func(ctx context.Context, tenantID, actorID string) (any, error)) {
	tenantID, actorID, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	out, err := fn(r.Context(), tenantID, actorID)
	if errors.Is(err, errBadJSON) {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	if operation != "" {
		c.record(operation, err)
	}
	if err != nil {
		writeServiceError(w, r, c.Logger, err)
		return
	}
	writeJSON(w, status, out)
}
