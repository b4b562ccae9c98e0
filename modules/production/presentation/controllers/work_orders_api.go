package controllers

import (
	"net/http"
	"strings"
	"time"

	"github.com/monopilot/monopilot/internal/metrics"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/monopilot/monopilot/modules/production/services"
	"go.uber.org/zap"
)

// Controller serves /production/api/*.
type Controller struct {
	TenantID  TenantIDGetter
	Principal PrincipalGetter
	Logger    *zap.Logger
	Outcomes  OutcomeRecorder

	WorkOrders services.WorkOrders
	Sequencer  services.Sequencer
	Settings   services.Settings
}

type statusAPIRequest struct {
	Action types.WorkOrderAction `json:"action"`
}

type startAPIRequest struct {
	StartedAt *time.Time `json:"started_at"`
}

type skipAPIRequest struct {
	Reason string `json:"reason"`
}

type settingsAPIRequest struct {
	RequireOperationSequence *bool `json:"require_operation_sequence"`
}

func (c Controller) scope(w http.ResponseWriter, r *http.Request) (string, types.Actor, bool) {
	tenantID, ok := c.TenantID(r.Context())
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "tenant_missing", "tenant missing")
		return "", types.Actor{}, false
	}
	var actor types.Actor
	if c.Principal != nil {
		actor, _ = c.Principal(r.Context())
	}
	return tenantID, actor, true
}

func (c Controller) record(operation string, err error) {
	if c.Outcomes != nil {
		c.Outcomes.RecordOutcome(operation, metrics.Outcome(err))
	}
}

func (c Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	writeServiceError(w, r, c.Logger, err)
}

func (c Controller) HandleWorkOrdersAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req types.CreateWorkOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	wo, err := c.WorkOrders.Create(r.Context(), tenantID, actor.ID, req)
	c.record("wo_create", err)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, wo)
}

func (c Controller) HandleWorkOrderAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	wo, err := c.WorkOrders.Get(r.Context(), tenantID, r.PathValue("wo_id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

func (c Controller) HandleWorkOrderStatusAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req statusAPIRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	action := types.WorkOrderAction(strings.ToLower(strings.TrimSpace(string(req.Action))))
	wo, err := c.WorkOrders.ChangeStatus(r.Context(), tenantID, actor.ID, r.PathValue("wo_id"), action)
	c.record("wo_status", err)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, wo)
}

// HandleWorkOrderCompleteAPI reports completion readiness on GET and closes
// the work order on POST.
func (c Controller) HandleWorkOrderCompleteAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := c.scope(w, r)
	if !ok {
		return
	}
	woID := r.PathValue("wo_id")
	switch r.Method {
	case http.MethodGet:
		readiness, err := c.WorkOrders.CompletionReadiness(r.Context(), tenantID, woID)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, readiness)
	case http.MethodPost:
		wo, err := c.WorkOrders.Complete(r.Context(), tenantID, actor.ID, woID)
		c.record("wo_complete", err)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, wo)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func (c Controller) HandleSettingsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := c.scope(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		s, err := c.Settings.Get(r.Context(), tenantID)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	case http.MethodPost:
		var req settingsAPIRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
			return
		}
		if req.RequireOperationSequence == nil {
			writeError(w, r, http.StatusBadRequest, "BAD_REQUEST", "require_operation_sequence is required")
			return
		}
		s, err := c.Settings.Put(r.Context(), tenantID, actor.ID, *req.RequireOperationSequence)
		if err != nil {
			c.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, s)
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}
