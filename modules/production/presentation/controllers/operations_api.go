package controllers

import (
	"net/http"

	"github.com/monopilot/monopilot/modules/production/domain/types"
)

func (c Controller) HandleOperationsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	woID := r.PathValue("wo_id")
	ops, err := c.WorkOrders.Operations(r.Context(), tenantID, woID)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"wo_id": woID, "operations": ops})
}

func (c Controller) HandleStartOperationAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req startAPIRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	res, err := c.Sequencer.Start(r.Context(), tenantID, actor, r.PathValue("wo_id"), r.PathValue("op_id"), types.StartOptions{StartedAt: req.StartedAt})
	c.record("start", err)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c Controller) HandleCompleteOperationAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req types.CompleteOptions
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	res, err := c.Sequencer.Complete(r.Context(), tenantID, actor, r.PathValue("wo_id"), r.PathValue("op_id"), req)
	c.record("complete", err)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (c Controller) HandleSkipOperationAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, actor, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	var req skipAPIRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return
	}
	op, err := c.Sequencer.Skip(r.Context(), tenantID, actor, r.PathValue("wo_id"), r.PathValue("op_id"), req.Reason)
	c.record("skip", err)
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}

func (c Controller) HandleOperationLogsAPI(w http.ResponseWriter, r *http.Request) {
	tenantID, _, ok := c.scope(w, r)
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	logs, err := c.WorkOrders.Logs(r.Context(), tenantID, r.PathValue("wo_id"), r.PathValue("op_id"))
	if err != nil {
		c.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}
