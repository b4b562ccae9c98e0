package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/monopilot/monopilot/internal/routing"
	"github.com/monopilot/monopilot/pkg/httperr"
	"go.uber.org/zap"
)

type TenantIDGetter func(ctx context.Context) (tenantID string, ok bool)

// ActorGetter returns the principal id set by the gateway headers.
type ActorGetter func(ctx context.Context) (actorID string, ok bool)

type OutcomeRecorder interface {
	RecordOutcome(operation string, outcome string)
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}

// writeServiceError renders typed application errors as-is and hides
// everything else behind a logged 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	if e, ok := httperr.As(err); ok {
		routing.WriteErrorDetails(w, r, routing.RouteClassInternalAPI, e.Status, e.Code, e.Message, e.Details)
		return
	}
	if errors.Is(err, context.Canceled) {
		writeError(w, r, http.StatusServiceUnavailable, "request_canceled", "request canceled")
		return
	}
	if logger != nil {
		logger.Error("warehouse request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
}

// decodeJSON reads a bounded JSON body into dst; an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}
