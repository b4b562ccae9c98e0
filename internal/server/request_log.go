package server

import (
	"context"
	"net/http"
	"time"

	"github.com/monopilot/monopilot/internal/metrics"
	"github.com/monopilot/monopilot/internal/routing"
	"go.uber.org/zap"
)

// requestMeta lets inner middleware report back to the access log.
type requestMeta struct {
	tenantID string
}

type requestMetaKey struct{}

func requestMetaFrom(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(requestMetaKey{}).(*requestMeta)
	return m
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func withRequestLog(logger *zap.Logger, m *metrics.Metrics, classifier *routing.Classifier, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		meta := &requestMeta{}
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), requestMetaKey{}, meta)))

		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		elapsed := time.Since(start)
		rc := classifier.Classify(r.URL.Path)
		m.ObserveHTTP(string(rc), r.Method, status, elapsed)

		fields := []zap.Field{
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route_class", string(rc)),
			zap.Int("status", status),
			zap.Duration("duration", elapsed),
		}
		if meta.tenantID != "" {
			fields = append(fields, zap.String("tenant_id", meta.tenantID))
		}
		switch {
		case status >= http.StatusInternalServerError:
			logger.Error("request", fields...)
		case rc == routing.RouteClassOps:
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	})
}
