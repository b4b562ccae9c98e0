package services

import (
	"context"
	"errors"
	"time"

	"github.com/monopilot/monopilot/modules/warehouse/domain/ports"
	"github.com/monopilot/monopilot/modules/warehouse/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
	"github.com/monopilot/monopilot/pkg/uuidv7"
)

const DefaultHardDepthCap = 32

const dateLayout = "2006-01-02"

type Option func(*runtime)

type runtime struct {
	now      func() time.Time
	newID    func() (string, error)
	depthCap int
}

func WithClock(now func() time.Time) Option {
	return func(r *runtime) {
		if now != nil {
			r.now = now
		}
	}
}

func WithIDGenerator(fn func() (string, error)) Option {
	return func(r *runtime) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// WithHardDepthCap bounds lineage walks regardless of the requested window.
func WithHardDepthCap(n int) Option {
	return func(r *runtime) {
		if n > 0 {
			r.depthCap = n
		}
	}
}

func newRuntime(opts []Option) runtime {
	r := runtime{
		now:      func() time.Time { return time.Now().UTC() },
		newID:    uuidv7.NewString,
		depthCap: DefaultHardDepthCap,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func loadSettings(ctx context.Context, store ports.LedgerStore, tenantID string) (types.WarehouseSettings, error) {
	s, ok, err := store.GetSettings(ctx, tenantID)
	if err != nil {
		return types.WarehouseSettings{}, err
	}
	if !ok {
		return types.DefaultWarehouseSettings(), nil
	}
	return s, nil
}

func mapStoreError(err error, notFound string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ports.ErrNotFound):
		return httperr.NewNotFound(notFound)
	case errors.Is(err, ports.ErrConflict):
		return httperr.NewConflict(httperr.CodeLPConflict, "License plate was changed concurrently and is no longer available")
	case errors.Is(err, ports.ErrDuplicate):
		return httperr.NewConflict(httperr.CodeConflict, "Record already exists")
	default:
		return err
	}
}

func validDate(s string) bool {
	if s == "" {
		return true
	}
	_, err := time.Parse(dateLayout, s)
	return err == nil
}
