package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/monopilot/monopilot/modules/production/domain/ports"
	"github.com/monopilot/monopilot/modules/production/domain/types"
	"github.com/monopilot/monopilot/pkg/httperr"
	"github.com/monopilot/monopilot/pkg/uuidv7"
)

// Permitter answers role checks; *authz.Authorizer satisfies it.
type Permitter interface {
	Permits(ctx context.Context, tenantID string, roleSlug string, object string, action string) (bool, error)
}

type Option func(*runtime)

type runtime struct {
	now   func() time.Time
	newID func() (string, error)
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

func newRuntime(opts []Option) runtime {
	r := runtime{
		now:   func() time.Time { return time.Now().UTC() },
		newID: uuidv7.NewString,
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

func loadSettings(ctx context.Context, store ports.Store, tenantID string) (types.ProductionSettings, error) {
	s, ok, err := store.GetSettings(ctx, tenantID)
	if err != nil {
		return types.ProductionSettings{}, err
	}
	if !ok {
		return types.DefaultProductionSettings(), nil
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
		return httperr.NewConflict(httperr.CodeConflict, "Record was changed by another request, reload and retry")
	case errors.Is(err, ports.ErrDuplicate):
		return httperr.NewConflict(httperr.CodeConflict, "Record already exists")
	default:
		return err
	}
}

func authorize(ctx context.Context, p Permitter, tenantID string, actor types.Actor, object string, action string) error {
	if p == nil {
		return nil
	}
	ok, err := p.Permits(ctx, tenantID, actor.Role, object, action)
	if err != nil {
		return err
	}
	if !ok {
		return httperr.NewForbidden(fmt.Sprintf("Role %q may not %s %s", actor.Role, action, object))
	}
	return nil
}
