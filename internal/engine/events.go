package engine

import (
	"context"

	"labflow/internal/domain"
	"labflow/internal/engine/auth"
	"labflow/internal/repo"
)

// ListEvents exposes the audit log to administrators.
func (e Engine) ListEvents(ctx context.Context, actor auth.Identity, f repo.EventFilters) ([]domain.Event, error) {
	if err := auth.Require(actor, auth.Administrator); err != nil {
		return nil, err
	}
	if f.Limit > 500 {
		f.Limit = 500
	}
	return e.Repo.LatestEvents(ctx, f)
}
