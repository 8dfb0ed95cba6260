package wallet

import (
	"context"

	"paycore/internal/models"
)

// invalidate drops the cached balance of every owner touched by entries.
// Failures only cost a stale read until the TTL expires, so they are logged.
func (s *Service) invalidate(ctx context.Context, entries []*models.LedgerEntry) {
	if s.cache == nil {
		return
	}
	seen := make(map[models.Owner]bool, len(entries))
	for _, e := range entries {
		owner := models.Owner{UserID: e.UserID, TenantID: e.TenantID}
		if seen[owner] {
			continue
		}
		seen[owner] = true
		if err := s.cache.InvalidateBalance(ctx, owner); err != nil {
			s.logger.WithError(err).WithField("owner", owner.String()).Warn("failed to invalidate balance cache")
		}
	}
}
