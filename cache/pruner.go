package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// run is the background sweep loop, owned by the Service and stopped by
// Close (or the parent context).
func (s *Service) run() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.PruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.Prune(s.ctx); err != nil {
				s.log.Debug("background prune skipped", zap.Error(err))
			}
		}
	}
}

// Prune runs one sweep over the active tier, deleting every expired
// entry. Expired keys are collected from a metadata snapshot and then
// deleted one at a time, so a sweep interleaves with concurrent traffic
// instead of locking the store. Safe to call while Gets and Sets are in
// flight; each delete is idempotent.
func (s *Service) Prune(ctx context.Context) error {
	ctx, span := startSpan(ctx, "cache.prune", "")
	defer span.End()

	s.mu.Lock()
	b, err := s.backendLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.mu.Unlock()

	s.sweep(ctx, b)
	return nil
}

// sweep deletes expired entries from b and resynchronizes the size
// counter. Also invoked inline when a persistent write is rejected, to
// free space before the retry.
func (s *Service) sweep(ctx context.Context, b Backend) {
	now := time.Now()
	var expired []string
	if err := b.ScanAll(ctx, func(e Entry) bool {
		if e.ExpiresAt.Before(now) {
			expired = append(expired, e.Key)
		}
		return true
	}); err != nil {
		s.log.Warn("cache sweep scan failed", zap.Error(err))
		return
	}

	removed := 0
	for _, key := range expired {
		if found, err := b.Delete(ctx, key); err == nil && found {
			removed++
		}
	}
	s.stats.recordPruned(removed)
	if n, err := b.Len(ctx); err == nil {
		s.stats.resyncSize(n)
	}
}
