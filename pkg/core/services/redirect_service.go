package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

const msgBadLink = "Bad link or invalid url. Please ensure the casing is correct."

// RedirectService resolves short IDs for visitors. Blocked links look exactly
// like missing ones.
type RedirectService struct {
	repo  ports.ShortLinkRepository
	cache ports.RedirectCache
	log   *zap.Logger
}

func NewRedirectService(repo ports.ShortLinkRepository, cache ports.RedirectCache, log *zap.Logger) *RedirectService {
	return &RedirectService{repo: repo, cache: cache, log: log.Named("redirect")}
}

// Resolve returns the destination for shortID and counts the click. The
// click write has the final say: a link blocked or removed after the lookup
// is not found, even when the target came from the cache. Any other failed
// increment is logged and the redirect still goes out.
func (s *RedirectService) Resolve(ctx context.Context, shortID string) (string, error) {
	target, err := s.lookup(ctx, shortID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return "", domain.NotFound(msgBadLink)
	}
	if err != nil {
		metrics.Redirects.WithLabelValues("error").Inc()
		return "", domain.Internal(fmt.Errorf("resolve %q: %w", shortID, err))
	}
	if target.IsBlocked {
		metrics.Redirects.WithLabelValues("blocked").Inc()
		return "", domain.NotFound(msgBadLink)
	}
	if target.Destination == "" {
		metrics.Redirects.WithLabelValues("not_found").Inc()
		return "", domain.NotFound(msgBadLink)
	}

	err = s.repo.IncrementClicks(ctx, target.ID)
	if errors.Is(err, domain.ErrNotFound) {
		if s.cache != nil {
			s.cache.Invalidate(ctx, shortID)
		}
		metrics.Redirects.WithLabelValues("blocked").Inc()
		return "", domain.NotFound(msgBadLink)
	}
	if err != nil {
		s.log.Warn("click not counted", zap.String("short_id", shortID), zap.Error(err))
	}
	metrics.Redirects.WithLabelValues("ok").Inc()
	return target.Destination, nil
}

func (s *RedirectService) lookup(ctx context.Context, shortID string) (*domain.RedirectTarget, error) {
	if s.cache != nil {
		if target, ok := s.cache.Get(ctx, shortID); ok {
			return target, nil
		}
	}

	link, err := s.repo.GetByShortID(ctx, shortID)
	if err != nil {
		return nil, err
	}
	target := link.Target()
	if s.cache != nil {
		s.cache.Set(ctx, target)
	}
	return target, nil
}
