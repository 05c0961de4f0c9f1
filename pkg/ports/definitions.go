package ports

import (
	"context"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
)

// ShortLinkRepository defines storage operations for short links.
// Create and Update must return domain.ErrConflict when the shortID is taken.
type ShortLinkRepository interface {
	Create(ctx context.Context, link *domain.ShortLink) error
	GetByShortID(ctx context.Context, shortID string) (*domain.ShortLink, error)
	GetByID(ctx context.Context, id int64) (*domain.ShortLink, error)
	// List returns the owner's links, or every link when owner is nil.
	List(ctx context.Context, owner *int64) ([]domain.ShortLink, error)
	// Update writes name, shortID and destination only, and only while the
	// link is not blocked. It returns domain.ErrNotFound when no unblocked
	// row matched.
	Update(ctx context.Context, link *domain.ShortLink) error
	Delete(ctx context.Context, id int64) error
	// IncrementClicks counts a redirect. It returns domain.ErrNotFound when
	// the link is gone or blocked.
	IncrementClicks(ctx context.Context, id int64) error
	// SetBlocked flags the link as long as it still points at destination.
	// It reports whether a row changed.
	SetBlocked(ctx context.Context, id int64, destination string) (bool, error)
	ClearBlocked(ctx context.Context, id int64) error
	Dump(ctx context.Context) ([]domain.ShortLink, error) // For migration
	Ping(ctx context.Context) error
}

// UserRepository stores accounts created by Google login.
type UserRepository interface {
	UpsertGoogleUser(ctx context.Context, user *domain.User) error
	GetUser(ctx context.Context, id int64) (*domain.User, error)
}

// ShortIDGenerator produces candidate identifiers. Uniqueness is enforced by
// the repository, not the generator.
type ShortIDGenerator interface {
	NewShortID() (string, error)
}

// ScanJob asks the scanner to check one link's destination.
type ScanJob struct {
	LinkID      int64
	ShortID     string
	Destination string
}

// URLScanner accepts scan jobs without waiting for them to finish.
type URLScanner interface {
	Enqueue(job ScanJob)
	Enabled() bool
}

// RedirectCache caches redirect targets by shortID. Misses and cache errors
// both report ok=false.
type RedirectCache interface {
	Get(ctx context.Context, shortID string) (*domain.RedirectTarget, bool)
	Set(ctx context.Context, target *domain.RedirectTarget)
	Invalidate(ctx context.Context, shortIDs ...string)
}

// LinkService defines the business logic operations. owner is nil in
// unauthenticated deployments.
type LinkService interface {
	Create(ctx context.Context, in domain.LinkInput, owner *int64) (*domain.View, error)
	CreateBulk(ctx context.Context, in []domain.LinkInput, owner *int64) ([]domain.BulkResult, error)
	List(ctx context.Context, owner *int64) ([]*domain.View, error)
	Get(ctx context.Context, shortID string, owner *int64) (*domain.View, error)
	Update(ctx context.Context, shortID string, owner *int64, patch domain.LinkPatch) (*domain.View, error)
	Remove(ctx context.Context, shortID string, owner *int64) error
}

// Resolver is the public redirect read path.
type Resolver interface {
	Resolve(ctx context.Context, shortID string) (string, error)
}
