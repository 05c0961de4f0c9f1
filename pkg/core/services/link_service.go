package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/core/validate"
	"github.com/wadjakorntonsri/go-shortlink/pkg/metrics"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

// maxAllocateAttempts bounds shortID collisions on create. Hitting it means
// the identifier space is close to exhausted.
const maxAllocateAttempts = 10

// ErrAllocationExhausted is wrapped when no free shortID could be stored.
var ErrAllocationExhausted = errors.New("shortID allocation exhausted")

const (
	msgDestinationType  = "must be set and of type string"
	msgDestinationURL   = "must be a valid URL"
	msgStringType       = "must be of type string"
	msgShortIDCharset   = "may only contain letters, numbers, '_' and '-'"
	msgShortIDDuplicate = "already exists"
)

type LinkService struct {
	repo    ports.ShortLinkRepository
	gen     ports.ShortIDGenerator
	scanner ports.URLScanner
	cache   ports.RedirectCache
	baseURL string
	log     *zap.Logger
	now     func() time.Time
}

type Option func(*LinkService)

// WithGenerator replaces the random shortID generator.
func WithGenerator(gen ports.ShortIDGenerator) Option {
	return func(s *LinkService) { s.gen = gen }
}

// WithRedirectCache makes the service invalidate cached redirect targets on
// rename, destination change and removal.
func WithRedirectCache(cache ports.RedirectCache) Option {
	return func(s *LinkService) { s.cache = cache }
}

func WithClock(now func() time.Time) Option {
	return func(s *LinkService) { s.now = now }
}

func NewLinkService(repo ports.ShortLinkRepository, scanner ports.URLScanner, baseURL string, log *zap.Logger, opts ...Option) *LinkService {
	s := &LinkService{
		repo:    repo,
		gen:     NewRandomGenerator(),
		scanner: scanner,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.Named("links"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *LinkService) Create(ctx context.Context, in domain.LinkInput, owner *int64) (*domain.View, error) {
	var fields []domain.FieldError

	destination, ferr := parseDestination(in.Destination)
	if ferr != nil {
		fields = append(fields, *ferr)
	}
	name, ferr := parseName(in.Name)
	if ferr != nil {
		fields = append(fields, *ferr)
	}
	if len(fields) > 0 {
		return nil, domain.ValidationFailed(fields...)
	}

	link := &domain.ShortLink{
		Name:        name,
		Destination: destination,
		OwnerID:     owner,
		Created:     s.now().UTC(),
	}
	if err := s.insert(ctx, link); err != nil {
		return nil, err
	}
	metrics.LinksCreated.Inc()
	s.log.Info("link created", zap.String("short_id", link.ShortID), zap.Int64("link_id", link.ID))

	s.scan(link)
	return link.View(s.baseURL), nil
}

// insert allocates a shortID and stores the link, retrying only when the
// repository reports a uniqueness violation.
func (s *LinkService) insert(ctx context.Context, link *domain.ShortLink) error {
	for attempt := 1; attempt <= maxAllocateAttempts; attempt++ {
		shortID, err := s.gen.NewShortID()
		if err != nil {
			return domain.Internal(fmt.Errorf("generate shortID: %w", err))
		}
		link.ShortID = shortID

		err = s.repo.Create(ctx, link)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return domain.Internal(fmt.Errorf("create link: %w", err))
		}
		s.log.Warn("shortID collision", zap.String("short_id", shortID), zap.Int("attempt", attempt))
	}

	s.log.Error("no free shortID", zap.Int("attempts", maxAllocateAttempts))
	return domain.Internal(fmt.Errorf("%w after %d attempts", ErrAllocationExhausted, maxAllocateAttempts))
}

// CreateBulk creates each input independently. Per-item failures are
// reported in place and never abort the rest of the batch.
func (s *LinkService) CreateBulk(ctx context.Context, in []domain.LinkInput, owner *int64) ([]domain.BulkResult, error) {
	if len(in) == 0 {
		return nil, domain.BadRequest("request body must be a non-empty array")
	}

	results := make([]domain.BulkResult, len(in))
	for i, item := range in {
		view, err := s.Create(ctx, item, owner)
		if err != nil {
			results[i].Err = domain.AsError(err)
			continue
		}
		results[i].Link = view
	}
	return results, nil
}

func (s *LinkService) List(ctx context.Context, owner *int64) ([]*domain.View, error) {
	links, err := s.repo.List(ctx, owner)
	if err != nil {
		return nil, domain.Internal(fmt.Errorf("list links: %w", err))
	}

	views := make([]*domain.View, 0, len(links))
	for i := range links {
		views = append(views, links[i].View(s.baseURL))
	}
	return views, nil
}

func (s *LinkService) Get(ctx context.Context, shortID string, owner *int64) (*domain.View, error) {
	link, err := s.find(ctx, shortID, owner)
	if err != nil {
		return nil, err
	}
	return link.View(s.baseURL), nil
}

// Update applies the non-blank fields of patch. Blocked links reject every
// change.
func (s *LinkService) Update(ctx context.Context, shortID string, owner *int64, patch domain.LinkPatch) (*domain.View, error) {
	current, err := s.find(ctx, shortID, owner)
	if err != nil {
		return nil, err
	}
	if current.IsBlocked {
		return nil, errBlocked(current.ShortID)
	}

	updated := *current
	var fields []domain.FieldError

	if !absent(patch.Destination) {
		destination, ferr := parseDestination(patch.Destination)
		if ferr != nil {
			fields = append(fields, *ferr)
		} else {
			updated.Destination = destination
		}
	}
	if !absent(patch.ShortID) {
		newID, ferr := parseShortID(patch.ShortID)
		if ferr != nil {
			fields = append(fields, *ferr)
		} else {
			updated.ShortID = newID
		}
	}
	if !absent(patch.Name) {
		name, ferr := parseName(patch.Name)
		if ferr != nil {
			fields = append(fields, *ferr)
		} else {
			updated.Name = name
		}
	}
	if len(fields) > 0 {
		return nil, domain.ValidationFailed(fields...)
	}

	if updated.ShortID != current.ShortID {
		existing, err := s.repo.GetByShortID(ctx, updated.ShortID)
		switch {
		case err == nil && existing.ID != current.ID:
			return nil, errDuplicate(updated.ShortID)
		case err != nil && !errors.Is(err, domain.ErrNotFound):
			return nil, domain.Internal(fmt.Errorf("check shortID: %w", err))
		}
	}

	if err := s.repo.Update(ctx, &updated); err != nil {
		switch {
		case errors.Is(err, domain.ErrConflict):
			return nil, errDuplicate(updated.ShortID)
		case errors.Is(err, domain.ErrNotFound):
			return nil, s.lostUpdate(ctx, current)
		default:
			return nil, domain.Internal(fmt.Errorf("update link: %w", err))
		}
	}

	s.invalidate(ctx, current.ShortID, updated.ShortID)
	if updated.Destination != current.Destination {
		s.scan(&updated)
	}
	return updated.View(s.baseURL), nil
}

// lostUpdate explains why a conditional update matched no row: the link was
// blocked or removed after it was read.
func (s *LinkService) lostUpdate(ctx context.Context, current *domain.ShortLink) error {
	link, err := s.repo.GetByID(ctx, current.ID)
	if err == nil && link.IsBlocked {
		return errBlocked(current.ShortID)
	}
	return domain.NotFound("No shortlink with shortID %q", current.ShortID)
}

func (s *LinkService) Remove(ctx context.Context, shortID string, owner *int64) error {
	link, err := s.find(ctx, shortID, owner)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, link.ID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.NotFound("No shortlink with shortID %q", shortID)
		}
		return domain.Internal(fmt.Errorf("delete link: %w", err))
	}
	s.invalidate(ctx, link.ShortID)
	s.log.Info("link removed", zap.String("short_id", link.ShortID), zap.Int64("link_id", link.ID))
	return nil
}

// find loads a link visible to owner.
func (s *LinkService) find(ctx context.Context, shortID string, owner *int64) (*domain.ShortLink, error) {
	link, err := s.repo.GetByShortID(ctx, shortID)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && !link.OwnedBy(owner)) {
		return nil, domain.NotFound("No shortlink with shortID %q", shortID)
	}
	if err != nil {
		return nil, domain.Internal(fmt.Errorf("get link: %w", err))
	}
	return link, nil
}

func (s *LinkService) scan(link *domain.ShortLink) {
	if s.scanner == nil {
		return
	}
	s.scanner.Enqueue(ports.ScanJob{
		LinkID:      link.ID,
		ShortID:     link.ShortID,
		Destination: link.Destination,
	})
}

func (s *LinkService) invalidate(ctx context.Context, shortIDs ...string) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, shortIDs...)
}

func errBlocked(shortID string) *domain.Error {
	return domain.MethodNotAllowed(fmt.Sprintf("shortlink %q is blocked and cannot be modified", shortID))
}

func errDuplicate(shortID string) *domain.Error {
	return domain.BadRequest(
		fmt.Sprintf("shortID %q is already in use", shortID),
		domain.FieldError{Code: domain.CodeInvalid, Field: "shortID", Message: msgShortIDDuplicate},
	)
}

// absent reports whether a patch field should fall back to the stored value.
func absent(v any) bool {
	if v == nil {
		return true
	}
	s, ok := v.(string)
	return ok && strings.TrimSpace(s) == ""
}

func parseDestination(v any) (string, *domain.FieldError) {
	if !validate.IsNonEmptyString(v) {
		return "", &domain.FieldError{Code: domain.CodeMissing, Field: "destination", Message: msgDestinationType}
	}
	destination := validate.NormalizeDestination(strings.TrimSpace(v.(string)))
	if !validate.IsValidURL(destination) {
		return "", &domain.FieldError{Code: domain.CodeInvalid, Field: "destination", Message: msgDestinationURL}
	}
	return destination, nil
}

func parseName(v any) (string, *domain.FieldError) {
	if v == nil {
		return "", nil
	}
	if !validate.IsString(v) {
		return "", &domain.FieldError{Code: domain.CodeInvalid, Field: "name", Message: msgStringType}
	}
	return strings.TrimSpace(v.(string)), nil
}

func parseShortID(v any) (string, *domain.FieldError) {
	if !validate.IsString(v) {
		return "", &domain.FieldError{Code: domain.CodeInvalid, Field: "shortID", Message: msgStringType}
	}
	shortID := strings.TrimSpace(v.(string))
	if !validate.IsValidShortID(shortID) {
		return "", &domain.FieldError{Code: domain.CodeInvalid, Field: "shortID", Message: msgShortIDCharset}
	}
	return shortID, nil
}
