package services

import (
	"context"
	"sort"
	"sync"

	"github.com/wadjakorntonsri/go-shortlink/pkg/core/domain"
	"github.com/wadjakorntonsri/go-shortlink/pkg/ports"
)

// memRepo is an in-memory ShortLinkRepository honouring the same uniqueness
// and conditional-write rules as the SQLite adapter.
type memRepo struct {
	mu            sync.Mutex
	nextID        int64
	links         map[int64]*domain.ShortLink
	listErr       error
	incrementErr  error
	getErr        error
	incrementCall int
}

func newMemRepo() *memRepo {
	return &memRepo{links: map[int64]*domain.ShortLink{}}
}

func (r *memRepo) byShortID(shortID string) *domain.ShortLink {
	for _, l := range r.links {
		if l.ShortID == shortID {
			return l
		}
	}
	return nil
}

func (r *memRepo) Create(_ context.Context, link *domain.ShortLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.byShortID(link.ShortID) != nil {
		return domain.ErrConflict
	}
	r.nextID++
	link.ID = r.nextID
	stored := *link
	r.links[stored.ID] = &stored
	return nil
}

func (r *memRepo) GetByShortID(_ context.Context, shortID string) (*domain.ShortLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.getErr != nil {
		return nil, r.getErr
	}
	l := r.byShortID(shortID)
	if l == nil {
		return nil, domain.ErrNotFound
	}
	out := *l
	return &out, nil
}

func (r *memRepo) GetByID(_ context.Context, id int64) (*domain.ShortLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	out := *l
	return &out, nil
}

func (r *memRepo) List(_ context.Context, owner *int64) ([]domain.ShortLink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []domain.ShortLink
	for _, l := range r.links {
		if l.OwnedBy(owner) {
			out = append(out, *l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memRepo) Update(_ context.Context, link *domain.ShortLink) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[link.ID]
	if !ok || l.IsBlocked {
		return domain.ErrNotFound
	}
	if other := r.byShortID(link.ShortID); other != nil && other.ID != link.ID {
		return domain.ErrConflict
	}
	l.Name = link.Name
	l.ShortID = link.ShortID
	l.Destination = link.Destination
	return nil
}

func (r *memRepo) Delete(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.links[id]; !ok {
		return domain.ErrNotFound
	}
	delete(r.links, id)
	return nil
}

func (r *memRepo) IncrementClicks(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.incrementCall++
	if r.incrementErr != nil {
		return r.incrementErr
	}
	l, ok := r.links[id]
	if !ok || l.IsBlocked {
		return domain.ErrNotFound
	}
	l.Clicks++
	return nil
}

func (r *memRepo) SetBlocked(_ context.Context, id int64, destination string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok || l.Destination != destination {
		return false, nil
	}
	l.IsBlocked = true
	return true, nil
}

func (r *memRepo) ClearBlocked(_ context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[id]
	if !ok {
		return domain.ErrNotFound
	}
	l.IsBlocked = false
	return nil
}

func (r *memRepo) Dump(ctx context.Context) ([]domain.ShortLink, error) {
	return r.List(ctx, nil)
}

func (r *memRepo) Ping(context.Context) error { return nil }

func (r *memRepo) block(shortID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byShortID(shortID).IsBlocked = true
}

// seqGenerator hands out a fixed sequence, repeating the last value.
type seqGenerator struct {
	mu  sync.Mutex
	ids []string
}

func (g *seqGenerator) NewShortID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id := g.ids[0]
	if len(g.ids) > 1 {
		g.ids = g.ids[1:]
	}
	return id, nil
}

type recordingScanner struct {
	mu   sync.Mutex
	jobs []ports.ScanJob
}

func (s *recordingScanner) Enqueue(job ports.ScanJob) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
}

func (s *recordingScanner) Enabled() bool { return true }

func (s *recordingScanner) Jobs() []ports.ScanJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ports.ScanJob(nil), s.jobs...)
}

type mapCache struct {
	mu          sync.Mutex
	targets     map[string]domain.RedirectTarget
	invalidated []string
}

func newMapCache() *mapCache {
	return &mapCache{targets: map[string]domain.RedirectTarget{}}
}

func (c *mapCache) Get(_ context.Context, shortID string) (*domain.RedirectTarget, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.targets[shortID]
	if !ok {
		return nil, false
	}
	return &t, true
}

func (c *mapCache) Set(_ context.Context, target *domain.RedirectTarget) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.targets[target.ShortID] = *target
}

func (c *mapCache) Invalidate(_ context.Context, shortIDs ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range shortIDs {
		delete(c.targets, id)
		c.invalidated = append(c.invalidated, id)
	}
}
