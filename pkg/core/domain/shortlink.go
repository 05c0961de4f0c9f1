package domain

import "time"

// DefaultName is the label shown for links created without a name.
const DefaultName = "Untitled"

// ShortLink is the persisted mapping from a short identifier to a destination.
type ShortLink struct {
	ID          int64     `json:"id"`
	ShortID     string    `json:"shortID"`
	Destination string    `json:"destination"`
	Name        string    `json:"name,omitempty"`
	Clicks      int64     `json:"clicks"`
	OwnerID     *int64    `json:"owner,omitempty"`
	Created     time.Time `json:"created"`
	IsBlocked   bool      `json:"isBlocked"`
}

// View is the public projection of a ShortLink. It never carries the
// internal ID or the owner.
type View struct {
	Name        string    `json:"name,omitempty"`
	ShortID     string    `json:"shortID"`
	Destination string    `json:"destination"`
	Link        string    `json:"link"`
	Clicks      int64     `json:"clicks"`
	Created     time.Time `json:"created"`
	IsBlocked   bool      `json:"isBlocked"`
}

// View projects the link for API callers. baseURL is the public host the
// short link is served from.
func (l *ShortLink) View(baseURL string) *View {
	return &View{
		Name:        l.Name,
		ShortID:     l.ShortID,
		Destination: l.Destination,
		Link:        baseURL + "/" + l.ShortID,
		Clicks:      l.Clicks,
		Created:     l.Created,
		IsBlocked:   l.IsBlocked,
	}
}

// DisplayName falls back to DefaultName for unnamed links.
func (l *ShortLink) DisplayName() string {
	if l.Name == "" {
		return DefaultName
	}
	return l.Name
}

// OwnedBy reports whether the link is visible to owner. A nil owner means an
// unauthenticated deployment where every link is visible.
func (l *ShortLink) OwnedBy(owner *int64) bool {
	if owner == nil {
		return true
	}
	return l.OwnerID != nil && *l.OwnerID == *owner
}

// RedirectTarget is the subset of a link the redirect path needs.
type RedirectTarget struct {
	ID          int64  `json:"id"`
	ShortID     string `json:"shortID"`
	Destination string `json:"destination"`
	IsBlocked   bool   `json:"isBlocked"`
}

func (l *ShortLink) Target() *RedirectTarget {
	return &RedirectTarget{
		ID:          l.ID,
		ShortID:     l.ShortID,
		Destination: l.Destination,
		IsBlocked:   l.IsBlocked,
	}
}

// LinkInput is a create request as decoded from JSON. Fields are untyped so
// that wrong-typed input can be reported field by field.
type LinkInput struct {
	Name        any `json:"name"`
	Destination any `json:"destination"`
}

// LinkPatch is an update request. A nil field is absent.
type LinkPatch struct {
	Name        any `json:"name"`
	ShortID     any `json:"shortID"`
	Destination any `json:"destination"`
}

// BulkResult is one element of a bulk create response: exactly one of Link
// and Err is set.
type BulkResult struct {
	Link *View
	Err  *Error
}
