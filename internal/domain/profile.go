package domain

import (
	"maps"
	"slices"
	"time"
)

// ReadSet is the set of book IDs a user has marked as read.
type ReadSet map[string]struct{}

// NewReadSet builds a set from ids, ignoring duplicates and empty strings.
func NewReadSet(ids ...string) ReadSet {
	s := make(ReadSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports membership.
func (s ReadSet) Has(bookID string) bool {
	_, ok := s[bookID]
	return ok
}

// Sorted returns the members in ascending order. Never nil.
func (s ReadSet) Sorted() []string {
	out := slices.Sorted(maps.Keys(s))
	if out == nil {
		out = []string{}
	}
	return out
}

// Clone copies the set.
func (s ReadSet) Clone() ReadSet {
	return maps.Clone(s)
}

// UserProfile is the per-user document holding display data and the read
// set. It is created lazily, with an empty read set, by the first read or
// write that touches the user.
type UserProfile struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Email       string    `json:"email,omitempty"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	ReadBooks   []string  `json:"read_books"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// NewUserProfile creates an empty profile for a user.
func NewUserProfile(userID string) *UserProfile {
	now := time.Now().UTC()
	return &UserProfile{
		UserID:    userID,
		ReadBooks: []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ReadSet returns the read books as a set.
func (p *UserProfile) ReadSet() ReadSet {
	return NewReadSet(p.ReadBooks...)
}

// HasRead reports whether bookID is in the read set.
func (p *UserProfile) HasRead(bookID string) bool {
	return slices.Contains(p.ReadBooks, bookID)
}

// ProfileUpdate carries the user editable profile fields. Nil leaves a field unchanged.
type ProfileUpdate struct {
	DisplayName *string
	AvatarURL   *string
}

// Apply copies the set fields onto p.
func (u ProfileUpdate) Apply(p *UserProfile) {
	if u.DisplayName != nil {
		p.DisplayName = *u.DisplayName
	}
	if u.AvatarURL != nil {
		p.AvatarURL = *u.AvatarURL
	}
}
