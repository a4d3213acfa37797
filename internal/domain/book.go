// Package domain contains the core entities of the Bookshelf server: catalog
// books, reviews, user profiles with their read sets, and accounts.
package domain

import "strings"

// Book is a catalog entry. It is owned by the remote catalog and never
// persisted locally; every detail session fetches it fresh.
type Book struct {
	ID            string   `json:"id"`
	Title         string   `json:"title"`
	Authors       []string `json:"authors"`
	Description   string   `json:"description,omitempty"`
	CoverURL      string   `json:"cover_url,omitempty"`
	AverageRating *float64 `json:"average_rating,omitempty"`
}

// AuthorLine joins the authors for display ("A, B and C").
func (b *Book) AuthorLine() string {
	switch len(b.Authors) {
	case 0:
		return ""
	case 1:
		return b.Authors[0]
	default:
		return strings.Join(b.Authors[:len(b.Authors)-1], ", ") + " and " + b.Authors[len(b.Authors)-1]
	}
}

// Clone returns a deep copy so callers can hand books across goroutines.
func (b *Book) Clone() *Book {
	if b == nil {
		return nil
	}
	c := *b
	c.Authors = append([]string(nil), b.Authors...)
	if b.AverageRating != nil {
		r := *b.AverageRating
		c.AverageRating = &r
	}
	return &c
}
