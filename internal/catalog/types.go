package catalog

import "github.com/bookshelfapp/bookshelf-server/internal/domain"

// Page is one slice of the catalog. An empty NextCursor means the end.
type Page struct {
	Items      []*domain.Book `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// Raw API response types (internal)

type rawBook struct {
	ID            string        `json:"id"`
	Title         string        `json:"title"`
	Subtitle      string        `json:"subtitle"`
	Authors       []string      `json:"authors"`
	Description   string        `json:"description"`
	AverageRating *float64      `json:"averageRating"`
	ImageLinks    rawImageLinks `json:"imageLinks"`
}

type rawImageLinks struct {
	SmallThumbnail string `json:"smallThumbnail"`
	Thumbnail      string `json:"thumbnail"`
}

type rawShelfResponse struct {
	Books []rawBook `json:"books"`
}

type rawBookResponse struct {
	Book *rawBook `json:"book"`
}

// toBook cleans up a raw record. Titles and author names are reduced to
// plain text, the description is converted from HTML to Markdown.
func (r *rawBook) toBook() *domain.Book {
	authors := make([]string, 0, len(r.Authors))
	for _, a := range r.Authors {
		if a = plainText(a); a != "" {
			authors = append(authors, a)
		}
	}

	cover := r.ImageLinks.Thumbnail
	if cover == "" {
		cover = r.ImageLinks.SmallThumbnail
	}

	return &domain.Book{
		ID:            r.ID,
		Title:         plainText(r.Title),
		Authors:       authors,
		Description:   htmlToMarkdown(r.Description),
		CoverURL:      cover,
		AverageRating: r.AverageRating,
	}
}
