package domain

import "math"

// ProfileStats are the aggregate numbers shown on a profile.
type ProfileStats struct {
	BooksRead      int     `json:"books_read"`
	ReviewsWritten int     `json:"reviews_written"`
	AverageRating  float64 `json:"average_rating"`
	// RatingCounts[i] is the number of reviews with i+1 stars.
	RatingCounts [MaxRating]int `json:"rating_counts"`
}

// ComputeStats aggregates a read set and the user's reviews.
// The average is rounded to one decimal and is 0 without reviews.
func ComputeStats(readSet ReadSet, reviews []*Review) ProfileStats {
	stats := ProfileStats{
		BooksRead:      len(readSet),
		ReviewsWritten: len(reviews),
	}
	if len(reviews) == 0 {
		return stats
	}

	sum := 0
	for _, r := range reviews {
		sum += r.Rating
		if r.Rating >= MinRating && r.Rating <= MaxRating {
			stats.RatingCounts[r.Rating-1]++
		}
	}
	stats.AverageRating = math.Round(float64(sum)/float64(len(reviews))*10) / 10
	return stats
}

// ShelfEntry is one row of the "my books" list: a read book and the user's
// own review of it, if any.
type ShelfEntry struct {
	Book   *Book   `json:"book"`
	Review *Review `json:"review,omitempty"`
}
