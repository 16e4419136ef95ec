package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// validateReview checks the fields a review must carry before insert.
func validateReview(r *Review) error {
	if r.Platform == "" {
		return fmt.Errorf("platform is required")
	}

	if r.Rating < 1 || r.Rating > 5 {
		return fmt.Errorf("rating %d out of range 1-5", r.Rating)
	}

	if r.ReviewText == "" {
		return fmt.Errorf("review text is required")
	}

	if r.Date.IsZero() {
		return fmt.Errorf("date is required")
	}

	return nil
}

// SaveReviews inserts the given reviews, skipping duplicates on the
// (platform, review_text, date) dedup key and skipping (not aborting on)
// individually malformed records. Returns the count actually inserted.
func (s *store) SaveReviews(
	ctx context.Context, reviews []*Review,
) (int, error) {
	if len(reviews) == 0 {
		return 0, nil
	}

	var saved int

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range reviews {
			if err := validateReview(r); err != nil {
				s.log.WithError(err).
					WithField("platform", r.Platform).
					Warn("Skipping malformed review")

				continue
			}

			if r.ID == "" {
				r.ID = uuid.NewString()
			}

			result := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{
					{Name: "platform"},
					{Name: "review_text"},
					{Name: "date"},
				},
				DoNothing: true,
			}).Create(r)
			if result.Error != nil {
				return fmt.Errorf("inserting review: %w", result.Error)
			}

			saved += int(result.RowsAffected)
		}

		return nil
	})
	if err != nil {
		return 0, err
	}

	return saved, nil
}

// GetCachedReviews returns every review whose timestamp falls within the
// closed interval [start, end]. No ordering is guaranteed; callers sort
// as needed.
func (s *store) GetCachedReviews(
	ctx context.Context, start, end time.Time,
) ([]Review, error) {
	var reviews []Review
	if err := s.db.WithContext(ctx).
		Where("date >= ? AND date <= ?", start, end).
		Find(&reviews).Error; err != nil {
		return nil, fmt.Errorf("querying cached reviews: %w", err)
	}

	return reviews, nil
}
