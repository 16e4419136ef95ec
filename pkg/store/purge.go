package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
)

// Purge deletes all durable state as a single all-or-nothing operation.
// It refuses with PurgeBlockedError while any run is in a non-terminal
// state; the guard check and the three deletes share one transaction so
// a run triggered concurrently cannot race past the guard. After the
// deletes, schema initialization is re-run so the store is immediately
// writable again.
func (s *store) Purge(ctx context.Context) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var active int64
		if err := tx.Model(&RunRecord{}).
			Where("status IN ?", activeStatuses).
			Count(&active).Error; err != nil {
			return fmt.Errorf("counting active runs: %w", err)
		}

		if active > 0 {
			return &PurgeBlockedError{ActiveRuns: active}
		}

		// Dependency order: ledger, coverage, reviews.
		purgeAll := tx.Session(&gorm.Session{AllowGlobalUpdate: true})

		if err := purgeAll.Delete(&RunRecord{}).Error; err != nil {
			return fmt.Errorf("purging run history: %w", err)
		}

		if err := purgeAll.Delete(&ScrapeDay{}).Error; err != nil {
			return fmt.Errorf("purging scrape history: %w", err)
		}

		if err := purgeAll.Delete(&Review{}).Error; err != nil {
			return fmt.Errorf("purging reviews: %w", err)
		}

		return nil
	})
	if err != nil {
		var blocked *PurgeBlockedError
		if errors.As(err, &blocked) {
			return blocked
		}

		return fmt.Errorf("purging data: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("reinitializing schema after purge: %w", err)
	}

	s.log.Info("All data purged")

	return nil
}
