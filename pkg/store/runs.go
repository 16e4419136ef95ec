package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// activeStatuses are the non-terminal run states.
var activeStatuses = []RunStatus{StatusTriggered, StatusRunning}

// RunUpdate is the optional field patch applied by UpdateRunStatus.
// Nil fields are left untouched.
type RunUpdate struct {
	StartedAt        *time.Time
	CompletedAt      *time.Time
	ReviewsProcessed *int
	ThemesIdentified *int
	ErrorMessage     *string
}

// UpsertRunLog inserts or replaces a run record keyed by run ID. It is
// the only operation that creates ledger rows; trigger-time and
// completion-time writes against the same run ID land on one row.
func (s *store) UpsertRunLog(ctx context.Context, rec *RunRecord) error {
	if rec.RunID == "" {
		return fmt.Errorf("run id is required")
	}

	if !rec.Status.Valid() {
		return fmt.Errorf("unknown run status %q", rec.Status)
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			UpdateAll: true,
		}).
		Create(rec).Error; err != nil {
		return fmt.Errorf("upserting run log: %w", err)
	}

	return nil
}

// UpdateRunStatus moves an existing run to a new status and applies the
// patch. Unknown run IDs return ErrRunNotFound; moves the state machine
// does not allow return an InvalidTransitionError. Both checks and the
// write happen inside one transaction.
func (s *store) UpdateRunStatus(
	ctx context.Context, runID string, status RunStatus, patch RunUpdate,
) error {
	if !status.Valid() {
		return fmt.Errorf("unknown run status %q", status)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current RunRecord
		if err := tx.Where("run_id = ?", runID).
			First(&current).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("updating run %q: %w", runID, ErrRunNotFound)
			}

			return fmt.Errorf("loading run %q: %w", runID, err)
		}

		if !current.Status.CanTransitionTo(status) {
			return &InvalidTransitionError{
				RunID: runID,
				From:  current.Status,
				To:    status,
			}
		}

		updates := map[string]any{"status": status}

		if patch.StartedAt != nil {
			updates["started_at"] = *patch.StartedAt
		}

		if patch.CompletedAt != nil {
			updates["completed_at"] = *patch.CompletedAt
		}

		if patch.ReviewsProcessed != nil {
			updates["reviews_processed"] = *patch.ReviewsProcessed
		}

		if patch.ThemesIdentified != nil {
			updates["themes_identified"] = *patch.ThemesIdentified
		}

		if patch.ErrorMessage != nil {
			updates["error_message"] = *patch.ErrorMessage
		}

		if err := tx.Model(&RunRecord{}).
			Where("run_id = ?", runID).
			Updates(updates).Error; err != nil {
			return fmt.Errorf("updating run %q: %w", runID, err)
		}

		return nil
	})
}

// GetRunLog returns the run record for the given ID or ErrRunNotFound.
func (s *store) GetRunLog(
	ctx context.Context, runID string,
) (*RunRecord, error) {
	var rec RunRecord
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}

		return nil, fmt.Errorf("getting run %q: %w", runID, err)
	}

	return &rec, nil
}

// ListRunHistory returns the most recent runs ordered by trigger time
// descending. A limit of zero or less returns everything.
func (s *store) ListRunHistory(
	ctx context.Context, limit int,
) ([]RunRecord, error) {
	q := s.db.WithContext(ctx).Order("triggered_at DESC")

	if limit > 0 {
		q = q.Limit(limit)
	}

	var runs []RunRecord
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing run history: %w", err)
	}

	return runs, nil
}

// CountActiveRuns returns the number of runs in a non-terminal state.
func (s *store) CountActiveRuns(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&RunRecord{}).
		Where("status IN ?", activeStatuses).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("counting active runs: %w", err)
	}

	return count, nil
}

// ReconcileStaleRuns fails every run that has sat in a non-terminal
// state longer than olderThan. A process crash mid-pipeline leaves its
// run stuck in running forever otherwise; the scheduler calls this on
// every tick. Returns the number of runs reconciled.
func (s *store) ReconcileStaleRuns(
	ctx context.Context, olderThan time.Duration,
) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	result := s.db.WithContext(ctx).
		Model(&RunRecord{}).
		Where("status IN ? AND triggered_at < ?", activeStatuses, cutoff).
		Updates(map[string]any{
			"status":       StatusFailed,
			"completed_at": now,
			"error_message": fmt.Sprintf(
				"run abandoned: no terminal status after %s", olderThan,
			),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("reconciling stale runs: %w", result.Error)
	}

	if result.RowsAffected > 0 {
		s.log.WithField("count", result.RowsAffected).
			Warn("Reconciled stale runs to failed")
	}

	return result.RowsAffected, nil
}
