package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// schemaMigration records an applied migration so it never reapplies.
type schemaMigration struct {
	ID        string `gorm:"primaryKey"`
	AppliedAt time.Time
}

// TableName overrides the GORM default.
func (schemaMigration) TableName() string { return "schema_migrations" }

// migration is one versioned, additive-only schema change. Every
// migration must be idempotent: databases created by older releases may
// already contain part of what a migration adds.
type migration struct {
	id    string
	apply func(tx *gorm.DB) error
}

// migrations are applied in order inside a single transaction at Start.
// Never drop or rename columns here; only add.
var migrations = []migration{
	{
		id: "001_initial_schema",
		apply: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&Review{}, &ScrapeDay{}, &RunRecord{})
		},
	},
	{
		// Databases created before run lifecycle tracking carry a
		// run_history table without the status columns. Pre-existing rows
		// were only ever written for completed runs, so the backfill
		// default is succeeded.
		id: "002_run_history_lifecycle_columns",
		apply: func(tx *gorm.DB) error {
			m := tx.Migrator()

			type column struct {
				name string
				def  string
			}

			pending := []column{
				{"status", "TEXT NOT NULL DEFAULT 'succeeded'"},
				{"trigger_source", "TEXT NOT NULL DEFAULT 'manual'"},
				{"triggered_by", "TEXT"},
				{"triggered_at", "TIMESTAMP"},
				{"started_at", "TIMESTAMP"},
				{"completed_at", "TIMESTAMP"},
				{"error_message", "TEXT"},
			}

			for _, col := range pending {
				if m.HasColumn(&RunRecord{}, col.name) {
					continue
				}

				stmt := fmt.Sprintf(
					"ALTER TABLE run_history ADD COLUMN %s %s", col.name, col.def,
				)
				if err := tx.Exec(stmt).Error; err != nil {
					return fmt.Errorf("adding run_history.%s: %w", col.name, err)
				}
			}

			return nil
		},
	},
}

// migrate applies all pending migrations in order and records each in
// schema_migrations. Safe to call repeatedly; applied migrations are
// skipped.
func (s *store) migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&schemaMigration{}); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range migrations {
			var applied int64
			if err := tx.Model(&schemaMigration{}).
				Where("id = ?", m.id).
				Count(&applied).Error; err != nil {
				return fmt.Errorf("checking migration %s: %w", m.id, err)
			}

			if applied > 0 {
				continue
			}

			if err := m.apply(tx); err != nil {
				return fmt.Errorf("applying migration %s: %w", m.id, err)
			}

			rec := schemaMigration{ID: m.id, AppliedAt: time.Now().UTC()}
			if err := tx.Create(&rec).Error; err != nil {
				return fmt.Errorf("recording migration %s: %w", m.id, err)
			}

			s.log.WithField("migration", m.id).Info("Schema migration applied")
		}

		return nil
	})
}
