package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pulseworks/reviewpulse/pkg/config"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DateRange is a closed interval of time returned by GetMissingRanges.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Store is the system of record for reviews, scrape coverage, and the
// run ledger. Every read re-queries the database; no component holds an
// authoritative in-memory copy across calls.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Review store.
	SaveReviews(ctx context.Context, reviews []*Review) (int, error)
	GetCachedReviews(ctx context.Context, start, end time.Time) ([]Review, error)

	// Coverage tracker.
	GetMissingRanges(
		ctx context.Context, platform string, start, end time.Time,
	) ([]DateRange, error)
	HasPlatformHistory(ctx context.Context, platform string) (bool, error)
	MarkScraped(ctx context.Context, platform string, start, end time.Time) error

	// Run ledger.
	UpsertRunLog(ctx context.Context, rec *RunRecord) error
	UpdateRunStatus(
		ctx context.Context, runID string, status RunStatus, patch RunUpdate,
	) error
	GetRunLog(ctx context.Context, runID string) (*RunRecord, error)
	ListRunHistory(ctx context.Context, limit int) ([]RunRecord, error)
	CountActiveRuns(ctx context.Context) (int64, error)
	ReconcileStaleRuns(
		ctx context.Context, olderThan time.Duration,
	) (int64, error)

	// Purge coordinator.
	Purge(ctx context.Context) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and applies schema migrations.
func (s *store) Start(ctx context.Context) error {
	var (
		dialector gorm.Dialector
		err       error
	)

	gormCfg := &gorm.Config{
		Logger: logger.Discard,
	}

	switch s.cfg.Driver {
	case "sqlite":
		if err := s.ensureSQLiteDir(); err != nil {
			return err
		}

		dialector = sqlite.Open(sqliteDSN(s.cfg.SQLite.Path))
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	s.db, err = gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := s.migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// sqliteDSN appends the pragmas required for concurrent access. WAL
// journaling lets the dashboard poll while a pipeline run writes;
// busy_timeout makes brief writer contention block instead of erroring.
func sqliteDSN(path string) string {
	return path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
}

// ensureSQLiteDir creates the parent directory of the SQLite file so a
// fresh deployment can start without manual setup.
func (s *store) ensureSQLiteDir() error {
	path := s.cfg.SQLite.Path
	if path == "" || path == ":memory:" {
		return nil
	}

	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %q: %w", dir, err)
	}

	return nil
}
