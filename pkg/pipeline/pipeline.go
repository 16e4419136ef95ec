package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pulseworks/reviewpulse/pkg/config"
	"github.com/pulseworks/reviewpulse/pkg/store"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Scraper fetches reviews for one platform over a date range. The
// production implementations (app-store clients, PII masking) live
// outside this repository.
type Scraper interface {
	FetchReviews(
		ctx context.Context, platform string, start, end time.Time,
	) ([]*store.Review, error)
}

// Clusterer groups cached reviews into themes and returns the number of
// themes identified. The LLM-backed implementation lives outside this
// repository.
type Clusterer interface {
	ClusterThemes(ctx context.Context, reviews []store.Review) (int, error)
}

// ErrAlreadyRan is returned when a run for the derived identifier has
// already succeeded and force was not set.
var ErrAlreadyRan = errors.New("pipeline already ran for this period")

// ErrRunInProgress is returned when the derived run identifier is still
// in a non-terminal state.
var ErrRunInProgress = errors.New("a run is already in progress for this period")

// Options controls a single pipeline invocation.
type Options struct {
	// Force bypasses the already-ran check for standard weekly runs.
	Force bool

	// StartDate/EndDate switch the run to a custom date range.
	StartDate *time.Time
	EndDate   *time.Time

	// TriggerSource is manual, scheduled, or api.
	TriggerSource string

	// TriggeredBy optionally names the triggering principal.
	TriggeredBy string
}

// Pipeline executes one end-to-end fetch-and-cluster run against the
// store, tracking its progress through the run ledger.
type Pipeline struct {
	log       logrus.FieldLogger
	store     store.Store
	scraper   Scraper
	clusterer Clusterer
	platforms []string
	lookback  time.Duration
	limiter   *rate.Limiter

	// Serializes store writes from per-platform goroutines to avoid
	// SQLite writer contention.
	dbMu sync.Mutex
}

// New creates a pipeline from the given collaborators and settings.
func New(
	log logrus.FieldLogger,
	st store.Store,
	scraper Scraper,
	clusterer Clusterer,
	cfg *config.PipelineConfig,
) *Pipeline {
	var limiter *rate.Limiter
	if cfg.ScrapeRequestsPerMinute > 0 {
		limiter = rate.NewLimiter(
			rate.Limit(float64(cfg.ScrapeRequestsPerMinute)/60.0), 1,
		)
	}

	return &Pipeline{
		log:       log.WithField("component", "pipeline"),
		store:     st,
		scraper:   scraper,
		clusterer: clusterer,
		platforms: cfg.Platforms,
		lookback:  time.Duration(cfg.LookbackWeeks) * 7 * 24 * time.Hour,
		limiter:   limiter,
	}
}

// Run triggers and executes a full pipeline invocation synchronously.
// Returns the run identifier.
func (p *Pipeline) Run(ctx context.Context, opts Options) (string, error) {
	runID, err := p.Trigger(ctx, opts)
	if err != nil {
		return runID, err
	}

	return runID, p.Execute(ctx, runID)
}

// Trigger records a new run in the ledger with status triggered and
// returns its identifier without executing anything, so callers that
// must not block (HTTP handlers) can hand execution to a worker. The
// run stays observable in the ledger from this point on.
func (p *Pipeline) Trigger(ctx context.Context, opts Options) (string, error) {
	now := time.Now().UTC()

	runID, start, end := p.resolveWindow(now, opts)

	if err := p.checkPrior(ctx, runID, opts); err != nil {
		return runID, err
	}

	source := opts.TriggerSource
	if source == "" {
		source = store.TriggerManual
	}

	rec := &store.RunRecord{
		RunID:         runID,
		Status:        store.StatusTriggered,
		TriggerSource: source,
		TriggeredBy:   opts.TriggeredBy,
		StartDate:     start,
		EndDate:       end,
		TriggeredAt:   now,
	}

	if err := p.store.UpsertRunLog(ctx, rec); err != nil {
		return runID, fmt.Errorf("recording triggered run: %w", err)
	}

	return runID, nil
}

// Execute runs a previously triggered run to a terminal state. The
// window boundaries come from the ledger row, the system of record.
func (p *Pipeline) Execute(ctx context.Context, runID string) error {
	rec, err := p.store.GetRunLog(ctx, runID)
	if err != nil {
		return fmt.Errorf("loading triggered run: %w", err)
	}

	if err := p.execute(ctx, runID, rec.StartDate, rec.EndDate); err != nil {
		p.failRun(runID, err)

		return err
	}

	return nil
}

// resolveWindow derives the run identifier and fetch window.
func (p *Pipeline) resolveWindow(
	now time.Time, opts Options,
) (runID string, start, end time.Time) {
	if opts.StartDate != nil || opts.EndDate != nil {
		start, end = now.Add(-p.lookback), now
		if opts.StartDate != nil {
			start = *opts.StartDate
		}

		if opts.EndDate != nil {
			end = *opts.EndDate
		}

		return CustomID(start, end, now), start, end
	}

	return WeekID(now), now.Add(-p.lookback), now
}

// checkPrior enforces weekly idempotency and refuses to stack a second
// run on an identifier that is still active.
func (p *Pipeline) checkPrior(
	ctx context.Context, runID string, opts Options,
) error {
	prior, err := p.store.GetRunLog(ctx, runID)
	if errors.Is(err, store.ErrRunNotFound) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("checking prior run: %w", err)
	}

	if prior.Active() {
		return fmt.Errorf("run %s: %w", runID, ErrRunInProgress)
	}

	if prior.Status == store.StatusSucceeded && !opts.Force {
		return fmt.Errorf("run %s: %w", runID, ErrAlreadyRan)
	}

	return nil
}

// execute moves the run to running, fetches the gaps for every
// platform, clusters the window's reviews, and records the outcome.
func (p *Pipeline) execute(
	ctx context.Context, runID string, start, end time.Time,
) error {
	startedAt := time.Now().UTC()
	if err := p.store.UpdateRunStatus(
		ctx, runID, store.StatusRunning,
		store.RunUpdate{StartedAt: &startedAt},
	); err != nil {
		return fmt.Errorf("marking run started: %w", err)
	}

	var (
		mu    sync.Mutex
		total int
	)

	g, gctx := errgroup.WithContext(ctx)

	for _, platform := range p.platforms {
		g.Go(func() error {
			saved, err := p.fetchPlatform(gctx, platform, start, end)
			if err != nil {
				return fmt.Errorf("platform %s: %w", platform, err)
			}

			mu.Lock()
			total += saved
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	cached, err := p.store.GetCachedReviews(ctx, start, end)
	if err != nil {
		return fmt.Errorf("loading cached reviews: %w", err)
	}

	themes := 0

	if p.clusterer != nil && len(cached) > 0 {
		themes, err = p.clusterer.ClusterThemes(ctx, cached)
		if err != nil {
			return fmt.Errorf("clustering themes: %w", err)
		}
	}

	completedAt := time.Now().UTC()
	if err := p.store.UpdateRunStatus(
		ctx, runID, store.StatusSucceeded,
		store.RunUpdate{
			CompletedAt:      &completedAt,
			ReviewsProcessed: &total,
			ThemesIdentified: &themes,
		},
	); err != nil {
		return fmt.Errorf("marking run succeeded: %w", err)
	}

	p.log.WithFields(logrus.Fields{
		"run_id":  runID,
		"reviews": total,
		"themes":  themes,
	}).Info("Pipeline run succeeded")

	return nil
}

// fetchPlatform fetches only the uncovered sub-ranges for one platform
// and marks each range covered after a successful fetch, empty or not.
func (p *Pipeline) fetchPlatform(
	ctx context.Context, platform string, start, end time.Time,
) (int, error) {
	hasHistory, err := p.store.HasPlatformHistory(ctx, platform)
	if err != nil {
		return 0, err
	}

	missing, err := p.store.GetMissingRanges(ctx, platform, start, end)
	if err != nil {
		return 0, err
	}

	if !hasHistory {
		p.log.WithField("platform", platform).
			Info("No scrape history, performing full sync")
	}

	if len(missing) == 0 {
		p.log.WithField("platform", platform).
			Debug("Range fully cached, nothing to fetch")

		return 0, nil
	}

	var saved int

	for _, gap := range missing {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return saved, err
			}
		}

		reviews, err := p.scraper.FetchReviews(ctx, platform, gap.Start, gap.End)
		if err != nil {
			return saved, fmt.Errorf("fetching %s to %s: %w",
				gap.Start.Format("2006-01-02"), gap.End.Format("2006-01-02"), err)
		}

		p.dbMu.Lock()

		n, err := p.store.SaveReviews(ctx, reviews)
		if err == nil {
			// Mark the range covered even when it held no reviews, so
			// empty days are never re-fetched.
			err = p.store.MarkScraped(ctx, platform, gap.Start, gap.End)
		}

		p.dbMu.Unlock()

		if err != nil {
			return saved, err
		}

		saved += n
	}

	return saved, nil
}

// failRun records a terminal failure. A fresh context is used so the
// outcome still lands when the run's own context was canceled.
func (p *Pipeline) failRun(runID string, runErr error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	completedAt := time.Now().UTC()
	msg := runErr.Error()

	if err := p.store.UpdateRunStatus(
		ctx, runID, store.StatusFailed,
		store.RunUpdate{CompletedAt: &completedAt, ErrorMessage: &msg},
	); err != nil {
		p.log.WithError(err).
			WithField("run_id", runID).
			Error("Failed to record run failure")
	}
}
