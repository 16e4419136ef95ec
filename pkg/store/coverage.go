package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm/clause"
)

// dayFormat is the ISO calendar-day format used by scrape_history.
const dayFormat = "2006-01-02"

// dayOf truncates t to midnight of its calendar day.
func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// endOfDay returns the last representable instant of t's calendar day.
func endOfDay(t time.Time) time.Time {
	return dayOf(t).Add(24*time.Hour - time.Nanosecond)
}

// GetMissingRanges walks the closed interval [start, end] day by day and
// collapses the days not present in scrape_history into a minimal
// ordered list of closed sub-ranges. Contiguous missing days merge into
// one range. A range that begins on the interval's first day keeps
// start's time-of-day and a range that ends on the interval's last day
// keeps end's time-of-day, so a fully uncovered interval comes back as
// exactly [(start, end)] and the caller can recognize a first-ever run.
// Interior boundaries span whole days, midnight to end-of-day.
//
// This is a pure read: calling it twice without an intervening
// MarkScraped returns identical results.
func (s *store) GetMissingRanges(
	ctx context.Context, platform string, start, end time.Time,
) ([]DateRange, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s",
			end.Format(dayFormat), start.Format(dayFormat))
	}

	firstDay := dayOf(start)
	lastDay := dayOf(end)

	var coveredDays []string
	if err := s.db.WithContext(ctx).
		Model(&ScrapeDay{}).
		Where("platform = ? AND scrape_date >= ? AND scrape_date <= ?",
			platform, firstDay.Format(dayFormat), lastDay.Format(dayFormat)).
		Pluck("scrape_date", &coveredDays).Error; err != nil {
		return nil, fmt.Errorf("querying scrape history: %w", err)
	}

	covered := make(map[string]struct{}, len(coveredDays))
	for _, d := range coveredDays {
		covered[d] = struct{}{}
	}

	var (
		ranges   []DateRange
		runStart time.Time
		inRun    bool
	)

	// rangeStart keeps the original time-of-day when the missing run
	// begins on the interval's first day.
	rangeStart := func(day time.Time) time.Time {
		if day.Equal(firstDay) {
			return start
		}

		return day
	}

	for day := firstDay; !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		if _, ok := covered[day.Format(dayFormat)]; !ok {
			if !inRun {
				runStart = day
				inRun = true
			}

			continue
		}

		if inRun {
			ranges = append(ranges, DateRange{
				Start: rangeStart(runStart),
				End:   endOfDay(day.AddDate(0, 0, -1)),
			})
			inRun = false
		}
	}

	// Close a run that reaches the end of the interval using the
	// original end boundary.
	if inRun {
		ranges = append(ranges, DateRange{
			Start: rangeStart(runStart),
			End:   end,
		})
	}

	return ranges, nil
}

// HasPlatformHistory reports whether any day has ever been covered for
// the platform. The orchestrator uses this to tell a first-ever run
// apart from a normal incremental gap.
func (s *store) HasPlatformHistory(
	ctx context.Context, platform string,
) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).
		Model(&ScrapeDay{}).
		Where("platform = ?", platform).
		Limit(1).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("querying platform history: %w", err)
	}

	return count > 0, nil
}

// MarkScraped records every calendar day in the closed interval
// [start, end] as covered for the platform. Days already covered are
// left untouched, so re-marking a range is a no-op.
func (s *store) MarkScraped(
	ctx context.Context, platform string, start, end time.Time,
) error {
	if platform == "" {
		return fmt.Errorf("platform is required")
	}

	if end.Before(start) {
		return fmt.Errorf("invalid range: end %s before start %s",
			end.Format(dayFormat), start.Format(dayFormat))
	}

	lastDay := dayOf(end)

	var days []ScrapeDay
	for day := dayOf(start); !day.After(lastDay); day = day.AddDate(0, 0, 1) {
		days = append(days, ScrapeDay{
			Platform:   platform,
			ScrapeDate: day.Format(dayFormat),
		})
	}

	if err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(days, 100).Error; err != nil {
		return fmt.Errorf("marking scraped days: %w", err)
	}

	return nil
}
