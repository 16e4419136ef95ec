package pipeline

import (
	"fmt"
	"time"
)

// WeekID returns the ISO calendar-week run identifier, e.g. 2025-W31.
// Standard scheduled runs share one identifier per week so a re-trigger
// replaces the week's ledger row instead of piling up duplicates.
func WeekID(t time.Time) string {
	year, week := t.ISOWeek()

	return fmt.Sprintf("%d-W%02d", year, week)
}

// CustomID returns the run identifier for an explicit date range. The
// clock suffix disambiguates repeated custom runs over the same window.
func CustomID(start, end, now time.Time) string {
	return fmt.Sprintf("custom_%s_%s_%s",
		start.Format("20060102"),
		end.Format("20060102"),
		now.Format("150405"),
	)
}
