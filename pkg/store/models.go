package store

import "time"

// RunStatus is the lifecycle state of a pipeline run.
type RunStatus string

// Run lifecycle states. A run always starts as Triggered and moves
// forward through the state machine; Succeeded and Failed are terminal.
const (
	StatusTriggered RunStatus = "triggered"
	StatusRunning   RunStatus = "running"
	StatusSucceeded RunStatus = "succeeded"
	StatusFailed    RunStatus = "failed"
)

// Trigger source constants.
const (
	TriggerManual    = "manual"
	TriggerScheduled = "scheduled"
	TriggerAPI       = "api"
)

// Valid reports whether s is a known run status.
func (s RunStatus) Valid() bool {
	switch s {
	case StatusTriggered, StatusRunning, StatusSucceeded, StatusFailed:
		return true
	}

	return false
}

// Terminal reports whether s is a terminal state. A run in a terminal
// state never changes again except via Purge.
func (s RunStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// legalTransitions maps each status to the statuses it may move to.
// A run may go straight from Triggered to a terminal state when it
// fails pre-flight validation before ever entering Running.
var legalTransitions = map[RunStatus][]RunStatus{
	StatusTriggered: {StatusRunning, StatusSucceeded, StatusFailed},
	StatusRunning:   {StatusSucceeded, StatusFailed},
	StatusSucceeded: {},
	StatusFailed:    {},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s RunStatus) CanTransitionTo(next RunStatus) bool {
	for _, allowed := range legalTransitions[s] {
		if allowed == next {
			return true
		}
	}

	return false
}

// Review is a single app-store review. The text has already been
// PII-masked by the scraping pipeline before it reaches the store.
type Review struct {
	ID         string    `gorm:"primaryKey" json:"id"`
	Platform   string    `gorm:"not null;uniqueIndex:idx_reviews_dedup" json:"platform"`
	Rating     int       `gorm:"not null" json:"rating"`
	Title      string    `json:"title"`
	ReviewText string    `gorm:"not null;uniqueIndex:idx_reviews_dedup" json:"review_text"`
	Date       time.Time `gorm:"not null;uniqueIndex:idx_reviews_dedup" json:"date"`

	// RawData holds the original scraped record serialized as JSON,
	// kept for auditing.
	RawData string `gorm:"type:text" json:"-"`
}

// TableName overrides the GORM default.
func (Review) TableName() string { return "reviews" }

// ScrapeDay records that a single calendar day has been fetched for a
// platform. Presence of a row means the day must not be re-fetched,
// even when the fetch found no reviews.
type ScrapeDay struct {
	Platform string `gorm:"primaryKey" json:"platform"`

	// ScrapeDate is the covered calendar day in ISO format (2006-01-02).
	ScrapeDate string `gorm:"primaryKey" json:"scrape_date"`
}

// TableName overrides the GORM default.
func (ScrapeDay) TableName() string { return "scrape_history" }

// RunRecord is one pipeline invocation tracked through its lifecycle.
// The run ID is derived from the ISO calendar week for standard runs or
// from the requested date range for custom runs.
type RunRecord struct {
	RunID         string    `gorm:"primaryKey;column:run_id" json:"run_id"`
	Status        RunStatus `gorm:"not null;index:idx_run_history_status" json:"status"`
	TriggerSource string    `gorm:"not null" json:"trigger_source"`
	TriggeredBy   string    `json:"triggered_by,omitempty"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	TriggeredAt   time.Time `gorm:"index:idx_run_history_triggered,sort:desc" json:"triggered_at"`

	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Result counters, populated only on success.
	ReviewsProcessed *int `json:"reviews_processed,omitempty"`
	ThemesIdentified *int `json:"themes_identified,omitempty"`

	ErrorMessage string `json:"error_message,omitempty"`
}

// TableName overrides the GORM default.
func (RunRecord) TableName() string { return "run_history" }

// Active reports whether the run is still in a non-terminal state.
func (r *RunRecord) Active() bool { return !r.Status.Terminal() }
