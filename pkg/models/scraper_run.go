package models

import "time"

// ScraperRunStatus constants
const (
	ScraperRunStatusRunning   = "running"
	ScraperRunStatusCompleted = "completed"
	ScraperRunStatusFailed    = "failed"
	ScraperRunStatusCancelled = "cancelled"
)

// ScraperRun is the persisted record of one orchestrator run
type ScraperRun struct {
	ID            string     `json:"id" db:"id"`
	DispensaryID  string     `json:"dispensary_id" db:"dispensary_id"`
	Status        string     `json:"status" db:"status"`
	StartedAt     time.Time  `json:"started_at" db:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty" db:"finished_at"`
	Found         int        `json:"found" db:"found"`
	Processed     int        `json:"processed" db:"processed"`
	FlagsCreated  int        `json:"flags_created" db:"flags_created"`
	AutoMerged    int        `json:"auto_merged" db:"auto_merged"`
	NewProducts   int        `json:"new_products" db:"new_products"`
	Errors        int        `json:"errors" db:"errors"`
	ParseErrors   int        `json:"parse_errors" db:"parse_errors"`
	MatchFailures int        `json:"match_failures" db:"match_failures"`
	Conflicts     int        `json:"conflicts" db:"conflicts"`
	ErrorMessage  *string    `json:"error_message,omitempty" db:"error_message"`
}
