package models

import "time"

// UserResult is the outcome of one successful per-user run.
type UserResult struct {
	UserID         string `json:"user_id"`
	Processed      int    `json:"processed"`
	NewestPlayedAt int64  `json:"newest_played_at"`
	Linked         bool   `json:"linked"`
}

// IngestStats aggregates a batch run.
type IngestStats struct {
	RunID            string        `json:"run_id"`
	ProcessedUsers   int           `json:"processed_users"`
	ProcessedListens int           `json:"processed_listens"`
	Errors           int           `json:"errors"`
	Unlinked         int           `json:"unlinked"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
}
