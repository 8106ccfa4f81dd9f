package models

import "time"

// IngestCursor is the stored progress state for one user. A nil field was never written.
type IngestCursor struct {
	UserID         string     `json:"user_id"`
	LastFetchedAt  *int64     `json:"last_fetched_at"`
	LastRunAt      *time.Time `json:"last_run_at"`
	ProcessedCount *int       `json:"processed_count"`
	LastError      *string    `json:"last_error"`
}

// Watermark returns the stored watermark, or fallback when none has been written.
func (c *IngestCursor) Watermark(fallback int64) int64 {
	if c == nil || c.LastFetchedAt == nil {
		return fallback
	}
	return *c.LastFetchedAt
}

// CursorUpdate is a partial merge applied to a cursor. LastRunAt is always stamped by the store.
type CursorUpdate struct {
	LastFetchedAt  Optional[int64]
	ProcessedCount Optional[int]
	LastError      Optional[string]
}

// SuccessUpdate advances the watermark, records the count, and clears the error.
func SuccessUpdate(watermark int64, processed int) CursorUpdate {
	return CursorUpdate{
		LastFetchedAt:  Some(watermark),
		ProcessedCount: Some(processed),
		LastError:      None[string](),
	}
}

// FailureUpdate records msg and leaves the watermark and count untouched.
func FailureUpdate(msg string) CursorUpdate {
	return CursorUpdate{LastError: Some(msg)}
}

// Apply merges u onto c as of now and returns the result. c may be nil.
func (u CursorUpdate) Apply(userID string, c *IngestCursor, now time.Time) *IngestCursor {
	next := IngestCursor{UserID: userID}
	if c != nil {
		next = *c
		next.UserID = userID
	}

	if u.LastFetchedAt.IsSet() {
		next.LastFetchedAt = u.LastFetchedAt.Ptr()
	}
	if u.ProcessedCount.IsSet() {
		next.ProcessedCount = u.ProcessedCount.Ptr()
	}
	if u.LastError.IsSet() {
		next.LastError = u.LastError.Ptr()
	}

	ts := now.UTC()
	next.LastRunAt = &ts
	return &next
}
