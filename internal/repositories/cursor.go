package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/shared"
)

// CursorRepository persists per-user [models.IngestCursor] rows in ingest_meta.
type CursorRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCursorRepository creates a new [CursorRepository] with the given database connection
func NewCursorRepository(db *sql.DB) *CursorRepository {
	return &CursorRepository{db: db, now: time.Now}
}

// GetCursor returns the stored cursor for uid, or nil when the user has no prior state.
func (r *CursorRepository) GetCursor(ctx context.Context, uid string) (*models.IngestCursor, error) {
	query := `
		SELECT last_fetched_at, last_run_at, processed_count, last_error
		FROM ingest_meta
		WHERE user_id = ?
	`

	var (
		fetched, runAt, count sql.NullInt64
		lastErr               sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, uid).Scan(&fetched, &runAt, &count, &lastErr)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query cursor: %w", err)
	}

	cursor := &models.IngestCursor{
		UserID:        uid,
		LastFetchedAt: nullableInt64(fetched),
		LastRunAt:     nullableMillis(runAt),
		LastError:     nullableString(lastErr),
	}
	if count.Valid {
		n := int(count.Int64)
		cursor.ProcessedCount = &n
	}
	return cursor, nil
}

// MergeCursor applies update to the cursor for uid, creating the row on first write.
//
// Unset fields keep their stored value and last_run_at is always stamped.
func (r *CursorRepository) MergeCursor(ctx context.Context, uid string, update models.CursorUpdate) error {
	query := `
		INSERT INTO ingest_meta (user_id, last_fetched_at, last_run_at, processed_count, last_error)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			last_fetched_at = CASE WHEN ? THEN excluded.last_fetched_at ELSE ingest_meta.last_fetched_at END,
			processed_count = CASE WHEN ? THEN excluded.processed_count ELSE ingest_meta.processed_count END,
			last_error = CASE WHEN ? THEN excluded.last_error ELSE ingest_meta.last_error END,
			last_run_at = excluded.last_run_at
	`

	_, err := r.db.ExecContext(ctx, query,
		uid,
		update.LastFetchedAt.Ptr(),
		shared.EpochMillis(r.now()),
		update.ProcessedCount.Ptr(),
		update.LastError.Ptr(),
		update.LastFetchedAt.IsSet(),
		update.ProcessedCount.IsSet(),
		update.LastError.IsSet(),
	)
	if err != nil {
		return fmt.Errorf("%w: failed to merge cursor for %s: %v", shared.ErrWriteFailed, uid, err)
	}
	return nil
}

// Reset deletes the cursor for uid so the next run starts from the current time.
func (r *CursorRepository) Reset(ctx context.Context, uid string) (bool, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM ingest_meta WHERE user_id = ?", uid)
	if err != nil {
		return false, fmt.Errorf("failed to reset cursor: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}
