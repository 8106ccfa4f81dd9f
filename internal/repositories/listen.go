package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/shared"
)

// ListenRepository reads and writes [models.ListenEvent] rows.
type ListenRepository struct {
	db *sql.DB
}

// NewListenRepository creates a new [ListenRepository] with the given database connection
func NewListenRepository(db *sql.DB) *ListenRepository {
	return &ListenRepository{db: db}
}

const upsertListenQuery = `
	INSERT INTO listens (
		user_id, doc_id, track_id, track_name, artist_names, album_name,
		duration_ms, played_at, played_at_epoch_ms, expire_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(user_id, doc_id) DO UPDATE SET
		track_id = excluded.track_id,
		track_name = excluded.track_name,
		artist_names = excluded.artist_names,
		album_name = excluded.album_name,
		duration_ms = excluded.duration_ms,
		played_at = excluded.played_at,
		played_at_epoch_ms = excluded.played_at_epoch_ms,
		expire_at = excluded.expire_at
`

// playedAtLayout keeps millisecond precision so stored timestamps match doc ids.
const playedAtLayout = "2006-01-02T15:04:05.000Z07:00"

func upsertListen(ctx context.Context, ex execer, l models.ListenEvent) error {
	artists, err := encodeStrings(l.ArtistNames)
	if err != nil {
		return fmt.Errorf("failed to encode artists for %s: %w", l.DocID, err)
	}

	_, err = ex.ExecContext(ctx, upsertListenQuery,
		l.UserID, l.DocID, l.TrackID, l.TrackName, artists, l.AlbumName,
		l.DurationMS, l.PlayedAt.UTC().Format(playedAtLayout), l.PlayedAtEpochMS, shared.EpochMillis(l.ExpireAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert listen %s: %w", l.DocID, err)
	}
	return nil
}

// ListByUser returns up to limit of the most recent listens for uid, newest first.
func (r *ListenRepository) ListByUser(ctx context.Context, uid string, limit int) ([]models.ListenEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT user_id, doc_id, track_id, track_name, artist_names, album_name,
			duration_ms, played_at_epoch_ms, expire_at
		FROM listens
		WHERE user_id = ?
		ORDER BY played_at_epoch_ms DESC, doc_id DESC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, uid, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query listens: %w", err)
	}
	defer rows.Close()

	var listens []models.ListenEvent
	for rows.Next() {
		var (
			l        models.ListenEvent
			artists  string
			expireAt int64
		)
		if err := rows.Scan(&l.UserID, &l.DocID, &l.TrackID, &l.TrackName, &artists, &l.AlbumName,
			&l.DurationMS, &l.PlayedAtEpochMS, &expireAt); err != nil {
			return nil, fmt.Errorf("failed to scan listen: %w", err)
		}
		if l.ArtistNames, err = decodeStrings(artists); err != nil {
			return nil, fmt.Errorf("failed to decode artists for %s: %w", l.DocID, err)
		}
		l.PlayedAt = shared.FromEpochMillis(l.PlayedAtEpochMS)
		l.ExpireAt = shared.FromEpochMillis(expireAt)
		listens = append(listens, l)
	}
	return listens, rows.Err()
}

// Count returns the number of stored listens for uid.
func (r *ListenRepository) Count(ctx context.Context, uid string) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM listens WHERE user_id = ?", uid).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count listens: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes listens whose expiry is at or before now and returns how many were removed.
func (r *ListenRepository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, "DELETE FROM listens WHERE expire_at <= ?", shared.EpochMillis(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge listens: %w", err)
	}
	return result.RowsAffected()
}
