package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/goccy/go-json"
)

// TrackRepository reads and writes shared [models.TrackSnapshot] rows.
type TrackRepository struct {
	db *sql.DB
}

// NewTrackRepository creates a new TrackRepository with the given database connection
func NewTrackRepository(db *sql.DB) *TrackRepository {
	return &TrackRepository{db: db}
}

const upsertTrackQuery = `
	INSERT INTO tracks (
		track_id, name, artist_names, album_name, duration_ms,
		image_large, image_medium, image_small, audio_features, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(track_id) DO UPDATE SET
		name = excluded.name,
		artist_names = excluded.artist_names,
		album_name = excluded.album_name,
		duration_ms = excluded.duration_ms,
		image_large = CASE WHEN ? THEN excluded.image_large ELSE tracks.image_large END,
		image_medium = CASE WHEN ? THEN excluded.image_medium ELSE tracks.image_medium END,
		image_small = CASE WHEN ? THEN excluded.image_small ELSE tracks.image_small END,
		audio_features = CASE WHEN ? THEN excluded.audio_features ELSE tracks.audio_features END,
		updated_at = excluded.updated_at
`

// Upsert writes tracks outside a batch.
func (r *TrackRepository) Upsert(ctx context.Context, tracks ...models.TrackSnapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, t := range tracks {
		if err := upsertTrack(ctx, tx, t, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// upsertTrack merges t into the tracks table; Unset images or features keep the stored value.
func upsertTrack(ctx context.Context, ex execer, t models.TrackSnapshot, now time.Time) error {
	artists, err := encodeStrings(t.ArtistNames)
	if err != nil {
		return fmt.Errorf("failed to encode artists for %s: %w", t.TrackID, err)
	}

	var large, medium, small *string
	if images, ok := t.Images.Get(); ok {
		large, medium, small = images.Large, images.Medium, images.Small
	}

	var features *string
	if f, ok := t.Features.Get(); ok {
		b, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("failed to encode audio features for %s: %w", t.TrackID, err)
		}
		s := string(b)
		features = &s
	}

	_, err = ex.ExecContext(ctx, upsertTrackQuery,
		t.TrackID, t.TrackName, artists, t.AlbumName, t.DurationMS,
		large, medium, small, features, shared.EpochMillis(now),
		t.Images.IsSet(), t.Images.IsSet(), t.Images.IsSet(), t.Features.IsSet(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert track %s: %w", t.TrackID, err)
	}
	return nil
}

// Get retrieves a track snapshot by id.
//
// Stored artwork with no URLs and a NULL feature column both read back as None.
func (r *TrackRepository) Get(ctx context.Context, trackID string) (*models.TrackSnapshot, error) {
	query := `
		SELECT track_id, name, artist_names, album_name, duration_ms,
			image_large, image_medium, image_small, audio_features
		FROM tracks
		WHERE track_id = ?
	`

	var (
		t                    models.TrackSnapshot
		artists              string
		large, medium, small sql.NullString
		features             sql.NullString
	)
	err := r.db.QueryRowContext(ctx, query, trackID).Scan(
		&t.TrackID, &t.TrackName, &artists, &t.AlbumName, &t.DurationMS,
		&large, &medium, &small, &features,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: track %s", shared.ErrNotFound, trackID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query track: %w", err)
	}

	if t.ArtistNames, err = decodeStrings(artists); err != nil {
		return nil, fmt.Errorf("failed to decode artists for %s: %w", trackID, err)
	}

	if large.Valid || medium.Valid || small.Valid {
		t.Images = models.Some(models.AlbumImages{
			Large:  nullableString(large),
			Medium: nullableString(medium),
			Small:  nullableString(small),
		})
	} else {
		t.Images = models.None[models.AlbumImages]()
	}

	t.Features = models.None[models.AudioFeatures]()
	if features.Valid {
		var f models.AudioFeatures
		if err := json.Unmarshal([]byte(features.String), &f); err != nil {
			return nil, fmt.Errorf("failed to decode audio features for %s: %w", trackID, err)
		}
		t.Features = models.Some(f)
	}

	return &t, nil
}

// Count returns the number of stored tracks.
func (r *TrackRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM tracks").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count tracks: %w", err)
	}
	return n, nil
}
