package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/metrics"
	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/mattn/go-sqlite3"
)

// DefaultBatchSize is the number of buffered records that triggers a flush.
const DefaultBatchSize = 500

// BufferedWriter batches track and listen upserts from concurrent callers.
//
// A flush writes every buffered track before any buffered listen inside one
// transaction, each row under its own savepoint. A row rejected by a
// constraint (a listen whose user was deleted, for one) is logged and dropped
// while the rest of the batch commits. Any other failure keeps the whole
// buffer so a later Flush can retry it; upserts make the repeated writes
// harmless.
type BufferedWriter struct {
	db        *sql.DB
	batchSize int
	logger    *log.Logger
	now       func() time.Time

	mu      sync.Mutex
	tracks  []models.TrackSnapshot
	listens []models.ListenEvent
}

// NewBufferedWriter creates a writer that flushes on its own once batchSize records are buffered.
func NewBufferedWriter(db *sql.DB, batchSize int, logger *log.Logger) *BufferedWriter {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &BufferedWriter{db: db, batchSize: batchSize, logger: logger, now: time.Now}
}

// UpsertTracks buffers tracks for the next flush.
//
// Only a track without an id is an error; nothing from that call is buffered.
func (w *BufferedWriter) UpsertTracks(ctx context.Context, tracks []models.TrackSnapshot) error {
	for _, t := range tracks {
		if t.TrackID == "" {
			return fmt.Errorf("%w: track snapshot without id", shared.ErrValidation)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.tracks = append(w.tracks, tracks...)
	w.maybeFlushLocked(ctx)
	return nil
}

// UpsertListens buffers listens for the next flush.
//
// Only a listen without a doc id or user id is an error; nothing from that call is buffered.
func (w *BufferedWriter) UpsertListens(ctx context.Context, listens []models.ListenEvent) error {
	for _, l := range listens {
		if l.DocID == "" || l.UserID == "" {
			return fmt.Errorf("%w: listen %q missing doc id or user id", shared.ErrValidation, l.DocID)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	w.listens = append(w.listens, listens...)
	w.maybeFlushLocked(ctx)
	return nil
}

// Flush writes everything buffered. Errors wrap [shared.ErrWriteFailed].
func (w *BufferedWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.flushLocked(ctx)
}

// Pending returns the number of buffered records.
func (w *BufferedWriter) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	return len(w.tracks) + len(w.listens)
}

// maybeFlushLocked flushes once the batch size is reached. The buffer holds
// every caller's rows, so a failure is logged and left for the next Flush
// instead of being returned to whichever caller crossed the threshold.
func (w *BufferedWriter) maybeFlushLocked(ctx context.Context) {
	if len(w.tracks)+len(w.listens) < w.batchSize {
		return
	}
	if err := w.flushLocked(ctx); err != nil {
		w.logger.Warn("automatic flush failed, keeping buffer", "pending", len(w.tracks)+len(w.listens), "error", err)
	}
}

func (w *BufferedWriter) flushLocked(ctx context.Context) error {
	if len(w.tracks) == 0 && len(w.listens) == 0 {
		return nil
	}

	dropped, err := w.write(ctx)
	metrics.RecordFlush(err)
	if err != nil {
		w.logger.Error("flush failed", "tracks", len(w.tracks), "listens", len(w.listens), "error", err)
		return fmt.Errorf("%w: %v", shared.ErrWriteFailed, err)
	}

	w.logger.Debug("flushed", "tracks", len(w.tracks), "listens", len(w.listens), "dropped", dropped)
	w.tracks, w.listens = nil, nil
	return nil
}

// write commits the buffer and returns how many rows were dropped on a constraint.
func (w *BufferedWriter) write(ctx context.Context) (int, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	dropped := 0
	now := w.now()
	for _, t := range w.tracks {
		err := writeRow(ctx, tx, func() error { return upsertTrack(ctx, tx, t, now) })
		if isConstraintViolation(err) {
			w.logger.Warn("dropping track rejected by the store", "track", t.TrackID, "error", err)
			dropped++
			continue
		}
		if err != nil {
			return 0, err
		}
	}
	for _, l := range w.listens {
		err := writeRow(ctx, tx, func() error { return upsertListen(ctx, tx, l) })
		if isConstraintViolation(err) {
			w.logger.Warn("dropping listen rejected by the store", "user", l.UserID, "listen", l.DocID, "error", err)
			dropped++
			continue
		}
		if err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return dropped, nil
}

// writeRow runs fn under a savepoint and rolls back only that row when it fails.
func writeRow(ctx context.Context, tx *sql.Tx, fn func() error) error {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT buffered_row"); err != nil {
		return fmt.Errorf("failed to open savepoint: %w", err)
	}

	if err := fn(); err != nil {
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO buffered_row"); rbErr != nil {
			return fmt.Errorf("failed to roll back row: %w", rbErr)
		}
		if _, relErr := tx.ExecContext(ctx, "RELEASE buffered_row"); relErr != nil {
			return fmt.Errorf("failed to release savepoint: %w", relErr)
		}
		return err
	}

	if _, err := tx.ExecContext(ctx, "RELEASE buffered_row"); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// isConstraintViolation reports whether err is a row the store will never accept.
func isConstraintViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}
