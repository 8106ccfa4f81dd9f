package tasks

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/metrics"
	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/services"
	"github.com/desertthunder/replay/internal/shared"
	"github.com/desertthunder/replay/internal/snapshot"
)

// ProcessorOptions tunes a [Processor].
//
// The cursor is merged before the writer's final flush, so a failed flush can
// leave the watermark ahead of listens that were never stored. The next run
// refetches from watermark minus SafetyWindowMS, which bounds that loss to
// listens older than the window.
type ProcessorOptions struct {
	SafetyWindowMS  int64         // Lookback subtracted from the watermark
	Retention       time.Duration // How long a listen lives after it was played
	FeaturesEnabled bool          // Look up audio features for fetched tracks
	Retry           RetryPolicy
	Logger          *log.Logger
}

// Processor ingests the recent playback history of a single user.
type Processor struct {
	cursors  CursorStore
	resolver CredentialResolver
	source   PlaybackSource
	writer   SnapshotWriter
	opts     ProcessorOptions
	logger   *log.Logger
	now      func() time.Time
}

// NewProcessor creates a new [Processor]. A zero Retry uses [DefaultRetryPolicy].
func NewProcessor(cursors CursorStore, resolver CredentialResolver, source PlaybackSource, writer SnapshotWriter, opts ProcessorOptions) *Processor {
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	logger := opts.Logger
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Processor{
		cursors:  cursors,
		resolver: resolver,
		source:   source,
		writer:   writer,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// Process runs the pipeline for uid under the retry policy.
//
// When every attempt fails the error is recorded on the cursor, leaving the
// watermark in place, and returned.
func (p *Processor) Process(ctx context.Context, uid string) (*models.UserResult, error) {
	return p.process(ctx, uid, p.logger)
}

func (p *Processor) process(ctx context.Context, uid string, logger *log.Logger) (*models.UserResult, error) {
	logger = shared.WithLogger(logger, "uid", uid)

	var result *models.UserResult
	err := p.opts.Retry.Do(ctx, logger, func(ctx context.Context) error {
		r, err := p.attempt(ctx, uid, logger)
		result = r
		return err
	})
	if err != nil {
		metrics.RecordUserRun(metrics.OutcomeError, 0)
		if mergeErr := p.cursors.MergeCursor(context.WithoutCancel(ctx), uid, models.FailureUpdate(err.Error())); mergeErr != nil {
			logger.Error("failed to record error on cursor", "error", mergeErr)
		}
		return nil, err
	}

	if result.Linked {
		metrics.RecordUserRun(metrics.OutcomeSuccess, result.Processed)
	} else {
		metrics.RecordUserRun(metrics.OutcomeUnlinked, 0)
	}
	return result, nil
}

func (p *Processor) attempt(ctx context.Context, uid string, logger *log.Logger) (*models.UserResult, error) {
	cursor, err := p.cursors.GetCursor(ctx, uid)
	if err != nil {
		return nil, err
	}

	base := cursor.Watermark(shared.EpochMillis(p.now()))
	after := max(0, base-p.opts.SafetyWindowMS)

	token, err := p.resolver.Resolve(ctx, uid)
	if errors.Is(err, shared.ErrNotLinked) {
		logger.Info("no access token available, skipping user")
		return &models.UserResult{UserID: uid, NewestPlayedAt: after}, nil
	}
	if err != nil {
		return nil, err
	}

	items, err := p.source.RecentlyPlayed(ctx, token, after)
	if err != nil {
		return nil, err
	}
	logger.Debug("fetched recently played", "after", after, "safety_window_ms", p.opts.SafetyWindowMS, "items", len(items))

	listens := snapshot.ToListenEvents(uid, items, p.opts.Retention)

	features, err := p.features(ctx, token, items, logger)
	if err != nil {
		return nil, err
	}
	tracks := snapshot.BuildTrackSnapshots(items, features)

	if err := p.writer.UpsertTracks(ctx, tracks); err != nil {
		return nil, err
	}
	if err := p.writer.UpsertListens(ctx, listens); err != nil {
		return nil, err
	}

	newest := after
	if n := len(listens); n > 0 {
		newest = listens[n-1].PlayedAtEpochMS
	}

	// a watermark never moves backwards, even when nothing new was played
	watermark := newest
	if cursor != nil && cursor.LastFetchedAt != nil {
		watermark = max(watermark, *cursor.LastFetchedAt)
	}
	if err := p.cursors.MergeCursor(ctx, uid, models.SuccessUpdate(watermark, len(listens))); err != nil {
		return nil, err
	}

	logger.Info("user ingest complete", "processed", len(listens), "newest_played_at", newest)
	return &models.UserResult{UserID: uid, Processed: len(listens), NewestPlayedAt: newest, Linked: true}, nil
}

// features returns nil when enrichment is off or the upstream refuses the lookup.
func (p *Processor) features(ctx context.Context, token string, items []services.PlayHistoryItem, logger *log.Logger) (map[string]services.SpotifyAudioFeatures, error) {
	if !p.opts.FeaturesEnabled || len(items) == 0 {
		return nil, nil
	}

	features, err := p.source.AudioFeatures(ctx, token, snapshot.TrackIDs(items))
	if err != nil {
		switch services.StatusCode(err) {
		case http.StatusForbidden, http.StatusNotFound:
			logger.Warn("audio features unavailable, skipping enrichment", "error", err)
			return nil, nil
		}
		return nil, err
	}
	return features, nil
}
