package tasks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/replay/internal/metrics"
	"github.com/desertthunder/replay/internal/models"
	"github.com/desertthunder/replay/internal/services"
	"github.com/desertthunder/replay/internal/shared"
)

// DefaultConcurrency is the number of users processed at once.
const DefaultConcurrency = 5

// UserLister enumerates the users eligible for ingestion.
type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

// CursorStore reads and partially updates per-user ingest cursors.
//
// GetCursor returns nil without error when the user has no prior state.
type CursorStore interface {
	GetCursor(ctx context.Context, uid string) (*models.IngestCursor, error)
	MergeCursor(ctx context.Context, uid string, update models.CursorUpdate) error
}

// SnapshotWriter buffers upserts from concurrent workers until Flush.
type SnapshotWriter interface {
	UpsertTracks(ctx context.Context, tracks []models.TrackSnapshot) error
	UpsertListens(ctx context.Context, listens []models.ListenEvent) error
	Flush(ctx context.Context) error
}

// PlaybackSource is the upstream playback history API.
type PlaybackSource interface {
	RecentlyPlayed(ctx context.Context, accessToken string, after int64) ([]services.PlayHistoryItem, error)
	AudioFeatures(ctx context.Context, accessToken string, ids []string) (map[string]services.SpotifyAudioFeatures, error)
}

// CredentialResolver returns a short-lived access token for a user, or [shared.ErrNotLinked].
type CredentialResolver interface {
	Resolve(ctx context.Context, uid string) (string, error)
}

// EngineOptions configures an [IngestEngine].
type EngineOptions struct {
	Concurrency int // Users processed at once (default: 5)
	Logger      *log.Logger
}

// IngestEngine runs the processor for every known user.
type IngestEngine struct {
	users       UserLister
	processor   *Processor
	writer      SnapshotWriter
	concurrency int
	logger      *log.Logger
	now         func() time.Time
}

// userJob is the outcome of one worker's run for a user.
type userJob struct {
	uid    string
	result *models.UserResult
	err    error
}

// NewIngestEngine creates a new IngestEngine. The writer must be the one the processor writes to.
func NewIngestEngine(users UserLister, processor *Processor, writer SnapshotWriter, opts EngineOptions) *IngestEngine {
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	return &IngestEngine{
		users:       users,
		processor:   processor,
		writer:      writer,
		concurrency: opts.Concurrency,
		logger:      opts.Logger,
		now:         time.Now,
	}
}

// sendProgress sends a progress update through the channel without blocking.
func (e *IngestEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// Run performs one batch: every user is processed, failures are counted
// without cancelling other users, and the writer is flushed once all workers
// have finished.
//
// Listing users and the final flush are the only errors Run returns.
func (e *IngestEngine) Run(ctx context.Context, progress chan<- ProgressUpdate) (stats *models.IngestStats, err error) {
	stats = &models.IngestStats{RunID: shared.GenerateID(), StartedAt: e.now().UTC()}
	logger := shared.WithLogger(e.logger, "run_id", stats.RunID)
	defer func() {
		stats.Duration = e.now().Sub(stats.StartedAt)
		metrics.RecordRun(stats.Duration, err)
	}()

	e.sendProgress(progress, listUsersUpdate())
	ids, err := e.users.ListUserIDs(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to list users: %w", err)
	}

	total := len(ids)
	logger.Info("starting ingest run", "users", total, "concurrency", e.concurrency)

	jobs := make(chan string, total)
	results := make(chan userJob, total)

	var wg sync.WaitGroup
	for range min(e.concurrency, max(total, 1)) {
		wg.Add(1)
		go e.worker(ctx, &wg, logger, jobs, results)
	}

	for _, uid := range ids {
		jobs <- uid
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(results)
	}()

	completed := 0
	for res := range results {
		completed++
		switch {
		case res.err != nil:
			stats.Errors++
			logger.Error("user ingest failed", "uid", res.uid, "error", res.err)
			e.sendProgress(progress, userFailedUpdate(completed, total, res.uid, res.err))
		case !res.result.Linked:
			stats.ProcessedUsers++
			stats.Unlinked++
			e.sendProgress(progress, userSkippedUpdate(completed, total, res.uid))
		default:
			stats.ProcessedUsers++
			stats.ProcessedListens += res.result.Processed
			e.sendProgress(progress, userCompletedUpdate(completed, total, res.result))
		}
	}

	e.sendProgress(progress, flushUpdate())
	if err := e.writer.Flush(ctx); err != nil {
		return stats, fmt.Errorf("failed to flush writes: %w", err)
	}

	logger.Info("finished ingest run",
		"processed_users", stats.ProcessedUsers,
		"processed_listens", stats.ProcessedListens,
		"errors", stats.Errors,
		"unlinked", stats.Unlinked,
	)
	e.sendProgress(progress, finishedUpdate(stats))
	return stats, nil
}

// RunUser processes a single user and flushes the writer, for manual triggers.
func (e *IngestEngine) RunUser(ctx context.Context, uid string) (*models.UserResult, error) {
	logger := shared.WithLogger(e.logger, "run_id", shared.GenerateID())

	result, err := e.processor.process(ctx, uid, logger)
	if err != nil {
		return nil, err
	}
	if err := e.writer.Flush(ctx); err != nil {
		return nil, fmt.Errorf("failed to flush writes: %w", err)
	}
	return result, nil
}

// worker processes user ids from the jobs channel until it is drained.
func (e *IngestEngine) worker(ctx context.Context, wg *sync.WaitGroup, logger *log.Logger, jobs <-chan string, results chan<- userJob) {
	defer wg.Done()

	for uid := range jobs {
		if ctx.Err() != nil {
			results <- userJob{uid: uid, err: ctx.Err()}
			continue
		}
		result, err := e.processor.process(ctx, uid, logger)
		results <- userJob{uid: uid, result: result, err: err}
	}
}
