// Package tasks runs ingestion with real-time progress reporting.
//
// # Per-user pipeline
//
// [Processor.Process] handles one user:
//
//  1. Reads the cursor and derives the lower bound (watermark minus the safety window, never below zero)
//  2. Resolves an access token; an unlinked user is skipped without touching the cursor
//  3. Fetches every recently-played page after the lower bound
//  4. Maps plays to listens sorted by played-at and builds deduplicated track snapshots
//  5. Optionally enriches tracks with audio features
//  6. Buffers tracks, then listens, on the [SnapshotWriter]
//  7. Advances the watermark and clears the last error
//
// The whole pipeline runs under a [RetryPolicy]. After the last failed
// attempt the error is recorded on the cursor and the watermark stays put.
//
// # Batch runs
//
// [IngestEngine.Run] lists users and feeds them to a fixed-size worker pool.
// One user's failure never cancels another. Once every worker is done the
// writer is flushed and aggregate [models.IngestStats] are returned.
//
// # Progress Reporting
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data.
// Updates use select with default to prevent blocking.
package tasks
