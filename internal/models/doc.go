// Package models defines the domain entities of the replay ingestion pipeline.
//
// The package contains three groups of types:
//
// 1. Normalized records written to the document store
//   - [ListenEvent] : One play of one track by one user, content-addressed by [ListenDocID]
//   - [TrackSnapshot] : Shared track reference data with optional artwork and audio features
//
// 2. Per-user progress state
//   - [IngestCursor] : The stored watermark and run bookkeeping for a user
//   - [CursorUpdate] : A partial merge applied to a cursor at the end of a run
//
// 3. Run outcomes
//   - [UserResult] : What one per-user run produced
//   - [IngestStats] : Aggregate counters for a batch run
//
// Enrichment fields that may be missing use [Optional], which separates
// "not computed this run" from "known absent" so merge writes can tell them apart.
package models
