// Package repositories implements SQLite persistence for the ingestion pipeline.
//
// Each repository wraps a shared [*sql.DB] constructed by the caller and passed in;
// nothing in this package opens or caches a connection on its own.
//
// Key Implementations:
//   - [UserRepository] : the user population enumerated by each batch run
//   - [CredentialRepository] : stored refresh tokens read by the token broker
//   - [CursorRepository] : per-user watermark and run bookkeeping (ingest_meta)
//   - [ListenRepository] : content-addressed listen events with expiry purge
//   - [TrackRepository] : shared track snapshots
//   - [BufferedWriter] : mutex-guarded batch buffer that upserts tracks then listens in one transaction
//
// Writes that carry optional fields use INSERT ... ON CONFLICT DO UPDATE with a
// per-field flag: a field the caller left unset keeps its stored value, a field
// known to be absent is written as NULL.
package repositories
