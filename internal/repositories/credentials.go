package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/replay/internal/shared"
)

// CredentialRepository stores one long-lived refresh token per user.
type CredentialRepository struct {
	db  *sql.DB
	now func() time.Time
}

// NewCredentialRepository creates a new [CredentialRepository] with the given database connection
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db, now: time.Now}
}

// Save stores refreshToken for uid, replacing any previous token.
func (r *CredentialRepository) Save(ctx context.Context, uid, refreshToken string) error {
	if refreshToken == "" {
		return fmt.Errorf("%w: empty refresh token", shared.ErrValidation)
	}

	query := `
		INSERT INTO credentials (user_id, refresh_token, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET refresh_token = excluded.refresh_token, updated_at = excluded.updated_at
	`
	if _, err := r.db.ExecContext(ctx, query, uid, refreshToken, shared.EpochMillis(r.now())); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// RefreshToken returns the stored token for uid, or [shared.ErrNoRefreshToken].
func (r *CredentialRepository) RefreshToken(ctx context.Context, uid string) (string, error) {
	var token string
	err := r.db.QueryRowContext(ctx, "SELECT refresh_token FROM credentials WHERE user_id = ?", uid).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return "", shared.ErrNoRefreshToken
	}
	if err != nil {
		return "", fmt.Errorf("failed to query credentials: %w", err)
	}
	return token, nil
}

// Delete unlinks uid. Deleting a missing row is not an error.
func (r *CredentialRepository) Delete(ctx context.Context, uid string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM credentials WHERE user_id = ?", uid); err != nil {
		return fmt.Errorf("failed to delete credentials: %w", err)
	}
	return nil
}
