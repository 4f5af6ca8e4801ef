package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/dbx"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX (satisfied by
// *sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, fingerprint, encrypted_token, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query,
		t.ID, t.UserID, t.Fingerprint, t.EncryptedToken, t.IssuedAt, t.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) FindByFingerprint(ctx context.Context, fingerprint string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, fingerprint, encrypted_token, issued_at, expires_at, revoked, revoked_at, replaced_by
		FROM refresh_tokens
		WHERE fingerprint = $1
	`
	t := &models.RefreshToken{}
	var revokedAt sql.NullTime
	var replacedBy sql.NullString

	err := r.db.QueryRowContext(ctx, query, fingerprint).Scan(
		&t.ID, &t.UserID, &t.Fingerprint, &t.EncryptedToken,
		&t.IssuedAt, &t.ExpiresAt, &t.Revoked, &revokedAt, &replacedBy,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	if revokedAt.Valid {
		at := revokedAt.Time
		t.RevokedAt = &at
	}
	t.ReplacedBy = replacedBy.String
	return t, nil
}

// Rotate runs as one statement. Concurrent callers serialize on the row lock
// taken by the UPDATE, and the loser re-evaluates revoked = FALSE against the
// committed row and matches nothing.
func (r *PostgresRepository) Rotate(ctx context.Context, oldFingerprint string, next *models.RefreshToken, now time.Time) error {
	query := `
		WITH retired AS (
			UPDATE refresh_tokens
			SET revoked = TRUE, revoked_at = $2, replaced_by = $3
			WHERE fingerprint = $1 AND revoked = FALSE AND expires_at > $2
			RETURNING user_id
		)
		INSERT INTO refresh_tokens (id, user_id, fingerprint, encrypted_token, issued_at, expires_at)
		SELECT $3, user_id, $4, $5, $6, $7 FROM retired
		RETURNING user_id
	`
	err := r.db.QueryRowContext(ctx, query,
		oldFingerprint, now, next.ID, next.Fingerprint, next.EncryptedToken, next.IssuedAt, next.ExpiresAt,
	).Scan(&next.UserID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.ErrorNotFound
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Revoke(ctx context.Context, fingerprint string, now time.Time) error {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE fingerprint = $1 AND revoked = FALSE
	`
	if _, err := r.db.ExecContext(ctx, query, fingerprint, now); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error) {
	query := `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE user_id = $1 AND revoked = FALSE
	`
	res, err := r.db.ExecContext(ctx, query, userID, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
