// Package refreshtokens declares the server-side repository contract for
// refresh credentials and its PostgreSQL and Redis implementations.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
)

// Repository stores refresh credentials keyed by fingerprint.
type Repository interface {
	// Create stores a new credential.
	Create(ctx context.Context, token *models.RefreshToken) error

	// FindByFingerprint returns the credential in whatever state it is in, or
	// common.ErrorNotFound.
	FindByFingerprint(ctx context.Context, fingerprint string) (*models.RefreshToken, error)

	// Rotate retires the credential identified by oldFingerprint and stores
	// next in a single atomic step. It only succeeds while the old credential
	// is unrevoked and expires after now; otherwise nothing changes and
	// common.ErrorNotFound is returned. next.UserID is filled in from the
	// retired credential.
	Rotate(ctx context.Context, oldFingerprint string, next *models.RefreshToken, now time.Time) error

	// Revoke marks one credential revoked. Revoking an unknown or already
	// revoked credential is not an error.
	Revoke(ctx context.Context, fingerprint string, now time.Time) error

	// RevokeAllForUser revokes every active credential of userID and reports
	// how many changed.
	RevokeAllForUser(ctx context.Context, userID string, now time.Time) (int64, error)
}
