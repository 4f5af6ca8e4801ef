package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/cryptox"
	"github.com/dmitrijs2005/rentkeeper/internal/dbx"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	"github.com/dmitrijs2005/rentkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
)

// refreshTokenBytes is the entropy of a raw refresh credential.
const refreshTokenBytes = 32

// DefaultReuseGrace is how long a rotated credential may be presented again
// before it counts as replayed.
const DefaultReuseGrace = 30 * time.Second

// RefreshStore issues, checks and rotates refresh credentials. Raw tokens
// are only ever returned to the caller; the backend sees their fingerprint
// and a sealed copy.
type RefreshStore struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	cipher      *cryptox.TokenCipher
	validity    time.Duration
	reuseGrace  time.Duration
	now         func() time.Time
	log         logging.Logger
}

func NewRefreshStore(db *sql.DB, m repomanager.RepositoryManager, cipher *cryptox.TokenCipher,
	validity time.Duration, log logging.Logger) *RefreshStore {
	return &RefreshStore{
		db:          db,
		repomanager: m,
		cipher:      cipher,
		validity:    validity,
		reuseGrace:  DefaultReuseGrace,
		now:         time.Now,
		log:         log.With("module", "refreshstore"),
	}
}

// WithClock replaces the time source. Used in tests.
func (s *RefreshStore) WithClock(now func() time.Time) *RefreshStore {
	s.now = now
	return s
}

// WithReuseGrace sets the window after a rotation during which presenting the
// old credential again is answered with common.ErrRefreshTokenRevoked instead
// of revoking the account. Zero disables the window.
func (s *RefreshStore) WithReuseGrace(d time.Duration) *RefreshStore {
	s.reuseGrace = d
	return s
}

// Create issues a new credential for accountID and returns the raw token.
func (s *RefreshStore) Create(ctx context.Context, accountID string) (string, error) {
	return s.create(ctx, s.db, accountID)
}

func (s *RefreshStore) create(ctx context.Context, db dbx.DBTX, accountID string) (string, error) {
	raw, rec, err := s.newRecord(s.now())
	if err != nil {
		return "", err
	}
	rec.UserID = accountID

	if err := s.repomanager.RefreshTokens(db).Create(ctx, rec); err != nil {
		return "", fmt.Errorf("store refresh token: %w", err)
	}
	return raw, nil
}

// Find returns the credential for raw in any state. Absent or mismatching
// credentials yield common.ErrRefreshTokenNotFound.
func (s *RefreshStore) Find(ctx context.Context, raw string) (*models.RefreshToken, error) {
	if raw == "" {
		return nil, common.ErrRefreshTokenNotFound
	}

	rec, err := s.repomanager.RefreshTokens(s.db).FindByFingerprint(ctx, s.cipher.Fingerprint(raw))
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrRefreshTokenNotFound
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}

	stored, err := s.cipher.Open(rec.EncryptedToken)
	if err != nil || !cryptox.Equal(stored, raw) {
		return nil, common.ErrRefreshTokenNotFound
	}
	return rec, nil
}

// Lookup is Find restricted to credentials that can still be exchanged.
func (s *RefreshStore) Lookup(ctx context.Context, raw string) (*models.RefreshToken, error) {
	rec, err := s.Find(ctx, raw)
	if err != nil {
		return nil, err
	}
	if err := s.checkActive(rec, s.now()); err != nil {
		return nil, err
	}
	return rec, nil
}

// Rotate exchanges raw for a new credential of the same account. Presenting
// a credential that was rotated more than the reuse grace ago revokes every
// credential of its account and returns common.ErrRefreshTokenReused. Inside
// the grace the caller lost a concurrent rotation and gets
// common.ErrRefreshTokenRevoked.
func (s *RefreshStore) Rotate(ctx context.Context, raw string) (newRaw string, accountID string, err error) {
	rec, err := s.Find(ctx, raw)
	if err != nil {
		return "", "", err
	}

	now := s.now()
	if rec.Rotated() {
		if s.withinReuseGrace(rec, now) {
			s.log.Debug(ctx, "rotated refresh token presented within grace",
				"account_id", rec.UserID, "token_id", rec.ID)
			return "", "", common.ErrRefreshTokenRevoked
		}
		n, err := s.RevokeAllForAccount(ctx, rec.UserID)
		if err != nil {
			return "", "", err
		}
		s.log.Warn(ctx, "rotated refresh token presented again, revoked account tokens",
			"account_id", rec.UserID, "token_id", rec.ID, "revoked", n)
		return "", "", common.ErrRefreshTokenReused
	}
	if err := s.checkActive(rec, now); err != nil {
		return "", "", err
	}

	newRaw, next, err := s.newRecord(now)
	if err != nil {
		return "", "", err
	}
	if err := s.repomanager.RefreshTokens(s.db).Rotate(ctx, rec.Fingerprint, next, now); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// lost a race against another rotation or revocation
			return "", "", common.ErrRefreshTokenRevoked
		}
		return "", "", fmt.Errorf("rotate refresh token: %w", err)
	}

	s.log.Debug(ctx, "refresh token rotated", "account_id", next.UserID, "token_id", next.ID, "replaces", rec.ID)
	return newRaw, next.UserID, nil
}

// Revoke marks the credential for raw revoked. Unknown tokens are ignored.
func (s *RefreshStore) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := s.repomanager.RefreshTokens(s.db).Revoke(ctx, s.cipher.Fingerprint(raw), s.now()); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// RevokeAllForAccount revokes every active credential of accountID.
func (s *RefreshStore) RevokeAllForAccount(ctx context.Context, accountID string) (int64, error) {
	n, err := s.repomanager.RefreshTokens(s.db).RevokeAllForUser(ctx, accountID, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens: %w", err)
	}
	return n, nil
}

func (s *RefreshStore) withinReuseGrace(rec *models.RefreshToken, now time.Time) bool {
	return rec.RevokedAt != nil && now.Sub(*rec.RevokedAt) < s.reuseGrace
}

func (s *RefreshStore) checkActive(rec *models.RefreshToken, now time.Time) error {
	if rec.Revoked {
		return common.ErrRefreshTokenRevoked
	}
	if !now.Before(rec.ExpiresAt) {
		return common.ErrRefreshTokenExpired
	}
	return nil
}

func (s *RefreshStore) newRecord(now time.Time) (string, *models.RefreshToken, error) {
	raw, err := common.MakeRandHexString(refreshTokenBytes)
	if err != nil {
		return "", nil, fmt.Errorf("generate refresh token: %w", err)
	}
	sealed, err := s.cipher.Seal(raw)
	if err != nil {
		return "", nil, fmt.Errorf("seal refresh token: %w", err)
	}
	return raw, &models.RefreshToken{
		ID:             uuid.NewString(),
		Fingerprint:    s.cipher.Fingerprint(raw),
		EncryptedToken: sealed,
		IssuedAt:       now,
		ExpiresAt:      now.Add(s.validity),
	}, nil
}
