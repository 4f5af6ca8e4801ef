// Package services contains server-side business logic: the refresh
// credential store and SessionService, which registers accounts, logs them
// in and rotates their credentials.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/cryptox"
	"github.com/dmitrijs2005/rentkeeper/internal/dbx"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
	"github.com/dmitrijs2005/rentkeeper/internal/server/auth"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	"github.com/dmitrijs2005/rentkeeper/internal/server/repositories/repomanager"
)

const minPasswordLength = 6

// Session is what a successful register, login or refresh hands back.
type Session struct {
	AccessToken          string
	AccessTokenExpiresAt time.Time
	RefreshToken         string
	Account              *models.Account
}

type RegisterInput struct {
	Email     string
	Password  string
	FirstName string
	LastName  string
	Role      string
}

type SessionService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      cryptox.PasswordHasher
	issuer      *auth.Issuer
	refresh     *RefreshStore
	log         logging.Logger
}

func NewSessionService(db *sql.DB, m repomanager.RepositoryManager, hasher cryptox.PasswordHasher,
	issuer *auth.Issuer, refresh *RefreshStore, log logging.Logger) *SessionService {
	return &SessionService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		issuer:      issuer,
		refresh:     refresh,
		log:         log.With("module", "sessions"),
	}
}

// Register validates in, creates the account and its first credential pair
// in one transaction.
func (s *SessionService) Register(ctx context.Context, in RegisterInput) (*Session, error) {
	role, verr := validateRegistration(&in)
	if verr != nil {
		return nil, verr
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("%w: hash password: %v", common.ErrorInternal, err)
	}

	account := &models.Account{
		Email:          in.Email,
		PasswordDigest: digest,
		FirstName:      in.FirstName,
		LastName:       in.LastName,
		Roles:          []models.Role{role},
	}

	var refresh string
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Users(tx).Create(ctx, account); err != nil {
			return err
		}
		var err error
		refresh, err = s.refresh.create(ctx, tx, account.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			verr := common.NewValidationError()
			verr.Add("email", "already registered")
			return nil, verr
		}
		s.log.Error(ctx, "register failed", "error", err)
		return nil, common.ErrorInternal
	}

	s.log.Info(ctx, "account registered", "account_id", account.ID, "role", string(role))
	return s.newSession(account, refresh)
}

// Login checks the password and issues a credential pair. Unknown emails and
// wrong passwords are indistinguishable.
func (s *SessionService) Login(ctx context.Context, email, password string) (*Session, error) {
	verr := common.NewValidationError()
	if strings.TrimSpace(email) == "" {
		verr.Add("email", "required")
	}
	if password == "" {
		verr.Add("password", "required")
	}
	if verr.HasErrors() {
		return nil, verr
	}

	account, err := s.repomanager.Users(s.db).GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		s.log.Error(ctx, "login lookup failed", "error", err)
		return nil, common.ErrorInternal
	}
	if !s.hasher.Verify(password, account.PasswordDigest) {
		return nil, common.ErrorUnauthorized
	}

	refresh, err := s.refresh.Create(ctx, account.ID)
	if err != nil {
		s.log.Error(ctx, "issue refresh token failed", "error", err)
		return nil, common.ErrorInternal
	}
	return s.newSession(account, refresh)
}

// Refresh rotates refreshToken and mints a new access credential. A previous
// access credential, when given, must belong to the same account; its expiry
// is not checked.
func (s *SessionService) Refresh(ctx context.Context, refreshToken, previousAccessToken string) (*Session, error) {
	var prev *auth.Claims
	if previousAccessToken != "" {
		claims, ok := s.issuer.Validate(previousAccessToken, auth.ValidateOptions{CheckExpiry: false})
		if !ok {
			return nil, common.ErrInvalidToken
		}
		prev = claims
	}

	if prev != nil {
		rec, err := s.refresh.Find(ctx, refreshToken)
		if err != nil {
			return nil, s.tokenErr(ctx, err)
		}
		if rec.UserID != prev.Subject {
			s.log.Warn(ctx, "refresh token presented with another account's access token",
				"account_id", rec.UserID)
			return nil, common.ErrInvalidToken
		}
	}

	newRefresh, accountID, err := s.refresh.Rotate(ctx, refreshToken)
	if err != nil {
		return nil, s.tokenErr(ctx, err)
	}

	account, err := s.repomanager.Users(s.db).GetByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		s.log.Error(ctx, "refresh account lookup failed", "error", err)
		return nil, common.ErrorInternal
	}
	return s.newSession(account, newRefresh)
}

// Logout revokes every credential of the account owning refreshToken.
// Unknown tokens are a no-op.
func (s *SessionService) Logout(ctx context.Context, refreshToken string) error {
	rec, err := s.refresh.Find(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, common.ErrRefreshTokenNotFound) {
			return nil
		}
		s.log.Error(ctx, "logout lookup failed", "error", err)
		return common.ErrorInternal
	}

	n, err := s.refresh.RevokeAllForAccount(ctx, rec.UserID)
	if err != nil {
		s.log.Error(ctx, "logout revoke failed", "error", err)
		return common.ErrorInternal
	}
	s.log.Info(ctx, "account logged out", "account_id", rec.UserID, "revoked", n)
	return nil
}

// Me returns the account behind validated claims.
func (s *SessionService) Me(ctx context.Context, claims *auth.Claims) (*models.Account, error) {
	if claims == nil || claims.Subject == "" {
		return nil, common.ErrorUnauthorized
	}
	account, err := s.repomanager.Users(s.db).GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, common.ErrorInternal
	}
	return account, nil
}

func (s *SessionService) newSession(account *models.Account, refresh string) (*Session, error) {
	access, exp, err := s.issuer.Issue(account, account.Roles)
	if err != nil {
		return nil, common.ErrorInternal
	}
	return &Session{
		AccessToken:          access,
		AccessTokenExpiresAt: exp,
		RefreshToken:         refresh,
		Account:              account,
	}, nil
}

// tokenErr passes token errors through and hides everything else.
func (s *SessionService) tokenErr(ctx context.Context, err error) error {
	if common.IsTokenError(err) {
		return err
	}
	s.log.Error(ctx, "refresh failed", "error", err)
	return common.ErrorInternal
}

func validateRegistration(in *RegisterInput) (models.Role, *common.ValidationError) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)

	verr := common.NewValidationError()
	if in.Email == "" {
		verr.Add("email", "required")
	} else if addr, err := mail.ParseAddress(in.Email); err != nil || addr.Address != in.Email {
		verr.Add("email", "invalid format")
	}
	if len(in.Password) < minPasswordLength {
		verr.Add("password", fmt.Sprintf("must be at least %d characters", minPasswordLength))
	}
	if in.FirstName == "" {
		verr.Add("firstName", "required")
	}
	if in.LastName == "" {
		verr.Add("lastName", "required")
	}
	role, err := models.ParseRole(in.Role)
	if err != nil {
		verr.Add("role", "must be one of owner, tenant, technician")
	}

	if verr.HasErrors() {
		return "", verr
	}
	return role, nil
}
