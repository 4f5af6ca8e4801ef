// Package auth issues and validates signed access credentials (HS256 JWT).
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Claims is the access claim set. The subject is the account id.
type Claims struct {
	jwt.RegisteredClaims
	Email      string   `json:"email"`
	GivenName  string   `json:"given_name"`
	FamilyName string   `json:"family_name"`
	Roles      []string `json:"roles"`
}

type IssuerConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
	Validity time.Duration
}

// ValidateOptions controls Validate. With CheckExpiry unset an otherwise valid
// but expired credential is accepted; the refresh flow uses that to bind a
// stale access credential to its owner.
type ValidateOptions struct {
	CheckExpiry bool
}

type Issuer struct {
	cfg IssuerConfig
	now func() time.Time
}

func NewIssuer(cfg IssuerConfig) (*Issuer, error) {
	if len(cfg.Secret) == 0 {
		return nil, fmt.Errorf("%w: empty signing secret", common.ErrorConfiguration)
	}
	if cfg.Validity <= 0 {
		return nil, fmt.Errorf("%w: access credential validity must be positive", common.ErrorConfiguration)
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// WithClock replaces the time source. Used in tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	i.now = now
	return i
}

// Validity is the configured access credential lifetime.
func (i *Issuer) Validity() time.Duration {
	return i.cfg.Validity
}

// Issue signs a credential for account carrying one roles entry per role.
func (i *Issuer) Issue(account *models.Account, roles []models.Role) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.cfg.Validity)

	names := make([]string, len(roles))
	for n, r := range roles {
		names[n] = string(r)
	}

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.ID,
			Issuer:    i.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Email:      account.Email,
		GivenName:  account.FirstName,
		FamilyName: account.LastName,
		Roles:      names,
	}
	if i.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{i.cfg.Audience}
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.cfg.Secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access credential: %w", err)
	}
	return token, expiresAt, nil
}

// Validate checks algorithm, signature, issuer, audience and, when requested,
// expiry. It returns (nil, false) on any failure.
func (i *Issuer) Validate(token string, opts ValidateOptions) (*Claims, bool) {
	claims, err := i.parse(token, opts)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// ValidateErr is Validate with the reason kept, mapped onto common token errors.
func (i *Issuer) ValidateErr(token string, opts ValidateOptions) (*Claims, error) {
	return i.parse(token, opts)
}

func (i *Issuer) parse(token string, opts ValidateOptions) (*Claims, error) {
	if token == "" {
		return nil, common.ErrInvalidToken
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	}
	if opts.CheckExpiry {
		parserOpts = append(parserOpts, jwt.WithExpirationRequired())
		if i.cfg.Issuer != "" {
			parserOpts = append(parserOpts, jwt.WithIssuer(i.cfg.Issuer))
		}
		if i.cfg.Audience != "" {
			parserOpts = append(parserOpts, jwt.WithAudience(i.cfg.Audience))
		}
	} else {
		parserOpts = append(parserOpts, jwt.WithoutClaimsValidation())
	}

	claims := &Claims{}
	parsed, err := jwt.NewParser(parserOpts...).ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return i.cfg.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %v", common.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, common.ErrInvalidToken
	}

	if !opts.CheckExpiry {
		if i.cfg.Issuer != "" && claims.Issuer != i.cfg.Issuer {
			return nil, fmt.Errorf("%w: issuer mismatch", common.ErrInvalidToken)
		}
		if i.cfg.Audience != "" && !slices.Contains([]string(claims.Audience), i.cfg.Audience) {
			return nil, fmt.Errorf("%w: audience mismatch", common.ErrInvalidToken)
		}
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", common.ErrInvalidToken)
	}

	return claims, nil
}
