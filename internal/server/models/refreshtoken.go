package models

import "time"

// RefreshToken is the persisted form of a refresh credential. The raw token
// never leaves the issuing response: Fingerprint is its keyed hash and
// EncryptedToken its sealed ciphertext.
type RefreshToken struct {
	ID             string
	UserID         string
	Fingerprint    string
	EncryptedToken string
	IssuedAt       time.Time
	ExpiresAt      time.Time
	Revoked        bool
	RevokedAt      *time.Time
	ReplacedBy     string
}

// Rotated reports whether the token was consumed by a rotation.
func (t *RefreshToken) Rotated() bool {
	return t.ReplacedBy != ""
}

// Active reports whether the token can still be exchanged at now.
func (t *RefreshToken) Active(now time.Time) bool {
	return !t.Revoked && now.Before(t.ExpiresAt)
}
