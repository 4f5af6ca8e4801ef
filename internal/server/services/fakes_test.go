package services

import (
	"bytes"
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/cryptox"
	"github.com/dmitrijs2005/rentkeeper/internal/dbx"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/rentkeeper/internal/server/repositories/refreshtokens"
	usersrepo "github.com/dmitrijs2005/rentkeeper/internal/server/repositories/users"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db, mock
}

func newTestCipher(t *testing.T) *cryptox.TokenCipher {
	t.Helper()
	c, err := cryptox.NewTokenCipher(bytes.Repeat([]byte{7}, cryptox.KeySize), bytes.Repeat([]byte{9}, cryptox.IVSize))
	if err != nil {
		t.Fatalf("NewTokenCipher: %v", err)
	}
	return c
}

// fakeUsersRepo is an in-memory users.Repository keyed by email.
type fakeUsersRepo struct {
	mu        sync.Mutex
	byEmail   map[string]*models.Account
	createErr error
	getErr    error
}

func newFakeUsersRepo() *fakeUsersRepo {
	return &fakeUsersRepo{byEmail: map[string]*models.Account{}}
}

func (f *fakeUsersRepo) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.byEmail[a.Email]; ok {
		return nil, common.ErrorAlreadyExists
	}
	if a.ID == "" {
		a.ID = "acc-" + a.Email
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	cp := *a
	f.byEmail[a.Email] = &cp
	return a, nil
}

func (f *fakeUsersRepo) GetByEmail(_ context.Context, email string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	a, ok := f.byEmail[email]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (f *fakeUsersRepo) GetByID(_ context.Context, id string) (*models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	for _, a := range f.byEmail {
		if a.ID == id {
			cp := *a
			return &cp, nil
		}
	}
	return nil, common.ErrorNotFound
}

// fakeRefreshRepo mirrors the backend contract, including the conditional
// Rotate, behind a mutex.
type fakeRefreshRepo struct {
	mu        sync.Mutex
	byFP      map[string]*models.RefreshToken
	createErr error
	rotateErr error
	rotations int
}

func newFakeRefreshRepo() *fakeRefreshRepo {
	return &fakeRefreshRepo{byFP: map[string]*models.RefreshToken{}}
}

func (f *fakeRefreshRepo) Create(_ context.Context, t *models.RefreshToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	cp := *t
	f.byFP[t.Fingerprint] = &cp
	return nil
}

func (f *fakeRefreshRepo) FindByFingerprint(_ context.Context, fp string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.byFP[fp]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeRefreshRepo) Rotate(_ context.Context, oldFP string, next *models.RefreshToken, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rotateErr != nil {
		return f.rotateErr
	}
	old, ok := f.byFP[oldFP]
	if !ok || old.Revoked || !now.Before(old.ExpiresAt) {
		return common.ErrorNotFound
	}
	old.Revoked = true
	old.RevokedAt = &now
	old.ReplacedBy = next.ID
	next.UserID = old.UserID
	cp := *next
	f.byFP[next.Fingerprint] = &cp
	f.rotations++
	return nil
}

func (f *fakeRefreshRepo) Revoke(_ context.Context, fp string, now time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.byFP[fp]; ok && !t.Revoked {
		t.Revoked = true
		t.RevokedAt = &now
	}
	return nil
}

func (f *fakeRefreshRepo) RevokeAllForUser(_ context.Context, userID string, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, t := range f.byFP {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
			n++
		}
	}
	return n, nil
}

func (f *fakeRefreshRepo) active(userID string, now time.Time) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, t := range f.byFP {
		if t.UserID == userID && t.Active(now) {
			n++
		}
	}
	return n
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
}

func newFakeRepoManager() *fakeRepoManager {
	return &fakeRepoManager{u: newFakeUsersRepo(), r: newFakeRefreshRepo()}
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error        { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokensrepo.Repository { return m.r }

