package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
	"github.com/dmitrijs2005/rentkeeper/internal/server/auth"
	"github.com/dmitrijs2005/rentkeeper/internal/server/models"
	"github.com/dmitrijs2005/rentkeeper/internal/server/services"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSessions keeps one account and hands out numbered refresh tokens,
// minting real access credentials.
type fakeSessions struct {
	mu       sync.Mutex
	issuer   *auth.Issuer
	account  *models.Account
	password string
	refresh  map[string]bool
	seq      int

	refreshCalls int
	logoutCalls  []string
	err          error
}

func newFakeSessions(t *testing.T, issuer *auth.Issuer) *fakeSessions {
	t.Helper()
	return &fakeSessions{
		issuer: issuer,
		account: &models.Account{
			ID: "acc-1", Email: "a@x.com", FirstName: "Ann", LastName: "Lee",
			Roles: []models.Role{models.RoleOwner},
		},
		password: "secret",
		refresh:  map[string]bool{},
	}
}

func (f *fakeSessions) session() (*services.Session, error) {
	f.seq++
	rt := "rt-" + string(rune('0'+f.seq))
	f.refresh[rt] = true
	access, exp, err := f.issuer.Issue(f.account, f.account.Roles)
	if err != nil {
		return nil, err
	}
	return &services.Session{AccessToken: access, AccessTokenExpiresAt: exp, RefreshToken: rt, Account: f.account}, nil
}

func (f *fakeSessions) Register(_ context.Context, in services.RegisterInput) (*services.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if in.Email == "" {
		verr := common.NewValidationError()
		verr.Add("email", "required")
		return nil, verr
	}
	return f.session()
}

func (f *fakeSessions) Login(_ context.Context, email, password string) (*services.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if email != f.account.Email || password != f.password {
		return nil, common.ErrorUnauthorized
	}
	return f.session()
}

func (f *fakeSessions) Refresh(_ context.Context, rt, _ string) (*services.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshCalls++
	if !f.refresh[rt] {
		return nil, common.ErrRefreshTokenRevoked
	}
	delete(f.refresh, rt)
	return f.session()
}

func (f *fakeSessions) Logout(_ context.Context, rt string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logoutCalls = append(f.logoutCalls, rt)
	f.refresh = map[string]bool{}
	return nil
}

func (f *fakeSessions) Me(_ context.Context, c *auth.Claims) (*models.Account, error) {
	if c.Subject != f.account.ID {
		return nil, common.ErrorUnauthorized
	}
	return f.account, nil
}

func newTestServer(t *testing.T) (*httptest.Server, *fakeSessions, *auth.Issuer) {
	t.Helper()
	issuer, err := auth.NewIssuer(auth.IssuerConfig{
		Secret: []byte("k"), Issuer: "rentkeeper", Audience: "clients", Validity: time.Minute,
	})
	require.NoError(t, err)
	fs := newFakeSessions(t, issuer)
	srv := httptest.NewServer(NewServer("", logging.Nop{}, fs, issuer).Handler())
	t.Cleanup(srv.Close)
	return srv, fs, issuer
}

func postJSON(t *testing.T, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]any{}
	if resp.StatusCode != http.StatusNoContent {
		_ = json.NewDecoder(resp.Body).Decode(&out)
	}
	return resp, out
}

func TestLogin_ReturnsClaimsBearingToken(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, out := postJSON(t, srv.URL+"/auth/login", map[string]string{"email": "a@x.com", "password": "secret"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, out["refreshToken"])

	access, ok := out["accessToken"].(string)
	require.True(t, ok)

	claims := jwt.MapClaims{}
	_, _, err := jwt.NewParser().ParseUnverified(access, claims)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", claims["sub"])
	assert.Equal(t, "a@x.com", claims["email"])
	assert.Equal(t, "Ann", claims["given_name"])
	assert.Equal(t, "Lee", claims["family_name"])
	assert.Equal(t, []any{"owner"}, claims["roles"])

	account, ok := out["account"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a@x.com", account["email"])
}

func TestLogin_WrongPasswordIsUniform401(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, out := postJSON(t, srv.URL+"/auth/login", map[string]string{"email": "a@x.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "unauthorized"}, out)
}

func TestRegister_StatusMapping(t *testing.T) {
	srv, fs, _ := newTestServer(t)

	resp, out := postJSON(t, srv.URL+"/auth/register", map[string]string{
		"email": "a@x.com", "password": "secret", "firstName": "Ann", "lastName": "Lee", "role": "owner",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, out["accessToken"])
	assert.NotNil(t, out["account"])

	resp, out = postJSON(t, srv.URL+"/auth/register", map[string]string{"password": "secret"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "validation error", out["error"])
	assert.Equal(t, map[string]any{"email": "required"}, out["fields"])

	fs.mu.Lock()
	fs.err = errSecret("dsn=postgres://admin:hunter2@db")
	fs.mu.Unlock()
	resp, out = postJSON(t, srv.URL+"/auth/register", map[string]string{"email": "x@x.com"})
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "internal error"}, out)
}

type errSecret string

func (e errSecret) Error() string { return string(e) }

func TestMalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t)

	for _, path := range []string{"/auth/register", "/auth/login", "/auth/refresh-token", "/auth/logout"} {
		resp, err := http.Post(srv.URL+path, "application/json", strings.NewReader("{not json"))
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, path)
	}
}

func TestRefreshToken_RotatesAndRejectsOld(t *testing.T) {
	srv, _, _ := newTestServer(t)

	_, login := postJSON(t, srv.URL+"/auth/login", map[string]string{"email": "a@x.com", "password": "secret"})
	rt := login["refreshToken"]

	resp, out := postJSON(t, srv.URL+"/auth/refresh-token", map[string]any{"refreshToken": rt})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEqual(t, rt, out["refreshToken"])
	assert.NotEmpty(t, out["accessToken"])
	assert.Nil(t, out["account"])

	resp, out = postJSON(t, srv.URL+"/auth/refresh-token", map[string]any{"refreshToken": rt})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]any{"error": "unauthorized"}, out)
}

func TestLogout_NoContent(t *testing.T) {
	srv, fs, _ := newTestServer(t)

	resp, _ := postJSON(t, srv.URL+"/auth/logout", map[string]string{"refreshToken": "whatever"})
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	assert.Equal(t, []string{"whatever"}, fs.logoutCalls)
}

func TestMe_RequiresBearer(t *testing.T) {
	srv, _, issuer := newTestServer(t)

	get := func(header string) *http.Response {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/auth/me", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, get("").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("Bearer garbage").StatusCode)
	assert.Equal(t, http.StatusUnauthorized, get("Basic abc").StatusCode)

	stale, err := auth.NewIssuer(auth.IssuerConfig{Secret: []byte("k"), Issuer: "rentkeeper", Audience: "clients", Validity: time.Minute})
	require.NoError(t, err)
	stale.WithClock(func() time.Time { return time.Now().Add(-time.Hour) })
	expired, _, err := stale.Issue(&models.Account{ID: "acc-1"}, nil)
	require.NoError(t, err)
	resp := get("Bearer " + expired)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "Bearer", resp.Header.Get("WWW-Authenticate"))

	token, _, err := issuer.Issue(&models.Account{ID: "acc-1", Email: "a@x.com"}, nil)
	require.NoError(t, err)
	resp = get("bearer " + token)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var account map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&account))
	assert.Equal(t, "a@x.com", account["email"])
	assert.Equal(t, []any{"owner"}, account["roles"])
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRun_StopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", logging.Nop{}, &fakeSessions{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
