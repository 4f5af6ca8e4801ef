package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/client/renewal"
	"github.com/dmitrijs2005/rentkeeper/internal/client/session"
	"github.com/dmitrijs2005/rentkeeper/internal/client/storage"
	"github.com/dmitrijs2005/rentkeeper/internal/common"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
)

const defaultRequestTimeout = 30 * time.Second

type HTTPClient struct {
	baseURL        string
	http           *http.Client
	store          storage.TokenStore
	state          *session.State
	renewal        *renewal.Coordinator
	renewalTimeout time.Duration
	log            logging.Logger
}

type Option func(*HTTPClient)

// WithHTTPClient replaces the default client (30s timeout).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) { c.http = hc }
}

// WithRenewalTimeout bounds each refresh call made by the coordinator.
func WithRenewalTimeout(d time.Duration) Option {
	return func(c *HTTPClient) { c.renewalTimeout = d }
}

func WithLogger(l logging.Logger) Option {
	return func(c *HTTPClient) { c.log = l }
}

// NewHTTPClient returns a client for the API at baseURL (e.g. "http://localhost:8080").
func NewHTTPClient(baseURL string, store storage.TokenStore, state *session.State, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           &http.Client{Timeout: defaultRequestTimeout},
		store:          store,
		state:          state,
		renewalTimeout: renewal.DefaultTimeout,
		log:            logging.Nop{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("module", "api_client")
	c.renewal = renewal.NewCoordinator(c, store, state, c.renewalTimeout, c.log)
	return c
}

// Close rejects anything still waiting on a renewal.
func (c *HTTPClient) Close() {
	c.renewal.Close()
}

// HasSession reports whether credentials are stored and the session is active.
func (c *HTTPClient) HasSession(ctx context.Context) bool {
	t, err := c.store.Load(ctx)
	if err != nil {
		return false
	}
	return t.Refresh != "" && c.state.Active()
}

func (c *HTTPClient) Register(ctx context.Context, in RegisterRequest) (*Account, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/register", "", in, &resp); err != nil {
		return nil, err
	}
	return c.startSession(ctx, &resp)
}

func (c *HTTPClient) Login(ctx context.Context, email, password string) (*Account, error) {
	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, "/auth/login", "", loginRequest{Email: email, Password: password}, &resp); err != nil {
		return nil, err
	}
	return c.startSession(ctx, &resp)
}

// Me returns the authenticated account.
func (c *HTTPClient) Me(ctx context.Context) (*Account, error) {
	var a Account
	if err := c.authorized(ctx, http.MethodGet, "/auth/me", nil, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// Logout ends the session locally and revokes the refresh credential on the
// server. Local credentials are cleared even when the server call fails.
func (c *HTTPClient) Logout(ctx context.Context) error {
	c.state.Logout()

	t, err := c.store.Load(ctx)
	if err == nil && t.Refresh != "" {
		err = c.do(ctx, http.MethodPost, "/auth/logout", "", logoutRequest{RefreshToken: t.Refresh}, nil)
	}

	return errors.Join(err, c.store.Clear(ctx))
}

// Refresh exchanges refreshToken for a new pair. It implements
// renewal.Refresher and does not touch the store.
func (c *HTTPClient) Refresh(ctx context.Context, refreshToken, accessToken string) (storage.Tokens, error) {
	var resp sessionResponse
	req := refreshRequest{RefreshToken: refreshToken, AccessToken: accessToken}
	if err := c.do(ctx, http.MethodPost, "/auth/refresh-token", "", req, &resp); err != nil {
		return storage.Tokens{}, err
	}
	return storage.Tokens{Access: resp.AccessToken, Refresh: resp.RefreshToken}, nil
}

func (c *HTTPClient) startSession(ctx context.Context, resp *sessionResponse) (*Account, error) {
	c.state.Begin()
	if err := c.store.Save(ctx, storage.Tokens{Access: resp.AccessToken, Refresh: resp.RefreshToken}); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}
	return resp.Account, nil
}

// authorized sends the stored access credential and, on 401, waits for a
// renewal and retries exactly once.
func (c *HTTPClient) authorized(ctx context.Context, method, path string, in, out any) error {
	t, err := c.store.Load(ctx)
	if err != nil {
		return err
	}
	if t.Access == "" && t.Refresh == "" {
		return ErrNotLoggedIn
	}

	err = c.do(ctx, method, path, t.Access, in, out)
	if !errors.Is(err, ErrUnauthorized) {
		return err
	}

	c.log.Debug(ctx, "access token rejected, renewing", "path", path)

	fresh, err := c.renewal.Renew(ctx, t.Access)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	return c.do(ctx, method, path, fresh, in, out)
}

func (c *HTTPClient) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set(common.AuthorizationHeaderName, common.BearerPrefix+bearer)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if out == nil || resp.StatusCode == http.StatusNoContent {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return ErrUnauthorized
	}

	var e errorResponse
	_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&e)

	if resp.StatusCode == http.StatusBadRequest {
		if len(e.Fields) > 0 {
			ve := common.NewValidationError()
			for field, msg := range e.Fields {
				ve.Add(field, msg)
			}
			return ve
		}
		return fmt.Errorf("%w: %s", common.ErrorValidation, e.Error)
	}

	return &StatusError{Code: resp.StatusCode, Message: e.Error}
}
