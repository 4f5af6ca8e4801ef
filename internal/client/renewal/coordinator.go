// Package renewal serializes access credential renewal on the client.
//
// When many calls discover at once that their access credential has been
// rejected, the Coordinator makes exactly one refresh call and hands its
// result to every waiter in the order they arrived. A failed refresh ends the
// session: stored credentials are cleared, every waiter is rejected and the
// session state is forced to logged out. Nothing is retried.
package renewal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/client/session"
	"github.com/dmitrijs2005/rentkeeper/internal/client/storage"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
)

// DefaultTimeout bounds a single refresh call.
const DefaultTimeout = 10 * time.Second

var (
	// ErrRenewalFailed wraps the cause of a failed refresh.
	ErrRenewalFailed = errors.New("credential renewal failed")
	// ErrSessionClosed rejects waiters when the session ends or the
	// coordinator is closed.
	ErrSessionClosed = errors.New("session closed")
	// ErrNoRefreshToken means there is nothing to renew with.
	ErrNoRefreshToken = errors.New("no refresh token stored")
)

// Refresher exchanges a refresh credential for a new pair. accessToken is the
// stale access credential, sent so the server can bind it to the owner.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken, accessToken string) (storage.Tokens, error)
}

// Continuation receives the outcome of a renewal: a fresh access credential
// or an error. It runs on the coordinator's goroutine and must not block.
type Continuation func(accessToken string, err error)

// Coordinator is safe for concurrent use.
type Coordinator struct {
	refresher Refresher
	store     storage.TokenStore
	state     *session.State
	timeout   time.Duration
	log       logging.Logger

	mu       sync.Mutex
	renewing bool
	gen      uint64
	cancel   context.CancelFunc
	queue    []Continuation
	closed   bool
}

// NewCoordinator returns an idle Coordinator. It subscribes to state so that
// any logout rejects the queued waiters with ErrSessionClosed. A timeout <= 0
// selects DefaultTimeout.
func NewCoordinator(r Refresher, store storage.TokenStore, state *session.State, timeout time.Duration, log logging.Logger) *Coordinator {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Coordinator{
		refresher: r,
		store:     store,
		state:     state,
		timeout:   timeout,
		log:       log.With("module", "renewal"),
	}
	state.OnLogout(func(error) { c.abort(false) })
	return c
}

// Submit asks for an access credential newer than staleAccessToken and
// eventually calls cont exactly once.
//
// If the store already holds a different access credential, cont is resolved
// at once with it. If a renewal is in flight, cont joins the queue. Otherwise
// the caller starts the single renewal. ctx only covers reading the store;
// the refresh call itself runs under the session's lifecycle context.
func (c *Coordinator) Submit(ctx context.Context, staleAccessToken string, cont Continuation) {
	c.mu.Lock()

	if c.closed || c.state.Context().Err() != nil {
		c.mu.Unlock()
		cont("", ErrSessionClosed)
		return
	}

	if c.renewing {
		c.queue = append(c.queue, cont)
		c.mu.Unlock()
		return
	}

	current, err := c.store.Load(ctx)
	if err != nil {
		c.mu.Unlock()
		cont("", fmt.Errorf("%w: %w", ErrRenewalFailed, err))
		return
	}

	if current.Access != "" && current.Access != staleAccessToken {
		c.mu.Unlock()
		cont(current.Access, nil)
		return
	}

	if current.Refresh == "" {
		c.mu.Unlock()
		err := fmt.Errorf("%w: %w", ErrRenewalFailed, ErrNoRefreshToken)
		c.state.ForceLogout(err)
		cont("", err)
		return
	}

	c.renewing = true
	c.gen++
	gen := c.gen
	rctx, cancel := context.WithTimeout(c.state.Context(), c.timeout)
	c.cancel = cancel
	c.queue = append(c.queue, cont)
	c.mu.Unlock()

	go c.run(rctx, gen, current)
}

// Renew is the blocking form of Submit. If ctx ends first Renew returns
// ctx.Err(); the shared renewal carries on for the other waiters.
func (c *Coordinator) Renew(ctx context.Context, staleAccessToken string) (string, error) {
	type result struct {
		token string
		err   error
	}
	ch := make(chan result, 1)

	c.Submit(ctx, staleAccessToken, func(token string, err error) {
		ch <- result{token: token, err: err}
	})

	select {
	case r := <-ch:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Close cancels any in-flight renewal and rejects every waiter with
// ErrSessionClosed. Later Submits are rejected the same way.
func (c *Coordinator) Close() {
	c.abort(true)
}

// Renewing reports whether a refresh call is in flight.
func (c *Coordinator) Renewing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.renewing
}

func (c *Coordinator) abort(closing bool) {
	c.mu.Lock()
	if closing {
		c.closed = true
	}
	if !c.renewing {
		c.mu.Unlock()
		return
	}
	waiters := c.reset()
	c.mu.Unlock()

	c.log.Info(context.Background(), "renewal aborted", "waiters", len(waiters))

	for _, w := range waiters {
		w("", ErrSessionClosed)
	}
}

func (c *Coordinator) run(ctx context.Context, gen uint64, current storage.Tokens) {
	tokens, err := c.refresher.Refresh(ctx, current.Refresh, current.Access)
	if err == nil && (tokens.Access == "" || tokens.Refresh == "") {
		err = errors.New("empty credentials in refresh response")
	}

	c.mu.Lock()
	if !c.renewing || c.gen != gen {
		// aborted while the call was in flight
		c.mu.Unlock()
		return
	}

	// persist before the queue is released
	if err == nil {
		if serr := c.store.Save(context.Background(), tokens); serr != nil {
			err = fmt.Errorf("save credentials: %w", serr)
		}
	}
	if err != nil {
		if cerr := c.store.Clear(context.Background()); cerr != nil {
			c.log.Error(context.Background(), "failed to clear credentials", "error", cerr)
		}
	}

	waiters := c.reset()
	c.mu.Unlock()

	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRenewalFailed, err)
		c.log.Warn(context.Background(), "renewal failed, logging out", "error", err, "waiters", len(waiters))
		for _, w := range waiters {
			w("", err)
		}
		c.state.ForceLogout(err)
		return
	}

	c.log.Debug(context.Background(), "renewal succeeded", "waiters", len(waiters))
	for _, w := range waiters {
		w(tokens.Access, nil)
	}
}

// reset returns the queued waiters and puts the coordinator back to idle.
// c.mu must be held.
func (c *Coordinator) reset() []Continuation {
	waiters := c.queue
	c.queue = nil
	c.renewing = false
	c.gen++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	return waiters
}
