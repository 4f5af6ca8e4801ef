package renewal

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/rentkeeper/internal/client/session"
	"github.com/dmitrijs2005/rentkeeper/internal/client/storage"
	"github.com/dmitrijs2005/rentkeeper/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

var errBoom = errors.New("boom")

type fakeRefresher struct {
	calls     atomic.Int32
	returned  atomic.Int32
	release   chan struct{}
	ignoreCtx bool
	tokens    storage.Tokens
	err       error

	mu       sync.Mutex
	lastCtx  context.Context
	lastSent [2]string
}

func (f *fakeRefresher) Refresh(ctx context.Context, refreshToken, accessToken string) (storage.Tokens, error) {
	f.mu.Lock()
	f.lastCtx = ctx
	f.lastSent = [2]string{refreshToken, accessToken}
	f.mu.Unlock()
	f.calls.Add(1)
	defer f.returned.Add(1)

	if f.release != nil {
		if f.ignoreCtx {
			<-f.release
		} else {
			select {
			case <-f.release:
			case <-ctx.Done():
				return storage.Tokens{}, ctx.Err()
			}
		}
	}
	return f.tokens, f.err
}

type fixture struct {
	c     *Coordinator
	r     *fakeRefresher
	store *storage.MemoryStore
	state *session.State
}

func newFixture(t *testing.T, r *fakeRefresher, timeout time.Duration) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), storage.Tokens{Access: "stale", Refresh: "r0"}))
	state := session.NewState(context.Background())
	c := NewCoordinator(r, store, state, timeout, logging.Nop{})
	t.Cleanup(c.Close)
	return &fixture{c: c, r: r, store: store, state: state}
}

func (f *fixture) queued() int {
	f.c.mu.Lock()
	defer f.c.mu.Unlock()
	return len(f.c.queue)
}

func (f *fixture) waitQueued(t *testing.T, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return f.queued() == n }, time.Second, time.Millisecond)
}

func TestRenew_ConcurrentCallersShareOneRefresh(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{}), tokens: storage.Tokens{Access: "fresh", Refresh: "r1"}}
	f := newFixture(t, r, time.Second)

	const callers = 20
	got := make([]string, callers)

	var g errgroup.Group
	for i := 0; i < callers; i++ {
		g.Go(func() error {
			tok, err := f.c.Renew(context.Background(), "stale")
			got[i] = tok
			return err
		})
	}

	f.waitQueued(t, callers)
	close(r.release)
	require.NoError(t, g.Wait())

	assert.EqualValues(t, 1, r.calls.Load())
	for _, tok := range got {
		assert.Equal(t, "fresh", tok)
	}
	assert.Equal(t, [2]string{"r0", "stale"}, r.lastSent)

	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Tokens{Access: "fresh", Refresh: "r1"}, stored)
	assert.False(t, f.c.Renewing())
	assert.True(t, f.state.Active())
}

func TestSubmit_ResolvesInEnqueueOrder(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{}), tokens: storage.Tokens{Access: "fresh", Refresh: "r1"}}
	f := newFixture(t, r, time.Second)

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		f.c.Submit(context.Background(), "stale", func(tok string, err error) {
			defer wg.Done()
			assert.NoError(t, err)
			assert.Equal(t, "fresh", tok)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	close(r.release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestSubmit_FailureRejectsAllInOrderAndLogsOut(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{}), err: errBoom}
	f := newFixture(t, r, time.Second)

	var loggedOut atomic.Value
	f.state.OnLogout(func(reason error) { loggedOut.Store(reason) })

	var (
		mu    sync.Mutex
		order []int
		errs  []error
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		f.c.Submit(context.Background(), "stale", func(tok string, err error) {
			defer wg.Done()
			assert.Empty(t, tok)
			mu.Lock()
			order = append(order, i)
			errs = append(errs, err)
			mu.Unlock()
		})
	}

	close(r.release)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3}, order)
	for _, err := range errs {
		assert.ErrorIs(t, err, ErrRenewalFailed)
		assert.ErrorIs(t, err, errBoom)
	}

	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Tokens{}, stored, "credentials are cleared")

	require.Eventually(t, func() bool { return loggedOut.Load() != nil }, time.Second, time.Millisecond)
	assert.False(t, f.state.Active())
	reason, _ := loggedOut.Load().(error)
	assert.ErrorIs(t, reason, ErrRenewalFailed)

	_, err = f.c.Renew(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrSessionClosed, "no retry after a failed renewal")
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestRenew_AlreadyRenewedReturnsStoredToken(t *testing.T) {
	r := &fakeRefresher{}
	f := newFixture(t, r, time.Second)
	require.NoError(t, f.store.Save(context.Background(), storage.Tokens{Access: "newer", Refresh: "r9"}))

	tok, err := f.c.Renew(context.Background(), "stale")

	require.NoError(t, err)
	assert.Equal(t, "newer", tok)
	assert.Zero(t, r.calls.Load())
}

func TestRenew_NoRefreshTokenLogsOut(t *testing.T) {
	r := &fakeRefresher{}
	f := newFixture(t, r, time.Second)
	require.NoError(t, f.store.Clear(context.Background()))

	_, err := f.c.Renew(context.Background(), "stale")

	assert.ErrorIs(t, err, ErrNoRefreshToken)
	assert.ErrorIs(t, err, ErrRenewalFailed)
	assert.False(t, f.state.Active())
	assert.Zero(t, r.calls.Load())
}

func TestRenew_RefreshCallIsBounded(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{})}
	f := newFixture(t, r, 20*time.Millisecond)

	_, err := f.c.Renew(context.Background(), "stale")

	assert.ErrorIs(t, err, ErrRenewalFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRenew_EmptyResponseIsFailure(t *testing.T) {
	r := &fakeRefresher{tokens: storage.Tokens{Access: "only-access"}}
	f := newFixture(t, r, time.Second)

	_, err := f.c.Renew(context.Background(), "stale")

	assert.ErrorIs(t, err, ErrRenewalFailed)
	stored, _ := f.store.Load(context.Background())
	assert.Equal(t, storage.Tokens{}, stored)
}

func TestLogout_RejectsQueuedAndCancelsRefresh(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{})}
	f := newFixture(t, r, time.Minute)

	var g errgroup.Group
	errs := make([]error, 3)
	for i := range errs {
		g.Go(func() error {
			_, errs[i] = f.c.Renew(context.Background(), "stale")
			return nil
		})
	}
	f.waitQueued(t, len(errs))
	require.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond)

	f.state.Logout()
	require.NoError(t, g.Wait())

	for _, err := range errs {
		assert.ErrorIs(t, err, ErrSessionClosed)
	}

	r.mu.Lock()
	rctx := r.lastCtx
	r.mu.Unlock()
	require.Eventually(t, func() bool { return rctx.Err() != nil }, time.Second, time.Millisecond)
	assert.False(t, f.c.Renewing())
}

func TestLogout_LateSuccessIsDiscarded(t *testing.T) {
	r := &fakeRefresher{
		release:   make(chan struct{}),
		ignoreCtx: true,
		tokens:    storage.Tokens{Access: "late", Refresh: "late-r"},
	}
	f := newFixture(t, r, time.Minute)

	done := make(chan error, 1)
	f.c.Submit(context.Background(), "stale", func(_ string, err error) { done <- err })
	f.waitQueued(t, 1)

	f.state.Logout()
	assert.ErrorIs(t, <-done, ErrSessionClosed)
	require.NoError(t, f.store.Clear(context.Background()))

	close(r.release)
	require.Eventually(t, func() bool { return r.returned.Load() == 1 }, time.Second, time.Millisecond)
	// give the refresh goroutine a chance to finish
	time.Sleep(20 * time.Millisecond)

	stored, err := f.store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, storage.Tokens{}, stored)
}

func TestClose_RejectsWaitersAndLaterSubmits(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{})}
	f := newFixture(t, r, time.Minute)

	done := make(chan error, 1)
	f.c.Submit(context.Background(), "stale", func(_ string, err error) { done <- err })
	f.waitQueued(t, 1)

	f.c.Close()

	assert.ErrorIs(t, <-done, ErrSessionClosed)
	_, err := f.c.Renew(context.Background(), "stale")
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.True(t, f.state.Active(), "closing the coordinator does not log out")
}

func TestRenew_CallerGivingUpDoesNotCancelOthers(t *testing.T) {
	r := &fakeRefresher{release: make(chan struct{}), tokens: storage.Tokens{Access: "fresh", Refresh: "r1"}}
	f := newFixture(t, r, time.Second)

	impatient, cancel := context.WithCancel(context.Background())
	impatientErr := make(chan error, 1)
	go func() {
		_, err := f.c.Renew(impatient, "stale")
		impatientErr <- err
	}()
	f.waitQueued(t, 1)

	var g errgroup.Group
	var patientTok string
	g.Go(func() error {
		var err error
		patientTok, err = f.c.Renew(context.Background(), "stale")
		return err
	})
	f.waitQueued(t, 2)

	cancel()
	assert.ErrorIs(t, <-impatientErr, context.Canceled)

	close(r.release)
	require.NoError(t, g.Wait())

	assert.Equal(t, "fresh", patientTok)
	assert.EqualValues(t, 1, r.calls.Load())
}

func TestRenew_SequentialRenewalsEachRefreshOnce(t *testing.T) {
	r := &fakeRefresher{tokens: storage.Tokens{Access: "a1", Refresh: "r1"}}
	f := newFixture(t, r, time.Second)

	tok, err := f.c.Renew(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, "a1", tok)

	r.tokens = storage.Tokens{Access: "a2", Refresh: "r2"}
	tok, err = f.c.Renew(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a2", tok)

	assert.EqualValues(t, 2, r.calls.Load())
	assert.Equal(t, [2]string{"r1", "a1"}, r.lastSent)
}
