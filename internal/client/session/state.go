// Package session holds the client's logged-in/logged-out state and the
// lifecycle context tied to it. Components that need to end the session
// receive the *State explicitly.
package session

import (
	"context"
	"errors"
	"sync"
)

// ErrLoggedOut is the reason passed to listeners on an explicit Logout.
var ErrLoggedOut = errors.New("logged out")

// State is safe for concurrent use.
type State struct {
	mu        sync.Mutex
	parent    context.Context
	ctx       context.Context
	cancel    context.CancelFunc
	active    bool
	listeners []func(reason error)
}

// NewState returns an active session whose lifecycle context derives from parent.
func NewState(parent context.Context) *State {
	s := &State{parent: parent}
	s.ctx, s.cancel = context.WithCancel(parent)
	s.active = true
	return s
}

// Context is cancelled when the session ends. After Begin a fresh context is
// returned.
func (s *State) Context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// Active reports whether the session is logged in and its parent context is alive.
func (s *State) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active && s.ctx.Err() == nil
}

// Begin starts a new session after a successful login. It is a no-op on an
// active session.
func (s *State) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active {
		return
	}
	s.ctx, s.cancel = context.WithCancel(s.parent)
	s.active = true
}

// OnLogout registers fn to run every time the session ends. Listeners run
// in registration order on the goroutine that ended the session.
func (s *State) OnLogout(fn func(reason error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ForceLogout ends the session with reason. Only the first call after Begin
// notifies listeners.
func (s *State) ForceLogout(reason error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.active = false
	s.cancel()
	listeners := append([]func(error){}, s.listeners...)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(reason)
	}
}

// Logout ends the session at the user's request.
func (s *State) Logout() {
	s.ForceLogout(ErrLoggedOut)
}
