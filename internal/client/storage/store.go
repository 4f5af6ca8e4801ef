// Package storage keeps the client's access and refresh credentials between
// calls. Two implementations share the same keys: MemoryStore and the
// encrypted sqlite-backed SQLiteStore.
package storage

import (
	"context"
	"sync"
)

// Keys under which credentials are stored.
const (
	AuthTokenKey    = "authToken"
	RefreshTokenKey = "refreshToken"
)

// Tokens is the credential pair held by the client. Empty fields mean "not stored".
type Tokens struct {
	Access  string
	Refresh string
}

// TokenStore persists the credential pair. Implementations are safe for
// concurrent use.
type TokenStore interface {
	Load(ctx context.Context) (Tokens, error)
	Save(ctx context.Context, t Tokens) error
	Clear(ctx context.Context) error
}

// MemoryStore is a process-local TokenStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Load(context.Context) (Tokens, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Tokens{Access: m.values[AuthTokenKey], Refresh: m.values[RefreshTokenKey]}, nil
}

func (m *MemoryStore) Save(_ context.Context, t Tokens) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[AuthTokenKey] = t.Access
	m.values[RefreshTokenKey] = t.Refresh
	return nil
}

func (m *MemoryStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, AuthTokenKey)
	delete(m.values, RefreshTokenKey)
	return nil
}
