// Package vault stores identity provider tokens on behalf of browser
// sessions. It plays the role of the provider's client side storage.
package vault

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gematik/zero-dash/pkg/idp"
)

type memoryEntry struct {
	data      []byte
	expiresAt time.Time
}

type memoryStore struct {
	mux     *sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore returns a process local store. Entries expire after ttl.
func NewMemoryStore(ttl time.Duration) idp.TokenStore {
	return &memoryStore{
		mux:     &sync.RWMutex{},
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (m *memoryStore) Load(ctx context.Context, sessionID string) (*idp.Tokens, error) {
	m.mux.RLock()
	entry, ok := m.entries[sessionID]
	m.mux.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session '%s': %w", sessionID, idp.ErrTokensNotFound)
	}
	if m.ttl > 0 && m.now().After(entry.expiresAt) {
		m.mux.Lock()
		delete(m.entries, sessionID)
		m.mux.Unlock()
		return nil, fmt.Errorf("session '%s' expired: %w", sessionID, idp.ErrTokensNotFound)
	}
	return decode(entry.data)
}

func (m *memoryStore) Save(ctx context.Context, sessionID string, tokens *idp.Tokens) error {
	data, err := encode(tokens)
	if err != nil {
		return err
	}
	m.mux.Lock()
	defer m.mux.Unlock()
	m.entries[sessionID] = memoryEntry{data: data, expiresAt: m.now().Add(m.ttl)}
	slog.Debug("tokens saved", "session_id", sessionID, "tokens", tokens)
	return nil
}

func (m *memoryStore) Delete(ctx context.Context, sessionID string) error {
	m.mux.Lock()
	defer m.mux.Unlock()
	delete(m.entries, sessionID)
	return nil
}
