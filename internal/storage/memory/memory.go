// Package memory provides an in-process storage.Store. Records are copied on
// the way in and out so callers never share state with the store.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/playclock/internal/storage"
)

// Store implements storage.Store in memory.
type Store struct {
	accounts *accountStore
	sessions *sessionStore
	locker   *locker
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		accounts: &accountStore{
			byID:     make(map[string]storage.Account),
			byHandle: make(map[string]string),
		},
		sessions: &sessionStore{
			byID: make(map[string]storage.Session),
		},
		locker: newLocker(),
	}
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

// Accounts returns the AccountStore implementation
func (s *Store) Accounts() storage.AccountStore {
	return s.accounts
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessions
}

// Locker returns a process-local Locker. Only callers sharing this Store
// are serialized.
func (s *Store) Locker() storage.Locker {
	return s.locker
}

type accountStore struct {
	mu       sync.RWMutex
	byID     map[string]storage.Account
	byHandle map[string]string // normalized handle -> account ID
}

func (s *accountStore) FindByID(_ context.Context, id string) (*storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.byID[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAccount(account), nil
}

func (s *accountStore) FindByHandle(_ context.Context, handle string) (*storage.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byHandle[storage.NormalizeHandle(handle)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneAccount(s.byID[id]), nil
}

func (s *accountStore) ExistsByHandle(_ context.Context, handle string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.byHandle[storage.NormalizeHandle(handle)]
	return ok, nil
}

func (s *accountStore) Save(_ context.Context, account storage.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := storage.NormalizeHandle(account.Handle)
	if owner, ok := s.byHandle[handle]; ok && owner != account.ID {
		return storage.ErrConflict
	}

	if previous, ok := s.byID[account.ID]; ok {
		if old := storage.NormalizeHandle(previous.Handle); old != handle {
			delete(s.byHandle, old)
		}
	}

	s.byID[account.ID] = *cloneAccount(account)
	s.byHandle[handle] = account.ID
	return nil
}

type sessionStore struct {
	mu   sync.RWMutex
	byID map[string]storage.Session
}

func (s *sessionStore) FindOpenByID(_ context.Context, id string) (*storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.byID[id]
	if !ok || !session.IsOpen() {
		return nil, storage.ErrNotFound
	}
	return cloneSession(session), nil
}

func (s *sessionStore) FindOpenByAccount(_ context.Context, accountID string) ([]storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := []storage.Session{}
	for _, session := range s.byID {
		if session.AccountID == accountID && session.IsOpen() {
			sessions = append(sessions, *cloneSession(session))
		}
	}
	sortSessions(sessions)
	return sessions, nil
}

func (s *sessionStore) FindAllOpen(_ context.Context) ([]storage.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sessions := []storage.Session{}
	for _, session := range s.byID {
		if session.IsOpen() {
			sessions = append(sessions, *cloneSession(session))
		}
	}
	sortSessions(sessions)
	return sessions, nil
}

func (s *sessionStore) Save(_ context.Context, session storage.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.byID[session.ID] = *cloneSession(session)
	return nil
}

func sortSessions(sessions []storage.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})
}

func cloneAccount(a storage.Account) *storage.Account {
	if a.DailyLimitMinutes != nil {
		limit := *a.DailyLimitMinutes
		a.DailyLimitMinutes = &limit
	}
	a.LastSessionStart = cloneTime(a.LastSessionStart)
	return &a
}

func cloneSession(s storage.Session) *storage.Session {
	s.LoggedOutAt = cloneTime(s.LoggedOutAt)
	return &s
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
