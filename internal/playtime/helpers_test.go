package playtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/playclock/internal/auth"
	"github.com/goodtune/playclock/internal/clock"
	"github.com/goodtune/playclock/internal/storage"
	"github.com/goodtune/playclock/internal/storage/memory"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const testPassword = "correct-horse"

var testStart = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

type testEnv struct {
	store    *memory.Store
	accounts storage.AccountStore
	sessions storage.SessionStore
	clock    *clock.ManualClock
	manager  *Manager
}

type envOption func(*testEnv)

func withAccounts(wrap func(storage.AccountStore) storage.AccountStore) envOption {
	return func(e *testEnv) { e.accounts = wrap(e.accounts) }
}

func withSessions(wrap func(storage.SessionStore) storage.SessionStore) envOption {
	return func(e *testEnv) { e.sessions = wrap(e.sessions) }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	store := memory.New()
	env := &testEnv{
		store:    store,
		accounts: store.Accounts(),
		sessions: store.Sessions(),
		clock:    clock.NewManualClock(testStart),
	}
	for _, opt := range opts {
		opt(env)
	}

	manager, err := NewManager(env.accounts, env.sessions, store.Locker(), auth.NewArgon2idHasher(), env.clock, Config{SessionTTL: DefaultSessionTTL}, zerolog.Nop())
	require.NoError(t, err)
	env.manager = manager

	return env
}

func (e *testEnv) register(t *testing.T, email string) *storage.Account {
	t.Helper()

	account, err := e.manager.Register(context.Background(), Registration{
		Email:       email,
		Password:    testPassword,
		Name:        "Ada",
		Surname:     "Lovelace",
		DateOfBirth: time.Date(2010, 12, 10, 0, 0, 0, 0, time.UTC),
		Address:     "12 St James's Square, London",
	})
	require.NoError(t, err)
	return account
}

// setLimit writes the limit straight to the store, bypassing the
// open-session rule on SetTimeLimit.
func (e *testEnv) setLimit(t *testing.T, accountID string, minutes int) {
	t.Helper()

	account, err := e.store.Accounts().FindByID(context.Background(), accountID)
	require.NoError(t, err)
	account.DailyLimitMinutes = &minutes
	require.NoError(t, e.store.Accounts().Save(context.Background(), *account))
}

func (e *testEnv) account(t *testing.T, accountID string) *storage.Account {
	t.Helper()

	account, err := e.store.Accounts().FindByID(context.Background(), accountID)
	require.NoError(t, err)
	return account
}

func (e *testEnv) openSessions(t *testing.T, accountID string) []storage.Session {
	t.Helper()

	sessions, err := e.store.Sessions().FindOpenByAccount(context.Background(), accountID)
	require.NoError(t, err)
	return sessions
}

// requireConsistent checks that the account is active exactly when it has
// an open session, and never has more than one.
func (e *testEnv) requireConsistent(t *testing.T, accountID string) {
	t.Helper()

	account := e.account(t, accountID)
	open := e.openSessions(t, accountID)
	require.LessOrEqual(t, len(open), 1, "more than one open session")
	require.Equal(t, len(open) == 1, account.Active, "active flag disagrees with open sessions")
	if account.Active {
		require.NotNil(t, account.LastSessionStart)
	} else {
		require.Nil(t, account.LastSessionStart)
	}
}

var errStoreDown = errors.New("store unavailable")

// flakyAccounts fails Save while failSave is set.
type flakyAccounts struct {
	storage.AccountStore
	failSave atomic.Bool
}

func (f *flakyAccounts) Save(ctx context.Context, account storage.Account) error {
	if f.failSave.Load() {
		return errStoreDown
	}
	return f.AccountStore.Save(ctx, account)
}

// hookedSessions runs hooks around FindAllOpen so tests can interleave
// work with a sweep.
type hookedSessions struct {
	storage.SessionStore
	beforeList func()
	afterList  func([]storage.Session)
}

func (h *hookedSessions) FindAllOpen(ctx context.Context) ([]storage.Session, error) {
	if h.beforeList != nil {
		h.beforeList()
	}
	sessions, err := h.SessionStore.FindAllOpen(ctx)
	if err == nil && h.afterList != nil {
		h.afterList(sessions)
	}
	return sessions, err
}

// recordingSessions keeps a copy of every session written and fails Save
// while failSave is set.
type recordingSessions struct {
	storage.SessionStore
	failSave atomic.Bool

	mu    sync.Mutex
	saved []storage.Session
}

func (r *recordingSessions) Save(ctx context.Context, session storage.Session) error {
	if r.failSave.Load() {
		return errStoreDown
	}
	r.mu.Lock()
	r.saved = append(r.saved, session)
	r.mu.Unlock()
	return r.SessionStore.Save(ctx, session)
}

// history returns the writes made to one session, oldest first.
func (r *recordingSessions) history(sessionID string) []storage.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []storage.Session
	for _, s := range r.saved {
		if s.ID == sessionID {
			out = append(out, s)
		}
	}
	return out
}

// requireNeverReopened fails if a write for the session left it open after
// an earlier write had closed it.
func requireNeverReopened(t *testing.T, history []storage.Session) {
	t.Helper()

	closed := false
	for i, s := range history {
		if closed {
			require.NotNil(t, s.LoggedOutAt, "write %d reopened a closed session", i)
		}
		if s.LoggedOutAt != nil {
			closed = true
		}
	}
}
