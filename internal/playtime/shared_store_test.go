package playtime

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/playclock/internal/auth"
	"github.com/goodtune/playclock/internal/clock"
	"github.com/goodtune/playclock/internal/config"
	"github.com/goodtune/playclock/internal/storage"
	redisstore "github.com/goodtune/playclock/internal/storage/redis"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openRedisStore opens a store on mr the way a separate playclock process
// would: its own client, handle cache and locker.
func openRedisStore(t *testing.T, mr *miniredis.Miniredis) *redisstore.Store {
	t.Helper()

	store, err := redisstore.Open(config.RedisConfig{
		Host:             mr.Addr(),
		DialTimeout:      "5s",
		ReadTimeout:      "3s",
		WriteTimeout:     "3s",
		HandleCacheSize:  16,
		ClosedSessionTTL: "1h",
		LockTTL:          "30s",
		LockWait:         "5s",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRedisManager(t *testing.T, store *redisstore.Store, accounts storage.AccountStore, clk clock.Clock) *Manager {
	t.Helper()

	if accounts == nil {
		accounts = store.Accounts()
	}
	manager, err := NewManager(accounts, store.Sessions(), store.Locker(), auth.NewArgon2idHasher(), clk, Config{}, zerolog.Nop())
	require.NoError(t, err)
	return manager
}

// findHookAccounts runs onFind once, on the first FindByID after it is set.
type findHookAccounts struct {
	storage.AccountStore

	mu     sync.Mutex
	onFind func()
}

func (f *findHookAccounts) FindByID(ctx context.Context, id string) (*storage.Account, error) {
	f.mu.Lock()
	hook := f.onFind
	f.onFind = nil
	f.mu.Unlock()

	if hook != nil {
		hook()
	}
	return f.AccountStore.FindByID(ctx, id)
}

func TestLogout_SerializedAcrossProcesses(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := clock.NewManualClock(testStart)
	ctx := context.Background()

	serverStore := openRedisStore(t, mr)
	cliStore := openRedisStore(t, mr)
	hooked := &findHookAccounts{AccountStore: cliStore.Accounts()}

	server := newRedisManager(t, serverStore, nil, clk)
	cli := newRedisManager(t, cliStore, hooked, clk)

	account, err := server.Register(ctx, Registration{
		Email:       "ada@example.com",
		Password:    testPassword,
		Name:        "Ada",
		Surname:     "Lovelace",
		DateOfBirth: time.Date(2010, 12, 10, 0, 0, 0, 0, time.UTC),
		Address:     "12 St James's Square, London",
	})
	require.NoError(t, err)

	desc, err := server.Login(ctx, "ada@example.com", testPassword)
	require.NoError(t, err)
	clk.Advance(90 * time.Second)

	serverDone := make(chan error, 1)
	hooked.onFind = func() {
		// The CLI holds the account lock; the server's close must wait
		go func() { serverDone <- server.Logout(ctx, desc.SessionID) }()

		select {
		case err := <-serverDone:
			t.Errorf("Server logout ran while the CLI held the account lock: %v", err)
			serverDone <- err
		case <-time.After(150 * time.Millisecond):
		}
	}

	require.NoError(t, cli.Logout(ctx, desc.SessionID))

	select {
	case err := <-serverDone:
		assert.ErrorIs(t, err, ErrSessionNotFound)
	case <-time.After(10 * time.Second):
		t.Fatal("Server logout never finished")
	}

	current, err := serverStore.Accounts().FindByID(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(90), current.UsedTodaySeconds)
	assert.False(t, current.Active)

	open, err := serverStore.Sessions().FindOpenByAccount(ctx, account.ID)
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestSweeper_SkipsWhileAnotherProcessSweeps(t *testing.T) {
	mr := miniredis.RunT(t)
	clk := clock.NewManualClock(testStart)
	ctx := context.Background()

	serverStore := openRedisStore(t, mr)
	cliStore := openRedisStore(t, mr)

	sweeper := NewSweeper(newRedisManager(t, cliStore, nil, clk), SweeperConfig{CloseExpired: true}, zerolog.Nop())

	release, ok, err := serverStore.Locker().TryLock(ctx, sweepLockName)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = sweeper.Tick(ctx)
	assert.ErrorIs(t, err, ErrSweepInProgress)

	release()

	result, err := sweeper.Tick(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.Scanned)

	// The lease is released after the scan
	again, ok, err := serverStore.Locker().TryLock(ctx, sweepLockName)
	require.NoError(t, err)
	assert.True(t, ok)
	if ok {
		again()
	}
}
