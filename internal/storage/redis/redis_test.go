package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/playclock/internal/config"
	"github.com/goodtune/playclock/internal/storage"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)

	// miniredis.Addr() returns "host:port"; Port 0 means Host is used as is
	cfg := config.RedisConfig{
		Host:             mr.Addr(),
		Port:             0,
		DB:               0,
		PoolSize:         10,
		MinIdleConns:     5,
		DialTimeout:      "5s",
		ReadTimeout:      "3s",
		WriteTimeout:     "3s",
		HandleCacheSize:  16,
		ClosedSessionTTL: "1h",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}

	return store, mr
}

func testAccount(id, handle string) storage.Account {
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	return storage.Account{
		ID:           id,
		Handle:       handle,
		PasswordHash: "$argon2id$v=19$m=65536,t=1,p=4$c2FsdA$aGFzaA",
		Name:         "Ada",
		Surname:      "Lovelace",
		DateOfBirth:  time.Date(2010, 12, 10, 0, 0, 0, 0, time.UTC),
		Address:      "12 St James's Square",
		LastReset:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestOpen_InvalidConfig(t *testing.T) {
	mr := miniredis.RunT(t)

	tests := []struct {
		name string
		cfg  config.RedisConfig
	}{
		{"bad dial timeout", config.RedisConfig{Host: mr.Addr(), DialTimeout: "soon", ReadTimeout: "1s", WriteTimeout: "1s"}},
		{"bad closed ttl", config.RedisConfig{Host: mr.Addr(), DialTimeout: "1s", ReadTimeout: "1s", WriteTimeout: "1s", ClosedSessionTTL: "forever"}},
		{"zero lock ttl", config.RedisConfig{Host: mr.Addr(), DialTimeout: "1s", ReadTimeout: "1s", WriteTimeout: "1s", LockTTL: "0s"}},
		{"bad lock wait", config.RedisConfig{Host: mr.Addr(), DialTimeout: "1s", ReadTimeout: "1s", WriteTimeout: "1s", LockWait: "later"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Open(tt.cfg); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestAccountStore_SaveAndFind(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	accounts := store.Accounts()

	account := testAccount("acct-1", "Ada@Example.com")
	limit := 45
	start := account.CreatedAt.Add(time.Minute)
	account.DailyLimitMinutes = &limit
	account.UsedTodaySeconds = 600
	account.Active = true
	account.LastSessionStart = &start

	if err := accounts.Save(ctx, account); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	retrieved, err := accounts.FindByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}

	if retrieved.Handle != account.Handle {
		t.Errorf("Expected handle %s, got %s", account.Handle, retrieved.Handle)
	}
	if retrieved.PasswordHash != account.PasswordHash {
		t.Errorf("Expected password hash to round-trip")
	}
	if retrieved.DailyLimitMinutes == nil || *retrieved.DailyLimitMinutes != 45 {
		t.Errorf("Expected limit 45, got %v", retrieved.DailyLimitMinutes)
	}
	if retrieved.UsedTodaySeconds != 600 {
		t.Errorf("Expected used 600, got %d", retrieved.UsedTodaySeconds)
	}
	if !retrieved.Active {
		t.Error("Expected Active to be true")
	}
	if retrieved.LastSessionStart == nil || !retrieved.LastSessionStart.Equal(start) {
		t.Errorf("Expected LastSessionStart %v, got %v", start, retrieved.LastSessionStart)
	}
	if !retrieved.DateOfBirth.Equal(account.DateOfBirth) {
		t.Errorf("Expected DateOfBirth %v, got %v", account.DateOfBirth, retrieved.DateOfBirth)
	}

	// Clearing optional fields
	account.DailyLimitMinutes = nil
	account.LastSessionStart = nil
	account.Active = false
	if err := accounts.Save(ctx, account); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	retrieved, err = accounts.FindByID(ctx, "acct-1")
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	if retrieved.DailyLimitMinutes != nil {
		t.Errorf("Expected no limit, got %d", *retrieved.DailyLimitMinutes)
	}
	if retrieved.LastSessionStart != nil {
		t.Errorf("Expected no session start, got %v", retrieved.LastSessionStart)
	}
	if retrieved.Active {
		t.Error("Expected Active to be false")
	}
}

func TestAccountStore_FindByHandle(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	accounts := store.Accounts()

	if err := accounts.Save(ctx, testAccount("acct-1", "ada@example.com")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	for _, handle := range []string{"ada@example.com", "ADA@example.com", " ada@example.com "} {
		account, err := accounts.FindByHandle(ctx, handle)
		if err != nil {
			t.Fatalf("FindByHandle(%q) failed: %v", handle, err)
		}
		if account.ID != "acct-1" {
			t.Errorf("Expected acct-1, got %s", account.ID)
		}
	}

	_, err := accounts.FindByHandle(ctx, "nobody@example.com")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}

	exists, err := accounts.ExistsByHandle(ctx, "Ada@Example.com")
	if err != nil {
		t.Fatalf("ExistsByHandle failed: %v", err)
	}
	if !exists {
		t.Error("Expected handle to exist")
	}

	exists, err = accounts.ExistsByHandle(ctx, "nobody@example.com")
	if err != nil {
		t.Fatalf("ExistsByHandle failed: %v", err)
	}
	if exists {
		t.Error("Expected handle not to exist")
	}
}

func TestAccountStore_HandleChangeInvalidatesCache(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	accounts := store.Accounts()

	account := testAccount("acct-1", "old@example.com")
	if err := accounts.Save(ctx, account); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := accounts.FindByHandle(ctx, "old@example.com"); err != nil {
		t.Fatalf("FindByHandle failed: %v", err)
	}

	account.Handle = "new@example.com"
	if err := accounts.Save(ctx, account); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if _, err := accounts.FindByHandle(ctx, "old@example.com"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for released handle, got %v", err)
	}
	found, err := accounts.FindByHandle(ctx, "new@example.com")
	if err != nil {
		t.Fatalf("FindByHandle failed: %v", err)
	}
	if found.ID != "acct-1" {
		t.Errorf("Expected acct-1, got %s", found.ID)
	}
}

func TestAccountStore_Conflict(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	accounts := store.Accounts()

	if err := accounts.Save(ctx, testAccount("acct-1", "ada@example.com")); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	err := accounts.Save(ctx, testAccount("acct-2", "ADA@example.com"))
	if !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	if _, err := accounts.FindByID(ctx, "acct-2"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected rejected account not to be stored, got %v", err)
	}
}

func TestAccountStore_NotFound(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	_, err := store.Accounts().FindByID(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_Lifecycle(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	sessions := store.Sessions()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	first := storage.Session{ID: "session-1", AccountID: "acct-1", CreatedAt: now, ExpiresAt: now.Add(24 * time.Hour)}
	second := storage.Session{ID: "session-2", AccountID: "acct-2", CreatedAt: now.Add(time.Minute), ExpiresAt: now.Add(25 * time.Hour)}

	for _, s := range []storage.Session{second, first} {
		if err := sessions.Save(ctx, s); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	retrieved, err := sessions.FindOpenByID(ctx, "session-1")
	if err != nil {
		t.Fatalf("FindOpenByID failed: %v", err)
	}
	if retrieved.AccountID != "acct-1" || !retrieved.ExpiresAt.Equal(first.ExpiresAt) {
		t.Errorf("Unexpected session %+v", retrieved)
	}

	all, err := sessions.FindAllOpen(ctx)
	if err != nil {
		t.Fatalf("FindAllOpen failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 open sessions, got %d", len(all))
	}
	if all[0].ID != "session-1" || all[1].ID != "session-2" {
		t.Errorf("Expected sessions ordered by creation, got %s, %s", all[0].ID, all[1].ID)
	}

	owned, err := sessions.FindOpenByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("FindOpenByAccount failed: %v", err)
	}
	if len(owned) != 1 || owned[0].ID != "session-1" {
		t.Errorf("Expected only session-1, got %+v", owned)
	}

	// Close the first session
	loggedOut := now.Add(time.Hour)
	first.LoggedOutAt = &loggedOut
	first.LogoutReason = storage.ReasonLimit
	if err := sessions.Save(ctx, first); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	if _, err := sessions.FindOpenByID(ctx, "session-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for closed session, got %v", err)
	}

	owned, err = sessions.FindOpenByAccount(ctx, "acct-1")
	if err != nil {
		t.Fatalf("FindOpenByAccount failed: %v", err)
	}
	if len(owned) != 0 {
		t.Errorf("Expected no open sessions, got %d", len(owned))
	}

	all, err = sessions.FindAllOpen(ctx)
	if err != nil {
		t.Fatalf("FindAllOpen failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != "session-2" {
		t.Errorf("Expected only session-2 open, got %+v", all)
	}

	// Closed sessions age out
	if ttl := mr.TTL(sessionKey("session-1")); ttl != time.Hour {
		t.Errorf("Expected closed session TTL %v, got %v", time.Hour, ttl)
	}
	if reason := mr.HGet(sessionKey("session-1"), "logout_reason"); reason != string(storage.ReasonLimit) {
		t.Errorf("Expected logout_reason %s, got %s", storage.ReasonLimit, reason)
	}
}

func TestSessionStore_EmptyIndexes(t *testing.T) {
	store, _ := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()

	all, err := store.Sessions().FindAllOpen(ctx)
	if err != nil {
		t.Fatalf("FindAllOpen failed: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Errorf("Expected empty non-nil slice, got %#v", all)
	}

	if _, err := store.Sessions().FindOpenByID(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestSessionStore_SkipsExpiredHashes(t *testing.T) {
	store, mr := setupTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	session := storage.Session{ID: "session-1", AccountID: "acct-1", CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	if err := store.Sessions().Save(ctx, session); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Index entry without a backing hash
	mr.Del(sessionKey("session-1"))

	all, err := store.Sessions().FindAllOpen(ctx)
	if err != nil {
		t.Fatalf("FindAllOpen failed: %v", err)
	}
	if len(all) != 0 {
		t.Errorf("Expected dangling index entry to be skipped, got %d", len(all))
	}
}
