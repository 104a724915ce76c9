package playtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/playclock/internal/auth"
	"github.com/goodtune/playclock/internal/clock"
	"github.com/goodtune/playclock/internal/metrics"
	"github.com/goodtune/playclock/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultSessionTTL is the hard ceiling on a session's lifetime,
// independent of the playtime budget.
const DefaultSessionTTL = 24 * time.Hour

// Config holds manager configuration
type Config struct {
	SessionTTL time.Duration
}

// SessionDescriptor is returned to the holder of a new session.
type SessionDescriptor struct {
	SessionID string    `json:"session_id"`
	AccountID string    `json:"account_id"`
	Handle    string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager owns session creation and termination and attributes session
// time to account budgets. Every mutation of an account and its sessions
// runs under that account's lock.
type Manager struct {
	accounts   storage.AccountStore
	sessions   storage.SessionStore
	locker     storage.Locker
	hasher     auth.PasswordHasher
	clock      clock.Clock
	sessionTTL time.Duration
	logger     zerolog.Logger
}

// NewManager creates a session manager over the given collaborators.
func NewManager(accounts storage.AccountStore, sessions storage.SessionStore, locker storage.Locker, hasher auth.PasswordHasher, clk clock.Clock, config Config, logger zerolog.Logger) (*Manager, error) {
	if accounts == nil {
		return nil, errors.New("account store is required")
	}
	if sessions == nil {
		return nil, errors.New("session store is required")
	}
	if locker == nil {
		return nil, errors.New("locker is required")
	}
	if hasher == nil {
		return nil, errors.New("password hasher is required")
	}
	if clk == nil {
		return nil, errors.New("clock is required")
	}
	if config.SessionTTL <= 0 {
		config.SessionTTL = DefaultSessionTTL
	}

	return &Manager{
		accounts:   accounts,
		sessions:   sessions,
		locker:     locker,
		hasher:     hasher,
		clock:      clk,
		sessionTTL: config.SessionTTL,
		logger:     logger.With().Str("component", "session-manager").Logger(),
	}, nil
}

// Login authenticates handle/secret and opens a new session, closing any
// session the account already had open.
//
// Unknown handles and wrong secrets both satisfy
// errors.Is(err, ErrInvalidCredentials); the unknown-handle error also
// matches ErrAccountNotFound.
func (m *Manager) Login(ctx context.Context, handle, secret string) (*SessionDescriptor, error) {
	ctx = context.WithoutCancel(ctx)

	account, lookupErr := m.accounts.FindByHandle(ctx, handle)

	targetHash := auth.DummyHash
	exists := false
	if lookupErr != nil {
		if !errors.Is(lookupErr, storage.ErrNotFound) {
			metrics.LoginsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("failed to look up account: %w", lookupErr)
		}
	} else {
		targetHash = account.PasswordHash
		exists = true
	}

	// Verify even for unknown handles so both paths cost the same
	valid, verifyErr := m.hasher.Verify(secret, targetHash)
	if !exists {
		metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		m.logger.Debug().Str("handle", storage.NormalizeHandle(handle)).Msg("Login for unknown handle")
		return nil, fmt.Errorf("%w: %w", ErrInvalidCredentials, ErrAccountNotFound)
	}
	if verifyErr != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to verify credentials: %w", verifyErr)
	}
	if !valid {
		metrics.LoginsTotal.WithLabelValues("invalid_credentials").Inc()
		m.logger.Debug().Str("account_id", account.ID).Msg("Login with wrong secret")
		return nil, ErrInvalidCredentials
	}

	unlock, err := m.lockAccount(ctx, account.ID)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	defer unlock()

	now := m.clock.Now()

	current, err := m.loadAccount(ctx, account.ID)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if err := m.persistReset(ctx, current, now); err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	if HasExceeded(*current, now) {
		metrics.LoginsTotal.WithLabelValues("limit_exceeded").Inc()
		m.logger.Info().
			Str("account_id", current.ID).
			Int64("used_today_seconds", current.UsedTodaySeconds).
			Int("daily_limit_minutes", *current.DailyLimitMinutes).
			Msg("Login refused, daily limit reached")
		return nil, ErrTimeLimitExceeded
	}

	// Close whatever is still open; normally at most one session
	open, err := m.sessions.FindOpenByAccount(ctx, current.ID)
	if err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}
	for _, previous := range open {
		if err := m.closeLocked(ctx, current, previous, now, storage.ReasonSuperseded); err != nil {
			metrics.LoginsTotal.WithLabelValues("error").Inc()
			return nil, err
		}
	}

	session := storage.Session{
		ID:        uuid.NewString(),
		AccountID: current.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	if err := m.sessions.Save(ctx, session); err != nil {
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	start := now
	current.Active = true
	current.LastSessionStart = &start
	current.UpdatedAt = now
	if err := m.accounts.Save(ctx, *current); err != nil {
		m.rollbackSession(ctx, session, now)
		metrics.LoginsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	metrics.LoginsTotal.WithLabelValues("success").Inc()
	m.logger.Info().
		Str("account_id", current.ID).
		Str("session_id", session.ID).
		Int("superseded", len(open)).
		Msg("Session opened")

	return &SessionDescriptor{
		SessionID: session.ID,
		AccountID: current.ID,
		Handle:    current.Handle,
		CreatedAt: session.CreatedAt,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// Logout closes an open session and folds its elapsed time into the
// owner's daily usage. Closing an unknown or already-closed session
// returns ErrSessionNotFound.
func (m *Manager) Logout(ctx context.Context, sessionID string) error {
	_, err := m.closeSession(ctx, sessionID, storage.ReasonLogout, nil)
	return err
}

// closeSession is the single close path shared by interactive logout and
// the enforcement sweep. The close is stamped with the time the account
// lock was obtained. When due is non-nil it is evaluated under the lock
// and the session is left open if it returns false.
func (m *Manager) closeSession(ctx context.Context, sessionID string, reason storage.LogoutReason, due func(storage.Account, storage.Session, time.Time) bool) (bool, error) {
	ctx = context.WithoutCancel(ctx)

	session, err := m.findOpenSession(ctx, sessionID)
	if err != nil {
		return false, err
	}

	unlock, err := m.lockAccount(ctx, session.AccountID)
	if err != nil {
		return false, err
	}
	defer unlock()

	now := m.clock.Now()

	// Someone may have closed it while we waited for the lock
	session, err = m.findOpenSession(ctx, sessionID)
	if err != nil {
		return false, err
	}

	account, err := m.loadAccount(ctx, session.AccountID)
	if err != nil {
		return false, err
	}

	if due != nil && !due(*account, *session, now) {
		return false, nil
	}

	if err := m.closeLocked(ctx, account, *session, now, reason); err != nil {
		return false, err
	}
	return true, nil
}

// SetTimeLimit sets the account's daily limit in minutes. Limits can only
// be changed while the account has an open session. Callers validate
// minutes with ValidateLimit.
func (m *Manager) SetTimeLimit(ctx context.Context, accountID string, minutes int) (*storage.Account, error) {
	ctx = context.WithoutCancel(ctx)

	unlock, err := m.lockAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := m.clock.Now()

	account, err := m.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	if !account.Active {
		return nil, ErrAccountInactive
	}

	updated, _ := ApplyDailyReset(*account, now)
	limit := minutes
	updated.DailyLimitMinutes = &limit
	updated.UpdatedAt = now

	if err := m.accounts.Save(ctx, updated); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	m.logger.Info().
		Str("account_id", accountID).
		Int("daily_limit_minutes", minutes).
		Msg("Daily limit updated")

	return &updated, nil
}

// closeLocked attributes the session's time to the account and marks the
// session logged out. The account is written first; if the session write
// then fails the previous account record is restored, so a session is
// never reopened once closed. account is updated in place. Must be called
// with the account lock held.
func (m *Manager) closeLocked(ctx context.Context, account *storage.Account, session storage.Session, now time.Time, reason storage.LogoutReason) error {
	elapsed := ElapsedSeconds(EffectiveStart(*account, session), now)

	updated := Accumulate(*account, elapsed, now)
	updated.Active = false
	updated.LastSessionStart = nil
	updated.UpdatedAt = now
	if err := m.accounts.Save(ctx, updated); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}

	loggedOut := now
	session.LoggedOutAt = &loggedOut
	session.LogoutReason = reason
	if err := m.sessions.Save(ctx, session); err != nil {
		if rerr := m.accounts.Save(ctx, *account); rerr != nil {
			m.logger.Error().
				Err(rerr).
				Str("account_id", account.ID).
				Str("session_id", session.ID).
				Msg("Session left open but account restore failed")
		}
		return fmt.Errorf("failed to save session: %w", err)
	}
	*account = updated

	metrics.LogoutsTotal.WithLabelValues(string(reason)).Inc()
	metrics.PlaytimeSecondsTotal.Add(float64(elapsed))

	m.logger.Info().
		Str("account_id", account.ID).
		Str("session_id", session.ID).
		Str("reason", string(reason)).
		Int64("elapsed_seconds", elapsed).
		Int64("used_today_seconds", updated.UsedTodaySeconds).
		Msg("Session closed")

	return nil
}

// rollbackSession closes a session whose account update failed during
// login, so no open session exists without an active account.
func (m *Manager) rollbackSession(ctx context.Context, session storage.Session, now time.Time) {
	loggedOut := now
	session.LoggedOutAt = &loggedOut
	session.LogoutReason = storage.ReasonRollback
	if err := m.sessions.Save(ctx, session); err != nil {
		m.logger.Error().Err(err).Str("session_id", session.ID).Msg("Failed to roll back session")
	}
}

// persistReset saves the account if a daily reset is due. account is
// updated in place.
func (m *Manager) persistReset(ctx context.Context, account *storage.Account, now time.Time) error {
	updated, changed := ApplyDailyReset(*account, now)
	if !changed {
		return nil
	}
	if err := m.accounts.Save(ctx, updated); err != nil {
		return fmt.Errorf("failed to save daily reset: %w", err)
	}
	*account = updated

	m.logger.Debug().Str("account_id", account.ID).Msg("Daily usage reset")
	return nil
}

// lockAccount takes the account's lock from the store's Locker, which
// every process on the same store shares.
func (m *Manager) lockAccount(ctx context.Context, accountID string) (func(), error) {
	unlock, err := m.locker.Lock(ctx, accountLockName(accountID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock account %s: %w", accountID, err)
	}
	return unlock, nil
}

func accountLockName(accountID string) string {
	return "account:" + accountID
}

func (m *Manager) loadAccount(ctx context.Context, id string) (*storage.Account, error) {
	account, err := m.accounts.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to load account: %w", err)
	}
	return account, nil
}

func (m *Manager) findOpenSession(ctx context.Context, id string) (*storage.Session, error) {
	session, err := m.sessions.FindOpenByID(ctx, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	return session, nil
}
