package playtime

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/goodtune/playclock/internal/storage"
	"github.com/google/uuid"
)

// Registration holds the details supplied when creating an account.
type Registration struct {
	Email       string
	Password    string
	Name        string
	Surname     string
	DateOfBirth time.Time
	Address     string
}

// UsageStats describes an account's playtime for the current day.
type UsageStats struct {
	AccountID     string        `json:"account_id"`
	UsedToday     time.Duration `json:"used_today"`
	LiveSession   time.Duration `json:"live_session"`
	Remaining     time.Duration `json:"remaining"` // zero when unlimited
	DailyLimit    time.Duration `json:"daily_limit"`
	Limited       bool          `json:"limited"`
	LimitExceeded bool          `json:"limit_exceeded"`
	Active        bool          `json:"active"`
}

// Validate checks registration input.
func (r Registration) Validate(now time.Time) error {
	addr, err := mail.ParseAddress(r.Email)
	if err != nil || addr.Address != strings.TrimSpace(r.Email) {
		return &ValidationError{Field: "email", Message: "must be a valid email address"}
	}
	if r.Password == "" {
		return &ValidationError{Field: "password", Message: "is required"}
	}
	if strings.TrimSpace(r.Name) == "" {
		return &ValidationError{Field: "name", Message: "is required"}
	}
	if strings.TrimSpace(r.Surname) == "" {
		return &ValidationError{Field: "surname", Message: "is required"}
	}
	if r.DateOfBirth.IsZero() || !r.DateOfBirth.Before(now) {
		return &ValidationError{Field: "date_of_birth", Message: "must be in the past"}
	}
	if strings.TrimSpace(r.Address) == "" {
		return &ValidationError{Field: "address", Message: "is required"}
	}
	return nil
}

// Register creates a new account with no daily limit. The account starts
// inactive since it has no open session.
func (m *Manager) Register(ctx context.Context, reg Registration) (*storage.Account, error) {
	ctx = context.WithoutCancel(ctx)
	now := m.clock.Now()

	if err := reg.Validate(now); err != nil {
		return nil, err
	}

	handle := storage.NormalizeHandle(reg.Email)

	exists, err := m.accounts.ExistsByHandle(ctx, handle)
	if err != nil {
		return nil, fmt.Errorf("failed to check handle: %w", err)
	}
	if exists {
		return nil, ErrAlreadyExists
	}

	hash, err := m.hasher.Hash(reg.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	account := storage.Account{
		ID:           uuid.NewString(),
		Handle:       handle,
		PasswordHash: hash,
		Name:         strings.TrimSpace(reg.Name),
		Surname:      strings.TrimSpace(reg.Surname),
		DateOfBirth:  reg.DateOfBirth,
		Address:      strings.TrimSpace(reg.Address),
		LastReset:    now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := m.accounts.Save(ctx, account); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	m.logger.Info().
		Str("account_id", account.ID).
		Str("handle", account.Handle).
		Msg("Account registered")

	return &account, nil
}

// Account returns the account record, with any pending daily reset
// applied and persisted.
func (m *Manager) Account(ctx context.Context, accountID string) (*storage.Account, error) {
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
	if err := m.persistReset(ctx, account, now); err != nil {
		return nil, err
	}
	return account, nil
}

// Usage reports today's playtime for an account, including time accrued by
// an open session that has not been banked yet.
func (m *Manager) Usage(ctx context.Context, accountID string) (*UsageStats, error) {
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
	if err := m.persistReset(ctx, account, now); err != nil {
		return nil, err
	}

	open, err := m.sessions.FindOpenByAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open sessions: %w", err)
	}

	stats := &UsageStats{
		AccountID: accountID,
		UsedToday: time.Duration(account.UsedTodaySeconds) * time.Second,
		Active:    account.Active,
		Limited:   account.HasLimit(),
	}

	total := account.UsedTodaySeconds
	if len(open) > 0 {
		live := ElapsedSeconds(EffectiveStart(*account, open[0]), now)
		stats.LiveSession = time.Duration(live) * time.Second
		total += live
	}

	if account.HasLimit() {
		limit := account.LimitSeconds()
		stats.DailyLimit = time.Duration(limit) * time.Second
		stats.LimitExceeded = total >= limit
		if remaining := limit - total; remaining > 0 {
			stats.Remaining = time.Duration(remaining) * time.Second
		}
	}

	return stats, nil
}
