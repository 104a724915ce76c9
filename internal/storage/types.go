package storage

import (
	"strings"
	"time"
)

// LogoutReason records why a session was closed.
type LogoutReason string

const (
	ReasonLogout     LogoutReason = "logout"
	ReasonSuperseded LogoutReason = "superseded"
	ReasonLimit      LogoutReason = "limit"
	ReasonExpired    LogoutReason = "expired"
	ReasonRollback   LogoutReason = "rollback"
)

// Account represents a registered player and their daily playtime budget.
type Account struct {
	ID           string    `json:"id"`
	Handle       string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	Surname      string    `json:"surname"`
	DateOfBirth  time.Time `json:"date_of_birth"`
	Address      string    `json:"address"`

	// Active is true exactly while the account has an open session.
	Active bool `json:"active"`

	DailyLimitMinutes *int       `json:"daily_limit_minutes,omitempty"` // nil means unlimited
	UsedTodaySeconds  int64      `json:"used_today_seconds"`
	LastReset         time.Time  `json:"last_reset"`
	LastSessionStart  *time.Time `json:"last_session_start,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLimit reports whether a daily limit is configured.
func (a *Account) HasLimit() bool {
	return a.DailyLimitMinutes != nil
}

// LimitSeconds returns the daily limit in seconds, or 0 when unlimited.
func (a *Account) LimitSeconds() int64 {
	if a.DailyLimitMinutes == nil {
		return 0
	}
	return int64(*a.DailyLimitMinutes) * 60
}

// Session represents one authenticated play interval.
type Session struct {
	ID           string       `json:"id"`
	AccountID    string       `json:"account_id"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	LoggedOutAt  *time.Time   `json:"logged_out_at,omitempty"`
	LogoutReason LogoutReason `json:"logout_reason,omitempty"`
}

// IsOpen reports whether the session has not been logged out.
func (s *Session) IsOpen() bool {
	return s.LoggedOutAt == nil
}

// NormalizeHandle lower-cases and trims a login handle for lookups.
func NormalizeHandle(handle string) string {
	return strings.ToLower(strings.TrimSpace(handle))
}
