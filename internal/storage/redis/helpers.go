package redis

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/playclock/internal/storage"
)

const keyPrefix = "playclock:"

func accountKey(id string) string {
	return keyPrefix + "account:" + id
}

func handleKeyPrefix() string {
	return keyPrefix + "account:handle:"
}

func handleKey(handle string) string {
	return handleKeyPrefix() + storage.NormalizeHandle(handle)
}

func sessionKey(id string) string {
	return keyPrefix + "session:" + id
}

func openSessionsKey() string {
	return keyPrefix + "sessions:open"
}

func accountSessionsKey(accountID string) string {
	return keyPrefix + "sessions:account:" + accountID
}

func lockKey(name string) string {
	return keyPrefix + "lock:" + name
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func formatOptionalTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func parseTime(data map[string]string, field string) (time.Time, error) {
	value := data[field]
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", field, err)
	}
	return t, nil
}

func parseOptionalTime(data map[string]string, field string) (*time.Time, error) {
	if data[field] == "" {
		return nil, nil
	}
	t, err := parseTime(data, field)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// accountFields flattens an account into HSET field/value pairs
func accountFields(account storage.Account) []interface{} {
	limit := ""
	if account.DailyLimitMinutes != nil {
		limit = strconv.Itoa(*account.DailyLimitMinutes)
	}

	active := "0"
	if account.Active {
		active = "1"
	}

	return []interface{}{
		"id", account.ID,
		"handle", account.Handle,
		"handle_norm", storage.NormalizeHandle(account.Handle),
		"password_hash", account.PasswordHash,
		"name", account.Name,
		"surname", account.Surname,
		"date_of_birth", formatTime(account.DateOfBirth),
		"address", account.Address,
		"active", active,
		"daily_limit_minutes", limit,
		"used_today_seconds", strconv.FormatInt(account.UsedTodaySeconds, 10),
		"last_reset", formatTime(account.LastReset),
		"last_session_start", formatOptionalTime(account.LastSessionStart),
		"created_at", formatTime(account.CreatedAt),
		"updated_at", formatTime(account.UpdatedAt),
	}
}

// parseAccount converts a Redis hash to Account
func parseAccount(data map[string]string) (*storage.Account, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	account := &storage.Account{
		ID:           data["id"],
		Handle:       data["handle"],
		PasswordHash: data["password_hash"],
		Name:         data["name"],
		Surname:      data["surname"],
		Address:      data["address"],
		Active:       data["active"] == "1",
	}

	var err error
	if account.DateOfBirth, err = parseTime(data, "date_of_birth"); err != nil {
		return nil, err
	}
	if account.LastReset, err = parseTime(data, "last_reset"); err != nil {
		return nil, err
	}
	if account.LastSessionStart, err = parseOptionalTime(data, "last_session_start"); err != nil {
		return nil, err
	}
	if account.CreatedAt, err = parseTime(data, "created_at"); err != nil {
		return nil, err
	}
	if account.UpdatedAt, err = parseTime(data, "updated_at"); err != nil {
		return nil, err
	}

	if raw := data["daily_limit_minutes"]; raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse daily_limit_minutes: %w", err)
		}
		account.DailyLimitMinutes = &limit
	}

	if raw := data["used_today_seconds"]; raw != "" {
		account.UsedTodaySeconds, err = strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse used_today_seconds: %w", err)
		}
	}

	return account, nil
}

// parseSession converts a Redis hash to Session
func parseSession(data map[string]string) (*storage.Session, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	createdAt, err := parseTime(data, "created_at")
	if err != nil {
		return nil, err
	}

	expiresAt, err := parseTime(data, "expires_at")
	if err != nil {
		return nil, err
	}

	loggedOutAt, err := parseOptionalTime(data, "logged_out_at")
	if err != nil {
		return nil, err
	}

	return &storage.Session{
		ID:           data["id"],
		AccountID:    data["account_id"],
		CreatedAt:    createdAt,
		ExpiresAt:    expiresAt,
		LoggedOutAt:  loggedOutAt,
		LogoutReason: storage.LogoutReason(data["logout_reason"]),
	}, nil
}
