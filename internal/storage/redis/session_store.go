package redis

import (
	"context"
	"sort"
	"time"

	"github.com/goodtune/playclock/internal/storage"
	"github.com/redis/go-redis/v9"
)

type sessionStore struct {
	client    *redis.Client
	closedTTL time.Duration
}

// FindOpenByID retrieves a session by ID if it has not been logged out
func (s *sessionStore) FindOpenByID(ctx context.Context, id string) (*storage.Session, error) {
	data, err := s.client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return nil, err
	}

	session, err := parseSession(data)
	if err != nil {
		return nil, err
	}

	if !session.IsOpen() {
		return nil, storage.ErrNotFound
	}

	return session, nil
}

// FindOpenByAccount returns the open sessions owned by an account
func (s *sessionStore) FindOpenByAccount(ctx context.Context, accountID string) ([]storage.Session, error) {
	return s.loadOpen(ctx, accountSessionsKey(accountID))
}

// FindAllOpen returns every open session
func (s *sessionStore) FindAllOpen(ctx context.Context) ([]storage.Session, error) {
	return s.loadOpen(ctx, openSessionsKey())
}

// Save creates or updates a session and maintains the open indexes
func (s *sessionStore) Save(ctx context.Context, session storage.Session) error {
	script := redis.NewScript(saveSessionScript)

	keys := []string{
		sessionKey(session.ID),
		openSessionsKey(),
		accountSessionsKey(session.AccountID),
	}
	args := []interface{}{
		session.ID,
		session.AccountID,
		formatTime(session.CreatedAt),
		formatTime(session.ExpiresAt),
		formatOptionalTime(session.LoggedOutAt),
		string(session.LogoutReason),
		int64(s.closedTTL / time.Second),
	}

	return script.Run(ctx, s.client, keys, args...).Err()
}

// loadOpen resolves the session IDs in an index set
func (s *sessionStore) loadOpen(ctx context.Context, indexKey string) ([]storage.Session, error) {
	sessionIDs, err := s.client.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, err
	}

	if len(sessionIDs) == 0 {
		return []storage.Session{}, nil
	}

	// Use pipeline for efficient batch retrieval
	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(sessionIDs))

	for i, id := range sessionIDs {
		cmds[i] = pipe.HGetAll(ctx, sessionKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	// Parse results
	sessions := make([]storage.Session, 0, len(sessionIDs))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}

		session, err := parseSession(data)
		if err == nil && session.IsOpen() {
			sessions = append(sessions, *session)
		}
	}

	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt.Before(sessions[j].CreatedAt)
	})

	return sessions, nil
}
