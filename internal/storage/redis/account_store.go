package redis

import (
	"context"
	"errors"
	"strings"

	"github.com/goodtune/playclock/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

type accountStore struct {
	client *redis.Client

	// handles caches normalized handle -> account ID. Entries are checked
	// against the loaded account, so a stale entry only costs a lookup.
	handles *lru.Cache[string, string]
}

// FindByID retrieves an account by ID
func (s *accountStore) FindByID(ctx context.Context, id string) (*storage.Account, error) {
	data, err := s.client.HGetAll(ctx, accountKey(id)).Result()
	if err != nil {
		return nil, err
	}

	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	return parseAccount(data)
}

// FindByHandle retrieves an account by its login handle
func (s *accountStore) FindByHandle(ctx context.Context, handle string) (*storage.Account, error) {
	normalized := storage.NormalizeHandle(handle)

	if id, ok := s.handles.Get(normalized); ok {
		account, err := s.FindByID(ctx, id)
		if err == nil && storage.NormalizeHandle(account.Handle) == normalized {
			return account, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		s.handles.Remove(normalized)
	}

	id, err := s.client.Get(ctx, handleKey(normalized)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	account, err := s.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	s.handles.Add(normalized, id)
	return account, nil
}

// ExistsByHandle reports whether any account holds the handle
func (s *accountStore) ExistsByHandle(ctx context.Context, handle string) (bool, error) {
	n, err := s.client.Exists(ctx, handleKey(handle)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Save creates or replaces an account and its handle index
func (s *accountStore) Save(ctx context.Context, account storage.Account) error {
	script := redis.NewScript(saveAccountScript)

	keys := []string{accountKey(account.ID), handleKey(account.Handle)}
	args := append([]interface{}{account.ID, handleKeyPrefix()}, accountFields(account)...)

	if err := script.Run(ctx, s.client, keys, args...).Err(); err != nil {
		if strings.Contains(err.Error(), "HANDLE_CONFLICT") {
			return storage.ErrConflict
		}
		return err
	}

	s.handles.Add(storage.NormalizeHandle(account.Handle), account.ID)
	return nil
}
