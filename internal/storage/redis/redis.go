package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/playclock/internal/config"
	"github.com/goodtune/playclock/internal/storage"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
)

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	accountStore *accountStore
	sessionStore *sessionStore
	locker       *locker
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	// Parse timeouts
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	closedTTL := time.Duration(0)
	if cfg.ClosedSessionTTL != "" {
		closedTTL, err = time.ParseDuration(cfg.ClosedSessionTTL)
		if err != nil {
			return nil, fmt.Errorf("invalid closed_session_ttl: %w", err)
		}
	}

	lockTTL, err := durationOr(cfg.LockTTL, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid lock_ttl: %w", err)
	}

	lockWait, err := durationOr(cfg.LockWait, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("invalid lock_wait: %w", err)
	}

	cacheSize := cfg.HandleCacheSize
	if cacheSize <= 0 {
		cacheSize = 1024
	}

	// Determine address
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	// Create Redis client
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	handles, err := lru.New[string, string](cacheSize)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create handle cache: %w", err)
	}

	// Initialize stores
	store := &Store{
		client:       client,
		accountStore: &accountStore{client: client, handles: handles},
		sessionStore: &sessionStore{client: client, closedTTL: closedTTL},
		locker:       &locker{client: client, ttl: lockTTL, wait: lockWait},
	}

	return store, nil
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Accounts returns the AccountStore implementation
func (s *Store) Accounts() storage.AccountStore {
	return s.accountStore
}

// Sessions returns the SessionStore implementation
func (s *Store) Sessions() storage.SessionStore {
	return s.sessionStore
}

// Locker returns the Redis lease locker shared by all processes on this
// database
func (s *Store) Locker() storage.Locker {
	return s.locker
}

// durationOr parses s, returning fallback when s is empty
func durationOr(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive: %s", s)
	}
	return d, nil
}
