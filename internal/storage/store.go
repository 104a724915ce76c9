package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrConflict is returned when saving an account whose login handle
// already belongs to a different account.
var ErrConflict = errors.New("storage: handle already in use")

// ErrLockTimeout is returned when a lock could not be acquired in time.
var ErrLockTimeout = errors.New("storage: lock wait timed out")

// Store represents the root storage interface.
type Store interface {
	Close() error
	Accounts() AccountStore
	Sessions() SessionStore
	Locker() Locker
}

// Locker provides named locks shared by every process using the same
// store. The returned unlock function releases the lock; it is safe to
// call once.
type Locker interface {
	// Lock blocks until name is held, ctx is done or the store's wait
	// limit passes (ErrLockTimeout).
	Lock(ctx context.Context, name string) (func(), error)

	// TryLock acquires name only if nobody holds it.
	TryLock(ctx context.Context, name string) (func(), bool, error)
}

// AccountStore manages account records.
// Handles are matched case-insensitively.
type AccountStore interface {
	FindByID(ctx context.Context, id string) (*Account, error)
	FindByHandle(ctx context.Context, handle string) (*Account, error)
	ExistsByHandle(ctx context.Context, handle string) (bool, error)
	// Save creates or replaces the account. Returns ErrConflict if the
	// handle is held by another account.
	Save(ctx context.Context, account Account) error
}

// SessionStore manages play session records.
// A session is open while LoggedOutAt is nil.
type SessionStore interface {
	FindOpenByID(ctx context.Context, id string) (*Session, error)
	FindOpenByAccount(ctx context.Context, accountID string) ([]Session, error)
	FindAllOpen(ctx context.Context) ([]Session, error)
	Save(ctx context.Context, session Session) error
}
