package playtime

import (
	"time"

	"github.com/goodtune/playclock/internal/storage"
)

// The budget helpers are pure: they take an account snapshot by value and
// return the updated copy. Callers persist the result when it changed.
//
// Calendar days are evaluated in now's location.

// ApplyDailyReset zeroes UsedTodaySeconds and moves LastReset to now when
// LastReset falls on an earlier calendar day. The bool reports whether the
// account changed.
func ApplyDailyReset(account storage.Account, now time.Time) (storage.Account, bool) {
	if sameDay(account.LastReset, now) {
		return account, false
	}
	account.UsedTodaySeconds = 0
	account.LastReset = now
	return account, true
}

// HasExceeded reports whether today's banked usage meets the daily limit.
// Accounts without a limit never exceed it.
func HasExceeded(account storage.Account, now time.Time) bool {
	account, _ = ApplyDailyReset(account, now)
	if !account.HasLimit() {
		return false
	}
	return account.UsedTodaySeconds >= account.LimitSeconds()
}

// Accumulate applies any pending reset, then adds elapsedSeconds to today's
// usage. Negative values are treated as zero.
func Accumulate(account storage.Account, elapsedSeconds int64, now time.Time) storage.Account {
	account, _ = ApplyDailyReset(account, now)
	if elapsedSeconds > 0 {
		account.UsedTodaySeconds += elapsedSeconds
	}
	return account
}

// EffectiveStart is the instant session time is measured from: the
// account's recorded session start, falling back to the session's creation.
func EffectiveStart(account storage.Account, session storage.Session) time.Time {
	if account.LastSessionStart != nil {
		return *account.LastSessionStart
	}
	return session.CreatedAt
}

// ElapsedSeconds returns whole seconds from start to now, floored at zero.
func ElapsedSeconds(start, now time.Time) int64 {
	elapsed := int64(now.Sub(start) / time.Second)
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// LiveExceeded reports whether banked usage plus the open session's live
// time meets the limit. Banked usage from an earlier day counts as zero.
func LiveExceeded(account storage.Account, session storage.Session, now time.Time) bool {
	if !account.HasLimit() {
		return false
	}
	account, _ = ApplyDailyReset(account, now)
	live := ElapsedSeconds(EffectiveStart(account, session), now)
	return account.UsedTodaySeconds+live >= account.LimitSeconds()
}

func sameDay(a, b time.Time) bool {
	if a.IsZero() {
		return false
	}
	a = a.In(b.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
