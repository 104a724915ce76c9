package clock

import (
	"sync"
	"time"
)

// Clock provides the current time to the playtime engine.
// This interface allows time to be mocked in tests.
type Clock interface {
	Now() time.Time
}

// RealClock provides actual system time in a fixed location.
// The location defines where calendar days begin and end.
type RealClock struct {
	Location *time.Location
}

// NewRealClock returns a RealClock for the named IANA zone.
// "Local" and "" both select the host's local zone.
func NewRealClock(zone string) (RealClock, error) {
	if zone == "" || zone == "Local" {
		return RealClock{Location: time.Local}, nil
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return RealClock{}, err
	}
	return RealClock{Location: loc}, nil
}

// Now returns the current system time.
func (c RealClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// ManualClock is a settable clock for tests.
type ManualClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewManualClock returns a ManualClock frozen at t.
func NewManualClock(t time.Time) *ManualClock {
	return &ManualClock{current: t}
}

// Now returns the frozen time.
func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	c.mu.Unlock()
}
