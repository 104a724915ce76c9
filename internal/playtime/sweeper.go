package playtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/playclock/internal/metrics"
	"github.com/goodtune/playclock/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultSweepInterval is how often the enforcement sweep runs.
const DefaultSweepInterval = time.Minute

// ErrSweepInProgress is returned by Tick when a previous scan, in this
// process or another one on the same store, has not finished yet.
var ErrSweepInProgress = errors.New("sweep already in progress")

// sweepLockName is the store-wide lease held for the duration of a scan.
const sweepLockName = "sweep"

type sweepState int32

const (
	stateIdle sweepState = iota
	stateScanning
)

// SweeperConfig holds sweeper configuration
type SweeperConfig struct {
	Interval     time.Duration
	CloseExpired bool

	// AfterSweep, if set, is called after every completed scan.
	AfterSweep func(SweepResult)
}

// SweepResult summarizes one scan.
type SweepResult struct {
	Scanned   int
	LimitHits int
	Expired   int
	Vanished  int // closed by someone else before the sweep reached them
	Errors    int
	Duration  time.Duration
}

// Sweeper periodically force-closes sessions whose account has used up its
// daily limit, and optionally sessions past their expiry. Closing goes
// through the manager's logout path.
type Sweeper struct {
	manager      *Manager
	interval     time.Duration
	closeExpired bool
	afterSweep   func(SweepResult)
	logger       zerolog.Logger

	state atomic.Int32

	mu      sync.Mutex
	cancel  context.CancelFunc
	loop    chan struct{}
	running sync.WaitGroup
}

// NewSweeper creates a sweeper that closes sessions through manager.
func NewSweeper(manager *Manager, config SweeperConfig, logger zerolog.Logger) *Sweeper {
	if config.Interval <= 0 {
		config.Interval = DefaultSweepInterval
	}

	return &Sweeper{
		manager:      manager,
		interval:     config.Interval,
		closeExpired: config.CloseExpired,
		afterSweep:   config.AfterSweep,
		logger:       logger.With().Str("component", "enforcement-sweeper").Logger(),
	}
}

// Start launches the background loop. It fails if the sweeper is already
// running.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel != nil {
		return errors.New("sweeper already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.loop = make(chan struct{})

	go s.run(ctx, s.loop)

	s.logger.Info().
		Dur("interval", s.interval).
		Bool("close_expired", s.closeExpired).
		Msg("Enforcement sweeper started")
	return nil
}

// Stop halts the loop and waits for an in-flight scan to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, loop := s.cancel, s.loop
	s.cancel, s.loop = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-loop
	s.running.Wait()

	s.logger.Info().Msg("Enforcement sweeper stopped")
}

func (s *Sweeper) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			release, err := s.acquire(ctx)
			if errors.Is(err, ErrSweepInProgress) {
				s.logger.Debug().Msg("Previous sweep still running, skipping tick")
				continue
			}
			if err != nil {
				s.logger.Error().Err(err).Msg("Sweep failed")
				continue
			}

			s.running.Add(1)
			go func() {
				defer s.running.Done()
				defer release()
				if _, err := s.scan(ctx); err != nil {
					s.logger.Error().Err(err).Msg("Sweep failed")
				}
			}()
		}
	}
}

// Tick runs one scan synchronously. It returns ErrSweepInProgress without
// scanning if another scan is running.
func (s *Sweeper) Tick(ctx context.Context) (SweepResult, error) {
	release, err := s.acquire(ctx)
	if err != nil {
		return SweepResult{}, err
	}
	defer release()

	return s.scan(ctx)
}

// acquire moves the sweeper from idle to scanning and takes the store-wide
// sweep lease. Either step failing leaves the sweeper idle.
func (s *Sweeper) acquire(ctx context.Context) (func(), error) {
	if !s.state.CompareAndSwap(int32(stateIdle), int32(stateScanning)) {
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrSweepInProgress
	}

	unlock, ok, err := s.manager.locker.TryLock(ctx, sweepLockName)
	if err != nil {
		s.state.Store(int32(stateIdle))
		metrics.SweepsTotal.WithLabelValues("failed").Inc()
		return nil, fmt.Errorf("failed to take sweep lease: %w", err)
	}
	if !ok {
		s.state.Store(int32(stateIdle))
		metrics.SweepsTotal.WithLabelValues("skipped").Inc()
		return nil, ErrSweepInProgress
	}

	return func() {
		unlock()
		s.state.Store(int32(stateIdle))
	}, nil
}

func (s *Sweeper) scan(ctx context.Context) (SweepResult, error) {
	start := time.Now()
	now := s.manager.clock.Now()

	var result SweepResult
	defer func() {
		result.Duration = time.Since(start)
		metrics.SweepDuration.Observe(result.Duration.Seconds())
	}()

	open, err := s.manager.sessions.FindAllOpen(ctx)
	if err != nil {
		metrics.SweepsTotal.WithLabelValues("failed").Inc()
		return result, fmt.Errorf("failed to list open sessions: %w", err)
	}
	metrics.OpenSessions.Set(float64(len(open)))

	for _, session := range open {
		if ctx.Err() != nil {
			break
		}
		result.Scanned++
		s.sweepSession(ctx, session, now, &result)
	}

	metrics.SweepsTotal.WithLabelValues("completed").Inc()

	s.logger.Debug().
		Int("scanned", result.Scanned).
		Int("limit", result.LimitHits).
		Int("expired", result.Expired).
		Int("vanished", result.Vanished).
		Int("errors", result.Errors).
		Msg("Sweep completed")

	if s.afterSweep != nil {
		s.afterSweep(result)
	}

	return result, nil
}

func (s *Sweeper) sweepSession(ctx context.Context, session storage.Session, now time.Time, result *SweepResult) {
	var (
		reason storage.LogoutReason
		due    func(storage.Account, storage.Session, time.Time) bool
	)

	if s.closeExpired && !session.ExpiresAt.After(now) {
		reason = storage.ReasonExpired
	} else {
		account, err := s.manager.accounts.FindByID(ctx, session.AccountID)
		if err != nil {
			s.recordError(err, session, "Failed to load account for open session")
			result.Errors++
			return
		}
		if !LiveExceeded(*account, session, now) {
			s.logger.Debug().
				Str("session_id", session.ID).
				Str("account_id", session.AccountID).
				Msg("Session within daily limit")
			return
		}
		reason, due = storage.ReasonLimit, LiveExceeded
	}

	closed, err := s.manager.closeSession(ctx, session.ID, reason, due)
	switch {
	case err == nil && !closed:
		return
	case err == nil:
		if reason == storage.ReasonExpired {
			result.Expired++
		} else {
			result.LimitHits++
		}
		s.logger.Info().
			Str("session_id", session.ID).
			Str("account_id", session.AccountID).
			Str("reason", string(reason)).
			Msg("Forced logout")
	case errors.Is(err, ErrSessionNotFound):
		result.Vanished++
		s.logger.Warn().
			Str("session_id", session.ID).
			Str("account_id", session.AccountID).
			Msg("Session already closed before forced logout")
	default:
		result.Errors++
		s.recordError(err, session, "Forced logout failed")
	}
}

func (s *Sweeper) recordError(err error, session storage.Session, msg string) {
	metrics.SweepErrorsTotal.Inc()
	s.logger.Error().
		Err(err).
		Str("session_id", session.ID).
		Str("account_id", session.AccountID).
		Msg(msg)
}
