package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-market-data/internal/alerting"
	"fx-market-data/internal/auth"
	"fx-market-data/internal/store"
)

// ErrRestartLimitExceeded indicates the circuit breaker tripped: the restart
// budget is exhausted and the supervisor will not reconnect without external
// intervention.
var ErrRestartLimitExceeded = errors.New("supervisor: restart limit exceeded")

// TokenProvider supplies a currently-valid access token. Satisfied by
// auth.Manager.
type TokenProvider interface {
	GetValidToken(ctx context.Context) (string, error)
}

// Session is one live streaming session.
type Session interface {
	Run(ctx context.Context) error
	Close() error
}

// Connector opens an authenticated streaming session.
type Connector interface {
	Connect(ctx context.Context, token string) (Session, error)
}

// Options tune supervisor behaviour.
type Options struct {
	Symbols []string
	// InitialBackoff is the wait after the first failure; it doubles on
	// each consecutive failure up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxRestarts bounds consecutive failed cycles before the terminal
	// failed state.
	MaxRestarts int
	// SteadyReset is the minimum session duration after which the backoff
	// delay resets to InitialBackoff.
	SteadyReset       time.Duration
	HeartbeatInterval time.Duration
	HeartbeatTTL      time.Duration
	StatusTTL         time.Duration
}

func (o *Options) applyDefaults() {
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = time.Second
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 16 * time.Second
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 10
	}
	if o.SteadyReset <= 0 {
		o.SteadyReset = 30 * time.Second
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 30 * time.Second
	}
	if o.HeartbeatTTL <= 0 {
		o.HeartbeatTTL = time.Minute
	}
	if o.StatusTTL <= 0 {
		o.StatusTTL = 5 * time.Minute
	}
}

// Supervisor keeps exactly one streaming session alive, bounds total retry
// attempts, and exposes liveness through the store's health record.
type Supervisor struct {
	opts      Options
	tokens    TokenProvider
	connector Connector
	store     store.Store
	notifier  alerting.Notifier
	logger    zerolog.Logger

	mu       sync.Mutex
	restarts int
	status   Status

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New constructs a supervisor. notifier may be nil.
func New(opts Options, tokens TokenProvider, connector Connector, st store.Store, notifier alerting.Notifier, logger zerolog.Logger) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{
		opts:      opts,
		tokens:    tokens,
		connector: connector,
		store:     st,
		notifier:  notifier,
		logger:    logger.With().Str("component", "supervisor").Logger(),
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// SetClock overrides the time source. Intended for tests.
func (s *Supervisor) SetClock(now func() time.Time) { s.now = now }

// SetSleeper overrides the backoff wait. Intended for tests.
func (s *Supervisor) SetSleeper(sleep func(ctx context.Context, d time.Duration) error) {
	s.sleep = sleep
}

// RestartCount returns the cumulative restart counter for this process.
func (s *Supervisor) RestartCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restarts
}

// Status returns the last written lifecycle state.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run drives the restart loop until the session ends normally, the restart
// budget is exhausted, an unrecoverable authentication failure occurs, or
// ctx is cancelled. Cancellation returns nil after a final stopped write.
func (s *Supervisor) Run(ctx context.Context) error {
	delay := s.opts.InitialBackoff

	for {
		if ctx.Err() != nil {
			s.markStopped()
			return nil
		}

		s.transition(ctx, StatusStarting)

		token, err := s.tokens.GetValidToken(ctx)
		if err != nil {
			if errors.Is(err, auth.ErrReauthenticationRequired) || errors.Is(err, auth.ErrNotAuthenticated) {
				// Retrying cannot succeed without a new authorization
				// flow; trip the breaker instead of burning the budget.
				s.fail(ctx, err, true)
				return err
			}
			if halted, haltErr := s.backoffAfterFailure(ctx, fmt.Errorf("acquire token: %w", err), &delay); halted {
				return haltErr
			}
			continue
		}

		session, err := s.connector.Connect(ctx, token)
		if err != nil {
			if ctx.Err() != nil {
				s.markStopped()
				return nil
			}
			if halted, haltErr := s.backoffAfterFailure(ctx, err, &delay); halted {
				return haltErr
			}
			continue
		}

		s.transition(ctx, StatusRunning)

		hbCtx, cancelHeartbeat := context.WithCancel(ctx)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.heartbeatLoop(hbCtx)
		}()

		started := s.now()
		runErr := session.Run(ctx)
		cancelHeartbeat()
		wg.Wait()
		_ = session.Close()

		if ctx.Err() != nil {
			s.markStopped()
			return nil
		}

		if runErr == nil {
			s.logger.Info().Msg("stream ended normally")
			s.transition(ctx, StatusStopped)
			return nil
		}

		// A sustained session proves the credentials and route are sound;
		// start the backoff ladder from the bottom again. The cumulative
		// restart counter is never reset within a process.
		if s.now().Sub(started) >= s.opts.SteadyReset {
			delay = s.opts.InitialBackoff
		}

		if halted, haltErr := s.backoffAfterFailure(ctx, runErr, &delay); halted {
			return haltErr
		}
	}
}

// backoffAfterFailure increments the restart counter, trips the breaker when
// the budget is exhausted, and otherwise waits out the backoff delay.
// It reports whether the run loop must halt.
func (s *Supervisor) backoffAfterFailure(ctx context.Context, cause error, delay *time.Duration) (bool, error) {
	s.mu.Lock()
	s.restarts++
	restarts := s.restarts
	s.mu.Unlock()
	s.logger.Warn().Err(cause).Int("restarts", restarts).Msg("streaming session failed")

	if restarts >= s.opts.MaxRestarts {
		err := fmt.Errorf("%w after %d attempts: %v", ErrRestartLimitExceeded, restarts, cause)
		s.fail(ctx, err, false)
		return true, err
	}

	s.transition(ctx, StatusRestarting)

	s.logger.Info().Dur("delay", *delay).Msg("waiting before reconnect")
	if err := s.sleep(ctx, *delay); err != nil {
		s.markStopped()
		return true, nil
	}

	*delay *= 2
	if *delay > s.opts.MaxBackoff {
		*delay = s.opts.MaxBackoff
	}
	return false, nil
}

func (s *Supervisor) fail(ctx context.Context, cause error, reauthRequired bool) {
	s.transition(ctx, StatusFailed)
	s.logger.Error().Err(cause).Bool("reauth_required", reauthRequired).Msg("ingestion halted; external intervention required")

	if s.notifier == nil {
		return
	}
	note := alerting.Notification{
		Status:         string(StatusFailed),
		Reason:         cause.Error(),
		RestartCount:   s.RestartCount(),
		Timestamp:      s.now(),
		ReauthRequired: reauthRequired,
	}
	if err := s.notifier.Notify(ctx, note); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver operator alert")
	}
}

// markStopped writes the terminal stopped record on a fresh context: the
// run context is already cancelled by the time shutdown reaches here.
func (s *Supervisor) markStopped() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.transition(ctx, StatusStopped)
}

// transition synchronously writes the health record before the supervisor
// proceeds, so external health checks never observe a stale status.
func (s *Supervisor) transition(ctx context.Context, status Status) {
	s.mu.Lock()
	s.status = status
	restarts := s.restarts
	s.mu.Unlock()

	record := HealthRecord{
		Status:       status,
		Timestamp:    s.now().UTC(),
		RestartCount: restarts,
		Symbols:      s.opts.Symbols,
	}
	encoded, err := record.Encode()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to encode health record")
		return
	}
	if err := s.store.Set(ctx, store.StatusKey, encoded, s.opts.StatusTTL); err != nil {
		s.logger.Error().Err(err).Str("status", string(status)).Msg("failed to write health record")
	}
}

func (s *Supervisor) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	s.writeHeartbeat(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeHeartbeat(ctx)
		}
	}
}

func (s *Supervisor) writeHeartbeat(ctx context.Context) {
	value := s.now().UTC().Format(time.RFC3339)
	if err := s.store.Set(ctx, store.HeartbeatKey, value, s.opts.HeartbeatTTL); err != nil && ctx.Err() == nil {
		s.logger.Error().Err(err).Msg("failed to write heartbeat")
	}
}
