package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"fx-market-data/internal/alerting"
	"fx-market-data/internal/auth"
	"fx-market-data/internal/store"
)

var errConnect = errors.New("connection rejected")

type stubTokens struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (s *stubTokens) GetValidToken(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.calls++
	return fmt.Sprintf("token-%d", s.calls), nil
}

func (s *stubTokens) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// scriptedConnector returns one scripted outcome per Connect call and keeps
// returning the last outcome afterwards.
type scriptedConnector struct {
	mu       sync.Mutex
	script   []func() (Session, error)
	connects int
	tokens   []string
}

func (c *scriptedConnector) Connect(_ context.Context, token string) (Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = append(c.tokens, token)
	idx := c.connects
	c.connects++
	if idx >= len(c.script) {
		idx = len(c.script) - 1
	}
	if idx < 0 {
		return nil, errConnect
	}
	return c.script[idx]()
}

func (c *scriptedConnector) connectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connects
}

type stubSession struct {
	run func(ctx context.Context) error
}

func (s *stubSession) Run(ctx context.Context) error { return s.run(ctx) }
func (s *stubSession) Close() error                  { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
}

func (n *recordingNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return nil
}

func captureSleeps(s *Supervisor) *[]time.Duration {
	var sleeps []time.Duration
	var mu sync.Mutex
	s.SetSleeper(func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		sleeps = append(sleeps, d)
		mu.Unlock()
		return ctx.Err()
	})
	return &sleeps
}

func newTestSupervisor(opts Options, tokens TokenProvider, connector Connector, notifier alerting.Notifier) (*Supervisor, *store.Memory) {
	mem := store.NewMemory()
	sup := New(opts, tokens, connector, mem, notifier, zerolog.Nop())
	return sup, mem
}

func TestBackoffDoublesUpToCeiling(t *testing.T) {
	connector := &scriptedConnector{} // every connect fails
	sup, _ := newTestSupervisor(Options{
		InitialBackoff: time.Second,
		MaxBackoff:     16 * time.Second,
		MaxRestarts:    7,
	}, &stubTokens{}, connector, nil)
	sleeps := captureSleeps(sup)

	err := sup.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartLimitExceeded)

	// Six waits precede the seventh and final failure:
	// min(1*2^(k-1), 16) for k = 1..6.
	want := []time.Duration{
		time.Second, 2 * time.Second, 4 * time.Second,
		8 * time.Second, 16 * time.Second, 16 * time.Second,
	}
	require.Equal(t, want, *sleeps)
}

func TestBackoffResetsAfterSteadySession(t *testing.T) {
	var mu sync.Mutex
	current := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}
	advance := func(d time.Duration) {
		mu.Lock()
		current = current.Add(d)
		mu.Unlock()
	}

	fail := func() (Session, error) { return nil, errConnect }
	steadyThenDrop := func() (Session, error) {
		return &stubSession{run: func(ctx context.Context) error {
			advance(time.Minute) // sustained streaming period
			return errors.New("connection lost")
		}}, nil
	}

	connector := &scriptedConnector{script: []func() (Session, error){fail, fail, steadyThenDrop, fail}}
	sup, _ := newTestSupervisor(Options{
		InitialBackoff: time.Second,
		MaxBackoff:     16 * time.Second,
		MaxRestarts:    4,
		SteadyReset:    30 * time.Second,
	}, &stubTokens{}, connector, nil)
	sup.SetClock(clock)
	sleeps := captureSleeps(sup)

	err := sup.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartLimitExceeded)

	// Two escalating waits, then the steady session resets the ladder.
	require.Equal(t, []time.Duration{time.Second, 2 * time.Second, time.Second}, *sleeps)
}

func TestRestartBudgetExhaustionTripsBreaker(t *testing.T) {
	tokens := &stubTokens{}
	connector := &scriptedConnector{}
	notifier := &recordingNotifier{}
	sup, mem := newTestSupervisor(Options{
		InitialBackoff: time.Millisecond,
		MaxRestarts:    3,
		Symbols:        []string{"EUR-USD"},
	}, tokens, connector, notifier)
	captureSleeps(sup)

	err := sup.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartLimitExceeded)

	require.Equal(t, 3, connector.connectCount(), "no connect attempts after the breaker trips")
	require.Equal(t, StatusFailed, sup.Status())
	require.Equal(t, 3, sup.RestartCount())

	// A fresh token is derived before every attempt, never reused.
	require.Equal(t, 3, tokens.callCount())
	require.Equal(t, []string{"token-1", "token-2", "token-3"}, connector.tokens)

	raw, getErr := mem.Get(context.Background(), store.StatusKey)
	require.NoError(t, getErr)
	record, decErr := DecodeHealthRecord(raw)
	require.NoError(t, decErr)
	require.Equal(t, StatusFailed, record.Status)
	require.Equal(t, 3, record.RestartCount)
	require.Equal(t, []string{"EUR-USD"}, record.Symbols)

	require.Len(t, notifier.notes, 1)
	require.False(t, notifier.notes[0].ReauthRequired)
}

func TestReauthenticationRequiredFailsImmediately(t *testing.T) {
	tokens := &stubTokens{err: auth.ErrReauthenticationRequired}
	connector := &scriptedConnector{}
	notifier := &recordingNotifier{}
	sup, mem := newTestSupervisor(Options{MaxRestarts: 10}, tokens, connector, notifier)
	sleeps := captureSleeps(sup)

	err := sup.Run(context.Background())
	require.ErrorIs(t, err, auth.ErrReauthenticationRequired)

	require.Equal(t, 0, connector.connectCount(), "no reconnects against a dead authorization")
	require.Empty(t, *sleeps)
	require.Equal(t, StatusFailed, sup.Status())

	raw, getErr := mem.Get(context.Background(), store.StatusKey)
	require.NoError(t, getErr)
	record, decErr := DecodeHealthRecord(raw)
	require.NoError(t, decErr)
	require.Equal(t, StatusFailed, record.Status)

	require.Len(t, notifier.notes, 1)
	require.True(t, notifier.notes[0].ReauthRequired)
}

func TestTokenEndpointOutageRetriesWithBackoff(t *testing.T) {
	tokens := &stubTokens{err: auth.ErrTokenEndpointUnavailable}
	connector := &scriptedConnector{}
	notifier := &recordingNotifier{}
	sup, _ := newTestSupervisor(Options{
		InitialBackoff: time.Second,
		MaxRestarts:    2,
	}, tokens, connector, notifier)
	sleeps := captureSleeps(sup)

	err := sup.Run(context.Background())

	// An unreachable token endpoint is a connectivity problem: it burns
	// restart budget with backoff instead of failing on the first blip.
	require.ErrorIs(t, err, ErrRestartLimitExceeded)
	require.NotErrorIs(t, err, auth.ErrReauthenticationRequired)
	require.Equal(t, []time.Duration{time.Second}, *sleeps)
	require.Len(t, notifier.notes, 1)
	require.False(t, notifier.notes[0].ReauthRequired)
}

func TestNotAuthenticatedFailsImmediately(t *testing.T) {
	tokens := &stubTokens{err: auth.ErrNotAuthenticated}
	connector := &scriptedConnector{}
	sup, _ := newTestSupervisor(Options{MaxRestarts: 10}, tokens, connector, nil)

	err := sup.Run(context.Background())
	require.ErrorIs(t, err, auth.ErrNotAuthenticated)
	require.Equal(t, 0, connector.connectCount())
	require.Equal(t, StatusFailed, sup.Status())
}

func TestGracefulShutdownWritesStopped(t *testing.T) {
	blocking := func() (Session, error) {
		return &stubSession{run: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}}, nil
	}
	connector := &scriptedConnector{script: []func() (Session, error){blocking}}
	sup, mem := newTestSupervisor(Options{
		HeartbeatInterval: 10 * time.Millisecond,
		HeartbeatTTL:      time.Minute,
	}, &stubTokens{}, connector, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sup.Run(ctx) }()

	// Wait until the session is up, then request shutdown.
	require.Eventually(t, func() bool {
		return sup.Status() == StatusRunning
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop on cancellation")
	}

	require.Equal(t, StatusStopped, sup.Status())

	raw, err := mem.Get(context.Background(), store.StatusKey)
	require.NoError(t, err)
	record, err := DecodeHealthRecord(raw)
	require.NoError(t, err)
	require.Equal(t, StatusStopped, record.Status)

	// The heartbeat loop ran while the session was alive.
	_, err = mem.Get(context.Background(), store.HeartbeatKey)
	require.NoError(t, err)
}

func TestNormalStreamEndStops(t *testing.T) {
	clean := func() (Session, error) {
		return &stubSession{run: func(ctx context.Context) error { return nil }}, nil
	}
	connector := &scriptedConnector{script: []func() (Session, error){clean}}
	sup, _ := newTestSupervisor(Options{}, &stubTokens{}, connector, nil)

	require.NoError(t, sup.Run(context.Background()))
	require.Equal(t, StatusStopped, sup.Status())
	require.Equal(t, 0, sup.RestartCount())
}
