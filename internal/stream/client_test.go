package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"fx-market-data/internal/store"
)

type venueFixture struct {
	subscriptions atomic.Int64
	subStatus     int
	frames        [][]byte
	holdOpen      bool

	apiServer *httptest.Server
	wsServer  *httptest.Server
}

func newVenueFixture(t *testing.T) *venueFixture {
	t.Helper()

	v := &venueFixture{subStatus: http.StatusCreated}

	v.apiServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		v.subscriptions.Add(1)
		w.WriteHeader(v.subStatus)
	}))
	t.Cleanup(v.apiServer.Close)

	upgrader := websocket.Upgrader{}
	v.wsServer = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, f := range v.frames {
			if err := conn.WriteMessage(websocket.BinaryMessage, f); err != nil {
				return
			}
		}
		if v.holdOpen {
			// Keep the connection alive until the client closes it.
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(v.wsServer.Close)

	return v
}

func (v *venueFixture) wsURL() string {
	return "ws" + strings.TrimPrefix(v.wsServer.URL, "http")
}

func newTestClient(v *venueFixture, st store.Store) *Client {
	return NewClient(Options{
		WSURL:        v.wsURL(),
		APIBase:      v.apiServer.URL,
		ContextID:    "mds",
		Instruments:  map[string]int{"EUR-USD": 21},
		TickTTL:      30 * time.Second,
		HistoryLimit: 100,
	}, st, zerolog.Nop())
}

func TestClientStreamsTicksIntoStore(t *testing.T) {
	v := newVenueFixture(t)
	v.frames = [][]byte{
		buildFrame(1, "EUR_USD_sub", payloadFormatJSON, []byte(`{"Quote":{"Bid":1.0871,"Ask":1.0873}}`)),
		buildFrame(2, "_heartbeat", payloadFormatJSON, []byte(`{}`)),
		[]byte{0x01, 0x02},
		buildFrame(3, "EUR_USD_sub", payloadFormatJSON, []byte(`not json`)),
		buildFrame(4, "EUR_USD_sub", payloadFormatJSON, []byte(`{"Quote":{"Bid":1.0874,"Ask":1.0876}}`)),
	}

	mem := store.NewMemory()
	client := newTestClient(v, mem)
	ctx := context.Background()

	session, err := client.Connect(ctx, "token-1")
	require.NoError(t, err)
	defer session.Close()

	// The server closes after sending its frames; the loop reports that as a
	// connection error after processing everything.
	err = session.Run(ctx)
	require.Error(t, err)

	raw, err := mem.Get(ctx, store.TickKey("EUR-USD"))
	require.NoError(t, err)
	tick, err := DecodeTick(raw)
	require.NoError(t, err)
	require.True(t, tick.Bid.Equal(decimal.RequireFromString("1.0874")), "latest tick wins: bid %s", tick.Bid)
	require.True(t, tick.Mid.Equal(decimal.RequireFromString("1.0875")))

	history, err := mem.Range(ctx, store.HistoryKey("EUR-USD"), 0, -1)
	require.NoError(t, err)
	require.Len(t, history, 2, "malformed and control frames are skipped, valid ticks kept")

	require.EqualValues(t, 1, v.subscriptions.Load())
}

func TestClientConnectRejectedWithoutSubscriptions(t *testing.T) {
	v := newVenueFixture(t)
	v.subStatus = http.StatusUnauthorized

	client := newTestClient(v, store.NewMemory())

	_, err := client.Connect(context.Background(), "expired-token")
	require.ErrorIs(t, err, ErrConnectionRejected)
}

func TestClientConnectRejectedAtHandshake(t *testing.T) {
	v := newVenueFixture(t)

	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejecting.Close()

	client := NewClient(Options{
		WSURL:       "ws" + strings.TrimPrefix(rejecting.URL, "http"),
		APIBase:     v.apiServer.URL,
		Instruments: map[string]int{"EUR-USD": 21},
	}, store.NewMemory(), zerolog.Nop())

	_, err := client.Connect(context.Background(), "expired-token")
	require.ErrorIs(t, err, ErrConnectionRejected)
}

func TestClientRunStopsOnCancel(t *testing.T) {
	v := newVenueFixture(t)
	v.holdOpen = true

	client := newTestClient(v, store.NewMemory())

	ctx, cancel := context.WithCancel(context.Background())
	session, err := client.Connect(ctx, "token-1")
	require.NoError(t, err)
	defer session.Close()

	done := make(chan error, 1)
	go func() { done <- session.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("receive loop did not stop on cancellation")
	}
}
