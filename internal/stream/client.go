package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"fx-market-data/internal/store"
)

// ErrConnectionRejected indicates the streaming handshake or every price
// subscription was refused, commonly because the presented token is invalid
// or expired. Callers should re-derive the token before retrying rather than
// retry the same credential.
var ErrConnectionRejected = errors.New("stream: connection rejected")

const subscriptionsPath = "/trade/v1/prices/subscriptions"

// Options parameterise the streaming client.
type Options struct {
	// WSURL is the persistent streaming endpoint.
	WSURL string
	// APIBase is the REST base used to create price subscriptions.
	APIBase string
	// ContextID identifies this streaming session to the venue.
	ContextID string
	// Instruments maps subscribed symbols to venue instrument codes (UICs).
	Instruments map[string]int
	// RefreshRate is the requested per-subscription update cadence in ms.
	RefreshRate int
	// TickTTL bounds the freshness window of cached ticks.
	TickTTL time.Duration
	// HistoryLimit bounds the per-symbol recent-tick list.
	HistoryLimit int
	// HandshakeTimeout bounds the websocket dial.
	HandshakeTimeout time.Duration
	// ReadTimeout bounds each receive; zero disables the deadline.
	ReadTimeout time.Duration
	// RequestTimeout bounds each subscription request.
	RequestTimeout time.Duration
}

// Client maintains one authenticated streaming session to the upstream venue
// and publishes normalized ticks to the store.
type Client struct {
	opts   Options
	store  store.Store
	client *http.Client
	logger zerolog.Logger
	now    func() time.Time
}

// NewClient constructs a streaming client.
func NewClient(opts Options, st store.Store, logger zerolog.Logger) *Client {
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}
	if opts.RefreshRate <= 0 {
		opts.RefreshRate = 1000
	}
	if opts.ContextID == "" {
		opts.ContextID = "mds"
	}

	return &Client{
		opts:   opts,
		store:  st,
		client: &http.Client{Timeout: opts.RequestTimeout},
		logger: logger.With().Str("component", "stream_client").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (c *Client) SetClock(now func() time.Time) { c.now = now }

// Symbols returns the configured instrument set in stable order.
func (c *Client) Symbols() []string {
	symbols := make([]string, 0, len(c.opts.Instruments))
	for symbol := range c.opts.Instruments {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// Session is one live streaming connection.
type Session struct {
	client *Client
	conn   *websocket.Conn
}

// Connect creates price subscriptions for the configured instruments and
// opens the streaming connection, presenting token as the bearer credential.
func (c *Client) Connect(ctx context.Context, token string) (*Session, error) {
	subscribed := 0
	for _, symbol := range c.Symbols() {
		if err := c.createSubscription(ctx, symbol, token); err != nil {
			c.logger.Error().Err(err).Str("symbol", symbol).Msg("subscription failed")
			continue
		}
		c.logger.Debug().Str("symbol", symbol).Msg("subscribed")
		subscribed++
	}
	if subscribed == 0 {
		return nil, fmt.Errorf("%w: no subscriptions succeeded", ErrConnectionRejected)
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.HandshakeTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := dialer.DialContext(ctx, c.opts.WSURL+"?contextId="+c.opts.ContextID, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: handshake status %d", ErrConnectionRejected, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionRejected, err)
	}

	c.logger.Info().Int("subscriptions", subscribed).Msg("streaming connection established")
	return &Session{client: c, conn: conn}, nil
}

type subscriptionRequest struct {
	Arguments   subscriptionArguments `json:"Arguments"`
	ContextID   string                `json:"ContextId"`
	ReferenceID string                `json:"ReferenceId"`
	RefreshRate int                   `json:"RefreshRate"`
}

type subscriptionArguments struct {
	AssetType string `json:"AssetType"`
	Uic       int    `json:"Uic"`
}

func (c *Client) createSubscription(ctx context.Context, symbol, token string) error {
	uic, ok := c.opts.Instruments[symbol]
	if !ok {
		return fmt.Errorf("unknown symbol %s", symbol)
	}

	payload := subscriptionRequest{
		Arguments:   subscriptionArguments{AssetType: "FxSpot", Uic: uic},
		ContextID:   c.opts.ContextID,
		ReferenceID: subscriptionReference(symbol),
		RefreshRate: c.opts.RefreshRate,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal subscription: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.APIBase+subscriptionsPath, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create subscription request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("subscription request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("subscription for %s refused: status %d: %s", symbol, resp.StatusCode, bytes.TrimSpace(detail))
	}
	return nil
}

// Run receives streamed messages until the connection drops or ctx is
// cancelled, writing each parsed tick to the store. Malformed messages are
// logged and skipped; they never terminate the loop.
func (s *Session) Run(ctx context.Context) error {
	// Unblock the pending read promptly on cancellation.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = s.conn.Close()
		case <-done:
		}
	}()

	for {
		if s.client.opts.ReadTimeout > 0 {
			_ = s.conn.SetReadDeadline(time.Now().Add(s.client.opts.ReadTimeout))
		}

		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read: %w", err)
		}

		s.client.handleMessage(ctx, raw)
	}
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}

func (c *Client) handleMessage(ctx context.Context, raw []byte) {
	f, err := parseFrame(raw)
	if err != nil {
		c.logger.Debug().Err(err).Msg("skipping malformed frame")
		return
	}
	if f.isControl() {
		c.logger.Debug().Str("ref", f.referenceID).Msg("control frame")
		return
	}
	if f.payloadFormat != payloadFormatJSON {
		c.logger.Debug().Uint8("format", f.payloadFormat).Msg("skipping non-JSON payload")
		return
	}

	tick, err := parseTick(f.referenceID, f.payload, c.now())
	if err != nil {
		c.logger.Debug().Err(err).Str("ref", f.referenceID).Msg("skipping unparseable message")
		return
	}

	c.publish(ctx, tick)
}

func (c *Client) publish(ctx context.Context, tick Tick) {
	encoded, err := tick.Encode()
	if err != nil {
		c.logger.Error().Err(err).Str("symbol", tick.Symbol).Msg("failed to encode tick")
		return
	}

	if err := c.store.Set(ctx, store.TickKey(tick.Symbol), encoded, c.opts.TickTTL); err != nil {
		c.logger.Error().Err(err).Str("symbol", tick.Symbol).Msg("failed to cache tick")
		return
	}
	if err := c.store.PushTrim(ctx, store.HistoryKey(tick.Symbol), encoded, c.opts.HistoryLimit, c.opts.TickTTL); err != nil {
		c.logger.Error().Err(err).Str("symbol", tick.Symbol).Msg("failed to append tick history")
	}

	c.logger.Debug().
		Str("symbol", tick.Symbol).
		Str("bid", tick.Bid.String()).
		Str("ask", tick.Ask.String()).
		Msg("tick cached")
}
