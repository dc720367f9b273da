package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"fx-market-data/internal/store"
)

const (
	defaultStateTTL   = 10 * time.Minute
	defaultTokenTTL   = 5 * time.Minute
	defaultTimeout    = 10 * time.Second
	stateMarkerValue  = "pending"
	stateEntropyBytes = 32
)

// Options parameterise the token manager.
type Options struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	AuthURL      string
	TokenURL     string
	Scope        string
	// RequestTimeout bounds every call to the upstream token endpoint.
	RequestTimeout time.Duration
	// AllowMissingState relaxes callback state validation: the exchange
	// proceeds even when no state record is found in the store. This
	// weakens CSRF protection and exists only to tolerate store latency;
	// every use is logged at warn level. Strict validation is the default.
	AllowMissingState bool
	// StateTTL bounds how long an issued authorization state stays valid.
	StateTTL time.Duration
	// StoreTTLBuffer is added to the token's remaining lifetime when
	// computing its storage TTL, so the record outlives real expiry by a
	// short grace window.
	StoreTTLBuffer time.Duration
}

// Manager owns the OAuth2 authorization-code flow and the token lifecycle.
// It is the sole reader and writer of token records in the store and is safe
// for concurrent use: at most one upstream refresh is in flight at a time,
// with concurrent callers waiting for its outcome.
type Manager struct {
	opts   Options
	store  store.Store
	client *http.Client
	logger zerolog.Logger

	refreshMu sync.Mutex
	now       func() time.Time
}

// NewManager constructs a token manager.
func NewManager(opts Options, st store.Store, logger zerolog.Logger) *Manager {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultTimeout
	}
	if opts.StateTTL <= 0 {
		opts.StateTTL = defaultStateTTL
	}
	if opts.StoreTTLBuffer <= 0 {
		opts.StoreTTLBuffer = defaultTokenTTL
	}

	return &Manager{
		opts:   opts,
		store:  st,
		client: &http.Client{Timeout: opts.RequestTimeout},
		logger: logger.With().Str("component", "token_manager").Logger(),
		now:    time.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// BeginAuthorization generates a single-use state token, persists it, and
// returns the upstream authorization URL embedding it.
func (m *Manager) BeginAuthorization(ctx context.Context) (authURL, state string, err error) {
	raw := make([]byte, stateEntropyBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", "", fmt.Errorf("generate oauth state: %w", err)
	}
	state = base64.URLEncoding.EncodeToString(raw)

	if err := m.store.Set(ctx, store.StateKey(state), stateMarkerValue, m.opts.StateTTL); err != nil {
		return "", "", fmt.Errorf("persist oauth state: %w", err)
	}

	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", m.opts.ClientID)
	params.Set("redirect_uri", m.opts.RedirectURI)
	params.Set("state", state)
	if m.opts.Scope != "" {
		params.Set("scope", m.opts.Scope)
	}

	return m.opts.AuthURL + "?" + params.Encode(), state, nil
}

// CompleteAuthorization validates and consumes the state record, exchanges
// the authorization code for a token pair, and persists the result.
func (m *Manager) CompleteAuthorization(ctx context.Context, code, state string) (*Token, error) {
	if err := m.consumeState(ctx, state); err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", m.opts.RedirectURI)
	form.Set("client_id", m.opts.ClientID)
	form.Set("client_secret", m.opts.ClientSecret)

	token, err := m.requestToken(ctx, form)
	if err != nil {
		return nil, err
	}

	if err := m.persist(ctx, token); err != nil {
		return nil, err
	}

	m.logger.Info().Time("expires_at", token.ExpiresAt).Msg("authorization complete, token stored")
	return &token, nil
}

func (m *Manager) consumeState(ctx context.Context, state string) error {
	_, err := m.store.Get(ctx, store.StateKey(state))
	if errors.Is(err, store.ErrNotFound) {
		if m.opts.AllowMissingState {
			m.logger.Warn().Msg("oauth state missing from store; continuing because allow_missing_state is set")
			return nil
		}
		return ErrInvalidState
	}
	if err != nil {
		return fmt.Errorf("read oauth state: %w", err)
	}

	// Single use: a second callback with the same state must fail.
	if err := m.store.Delete(ctx, store.StateKey(state)); err != nil {
		return fmt.Errorf("consume oauth state: %w", err)
	}
	return nil
}

// GetValidToken returns a currently-valid access token, transparently
// refreshing an expired one.
func (m *Manager) GetValidToken(ctx context.Context) (string, error) {
	token, err := m.readStored(ctx)
	if err != nil {
		return "", err
	}

	if !token.Expired(m.now()) {
		return token.AccessToken, nil
	}

	refreshed, err := m.refreshCoalesced(ctx)
	if err != nil {
		return "", err
	}
	return refreshed.AccessToken, nil
}

// Refresh exchanges the stored refresh token for a new token pair, replacing
// the stored record.
func (m *Manager) Refresh(ctx context.Context) (*Token, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	return m.refreshLocked(ctx)
}

// refreshCoalesced serialises refreshes: a caller that loses the race to the
// lock re-reads the store and returns the winner's token instead of issuing
// a duplicate upstream refresh, which would invalidate the first response
// under refresh-token rotation.
func (m *Manager) refreshCoalesced(ctx context.Context) (*Token, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()

	token, err := m.readStored(ctx)
	if err != nil {
		return nil, err
	}
	if !token.Expired(m.now()) {
		return &token, nil
	}

	return m.refreshLocked(ctx)
}

func (m *Manager) refreshLocked(ctx context.Context) (*Token, error) {
	current, err := m.readStored(ctx)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", current.RefreshToken)
	form.Set("client_id", m.opts.ClientID)
	form.Set("client_secret", m.opts.ClientSecret)

	token, err := m.requestToken(ctx, form)
	if err != nil {
		// Only an actual upstream rejection of the refresh grant is
		// unrecoverable. Transport failures surface as
		// ErrTokenEndpointUnavailable and leave the record in place.
		if errors.Is(err, ErrTokenExchangeFailed) {
			// A rejected refresh token cannot recover on retry. Purge the
			// record so callers fail fast until re-authorization.
			if delErr := m.store.Delete(ctx, store.TokenKey); delErr != nil {
				m.logger.Error().Err(delErr).Msg("failed to purge rejected token record")
			}
			m.logger.Warn().Msg("refresh token rejected upstream; reauthentication required")
			return nil, ErrReauthenticationRequired
		}
		return nil, err
	}

	if err := m.persist(ctx, token); err != nil {
		return nil, err
	}

	m.logger.Info().Time("expires_at", token.ExpiresAt).Msg("token refreshed")
	return &token, nil
}

func (m *Manager) readStored(ctx context.Context) (Token, error) {
	raw, err := m.store.Get(ctx, store.TokenKey)
	if errors.Is(err, store.ErrNotFound) {
		return Token{}, ErrNotAuthenticated
	}
	if err != nil {
		return Token{}, fmt.Errorf("read token record: %w", err)
	}

	token, err := DecodeToken(raw)
	if err != nil {
		m.logger.Error().Err(err).Msg("corrupted token record; purging")
		if delErr := m.store.Delete(ctx, store.TokenKey); delErr != nil {
			m.logger.Error().Err(delErr).Msg("failed to purge corrupted token record")
		}
		return Token{}, ErrCorruptedTokenData
	}
	return token, nil
}

func (m *Manager) persist(ctx context.Context, token Token) error {
	encoded, err := token.Encode()
	if err != nil {
		return err
	}

	ttl := token.ExpiresAt.Sub(m.now()) + m.opts.StoreTTLBuffer
	if err := m.store.Set(ctx, store.TokenKey, encoded, ttl); err != nil {
		return fmt.Errorf("persist token record: %w", err)
	}
	return nil
}

type tokenResponse struct {
	AccessToken      string          `json:"access_token"`
	RefreshToken     string          `json:"refresh_token"`
	TokenType        string          `json:"token_type"`
	ExpiresIn        json.RawMessage `json:"expires_in"`
	Error            string          `json:"error"`
	ErrorDescription string          `json:"error_description"`
}

func (m *Manager) requestToken(ctx context.Context, form url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.opts.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		// The endpoint never answered; this is not a rejection of the
		// grant and must stay retryable.
		return Token{}, fmt.Errorf("%w: %v", ErrTokenEndpointUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Token{}, fmt.Errorf("%w: read response: %v", ErrTokenEndpointUnavailable, err)
	}

	var parsed tokenResponse
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			detail = parsed.Error
			if parsed.ErrorDescription != "" {
				detail = parsed.ErrorDescription
			}
		}
		return Token{}, fmt.Errorf("%w: status %d: %s", ErrTokenExchangeFailed, resp.StatusCode, detail)
	}

	if err := json.Unmarshal(body, &parsed); err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrCorruptedUpstreamResponse, err)
	}
	if parsed.Error != "" {
		detail := parsed.Error
		if parsed.ErrorDescription != "" {
			detail = parsed.ErrorDescription
		}
		return Token{}, fmt.Errorf("%w: %s", ErrTokenExchangeFailed, detail)
	}
	if parsed.AccessToken == "" || parsed.RefreshToken == "" {
		return Token{}, fmt.Errorf("%w: missing token fields", ErrCorruptedUpstreamResponse)
	}

	expiresIn, err := parseExpiresIn(parsed.ExpiresIn)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", ErrCorruptedUpstreamResponse, err)
	}

	tokenType := parsed.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}

	return Token{
		AccessToken:  parsed.AccessToken,
		RefreshToken: parsed.RefreshToken,
		TokenType:    tokenType,
		ExpiresAt:    m.now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

// parseExpiresIn accepts both numeric and string-encoded expires_in values;
// upstream emits either depending on endpoint version.
func parseExpiresIn(raw json.RawMessage) (int64, error) {
	if len(raw) == 0 {
		return 0, fmt.Errorf("missing expires_in")
	}
	trimmed := strings.Trim(string(raw), `"`)
	seconds, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid expires_in %q", trimmed)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("non-positive expires_in %d", seconds)
	}
	return seconds, nil
}
