package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"fx-market-data/internal/auth"
	"fx-market-data/internal/store"
	"fx-market-data/internal/stream"
	"fx-market-data/internal/supervisor"
)

// Options configures the read API listener.
type Options struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func (o *Options) applyDefaults() {
	if o.Addr == "" {
		o.Addr = ":8080"
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 10 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
}

// Server exposes cached prices, ingestion health, and the authorization
// flow over HTTP. It never touches the upstream venue directly; every read
// is served from the store.
type Server struct {
	store  store.Store
	auth   *auth.Manager
	logger zerolog.Logger
	srv    *http.Server
}

// NewServer wires routes into a gin engine and prepares the listener.
func NewServer(opts Options, st store.Store, manager *auth.Manager, logger zerolog.Logger) *Server {
	opts.applyDefaults()

	s := &Server{
		store:  st,
		auth:   manager,
		logger: logger,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/api/price/:symbol", s.priceHandler)
	router.GET("/api/prices", s.pricesHandler)
	router.GET("/api/ticks/:symbol", s.ticksHandler)
	router.GET("/api/health", s.healthHandler)
	router.GET("/auth/login", s.loginHandler)
	router.GET("/auth/callback", s.callbackHandler)

	s.srv = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}
	return s
}

// Handler exposes the underlying router, used by tests.
func (s *Server) Handler() http.Handler { return s.srv.Handler }

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info().Str("addr", s.srv.Addr).Msg("read api listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) priceHandler(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	raw, err := s.store.Get(c.Request.Context(), store.TickKey(symbol))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"detail": "No data for symbol"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "store unavailable"})
		return
	}
	tick, err := stream.DecodeTick(raw)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "corrupted tick data"})
		return
	}
	c.JSON(http.StatusOK, tick)
}

func (s *Server) pricesHandler(c *gin.Context) {
	keys, err := s.store.Scan(c.Request.Context(), store.TickPrefix)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "store unavailable"})
		return
	}
	sort.Strings(keys)

	ticks := make([]stream.Tick, 0, len(keys))
	for _, key := range keys {
		raw, err := s.store.Get(c.Request.Context(), key)
		if err != nil {
			// Entries may expire between Scan and Get.
			continue
		}
		tick, err := stream.DecodeTick(raw)
		if err != nil {
			s.logger.Warn().Str("key", key).Err(err).Msg("skipping corrupted tick")
			continue
		}
		ticks = append(ticks, tick)
	}
	c.JSON(http.StatusOK, gin.H{"count": len(ticks), "prices": ticks})
}

func (s *Server) ticksHandler(c *gin.Context) {
	symbol := strings.ToUpper(c.Param("symbol"))
	limit := int64(-1)
	if rawLimit := c.Query("limit"); rawLimit != "" {
		parsed, err := strconv.ParseInt(rawLimit, 10, 64)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a positive integer"})
			return
		}
		limit = parsed - 1
	}

	entries, err := s.store.Range(c.Request.Context(), store.HistoryKey(symbol), 0, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "store unavailable"})
		return
	}
	if len(entries) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": "No data for symbol"})
		return
	}

	ticks := make([]stream.Tick, 0, len(entries))
	for _, raw := range entries {
		tick, err := stream.DecodeTick(raw)
		if err != nil {
			continue
		}
		ticks = append(ticks, tick)
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "count": len(ticks), "ticks": ticks})
}

func (s *Server) healthHandler(c *gin.Context) {
	resp := gin.H{"status": "unknown"}
	code := http.StatusOK

	raw, err := s.store.Get(c.Request.Context(), store.StatusKey)
	if err == nil {
		record, decErr := supervisor.DecodeHealthRecord(raw)
		if decErr == nil {
			resp["status"] = string(record.Status)
			resp["restart_count"] = record.RestartCount
			resp["symbols"] = record.Symbols
			resp["updated_at"] = record.Timestamp
			if record.Status == supervisor.StatusFailed {
				code = http.StatusServiceUnavailable
			}
		}
	}

	if hb, err := s.store.Get(c.Request.Context(), store.HeartbeatKey); err == nil {
		resp["heartbeat"] = hb
	} else {
		resp["heartbeat"] = nil
	}

	c.JSON(code, resp)
}

func (s *Server) loginHandler(c *gin.Context) {
	authURL, _, err := s.auth.BeginAuthorization(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "could not start authorization"})
		return
	}
	c.Redirect(http.StatusFound, authURL)
}

func (s *Server) callbackHandler(c *gin.Context) {
	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "missing authorization code"})
		return
	}

	_, err := s.auth.CompleteAuthorization(c.Request.Context(), code, c.Query("state"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"detail": "authorization complete"})
	case errors.Is(err, auth.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid or expired state"})
	case errors.Is(err, auth.ErrTokenExchangeFailed), errors.Is(err, auth.ErrCorruptedUpstreamResponse):
		c.JSON(http.StatusBadGateway, gin.H{"detail": "token exchange failed"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"detail": "authorization failed"})
	}
}
