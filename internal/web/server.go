// Package web exposes the webhook, admin and streaming HTTP surface.
package web

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/crypto/acme/autocert"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

const (
	DefaultAddr         = ":8080"
	defaultPollInterval = 2 * time.Second
	heartbeatInterval   = 30 * time.Second
)

// SignalHandler runs one signal through the decision pipeline.
type SignalHandler interface {
	HandleSignal(ctx context.Context, sig domain.Signal) (domain.DecisionEvent, error)
}

// TickerStore is the ticker configuration admin surface.
type TickerStore interface {
	Set(symbol string, params domain.TickerParams) (domain.TickerConfig, error)
	Get(symbol string) (domain.TickerConfig, error)
	Unset(symbol string) error
	List() []domain.TickerConfig
}

// DecisionReader reads the decision journal by index.
type DecisionReader interface {
	EventsAfter(index uint64) ([]domain.DecisionEventRecord, error)
}

// StateReader answers position and order queries.
type StateReader interface {
	State(symbol string) domain.SymbolState
	Holding(symbol string) (domain.Holding, bool)
	PendingOrders() []domain.OrderRecord
}

// OrderCanceller cancels an open order and closes its record.
type OrderCanceller interface {
	CancelOrder(ctx context.Context, intentID string) (domain.FillResult, error)
}

// Config configures the HTTP server.
type Config struct {
	Addr         string
	// Passphrase, when set, must match the webhook payload and the admin bearer token.
	Passphrase   string
	// TLSDomains enables ACME certificates for the listed hosts.
	TLSDomains   []string
	CertCacheDir string
	PollInterval time.Duration
}

// Deps are the collaborators served over HTTP.
type Deps struct {
	Signals   SignalHandler
	Tickers   TickerStore
	Decisions DecisionReader
	State     StateReader
	Orders    OrderCanceller
	Metrics   http.Handler
}

// Server is the gin HTTP server.
type Server struct {
	cfg    Config
	deps   Deps
	router *gin.Engine
	l      *zap.Logger
}

// NewServer builds the router.
func NewServer(cfg Config, deps Deps, l *zap.Logger) (*Server, error) {
	if deps.Signals == nil {
		return nil, errors.New("signal handler is required")
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if l == nil {
		l = zap.NewNop()
	}

	s := &Server{cfg: cfg, deps: deps, l: l}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics))
	}
	router.POST("/webhook", s.handleWebhook)

	admin := router.Group("/", s.requireToken)
	if deps.Tickers != nil {
		admin.GET("/tickers", s.handleListTickers)
		admin.GET("/tickers/:symbol", s.handleGetTicker)
		admin.PUT("/tickers/:symbol", s.handleSetTicker)
		admin.DELETE("/tickers/:symbol", s.handleUnsetTicker)
	}
	if deps.State != nil {
		admin.GET("/state/:symbol", s.handleState)
		admin.GET("/orders", s.handleOrders)
	}
	if deps.Orders != nil {
		admin.DELETE("/orders/:intent_id", s.handleCancelOrder)
	}
	if deps.Decisions != nil {
		admin.GET("/decisions/stream", s.handleDecisionStream)
	}

	s.router = router
	return s, nil
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, over TLS when domains are configured.
func (s *Server) Start(ctx context.Context) error {
	if len(s.cfg.TLSDomains) > 0 {
		return s.startWithAutoTLS(ctx)
	}

	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	s.l.Info("Webhook server listening", zap.String("addr", s.cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve http")
	}
	return nil
}

// startWithAutoTLS also runs a port 80 listener for ACME HTTP-01 challenges.
func (s *Server) startWithAutoTLS(ctx context.Context) error {
	cacheDir := s.cfg.CertCacheDir
	if cacheDir == "" {
		cacheDir = "cert-cache"
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		HostPolicy: autocert.HostWhitelist(s.cfg.TLSDomains...),
		Cache:      autocert.DirCache(cacheDir),
	}

	httpSrv := &http.Server{
		Addr:              ":80",
		Handler:           manager.HTTPHandler(nil),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	tlsConfig := manager.TLSConfig()
	tlsConfig.MinVersion = tls.VersionTLS12

	httpsSrv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
		TLSConfig:         tlsConfig,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			s.l.Warn("acme server shutdown", zap.Error(err))
		}
		if err := httpsSrv.Shutdown(shutdownCtx); err != nil {
			s.l.Warn("https server shutdown", zap.Error(err))
		}
	}()

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.l.Error("acme server failed", zap.Error(err))
		}
	}()

	s.l.Info("Webhook server listening with TLS",
		zap.String("addr", s.cfg.Addr), zap.Strings("domains", s.cfg.TLSDomains))
	if err := httpsSrv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "serve https")
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.l.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("dur", time.Since(start)),
		)
	}
}
