package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vadiminshakov/tvbridge/internal/domain"
)

// webhookPayload is the alert body configured in the charting service.
type webhookPayload struct {
	Ticker     string          `json:"ticker"`
	Action     string          `json:"action"`
	Price      decimal.Decimal `json:"price"`
	Passphrase string          `json:"passphrase,omitempty"`
	Time       *time.Time      `json:"time,omitempty"`
}

func (p webhookPayload) signal(receivedAt time.Time) (domain.Signal, error) {
	side, err := domain.ParseSide(p.Action)
	if err != nil {
		return domain.Signal{}, err
	}
	if p.Time != nil && !p.Time.IsZero() {
		receivedAt = *p.Time
	}
	sig := domain.Signal{
		Symbol:     domain.NormalizeSymbol(p.Ticker),
		Side:       side,
		Price:      p.Price,
		ReceivedAt: receivedAt,
	}
	return sig, sig.Validate()
}

type tickerRequest struct {
	OrderSizeUSD decimal.Decimal `json:"order_size_usd"`
	MinProfitPct decimal.Decimal `json:"min_profit_pct"`
	DCAEnabled   bool            `json:"dca_enabled"`
	LotSize      decimal.Decimal `json:"lot_size"`
}

func (s *Server) handleWebhook(c *gin.Context) {
	receivedAt := time.Now().UTC()

	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		s.l.Warn("webhook bind failed", zap.String("ip", c.ClientIP()), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"outcome": domain.ReasonError, "error": err.Error()})
		return
	}
	if !s.passphraseMatches(payload.Passphrase) {
		s.l.Warn("webhook rejected: bad passphrase", zap.String("ip", c.ClientIP()))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid passphrase"})
		return
	}

	sig, err := payload.signal(receivedAt)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"outcome": domain.ReasonError, "error": err.Error()})
		return
	}

	ev, err := s.deps.Signals.HandleSignal(c.Request.Context(), sig)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"outcome": ev.Outcome, "intent_id": ev.IntentID, "quantity": ev.Quantity})
	case domain.IsRejection(err):
		c.JSON(http.StatusOK, gin.H{"outcome": ev.Outcome, "message": ev.Message})
	case errors.Is(err, domain.ErrSubmitUnconfirmed):
		// the order is tracked and will be reconciled with the broker
		c.JSON(http.StatusAccepted, gin.H{"outcome": ev.Outcome, "intent_id": ev.IntentID, "message": ev.Message})
	case errors.Is(err, domain.ErrMalformedSignal):
		c.JSON(http.StatusBadRequest, gin.H{"outcome": ev.Outcome, "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"outcome": ev.Outcome, "error": err.Error()})
	}
}

func (s *Server) passphraseMatches(got string) bool {
	if s.cfg.Passphrase == "" {
		return true
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.Passphrase)) == 1
}

// requireToken guards admin routes with the passphrase as a bearer token.
func (s *Server) requireToken(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if token == "" {
		token = c.Query("token")
	}
	if !s.passphraseMatches(token) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Next()
}

func (s *Server) handleListTickers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tickers": s.deps.Tickers.List()})
}

func (s *Server) handleGetTicker(c *gin.Context) {
	cfg, err := s.deps.Tickers.Get(c.Param("symbol"))
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleSetTicker(c *gin.Context) {
	var req tickerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cfg, err := s.deps.Tickers.Set(c.Param("symbol"), domain.TickerParams{
		OrderSizeUSD: req.OrderSizeUSD,
		MinProfitPct: req.MinProfitPct,
		DCAEnabled:   req.DCAEnabled,
		LotSize:      req.LotSize,
	})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.l.Info("Ticker config updated",
		zap.String("symbol", cfg.Symbol),
		zap.String("order_size_usd", cfg.OrderSizeUSD.String()),
		zap.String("min_profit_pct", cfg.MinProfitPct.String()),
		zap.Bool("dca", cfg.DCAEnabled))
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleUnsetTicker(c *gin.Context) {
	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	if err := s.deps.Tickers.Unset(symbol); err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.l.Info("Ticker config removed", zap.String("symbol", symbol))
	c.Status(http.StatusNoContent)
}

func (s *Server) handleState(c *gin.Context) {
	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	resp := gin.H{"symbol": symbol, "state": s.deps.State.State(symbol)}
	if h, ok := s.deps.State.Holding(symbol); ok {
		resp["holding"] = h
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleOrders(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"orders": s.deps.State.PendingOrders()})
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	intentID := c.Param("intent_id")
	fill, err := s.deps.Orders.CancelOrder(c.Request.Context(), intentID)
	if err != nil {
		s.l.Warn("order cancel failed", zap.String("intent_id", intentID), zap.Error(err))
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	s.l.Info("Order cancelled",
		zap.String("intent_id", intentID),
		zap.String("status", string(fill.Status)),
		zap.String("filled_qty", fill.FilledQty.String()))
	c.JSON(http.StatusOK, gin.H{"intent_id": intentID, "status": fill.Status, "filled_qty": fill.FilledQty})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidParameter):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
