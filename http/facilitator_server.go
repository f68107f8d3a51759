package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	x402 "github.com/bankofai/x402-tron"
	"github.com/bankofai/x402-tron/logger"
)

// RequestIDHeader echoes the id assigned to each facilitator request
const RequestIDHeader = "X-Request-ID"

// Handler timeouts. Settle covers the receipt wait.
const (
	supportedTimeout = 10 * time.Second
	verifyTimeout    = 30 * time.Second
	settleTimeout    = 3 * time.Minute
)

// FacilitatorServerOption configures NewFacilitatorServer
type FacilitatorServerOption func(*facilitatorServer)

func WithServerLogger(l logger.Logger) FacilitatorServerOption {
	return func(s *facilitatorServer) {
		s.logger = logger.OrNoop(l)
	}
}

// WithVersion is reported by /health
func WithVersion(version string) FacilitatorServerOption {
	return func(s *facilitatorServer) {
		s.version = version
	}
}

type facilitatorServer struct {
	facilitator x402.FacilitatorClient
	logger      logger.Logger
	version     string
}

// NewFacilitatorServer exposes facilitator over HTTP:
//
//	GET  /health
//	GET  /supported
//	POST /fee/quote
//	POST /verify
//	POST /settle
func NewFacilitatorServer(facilitator x402.FacilitatorClient, opts ...FacilitatorServerOption) *gin.Engine {
	s := &facilitatorServer{facilitator: facilitator, logger: logger.NoopLogger{}, version: "dev"}
	for _, opt := range opts {
		opt(s)
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.requestID)

	r.GET("/health", s.health)
	r.GET("/supported", s.supported)
	r.POST("/fee/quote", s.feeQuote)
	r.POST("/verify", s.verify)
	r.POST("/settle", s.settle)
	return r
}

func (s *facilitatorServer) requestID(c *gin.Context) {
	id := c.GetHeader(RequestIDHeader)
	if id == "" {
		id = uuid.NewString()
	}
	c.Set(RequestIDHeader, id)
	c.Header(RequestIDHeader, id)

	start := time.Now()
	c.Next()
	s.logger.Debug("facilitator request", map[string]interface{}{
		"request_id": id,
		"method":     c.Request.Method,
		"path":       c.FullPath(),
		"status":     c.Writer.Status(),
		"duration":   time.Since(start).String(),
	})
}

func (s *facilitatorServer) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
}

func (s *facilitatorServer) supported(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), supportedTimeout)
	defer cancel()

	supported, err := s.facilitator.Supported(ctx)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, supported)
}

func (s *facilitatorServer) feeQuote(c *gin.Context) {
	var req x402.FeeQuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), verifyTimeout)
	defer cancel()

	quote, err := s.facilitator.FeeQuote(ctx, req.Accept, req.PaymentPermitContext)
	switch {
	case errors.Is(err, x402.ErrUnsupportedNetwork):
		s.fail(c, http.StatusNotFound, err)
	case errors.Is(err, x402.ErrValidation) || errors.Is(err, x402.ErrConfiguration):
		s.fail(c, http.StatusBadRequest, err)
	case err != nil:
		s.fail(c, http.StatusInternalServerError, err)
	default:
		c.JSON(http.StatusOK, quote)
	}
}

func (s *facilitatorServer) verify(c *gin.Context) {
	var req x402.VerifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), verifyTimeout)
	defer cancel()

	result, err := s.facilitator.Verify(ctx, req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *facilitatorServer) settle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.fail(c, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), settleTimeout)
	defer cancel()

	result, err := s.facilitator.Settle(ctx, req.PaymentPayload, req.PaymentRequirements)
	if err != nil {
		s.fail(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *facilitatorServer) fail(c *gin.Context, status int, err error) {
	s.logger.Warn("facilitator request failed", map[string]interface{}{
		"request_id": c.GetString(RequestIDHeader),
		"path":       c.FullPath(),
		"status":     status,
		"error":      err.Error(),
	})
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error(), "requestId": c.GetString(RequestIDHeader)})
}
