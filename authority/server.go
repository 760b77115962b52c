package authority

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andrewreder/x402-marketplace/telemetry"
	"github.com/andrewreder/x402-marketplace/x402"
)

// ServerConfig configures the authority's HTTP surface.
type ServerConfig struct {
	// SecretKey, when set, must match the x-secret-key header on /settle.
	SecretKey string
	GinMode   string
	Logger    *zap.Logger
}

// NewRouter exposes a over HTTP:
//
//	POST /settle       settle one call
//	GET  /settlements  recorded settlements, newest first
//	GET  /healthz      liveness
func NewRouter(a *Authority, cfg ServerConfig) *gin.Engine {
	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(telemetry.RequestID())
	router.Use(telemetry.RequestLogger(logger))

	h := &handler{authority: a, secretKey: cfg.SecretKey, logger: logger}
	router.GET("/healthz", h.health)
	router.POST("/settle", h.requireSecret, h.settle)
	router.GET("/settlements", h.requireSecret, h.settlements)
	return router
}

type handler struct {
	authority *Authority
	secretKey string
	logger    *zap.Logger
}

func (h *handler) requireSecret(c *gin.Context) {
	if h.secretKey == "" {
		c.Next()
		return
	}
	got := c.GetHeader(x402.SecretKeyHeader)
	if subtle.ConstantTimeCompare([]byte(got), []byte(h.secretKey)) != 1 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid secret key"})
		return
	}
	c.Next()
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *handler) settle(c *gin.Context) {
	var req x402.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	outcome, err := h.authority.Settle(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrInvalidRequest) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logger.Error("settlement failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settlement failed"})
		return
	}
	if v, ok := outcome.Result.ResponseHeaders[x402.HeaderPaymentRequired]; ok {
		c.Header(x402.HeaderPaymentRequired, v)
	}
	c.JSON(outcome.Status, outcome.Result)
}

func (h *handler) settlements(c *gin.Context) {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}
	list, err := h.authority.Ledger().List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list settlements", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list settlements"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settlements": list, "total": len(list)})
}
