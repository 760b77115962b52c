package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/andrewreder/x402-marketplace/providers"
)

const maxUUIDs = 100

type uuidResponse struct {
	UUIDs     []string `json:"uuids"`
	Count     int      `json:"count"`
	Timestamp string   `json:"timestamp"`
}

// GET /api/weather?city=London
func (h *handlers) weatherAPI(c *gin.Context) {
	city := strings.TrimSpace(c.Query("city"))
	if city == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameter: city"})
		return
	}
	if h.weather == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Weather API is not configured"})
		return
	}

	weather, err := h.weather.Current(c.Request.Context(), city)
	if err != nil {
		h.upstreamError(c, "Failed to fetch weather data", err)
		return
	}
	c.JSON(http.StatusOK, weather)
}

// GET /api/exchange-rate?from=USD&to=EUR&amount=100
func (h *handlers) exchangeRateAPI(c *gin.Context) {
	from := strings.TrimSpace(c.Query("from"))
	to := strings.TrimSpace(c.Query("to"))
	if from == "" || to == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required parameters: from and to currency codes"})
		return
	}
	amount, err := strconv.ParseFloat(c.DefaultQuery("amount", "1"), 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a number"})
		return
	}
	if h.rates == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Exchange Rate API is not configured"})
		return
	}

	conversion, err := h.rates.Convert(c.Request.Context(), from, to, amount)
	if err != nil {
		h.upstreamError(c, "Failed to fetch exchange rate data", err)
		return
	}
	c.JSON(http.StatusOK, conversion)
}

// GET /api/joke
func (h *handlers) jokeAPI(c *gin.Context) {
	c.JSON(http.StatusOK, providers.RandomJoke(h.now()))
}

// GET /api/uuid?count=5
func (h *handlers) uuidAPI(c *gin.Context) {
	count, err := strconv.Atoi(c.Query("count"))
	if err != nil || count < 1 {
		count = 1
	}
	count = min(count, maxUUIDs)

	ids := make([]string, count)
	for i := range ids {
		ids[i] = uuid.NewString()
	}
	c.JSON(http.StatusOK, uuidResponse{
		UUIDs:     ids,
		Count:     len(ids),
		Timestamp: h.now().UTC().Format(providers.TimestampLayout),
	})
}

// upstreamError relays provider failures with their status; anything else is a 500.
func (h *handlers) upstreamError(c *gin.Context, fallback string, err error) {
	var upstream *providers.Error
	if errors.As(err, &upstream) {
		c.JSON(upstream.Status, gin.H{"error": upstream.Message})
		return
	}
	h.logger.Error("upstream request failed",
		zap.String("path", c.Request.URL.Path),
		zap.Error(err),
	)
	c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
}
