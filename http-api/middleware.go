package httpapi

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/andrewreder/x402-marketplace/telemetry"
	"github.com/andrewreder/x402-marketplace/x402"
)

var (
	corsAllowHeaders = strings.Join([]string{
		"Origin", "Content-Type", "Authorization",
		x402.HeaderPaymentSignature, x402.HeaderXPayment, telemetry.RequestIDHeader,
	}, ", ")
	corsExposeHeaders = strings.Join([]string{
		x402.HeaderPaymentRequired, x402.HeaderPaymentResponse, x402.HeaderXPaymentResponse,
		telemetry.RequestIDHeader,
	}, ", ")
)

// corsMiddleware lets browser wallets send proofs and read challenges and receipts.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", corsAllowHeaders)
		c.Header("Access-Control-Expose-Headers", corsExposeHeaders)
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
