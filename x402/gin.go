package x402

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ReceiptContextKey holds the receipt headers of a settled call in the gin context.
const ReceiptContextKey = "x402.receipt"

// Protect returns gin middleware that gates the remaining handlers behind route.
// On success receipt headers are written before the handler runs, so any
// response it produces carries them.
func (g *Gate) Protect(route Route) gin.HandlerFunc {
	return func(c *gin.Context) {
		res := g.Authorize(c.Request, route)
		for k, v := range res.Headers {
			c.Header(k, v)
		}
		if !res.Authorized {
			c.Data(res.Status, DefaultMimeType, res.Body)
			c.Abort()
			return
		}
		c.Set(ReceiptContextKey, res.Headers)
		c.Next()
	}
}

// Wrap gates a plain net/http handler behind route.
func (g *Gate) Wrap(route Route, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		res := g.Authorize(r, route)
		for k, v := range res.Headers {
			w.Header().Set(k, v)
		}
		if !res.Authorized {
			w.Header().Set("Content-Type", DefaultMimeType)
			w.WriteHeader(res.Status)
			_, _ = w.Write(res.Body)
			return
		}
		next.ServeHTTP(w, r)
	})
}
