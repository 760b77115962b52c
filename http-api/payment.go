package httpapi

import (
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/andrewreder/x402-marketplace/catalog"
	"github.com/andrewreder/x402-marketplace/x402"
)

// registerPaidRoutes mounts every catalog listing behind the gate. Each
// listing must have a handler; the route's price, description and bazaar
// metadata come from the catalog so discovery and enforcement never drift.
func registerPaidRoutes(r gin.IRoutes, gate *x402.Gate, h *handlers) error {
	paid := map[string]gin.HandlerFunc{
		"weather-api":       h.weatherAPI,
		"exchange-rate-api": h.exchangeRateAPI,
		"joke-api":          h.jokeAPI,
		"uuid-api":          h.uuidAPI,
	}
	for _, listing := range catalog.All() {
		handler, ok := paid[listing.ID]
		if !ok {
			return fmt.Errorf("no handler for listing %q", listing.ID)
		}
		r.Handle(listing.Method, listing.Endpoint, gate.Protect(listing.Route()), handler)
	}
	return nil
}
