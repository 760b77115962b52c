// Package providers implements the upstream data sources behind the paid APIs.
package providers

import (
	"fmt"
	"net/http"
	"time"
)

const maxUpstreamBytes = 1 << 20 // 1MB

// Error is an upstream failure that should be relayed to the caller with
// the upstream status.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

func defaultClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return &http.Client{Timeout: 10 * time.Second}
}
