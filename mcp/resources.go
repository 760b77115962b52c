package mcp

import (
	"fmt"
	"strings"
	"time"

	"github.com/andrewreder/x402-marketplace/catalog"
	"github.com/andrewreder/x402-marketplace/x402"
)

// ResourceOptions describes how catalog listings are priced and addressed.
type ResourceOptions struct {
	BaseURL           string
	PayTo             string
	Network           string
	Asset             string
	AssetDecimals     int
	MaxTimeoutSeconds int
	// LastUpdated stamps every entry; zero means now.
	LastUpdated time.Time
}

// BuildDiscoveryResources renders listings as x402 v2 discovery entries.
// The bazaar extension of each listing is exposed under metadata.bazaar.
func BuildDiscoveryResources(listings []catalog.Listing, opts ResourceOptions) ([]X402DiscoveryResource, error) {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	lastUpdated := opts.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = time.Now().UTC()
	}
	timeout := opts.MaxTimeoutSeconds
	if timeout <= 0 {
		timeout = x402.DefaultMaxTimeoutSeconds
	}

	out := make([]X402DiscoveryResource, 0, len(listings))
	for _, l := range listings {
		amount, err := x402.AtomicAmount(l.Price, opts.AssetDecimals)
		if err != nil {
			return nil, fmt.Errorf("listing %s: %w", l.ID, err)
		}
		resourceURL := baseURL + l.Endpoint
		method := strings.ToUpper(l.Method)

		input := map[string]any{"type": "http", "method": method}
		if len(l.Parameters) > 0 {
			params := make(map[string]any, len(l.Parameters))
			for _, p := range l.Parameters {
				params[p.Name] = p.Description
			}
			if x402.IsBodyMethod(method) {
				input["body"] = params
			} else {
				input["queryParams"] = params
			}
		}

		accepts := []X402PaymentRequirements{
			{
				Scheme:            "exact",
				Network:           opts.Network,
				Amount:            amount,
				MaxAmountRequired: amount,
				Asset:             opts.Asset,
				PayTo:             opts.PayTo,
				Resource:          resourceURL,
				Description:       l.Description,
				MimeType:          x402.DefaultMimeType,
				MaxTimeoutSeconds: timeout,
				OutputSchema:      map[string]any{"input": input},
				Extra:             map[string]any{"name": "USDC", "version": "2"},
			},
		}

		metadata := map[string]any{
			"id":          l.ID,
			"name":        l.Name,
			"description": l.Description,
			"category":    l.Category,
			"price":       l.DisplayPrice(),
		}
		if l.Discovery != nil {
			metadata[x402.BazaarKey] = x402.BuildDiscoveryExtension(*l.Discovery, method)
		}

		out = append(out, X402DiscoveryResource{
			Accepts:     &accepts,
			LastUpdated: lastUpdated,
			Resource:    resourceURL,
			Type:        "http",
			X402Version: 2,
			Metadata:    &metadata,
		})
	}
	return out, nil
}

// filterDiscoveryResources keeps items whose URL or description contains query.
func filterDiscoveryResources(items []X402DiscoveryResource, query string) []X402DiscoveryResource {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return items
	}
	filtered := make([]X402DiscoveryResource, 0, len(items))
	for _, item := range items {
		if strings.Contains(strings.ToLower(item.Resource), query) ||
			strings.Contains(strings.ToLower(resourceDescription(item)), query) {
			filtered = append(filtered, item)
		}
	}
	return filtered
}

func resourceDescription(item X402DiscoveryResource) string {
	var parts []string
	if item.Accepts != nil {
		for _, a := range *item.Accepts {
			parts = append(parts, a.Description)
		}
	}
	if item.Metadata != nil {
		for _, key := range []string{"name", "description", "category"} {
			if s, ok := (*item.Metadata)[key].(string); ok {
				parts = append(parts, s)
			}
		}
	}
	return strings.Join(parts, " ")
}

func paginateResources(
	items []X402DiscoveryResource,
	limit *int,
	offset *int,
) ([]X402DiscoveryResource, SearchResourcesPagination) {
	total := len(items)
	start := 0
	if offset != nil && *offset > 0 {
		start = min(*offset, total)
	}
	end := total
	if limit != nil && *limit >= 0 {
		end = min(start+*limit, total)
	}

	var limitPtr, offsetPtr *int
	if limit != nil {
		value := *limit
		limitPtr = &value
	}
	if offset != nil {
		value := *offset
		offsetPtr = &value
	}
	return items[start:end], SearchResourcesPagination{
		Limit:  limitPtr,
		Offset: offsetPtr,
		Total:  &total,
	}
}
