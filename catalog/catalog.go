// Package catalog is the static registry of paid APIs offered by the marketplace.
package catalog

import (
	"strings"

	extypes "github.com/coinbase/x402/go/extensions/types"

	"github.com/andrewreder/x402-marketplace/x402"
)

// Parameter documents one request parameter of a listing.
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Required    bool   `json:"required"`
	Description string `json:"description"`
}

// Listing is one API in the marketplace.
type Listing struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
	// Price is a decimal amount of the settlement asset, e.g. "0.001".
	Price           string         `json:"price"`
	Endpoint        string         `json:"endpoint"`
	Method          string         `json:"method"`
	Icon            string         `json:"icon"`
	Parameters      []Parameter    `json:"parameters"`
	ResponseExample map[string]any `json:"responseExample,omitempty"`

	// Summary is the one-line description sent to the Settlement Authority.
	Summary   string                  `json:"-"`
	Discovery *x402.DiscoveryMetadata `json:"-"`
}

// DisplayPrice renders the price the way the storefront shows it.
func (l Listing) DisplayPrice() string {
	return "$" + l.Price
}

// Route is the gate configuration for the listing's endpoint.
func (l Listing) Route() x402.Route {
	return x402.Route{Price: l.Price, Description: l.Summary, Discovery: l.Discovery}
}

// All returns every listing in registry order.
func All() []Listing {
	return append([]Listing(nil), listings...)
}

// ByID returns the listing with the given id.
func ByID(id string) (Listing, bool) {
	for _, l := range listings {
		if l.ID == id {
			return l, true
		}
	}
	return Listing{}, false
}

// ByCategory returns listings whose category matches case-insensitively.
func ByCategory(category string) []Listing {
	out := []Listing{}
	for _, l := range listings {
		if strings.EqualFold(l.Category, category) {
			out = append(out, l)
		}
	}
	return out
}

// Categories returns the distinct categories in first-seen order.
func Categories() []string {
	seen := make(map[string]bool, len(listings))
	out := make([]string, 0, len(listings))
	for _, l := range listings {
		if !seen[l.Category] {
			seen[l.Category] = true
			out = append(out, l.Category)
		}
	}
	return out
}

func prop(typ, description string) map[string]any {
	p := map[string]any{"type": typ}
	if description != "" {
		p["description"] = description
	}
	return p
}

var listings = []Listing{
	{
		ID:          "weather-api",
		Name:        "Weather API",
		Description: "Get real-time weather data for any city worldwide. Returns temperature, humidity, wind speed, and weather conditions.",
		Category:    "Weather",
		Price:       "0.001",
		Endpoint:    "/api/weather",
		Method:      "GET",
		Icon:        "🌤️",
		Parameters: []Parameter{
			{Name: "city", Type: "string", Required: true, Description: "City name (e.g., 'London', 'New York')"},
		},
		ResponseExample: map[string]any{
			"city":        "London",
			"temperature": 15.2,
			"humidity":    72,
			"windSpeed":   12.5,
			"description": "Partly cloudy",
			"icon":        "03d",
		},
		Summary: "Get real-time weather data for any city worldwide",
		Discovery: &x402.DiscoveryMetadata{
			Input: map[string]any{"city": "London"},
			InputSchema: extypes.JSONSchema{
				"properties": map[string]any{
					"city": prop("string", "City name (e.g., 'London', 'New York')"),
				},
				"required": []string{"city"},
			},
			Output: &extypes.OutputConfig{
				Example: map[string]any{
					"city":        "London",
					"country":     "GB",
					"temperature": 15.2,
					"feelsLike":   14.5,
					"humidity":    72,
					"windSpeed":   12.5,
					"description": "partly cloudy",
					"icon":        "03d",
					"timestamp":   "2026-01-01T12:00:00.000Z",
				},
				Schema: extypes.JSONSchema{
					"properties": map[string]any{
						"city":        prop("string", ""),
						"country":     prop("string", ""),
						"temperature": prop("number", "Temperature in Celsius"),
						"feelsLike":   prop("number", ""),
						"humidity":    prop("number", "Humidity percentage"),
						"windSpeed":   prop("number", "Wind speed in m/s"),
						"description": prop("string", ""),
						"icon":        prop("string", ""),
						"timestamp":   prop("string", ""),
					},
					"required": []string{"city", "temperature", "humidity"},
				},
			},
		},
	},
	{
		ID:          "exchange-rate-api",
		Name:        "Exchange Rate API",
		Description: "Get real-time currency exchange rates. Convert between 150+ currencies with up-to-date rates.",
		Category:    "Finance",
		Price:       "0.001",
		Endpoint:    "/api/exchange-rate",
		Method:      "GET",
		Icon:        "💱",
		Parameters: []Parameter{
			{Name: "from", Type: "string", Required: true, Description: "Source currency code (e.g., 'USD', 'EUR')"},
			{Name: "to", Type: "string", Required: true, Description: "Target currency code (e.g., 'GBP', 'JPY')"},
			{Name: "amount", Type: "number", Required: false, Description: "Amount to convert (default: 1)"},
		},
		ResponseExample: map[string]any{
			"from":      "USD",
			"to":        "EUR",
			"rate":      0.92,
			"amount":    100,
			"result":    92.0,
			"timestamp": "2026-01-23T15:00:00Z",
		},
		Summary: "Get real-time currency exchange rates",
		Discovery: &x402.DiscoveryMetadata{
			Category: "finance",
			Tags:     []string{"finance", "exchange-rate", "currency", "forex"},
			Input:    map[string]any{"from": "USD", "to": "EUR", "amount": "100"},
			InputSchema: extypes.JSONSchema{
				"properties": map[string]any{
					"from":   prop("string", "Source currency code (e.g., 'USD', 'EUR')"),
					"to":     prop("string", "Target currency code (e.g., 'GBP', 'JPY')"),
					"amount": prop("number", "Amount to convert (default: 1)"),
				},
				"required": []string{"from", "to"},
			},
			Output: &extypes.OutputConfig{
				Example: map[string]any{
					"from":      "USD",
					"to":        "EUR",
					"rate":      0.92,
					"amount":    100,
					"result":    92.0,
					"timestamp": "2026-01-01T12:00:00.000Z",
				},
				Schema: extypes.JSONSchema{
					"properties": map[string]any{
						"from":      prop("string", ""),
						"to":        prop("string", ""),
						"rate":      prop("number", "Exchange rate"),
						"amount":    prop("number", ""),
						"result":    prop("number", "Converted amount"),
						"timestamp": prop("string", ""),
					},
					"required": []string{"from", "to", "rate", "result"},
				},
			},
		},
	},
	{
		ID:          "joke-api",
		Name:        "Random Joke API",
		Description: "Get random jokes for your applications. Perfect for chatbots, entertainment apps, and more.",
		Category:    "Entertainment",
		Price:       "0.0005",
		Endpoint:    "/api/joke",
		Method:      "GET",
		Icon:        "😂",
		Parameters:  []Parameter{},
		ResponseExample: map[string]any{
			"setup":     "Why do programmers prefer dark mode?",
			"punchline": "Because light attracts bugs!",
			"category":  "programming",
		},
		Summary: "Get a random joke",
		Discovery: &x402.DiscoveryMetadata{
			Output: &extypes.OutputConfig{
				Example: map[string]any{
					"setup":     "Why do programmers prefer dark mode?",
					"punchline": "Because light attracts bugs!",
					"category":  "programming",
					"timestamp": "2026-01-01T12:00:00.000Z",
				},
				Schema: extypes.JSONSchema{
					"properties": map[string]any{
						"setup":     prop("string", "The joke setup/question"),
						"punchline": prop("string", "The joke punchline/answer"),
						"category":  prop("string", "Joke category (programming, web3)"),
						"timestamp": prop("string", ""),
					},
					"required": []string{"setup", "punchline", "category"},
				},
			},
		},
	},
	{
		ID:          "uuid-api",
		Name:        "UUID Generator API",
		Description: "Generate cryptographically secure UUIDs (v4). Perfect for distributed systems and unique identifiers.",
		Category:    "Utilities",
		Price:       "0.0001",
		Endpoint:    "/api/uuid",
		Method:      "GET",
		Icon:        "🔑",
		Parameters: []Parameter{
			{Name: "count", Type: "number", Required: false, Description: "Number of UUIDs to generate (default: 1, max: 100)"},
		},
		ResponseExample: map[string]any{
			"uuids": []string{
				"550e8400-e29b-41d4-a716-446655440000",
				"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
			},
			"count": 2,
		},
		Summary: "Generate cryptographically secure UUIDs",
		Discovery: &x402.DiscoveryMetadata{
			Input: map[string]any{"count": "1"},
			InputSchema: extypes.JSONSchema{
				"properties": map[string]any{
					"count": prop("number", "Number of UUIDs to generate (default: 1, max: 100)"),
				},
			},
			Output: &extypes.OutputConfig{
				Example: map[string]any{
					"uuids": []string{
						"550e8400-e29b-41d4-a716-446655440000",
						"6ba7b810-9dad-11d1-80b4-00c04fd430c8",
					},
					"count":     2,
					"timestamp": "2026-01-01T12:00:00.000Z",
				},
				Schema: extypes.JSONSchema{
					"properties": map[string]any{
						"uuids":     prop("array", "Array of generated UUIDs"),
						"count":     prop("number", "Number of UUIDs generated"),
						"timestamp": prop("string", ""),
					},
					"required": []string{"uuids", "count"},
				},
			},
		},
	},
}
