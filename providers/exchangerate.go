package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ExchangeRateBaseURL is the v6 API root; the key is part of the path.
const ExchangeRateBaseURL = "https://v6.exchangerate-api.com/v6"

// Conversion is a currency pair conversion.
type Conversion struct {
	From      string    `json:"from"`
	To        string    `json:"to"`
	Rate      float64   `json:"rate"`
	Amount    float64   `json:"amount"`
	Result    float64   `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

// ExchangeRate fetches pair conversion rates.
type ExchangeRate struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewExchangeRate creates a client. An empty baseURL uses ExchangeRateBaseURL.
func NewExchangeRate(baseURL, apiKey string, client *http.Client) *ExchangeRate {
	if baseURL == "" {
		baseURL = ExchangeRateBaseURL
	}
	return &ExchangeRate{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: defaultClient(client),
		now:        time.Now,
	}
}

type pairResponse struct {
	Result         string  `json:"result"`
	ErrorType      string  `json:"error-type"`
	ConversionRate float64 `json:"conversion_rate"`
}

// Convert converts amount from one currency to another. Codes are upper-cased.
// An upstream "result" other than success is an *Error with status 400.
func (c *ExchangeRate) Convert(ctx context.Context, from, to string, amount float64) (*Conversion, error) {
	from = strings.ToUpper(from)
	to = strings.ToUpper(to)
	endpoint := fmt.Sprintf("%s/%s/pair/%s/%s",
		c.baseURL, url.PathEscape(c.apiKey), url.PathEscape(from), url.PathEscape(to))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &Error{Status: resp.StatusCode, Message: "Failed to fetch exchange rate data"}
	}

	var decoded pairResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxUpstreamBytes)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if decoded.Result != "success" {
		message := decoded.ErrorType
		if message == "" {
			message = "Failed to fetch exchange rate"
		}
		return nil, &Error{Status: http.StatusBadRequest, Message: message}
	}

	return &Conversion{
		From:      from,
		To:        to,
		Rate:      decoded.ConversionRate,
		Amount:    amount,
		Result:    amount * decoded.ConversionRate,
		Timestamp: c.now().UTC(),
	}, nil
}
