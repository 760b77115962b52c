package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// OpenWeatherBaseURL is the current weather endpoint.
const OpenWeatherBaseURL = "https://api.openweathermap.org/data/2.5/weather"

// Weather is the formatted current weather for a city.
type Weather struct {
	City        string    `json:"city"`
	Country     string    `json:"country"`
	Temperature float64   `json:"temperature"`
	FeelsLike   float64   `json:"feelsLike"`
	Humidity    float64   `json:"humidity"`
	WindSpeed   float64   `json:"windSpeed"`
	Description string    `json:"description"`
	Icon        string    `json:"icon"`
	Timestamp   time.Time `json:"timestamp"`
}

// OpenWeather fetches current conditions in metric units.
type OpenWeather struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	now        func() time.Time
}

// NewOpenWeather creates a client. An empty baseURL uses OpenWeatherBaseURL.
func NewOpenWeather(baseURL, apiKey string, client *http.Client) *OpenWeather {
	if baseURL == "" {
		baseURL = OpenWeatherBaseURL
	}
	return &OpenWeather{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: defaultClient(client),
		now:        time.Now,
	}
}

type openWeatherResponse struct {
	Name string `json:"name"`
	Sys  struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  float64 `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Weather []struct {
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Message string `json:"message"`
}

// Current returns the weather for city. Non-2xx upstream responses are
// returned as *Error carrying the upstream status and message.
func (c *OpenWeather) Current(ctx context.Context, city string) (*Weather, error) {
	query := url.Values{}
	query.Set("q", city)
	query.Set("appid", c.apiKey)
	query.Set("units", "metric")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var decoded openWeatherResponse
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := "Failed to fetch weather data"
		if json.Unmarshal(body, &decoded) == nil && decoded.Message != "" {
			message = decoded.Message
		}
		return nil, &Error{Status: resp.StatusCode, Message: message}
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	w := &Weather{
		City:        decoded.Name,
		Country:     decoded.Sys.Country,
		Temperature: decoded.Main.Temp,
		FeelsLike:   decoded.Main.FeelsLike,
		Humidity:    decoded.Main.Humidity,
		WindSpeed:   decoded.Wind.Speed,
		Timestamp:   c.now().UTC(),
	}
	if len(decoded.Weather) > 0 {
		w.Description = decoded.Weather[0].Description
		w.Icon = decoded.Weather[0].Icon
	}
	return w, nil
}
