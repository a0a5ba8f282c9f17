// Package weather exposes a weather lookup tool backed by the
// Open-Meteo public APIs.
package weather

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/httpkit"
	"github.com/stewardhq/steward/internal/platform"
	"github.com/stewardhq/steward/internal/tools"
)

// Provider serves the weather tool. Locations are resolved through the
// geocoding API first, then the forecast API is queried by coordinate.
type Provider struct {
	forecastURL  string
	geocodingURL string
	httpClient   *http.Client
	logger       *slog.Logger
}

func NewProvider(cfg config.WeatherConfig, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	return &Provider{
		forecastURL:  cfg.ForecastURL,
		geocodingURL: cfg.GeocodingURL,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(10 * time.Second),
		),
		logger: logger,
	}
}

func (p *Provider) CategoryName() string { return "weather" }

func (p *Provider) IsAvailable(ctx context.Context, pc *platform.Client) bool {
	return p.forecastURL != "" && p.geocodingURL != ""
}

func (p *Provider) Tools(ctx context.Context, pc *platform.Client) ([]*tools.Tool, error) {
	return []*tools.Tool{
		{
			Name:        "get_current_weather",
			Description: "Get the current weather and a short forecast for a location.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{
						"type":        "string",
						"description": "City or place name, e.g. 'Berlin'",
					},
					"days": map[string]any{
						"type":        "integer",
						"description": "Forecast days to include (default 1, max 7)",
					},
				},
				"required": []string{"location"},
			},
			Safety:  tools.SafetySafe,
			Handler: p.getWeather,
		},
	}, nil
}

type place struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type forecast struct {
	Current struct {
		Temperature float64 `json:"temperature_2m"`
		WindSpeed   float64 `json:"wind_speed_10m"`
		WeatherCode int     `json:"weather_code"`
	} `json:"current"`
	CurrentUnits struct {
		Temperature string `json:"temperature_2m"`
		WindSpeed   string `json:"wind_speed_10m"`
	} `json:"current_units"`
	Daily struct {
		Time           []string  `json:"time"`
		TemperatureMax []float64 `json:"temperature_2m_max"`
		TemperatureMin []float64 `json:"temperature_2m_min"`
		Precipitation  []float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

func (p *Provider) getWeather(ctx context.Context, args map[string]any) (string, error) {
	location, _ := args["location"].(string)
	if location == "" {
		return "", fmt.Errorf("location is required")
	}

	days := 1
	if d, ok := args["days"].(float64); ok && d > 0 {
		days = int(d)
		if days > 7 {
			days = 7
		}
	}

	pl, err := p.geocode(ctx, location)
	if err != nil {
		return "", err
	}

	fc, err := p.forecast(ctx, pl, days)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Weather for %s, %s:\n", pl.Name, pl.Country)
	fmt.Fprintf(&b, "Now: %s, %.1f%s, wind %.1f%s\n",
		describeWeatherCode(fc.Current.WeatherCode),
		fc.Current.Temperature, fc.CurrentUnits.Temperature,
		fc.Current.WindSpeed, fc.CurrentUnits.WindSpeed)
	for i, day := range fc.Daily.Time {
		if i >= len(fc.Daily.TemperatureMax) || i >= len(fc.Daily.TemperatureMin) {
			break
		}
		fmt.Fprintf(&b, "%s: %.1f to %.1f", day, fc.Daily.TemperatureMin[i], fc.Daily.TemperatureMax[i])
		if i < len(fc.Daily.Precipitation) && fc.Daily.Precipitation[i] > 0 {
			fmt.Fprintf(&b, ", %.1fmm precipitation", fc.Daily.Precipitation[i])
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func (p *Provider) geocode(ctx context.Context, location string) (*place, error) {
	params := url.Values{"name": {location}, "count": {"1"}}
	var resp struct {
		Results []place `json:"results"`
	}
	if err := p.getJSON(ctx, p.geocodingURL+"?"+params.Encode(), &resp); err != nil {
		return nil, fmt.Errorf("geocode %q: %w", location, err)
	}
	if len(resp.Results) == 0 {
		return nil, fmt.Errorf("unknown location %q", location)
	}
	return &resp.Results[0], nil
}

func (p *Provider) forecast(ctx context.Context, pl *place, days int) (*forecast, error) {
	params := url.Values{
		"latitude":      {fmt.Sprintf("%.4f", pl.Latitude)},
		"longitude":     {fmt.Sprintf("%.4f", pl.Longitude)},
		"current":       {"temperature_2m,weather_code,wind_speed_10m"},
		"daily":         {"temperature_2m_max,temperature_2m_min,precipitation_sum"},
		"forecast_days": {fmt.Sprintf("%d", days)},
		"timezone":      {"auto"},
	}
	var fc forecast
	if err := p.getJSON(ctx, p.forecastURL+"?"+params.Encode(), &fc); err != nil {
		return nil, fmt.Errorf("forecast for %s: %w", pl.Name, err)
	}
	return &fc, nil
}

func (p *Provider) getJSON(ctx context.Context, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// describeWeatherCode maps WMO weather codes to short descriptions.
func describeWeatherCode(code int) string {
	switch {
	case code == 0:
		return "clear sky"
	case code <= 3:
		return "partly cloudy"
	case code <= 48:
		return "fog"
	case code <= 57:
		return "drizzle"
	case code <= 67:
		return "rain"
	case code <= 77:
		return "snow"
	case code <= 82:
		return "rain showers"
	case code <= 86:
		return "snow showers"
	case code <= 99:
		return "thunderstorm"
	default:
		return "unknown conditions"
	}
}
