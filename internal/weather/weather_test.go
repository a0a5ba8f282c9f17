package weather

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stewardhq/steward/internal/config"
)

func testProvider(t *testing.T) (*Provider, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/geocode":
			if r.URL.Query().Get("name") == "Nowhere" {
				json.NewEncoder(w).Encode(map[string]any{"results": []any{}})
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"results": []map[string]any{
					{"name": "Berlin", "country": "Germany", "latitude": 52.52, "longitude": 13.41},
				},
			})
		case "/forecast":
			json.NewEncoder(w).Encode(map[string]any{
				"current": map[string]any{
					"temperature_2m": 21.4, "wind_speed_10m": 9.3, "weather_code": 2,
				},
				"current_units": map[string]any{
					"temperature_2m": "°C", "wind_speed_10m": "km/h",
				},
				"daily": map[string]any{
					"time":               []string{"2026-08-29"},
					"temperature_2m_max": []float64{24.0},
					"temperature_2m_min": []float64{14.5},
					"precipitation_sum":  []float64{1.2},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))

	p := NewProvider(config.WeatherConfig{
		ForecastURL:  srv.URL + "/forecast",
		GeocodingURL: srv.URL + "/geocode",
	}, slog.Default())
	return p, srv
}

func TestGetWeather(t *testing.T) {
	p, srv := testProvider(t)
	defer srv.Close()

	out, err := p.getWeather(context.Background(), map[string]any{"location": "Berlin"})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"Weather for Berlin, Germany",
		"partly cloudy",
		"21.4°C",
		"2026-08-29: 14.5 to 24.0",
		"1.2mm precipitation",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestGetWeatherUnknownLocation(t *testing.T) {
	p, srv := testProvider(t)
	defer srv.Close()

	_, err := p.getWeather(context.Background(), map[string]any{"location": "Nowhere"})
	if err == nil || !strings.Contains(err.Error(), "Nowhere") {
		t.Errorf("err = %v", err)
	}
}

func TestGetWeatherRequiresLocation(t *testing.T) {
	p, srv := testProvider(t)
	defer srv.Close()

	if _, err := p.getWeather(context.Background(), map[string]any{}); err == nil {
		t.Error("expected error without location")
	}
}

func TestDescribeWeatherCode(t *testing.T) {
	cases := map[int]string{
		0:   "clear sky",
		2:   "partly cloudy",
		45:  "fog",
		63:  "rain",
		71:  "snow",
		95:  "thunderstorm",
		200: "unknown conditions",
	}
	for code, want := range cases {
		if got := describeWeatherCode(code); got != want {
			t.Errorf("describeWeatherCode(%d) = %q, want %q", code, got, want)
		}
	}
}
