package providers

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/becomeliminal/nim-assistant/logging"
)

const (
	// DefaultWeatherURL is the OpenWeather 5 day forecast endpoint.
	DefaultWeatherURL = "https://api.openweathermap.org/data/2.5/forecast"

	WeatherKeyMissing = "Weather API key not configured"
	WeatherNoData     = "No weather data found"
)

const forecastLayout = "2006-01-02 15:04:05"

// Weather returns today's and tomorrow's forecast for a city.
type Weather struct {
	APIKey  string
	BaseURL string
	Client  *http.Client
	Logger  *slog.Logger
	Now     func() time.Time
}

// Forecast is one forecast slot.
type Forecast struct {
	DateTime    string  `json:"datetime"`
	Temperature float64 `json:"temperature"`
	Description string  `json:"description"`
}

type forecastResponse struct {
	List []struct {
		DtTxt string `json:"dt_txt"`
		Main  struct {
			Temp float64 `json:"temp"`
		} `json:"main"`
		Weather []struct {
			Description string `json:"description"`
		} `json:"weather"`
	} `json:"list"`
}

// Fetch returns the forecast as a JSON array, or a fixed message when no key
// is configured or nothing was found.
func (w *Weather) Fetch(ctx context.Context, city string) (string, error) {
	if w.APIKey == "" {
		return WeatherKeyMissing, nil
	}
	base := w.BaseURL
	if base == "" {
		base = DefaultWeatherURL
	}
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}

	var resp forecastResponse
	err := getJSON(ctx, newHTTPClient(w.Client), base, url.Values{
		"q":     {city},
		"appid": {w.APIKey},
		"units": {"metric"},
	}, &resp)
	if err != nil {
		logging.Component(w.Logger, "weather").Error("weather request failed", "error", err, "city", city)
		return "", err
	}
	if len(resp.List) == 0 {
		return WeatherNoData, nil
	}

	today := now()
	y, m, d := today.Date()
	ty, tm, td := today.AddDate(0, 0, 1).Date()

	out := []Forecast{}
	for _, f := range resp.List {
		at, err := time.ParseInLocation(forecastLayout, f.DtTxt, today.Location())
		if err != nil {
			continue
		}
		fy, fm, fd := at.Date()
		if !(fy == y && fm == m && fd == d) && !(fy == ty && fm == tm && fd == td) {
			continue
		}
		desc := ""
		if len(f.Weather) > 0 {
			desc = f.Weather[0].Description
		}
		out = append(out, Forecast{DateTime: f.DtTxt, Temperature: f.Main.Temp, Description: desc})
	}
	return marshal(out), nil
}
