package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/routerag-go/internal/fault"
)

// DefaultBaseURL is the OpenWeatherMap API root.
const DefaultBaseURL = "https://api.openweathermap.org"

// coordinates pins places the name lookup resolves poorly to exact
// positions, keyed by normalised name.
var coordinates = map[string][2]float64{
	"delhi":         {28.6139, 77.2090},
	"mumbai":        {19.0760, 72.8777},
	"bangalore":     {12.9716, 77.5946},
	"chennai":       {13.0827, 80.2707},
	"kolkata":       {22.5726, 88.3639},
	"hyderabad":     {17.3850, 78.4867},
	"pune":          {18.5204, 73.8567},
	"ahmedabad":     {23.0225, 72.5714},
	"jaipur":        {26.9124, 75.7873},
	"lucknow":       {26.8467, 80.9462},
	"kanpur":        {26.4499, 80.3319},
	"nagpur":        {21.1458, 79.0882},
	"indore":        {22.7196, 75.8577},
	"thane":         {19.2183, 72.9781},
	"bhopal":        {23.2599, 77.4126},
	"visakhapatnam": {17.6868, 83.2185},
	"patna":         {25.5941, 85.1376},
	"vadodara":      {22.3072, 73.1812},
	"ghaziabad":     {28.6654, 77.4391},
	"ludhiana":      {30.9010, 75.8573},
}

// OpenWeatherConfig holds the settings for an OpenWeatherClient.
type OpenWeatherConfig struct {
	// APIKey is the OpenWeatherMap application id.
	APIKey string
	// BaseURL overrides DefaultBaseURL (used by tests).
	BaseURL string
	// HTTPClient overrides the default client with a 15s timeout.
	HTTPClient *http.Client
}

// OpenWeatherClient implements Gateway against OpenWeatherMap.
// It is safe for concurrent use.
type OpenWeatherClient struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewOpenWeatherClient returns a client for the given config.
func NewOpenWeatherClient(cfg *OpenWeatherConfig) (*OpenWeatherClient, error) {
	if cfg == nil || cfg.APIKey == "" {
		return nil, fmt.Errorf("weather: OPENWEATHER_API_KEY is required")
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 15 * time.Second}
	}
	return &OpenWeatherClient{apiKey: cfg.APIKey, baseURL: base, client: hc}, nil
}

// currentResponse is the subset of /data/2.5/weather used here.
type currentResponse struct {
	Name  string `json:"name"`
	Coord struct {
		Lat float64 `json:"lat"`
		Lon float64 `json:"lon"`
	} `json:"coord"`
	Sys struct {
		Country string `json:"country"`
	} `json:"sys"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		Humidity  int     `json:"humidity"`
		Pressure  int     `json:"pressure"`
	} `json:"main"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility int   `json:"visibility"`
	Dt         int64 `json:"dt"`
}

// pollutionResponse is the subset of /data/2.5/air_pollution used here.
type pollutionResponse struct {
	List []struct {
		Main struct {
			AQI int `json:"aqi"`
		} `json:"main"`
		Components struct {
			PM25 float64 `json:"pm2_5"`
			PM10 float64 `json:"pm10"`
			O3   float64 `json:"o3"`
			NO2  float64 `json:"no2"`
		} `json:"components"`
	} `json:"list"`
}

// Fetch implements Gateway.
func (c *OpenWeatherClient) Fetch(ctx context.Context, location string, opts Options) (*Snapshot, error) {
	key := Normalize(location)
	if key == "" {
		return nil, fmt.Errorf("weather: empty location: %w", fault.ErrLocationNotFound)
	}

	q := url.Values{"units": {"metric"}}
	if ll, ok := coordinates[key]; ok {
		q.Set("lat", formatCoord(ll[0]))
		q.Set("lon", formatCoord(ll[1]))
	} else {
		q.Set("q", key)
	}

	var cur currentResponse
	if err := c.get(ctx, "/data/2.5/weather", q, &cur); err != nil {
		return nil, fmt.Errorf("weather: %s: %w", key, err)
	}

	snap := &Snapshot{
		Location:    cur.Name,
		Country:     cur.Sys.Country,
		Temperature: cur.Main.Temp,
		FeelsLike:   cur.Main.FeelsLike,
		Humidity:    cur.Main.Humidity,
		Pressure:    cur.Main.Pressure,
		WindSpeed:   cur.Wind.Speed,
		Visibility:  cur.Visibility,
		Latitude:    cur.Coord.Lat,
		Longitude:   cur.Coord.Lon,
		Timestamp:   time.Unix(cur.Dt, 0).UTC(),
	}
	if snap.Location == "" {
		snap.Location = location
	}
	if len(cur.Weather) > 0 {
		snap.Conditions = cur.Weather[0].Description
	}

	if opts.AirQuality {
		aq, err := c.airQuality(ctx, snap.Latitude, snap.Longitude)
		if err != nil {
			return nil, fmt.Errorf("weather: air quality for %s: %w", key, err)
		}
		snap.AirQuality = aq
	}
	return snap, nil
}

func (c *OpenWeatherClient) airQuality(ctx context.Context, lat, lon float64) (*AirQuality, error) {
	q := url.Values{"lat": {formatCoord(lat)}, "lon": {formatCoord(lon)}}
	var resp pollutionResponse
	if err := c.get(ctx, "/data/2.5/air_pollution", q, &resp); err != nil {
		return nil, err
	}
	if len(resp.List) == 0 {
		return nil, fmt.Errorf("no readings returned: %w", fault.ErrUpstreamUnavailable)
	}
	r := resp.List[0]
	return &AirQuality{
		AQI:  r.Main.AQI,
		PM25: r.Components.PM25,
		PM10: r.Components.PM10,
		O3:   r.Components.O3,
		NO2:  r.Components.NO2,
	}, nil
}

// get performs one GET and decodes the JSON body into out, mapping HTTP
// failures onto the fault taxonomy.
func (c *OpenWeatherClient) get(ctx context.Context, path string, q url.Values, out any) error {
	q.Set("appid", c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var ue *url.Error
		if errors.As(err, &ue) && ue.Timeout() {
			return fmt.Errorf("request timed out: %w", fault.ErrUpstreamTimeout)
		}
		return fmt.Errorf("request failed: %v: %w", redact(err.Error(), c.apiKey), fault.ErrUpstreamUnavailable)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fault.ErrLocationNotFound
	case resp.StatusCode == http.StatusUnauthorized:
		return fmt.Errorf("API key rejected (HTTP 401): %w", fault.ErrUpstreamUnavailable)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("HTTP %d: %w", resp.StatusCode, fault.ErrUpstreamUnavailable)
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w: %w", err, fault.ErrUpstreamUnavailable)
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}

// redact keeps the API key out of error strings built from request URLs.
func redact(s, secret string) string {
	if secret == "" {
		return s
	}
	return strings.ReplaceAll(s, secret, "REDACTED")
}
