// Package weather fetches current conditions for a free-text location.
//
// [OpenWeatherClient] talks to the OpenWeatherMap current-weather and
// air-pollution endpoints. [CachedGateway] wraps any [Gateway] with a short
// TTL cache keyed by the normalised location.
package weather

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Gateway fetches a weather snapshot for a location.
// Implementations must be safe for concurrent use.
type Gateway interface {
	// Fetch returns current conditions for location. When opts.AirQuality
	// is set the snapshot also carries air-quality readings.
	// Errors wrap fault.ErrLocationNotFound, fault.ErrUpstreamUnavailable
	// or the caller's context error.
	Fetch(ctx context.Context, location string, opts Options) (*Snapshot, error)
}

// Options tunes a single Fetch call.
type Options struct {
	// AirQuality requests pollution readings alongside the weather.
	AirQuality bool
}

// Snapshot is the structured weather for one place at one time.
// Snapshots are shared by the cache and must not be modified.
type Snapshot struct {
	Location    string      `json:"location"`
	Country     string      `json:"country,omitempty"`
	Temperature float64     `json:"temperatureC"`
	FeelsLike   float64     `json:"feelsLikeC"`
	Conditions  string      `json:"conditions"`
	Humidity    int         `json:"humidity"`
	Pressure    int         `json:"pressureHpa"`
	WindSpeed   float64     `json:"windSpeedMs"`
	Visibility  int         `json:"visibilityM,omitempty"`
	Latitude    float64     `json:"lat"`
	Longitude   float64     `json:"lon"`
	Timestamp   time.Time   `json:"timestamp"`
	AirQuality  *AirQuality `json:"airQuality,omitempty"`
}

// AirQuality holds pollution readings. AQI is the OpenWeatherMap 1..5 scale.
type AirQuality struct {
	AQI  int     `json:"aqi"`
	PM25 float64 `json:"pm2_5"`
	PM10 float64 `json:"pm10"`
	O3   float64 `json:"o3"`
	NO2  float64 `json:"no2"`
}

// aqiLabels maps the 1..5 index to its OpenWeatherMap description.
var aqiLabels = [...]string{"", "Good", "Fair", "Moderate", "Poor", "Very Poor"}

// Label returns the textual category for the index.
func (a *AirQuality) Label() string {
	if a.AQI < 1 || a.AQI >= len(aqiLabels) {
		return "Unknown"
	}
	return aqiLabels[a.AQI]
}

// Normalize trims, collapses inner whitespace and lower-cases a location.
func Normalize(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}

// Report formats s as a plain multi-line weather report. It is the answer
// used when no language model is available to phrase one.
func Report(s *Snapshot) string {
	var b strings.Builder
	place := s.Location
	if s.Country != "" {
		place += ", " + s.Country
	}
	fmt.Fprintf(&b, "Weather report for %s\n\n", place)
	fmt.Fprintf(&b, "Temperature: %.1f°C (feels like %.1f°C)\n", s.Temperature, s.FeelsLike)
	fmt.Fprintf(&b, "Conditions: %s\n", titleCase(s.Conditions))
	fmt.Fprintf(&b, "Humidity: %d%%\n", s.Humidity)
	fmt.Fprintf(&b, "Wind: %.1f m/s\n", s.WindSpeed)
	fmt.Fprintf(&b, "Pressure: %d hPa", s.Pressure)
	if s.Visibility > 0 {
		fmt.Fprintf(&b, "\nVisibility: %d m", s.Visibility)
	}
	if aq := s.AirQuality; aq != nil {
		fmt.Fprintf(&b, "\nAir quality: %s (AQI %d), PM2.5 %.1f µg/m³, PM10 %.1f µg/m³", aq.Label(), aq.AQI, aq.PM25, aq.PM10)
	}
	return b.String()
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToTitle(r)) + w[size:]
	}
	return strings.Join(words, " ")
}
