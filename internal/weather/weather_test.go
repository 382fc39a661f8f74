package weather

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/54b3r/routerag-go/internal/fault"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in, want string
	}{
		{"Tokyo", "tokyo"},
		{"  New   York \t", "new york"},
		{"SAN\nFRANCISCO", "san francisco"},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

const tokyoBody = `{
  "name": "Tokyo",
  "coord": {"lat": 35.6895, "lon": 139.6917},
  "sys": {"country": "JP"},
  "main": {"temp": 22, "feels_like": 21.4, "humidity": 60, "pressure": 1012},
  "weather": [{"description": "clear sky"}],
  "wind": {"speed": 3.1},
  "visibility": 10000,
  "dt": 1700000000
}`

func newOWMServer(t *testing.T, handler http.HandlerFunc) *OpenWeatherClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := NewOpenWeatherClient(&OpenWeatherConfig{APIKey: "k3y", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestOpenWeatherClient_Fetch(t *testing.T) {
	t.Parallel()
	c := newOWMServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/data/2.5/weather" {
			t.Errorf("path = %s", r.URL.Path)
		}
		q := r.URL.Query()
		if q.Get("q") != "tokyo" || q.Get("units") != "metric" || q.Get("appid") != "k3y" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(tokyoBody))
	})

	snap, err := c.Fetch(context.Background(), "  TOKYO ", Options{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if snap.Location != "Tokyo" || snap.Country != "JP" || snap.Temperature != 22 || snap.Conditions != "clear sky" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.AirQuality != nil {
		t.Error("air quality set without being requested")
	}
	if !snap.Timestamp.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("Timestamp = %v", snap.Timestamp)
	}
}

func TestOpenWeatherClient_KnownCoordinates(t *testing.T) {
	t.Parallel()
	c := newOWMServer(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("q") != "" || q.Get("lat") != "28.6139" || q.Get("lon") != "77.2090" {
			t.Errorf("query = %v", q)
		}
		_, _ = w.Write([]byte(`{"name":"Delhi","main":{"temp":31},"weather":[{"description":"haze"}]}`))
	})
	if _, err := c.Fetch(context.Background(), "Delhi", Options{}); err != nil {
		t.Fatal(err)
	}
}

func TestOpenWeatherClient_AirQuality(t *testing.T) {
	t.Parallel()
	c := newOWMServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/data/2.5/weather":
			_, _ = w.Write([]byte(tokyoBody))
		case "/data/2.5/air_pollution":
			if r.URL.Query().Get("lat") != "35.6895" {
				t.Errorf("lat = %s", r.URL.Query().Get("lat"))
			}
			_, _ = w.Write([]byte(`{"list":[{"main":{"aqi":2},"components":{"pm2_5":8.5,"pm10":12}}]}`))
		default:
			http.NotFound(w, r)
		}
	})
	snap, err := c.Fetch(context.Background(), "tokyo", Options{AirQuality: true})
	if err != nil {
		t.Fatal(err)
	}
	if snap.AirQuality == nil || snap.AirQuality.AQI != 2 || snap.AirQuality.Label() != "Fair" {
		t.Errorf("AirQuality = %+v", snap.AirQuality)
	}
	if !strings.Contains(Report(snap), "Air quality: Fair") {
		t.Errorf("report missing air quality:\n%s", Report(snap))
	}
}

func TestOpenWeatherClient_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"not found", http.StatusNotFound, fault.ErrLocationNotFound},
		{"server error", http.StatusBadGateway, fault.ErrUpstreamUnavailable},
		{"rate limited", http.StatusTooManyRequests, fault.ErrUpstreamUnavailable},
		{"bad key", http.StatusUnauthorized, fault.ErrUpstreamUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := newOWMServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})
			_, err := c.Fetch(context.Background(), "atlantis", Options{})
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestOpenWeatherClient_Unreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c, _ := NewOpenWeatherClient(&OpenWeatherConfig{APIKey: "secret-key", BaseURL: url})
	_, err := c.Fetch(context.Background(), "paris", Options{})
	if !errors.Is(err, fault.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v, want upstream unavailable", err)
	}
	if strings.Contains(err.Error(), "secret-key") {
		t.Errorf("error leaks API key: %v", err)
	}
}

func TestNewOpenWeatherClient_RequiresKey(t *testing.T) {
	t.Parallel()
	if _, err := NewOpenWeatherClient(&OpenWeatherConfig{}); err == nil {
		t.Error("expected error without API key")
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	r := Report(&Snapshot{
		Location: "Tokyo", Country: "JP", Temperature: 22, FeelsLike: 21.5,
		Conditions: "clear sky", Humidity: 60, Pressure: 1012, WindSpeed: 3,
	})
	for _, want := range []string{"Tokyo, JP", "22.0°C", "Clear Sky", "60%", "1012 hPa"} {
		if !strings.Contains(r, want) {
			t.Errorf("report missing %q:\n%s", want, r)
		}
	}
}

func TestTitleCase(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"clear sky":              "Clear Sky",
		"éclaircies  passagères": "Éclaircies Passagères",
		"ливень":                 "Ливень",
		"":                       "",
	}
	for in, want := range tests {
		if got := titleCase(in); got != want {
			t.Errorf("titleCase(%q) = %q, want %q", in, got, want)
		}
	}
}

// countingGateway counts upstream calls and optionally blocks them.
type countingGateway struct {
	calls atomic.Int32
	gate  chan struct{}
	err   error
}

func (g *countingGateway) Fetch(_ context.Context, location string, opts Options) (*Snapshot, error) {
	g.calls.Add(1)
	if g.gate != nil {
		<-g.gate
	}
	if g.err != nil {
		return nil, g.err
	}
	snap := &Snapshot{Location: location}
	if opts.AirQuality {
		snap.AirQuality = &AirQuality{AQI: 1}
	}
	return snap, nil
}

func TestCachedGateway_HitsAndExpiry(t *testing.T) {
	t.Parallel()
	up := &countingGateway{}
	g := NewCachedGateway(up, time.Minute)
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	ctx := context.Background()
	first, _ := g.Fetch(ctx, "Paris", Options{})
	second, _ := g.Fetch(ctx, "  paris ", Options{})
	if up.calls.Load() != 1 {
		t.Fatalf("upstream calls = %d, want 1", up.calls.Load())
	}
	if first != second {
		t.Error("cached snapshot not shared")
	}
	if first.Location != "paris" {
		t.Errorf("upstream got %q, want normalised location", first.Location)
	}

	if _, err := g.Fetch(ctx, "paris", Options{AirQuality: true}); err != nil {
		t.Fatal(err)
	}
	if up.calls.Load() != 2 {
		t.Errorf("air-quality lookup should use its own key, calls = %d", up.calls.Load())
	}

	now = now.Add(time.Minute)
	if g.Len() != 0 {
		t.Errorf("Len = %d after expiry", g.Len())
	}
	_, _ = g.Fetch(ctx, "paris", Options{})
	if up.calls.Load() != 3 {
		t.Errorf("expired entry not refreshed, calls = %d", up.calls.Load())
	}
}

func TestCachedGateway_ErrorsNotCached(t *testing.T) {
	t.Parallel()
	up := &countingGateway{err: fault.ErrUpstreamUnavailable}
	g := NewCachedGateway(up, 0)
	for range 2 {
		if _, err := g.Fetch(context.Background(), "rome", Options{}); !errors.Is(err, fault.ErrUpstreamUnavailable) {
			t.Fatalf("err = %v", err)
		}
	}
	if up.calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", up.calls.Load())
	}
}

func TestCachedGateway_ConcurrentMissesShareCall(t *testing.T) {
	t.Parallel()
	up := &countingGateway{gate: make(chan struct{})}
	g := NewCachedGateway(up, time.Minute)

	var wg sync.WaitGroup
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Fetch(context.Background(), "berlin", Options{}); err != nil {
				t.Error(err)
			}
		}()
	}
	for up.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(up.gate)
	wg.Wait()
	if up.calls.Load() != 1 {
		t.Errorf("upstream calls = %d, want 1", up.calls.Load())
	}
}

func TestCachedGateway_CallerCancellation(t *testing.T) {
	t.Parallel()
	up := &countingGateway{gate: make(chan struct{})}
	defer close(up.gate)
	g := NewCachedGateway(up, time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Fetch(ctx, "oslo", Options{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
}
