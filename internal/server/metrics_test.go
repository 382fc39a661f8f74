package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the named counter with the given
// labels, or -1 when absent.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	metric:
		for _, m := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range m.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue metric
				}
			}
			return m.GetCounter().GetValue()
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	s, _ := newTestServer(&fakeController{})

	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "routerag_query_in_flight") {
		t.Error("routerag_query_in_flight missing from /metrics output")
	}
}

func Test_Metrics_HTTPCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(&fakeController{})

	body, _ := json.Marshal(queryRequest{Query: "What's the weather in Tokyo?"})
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("query: want 200, got %d", w.Code)
	}

	got := counterValue(t, reg, "routerag_http_requests_total", map[string]string{
		"method": "POST", labelHandler: "query", "code": "200",
	})
	if got != 1 {
		t.Errorf("routerag_http_requests_total{handler=query,code=200} = %v, want 1", got)
	}
}

func Test_Metrics_InFlightReturnsToZero(t *testing.T) {
	t.Parallel()
	s, reg := newTestServer(&fakeController{})

	body, _ := json.Marshal(queryRequest{Query: "hello"})
	s.Handler().ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/query", bytes.NewReader(body)))

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "routerag_query_in_flight" {
			if v := mf.GetMetric()[0].GetGauge().GetValue(); v != 0 {
				t.Errorf("want in_flight=0 after completion, got %v", v)
			}
			return
		}
	}
	t.Error("routerag_query_in_flight not found in gathered metrics")
}
