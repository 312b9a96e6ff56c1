package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/runscore/internal/websocket"
)

// newTestHandler wires the router with no backing service; only routes
// that reject before reaching the service may be exercised.
func newTestHandler() http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewHandler(nil, websocket.NewHub(logger), logger)
	return h.Router()
}

func doRequest(t *testing.T, router http.Handler, method, path, body string) (*httptest.ResponseRecorder, APIResponse) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var resp APIResponse
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("invalid response body %q: %v", rec.Body.String(), err)
		}
	}
	return rec, resp
}

func TestHealthEndpoints(t *testing.T) {
	router := newTestHandler()

	for _, path := range []string{"/health", "/ready"} {
		rec, resp := doRequest(t, router, http.MethodGet, path, "")
		if rec.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", path, rec.Code)
		}
		if !resp.Success {
			t.Errorf("GET %s success = false", path)
		}
	}
}

func TestWebSocketStats(t *testing.T) {
	rec, resp := doRequest(t, newTestHandler(), http.MethodGet, "/api/v1/ws/stats", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	data, ok := resp.Data.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected data: %v", resp.Data)
	}
	if data["total_connections"] != float64(0) {
		t.Errorf("total_connections = %v, want 0", data["total_connections"])
	}
}

func TestValidationRejections(t *testing.T) {
	router := newTestHandler()

	tests := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"malformed session body", http.MethodPost, "/api/v1/sessions", "{not json"},
		{"list sessions without user", http.MethodGet, "/api/v1/sessions", ""},
		{"calculate without user", http.MethodPost, "/api/v1/scores/calculate", "{}"},
		{"weekly without user", http.MethodGet, "/api/v1/scores/weekly", ""},
		{"history without user", http.MethodGet, "/api/v1/scores/history", ""},
		{"ranks without user", http.MethodGet, "/api/v1/scores/ranks", ""},
		{"weekly with bad period", http.MethodGet, "/api/v1/scores/weekly?user_id=u-1&period=tuesday", ""},
		{"unknown ranking dimension", http.MethodGet, "/api/v1/rankings/stamina", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, resp := doRequest(t, router, tt.method, tt.path, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", rec.Code)
			}
			if resp.Success {
				t.Error("success = true on a rejected request")
			}
			if resp.Error == "" {
				t.Error("missing error message")
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	rec, _ := doRequest(t, newTestHandler(), http.MethodOptions, "/api/v1/sessions", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight status = %d, want 200", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}
