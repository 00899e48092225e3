package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func corsRoundTrip(t *testing.T, origins []string, method, origin string, preflight bool) (*httptest.ResponseRecorder, bool) {
	t.Helper()
	reached := false
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(method, "/api/queue", nil)
	if origin != "" {
		req.Header.Set("Origin", origin)
	}
	if preflight {
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	}
	rec := httptest.NewRecorder()
	CORS(origins)(next).ServeHTTP(rec, req)
	return rec, reached
}

func TestCORSOriginAllowlist(t *testing.T) {
	cases := []struct {
		name      string
		origins   []string
		origin    string
		wantAllow string
	}{
		{"listed origin echoed", []string{"https://clinic.example"}, "https://clinic.example", "https://clinic.example"},
		{"unknown origin gets nothing", []string{"https://clinic.example"}, "https://intruder.example", ""},
		{"wildcard echoes any origin", []string{"*"}, "https://random.example", "https://random.example"},
		{"no origin header is a plain request", []string{"*"}, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, reached := corsRoundTrip(t, tc.origins, http.MethodGet, tc.origin, false)
			if !reached {
				t.Fatal("expected the request to reach the handler")
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tc.wantAllow {
				t.Fatalf("allow-origin = %q, want %q", got, tc.wantAllow)
			}
		})
	}
}

func TestCORSAdvertisesPortalOverrideHeader(t *testing.T) {
	rec, _ := corsRoundTrip(t, []string{"*"}, http.MethodGet, "https://clinic.example", false)
	got := rec.Header().Get("Access-Control-Allow-Headers")
	if !strings.Contains(got, "X-Booking-Portal-URL") {
		t.Fatalf("expected the portal override header in %q", got)
	}
}

func TestCORSPreflightShortCircuits(t *testing.T) {
	rec, reached := corsRoundTrip(t, []string{"https://clinic.example"}, http.MethodOptions, "https://clinic.example", true)
	if reached {
		t.Fatal("preflight must not reach the handler")
	}
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want %d", rec.Code, http.StatusNoContent)
	}
}
