package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestOrigins_Allowed(t *testing.T) {
	origins := NewOrigins([]string{" https://kiosk.example.com/ ", ""})

	tests := []struct {
		origin string
		want   bool
	}{
		{"https://kiosk.example.com", true},
		{"http://localhost:5173", true},
		{"http://localhost", true},
		{"http://127.0.0.1:8080", true},
		{"http://localhost.evil.com", false},
		{"https://other.example.com", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.origin, func(t *testing.T) {
			if got := origins.Allowed(tc.origin); got != tc.want {
				t.Errorf("Allowed(%q) = %v, want %v", tc.origin, got, tc.want)
			}
		})
	}
}

func TestOrigins_CheckOrigin(t *testing.T) {
	origins := NewOrigins(nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/camera/preview", nil)
	if !origins.CheckOrigin(req) {
		t.Error("request without Origin rejected")
	}
	req.Header.Set("Origin", "https://evil.example.com")
	if origins.CheckOrigin(req) {
		t.Error("foreign origin accepted")
	}
}

func TestCORS(t *testing.T) {
	handler := CORS(NewOrigins([]string{"https://kiosk.example.com"}))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://kiosk.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://kiosk.example.com" {
			t.Errorf("Access-Control-Allow-Origin = %q", got)
		}
		if rec.Code != http.StatusTeapot {
			t.Errorf("status = %d, want handler status", rec.Code)
		}
	})

	t.Run("foreign origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Origin", "https://evil.example.com")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
		}
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}
