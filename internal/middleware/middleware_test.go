package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ashureev/quizdeck/internal/identity"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCORS_ExplicitOrigin(t *testing.T) {
	h := CORS([]string{"https://quiz.example.com"})(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/api/subjects", nil)
	req.Header.Set("Origin", "https://quiz.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://quiz.example.com" {
		t.Errorf("unexpected allow-origin %q", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("expected credentials for explicit origin")
	}
}

func TestCORS_WildcardHasNoCredentials(t *testing.T) {
	h := CORS([]string{"*"})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected preflight 204, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "" {
		t.Error("wildcard origins must not allow credentials")
	}
}

func TestRateLimit_PerDevice(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	h := RateLimit(rl)(okHandler())

	send := func(device string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/feedback", nil)
		req = req.WithContext(identity.WithDeviceID(req.Context(), device))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if send("a") != http.StatusOK || send("a") != http.StatusOK {
		t.Fatal("expected burst to be allowed")
	}
	if code := send("a"); code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", code)
	}
	if send("b") != http.StatusOK {
		t.Fatal("other devices must have their own bucket")
	}
}

func TestRateLimit_CookielessClientsShareIPBucket(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	h := identity.Middleware(true)(RateLimit(rl)(okHandler()))

	send := func(cookie string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/feedback", nil)
		req.RemoteAddr = "203.0.113.7:41000"
		if cookie != "" {
			req.AddCookie(&http.Cookie{Name: identity.DeviceCookieName, Value: cookie})
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := send(""); code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", code)
	}
	for i := 0; i < 4; i++ {
		if code := send(""); code != http.StatusTooManyRequests {
			t.Fatalf("request %d without a cookie: expected 429, got %d", i+2, code)
		}
	}
	if code := send("6f1c2a9e-3b4d-4c5e-8f70-1a2b3c4d5e6f"); code != http.StatusOK {
		t.Fatalf("a returning device keeps its own bucket, got %d", code)
	}
}

func TestRateLimiter_Evict(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	rl.Allow("a")
	rl.evict(time.Now().Add(time.Second))
	if len(rl.visitors) != 0 {
		t.Fatalf("expected idle visitor to be evicted, got %d", len(rl.visitors))
	}
}
