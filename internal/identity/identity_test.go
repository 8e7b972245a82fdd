package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareAssignsDeviceID(t *testing.T) {
	var seen string
	var minted bool
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFromContext(r.Context())
		minted = IsNewDevice(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if !isValidDeviceID(seen) {
		t.Fatalf("expected generated device id, got %q", seen)
	}
	if !minted {
		t.Error("expected a generated id to be marked new")
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != DeviceCookieName || cookies[0].Value != seen {
		t.Fatalf("unexpected cookies %+v", cookies)
	}
	if cookies[0].Secure {
		t.Error("development cookies must not be Secure")
	}
}

func TestMiddlewareKeepsExistingDevice(t *testing.T) {
	const id = "6f1c2a9e-3b4d-4c5e-8f70-1a2b3c4d5e6f"
	var seen string
	minted := true
	h := Middleware(false)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFromContext(r.Context())
		minted = IsNewDevice(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: id})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if seen != id {
		t.Fatalf("expected %q, got %q", id, seen)
	}
	if minted {
		t.Error("a cookie device must not be marked new")
	}
	if c := rec.Result().Cookies()[0]; !c.Secure {
		t.Error("production cookies must be Secure")
	}
}

func TestMiddlewareReplacesForgedDevice(t *testing.T) {
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = DeviceIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: DeviceCookieName, Value: "../../etc"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if seen == "../../etc" || !isValidDeviceID(seen) {
		t.Fatalf("expected fresh device id, got %q", seen)
	}
}

func TestCookieMemory(t *testing.T) {
	mem := CookieMemory{IsDev: true}

	rec := httptest.NewRecorder()
	mem.Remember(rec, "APPLE-BEAR-42")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	if got := mem.Recall(req); got != "APPLE-BEAR-42" {
		t.Fatalf("Recall = %q", got)
	}

	rec = httptest.NewRecorder()
	mem.Remember(rec, "")
	if c := rec.Result().Cookies()[0]; c.MaxAge >= 0 {
		t.Errorf("expected expiring cookie, got MaxAge %d", c.MaxAge)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: LastCodeCookieName, Value: "not valid!"})
	if got := mem.Recall(req); got != "" {
		t.Errorf("expected invalid code to be ignored, got %q", got)
	}

	if got := mem.Recall(httptest.NewRequest(http.MethodGet, "/", nil)); got != "" {
		t.Errorf("expected empty recall, got %q", got)
	}
}
