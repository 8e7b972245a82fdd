// Package identity provides anonymous per-device identity primitives and
// the remember/recall cookie for the last autosaved quiz.
package identity

import (
	"context"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DeviceCookieName   = "quizdeck_device"
	LastCodeCookieName = "quizdeck_last_code"
	deviceCookieMaxAge = 365 * 24 * time.Hour
	lastCodeMaxAge     = 30 * 24 * time.Hour
)

type contextKey int

const (
	deviceIDKey contextKey = iota
	newDeviceKey
)

var codePattern = regexp.MustCompile(`^[A-Z0-9-]{1,64}$`)

// DeviceIDFromContext extracts the device ID from the request context.
func DeviceIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(deviceIDKey).(string); ok {
		return v
	}
	return ""
}

// IsNewDevice reports whether the device ID in ctx was minted for this
// request because no valid cookie was sent.
func IsNewDevice(ctx context.Context) bool {
	v, _ := ctx.Value(newDeviceKey).(bool)
	return v
}

// WithDeviceID returns a context carrying id.
func WithDeviceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, deviceIDKey, id)
}

func isValidDeviceID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func getOrCreateDeviceID(w http.ResponseWriter, r *http.Request, isDev bool) (id string, minted bool) {
	if c, err := r.Cookie(DeviceCookieName); err == nil && isValidDeviceID(c.Value) {
		id = c.Value
	} else {
		id, minted = uuid.NewString(), true
	}

	// Refresh on every request so active devices keep their identity.
	http.SetCookie(w, &http.Cookie{
		Name:     DeviceCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(deviceCookieMaxAge.Seconds()),
		Expires:  time.Now().Add(deviceCookieMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, minted
}

// Middleware injects the anonymous device identity into the request context.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, minted := getOrCreateDeviceID(w, r, isDev)
			ctx := WithDeviceID(r.Context(), id)
			if minted {
				ctx = context.WithValue(ctx, newDeviceKey, true)
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for rate limiting when no
// device cookie is present.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// CookieMemory remembers the last resume code a device autosaved.
type CookieMemory struct {
	IsDev bool
}

// Remember stores code for later recall. An empty code forgets it.
func (m CookieMemory) Remember(w http.ResponseWriter, code string) {
	if code == "" {
		m.Forget(w)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     LastCodeCookieName,
		Value:    code,
		Path:     "/",
		MaxAge:   int(lastCodeMaxAge.Seconds()),
		Expires:  time.Now().Add(lastCodeMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !m.IsDev,
	})
}

// Forget clears the remembered code.
func (m CookieMemory) Forget(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     LastCodeCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !m.IsDev,
	})
}

// Recall returns the remembered code, or "" when none is stored.
func (m CookieMemory) Recall(r *http.Request) string {
	c, err := r.Cookie(LastCodeCookieName)
	if err != nil {
		return ""
	}
	code := strings.TrimSpace(c.Value)
	if !codePattern.MatchString(code) {
		return ""
	}
	return code
}
