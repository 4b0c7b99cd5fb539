// Package identity resolves the tenant and the anonymous visitor behind a request.
package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"strings"
	"time"
)

const (
	VisitorCookieName = "leadflow_visitor"
	CompanyHeaderName = "X-Company-ID"
	visitorMaxAge     = 30 * 24 * time.Hour
)

type contextKey int

const (
	companyIDKey contextKey = iota
	visitorIDKey
)

var (
	visitorIDPattern = regexp.MustCompile(`^visitor_[a-f0-9]{32}$`)
	companyIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]{1,128}$`)
)

// CompanyIDFromContext returns the tenant declared by the caller, or "".
func CompanyIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(companyIDKey).(string); ok {
		return v
	}
	return ""
}

// VisitorIDFromContext returns the anonymous visitor id of the request.
func VisitorIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(visitorIDKey).(string); ok {
		return v
	}
	return ""
}

// WithCompanyID returns a copy of ctx carrying companyID.
func WithCompanyID(ctx context.Context, companyID string) context.Context {
	return context.WithValue(ctx, companyIDKey, companyID)
}

func generateVisitorID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate visitor id: %w", err)
	}
	return "visitor_" + hex.EncodeToString(buf), nil
}

func companyIDFromRequest(r *http.Request) (string, bool) {
	id := strings.TrimSpace(r.Header.Get(CompanyHeaderName))
	if id == "" {
		id = strings.TrimSpace(r.URL.Query().Get("company_id"))
	}
	if id == "" {
		return "", true
	}
	return id, companyIDPattern.MatchString(id)
}

func getOrCreateVisitorID(w http.ResponseWriter, r *http.Request, isDev bool) (string, error) {
	id := ""
	if c, err := r.Cookie(VisitorCookieName); err == nil && visitorIDPattern.MatchString(c.Value) {
		id = c.Value
	} else {
		var err error
		if id, err = generateVisitorID(); err != nil {
			return "", err
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     VisitorCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorMaxAge.Seconds()),
		Expires:  time.Now().Add(visitorMaxAge),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   !isDev,
	})
	return id, nil
}

// Middleware injects the declared tenant and a persistent anonymous visitor id.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			companyID, ok := companyIDFromRequest(r)
			if !ok {
				http.Error(w, `{"error":"invalid company id"}`, http.StatusBadRequest)
				return
			}

			visitorID, err := getOrCreateVisitorID(w, r, isDev)
			if err != nil {
				http.Error(w, `{"error":"failed to establish visitor identity"}`, http.StatusInternalServerError)
				return
			}

			ctx := WithCompanyID(r.Context(), companyID)
			ctx = context.WithValue(ctx, visitorIDKey, visitorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IPFromRequest returns a normalized remote IP for request tracing.
func IPFromRequest(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
