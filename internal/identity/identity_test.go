package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, string, string) {
	t.Helper()
	var company, visitor string
	h := Middleware(true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		company = CompanyIDFromContext(r.Context())
		visitor = VisitorIDFromContext(r.Context())
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec, company, visitor
}

func TestMiddlewareResolvesTenant(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/api/conversations/1", nil)
	req.Header.Set(CompanyHeaderName, "acme")
	_, company, visitor := serve(t, req)
	if company != "acme" {
		t.Errorf("company = %q, want acme", company)
	}
	if !visitorIDPattern.MatchString(visitor) {
		t.Errorf("visitor id %q has unexpected format", visitor)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/conversations/1?company_id=globex", nil)
	if _, company, _ = serve(t, req); company != "globex" {
		t.Errorf("company from query = %q, want globex", company)
	}
}

func TestMiddlewareRejectsInvalidTenant(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(CompanyHeaderName, "acme; drop table")
	rec, _, _ := serve(t, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}

func TestMiddlewareKeepsVisitorCookie(t *testing.T) {
	t.Parallel()

	const existing = "visitor_0123456789abcdef0123456789abcdef"
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: existing})
	rec, _, visitor := serve(t, req)
	if visitor != existing {
		t.Errorf("visitor = %q, want %q", visitor, existing)
	}
	if len(rec.Result().Cookies()) != 1 {
		t.Errorf("expected the visitor cookie to be refreshed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: VisitorCookieName, Value: "forged"})
	if _, _, visitor = serve(t, req); visitor == "forged" {
		t.Errorf("invalid cookie value was accepted")
	}
}
