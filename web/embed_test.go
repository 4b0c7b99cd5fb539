package web

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWidgetHandler(t *testing.T) {
	t.Parallel()
	h := WidgetHandler("/widget")

	tests := []struct {
		path string
		want string
	}{
		{"/widget/", "chat-log"},
		{"/widget/widget.js", "/api/widget/"},
		{"/widget/some/client/route", "chat-log"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: status = %d, want 200", tt.path, rec.Code)
			continue
		}
		if !strings.Contains(rec.Body.String(), tt.want) {
			t.Errorf("%s: body does not contain %q", tt.path, tt.want)
		}
	}
}
