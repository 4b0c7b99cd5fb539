// Package web embeds the chat widget served to visitors. The widget page
// reads its agent from the "token" query parameter and talks to the
// conversation API over HTTP and WebSocket.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed widget
var widgetFS embed.FS

// WidgetHandler returns an http.Handler serving the embedded widget under
// prefix. Unknown paths fall back to index.html.
func WidgetHandler(prefix string) http.Handler {
	subFS, err := fs.Sub(widgetFS, "widget")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.StripPrefix(prefix, http.FileServer(http.FS(subFS)))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, prefix), "/")
		if path == "" {
			path = "index.html"
		}

		if f, err := subFS.Open(path); err == nil {
			if closeErr := f.Close(); closeErr != nil {
				slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		r.URL.Path = prefix + "/"
		fileServer.ServeHTTP(w, r)
	})
}
