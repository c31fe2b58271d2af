package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/samber/lo"
)

// NewCheckOrigin returns the websocket origin policy. With no allowed
// origins every origin is accepted. A missing Origin header (non-browser
// clients) is always accepted.
func NewCheckOrigin(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}

	origins := lo.Keyify(lo.FilterMap(allowed, func(raw string, _ int) (string, bool) {
		origin := normalizeOrigin(raw)
		return origin, origin != ""
	}))

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}

		if _, ok := origins[normalizeOrigin(origin)]; ok {
			return true
		}

		slog.WarnContext(r.Context(), "WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
		return false
	}
}

// normalizeOrigin reduces a URL to lower-case scheme://host[:port].
func normalizeOrigin(rawURL string) string {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}
