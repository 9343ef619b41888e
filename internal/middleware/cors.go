package middleware

import (
	"net/http"
	"strings"

	"github.com/go-chi/cors"
	"github.com/samber/lo"
)

var defaultOrigins = []string{"https://*", "http://*"}

type originPattern struct {
	prefix   string
	suffix   string
	wildcard bool
}

// OriginMatcher returns a predicate accepting origins that match one of
// patterns. A pattern is an exact origin, "*", or holds one "*" standing
// for any run of characters, as in "https://*.pawpal.dev". Matching is
// case-insensitive. An empty pattern list falls back to any http(s) origin.
func OriginMatcher(patterns []string) func(origin string) bool {
	if len(patterns) == 0 {
		patterns = defaultOrigins
	}
	if lo.Contains(patterns, "*") {
		return func(string) bool { return true }
	}

	compiled := lo.Map(patterns, func(p string, _ int) originPattern {
		p = strings.ToLower(strings.TrimSpace(p))
		prefix, suffix, wildcard := strings.Cut(p, "*")
		return originPattern{prefix: prefix, suffix: suffix, wildcard: wildcard}
	})

	return func(origin string) bool {
		origin = strings.ToLower(origin)
		return lo.ContainsBy(compiled, func(p originPattern) bool {
			if !p.wildcard {
				return origin == p.prefix
			}
			return len(origin) >= len(p.prefix)+len(p.suffix) &&
				strings.HasPrefix(origin, p.prefix) &&
				strings.HasSuffix(origin, p.suffix)
		})
	}
}

// CORS returns a configured CORS middleware for the given origins. The
// WebSocket handshake checks origins with the same OriginMatcher.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	allow := OriginMatcher(allowedOrigins)
	return cors.Handler(cors.Options{
		AllowOriginFunc:  func(_ *http.Request, origin string) bool { return allow(origin) },
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With", "X-Correlation-ID"},
		ExposedHeaders:   []string{"X-Correlation-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

// SecurityHeaders sets conservative browser security headers.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
