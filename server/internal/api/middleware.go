package api

import (
	"context"
	"net"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/sitesmith/sitesmith/server/internal/auth"
)

type contextKey string

const identityKey contextKey = "identity"

// tokenFromRequest returns the bearer token, falling back to the session cookie.
func (s *Server) tokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie(s.cookieName); err == nil {
		return c.Value
	}
	return ""
}

// identify resolves the caller, or returns nil for anonymous requests.
func (s *Server) identify(r *http.Request) *auth.Identity {
	token := s.tokenFromRequest(r)
	if token == "" {
		return nil
	}
	identity, err := s.authProvider.ValidateToken(r.Context(), token)
	if err != nil {
		return nil
	}
	return identity
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := s.identify(r)
		if identity == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		ctx := context.WithValue(r.Context(), identityKey, identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if identity := getIdentityFromContext(r.Context()); identity.IsAdmin() {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusForbidden, "admin access required")
	})
}

func getIdentityFromContext(ctx context.Context) *auth.Identity {
	identity, _ := ctx.Value(identityKey).(*auth.Identity)
	return identity
}

// clientIP returns the remote address without its port. RealIP has already
// applied proxy headers.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

var securityHeaders = map[string]string{
	"X-Content-Type-Options": "nosniff",
	"X-Frame-Options":        "DENY",
	"Referrer-Policy":        "strict-origin-when-cross-origin",
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for k, v := range securityHeaders {
			w.Header().Set(k, v)
		}
		next.ServeHTTP(w, r)
	})
}

// originPolicy decides which browser origins may call the API with
// credentials. A single "*" entry admits every origin.
type originPolicy struct {
	any     bool
	origins map[string]bool
}

func newOriginPolicy(allowed []string) originPolicy {
	p := originPolicy{origins: make(map[string]bool, len(allowed))}
	for _, o := range allowed {
		if o == "*" {
			p.any = true
		}
		p.origins[o] = true
	}
	return p
}

func (p originPolicy) allows(origin string) bool {
	return p.any || p.origins[origin]
}

// makeCORSMiddleware reflects trusted origins so the web client can send the
// session cookie.
func makeCORSMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")
			switch origin := r.Header.Get("Origin"); {
			case policy.any:
				// Browsers refuse credentials with a wildcard origin.
				h.Set("Access-Control-Allow-Origin", "*")
			case origin != "" && policy.origins[origin]:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// makeUpgrader accepts WebSocket handshakes from trusted origins and from
// clients that send no Origin header at all.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	policy := newOriginPolicy(allowedOrigins)
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || policy.allows(origin)
		},
	}
}
