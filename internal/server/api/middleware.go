package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/toolchainlabs/tokensvc/internal/common"
	"github.com/toolchainlabs/tokensvc/internal/server/auth"
	"github.com/toolchainlabs/tokensvc/internal/token"
)

type contextKey int

const claimsKey contextKey = iota

// ClaimsFromContext returns the verified access-token claims placed by the
// auth middleware.
func ClaimsFromContext(ctx context.Context) (*auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey).(*auth.Claims)
	return c, ok
}

// requireAuth verifies the Bearer token, checks the revocation denylist, and
// stores the claims in the request context.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get(common.AuthorizationHeaderName)
		bearer, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || bearer == "" {
			writeError(w, common.ErrorUnauthorized)
			return
		}

		claims, err := auth.ParseAccessToken(bearer, s.jwtSecret)
		if err != nil {
			writeError(w, err)
			return
		}

		denied, err := s.service.IsDenied(r.Context(), claims.RefreshTokenID)
		if err != nil {
			writeError(w, common.ErrorInternal)
			return
		}
		if denied {
			writeError(w, common.ErrTokenRevoked)
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next(w, r.WithContext(ctx))
	}
}

// requireAudience gates a handler on an audience flag in the caller's mask.
func (s *Server) requireAudience(flag token.Audience, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok || !claims.AudienceMask.Has(flag) {
			writeError(w, common.ErrorForbidden)
			return
		}
		next(w, r)
	}
}

// requireAdmin gates a handler on org-admin rights. The admin bit is checked
// against storage, not the token, so demotion takes effect immediately.
func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		if !ok {
			writeError(w, common.ErrorUnauthorized)
			return
		}
		if err := s.service.RequireAdmin(r.Context(), claims); err != nil {
			writeError(w, err)
			return
		}
		next(w, r)
	}
}

// withLogging logs each request with method, path, status, and latency.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info(r.Context(), "http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
