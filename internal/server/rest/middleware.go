package rest

import (
	"context"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const identityKey = contextKey("identity")

// Identity is the authenticated caller, taken from token claims or from a
// freshly checked Basic credential.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func identityFrom(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(identityKey).(*Identity)
	return id, ok
}

// accessLog logs each request and feeds the request metrics, labelled by
// route pattern so path parameters do not explode cardinality.
func accessLog(logger logging.Logger, obs RequestObserver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			route := "unmatched"
			if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
				route = rc.RoutePattern()
			}
			elapsed := time.Since(start)
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			obs.ObserveRequest(route, status, elapsed)
			logger.Info(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", status,
				"elapsed_ms", elapsed.Milliseconds(),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// authenticate requires a Bearer token, or Basic credentials when allowBasic
// is set, and stores the caller's Identity in the request context.
func (h *Handler) authenticate(allowBasic bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get(common.AuthorizationHeader)
			if header == "" {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Authorization header required")
				return
			}

			var id *Identity
			switch {
			case strings.HasPrefix(header, common.BearerScheme+" "):
				claims, err := h.tokens.Verify(strings.TrimSpace(strings.TrimPrefix(header, common.BearerScheme+" ")))
				if err != nil {
					writeError(w, http.StatusUnauthorized, "Invalid token", err.Error())
					return
				}
				id = &Identity{ID: claims.Subject, Username: claims.Username, Role: claims.Role}

			case allowBasic && strings.HasPrefix(header, common.BasicScheme+" "):
				username, password, ok := r.BasicAuth()
				if !ok {
					writeError(w, http.StatusUnauthorized, "Unauthorized", "Malformed Basic credentials")
					return
				}
				user, err := h.auth.Authenticate(r.Context(), username, password)
				if err != nil {
					h.writeAuthFailure(w, r, err)
					return
				}
				id = &Identity{ID: user.ID, Username: user.Username, Role: user.Role}

			default:
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Unsupported authorization method")
				return
			}

			if id.Role == "" {
				id.Role = common.RoleUser
			}
			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// authorize lets through only callers holding one of roles.
func authorize(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := identityFrom(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "Unauthorized", "Authentication required")
				return
			}
			if !slices.Contains(roles, id.Role) {
				writeError(w, http.StatusForbidden, "Forbidden", "Insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
