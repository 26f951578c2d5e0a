package rest

import (
	"net/http"

	"github.com/dmitrijs2005/cosauth/internal/common"
	"github.com/dmitrijs2005/cosauth/internal/logging"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

type RouterOptions struct {
	// CORSOrigins enables CORS for the listed origins; empty disables it.
	CORSOrigins []string
	// Metrics is mounted at /metrics when set.
	Metrics  http.Handler
	Observer RequestObserver
	Logger   logging.Logger
}

// NewRouter creates and configures the chi router.
func NewRouter(h *Handler, o RouterOptions) *chi.Mux {
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.Logger == nil {
		o.Logger = logging.Nop{}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog(o.Logger, o.Observer))
	r.Use(middleware.Recoverer)

	if len(o.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: o.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found", "No route for "+r.Method+" "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "Method Not Allowed", r.Method+" is not supported here")
	})

	r.Get("/health", h.Health)
	if o.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", o.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", h.Register)
			r.Post("/login", h.Login)

			r.Group(func(r chi.Router) {
				r.Use(h.authenticate(false))
				r.Get("/profile", h.Profile)
				r.Post("/change-password", h.ChangePassword)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate(true))
			r.Get("/protected", h.access("Access granted"))

			r.Group(func(r chi.Router) {
				r.Use(authorize(common.RoleAdmin))
				r.Get("/admin", h.access("Admin access granted"))
				r.Get("/users", h.ListUsers)
			})
		})
	})

	return r
}
