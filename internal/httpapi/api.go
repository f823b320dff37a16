// Package httpapi exposes the permit workflow, evidence uploads and reference
// data over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
	"github.com/sirupsen/logrus"

	"safeworks.org/ptw/internal/auth"
	"safeworks.org/ptw/internal/directory"
	"safeworks.org/ptw/internal/evidence"
	"safeworks.org/ptw/internal/obs"
	"safeworks.org/ptw/internal/permit"
)

const serviceName = "ptw-api"

// Pinger is anything readiness can be checked against.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyProbe checks the backing store.
type ReadyProbe struct {
	DB Pinger
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return rp.DB.Ping(ctx)
}

// Deps are the services the API serves.
type Deps struct {
	Workflow  *permit.Workflow
	Evidence  *evidence.Coordinator
	Directory *directory.Service
	Tokens    *auth.Tokens
	Authz     *auth.Authorizer
	Ready     ReadyProbe
}

// Options tune the HTTP surface.
type Options struct {
	Version        string
	Commit         string
	Production     bool
	AllowedOrigins []string
	MaxBodyBytes   int64
	RateBurst      int
	RatePerSecond  int
}

// API is the HTTP layer.
type API struct {
	deps   Deps
	opts   Options
	logger *logrus.Entry
}

func New(deps Deps, opts Options) *API {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 << 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = 20
	}
	return &API{deps: deps, opts: opts, logger: obs.Component("httpapi")}
}

// Handler builds the router with its middleware chain.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestContext)
	r.Use(AccessLog)
	r.Use(middleware.Recoverer)
	r.Use(obs.Instrument)
	r.Use(SecurityHeaders)
	r.Use(cors.New(cors.Options{
		AllowedOrigins: a.opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID", "Content-Disposition"},
		MaxAge:         600,
	}).Handler)
	r.Use(func(next http.Handler) http.Handler { return MaxBodyBytes(next, a.opts.MaxBodyBytes) })
	r.Use(func(next http.Handler) http.Handler { return RateLimit(next, a.opts.RateBurst, a.opts.RatePerSecond) })

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, r, http.StatusNotFound, "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeFailure(w, r, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Post("/auth/login", a.login)
	r.Get("/uploads/{kind}/{name}", a.serveFile)

	r.Group(func(r chi.Router) {
		r.Use(a.withAuth)

		r.Get("/me", a.me)

		r.Route("/users", func(r chi.Router) {
			r.Get("/", a.listUsers)
			r.Post("/", a.createUser)
			r.Get("/{id}", a.getUser)
		})
		r.Route("/sites", func(r chi.Router) {
			r.Get("/", a.listSites)
			r.Post("/", a.createSite)
			r.Get("/{id}", a.getSite)
		})
		r.Route("/vendors", func(r chi.Router) {
			r.Get("/", a.listVendors)
			r.Post("/", a.createVendor)
			r.Get("/{id}", a.getVendor)
		})

		r.Route("/permits", func(r chi.Router) {
			r.Get("/", a.listPermits)
			r.Post("/", a.createPermit)
			r.Get("/export.xlsx", a.exportPermits)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", a.getPermit)
				r.Put("/", a.updatePermit)
				r.Delete("/", a.deletePermit)

				r.Post("/submit", a.submitPermit)
				r.Post("/approve", a.approvePermit)
				r.Post("/reject", a.rejectPermit)
				r.Post("/extension", a.requestExtension)
				r.Post("/extension/approve", a.approveExtension)
				r.Post("/extension/reject", a.rejectExtension)
				r.Post("/suspend", a.suspendPermit)
				r.Post("/resume", a.resumePermit)
				r.Post("/close", a.closePermit)
				r.Post("/cancel", a.cancelPermit)

				r.Get("/evidences", a.listEvidence)
				r.Get("/evidences/stats", a.evidenceStats)
			})
		})

		r.Post("/uploads/evidence", a.uploadEvidence)
		r.Put("/uploads/evidence/{id}", a.updateEvidence)
		r.Delete("/uploads/evidence/{id}", a.deleteEvidence)
		r.Post("/uploads/swms", a.uploadSWMS)
		r.Post("/uploads/signature", a.uploadSignature)
	})

	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.opts.Version,
		"commit":  a.opts.Commit,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.deps.Ready.Check(r.Context()); err != nil {
		a.logger.WithError(err).Warn("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
