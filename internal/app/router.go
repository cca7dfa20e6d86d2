package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cesta-solidaria/cesta/internal/distribution"
	"github.com/cesta-solidaria/cesta/internal/families"
	"github.com/cesta-solidaria/cesta/internal/observability"
	"github.com/cesta-solidaria/cesta/internal/platform/httpx"
	"github.com/cesta-solidaria/cesta/internal/rbac"
	"github.com/cesta-solidaria/cesta/internal/stock"
	"github.com/cesta-solidaria/cesta/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	RBACMiddleware      rbac.Middleware
	StockHandler        *stock.Handler
	DistributionHandler *distribution.Handler
	FamiliesHandler     *families.Handler
	JobHandler          *jobs.Handler
	Database            Pinger
	Metrics             *observability.Metrics
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		RBAC:    params.RBACMiddleware,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				params.Logger.Warn("healthz database ping", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(params.RBACMiddleware.RequireAny(rbac.RoleAdmin, rbac.RoleStaff))
		if params.StockHandler != nil {
			r.Route("/stock", params.StockHandler.MountRoutes)
		}
		if params.DistributionHandler != nil {
			r.Route("/deliveries", params.DistributionHandler.MountRoutes)
		}
		if params.FamiliesHandler != nil {
			r.Route("/families", params.FamiliesHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
