package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tallybook/tallybook/internal/catalog"
	"github.com/tallybook/tallybook/internal/credit"
	"github.com/tallybook/tallybook/internal/orders"
	"github.com/tallybook/tallybook/internal/reminders"
	"github.com/tallybook/tallybook/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	CreditHandler    *credit.Handler
	CatalogHandler   *catalog.Handler
	OrdersHandler    *orders.Handler
	RemindersHandler *reminders.Handler
	JobHandler       *jobs.Handler
}

// NewRouter constructs the chi.Router with Tallybook defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger: params.Logger,
		Config: params.Config,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		params.CreditHandler.MountRoutes(r)
		params.CatalogHandler.MountRoutes(r)
		params.OrdersHandler.MountRoutes(r)
		params.RemindersHandler.MountRoutes(r)
	})

	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}

	return r
}
