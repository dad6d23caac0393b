package agent

import (
	"context"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lzjever/infrawiz/internal/agent/middleware"
)

// Pinger reports database reachability. *pgxpool.Pool implements it.
type Pinger interface {
	Ping(ctx context.Context) error
}

type API struct {
	svc *Service
	db  Pinger
	log *zap.Logger
}

func NewAPI(svc *Service, db Pinger, log *zap.Logger) *API {
	return &API{svc: svc, db: db, log: log}
}

func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Metrics)
	r.Use(middleware.Recoverer(a.log))
	r.Use(middleware.Logger(a.log))

	r.Get("/healthz", a.HealthHandler)
	r.Get("/readyz", a.ReadyHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Use(chiMiddleware.AllowContentType("application/json"))

		r.Get("/watches", a.ListWatches)
		r.Post("/watches", a.CreateWatch)
		r.Get("/watches/{watch_id}", a.GetWatch)
		r.Post("/watches/{watch_id}:cancel", a.CancelWatch)
	})

	return r
}
