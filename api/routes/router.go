package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/fieldsync/api/controllers"
	"github.com/angelmondragon/fieldsync/api/middleware"
	"github.com/angelmondragon/fieldsync/internal/events"
	"github.com/angelmondragon/fieldsync/pkg/config"
	"github.com/angelmondragon/fieldsync/pkg/logger"
	"github.com/angelmondragon/fieldsync/pkg/redis"
)

// RouterParams collects what the local API serves. Orders, Days and Sync are
// usually the same fieldsync.Service.
type RouterParams struct {
	Config       *config.Config
	Logger       *logger.Logger
	Orders       controllers.OrderSubmitter
	Days         controllers.DayService
	Sync         controllers.SyncService
	Connectivity controllers.ConnectivityState
	Drain        controllers.DrainWaker
	Bus          *events.Bus
	Idempotency  redis.IdempotencyStore
	Ready        map[string]controllers.Pinger
	Gatherer     prometheus.Gatherer
}

func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.AllowedOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.Ready))
	})

	if params.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(params.Gatherer, promhttp.HandlerOpts{}))
	}

	idempotent := middleware.Idempotency(params.Idempotency, logg)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))

		r.With(idempotent).Post("/orders", controllers.SubmitOrder(params.Orders, logg))

		r.Route("/days/{date}", func(r chi.Router) {
			r.Get("/snapshot", controllers.GetDaySnapshot(params.Days, logg))
			r.Delete("/snapshot", controllers.ClearDaySnapshot(params.Days, logg))
			r.Put("/visits/{retailerId}", controllers.UpdateVisitStatus(params.Days, logg))
			r.Get("/visit-status/{retailerId}", controllers.GetVisitStatus(params.Days, logg))
			r.With(idempotent).Post("/retailers", controllers.AddRetailerToDay(params.Days, logg))
			r.Put("/beat-plans", controllers.UpsertBeatPlan(params.Days, logg))
			r.Post("/prefetch", controllers.PrefetchDay(params.Days, logg))
			r.Post("/session", controllers.StartSession(params.Days, logg))
		})

		r.Post("/snapshots/cleanup", controllers.CleanupSnapshots(params.Days, logg))

		r.Route("/sync", func(r chi.Router) {
			r.Get("/pending", controllers.PendingSyncs(params.Sync, logg))
			r.Get("/dlq", controllers.ListDeadLetters(params.Sync, logg))
			r.With(idempotent).Post("/dlq/{id}/retry", controllers.RetryDeadLetter(params.Sync, logg))
		})

		r.Get("/connectivity", controllers.GetConnectivity(params.Connectivity))
		r.Put("/connectivity", controllers.SetConnectivity(params.Connectivity, params.Drain, logg))

		if params.Bus != nil {
			r.Get("/events", controllers.EventStream(params.Bus, logg))
		}
	})

	return r
}
