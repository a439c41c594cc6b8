package opsapi

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/workqueue/pkg/httpserver"
	"github.com/dmitrymomot/workqueue/pkg/logger"
	"github.com/dmitrymomot/workqueue/pkg/workqueue"
)

var errBadRequest = errors.New("bad request")

// RouterOptions configures the ops router. Only Queue is required; the
// other endpoints are mounted when their dependency is provided.
type RouterOptions struct {
	Queue *workqueue.Queue

	// Reindex mounts POST /reindex, which feeds references into the coalescer.
	Reindex *workqueue.Coalescer

	// Gatherer mounts GET /metrics.
	Gatherer prometheus.Gatherer

	// Checks back GET /readyz.
	Checks       []httpserver.Check
	ReadyTimeout time.Duration

	Logger *slog.Logger
}

// Router builds the ops HTTP API.
//
//	GET    /healthz
//	GET    /readyz
//	GET    /metrics
//	GET    /report
//	GET    /types
//	GET    /works
//	POST   /works
//	GET    /works/{id}
//	DELETE /works/{id}
//	POST   /works/{id}/reschedule
//	POST   /reindex
func Router(opts RouterOptions) chi.Router {
	if opts.Queue == nil {
		panic("opsapi.Router: nil queue")
	}
	log := opts.Logger
	if log == nil {
		log = logger.Discard()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 2 * time.Second
	}
	h := &handlers{queue: opts.Queue, reindex: opts.Reindex, log: log.With(logger.Component("opsapi"))}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware, accessLog(h.log))

	r.Get("/healthz", httpserver.LivenessHandler())
	r.Get("/readyz", httpserver.ReadinessHandler(log, opts.ReadyTimeout, opts.Checks...))
	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Get("/report", h.report)
	r.Get("/types", h.types)
	r.Route("/works", func(r chi.Router) {
		r.Get("/", h.listWorks)
		r.Post("/", h.addWork)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getWork)
			r.Delete("/", h.deleteWork)
			r.Post("/reschedule", h.rescheduleWork)
		})
	})
	if opts.Reindex != nil {
		r.Post("/reindex", h.triggerReindex)
	}
	return r
}
