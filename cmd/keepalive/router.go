package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/angeloszaimis/appwrite-keepalive/internal/circuitbreaker"
	"github.com/angeloszaimis/appwrite-keepalive/internal/metrics"
)

func newRouter(collector *metrics.Collector, breakers *circuitbreaker.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", collector.HealthHandler())
	r.Get("/metrics", collector.Handler())
	r.Get("/breakers", breakersHandler(breakers))

	return r
}

func breakersHandler(breakers *circuitbreaker.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		states := make(map[string]string)
		for key, state := range breakers.Stats() {
			states[key] = state.String()
		}

		metrics.WriteJSON(w, http.StatusOK, states)
	}
}
