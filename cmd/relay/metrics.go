package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/matst80/portrelay/internal/obs"
	"github.com/matst80/portrelay/internal/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newAdminRouter serves Prometheus metrics plus lightweight dashboard & state endpoints.
func newAdminRouter(state StateStore, target string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{http.MethodGet}}))
		r.Use(render.SetContentType(render.ContentTypeJSON))
		r.Get("/state", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, state.getStats(r.Context()))
		})
		r.Get("/sessions", func(w http.ResponseWriter, r *http.Request) {
			render.JSON(w, r, state.listSessions(r.Context()))
		})
	})
	r.Get("/dashboard", func(w http.ResponseWriter, r *http.Request) {
		data := state.getStats(r.Context()).ToTemplateMap()
		data["Target"] = target
		data["Sessions"] = state.listSessions(r.Context())
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := web.Render(w, "dashboard", data); err != nil {
			w.WriteHeader(http.StatusNotImplemented)
			_, _ = w.Write([]byte("dashboard template missing"))
		}
	})
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if state.isClosing() || !state.isReady() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	return r
}

// startMetricsServer runs the admin HTTP server until ctx is done.
func startMetricsServer(ctx context.Context, addr string, state StateStore, target string) error {
	srv := &http.Server{Addr: addr, Handler: newAdminRouter(state, target), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	obs.Info("metrics.listening", obs.Fields{"addr": addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		obs.Error("metrics.server", obs.Fields{"err": err.Error(), "addr": addr})
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
