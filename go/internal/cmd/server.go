package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mcdev12/tixmarket/go/internal/config"
	"github.com/mcdev12/tixmarket/go/internal/dispatcher"
	"github.com/mcdev12/tixmarket/go/internal/transfer"
)

func setupServer(cfg *config.Config, services *Services) *http.Server {
	mux := http.NewServeMux()

	// Setup CORS middleware
	c := cors.New(cors.Options{
		AllowedMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowedOrigins: []string{"*"},
		AllowedHeaders: []string{"*"},
	})

	setupHealthCheck(mux, services)
	setupMetrics(mux, services)
	if services.Push != nil {
		mux.Handle(services.PushPath, services.Push)
	}
	registerServices(mux, services)

	handler := c.Handler(mux)

	// Setup HTTP/2 server
	return &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           h2c.NewHandler(handler, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func registerServices(mux *http.ServeMux, services *Services) {
	transferServicePath, transferServiceHandler := transfer.NewTransferServiceHandler(transfer.NewService(services.Transfers))
	mux.Handle(transferServicePath, transferServiceHandler)
}

func setupHealthCheck(mux *http.ServeMux, services *Services) {
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("failed to write health check response")
		}
	})

	for name, checker := range services.Health {
		mux.Handle("GET /healthz/"+name, checker)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		names := make([]string, 0, len(services.Health))
		for name := range services.Health {
			names = append(names, name)
		}
		sort.Strings(names)

		healthy := true
		statuses := make([]dispatcher.HealthStatus, 0, len(names))
		for _, name := range names {
			status := services.Health[name].Check(ctx)
			healthy = healthy && status.Healthy
			statuses = append(statuses, status)
		}

		w.Header().Set("Content-Type", "application/json")
		if !healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"healthy":     healthy,
			"dispatchers": statuses,
		})
	})
}

func setupMetrics(mux *http.ServeMux, services *Services) {
	mux.Handle("GET /metrics", promhttp.HandlerFor(services.Registry, promhttp.HandlerOpts{}))
}
