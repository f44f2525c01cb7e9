// Package health serves the liveness and readiness endpoints probed by the
// orchestrator.
package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	jsoniter "github.com/json-iterator/go"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
)

const Banner = "Event Hub Consumer is running. Health endpoints: /health/live and /health/ready"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Probe is implemented by the processor.
type Probe interface {
	Alive() bool
	Ready() bool
	Owned() []string
}

type status struct {
	Status     string   `json:"status"`
	Partitions []string `json:"partitions,omitempty"`
}

func NewRouter(p Probe) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(Banner))
	})
	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		if !p.Alive() {
			write(w, http.StatusServiceUnavailable, status{Status: "Unhealthy"})
			return
		}
		write(w, http.StatusOK, status{Status: "Healthy"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if !p.Ready() {
			write(w, http.StatusServiceUnavailable, status{Status: "Unhealthy"})
			return
		}
		write(w, http.StatusOK, status{Status: "Healthy", Partitions: p.Owned()})
	})
	return r
}

func write(w http.ResponseWriter, code int, body status) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Serve runs the health router on port in the background. A zero port
// disables it.
func Serve(port int, p Probe) *http.Server {
	if port == 0 {
		return nil
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(p),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("health server", "err", err)
		}
	}()
	logging.L().Info("health endpoints", "live", fmt.Sprintf("http://localhost:%d/health/live", port),
		"ready", fmt.Sprintf("http://localhost:%d/health/ready", port))
	return srv
}

func Shutdown(ctx context.Context, srv *http.Server) {
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
}
