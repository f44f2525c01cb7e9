package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
)

var (
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventhub_events_processed_total",
		Help: "Events whose handler completed without error.",
	}, []string{"partition"})
	HandlerErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventhub_handler_errors_total",
		Help: "Events whose handler failed after the local retry budget.",
	}, []string{"partition"})
	CheckpointFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventhub_checkpoint_failures_total",
		Help: "Checkpoint writes that failed or timed out.",
	}, []string{"partition"})
	CheckpointOffset = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "eventhub_checkpoint_offset",
		Help: "Last offset durably checkpointed per partition.",
	}, []string{"partition"})
	HandlerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eventhub_handler_duration_seconds",
		Help:    "Handler execution time including local retries.",
		Buckets: prometheus.DefBuckets,
	}, []string{"partition"})
	ReaderRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "eventhub_reader_restarts_total",
		Help: "Partition readers restarted after a retryable fault.",
	}, []string{"partition"})

	OwnedPartitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "eventhub_owned_partitions",
		Help: "Partitions currently leased by this instance.",
	})
	LeasesLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventhub_leases_lost_total",
		Help: "Leases lost because renewal failed or timed out.",
	})

	BatchesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventhub_batches_sent_total",
		Help: "Batches accepted by the stream.",
	})
	BatchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventhub_batch_send_failures_total",
		Help: "Batches rejected after the retry budget.",
	})
	MessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "eventhub_messages_sent_total",
		Help: "Messages accepted by the stream.",
	})
	BatchBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "eventhub_batch_bytes",
		Help:    "Payload bytes per sent batch.",
		Buckets: prometheus.ExponentialBuckets(256, 4, 8),
	})
)

// Expose serves /metrics on port in the background. A zero port disables it.
func Expose(port int) *http.Server {
	if port == 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.L().Error("metrics server", "err", err)
		}
	}()
	return srv
}

func Shutdown(ctx context.Context, srv *http.Server) {
	if srv != nil {
		_ = srv.Shutdown(ctx)
	}
}
