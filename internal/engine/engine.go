package engine

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/health"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/processor"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/telemetry"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/transport"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

const pollInterval = time.Second

type Engine struct {
	cfg   config.Config
	store store.Backend
	src   source.Adapter
	proc  *processor.Processor

	grpc    *transport.Server
	http    *http.Server
	metrics *http.Server
}

func (e *Engine) Processor() *processor.Processor { return e.proc }

// Run starts consuming and blocks until ctx is done, the gRPC server fails
// or the processor hits a fatal error. Shutdown drains the readers before
// releasing leases.
func (e *Engine) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := e.proc.Start(runCtx); err != nil {
		e.shutdown()
		return err
	}
	go e.logErrors()

	served := make(chan error, 1)
	if e.grpc != nil {
		go func() { served <- e.grpc.Serve() }()
		go e.grpc.Track(runCtx, e.proc.Ready, pollInterval)
	}

	var runErr error
	t := time.NewTicker(pollInterval)
	defer t.Stop()
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case err := <-served:
			runErr = err
			break loop
		case <-t.C:
			if err := e.proc.Err(); err != nil {
				runErr = err
				break loop
			}
		}
	}
	cancel()
	return errors.Join(runErr, e.shutdown())
}

func (e *Engine) logErrors() {
	for err := range e.proc.Errors() {
		logging.L().Error("event processing", "err", err)
	}
}

func (e *Engine) shutdown() error {
	logging.L().Info("shutting down consumer")
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.ShutdownTimeout+e.cfg.LeaseRenewInterval)
	defer cancel()

	err := e.proc.Stop(ctx)
	if e.grpc != nil {
		e.grpc.Stop()
	}
	health.Shutdown(ctx, e.http)
	telemetry.Shutdown(ctx, e.metrics)
	e.closeBackends()
	return err
}

func (e *Engine) closeBackends() {
	if err := e.src.Close(); err != nil {
		logging.L().Warn("close source", "err", err)
	}
	if err := e.store.Close(); err != nil {
		logging.L().Warn("close store", "err", err)
	}
}
