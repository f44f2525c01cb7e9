package engine

import (
	"context"
	"fmt"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/health"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/message"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/processor"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/reader"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/store"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/telemetry"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/transport"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

type Option func(*options)

type options struct {
	handler reader.Handler
}

// WithHandler replaces the default logging handler.
func WithHandler(h reader.Handler) Option {
	return func(o *options) { o.handler = h }
}

// Bootstrap wires the consumer from cfg. Nothing reads the stream until
// Run is called.
func Bootstrap(ctx context.Context, cfg config.Config, opts ...Option) (*Engine, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	if err := cfg.ValidateConsumer(); err != nil {
		return nil, err
	}

	// 1. codec and handler
	if o.handler == nil {
		codec, err := message.CodecFor(cfg.Codec)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
		}
		o.handler = LogHandler(codec)
	}

	// 2. checkpoint and lease store
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	// 3. source driver
	src, err := source.NewAdapter(cfg.Source.Driver)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if err := src.Configure(ctx, cfg.Source); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("source %s: %w", cfg.Source.Driver, err)
	}

	// 4. processor
	pcfg, err := processor.FromConfig(cfg)
	if err != nil {
		_ = src.Close()
		_ = st.Close()
		return nil, err
	}
	proc, err := processor.New(pcfg, src, st, st, o.handler)
	if err != nil {
		_ = src.Close()
		_ = st.Close()
		return nil, err
	}

	e := &Engine{cfg: cfg, store: st, src: src, proc: proc}

	// 5. transport server
	if cfg.Server.GRPCPort != 0 {
		e.grpc, err = transport.StartServer(cfg.Server.GRPCPort)
		if err != nil {
			e.closeBackends()
			return nil, fmt.Errorf("transport: %w", err)
		}
	}

	// 6. health and metrics
	e.http = health.Serve(cfg.Server.HTTPPort, proc)
	e.metrics = telemetry.Expose(cfg.Server.MetricsPort)

	logging.L().Info("consumer bootstrapped",
		"stream", cfg.StreamID, "group", cfg.ConsumerGroup, "instance", pcfg.InstanceID,
		"source", cfg.Source.Driver, "store", cfg.Store.Driver, "start", cfg.StartPosition)
	return e, nil
}
