// Package publisher sends size-bounded batches to a stream. A batch is
// always sent as one unit; transient failures are retried with
// exponential backoff and every final failure wraps ErrSendRejected.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"golang.org/x/time/rate"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/message"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/telemetry"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink"
)

// ErrSendRejected wraps every batch the stream did not accept after the
// retry budget. The underlying cause stays reachable with errors.Is.
var ErrSendRejected = errors.New("send rejected")

const (
	DefaultMaxBatchBytes = 1 << 20
	defaultAttempts      = 4
	defaultBackoff       = 250 * time.Millisecond
)

// BatchResult describes one Send.
type BatchResult struct {
	Index    int
	IDs      []string
	Bytes    int
	Attempts int
	Err      error
}

// Outcome is the fate of one message passed to Publish. Batch is -1 when
// the message never made it into a batch.
type Outcome struct {
	MessageID string
	Batch     int
	Err       error
}

type Report struct {
	Sent     int
	Failed   int
	Batches  []BatchResult
	Outcomes []Outcome
}

type Publisher struct {
	sink     sink.Adapter
	streamID string
	builder  *batch.Builder
	attempts int
	backoff  time.Duration
	codec    message.Codec
	limiter  *rate.Limiter
	hook     func(BatchResult)
	sent     int
}

type Option func(*Publisher)

func WithMaxBatchBytes(n int) Option {
	return func(p *Publisher) { p.builder = batch.NewBuilder(n) }
}

// WithRetry sets the total number of attempts per batch (>= 1) and the
// initial backoff, doubled after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Publisher) {
		if attempts < 1 {
			attempts = 1
		}
		p.attempts, p.backoff = attempts, backoff
	}
}

func WithCodec(c message.Codec) Option {
	return func(p *Publisher) { p.codec = c }
}

// WithLimiter paces Send; each batch waits for one token.
func WithLimiter(l *rate.Limiter) Option {
	return func(p *Publisher) { p.limiter = l }
}

// WithBatchHook is called after every Send, successful or not.
func WithBatchHook(fn func(BatchResult)) Option {
	return func(p *Publisher) { p.hook = fn }
}

func New(s sink.Adapter, streamID string, opts ...Option) *Publisher {
	p := &Publisher{
		sink:     s,
		streamID: streamID,
		builder:  batch.NewBuilder(DefaultMaxBatchBytes),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		codec:    message.JSON{},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// NewBatch returns an empty batch bounded by the publisher's limit.
func (p *Publisher) NewBatch() *batch.Batch { return p.builder.Create() }

type classifier func(error) retrier.Action

func (c classifier) Classify(err error) retrier.Action { return c(err) }

var retryTransient = classifier(func(err error) retrier.Action {
	switch {
	case err == nil:
		return retrier.Succeed
	case stream.IsRetryable(err):
		return retrier.Retry
	}
	return retrier.Fail
})

// Send publishes b as one unit. Empty batches are a no-op.
func (p *Publisher) Send(ctx context.Context, b *batch.Batch) error {
	_, err := p.send(ctx, b)
	return err
}

func (p *Publisher) send(ctx context.Context, b *batch.Batch) (int, error) {
	if b.Empty() {
		return 0, nil
	}
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrSendRejected, err)
		}
	}

	attempts := 0
	r := retrier.New(retrier.ExponentialBackoff(p.attempts-1, p.backoff), retryTransient)
	err := r.RunCtx(ctx, func(ctx context.Context) error {
		attempts++
		return p.sink.Publish(ctx, p.streamID, b)
	})

	res := BatchResult{Index: p.sent, IDs: b.IDs(), Bytes: b.Size(), Attempts: attempts}
	p.sent++
	if err != nil {
		res.Err = fmt.Errorf("%w: %w", ErrSendRejected, err)
		telemetry.BatchFailures.Inc()
		logging.L().Warn("batch send failed", "stream", p.streamID, "messages", b.Len(),
			"bytes", b.Size(), "attempts", attempts, "err", err)
	} else {
		telemetry.BatchesSent.Inc()
		telemetry.MessagesSent.Add(float64(b.Len()))
		telemetry.BatchBytes.Observe(float64(b.Size()))
		logging.L().Debug("batch sent", "stream", p.streamID, "messages", b.Len(), "bytes", b.Size())
	}
	if p.hook != nil {
		p.hook(res)
	}
	return attempts, res.Err
}

// Publish encodes msgs and sends them in as few batches as the size limit
// allows, preserving order. Per-message failures are recorded in the
// report; the returned error is non-nil only when ctx ends the run.
func (p *Publisher) Publish(ctx context.Context, msgs []message.Message) (Report, error) {
	var rep Report
	b := p.NewBatch()

	flush := func() {
		if b.Empty() {
			return
		}
		idx := p.sent
		attempts, err := p.send(ctx, b)
		rep.Batches = append(rep.Batches, BatchResult{Index: idx, IDs: b.IDs(), Bytes: b.Size(), Attempts: attempts, Err: err})
		for _, id := range b.IDs() {
			rep.Outcomes = append(rep.Outcomes, Outcome{MessageID: id, Batch: idx, Err: err})
			if err != nil {
				rep.Failed++
			} else {
				rep.Sent++
			}
		}
		b = p.NewBatch()
	}
	reject := func(id string, err error) {
		rep.Outcomes = append(rep.Outcomes, Outcome{MessageID: id, Batch: -1, Err: err})
		rep.Failed++
	}

	for _, m := range msgs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		body, err := p.codec.Encode(m)
		if err != nil {
			reject(m.MessageID, err)
			continue
		}
		err = b.TryAdd(m.MessageID, body)
		if errors.Is(err, batch.ErrBatchFull) {
			flush()
			err = b.TryAdd(m.MessageID, body)
		}
		if err != nil {
			logging.L().Warn("message not batched", "id", m.MessageID, "bytes", len(body), "err", err)
			reject(m.MessageID, err)
		}
	}
	flush()
	return rep, ctx.Err()
}
