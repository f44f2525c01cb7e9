// Package kgo reads stream partitions with franz-go. Partition metadata
// comes from kadm; each cursor is a dedicated client consuming a single
// partition from an explicit offset.
package kgo

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strconv"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/sasl/plain"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/discovery"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

type Driver struct {
	opts  []kgo.Opt
	admin *kgo.Client
	adm   *kadm.Client
}

// ClientOptions maps the shared kafka settings onto franz-go options.
func ClientOptions(k config.Kafka, brokers []string) []kgo.Opt {
	opts := []kgo.Opt{kgo.SeedBrokers(brokers...), kgo.ClientID("eventhub")}
	if k.ClientID != "" {
		opts = append(opts, kgo.ClientID(k.ClientID))
	}
	if k.TLSEnabled {
		opts = append(opts, kgo.DialTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	}
	if k.SASLUser != "" {
		opts = append(opts, kgo.SASL(plain.Auth{User: k.SASLUser, Pass: k.SASLPass}.AsMechanism()))
	}
	if k.Timeout > 0 {
		opts = append(opts, kgo.RequestTimeoutOverhead(k.Timeout))
	}
	return opts
}

func (d *Driver) Configure(ctx context.Context, t config.Transport) error {
	brokers, err := discovery.Resolve(ctx, t.Kafka)
	if err != nil {
		return err
	}
	d.opts = ClientOptions(t.Kafka, brokers)
	if d.admin, err = kgo.NewClient(d.opts...); err != nil {
		return fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
	}
	d.adm = kadm.NewClient(d.admin)
	logging.L().Info("franz-go source ready", "brokers", brokers)
	return nil
}

func (d *Driver) Partitions(ctx context.Context, streamID string) ([]string, error) {
	topics, err := d.adm.ListTopics(ctx, streamID)
	if err != nil {
		return nil, Classify(err)
	}
	td, ok := topics[streamID]
	if !ok {
		return nil, fmt.Errorf("%w: topic %q not found", stream.ErrConfiguration, streamID)
	}
	if td.Err != nil {
		return nil, Classify(td.Err)
	}
	out := make([]string, 0, len(td.Partitions))
	for p := range td.Partitions {
		out = append(out, strconv.FormatInt(int64(p), 10))
	}
	stream.SortPartitions(out)
	return out, nil
}

func (d *Driver) Open(_ context.Context, streamID, partitionID string, pos stream.Position) (source.Cursor, error) {
	p, err := strconv.ParseInt(partitionID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka partition id %q: %w", stream.ErrConfiguration, partitionID, err)
	}
	off := kgo.NewOffset().AtEnd()
	switch pos.Kind {
	case stream.Earliest:
		off = kgo.NewOffset().AtStart()
	case stream.AtOffset:
		off = kgo.NewOffset().At(pos.Offset)
	}
	opts := append(append([]kgo.Opt(nil), d.opts...),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{streamID: {int32(p): off}}))
	cl, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
	}
	return &cursor{cl: cl, partition: partitionID}, nil
}

func (d *Driver) Close() error {
	if d.admin != nil {
		d.admin.Close()
	}
	return nil
}

type cursor struct {
	cl        *kgo.Client
	partition string
	buf       []*kgo.Record
}

func (c *cursor) Next(ctx context.Context) (stream.Event, error) {
	for len(c.buf) == 0 {
		fetches := c.cl.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return stream.Event{}, err
		}
		for _, fe := range fetches.Errors() {
			if errors.Is(fe.Err, context.Canceled) || errors.Is(fe.Err, context.DeadlineExceeded) {
				return stream.Event{}, fe.Err
			}
			return stream.Event{}, Classify(fe.Err)
		}
		iter := fetches.RecordIter()
		for !iter.Done() {
			c.buf = append(c.buf, iter.Next())
		}
	}
	r := c.buf[0]
	c.buf = c.buf[1:]
	return stream.Event{
		PartitionID: c.partition,
		Offset:      r.Offset,
		EnqueuedAt:  r.Timestamp,
		Body:        r.Value,
	}, nil
}

func (c *cursor) Close() error {
	c.cl.Close()
	return nil
}

// Classify maps franz-go errors onto the stream taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, kerr.TopicAuthorizationFailed),
		errors.Is(err, kerr.GroupAuthorizationFailed),
		errors.Is(err, kerr.ClusterAuthorizationFailed),
		errors.Is(err, kerr.SaslAuthenticationFailed):
		return stream.Unauthorized(err)
	case errors.Is(err, kerr.MessageTooLarge),
		errors.Is(err, kerr.RecordListTooLarge),
		errors.Is(err, kerr.InvalidRecord):
		return stream.Rejected(err)
	case errors.Is(err, kgo.ErrClientClosed):
		return fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
	}
	return stream.Transient(err)
}

func init() {
	source.Register("franz", func() source.Adapter { return &Driver{} })
}
