// Package kafka reads stream partitions from Kafka with sarama. Each owned
// partition gets its own PartitionConsumer positioned from the checkpoint;
// sarama consumer groups are not used, ownership comes from leases.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/discovery"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source"
)

type SaramaDriver struct {
	cl       sarama.Client
	consumer sarama.Consumer
}

// NewSaramaDriver wraps an existing consumer; used by tests.
func NewSaramaDriver(c sarama.Consumer) *SaramaDriver {
	return &SaramaDriver{consumer: c}
}

func (d *SaramaDriver) Configure(ctx context.Context, t config.Transport) error {
	brokers, err := discovery.Resolve(ctx, t.Kafka)
	if err != nil {
		return err
	}
	sc, err := SaramaConfig(t.Kafka)
	if err != nil {
		return fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
	}
	if d.cl, err = sarama.NewClient(brokers, sc); err != nil {
		return Classify(err)
	}
	if d.consumer, err = sarama.NewConsumerFromClient(d.cl); err != nil {
		_ = d.cl.Close()
		return Classify(err)
	}
	logging.L().Info("sarama source ready", "brokers", brokers)
	return nil
}

func (d *SaramaDriver) Partitions(_ context.Context, streamID string) ([]string, error) {
	ids, err := d.consumer.Partitions(streamID)
	if err != nil {
		return nil, Classify(err)
	}
	out := make([]string, len(ids))
	for i, p := range ids {
		out[i] = strconv.FormatInt(int64(p), 10)
	}
	stream.SortPartitions(out)
	return out, nil
}

func (d *SaramaDriver) Open(_ context.Context, streamID, partitionID string, pos stream.Position) (source.Cursor, error) {
	p, err := strconv.ParseInt(partitionID, 10, 32)
	if err != nil {
		return nil, fmt.Errorf("%w: kafka partition id %q: %w", stream.ErrConfiguration, partitionID, err)
	}
	off := sarama.OffsetNewest
	switch pos.Kind {
	case stream.Earliest:
		off = sarama.OffsetOldest
	case stream.AtOffset:
		off = pos.Offset
	}
	pc, err := d.consumer.ConsumePartition(streamID, int32(p), off)
	if errors.Is(err, sarama.ErrOffsetOutOfRange) {
		// retention removed the checkpointed offset
		logging.L().Warn("checkpoint offset out of range; reading from oldest",
			"partition", partitionID, "offset", off)
		pc, err = d.consumer.ConsumePartition(streamID, int32(p), sarama.OffsetOldest)
	}
	if err != nil {
		return nil, Classify(err)
	}
	return &saramaCursor{pc: pc, partition: partitionID}, nil
}

func (d *SaramaDriver) Close() error {
	var errs []error
	if d.consumer != nil {
		errs = append(errs, d.consumer.Close())
	}
	if d.cl != nil && !d.cl.Closed() {
		errs = append(errs, d.cl.Close())
	}
	return errors.Join(errs...)
}

type saramaCursor struct {
	pc        sarama.PartitionConsumer
	partition string
}

func (c *saramaCursor) Next(ctx context.Context) (stream.Event, error) {
	select {
	case <-ctx.Done():
		return stream.Event{}, ctx.Err()
	case msg, ok := <-c.pc.Messages():
		if !ok {
			return stream.Event{}, stream.Transient(errors.New("partition consumer closed"))
		}
		return stream.Event{
			PartitionID: c.partition,
			Offset:      msg.Offset,
			EnqueuedAt:  msg.Timestamp,
			Body:        msg.Value,
		}, nil
	case err, ok := <-c.pc.Errors():
		if !ok {
			return stream.Event{}, stream.Transient(errors.New("partition consumer closed"))
		}
		return stream.Event{}, Classify(err)
	}
}

func (c *saramaCursor) Close() error {
	c.pc.AsyncClose()
	return nil
}

func init() {
	source.Register("sarama", func() source.Adapter { return &SaramaDriver{} })
}
