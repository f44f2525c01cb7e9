// Package kafka publishes batches with a sarama SyncProducer. Every
// message of a batch carries the batch's partition key so the hash
// partitioner keeps the batch on one partition.
package kafka

import (
	"context"
	"errors"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/google/uuid"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/discovery"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink"
	kafkasrc "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/source/kafka"
)

type driver struct {
	p sarama.SyncProducer
}

// New wraps an existing producer; used by tests.
func New(p sarama.SyncProducer) sink.Adapter { return &driver{p: p} }

// ProducerConfig is the sarama config used for batch publishing.
func ProducerConfig(k config.Kafka) (*sarama.Config, error) {
	sc, err := kafkasrc.SaramaConfig(k)
	if err != nil {
		return nil, err
	}
	sc.Producer.Return.Successes = true
	sc.Producer.Return.Errors = true
	sc.Producer.Partitioner = sarama.NewHashPartitioner
	// retries belong to the publisher
	sc.Producer.Retry.Max = 0
	if sc.Producer.RequiredAcks == sarama.WaitForAll && sc.Version.IsAtLeast(sarama.V0_11_0_0) {
		sc.Producer.Idempotent = true
		sc.Net.MaxOpenRequests = 1
		sc.Producer.Retry.Max = 1
	}
	return sc, nil
}

func (d *driver) Configure(ctx context.Context, t config.Transport) error {
	brokers, err := discovery.Resolve(ctx, t.Kafka)
	if err != nil {
		return err
	}
	sc, err := ProducerConfig(t.Kafka)
	if err != nil {
		return fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
	}
	if d.p, err = sarama.NewSyncProducer(brokers, sc); err != nil {
		return kafkasrc.Classify(err)
	}
	logging.L().Info("sarama sink ready", "brokers", brokers)
	return nil
}

func (d *driver) Publish(ctx context.Context, streamID string, b *batch.Batch) error {
	if err := ctx.Err(); err != nil {
		return stream.Transient(err)
	}
	key := b.PartitionKey()
	if key == "" {
		key = uuid.NewString()
	}
	msgs := make([]*sarama.ProducerMessage, 0, b.Len())
	for _, it := range b.Items() {
		msgs = append(msgs, &sarama.ProducerMessage{
			Topic:   streamID,
			Key:     sarama.StringEncoder(key),
			Value:   sarama.ByteEncoder(it.Body),
			Headers: []sarama.RecordHeader{{Key: []byte("message-id"), Value: []byte(it.ID)}},
		})
	}
	// SendMessages is not atomic: the messages it accepted stay written when
	// others fail, and the resend duplicates them.
	err := d.p.SendMessages(msgs)
	if err == nil {
		return nil
	}
	var perrs sarama.ProducerErrors
	if errors.As(err, &perrs) && len(perrs) > 0 {
		return fmt.Errorf("%d of %d messages accepted: %w", len(msgs)-len(perrs), len(msgs), kafkasrc.Classify(perrs[0].Err))
	}
	return kafkasrc.Classify(err)
}

func (d *driver) Close() error {
	if d.p == nil {
		return nil
	}
	err := d.p.Close()
	d.p = nil
	return err
}

func init() { sink.Register("sarama", func() sink.Adapter { return &driver{} }) }
