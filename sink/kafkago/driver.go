// Package kafkago publishes batches with segmentio/kafka-go. The writer's
// hash balancer keeps every message of a batch on the batch key's
// partition.
package kafkago

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl/plain"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/batch"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/discovery"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/logging"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/sink"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type driver struct {
	w messageWriter
}

func (d *driver) Configure(ctx context.Context, t config.Transport) error {
	brokers, err := discovery.Resolve(ctx, t.Kafka)
	if err != nil {
		return err
	}
	d.w = NewWriter(t.Kafka, brokers)
	logging.L().Info("kafka-go sink ready", "brokers", brokers)
	return nil
}

// NewWriter builds a writer that publishes to the topic named on each
// message.
func NewWriter(k config.Kafka, brokers []string) *kafka.Writer {
	tr := &kafka.Transport{ClientID: "eventhub"}
	if k.ClientID != "" {
		tr.ClientID = k.ClientID
	}
	if k.TLSEnabled {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if k.SASLUser != "" {
		tr.SASL = plain.Mechanism{Username: k.SASLUser, Password: k.SASLPass}
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequiredAcks(k.RequiredAcks),
		MaxAttempts:  1,
		Transport:    tr,
	}
	if k.Timeout > 0 {
		w.WriteTimeout = k.Timeout
		w.ReadTimeout = k.Timeout
	}
	return w
}

func (d *driver) Publish(ctx context.Context, streamID string, b *batch.Batch) error {
	key := b.PartitionKey()
	if key == "" {
		key = uuid.NewString()
	}
	msgs := make([]kafka.Message, 0, b.Len())
	for _, it := range b.Items() {
		msgs = append(msgs, kafka.Message{
			Topic:   streamID,
			Key:     []byte(key),
			Value:   it.Body,
			Headers: []kafka.Header{{Key: "message-id", Value: []byte(it.ID)}},
		})
	}
	return Classify(d.w.WriteMessages(ctx, msgs...))
}

func (d *driver) Close() error {
	if d.w == nil {
		return nil
	}
	return d.w.Close()
}

// Classify maps kafka-go errors onto the stream taxonomy.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var werrs kafka.WriteErrors
	if errors.As(err, &werrs) {
		for _, e := range werrs {
			if e != nil {
				return Classify(e)
			}
		}
	}
	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.TopicAuthorizationFailed,
			kafka.ClusterAuthorizationFailed,
			kafka.SASLAuthenticationFailed:
			return stream.Unauthorized(err)
		case kafka.MessageSizeTooLarge, kafka.InvalidMessage:
			return stream.Rejected(err)
		}
		if !kerr.Temporary() {
			return fmt.Errorf("%w: %w", stream.ErrRejected, err)
		}
	}
	return stream.Transient(err)
}

func init() { sink.Register("kafkago", func() sink.Adapter { return &driver{} }) }
