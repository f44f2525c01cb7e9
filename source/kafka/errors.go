package kafka

import (
	"errors"
	"fmt"

	"github.com/IBM/sarama"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

// Classify maps sarama errors onto the stream taxonomy. Anything not known
// to be permanent is treated as transient.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var cfgErr sarama.ConfigurationError
	if errors.As(err, &cfgErr) {
		return fmt.Errorf("%w: %w", stream.ErrConfiguration, err)
	}
	var kerr sarama.KError
	if errors.As(err, &kerr) {
		switch kerr {
		case sarama.ErrTopicAuthorizationFailed,
			sarama.ErrGroupAuthorizationFailed,
			sarama.ErrClusterAuthorizationFailed,
			sarama.ErrSASLAuthenticationFailed:
			return stream.Unauthorized(err)
		case sarama.ErrMessageSizeTooLarge,
			sarama.ErrInvalidMessage,
			sarama.ErrInvalidMessageSize,
			sarama.ErrMessageSetSizeTooLarge:
			return stream.Rejected(err)
		}
	}
	return stream.Transient(err)
}
