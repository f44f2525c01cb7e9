package kafka

import (
	"time"

	"github.com/IBM/sarama"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"
)

const defaultClientID = "eventhub"

// SaramaConfig maps the shared kafka settings onto a sarama config. The
// sink driver builds on the same base.
func SaramaConfig(k config.Kafka) (*sarama.Config, error) {
	sc := sarama.NewConfig()
	if k.Version != "" {
		ver, err := sarama.ParseKafkaVersion(k.Version)
		if err != nil {
			return nil, err
		}
		sc.Version = ver
	}
	sc.ClientID = defaultClientID
	if k.ClientID != "" {
		sc.ClientID = k.ClientID
	}
	if k.TLSEnabled {
		sc.Net.TLS.Enable = true
	}
	if k.SASLUser != "" {
		sc.Net.SASL.Enable = true
		sc.Net.SASL.User, sc.Net.SASL.Password = k.SASLUser, k.SASLPass
	}
	if k.Timeout > 0 {
		sc.Net.DialTimeout = k.Timeout
		sc.Net.ReadTimeout = k.Timeout
		sc.Net.WriteTimeout = k.Timeout
	}
	sc.Consumer.Return.Errors = true
	sc.Consumer.Retry.Backoff = 500 * time.Millisecond
	sc.Producer.RequiredAcks = sarama.RequiredAcks(k.RequiredAcks)
	return sc, nil
}
