package kafka

import "github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/config"

func kafkaCfg() config.Kafka {
	return config.Kafka{
		Brokers:      []string{"localhost:9092"},
		Version:      "2.8.0",
		SASLUser:     "u",
		SASLPass:     "p",
		RequiredAcks: -1,
	}
}
