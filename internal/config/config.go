package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/Shiva-Nandh-Reddy-Mokilla/Phase1-EventHubs-AKS/internal/stream"
)

const (
	EnvPrefix       = "EVENTHUB__"
	SupportedSchema = "v1"
)

type Retry struct {
	Attempts int           `koanf:"attempts"`
	Backoff  time.Duration `koanf:"backoff"`
}

// MSK resolves bootstrap brokers from an Amazon MSK cluster name instead of
// a static broker list.
type MSK struct {
	ClusterName string `koanf:"cluster_name"`
	Region      string `koanf:"region"`
	Auth        string `koanf:"auth"` // plaintext|tls|sasl_scram|sasl_iam
}

type Kafka struct {
	Brokers      []string      `koanf:"brokers"`
	Version      string        `koanf:"version"`
	ClientID     string        `koanf:"client_id"`
	TLSEnabled   bool          `koanf:"tls_enabled"`
	SASLUser     string        `koanf:"sasl_user"`
	SASLPass     string        `koanf:"sasl_pass"`
	RequiredAcks int           `koanf:"required_acks"` // 0, 1, -1
	Timeout      time.Duration `koanf:"timeout"`
	MSK          MSK           `koanf:"msk"`
}

type Memory struct {
	Partitions int `koanf:"partitions"`
}

// Transport selects and configures a source or sink driver.
type Transport struct {
	Driver string `koanf:"driver"`
	Kafka  Kafka  `koanf:"kafka"`
	Memory Memory `koanf:"memory"`
}

// Store is the durable backend for checkpoints, leases and membership.
type Store struct {
	Driver    string `koanf:"driver"` // memory|sqlite|postgres|redis
	DSN       string `koanf:"dsn"`
	Path      string `koanf:"path"`
	Addr      string `koanf:"addr"`
	Password  string `koanf:"password"`
	DB        int    `koanf:"db"`
	KeyPrefix string `koanf:"key_prefix"`
}

type Server struct {
	HTTPPort    int `koanf:"http_port"`
	GRPCPort    int `koanf:"grpc_port"`
	MetricsPort int `koanf:"metrics_port"`
}

type Log struct {
	Level string `koanf:"level"`
	JSON  bool   `koanf:"json"`
}

type Producer struct {
	RatePerSecond float64 `koanf:"rate_per_second"` // batches per second, 0 = unlimited
	Burst         int     `koanf:"burst"`
	Seed          int64   `koanf:"seed"` // 0 = time based
}

type Config struct {
	SchemaVersion string `koanf:"schema_version"`

	StreamID           string        `koanf:"stream_id"`
	ConsumerGroup      string        `koanf:"consumer_group"`
	InstanceID         string        `koanf:"instance_id"`
	StartPosition      string        `koanf:"start_position"` // earliest|latest
	MaxBatchBytes      int           `koanf:"max_batch_bytes"`
	LeaseDuration      time.Duration `koanf:"lease_duration"`
	LeaseRenewInterval time.Duration `koanf:"lease_renew_interval"`
	CheckpointTimeout  time.Duration `koanf:"checkpoint_timeout"`
	ShutdownTimeout    time.Duration `koanf:"shutdown_timeout"`
	RestartBackoff     time.Duration `koanf:"restart_backoff"`
	Codec              string        `koanf:"codec"` // json|proto

	HandlerRetry Retry `koanf:"handler_retry"`
	ReadRetry    Retry `koanf:"read_retry"`
	PublishRetry Retry `koanf:"publish_retry"`

	Source   Transport `koanf:"source"`
	Sink     Transport `koanf:"sink"`
	Store    Store     `koanf:"store"`
	Server   Server    `koanf:"server"`
	Log      Log       `koanf:"log"`
	Producer Producer  `koanf:"producer"`
}

// Default returns the configuration every loaded file is merged onto.
func Default() Config {
	return Config{
		SchemaVersion:      SupportedSchema,
		ConsumerGroup:      "$Default",
		StartPosition:      "latest",
		MaxBatchBytes:      1 << 20,
		LeaseDuration:      30 * time.Second,
		LeaseRenewInterval: 10 * time.Second,
		CheckpointTimeout:  5 * time.Second,
		ShutdownTimeout:    30 * time.Second,
		RestartBackoff:     5 * time.Second,
		Codec:              "json",
		HandlerRetry:       Retry{Attempts: 2, Backoff: 200 * time.Millisecond},
		ReadRetry:          Retry{Attempts: 5, Backoff: 500 * time.Millisecond},
		PublishRetry:       Retry{Attempts: 4, Backoff: 250 * time.Millisecond},
		Source:             Transport{Driver: "sarama", Kafka: Kafka{Version: "2.8.0", RequiredAcks: -1, Timeout: 10 * time.Second}, Memory: Memory{Partitions: 4}},
		Sink:               Transport{Driver: "sarama", Kafka: Kafka{Version: "2.8.0", RequiredAcks: -1, Timeout: 10 * time.Second}, Memory: Memory{Partitions: 4}},
		Store:              Store{KeyPrefix: "eventhub"},
		Server:             Server{HTTPPort: 8080, GRPCPort: 7070, MetricsPort: 9100},
		Log:                Log{Level: "info"},
		Producer:           Producer{Burst: 1},
	}
}

// legacyEnv maps the variable names used by earlier deployments onto
// config keys.
var legacyEnv = map[string]string{
	"EVENTHUB_NAME":             "stream_id",
	"EVENTHUB_CONSUMER_GROUP":   "consumer_group",
	"STORAGE_CONNECTION_STRING": "store.dsn",
	"KAFKA_BROKERS":             "kafka_brokers",
}

// loadLayers merges parser-less providers into k in order.
func loadLayers(k *koanf.Koanf, layers ...koanf.Provider) error {
	for _, l := range layers {
		if err := k.Load(l, nil); err != nil {
			return fmt.Errorf("load env: %w", err)
		}
	}
	return nil
}

// Load merges YAML (if present) with legacy env names and then with
// prefixed env vars (EVENTHUB__STORE__DRIVER -> store.driver).
func Load(path string) (Config, error) {
	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil &&
			!errors.Is(err, fs.ErrNotExist) {
			return Config{}, err
		}
	}
	sv := k.String("schema_version")
	if sv != "" && sv != SupportedSchema {
		return Config{}, fmt.Errorf("config schema_version %q not supported (want %s)", sv, SupportedSchema)
	}

	legacy := env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		if key == "KAFKA_BROKERS" {
			return legacyEnv[key], strings.Split(value, ",")
		}
		return legacyEnv[key], value
	})
	if err := loadLayers(k, legacy, env.ProviderWithValue(EnvPrefix, ".", envKey)); err != nil {
		return Config{}, err
	}

	cfg := Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}
	// KAFKA_BROKERS fills whichever side has no explicit list
	if shared := k.Strings("kafka_brokers"); len(shared) > 0 {
		if len(cfg.Source.Kafka.Brokers) == 0 {
			cfg.Source.Kafka.Brokers = shared
		}
		if len(cfg.Sink.Kafka.Brokers) == 0 {
			cfg.Sink.Kafka.Brokers = shared
		}
	}
	return cfg, nil
}

func envKey(key, value string) (string, any) {
	k := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	k = strings.ReplaceAll(k, "__", ".")
	if strings.HasSuffix(k, "brokers") {
		return k, strings.Split(value, ",")
	}
	return k, value
}

// ValidateConsumer checks what the processor cannot run without. Every
// problem wraps stream.ErrConfiguration.
func (c Config) ValidateConsumer() error {
	var errs []error
	if strings.TrimSpace(c.StreamID) == "" {
		errs = append(errs, errors.New("stream_id is required"))
	}
	if strings.TrimSpace(c.ConsumerGroup) == "" {
		errs = append(errs, errors.New("consumer_group is required"))
	}
	if _, err := stream.ParsePosition(c.StartPosition); err != nil {
		errs = append(errs, err)
	}
	if c.LeaseDuration <= 0 || c.LeaseRenewInterval <= 0 {
		errs = append(errs, errors.New("lease_duration and lease_renew_interval must be positive"))
	} else if c.LeaseRenewInterval >= c.LeaseDuration {
		errs = append(errs, fmt.Errorf("lease_renew_interval %v must be shorter than lease_duration %v", c.LeaseRenewInterval, c.LeaseDuration))
	}
	if c.CheckpointTimeout <= 0 || c.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("checkpoint_timeout and shutdown_timeout must be positive"))
	}
	if c.Source.Driver == "" {
		errs = append(errs, errors.New("source.driver is required"))
	}
	errs = append(errs, c.Store.validate()...)
	return wrap(errs)
}

func (c Config) ValidateProducer() error {
	var errs []error
	if strings.TrimSpace(c.StreamID) == "" {
		errs = append(errs, errors.New("stream_id is required"))
	}
	if c.MaxBatchBytes <= 0 {
		errs = append(errs, errors.New("max_batch_bytes must be positive"))
	}
	if c.Sink.Driver == "" {
		errs = append(errs, errors.New("sink.driver is required"))
	}
	return wrap(errs)
}

func (s Store) validate() []error {
	switch s.Driver {
	case "":
		return []error{errors.New("store.driver is required")}
	case "memory":
	case "sqlite":
		if s.Path == "" {
			return []error{errors.New("store.path is required for sqlite")}
		}
	case "postgres":
		if s.DSN == "" {
			return []error{errors.New("store.dsn is required for postgres")}
		}
	case "redis":
		if s.Addr == "" {
			return []error{errors.New("store.addr is required for redis")}
		}
	default:
		return []error{fmt.Errorf("unsupported store.driver %q", s.Driver)}
	}
	return nil
}

func wrap(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", stream.ErrConfiguration, errors.Join(errs...))
}
