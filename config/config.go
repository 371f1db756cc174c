// Package config loads the engine's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"matchcore/domain"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPath = "config.yaml"

	envConfigPath   = "MATCHCORE_CONFIG"
	envLogLevel     = "LOG_LEVEL"
	envKafkaBrokers = "KAFKA_BROKERS"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	Engine    EngineConfig    `yaml:"engine"`
	WAL       WALConfig       `yaml:"wal"`
	Outbox    OutboxConfig    `yaml:"outbox"`
	Publisher PublisherConfig `yaml:"publisher"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Ops       OpsConfig       `yaml:"ops"`
	Logging   LoggingConfig   `yaml:"logging"`
	Symbols   []domain.Symbol `yaml:"symbols"`
}

type EngineConfig struct {
	QueueSize       int     `yaml:"queue_size"`
	AdmissionPolicy string  `yaml:"admission_policy"`
	RateLimit       float64 `yaml:"rate_limit"`
	RateBurst       int     `yaml:"rate_burst"`
}

type WALConfig struct {
	Dir             string        `yaml:"dir"`
	SegmentSize     int64         `yaml:"segment_size"`
	SegmentDuration time.Duration `yaml:"segment_duration"`
	Sync            bool          `yaml:"sync"`
}

type OutboxConfig struct {
	Dir string `yaml:"dir"`
}

type PublisherConfig struct {
	Driver       string        `yaml:"driver"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	PollInterval time.Duration `yaml:"poll_interval"`
	Batch        int           `yaml:"batch"`
}

type SnapshotConfig struct {
	Store    string        `yaml:"store"`
	Dir      string        `yaml:"dir"`
	Interval time.Duration `yaml:"interval"`
	Keep     int           `yaml:"keep"`
	Redis    RedisConfig   `yaml:"redis"`
	S3       S3Config      `yaml:"s3"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

type S3Config struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	// Static credentials; empty uses the default AWS chain.
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type OpsConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Format  string `yaml:"format"`
	Output  string `yaml:"output"`
	MaxSize int    `yaml:"max_size"`
	MaxAge  int    `yaml:"max_age"`
}

// Path resolves the config file location, MATCHCORE_CONFIG first.
func Path(flagValue string) string {
	if p := strings.TrimSpace(os.Getenv(envConfigPath)); p != "" {
		return p
	}
	if flagValue != "" {
		return flagValue
	}
	return DefaultPath
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if lvl := strings.TrimSpace(os.Getenv(envLogLevel)); lvl != "" {
		c.Logging.Level = lvl
	}
	if brokers := strings.TrimSpace(os.Getenv(envKafkaBrokers)); brokers != "" {
		c.Publisher.Brokers = nil
		for b := range strings.SplitSeq(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.Publisher.Brokers = append(c.Publisher.Brokers, b)
			}
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Engine.QueueSize == 0 {
		c.Engine.QueueSize = 4096
	}
	if c.Engine.AdmissionPolicy == "" {
		c.Engine.AdmissionPolicy = "block"
	}
	if c.Engine.RateLimit > 0 && c.Engine.RateBurst == 0 {
		c.Engine.RateBurst = int(c.Engine.RateLimit)
	}

	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.WAL.SegmentSize == 0 {
		c.WAL.SegmentSize = 64 << 20
	}
	if c.Outbox.Dir == "" {
		c.Outbox.Dir = "./data/outbox"
	}

	if c.Publisher.Driver == "" {
		c.Publisher.Driver = "none"
	}
	if c.Publisher.Topic == "" {
		c.Publisher.Topic = "matchcore.events"
	}
	if c.Publisher.PollInterval == 0 {
		c.Publisher.PollInterval = 200 * time.Millisecond
	}
	if c.Publisher.Batch == 0 {
		c.Publisher.Batch = 256
	}

	if c.Snapshot.Store == "" {
		c.Snapshot.Store = "file"
	}
	if c.Snapshot.Dir == "" {
		c.Snapshot.Dir = "./data/snapshots"
	}
	if c.Snapshot.Keep == 0 {
		c.Snapshot.Keep = 3
	}
	if c.Snapshot.Redis.Prefix == "" {
		c.Snapshot.Redis.Prefix = "matchcore"
	}

	if c.Ops.HTTPAddr == "" {
		c.Ops.HTTPAddr = ":8080"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
}

func (c *Config) validate() error {
	if c.Engine.QueueSize < 0 {
		return fmt.Errorf("%w: engine.queue_size must be positive", ErrInvalidConfig)
	}
	switch c.Engine.AdmissionPolicy {
	case "block", "fail":
	default:
		return fmt.Errorf("%w: engine.admission_policy %q", ErrInvalidConfig, c.Engine.AdmissionPolicy)
	}
	if c.Engine.RateLimit < 0 {
		return fmt.Errorf("%w: engine.rate_limit must not be negative", ErrInvalidConfig)
	}

	switch c.Publisher.Driver {
	case "none":
	case "sarama", "kafka-go":
		if len(c.Publisher.Brokers) == 0 {
			return fmt.Errorf("%w: publisher.brokers required for %s", ErrInvalidConfig, c.Publisher.Driver)
		}
	default:
		return fmt.Errorf("%w: publisher.driver %q", ErrInvalidConfig, c.Publisher.Driver)
	}

	switch c.Snapshot.Store {
	case "file", "pebble":
	case "redis":
		if c.Snapshot.Redis.Addr == "" {
			return fmt.Errorf("%w: snapshot.redis.addr required", ErrInvalidConfig)
		}
	case "s3":
		if c.Snapshot.S3.Bucket == "" {
			return fmt.Errorf("%w: snapshot.s3.bucket required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: snapshot.store %q", ErrInvalidConfig, c.Snapshot.Store)
	}
	if c.Snapshot.Interval < 0 {
		return fmt.Errorf("%w: snapshot.interval must not be negative", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(c.Symbols))
	for i := range c.Symbols {
		s := &c.Symbols[i]
		if err := s.Validate(); err != nil {
			return fmt.Errorf("%w: symbols[%d]: %w", ErrInvalidConfig, i, err)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate symbol %s", ErrInvalidConfig, s.ID)
		}
		seen[s.ID] = true
	}
	return nil
}
