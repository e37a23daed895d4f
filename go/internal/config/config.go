package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mcdev12/tixmarket/go/internal/dispatcher"
)

// Config describes one tixmarket dispatcher process.
type Config struct {
	Port        string             `yaml:"port"`
	FrontEndURL string             `yaml:"front_end_url"`
	LogLevel    string             `yaml:"log_level"`
	Listener    ListenerConfig     `yaml:"listener"`
	Checkpoints CheckpointConfig   `yaml:"checkpoints"`
	Channels    ChannelsConfig     `yaml:"channels"`
	Dispatchers []DispatcherConfig `yaml:"dispatchers"`
}

type ListenerConfig struct {
	Enabled       bool   `yaml:"enabled"`
	NotifyChannel string `yaml:"notify_channel"`
}

// CheckpointConfig selects where dispatcher cursors live: postgres, redis or memory.
type CheckpointConfig struct {
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

type ChannelsConfig struct {
	Webhooks  []WebhookConfig  `yaml:"webhooks"`
	JetStream *JetStreamConfig `yaml:"jetstream"`
	Kafka     *KafkaConfig     `yaml:"kafka"`
	RabbitMQ  *RabbitMQConfig  `yaml:"rabbitmq"`
	Push      *PushConfig      `yaml:"push"`
	// Log lists channels that only log what they would send, for
	// providers without a client yet.
	Log []string `yaml:"log"`
}

type WebhookConfig struct {
	Name    string            `yaml:"name"`
	URL     string            `yaml:"url"`
	Timeout time.Duration     `yaml:"timeout"`
	Headers map[string]string `yaml:"headers"`
}

type JetStreamConfig struct {
	Name          string `yaml:"name"`
	URL           string `yaml:"url"`
	StreamName    string `yaml:"stream"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

type KafkaConfig struct {
	Name    string   `yaml:"name"`
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

type RabbitMQConfig struct {
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

type PushConfig struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

type DispatcherConfig struct {
	Name         string             `yaml:"name"`
	Workers      int                `yaml:"workers"`
	PollInterval time.Duration      `yaml:"poll_interval"`
	BatchSize    int                `yaml:"batch_size"`
	MaxRetries   *int               `yaml:"max_retries"`
	RetryDelay   time.Duration      `yaml:"retry_delay"`
	Routes       []dispatcher.Route `yaml:"routes"`
}

// Dispatcher converts the YAML block, filling unset values from dispatcher.DefaultConfig.
func (d DispatcherConfig) Dispatcher() dispatcher.Config {
	cfg := dispatcher.DefaultConfig()
	cfg.Name = d.Name
	if d.Workers > 0 {
		cfg.Workers = d.Workers
	}
	if d.PollInterval > 0 {
		cfg.PollInterval = d.PollInterval
	}
	if d.BatchSize > 0 {
		cfg.BatchSize = d.BatchSize
	}
	if d.MaxRetries != nil {
		cfg.MaxRetries = *d.MaxRetries
	}
	if d.RetryDelay > 0 {
		cfg.RetryDelay = d.RetryDelay
	}
	return cfg
}

// Load reads the YAML file at path and applies environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.applyEnv()
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PORT"); v != "" {
		c.Port = v
	}
	if v := os.Getenv("FRONT_END_URL"); v != "" {
		c.FrontEndURL = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Checkpoints.RedisAddr = v
	}
	if v := os.Getenv("NATS_URL"); v != "" && c.Channels.JetStream != nil {
		c.Channels.JetStream.URL = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" && c.Channels.Kafka != nil {
		c.Channels.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("RABBITMQ_URL"); v != "" && c.Channels.RabbitMQ != nil {
		c.Channels.RabbitMQ.URL = v
	}
}

func (c *Config) applyDefaults() {
	if c.Port == "" {
		c.Port = "8080"
	}
	if c.FrontEndURL == "" {
		c.FrontEndURL = "http://localhost:3000"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.Listener.NotifyChannel == "" {
		c.Listener.NotifyChannel = "domain_events"
	}
	if c.Checkpoints.Backend == "" {
		c.Checkpoints.Backend = "postgres"
	}
	if c.Channels.Push != nil {
		if c.Channels.Push.Name == "" {
			c.Channels.Push.Name = "push"
		}
		if c.Channels.Push.Path == "" {
			c.Channels.Push.Path = "/ws/push"
		}
	}
	if js := c.Channels.JetStream; js != nil && js.Name == "" {
		js.Name = "jetstream"
	}
	if k := c.Channels.Kafka; k != nil && k.Name == "" {
		k.Name = "kafka"
	}
	if r := c.Channels.RabbitMQ; r != nil && r.Name == "" {
		r.Name = "rabbitmq"
	}
	for i := range c.Channels.Webhooks {
		if c.Channels.Webhooks[i].Name == "" {
			c.Channels.Webhooks[i].Name = "webhook"
		}
	}
}

// ChannelNames lists every configured channel in declaration order.
func (c *Config) ChannelNames() []string {
	var names []string
	for _, w := range c.Channels.Webhooks {
		names = append(names, w.Name)
	}
	if c.Channels.JetStream != nil {
		names = append(names, c.Channels.JetStream.Name)
	}
	if c.Channels.Kafka != nil {
		names = append(names, c.Channels.Kafka.Name)
	}
	if c.Channels.RabbitMQ != nil {
		names = append(names, c.Channels.RabbitMQ.Name)
	}
	if c.Channels.Push != nil {
		names = append(names, c.Channels.Push.Name)
	}
	return append(names, c.Channels.Log...)
}

// Validate checks names and backends. Routes are checked against the
// payload builder when dispatchers are constructed.
func (c *Config) Validate() error {
	var errs []error

	switch c.Checkpoints.Backend {
	case "postgres", "memory":
	case "redis":
		if c.Checkpoints.RedisAddr == "" {
			errs = append(errs, errors.New("checkpoints: redis backend needs redis_addr"))
		}
	default:
		errs = append(errs, fmt.Errorf("checkpoints: unknown backend %q", c.Checkpoints.Backend))
	}

	channels := make(map[string]bool)
	for _, name := range c.ChannelNames() {
		if channels[name] {
			errs = append(errs, fmt.Errorf("channels: duplicate name %q", name))
		}
		channels[name] = true
	}
	if js := c.Channels.JetStream; js != nil && js.URL == "" {
		errs = append(errs, errors.New("channels.jetstream: url is required"))
	}
	if k := c.Channels.Kafka; k != nil && (len(k.Brokers) == 0 || k.Topic == "") {
		errs = append(errs, errors.New("channels.kafka: brokers and topic are required"))
	}
	if r := c.Channels.RabbitMQ; r != nil && (r.URL == "" || r.Exchange == "") {
		errs = append(errs, errors.New("channels.rabbitmq: url and exchange are required"))
	}

	if len(c.Dispatchers) == 0 {
		errs = append(errs, errors.New("dispatchers: at least one is required"))
	}
	names := make(map[string]bool)
	for i, d := range c.Dispatchers {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("dispatchers[%d]: name is required", i))
		} else if names[d.Name] {
			errs = append(errs, fmt.Errorf("dispatchers: duplicate name %q", d.Name))
		}
		names[d.Name] = true
		if len(d.Routes) == 0 {
			errs = append(errs, fmt.Errorf("dispatcher %q: no routes", d.Name))
		}
		for _, r := range d.Routes {
			if !channels[r.Channel] {
				errs = append(errs, fmt.Errorf("dispatcher %q: route to unknown channel %q", d.Name, r.Channel))
			}
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
