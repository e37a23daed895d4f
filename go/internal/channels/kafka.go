package channels

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/tixmarket/go/internal/payload"
)

type KafkaConfig struct {
	Name    string
	Brokers []string
	Topic   string // used when a payload has no destinations
}

// Kafka produces payload envelopes keyed by the payload's user_id so one
// user's notifications stay ordered within a partition.
type Kafka struct {
	name     string
	topic    string
	producer sarama.SyncProducer
	clock    clockwork.Clock
}

func NewKafka(cfg KafkaConfig, clock clockwork.Clock) (*Kafka, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true // required by SyncProducer
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	return NewKafkaWithProducer(cfg, producer, clock), nil
}

// NewKafkaWithProducer wraps an existing producer.
func NewKafkaWithProducer(cfg KafkaConfig, producer sarama.SyncProducer, clock clockwork.Clock) *Kafka {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	name := cfg.Name
	if name == "" {
		name = "kafka"
	}
	return &Kafka{name: name, topic: cfg.Topic, producer: producer, clock: clock}
}

func (k *Kafka) Name() string { return k.name }

func (k *Kafka) Send(ctx context.Context, destinations []string, p payload.Payload) error {
	env := NewEnvelope(p, k.clock.Now())
	value, err := json.Marshal(env)
	if err != nil {
		return permanent(fmt.Errorf("marshal event: %w", err))
	}

	topics := destinations
	if len(topics) == 0 {
		topics = []string{k.topic}
	}

	key, _ := p.String("user_id")
	if key == "" {
		key = env.EventID
	}

	for _, topic := range topics {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := &sarama.ProducerMessage{
			Topic: topic,
			Key:   sarama.StringEncoder(key),
			Value: sarama.ByteEncoder(value),
			Headers: []sarama.RecordHeader{
				{Key: []byte("event-id"), Value: []byte(env.EventID)},
				{Key: []byte("webhook-event-type"), Value: []byte(env.WebhookEventType)},
			},
		}
		partition, offset, err := k.producer.SendMessage(msg)
		if err != nil {
			return fmt.Errorf("failed to send message to Kafka topic %s: %w", topic, err)
		}
		log.Debug().
			Str("topic", topic).
			Str("key", key).
			Int32("partition", partition).
			Int64("offset", offset).
			Int("value_size", len(value)).
			Msg("message sent to Kafka")
	}
	return nil
}

func (k *Kafka) Close() error {
	return k.producer.Close()
}
