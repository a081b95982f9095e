// Package events publishes change events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"f0oster/permspy/snapshot"

	"github.com/twmb/franz-go/pkg/kgo"
)

const DefaultTopic = "permspy.changes"

// producer is the subset of *kgo.Client the publisher uses.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// KafkaPublisher writes every change event as one JSON record keyed by the
// event ID.
type KafkaPublisher struct {
	client producer
	topic  string
	logger *slog.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &KafkaPublisher{client: client, topic: topic, logger: logger}, nil
}

// RecordChange produces the event and waits for the broker acknowledgement.
func (p *KafkaPublisher) RecordChange(ctx context.Context, ev snapshot.ChangeEvent) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal change event: %w", err)
	}
	rec := &kgo.Record{
		Topic: p.topic,
		Key:   []byte(ev.ID.String()),
		Value: value,
	}
	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("produce change event %s: %w", ev.ID, err)
	}
	p.logger.Debug("change event published", "topic", p.topic, "event", ev.ID)
	return nil
}

func (p *KafkaPublisher) Close() {
	p.client.Close()
}
