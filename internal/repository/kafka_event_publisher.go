package repository

import (
	"context"

	"ChartFeed/internal/domain/models"
	domrepo "ChartFeed/internal/domain/repository"
	pkgkafka "ChartFeed/pkg/kafka"
)

// KafkaEventPublisher publishes window eviction events keyed by session id.
type KafkaEventPublisher struct {
	producer *pkgkafka.Producer
	topic    string
}

func NewKafkaEventPublisher(producer *pkgkafka.Producer, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) PublishEviction(ctx context.Context, ev models.EvictionEvent) error {
	return p.producer.PublishJSON(ctx, p.topic, ev.SessionID, ev)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NopEventPublisher drops events; it is used when Kafka is disabled.
type NopEventPublisher struct{}

func (NopEventPublisher) PublishEviction(context.Context, models.EvictionEvent) error { return nil }
func (NopEventPublisher) Close() error                                                { return nil }

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ domrepo.EventPublisher = NopEventPublisher{}
)
