package notify

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/xtrntr/escrow/internal/models"
)

// SaramaPublisher sends events through an IBM/sarama synchronous producer
type SaramaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewSaramaConfig returns the producer config the publisher expects
func NewSaramaConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Partitioner = sarama.NewHashPartitioner
	return cfg
}

// NewSaramaPublisher connects a sync producer to brokers
func NewSaramaPublisher(brokers []string, topic string) (*SaramaPublisher, error) {
	producer, err := sarama.NewSyncProducer(brokers, NewSaramaConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewSaramaPublisherWithProducer(producer, topic), nil
}

// NewSaramaPublisherWithProducer wraps an existing producer
func NewSaramaPublisherWithProducer(producer sarama.SyncProducer, topic string) *SaramaPublisher {
	return &SaramaPublisher{producer: producer, topic: topic}
}

// Publish sends event keyed by order id and waits for the broker ack
func (p *SaramaPublisher) Publish(ctx context.Context, event models.Event) error {
	key, value, err := encode(event)
	if err != nil {
		return err
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
		Headers: []sarama.RecordHeader{
			{Key: []byte("type"), Value: []byte(event.Type)},
		},
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("failed to send event to kafka: %w", err)
	}
	return nil
}

// Close shuts the producer down
func (p *SaramaPublisher) Close() error {
	return p.producer.Close()
}
