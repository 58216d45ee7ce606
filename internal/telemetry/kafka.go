package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

type kafkaWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher appends events to a topic keyed by session ID, so one
// session's events stay ordered within a partition.
type KafkaPublisher struct {
	writer kafkaWriter
}

// NewKafkaPublisher returns a publisher writing to topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("kafka topic must not be empty")
	}
	if len(brokers) == 0 {
		return nil, errors.New("at least one kafka broker is required")
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		BatchTimeout:           50 * time.Millisecond,
		AllowAutoTopicCreation: true,
	}
	return &KafkaPublisher{writer: w}, nil
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := e.marshal()
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(e.SessionID),
		Value: payload,
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", e.Kind, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
