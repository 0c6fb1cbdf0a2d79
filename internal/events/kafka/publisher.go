package kafka

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"

	"github.com/sheikh-saqib/hashchain-ledger/internal/models/events"
)

const DefaultTopic = "transfer_completed"

// Publisher writes TransferCompleted events to a kafka topic.
type Publisher struct {
	writer *kafka.Writer
}

// NewPublisher writes to topic, or DefaultTopic when topic is empty.
func NewPublisher(brokers []string, topic string) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireAll,
			// events are written one at a time by the ledger outbox
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

// createMessage keys the message by digest so consumers can drop redeliveries.
func createMessage(event events.TransferCompleted) (kafka.Message, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "marshalling transfer completed event")
	}
	return kafka.Message{
		Key:   []byte(event.Digest),
		Value: data,
		Time:  event.OccurredAt,
	}, nil
}

// PublishTransferCompleted blocks until the brokers acknowledged the event.
func (p *Publisher) PublishTransferCompleted(ctx context.Context, event events.TransferCompleted) error {
	msg, err := createMessage(event)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "writing event for position [%d]", event.Position)
	}
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
