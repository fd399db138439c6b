package events

import (
	"context"
	"log"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/ArtemMasharipov/go-bookstore/internal/repository"
)

// OutboxSource is the slice of the order repository the publisher drains.
type OutboxSource interface {
	GetUnprocessedEvents(ctx context.Context, limit int) ([]*repository.OutboxEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
}

// messageWriter matches *kafka.Writer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Publisher drains the order outbox and ships events to Kafka. Rows are only
// marked processed after a successful publish, so delivery is at-least-once.
type Publisher struct {
	tick   time.Duration
	source OutboxSource
	writer messageWriter
}

func NewPublisher(source OutboxSource, brokers ...string) *Publisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  "order-events",
		Balancer:               &kafka.LeastBytes{},
		AllowAutoTopicCreation: true,
	}
	return &Publisher{
		tick:   time.Second,
		source: source,
		writer: w,
	}
}

func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.tick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Publisher) Close() {
	if closer, ok := p.writer.(*kafka.Writer); ok {
		if err := closer.Close(); err != nil {
			log.Printf("error closing kafka writer: %v", err)
		}
	}
}

func (p *Publisher) processUnpublishedEvents(ctx context.Context) {
	events, err := p.source.GetUnprocessedEvents(ctx, 100)
	if err != nil {
		log.Printf("failed to fetch outbox events: %v", err)
		return
	}

	for _, event := range events {
		if errPublish := p.publish(ctx, event); errPublish != nil {
			log.Printf("failed to publish event id=%d: %v", event.ID, errPublish)
			continue
		}

		if errMark := p.source.MarkEventAsProcessed(ctx, event.ID); errMark != nil {
			log.Printf("failed to mark event processed id=%d: %v", event.ID, errMark)
			continue
		}
	}
}

func (p *Publisher) publish(ctx context.Context, event *repository.OutboxEvent) error {
	msg := kafka.Message{
		Key:   []byte(event.AggregateID), // order id, keeps per-order ordering
		Value: event.Payload,             // already JSON from the database
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}

	return p.writer.WriteMessages(ctx, msg)
}
