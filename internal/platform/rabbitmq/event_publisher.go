package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"chatrelay/internal/model"
)

// EventPublisher ships analytics events to the broker. Log is
// fire-and-forget: it returns immediately and a publish failure is only
// logged, never surfaced to the request path.
type EventPublisher struct {
	conn      *amqp.Connection
	queueName string
	logger    *slog.Logger
}

func NewEventPublisher(conn *amqp.Connection, queueName string, logger *slog.Logger) *EventPublisher {
	return &EventPublisher{
		conn:      conn,
		queueName: queueName,
		logger:    logger,
	}
}

func (p *EventPublisher) Log(ctx context.Context, event model.AnalyticsEvent) {
	go func() {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := p.publish(pubCtx, event); err != nil {
			p.logger.Warn("analytics publish failed",
				"request_id", event.RequestID, "error", err)
		}
	}()
}

func (p *EventPublisher) publish(ctx context.Context, event model.AnalyticsEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(
		p.queueName,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal analytics event failed: %w", err)
	}

	if err := ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	); err != nil {
		return fmt.Errorf("publish analytics event failed: %w", err)
	}
	return nil
}
