package events

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpBroadcaster publishes events to a durable topic exchange with routing
// key <tenant>.<event type>.
type amqpBroadcaster struct {
	conn     *amqp.Connection
	exchange string
	logger   *zap.Logger
}

// NewAMQPBroadcaster dials RabbitMQ and declares the exchange.
func NewAMQPBroadcaster(url, exchange string, logger *zap.Logger) (Broadcaster, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Info("connected to rabbitmq", zap.String("exchange", exchange))
	return &amqpBroadcaster{conn: conn, exchange: exchange, logger: logger}, nil
}

func (b *amqpBroadcaster) Publish(ctx context.Context, event Event) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	body, err := json.Marshal(event)
	if err != nil {
		return err
	}

	key := fmt.Sprintf("%s.%s", event.TenantID, event.Type)
	err = ch.PublishWithContext(ctx, b.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Timestamp:    event.Timestamp,
		Body:         body,
	})
	if err != nil {
		b.logger.Warn("amqp publish failed",
			zap.String("routing_key", key),
			zap.Error(err))
	}
	return err
}

func (b *amqpBroadcaster) Close() error {
	return b.conn.Close()
}
