package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

var ErrInvalidEvent = errors.New("invalid review completed event")

// ReviewCompletedMessage - уже разобранное событие review.completed вместе с функциями подтверждения.
// DecodeErr заполнен, если тело не удалось разобрать; такое сообщение повторять бессмысленно.
type ReviewCompletedMessage struct {
	Event       *models.ReviewCompletedEvent
	DecodeErr   error
	DeliveredAt time.Time
	Redelivered bool
	Ack         func(multiple bool) error
	Nack        func(multiple bool, requeue bool) error
}

type RabbitMQConsumer interface {
	Consume(ctx context.Context) (<-chan ReviewCompletedMessage, error)
	QueueLength() (int, error)
	Close() error
}

type rabbitMQConsumer struct {
	channel     *amqp.Channel
	queue       string
	consumerTag string
	prefetch    int
	logger      zerolog.Logger
}

func NewRabbitMQConsumer(channel *amqp.Channel, queue, consumerTag string, prefetch int, logger zerolog.Logger) RabbitMQConsumer {
	if prefetch <= 0 {
		prefetch = 1
	}

	return &rabbitMQConsumer{
		channel:     channel,
		queue:       queue,
		consumerTag: consumerTag,
		prefetch:    prefetch,
		logger:      logger.With().Str("queue", queue).Logger(),
	}
}

// DecodeReviewCompleted разбирает тело сообщения и проверяет обязательные поля.
func DecodeReviewCompleted(body []byte) (*models.ReviewCompletedEvent, error) {
	var event models.ReviewCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	if strings.TrimSpace(event.SubmissionID) == "" {
		return nil, fmt.Errorf("%w: empty submission_id", ErrInvalidEvent)
	}
	return &event, nil
}

func (c *rabbitMQConsumer) Consume(ctx context.Context) (<-chan ReviewCompletedMessage, error) {
	if err := c.channel.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := c.channel.Consume(
		c.queue,       // queue
		c.consumerTag, // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register consumer: %w", err)
	}

	output := make(chan ReviewCompletedMessage)
	go c.forward(ctx, deliveries, output)

	c.logger.Info().
		Str("consumer_tag", c.consumerTag).
		Int("prefetch", c.prefetch).
		Msg("RabbitMQ consumer started")

	return output, nil
}

// forward закрывает output, когда брокер закрыл канал доставки или отменен ctx.
func (c *rabbitMQConsumer) forward(ctx context.Context, deliveries <-chan amqp.Delivery, output chan<- ReviewCompletedMessage) {
	defer close(output)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Stopping RabbitMQ consumer")
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn().Msg("RabbitMQ delivery channel closed")
				return
			}

			msg := c.toMessage(delivery)
			select {
			case output <- msg:
			case <-ctx.Done():
				_ = delivery.Nack(false, true)
				return
			}
		}
	}
}

func (c *rabbitMQConsumer) toMessage(delivery amqp.Delivery) ReviewCompletedMessage {
	msg := ReviewCompletedMessage{
		DeliveredAt: delivery.Timestamp,
		Redelivered: delivery.Redelivered,
		Ack:         delivery.Ack,
		Nack:        delivery.Nack,
	}

	msg.Event, msg.DecodeErr = DecodeReviewCompleted(delivery.Body)
	if msg.DecodeErr != nil {
		c.logger.Warn().
			Err(msg.DecodeErr).
			Str("routing_key", delivery.RoutingKey).
			Msg("Received undecodable review completed event")
	}

	return msg
}

func (c *rabbitMQConsumer) QueueLength() (int, error) {
	queue, err := c.channel.QueueDeclarePassive(c.queue, true, false, false, false, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to inspect queue: %w", err)
	}
	return queue.Messages, nil
}

func (c *rabbitMQConsumer) Close() error {
	if c.channel == nil {
		return nil
	}
	if err := c.channel.Cancel(c.consumerTag, false); err != nil {
		return fmt.Errorf("failed to cancel consumer: %w", err)
	}

	c.logger.Info().Msg("RabbitMQ consumer closed")
	return nil
}
