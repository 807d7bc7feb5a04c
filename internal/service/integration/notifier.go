package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
)

const (
	DefaultExchange         = "review_exchange"
	ReviewAssignedRouteKey  = "review.assigned"
	ReviewCompletedRouteKey = "review.completed"
)

// Publisher - минимальный контракт над queue.RabbitMQPublisher.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Notifier только публикует событие; доставка рецензенту не наша забота.
type Notifier interface {
	NotifyReviewAssigned(ctx context.Context, reviewerID, submissionID, submissionURL string) error
}

type EventPublisher interface {
	PublishReviewCompleted(ctx context.Context, event *models.ReviewCompletedEvent) error
}

// RabbitMQNotifier публикует события рецензий в один direct exchange.
type RabbitMQNotifier struct {
	publisher Publisher
	exchange  string
	logger    zerolog.Logger
}

func NewRabbitMQNotifier(publisher Publisher, exchange string, logger zerolog.Logger) *RabbitMQNotifier {
	if exchange == "" {
		exchange = DefaultExchange
	}

	return &RabbitMQNotifier{
		publisher: publisher,
		exchange:  exchange,
		logger:    logger,
	}
}

func (n *RabbitMQNotifier) NotifyReviewAssigned(ctx context.Context, reviewerID, submissionID, submissionURL string) error {
	event := models.ReviewAssignedEvent{
		ReviewerID:    reviewerID,
		SubmissionID:  submissionID,
		SubmissionURL: submissionURL,
		Timestamp:     time.Now().Unix(),
	}

	if err := n.publish(ctx, ReviewAssignedRouteKey, event); err != nil {
		return err
	}

	n.logger.Info().
		Str("reviewer_id", reviewerID).
		Str("submission_id", submissionID).
		Msg("Review assigned event published")

	return nil
}

func (n *RabbitMQNotifier) PublishReviewCompleted(ctx context.Context, event *models.ReviewCompletedEvent) error {
	if err := n.publish(ctx, ReviewCompletedRouteKey, event); err != nil {
		return err
	}

	n.logger.Debug().
		Str("review_id", event.ReviewID).
		Str("submission_id", event.SubmissionID).
		Msg("Review completed event published")

	return nil
}

func (n *RabbitMQNotifier) publish(ctx context.Context, routingKey string, event interface{}) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := n.publisher.Publish(ctx, n.exchange, routingKey, body); err != nil {
		return fmt.Errorf("failed to publish %s: %w", routingKey, err)
	}

	return nil
}

// NoopNotifier используется в CLI-режимах без брокера.
type NoopNotifier struct {
	Logger zerolog.Logger
}

func (n NoopNotifier) NotifyReviewAssigned(_ context.Context, reviewerID, submissionID, _ string) error {
	n.Logger.Debug().
		Str("reviewer_id", reviewerID).
		Str("submission_id", submissionID).
		Msg("Notifications disabled, review assigned event dropped")
	return nil
}

func (n NoopNotifier) PublishReviewCompleted(_ context.Context, event *models.ReviewCompletedEvent) error {
	n.Logger.Debug().Str("review_id", event.ReviewID).Msg("Notifications disabled, review completed event dropped")
	return nil
}
