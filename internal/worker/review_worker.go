package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service"
	"github.com/dimzachar/ScholarsXP/review-service/internal/worker/queue"
)

const (
	resultProcessed = "processed"
	resultPermanent = "permanent"
	resultRequeued  = "requeued"
	resultDropped   = "dropped"
	resultRejected  = "rejected"
)

// ReviewEventWorker читает review.completed и повторяет проверку завершения рецензий.
type ReviewEventWorker interface {
	Start(ctx context.Context) error
	Stop() error
	GetStats() WorkerStats
}

type WorkerStats struct {
	TotalProcessed int       `json:"total_processed"`
	FailedJobs     int       `json:"failed_jobs"`
	DroppedJobs    int       `json:"dropped_jobs"`
	QueueLength    int       `json:"queue_length"`
	Pool           PoolStats `json:"pool"`
}

type reviewEventWorker struct {
	workerPool    *WorkerPool
	queueConsumer queue.RabbitMQConsumer
	reviews       service.ReviewService
	metrics       *metrics.Metrics
	logger        zerolog.Logger

	loop       sync.WaitGroup
	stats      WorkerStats
	statsMutex sync.RWMutex
	startTime  time.Time
}

func NewReviewEventWorker(
	workerPool *WorkerPool,
	queueConsumer queue.RabbitMQConsumer,
	reviews service.ReviewService,
	m *metrics.Metrics,
	logger zerolog.Logger,
) ReviewEventWorker {
	return &reviewEventWorker{
		workerPool:    workerPool,
		queueConsumer: queueConsumer,
		reviews:       reviews,
		metrics:       m,
		logger:        logger,
		startTime:     time.Now(),
	}
}

func (w *reviewEventWorker) Start(ctx context.Context) error {
	w.logger.Info().Msg("Starting review event worker...")

	w.workerPool.Start()

	msgs, err := w.queueConsumer.Consume(ctx)
	if err != nil {
		return fmt.Errorf("failed to start consuming messages: %w", err)
	}

	w.loop.Add(1)
	go func() {
		defer w.loop.Done()
		w.processMessages(ctx, msgs)
	}()

	w.logger.Info().Msg("Review event worker started successfully")
	return nil
}

// Stop сначала гасит consumer, затем дожидается уже принятых задач пула.
func (w *reviewEventWorker) Stop() error {
	w.logger.Info().Msg("Stopping review event worker...")

	if err := w.queueConsumer.Close(); err != nil {
		w.logger.Error().Err(err).Msg("Failed to close queue consumer")
	}

	w.loop.Wait()
	w.workerPool.Stop()

	w.statsMutex.RLock()
	processed, failed := w.stats.TotalProcessed, w.stats.FailedJobs
	w.statsMutex.RUnlock()

	w.logger.Info().
		Int("total_processed", processed).
		Int("failed_jobs", failed).
		Dur("uptime", time.Since(w.startTime)).
		Msg("Review event worker stopped")

	return nil
}

func (w *reviewEventWorker) processMessages(ctx context.Context, msgs <-chan queue.ReviewCompletedMessage) {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Msg("Stopping message processing")
			return
		case msg, ok := <-msgs:
			if !ok {
				w.logger.Warn().Msg("Message channel closed")
				return
			}

			accepted := w.workerPool.Submit(func() {
				w.settle(msg, w.processMessage(ctx, msg))
			})
			if !accepted {
				// Пул не принял задачу: возвращаем сообщение брокеру.
				w.observe(resultRejected)
				if err := msg.Nack(false, true); err != nil {
					w.logger.Error().Err(err).Msg("Failed to nack message")
				}
			}
		}
	}
}

// settle решает судьбу сообщения: ack при успехе и неисправимой ошибке,
// requeue при временной, drop при повторной неудаче redelivered-сообщения.
func (w *reviewEventWorker) settle(msg queue.ReviewCompletedMessage, err error) {
	if err == nil {
		if ackErr := msg.Ack(false); ackErr != nil {
			w.logger.Error().Err(ackErr).Msg("Failed to ack message")
		}

		w.statsMutex.Lock()
		w.stats.TotalProcessed++
		w.statsMutex.Unlock()
		w.observe(resultProcessed)
		return
	}

	w.logger.Error().Err(err).Bool("redelivered", msg.Redelivered).Msg("Failed to process message")

	w.statsMutex.Lock()
	w.stats.FailedJobs++
	if !isPermanentError(err) && msg.Redelivered {
		w.stats.DroppedJobs++
	}
	w.statsMutex.Unlock()

	switch {
	case isPermanentError(err):
		w.observe(resultPermanent)
		if ackErr := msg.Ack(false); ackErr != nil {
			w.logger.Error().Err(ackErr).Msg("Failed to ack message")
		}
	case msg.Redelivered:
		w.observe(resultDropped)
		if nackErr := msg.Nack(false, false); nackErr != nil {
			w.logger.Error().Err(nackErr).Msg("Failed to nack message")
		}
	default:
		w.observe(resultRequeued)
		if nackErr := msg.Nack(false, true); nackErr != nil {
			w.logger.Error().Err(nackErr).Msg("Failed to nack message")
		}
	}
}

func (w *reviewEventWorker) processMessage(ctx context.Context, msg queue.ReviewCompletedMessage) error {
	if msg.DecodeErr != nil {
		return permanent(msg.DecodeErr)
	}
	event := msg.Event

	w.logger.Debug().
		Str("submission_id", event.SubmissionID).
		Str("review_id", event.ReviewID).
		Msg("Processing review completed event")

	err := w.reviews.HandleReviewCompleted(ctx, event)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, service.ErrSubmissionNotFound),
		errors.Is(err, service.ErrMalformedReview),
		errors.Is(err, service.ErrMissingReviews),
		errors.Is(err, service.ErrNoReviews):
		return permanent(err)
	default:
		return err
	}
}

func (w *reviewEventWorker) observe(result string) {
	if w.metrics == nil {
		return
	}
	w.metrics.QueueMessages.WithLabelValues(result).Inc()
}

func (w *reviewEventWorker) GetStats() WorkerStats {
	w.statsMutex.RLock()
	stats := w.stats
	w.statsMutex.RUnlock()

	queueLength, err := w.queueConsumer.QueueLength()
	if err != nil {
		w.logger.Error().Err(err).Msg("Failed to get queue length")
	} else {
		stats.QueueLength = queueLength
	}

	stats.Pool = w.workerPool.Stats()

	return stats
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

func permanent(err error) error {
	return permanentError{err: err}
}

func isPermanentError(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}
