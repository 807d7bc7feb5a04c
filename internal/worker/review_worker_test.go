package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/dimzachar/ScholarsXP/review-service/internal/metrics"
	"github.com/dimzachar/ScholarsXP/review-service/internal/models"
	"github.com/dimzachar/ScholarsXP/review-service/internal/service"
	"github.com/dimzachar/ScholarsXP/review-service/internal/worker/queue"
)

type fakeConsumer struct {
	msgs      chan queue.ReviewCompletedMessage
	closeOnce sync.Once
	length    int
	err       error
}

func newFakeConsumer() *fakeConsumer {
	return &fakeConsumer{msgs: make(chan queue.ReviewCompletedMessage)}
}

func (c *fakeConsumer) Consume(context.Context) (<-chan queue.ReviewCompletedMessage, error) {
	if c.err != nil {
		return nil, c.err
	}
	return c.msgs, nil
}

func (c *fakeConsumer) QueueLength() (int, error) { return c.length, nil }

func (c *fakeConsumer) Close() error {
	c.closeOnce.Do(func() { close(c.msgs) })
	return nil
}

type fakeReviews struct {
	mu     sync.Mutex
	err    error
	events []models.ReviewCompletedEvent
}

func (f *fakeReviews) SubmitReview(context.Context, models.SubmitReviewRequest) (*models.SubmitReviewResult, error) {
	return nil, errors.New("not used")
}

func (f *fakeReviews) HandleReviewCompleted(_ context.Context, event *models.ReviewCompletedEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, *event)
	return f.err
}

// settlement фиксирует, чем закончилась обработка одного сообщения.
type settlement struct {
	acked   bool
	nacked  bool
	requeue bool
}

func deliver(t *testing.T, consumer *fakeConsumer, body []byte, redelivered bool) settlement {
	t.Helper()

	done := make(chan settlement, 1)
	event, decodeErr := queue.DecodeReviewCompleted(body)
	msg := queue.ReviewCompletedMessage{
		Event:       event,
		DecodeErr:   decodeErr,
		DeliveredAt: time.Now(),
		Redelivered: redelivered,
		Ack: func(bool) error {
			done <- settlement{acked: true}
			return nil
		},
		Nack: func(_ bool, requeue bool) error {
			done <- settlement{nacked: true, requeue: requeue}
			return nil
		},
	}

	consumer.msgs <- msg

	select {
	case s := <-done:
		return s
	case <-time.After(2 * time.Second):
		t.Fatal("message was never settled")
		return settlement{}
	}
}

func eventBody(t *testing.T, submissionID string) []byte {
	t.Helper()
	body, err := json.Marshal(models.ReviewCompletedEvent{
		ReviewID:     "rev-1",
		AssignmentID: "asg-1",
		SubmissionID: submissionID,
		ReviewerID:   "reviewer-1",
	})
	require.NoError(t, err)
	return body
}

func startWorker(t *testing.T, reviews service.ReviewService) (*fakeConsumer, ReviewEventWorker, *metrics.Metrics) {
	t.Helper()

	consumer := newFakeConsumer()
	m := metrics.New(prometheus.NewRegistry())
	w := NewReviewEventWorker(NewWorkerPool(2, time.Second, zerolog.Nop()), consumer, reviews, m, zerolog.Nop())
	require.NoError(t, w.Start(context.Background()))

	return consumer, w, m
}

func TestReviewEventWorkerAcksHandledEvent(t *testing.T) {
	defer goleak.VerifyNone(t)

	reviews := &fakeReviews{}
	consumer, w, m := startWorker(t, reviews)

	s := deliver(t, consumer, eventBody(t, "sub-1"), false)
	require.NoError(t, w.Stop())

	assert.True(t, s.acked)
	require.Len(t, reviews.events, 1)
	assert.Equal(t, "sub-1", reviews.events[0].SubmissionID)
	assert.Equal(t, 1, w.GetStats().TotalProcessed)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueMessages.WithLabelValues(resultProcessed)))
}

func TestReviewEventWorkerAcksMalformedPayload(t *testing.T) {
	defer goleak.VerifyNone(t)

	reviews := &fakeReviews{}
	consumer, w, m := startWorker(t, reviews)

	notJSON := deliver(t, consumer, []byte("{not json"), false)
	noSubmission := deliver(t, consumer, eventBody(t, "  "), false)
	require.NoError(t, w.Stop())

	assert.True(t, notJSON.acked)
	assert.True(t, noSubmission.acked)
	assert.Empty(t, reviews.events)
	assert.Equal(t, 2, w.GetStats().FailedJobs)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.QueueMessages.WithLabelValues(resultPermanent)))
}

func TestReviewEventWorkerClassifiesServiceErrors(t *testing.T) {
	defer goleak.VerifyNone(t)

	tests := []struct {
		name        string
		err         error
		redelivered bool
		want        settlement
		result      string
	}{
		{
			name:   "unknown submission is acked",
			err:    service.ErrSubmissionNotFound,
			want:   settlement{acked: true},
			result: resultPermanent,
		},
		{
			name:   "malformed reviews are acked",
			err:    service.ErrMalformedReview,
			want:   settlement{acked: true},
			result: resultPermanent,
		},
		{
			name:   "missing reviews are acked",
			err:    fmt.Errorf("finalize: %w", service.ErrMissingReviews),
			want:   settlement{acked: true},
			result: resultPermanent,
		},
		{
			name:   "transient failure is requeued",
			err:    errors.New("connection reset"),
			want:   settlement{nacked: true, requeue: true},
			result: resultRequeued,
		},
		{
			name:        "repeated failure is dropped",
			err:         errors.New("connection reset"),
			redelivered: true,
			want:        settlement{nacked: true},
			result:      resultDropped,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			consumer, w, m := startWorker(t, &fakeReviews{err: tt.err})

			got := deliver(t, consumer, eventBody(t, "sub-1"), tt.redelivered)
			require.NoError(t, w.Stop())

			assert.Equal(t, tt.want, got)
			assert.Equal(t, 1.0, testutil.ToFloat64(m.QueueMessages.WithLabelValues(tt.result)))
		})
	}
}

func TestReviewEventWorkerStats(t *testing.T) {
	defer goleak.VerifyNone(t)

	consumer, w, _ := startWorker(t, &fakeReviews{err: errors.New("db down")})
	consumer.length = 7

	deliver(t, consumer, eventBody(t, "sub-1"), true)
	require.NoError(t, w.Stop())

	stats := w.GetStats()
	assert.Equal(t, 7, stats.QueueLength)
	assert.Equal(t, 1, stats.FailedJobs)
	assert.Equal(t, 1, stats.DroppedJobs)
	assert.Equal(t, 2, stats.Pool.MaxWorkers)
}

func TestReviewEventWorkerStartFailsWhenConsumeFails(t *testing.T) {
	defer goleak.VerifyNone(t)

	consumer := newFakeConsumer()
	consumer.err = errors.New("channel closed")
	pool := NewWorkerPool(1, time.Second, zerolog.Nop())
	w := NewReviewEventWorker(pool, consumer, &fakeReviews{}, nil, zerolog.Nop())

	err := w.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start consuming messages")

	pool.Stop()
}
