package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
	"github.com/prabath1998/event-ticketing-web-backend/internal/models"
)

type fakeChannel struct {
	declared  []string
	published []amqp.Publishing
	keys      []string
	closed    bool
	pubErr    error
}

func (c *fakeChannel) QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error) {
	if !durable {
		return amqp.Queue{}, errors.New("queue must be durable")
	}
	c.declared = append(c.declared, name)
	return amqp.Queue{Name: name}, nil
}

func (c *fakeChannel) PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	if c.pubErr != nil {
		return c.pubErr
	}
	c.keys = append(c.keys, key)
	c.published = append(c.published, msg)
	return nil
}

func (c *fakeChannel) Close() error {
	c.closed = true
	return nil
}

var testOrder = &models.Order{ID: 7, UserID: "buyer-1", OrderNumber: "ORD-20250601120000-ABC123", TotalMinor: 2100, Currency: "usd"}

func TestRabbitQueue_Publish(t *testing.T) {
	ch := &fakeChannel{}
	connClosed := false
	q := NewRabbitQueue("amqp://test", "ticketing.email", logger.NewWithWriter(io.Discard))
	q.dial = func(url string) (channel, func() error, error) {
		assert.Equal(t, "amqp://test", url)
		return ch, func() error { connClosed = true; return nil }, nil
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	tickets := []models.Ticket{{TicketCode: "TKT-AAAA"}, {TicketCode: "TKT-BBBB"}}
	require.NoError(t, q.publish(context.Background(), OrderConfirmation(testOrder, tickets, now)))

	assert.Equal(t, []string{"ticketing.email"}, ch.declared)
	assert.Equal(t, []string{"ticketing.email"}, ch.keys)
	require.Len(t, ch.published, 1)
	msg := ch.published[0]
	assert.Equal(t, amqp.Persistent, msg.DeliveryMode)
	assert.Equal(t, JobOrderConfirmation, msg.Type)

	var job EmailJob
	require.NoError(t, json.Unmarshal(msg.Body, &job))
	assert.Equal(t, "buyer-1", job.UserID)
	assert.Equal(t, testOrder.OrderNumber, job.OrderNumber)
	assert.Equal(t, []string{"TKT-AAAA", "TKT-BBBB"}, job.TicketCodes)
	assert.True(t, ch.closed)
	assert.True(t, connClosed)
}

func TestRabbitQueue_DialFailure(t *testing.T) {
	q := NewRabbitQueue("amqp://down", "ticketing.email", logger.NewWithWriter(io.Discard))
	q.dial = func(url string) (channel, func() error, error) {
		return nil, nil, errors.New("connection refused")
	}

	err := q.publish(context.Background(), PaymentFailed(testOrder, time.Now()))
	assert.Error(t, err)
}

func TestRabbitQueue_PublishFailure(t *testing.T) {
	ch := &fakeChannel{pubErr: errors.New("channel closed")}
	q := NewRabbitQueue("amqp://test", "ticketing.email", logger.NewWithWriter(io.Discard))
	q.dial = func(url string) (channel, func() error, error) {
		return ch, func() error { return nil }, nil
	}

	err := q.publish(context.Background(), PaymentFailed(testOrder, time.Now()))
	assert.ErrorContains(t, err, "channel closed")
	assert.True(t, ch.closed)
}

func TestRabbitQueue_EnqueueDoesNotTouchBroker(t *testing.T) {
	dialed := false
	q := NewRabbitQueue("amqp://down", "ticketing.email", logger.NewWithWriter(io.Discard))
	q.dial = func(url string) (channel, func() error, error) {
		dialed = true
		return nil, nil, errors.New("connection refused")
	}

	require.NoError(t, q.Enqueue(context.Background(), PaymentFailed(testOrder, time.Now())))
	assert.False(t, dialed)
}

func TestRabbitQueue_FullBufferDropsJob(t *testing.T) {
	q := NewRabbitQueue("amqp://test", "ticketing.email", logger.NewWithWriter(io.Discard))
	q.jobs = make(chan EmailJob, 1)

	require.NoError(t, q.Enqueue(context.Background(), PaymentFailed(testOrder, time.Now())))
	err := q.Enqueue(context.Background(), PaymentFailed(testOrder, time.Now()))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRabbitQueue_RunPublishesBufferedJobsOnShutdown(t *testing.T) {
	ch := &fakeChannel{}
	q := NewRabbitQueue("amqp://test", "ticketing.email", logger.NewWithWriter(io.Discard))
	q.dial = func(url string) (channel, func() error, error) {
		return ch, func() error { return nil }, nil
	}

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, q.Enqueue(context.Background(), OrderConfirmation(testOrder, nil, now)))
	require.NoError(t, q.Enqueue(context.Background(), PaymentFailed(testOrder, now)))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)

	require.Len(t, ch.published, 2)
	assert.Equal(t, JobOrderConfirmation, ch.published[0].Type)
	assert.Equal(t, JobPaymentFailed, ch.published[1].Type)
}

func TestRabbitQueue_RunKeepsGoingAfterBrokerFailure(t *testing.T) {
	ch := &fakeChannel{}
	calls := 0
	q := NewRabbitQueue("amqp://test", "ticketing.email", logger.NewWithWriter(io.Discard))
	q.dial = func(url string) (channel, func() error, error) {
		calls++
		if calls == 1 {
			return nil, nil, errors.New("connection refused")
		}
		return ch, func() error { return nil }, nil
	}

	require.NoError(t, q.Enqueue(context.Background(), PaymentFailed(testOrder, time.Now())))
	require.NoError(t, q.Enqueue(context.Background(), PaymentFailed(testOrder, time.Now())))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q.Run(ctx)

	assert.Equal(t, 2, calls)
	assert.Len(t, ch.published, 1)
}

func TestLogQueue(t *testing.T) {
	var buf bytes.Buffer
	q := &LogQueue{Logger: logger.NewWithWriter(&buf)}

	require.NoError(t, q.Enqueue(context.Background(), PaymentFailed(testOrder, time.Now())))
	assert.Contains(t, buf.String(), JobPaymentFailed)
	assert.Contains(t, buf.String(), testOrder.OrderNumber)
}

func TestPaymentFailedJob_HasNoTickets(t *testing.T) {
	job := PaymentFailed(testOrder, time.Now())
	assert.Equal(t, JobPaymentFailed, job.Type)
	assert.Empty(t, job.TicketCodes)
	assert.Equal(t, int64(2100), job.TotalMinor)
}
