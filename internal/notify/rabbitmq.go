package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/prabath1998/event-ticketing-web-backend/internal/logger"
)

type channel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (channel, func() error, error)

const (
	defaultBuffer  = 256
	publishTimeout = 10 * time.Second
)

var ErrQueueFull = errors.New("email queue is full")

// RabbitQueue buffers jobs in memory and publishes them from Run as
// persistent messages on a durable queue. Enqueue never touches the broker.
type RabbitQueue struct {
	URL    string
	Queue  string
	Logger *logger.Logger
	dial   dialFunc
	jobs   chan EmailJob
}

func NewRabbitQueue(url, queue string, log *logger.Logger) *RabbitQueue {
	return &RabbitQueue{URL: url, Queue: queue, Logger: log, dial: dialAMQP, jobs: make(chan EmailJob, defaultBuffer)}
}

func dialAMQP(url string) (channel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial broker: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn.Close, nil
}

// Enqueue hands the job to Run. A full buffer drops the job with
// ErrQueueFull.
func (q *RabbitQueue) Enqueue(ctx context.Context, job EmailJob) error {
	select {
	case q.jobs <- job:
		return nil
	default:
		q.Logger.Error("EMAIL", fmt.Sprintf("Queue full, dropping %s for order %s", job.Type, job.OrderNumber))
		return ErrQueueFull
	}
}

// Run publishes buffered jobs until ctx is cancelled, then publishes what is
// still buffered and returns.
func (q *RabbitQueue) Run(ctx context.Context) {
	q.Logger.Info("EMAIL", fmt.Sprintf("Email publisher started for queue %s", q.Queue))
	for {
		select {
		case job := <-q.jobs:
			q.publishOne(job)
		case <-ctx.Done():
			for {
				select {
				case job := <-q.jobs:
					q.publishOne(job)
				default:
					q.Logger.Info("EMAIL", "Email publisher stopped")
					return
				}
			}
		}
	}
}

func (q *RabbitQueue) publishOne(job EmailJob) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	// failures are logged inside publish; the job is not retried
	_ = q.publish(ctx, job)
}

func (q *RabbitQueue) publish(ctx context.Context, job EmailJob) error {
	ch, closeConn, err := q.dial(q.URL)
	if err != nil {
		q.Logger.Error("RABBITMQ", fmt.Sprintf("Failed to connect for %s job: %v", job.Type, err))
		return err
	}
	defer closeConn()
	defer ch.Close()

	if _, err := ch.QueueDeclare(q.Queue, true, false, false, false, nil); err != nil {
		q.Logger.Error("RABBITMQ", fmt.Sprintf("Queue declare failed for %s: %v", q.Queue, err))
		return fmt.Errorf("declare queue %s: %w", q.Queue, err)
	}

	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal email job: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Type:         job.Type,
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", q.Queue, false, false, msg); err != nil {
		q.Logger.Error("RABBITMQ", fmt.Sprintf("Publish failed for order %s: %v", job.OrderNumber, err))
		return fmt.Errorf("publish email job: %w", err)
	}

	q.Logger.Info("EMAIL", fmt.Sprintf("Queued %s for order %s", job.Type, job.OrderNumber))
	return nil
}

// LogQueue only logs jobs. Used when no broker is configured.
type LogQueue struct {
	Logger *logger.Logger
}

func (q *LogQueue) Enqueue(ctx context.Context, job EmailJob) error {
	q.Logger.Info("EMAIL", fmt.Sprintf("No broker configured, dropping %s for order %s (user %s)", job.Type, job.OrderNumber, job.UserID))
	return nil
}
