package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/streadway/amqp"
)

const (
	// committed movements, for downstream consumers
	MovementQueue = "movements"

	// reversals the engine could not apply inline
	CompensationQueue = "ledger.compensations"
)

// DefaultRequeueDelay is how long a failed compensation waits before it
// goes back on the queue.
const DefaultRequeueDelay = 5 * time.Second

// the subset of *amqp.Channel used here
type channel interface {
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Close() error
}

// handles RabbitMQ operations
type RabbitMQ struct {
	conn         *amqp.Connection
	channel      channel
	requeueDelay time.Duration
}

func NewRabbitMQ(uri string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open a channel: %w", err)
	}

	for _, name := range []string{MovementQueue, CompensationQueue} {
		_, err := ch.QueueDeclare(
			name,  // name
			true,  // durable
			false, // delete when unused
			false, // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			ch.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", name, err)
		}
	}

	return &RabbitMQ{
		conn:         conn,
		channel:      ch,
		requeueDelay: DefaultRequeueDelay,
	}, nil
}

func (r *RabbitMQ) Close() error {
	if err := r.channel.Close(); err != nil {
		return err
	}
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *RabbitMQ) publish(queue string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message for %s: %w", queue, err)
	}

	err = r.channel.Publish(
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent, // make message persistent
			Timestamp:    time.Now(),
		})
	if err != nil {
		return fmt.Errorf("failed to publish a message: %w", err)
	}
	return nil
}

// publishes a committed movement
func (r *RabbitMQ) PublishMovement(ctx context.Context, m *models.Movement) error {
	return r.publish(MovementQueue, m)
}

// publishes a reversal for the processor to retry
func (r *RabbitMQ) PublishCompensation(ctx context.Context, c ledger.Compensation) error {
	return r.publish(CompensationQueue, c)
}

// consumes movements from the queue
func (r *RabbitMQ) ConsumeMovements(ctx context.Context) (<-chan models.Movement, error) {
	msgs, err := r.channel.Consume(
		MovementQueue, // queue
		"",            // consumer
		false,         // auto-ack
		false,         // exclusive
		false,         // no-local
		false,         // no-wait
		nil,           // args
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register a consumer: %w", err)
	}

	movements := make(chan models.Movement)

	go func() {
		defer close(movements)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}

				var m models.Movement
				if err := json.Unmarshal(msg.Body, &m); err != nil {
					log.Printf("failed to unmarshal movement: %v", err)
					msg.Reject(false)
					continue
				}

				select {
				case movements <- m:
					msg.Ack(false)
				case <-ctx.Done():
					msg.Nack(false, true)
					return
				}
			}
		}
	}()

	return movements, nil
}

// ConsumeCompensations hands each queued compensation to handle. A message
// is acknowledged only once handle succeeds; otherwise it is requeued after
// the requeue delay. Blocks until ctx is done or the delivery channel closes.
func (r *RabbitMQ) ConsumeCompensations(ctx context.Context, handle func(context.Context, ledger.Compensation) error) error {
	msgs, err := r.channel.Consume(
		CompensationQueue, // queue
		"",                // consumer
		false,             // auto-ack
		false,             // exclusive
		false,             // no-local
		false,             // no-wait
		nil,               // args
	)
	if err != nil {
		return fmt.Errorf("failed to register a consumer: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}

			var c ledger.Compensation
			if err := json.Unmarshal(msg.Body, &c); err != nil {
				log.Printf("failed to unmarshal compensation: %v", err)
				msg.Reject(false)
				continue
			}

			if err := handle(ctx, c); err != nil {
				log.Printf("compensation %s for movement %s failed, requeueing: %v", c.Kind, c.MovementID, err)
				select {
				case <-time.After(r.requeueDelay):
				case <-ctx.Done():
				}
				msg.Nack(false, true)
				continue
			}
			msg.Ack(false)
		}
	}
}

var _ ledger.EventPublisher = (*RabbitMQ)(nil)
