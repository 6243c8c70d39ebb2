package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/abkawan/bank-management/internal/ledger"
	"github.com/abkawan/bank-management/internal/models"
	"github.com/shopspring/decimal"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	key string
	msg amqp.Publishing
}

type fakeChannel struct {
	mu         sync.Mutex
	published  []published
	deliveries map[string]chan amqp.Delivery
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{deliveries: map[string]chan amqp.Delivery{
		MovementQueue:     make(chan amqp.Delivery, 8),
		CompensationQueue: make(chan amqp.Delivery, 8),
	}}
}

func (f *fakeChannel) Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, published{key: key, msg: msg})
	return nil
}

func (f *fakeChannel) Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error) {
	return f.deliveries[queue], nil
}

func (f *fakeChannel) Close() error { return nil }

type acknowledger struct {
	mu      sync.Mutex
	acks    int
	nacks   int
	rejects int
}

func (a *acknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.acks++
	return nil
}

func (a *acknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nacks++
	return nil
}

func (a *acknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.rejects++
	return nil
}

func (a *acknowledger) counts() (int, int, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.acks, a.nacks, a.rejects
}

func delivery(t *testing.T, ack amqp.Acknowledger, v any) amqp.Delivery {
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestPublish(t *testing.T) {
	ch := newFakeChannel()
	r := &RabbitMQ{channel: ch}

	movement := &models.Movement{ID: "m-1", Type: models.Deposit, Amount: decimal.NewFromInt(5)}
	require.NoError(t, r.PublishMovement(context.Background(), movement))
	require.NoError(t, r.PublishCompensation(context.Background(), ledger.Compensation{
		Kind:           ledger.ReverseDeposit,
		MovementID:     "m-1",
		DebitAccountID: "acc-1",
		Amount:         decimal.NewFromInt(5),
	}))

	require.Len(t, ch.published, 2)
	assert.Equal(t, MovementQueue, ch.published[0].key)
	assert.Equal(t, CompensationQueue, ch.published[1].key)
	assert.Equal(t, uint8(amqp.Persistent), ch.published[0].msg.DeliveryMode)

	var c ledger.Compensation
	require.NoError(t, json.Unmarshal(ch.published[1].msg.Body, &c))
	assert.Equal(t, ledger.ReverseDeposit, c.Kind)
	assert.True(t, c.Amount.Equal(decimal.NewFromInt(5)))
}

func TestConsumeMovements(t *testing.T) {
	ch := newFakeChannel()
	r := &RabbitMQ{channel: ch}
	ack := &acknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	movements, err := r.ConsumeMovements(ctx)
	require.NoError(t, err)

	ch.deliveries[MovementQueue] <- amqp.Delivery{Acknowledger: ack, Body: []byte("not json")}
	ch.deliveries[MovementQueue] <- delivery(t, ack, models.Movement{ID: "m-7", Type: models.Transfer})

	select {
	case m := <-movements:
		assert.Equal(t, "m-7", m.ID)
	case <-time.After(time.Second):
		t.Fatal("movement not delivered")
	}

	assert.Eventually(t, func() bool {
		acks, _, rejects := ack.counts()
		return acks == 1 && rejects == 1
	}, time.Second, 10*time.Millisecond)
}

func TestConsumeCompensations(t *testing.T) {
	ch := newFakeChannel()
	r := &RabbitMQ{channel: ch, requeueDelay: time.Millisecond}
	ack := &acknowledger{}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch.deliveries[CompensationQueue] <- delivery(t, ack, ledger.Compensation{MovementID: "fails"})
	ch.deliveries[CompensationQueue] <- delivery(t, ack, ledger.Compensation{MovementID: "works"})

	var mu sync.Mutex
	var handled []string
	done := make(chan error, 1)
	go func() {
		done <- r.ConsumeCompensations(ctx, func(ctx context.Context, c ledger.Compensation) error {
			mu.Lock()
			handled = append(handled, c.MovementID)
			mu.Unlock()
			if c.MovementID == "fails" {
				return errors.New("store unavailable")
			}
			return nil
		})
	}()

	assert.Eventually(t, func() bool {
		acks, nacks, _ := ack.counts()
		return acks == 1 && nacks == 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"fails", "works"}, handled)
}
