package relaymq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	tdd "github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"github.com/relaymq/relaymq/internal/faketest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestConnectionInitializedResolves(t *testing.T) {
	c := newTestConnection(t, faketest.New())
	_, err := c.Initialized().Wait(context.Background())
	tdd.NoError(t, err)
}

func TestDeclareExchangeIsIdempotentByName(t *testing.T) {
	c := newTestConnection(t, faketest.New())
	e1 := c.DeclareExchange("e1", "direct", ExchangeOptions{})
	e2 := c.DeclareExchange("e1", "direct", ExchangeOptions{Durable: true})
	tdd.Same(t, e1, e2)
}

func TestDeclareTopologyAndRoutedDelivery(t *testing.T) {
	broker := faketest.New()
	c := newTestConnection(t, broker)

	top := Topology{
		Exchanges: []ExchangeConfig{{Name: "e1", Type: "direct"}},
		Queues:    []QueueConfig{{Name: "q1"}},
		Bindings:  []BindingConfig{{Source: "e1", Queue: "q1", Pattern: "k"}},
	}
	tdd.NoError(t, c.DeclareTopology(context.Background(), top))

	e1 := c.lookupExchange("e1")
	q1 := c.lookupQueue("q1")

	received := make(chan *Message, 1)
	tdd.NoError(t, q1.ActivateConsumer(func(msg *Message) (any, error) {
		received <- msg
		return nil, nil
	}, ConsumerOptions{}))

	time.Sleep(10 * time.Millisecond)
	tdd.NoError(t, e1.Publish(context.Background(), "hello", "k", Properties{}))

	select {
	case msg := <-received:
		tdd.Equal(t, []byte("hello"), msg.Content)
	case <-time.After(time.Second):
		t.Fatal("message not delivered within timeout")
	}

	// A publish with a non-matching routing key is not delivered.
	tdd.NoError(t, e1.Publish(context.Background(), "other", "unmatched", Properties{}))
	select {
	case <-received:
		t.Fatal("unexpected delivery for unmatched routing key")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCompleteAndDeleteConfiguration(t *testing.T) {
	c := newTestConnection(t, faketest.New())
	top := Topology{
		Exchanges: []ExchangeConfig{{Name: "e1", Type: "fanout"}},
		Queues:    []QueueConfig{{Name: "q1"}},
		Bindings:  []BindingConfig{{Source: "e1", Queue: "q1"}},
	}
	tdd.NoError(t, c.DeclareTopology(context.Background(), top))
	tdd.NoError(t, c.CompleteConfiguration(context.Background()))
	tdd.NoError(t, c.DeleteConfiguration(context.Background()))

	tdd.Nil(t, c.lookupQueue("q1"))
	tdd.Nil(t, c.lookupExchange("e1"))
}

func TestCascadeDeleteRemovesBindingNotQueue(t *testing.T) {
	c := newTestConnection(t, faketest.New())
	e1 := c.DeclareExchange("e1", "direct", ExchangeOptions{})
	q1 := c.DeclareQueue("q1", QueueOptions{})
	b := q1.Bind(e1, "k", nil)
	_, err := b.Initialized().Wait(context.Background())
	tdd.NoError(t, err)

	tdd.NoError(t, e1.Delete(context.Background()))

	tdd.Nil(t, c.lookupExchange("e1"))
	tdd.NotNil(t, c.lookupQueue("q1"))
	tdd.Len(t, c.snapshotBindings(), 0)
}

func TestRebuildReconnectsAndReinstallsConsumer(t *testing.T) {
	broker := faketest.New()
	c := newTestConnection(t, broker, WithReconnectStrategy(ReconnectStrategy{Retries: 0, Interval: 5 * time.Millisecond}))

	q1 := c.DeclareQueue("q1", QueueOptions{})
	_, err := q1.Initialized().Wait(context.Background())
	tdd.NoError(t, err)

	received := make(chan struct{}, 1)
	tdd.NoError(t, q1.ActivateConsumer(func(msg *Message) (any, error) {
		received <- struct{}{}
		return nil, nil
	}, ConsumerOptions{}))
	time.Sleep(10 * time.Millisecond)

	c.mu.RLock()
	link := c.link
	c.mu.RUnlock()
	fc, ok := link.(fakeConn)
	tdd.True(t, ok)
	fc.c.Drop(&amqp.Error{Code: 320, Reason: "CONNECTION_FORCED - fake disconnect"})

	tdd.Eventually(t, func() bool {
		_, err := c.Initialized().Wait(context.Background())
		return err == nil
	}, time.Second, 5*time.Millisecond)

	q1after := c.lookupQueue("q1")
	tdd.NoError(t, q1after.Publish(context.Background(), "after-rebuild", Properties{}))

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("consumer was not reinstalled after rebuild")
	}
}

func TestReconnectExhaustion(t *testing.T) {
	dial := func(ctx context.Context, url string, cfg dialConfig) (brokerConn, error) {
		return nil, ErrNotConnected
	}
	c := newUnstarted("amqp://unreachable", WithReconnectStrategy(ReconnectStrategy{Retries: 2, Interval: 5 * time.Millisecond}))
	c.dial = dial
	go c.tryToConnect(0)

	_, err := c.Initialized().Wait(context.Background())
	tdd.Error(t, err)
}
