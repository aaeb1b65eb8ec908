package relaymq

import (
	"context"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/relaymq/relaymq/internal/faketest"
	"github.com/relaymq/relaymq/internal/xlog"
)

func TestDispatcherPublishesThroughTarget(t *testing.T) {
	broker := faketest.New()
	c := newTestConnection(t, broker)
	q := c.DeclareQueue("q1", QueueOptions{})
	_, err := q.Initialized().Wait(context.Background())
	tdd.NoError(t, err)

	received := make(chan struct{}, 3)
	tdd.NoError(t, q.ActivateConsumer(func(msg *Message) (any, error) {
		received <- struct{}{}
		return nil, nil
	}, ConsumerOptions{}))
	time.Sleep(10 * time.Millisecond)

	d := NewDispatcher(q, 4, xlog.Discard())
	d.Publish("a", Properties{})
	d.Publish("b", Properties{})
	d.Publish("c", Properties{})

	for i := 0; i < 3; i++ {
		select {
		case <-received:
		case <-time.After(time.Second):
			t.Fatalf("dispatcher delivery %d missing", i)
		}
	}
	d.Close()
}

func TestDispatcherRoutedExchange(t *testing.T) {
	broker := faketest.New()
	c := newTestConnection(t, broker)
	e1 := c.DeclareExchange("e1", "direct", ExchangeOptions{})
	q1 := c.DeclareQueue("q1", QueueOptions{})
	_, err := q1.Bind(e1, "k", nil).Initialized().Wait(context.Background())
	tdd.NoError(t, err)

	received := make(chan struct{}, 1)
	tdd.NoError(t, q1.ActivateConsumer(func(msg *Message) (any, error) {
		received <- struct{}{}
		return nil, nil
	}, ConsumerOptions{}))
	time.Sleep(10 * time.Millisecond)

	d := NewDispatcher(e1.Route("k"), 1, xlog.Discard())
	d.Publish("x", Properties{})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("routed dispatcher delivery missing")
	}
	d.Close()
}
