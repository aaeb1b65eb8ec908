package relaymq

import (
	"context"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/relaymq/relaymq/internal/faketest"
)

func TestBindingKeyFormat(t *testing.T) {
	tdd.Equal(t, "[e1]toqueue[q1]k", bindingKey("e1", "queue", "q1", "k"))
	tdd.Equal(t, "[e1]toexchange[e2]", bindingKey("e1", "exchange", "e2", ""))
}

func TestUnbindStopsDelivery(t *testing.T) {
	broker := faketest.New()
	c := newTestConnection(t, broker)
	e1 := c.DeclareExchange("e1", "direct", ExchangeOptions{})
	q1 := c.DeclareQueue("q1", QueueOptions{})
	_, err := q1.Bind(e1, "k", nil).Initialized().Wait(context.Background())
	tdd.NoError(t, err)

	received := make(chan struct{}, 4)
	tdd.NoError(t, q1.ActivateConsumer(func(msg *Message) (any, error) {
		received <- struct{}{}
		return nil, nil
	}, ConsumerOptions{}))
	time.Sleep(10 * time.Millisecond)

	tdd.NoError(t, e1.Publish(context.Background(), "one", "k", Properties{}))
	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("expected first delivery before unbind")
	}

	tdd.NoError(t, q1.Unbind(e1, "k"))
	tdd.NoError(t, e1.Publish(context.Background(), "two", "k", Properties{}))
	select {
	case <-received:
		t.Fatal("unexpected delivery after unbind")
	case <-time.After(50 * time.Millisecond):
	}
}
