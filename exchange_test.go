package relaymq

import (
	"context"
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"

	"github.com/relaymq/relaymq/internal/faketest"
)

func TestExchangeRPC(t *testing.T) {
	broker := faketest.New()
	c := newTestConnection(t, broker)

	svc := c.DeclareExchange("svc", "direct", ExchangeOptions{})
	q := c.DeclareQueue("svc.worker", QueueOptions{Exclusive: true, AutoDelete: true})
	_, err := q.Bind(svc, "double", nil).Initialized().Wait(context.Background())
	tdd.NoError(t, err)

	tdd.NoError(t, q.ActivateConsumer(func(msg *Message) (any, error) {
		content, err := msg.GetContent()
		if err != nil {
			return nil, err
		}
		n, _ := content.(float64)
		return n * 2, nil
	}, ConsumerOptions{}))
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	reply, err := svc.RPC(ctx, 21, "double", Properties{})
	tdd.NoError(t, err)
	content, err := reply.GetContent()
	tdd.NoError(t, err)
	tdd.Equal(t, float64(42), content)
}

func TestExchangeActivateConsumerUsesPrivateQueue(t *testing.T) {
	broker := faketest.New()
	c := newTestConnection(t, broker)
	fanout := c.DeclareExchange("events", "fanout", ExchangeOptions{})
	_, err := fanout.Initialized().Wait(context.Background())
	tdd.NoError(t, err)

	received := make(chan *Message, 1)
	tdd.NoError(t, fanout.ActivateConsumer(func(msg *Message) (any, error) {
		received <- msg
		return nil, nil
	}, ConsumerOptions{}))
	time.Sleep(10 * time.Millisecond)

	tdd.NoError(t, fanout.Publish(context.Background(), "tick", "", Properties{}))

	select {
	case msg := <-received:
		tdd.Equal(t, []byte("tick"), msg.Content)
	case <-time.After(time.Second):
		t.Fatal("private-queue consumer did not receive delivery")
	}
}
