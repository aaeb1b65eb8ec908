package relaymq

import (
	"context"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaymq/relaymq/internal/faketest"
)

// fakeConn adapts *faketest.Conn to brokerConn. The only mismatch is
// Channel()'s return type, the same covariance gap realConn works around
// for the production driver in driver.go.
type fakeConn struct {
	c *faketest.Conn
}

func (f fakeConn) Channel() (brokerChannel, error) { return f.c.Channel() }
func (f fakeConn) Close() error                    { return f.c.Close() }
func (f fakeConn) IsClosed() bool                  { return f.c.IsClosed() }
func (f fakeConn) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	return f.c.NotifyClose(ch)
}

// newTestConnection wires a Connection to an in-memory Broker instead of a
// live AMQP server, so the supervisor/rebuild/publish/consume logic can be
// exercised deterministically and quickly. It registers a t.Cleanup that
// closes the Connection, so its watchLink goroutine, consumer delivery
// loops and the fake broker's NotifyClose goroutine all unwind before the
// test finishes instead of leaking past it.
func newTestConnection(t *testing.T, broker *faketest.Broker, opts ...Option) *Connection {
	dial := func(ctx context.Context, url string, cfg dialConfig) (brokerConn, error) {
		conn, err := broker.Dial(ctx, url, cfg)
		if err != nil {
			return nil, err
		}
		return fakeConn{c: conn}, nil
	}
	opts = append([]Option{func(c *Connection) { c.dial = dial }}, opts...)
	c := newUnstarted("amqp://fake", opts...)
	go c.tryToConnect(0)
	_, _ = c.Initialized().Wait(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = c.Close(ctx)
	})
	return c
}
