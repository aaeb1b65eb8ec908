// Package faketest provides an in-memory stand-in for the AMQP driver
// types relaymq's brokerConn/brokerChannel interfaces describe, so package
// tests can exercise declare/bind/publish/consume/rebuild logic without a
// live broker.
package faketest

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the shared routing table a Conn's Channels publish into and
// consume from; tests typically create one Broker and dial it multiple
// times to simulate reconnects.
type Broker struct {
	mu        sync.Mutex
	exchanges map[string]string // name -> kind
	queues    map[string]struct{}
	bindings  map[string][]binding // exchange name -> bindings
	consumers map[string]chan amqp.Delivery
	closed    bool

	// FailDeclare, when set, is returned by ExchangeDeclare/QueueDeclare for
	// the named entity, letting tests exercise declaration-failure paths.
	FailDeclare map[string]error
	// FailPublish, when true, makes the next PublishWithContext call on any
	// channel fail once, simulating a stale-channel publish error.
	FailPublish bool
}

type binding struct {
	pattern string
	queue   string
	isExch  bool
}

// New returns an empty Broker.
func New() *Broker {
	return &Broker{
		exchanges: make(map[string]string),
		queues:    make(map[string]struct{}),
		bindings:  make(map[string][]binding),
		consumers: make(map[string]chan amqp.Delivery),
		FailDeclare: make(map[string]error),
	}
}

// Dial returns a Conn backed by this Broker, matching the dialFunc shape
// relaymq's Connection expects.
func (b *Broker) Dial(_ context.Context, _ string, _ any) (*Conn, error) {
	closeCh := make(chan *amqp.Error, 1)
	return &Conn{broker: b, closeCh: closeCh}, nil
}

// Drop simulates an abrupt broker-side disconnect on every live channel
// derived from conn, firing their NotifyClose listeners.
func (c *Conn) Drop(err *amqp.Error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	channels := c.channels
	c.channels = nil
	select {
	case c.closeCh <- err:
	default:
	}
	close(c.closeCh)
	c.mu.Unlock()

	for _, ch := range channels {
		_ = ch.Close()
	}
}

// Conn is the fake brokerConn.
type Conn struct {
	broker   *Broker
	mu       sync.Mutex
	closed   bool
	closeCh  chan *amqp.Error
	channels []*Channel
}

func (c *Conn) Channel() (*Channel, error) {
	ch := &Channel{broker: c.broker, closeCh: make(chan *amqp.Error, 1)}
	c.mu.Lock()
	c.channels = append(c.channels, ch)
	c.mu.Unlock()
	return ch, nil
}

// Close closes the Conn and every Channel opened from it, so that consumer
// goroutines ranging over a now-abandoned delivery channel unblock instead
// of leaking, the same way a real broker disconnect tears down every
// channel multiplexed over it. It also closes closeCh, the same way the
// real amqp091 Connection fires its NotifyClose listeners on Close, so a
// watcher parked on NotifyClose unblocks instead of leaking.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	channels := c.channels
	c.channels = nil
	close(c.closeCh)
	c.mu.Unlock()
	for _, ch := range channels {
		_ = ch.Close()
	}
	return nil
}

func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) NotifyClose(ch chan *amqp.Error) chan *amqp.Error {
	go func() {
		err, ok := <-c.closeCh
		if ok {
			ch <- err
		}
		close(ch)
	}()
	return ch
}

// Channel is the fake brokerChannel, routing publishes into the shared
// Broker's bindings table and fanning consumed deliveries out to whichever
// goroutine called Consume.
type Channel struct {
	broker         *Broker
	mu             sync.Mutex
	closed         bool
	closeCh        chan *amqp.Error
	tags           []string
	consumedQueues []string
}

func (ch *Channel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if err := ch.broker.FailDeclare[name]; err != nil {
		return err
	}
	ch.broker.exchanges[name] = kind
	return nil
}

func (ch *Channel) ExchangeDelete(name string, _, _ bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	delete(ch.broker.exchanges, name)
	delete(ch.broker.bindings, name)
	return nil
}

func (ch *Channel) ExchangeBind(destination, key, source string, _ bool, _ amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.bindings[source] = append(ch.broker.bindings[source], binding{pattern: key, queue: destination, isExch: true})
	return nil
}

func (ch *Channel) ExchangeUnbind(destination, key, source string, _ bool, _ amqp.Table) error {
	return ch.unbind(source, destination, key, true)
}

func (ch *Channel) QueueDeclare(name string, _, _, _, _ bool, _ amqp.Table) (amqp.Queue, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	if err := ch.broker.FailDeclare[name]; err != nil {
		return amqp.Queue{}, err
	}
	ch.broker.queues[name] = struct{}{}
	return amqp.Queue{Name: name}, nil
}

func (ch *Channel) QueueBind(name, key, exchange string, _ bool, _ amqp.Table) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	ch.broker.bindings[exchange] = append(ch.broker.bindings[exchange], binding{pattern: key, queue: name})
	return nil
}

func (ch *Channel) QueueUnbind(name, key, exchange string, _ amqp.Table) error {
	return ch.unbind(exchange, name, key, false)
}

func (ch *Channel) unbind(source, dest, pattern string, isExch bool) error {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	bs := ch.broker.bindings[source]
	out := bs[:0]
	for _, b := range bs {
		if b.queue == dest && b.pattern == pattern && b.isExch == isExch {
			continue
		}
		out = append(out, b)
	}
	ch.broker.bindings[source] = out
	return nil
}

func (ch *Channel) QueueDelete(name string, _, _, _ bool) (int, error) {
	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	delete(ch.broker.queues, name)
	return 0, nil
}

func (ch *Channel) Qos(int, int, bool) error { return nil }

func (ch *Channel) Confirm(bool) error { return nil }

func (ch *Channel) Consume(queue, consumer string, _, _, _, _ bool, _ amqp.Table) (<-chan amqp.Delivery, error) {
	c := make(chan amqp.Delivery, 16)
	ch.broker.mu.Lock()
	ch.broker.consumers[queue] = c
	ch.broker.mu.Unlock()
	ch.mu.Lock()
	ch.tags = append(ch.tags, consumer)
	ch.consumedQueues = append(ch.consumedQueues, queue)
	ch.mu.Unlock()
	return c, nil
}

func (ch *Channel) Cancel(consumer string, _ bool) error {
	ch.mu.Lock()
	queues := ch.consumedQueues
	ch.consumedQueues = nil
	ch.mu.Unlock()

	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	for _, q := range queues {
		if c, ok := ch.broker.consumers[q]; ok {
			close(c)
			delete(ch.broker.consumers, q)
		}
	}
	return nil
}

func (ch *Channel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	ch.broker.mu.Lock()
	if ch.broker.FailPublish {
		ch.broker.FailPublish = false
		ch.broker.mu.Unlock()
		return &amqp.Error{Code: 504, Reason: "channel/connection is not open"}
	}
	var targets []string
	if exchange == "" {
		// Default exchange: routing key is the destination queue name.
		targets = []string{key}
	} else {
		for _, b := range ch.broker.bindings[exchange] {
			if b.pattern == "" || b.pattern == key {
				targets = append(targets, b.queue)
			}
		}
	}
	consumers := make([]chan amqp.Delivery, 0, len(targets))
	for _, t := range targets {
		if c, ok := ch.broker.consumers[t]; ok {
			consumers = append(consumers, c)
		}
	}
	ch.broker.mu.Unlock()

	for _, c := range consumers {
		c <- amqp.Delivery{
			Body:            msg.Body,
			ContentType:     msg.ContentType,
			ContentEncoding: msg.ContentEncoding,
			Headers:         msg.Headers,
			ReplyTo:         msg.ReplyTo,
			CorrelationId:   msg.CorrelationId,
			MessageId:       msg.MessageId,
			AppId:           msg.AppId,
			Type:            msg.Type,
			UserId:          msg.UserId,
			Timestamp:       msg.Timestamp,
			Exchange:        exchange,
			RoutingKey:      key,
		}
	}
	return nil
}

func (ch *Channel) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	go func() {
		err, ok := <-ch.closeCh
		if ok {
			c <- err
		}
		close(c)
	}()
	return c
}

func (ch *Channel) NotifyPublish(c chan amqp.Confirmation) chan amqp.Confirmation { return c }

func (ch *Channel) NotifyReturn(c chan amqp.Return) chan amqp.Return { return c }

func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return nil
	}
	ch.closed = true
	queues := ch.consumedQueues
	ch.consumedQueues = nil
	close(ch.closeCh)
	ch.mu.Unlock()

	ch.broker.mu.Lock()
	defer ch.broker.mu.Unlock()
	for _, q := range queues {
		if c, ok := ch.broker.consumers[q]; ok {
			close(c)
			delete(ch.broker.consumers, q)
		}
	}
	return nil
}
