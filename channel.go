package relaymq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// brokerChannel is the subset of *amqp091.Channel operations relaymq
// depends on. It exists so Connection/Exchange/Queue/Binding logic can be
// unit tested against a fake without a live broker, matching the "Library
// contract (consumed)" boundary spec.md §6 draws around the underlying
// AMQP driver. *amqp091.Channel already implements every method with this
// exact signature, so it satisfies brokerChannel with no adapter needed.
type brokerChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	ExchangeDelete(name string, ifUnused, noWait bool) error
	ExchangeBind(destination, key, source string, noWait bool, args amqp.Table) error
	ExchangeUnbind(destination, key, source string, noWait bool, args amqp.Table) error

	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	QueueUnbind(name, key, exchange string, args amqp.Table) error
	QueueDelete(name string, ifUnused, ifEmpty, noWait bool) (int, error)

	Qos(prefetchCount, prefetchSize int, global bool) error
	Confirm(noWait bool) error

	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	Cancel(consumer string, noWait bool) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error

	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyReturn(c chan amqp.Return) chan amqp.Return

	Close() error
}

// brokerConn is the subset of *amqp091.Connection operations relaymq
// depends on.
type brokerConn interface {
	Channel() (brokerChannel, error)
	Close() error
	IsClosed() bool
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
}

// dialFunc opens a new broker connection. Production code uses dialReal;
// tests substitute a fake that never touches the network.
type dialFunc func(ctx context.Context, url string, cfg dialConfig) (brokerConn, error)
