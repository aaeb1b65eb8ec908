package relaymq

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/relaymq/relaymq/internal/xlog"
)

// Exchange is a named broker-side routing node. Each Exchange owns exactly
// one dedicated channel (spec.md §3 invariant 3) and a single-assignment
// Initialized future that settles once the broker has acknowledged its
// declaration.
type Exchange struct {
	c    *Connection
	name string
	kind string
	opts ExchangeOptions
	log  xlog.Logger

	mu          sync.RWMutex
	channel     brokerChannel
	initialized *Future[struct{}]
	removed     bool

	// privateQueue backs ActivateConsumer/StartConsumer/StopConsumer: per
	// spec.md §6, an Exchange consumer transparently allocates a private
	// queue named "<exchange>.<appName>.<hostname>.<pid>", binds it to the
	// exchange, and runs the consumer state machine on that queue.
	privateQueue *Queue
}

func newExchange(c *Connection, name, kind string, opts ExchangeOptions) *Exchange {
	return &Exchange{
		c:           c,
		name:        name,
		kind:        kind,
		opts:        opts,
		log:         c.log.WithField("exchange", name),
		initialized: NewFuture[struct{}](),
	}
}

// Name returns the exchange's broker name.
func (e *Exchange) Name() string { return e.name }

// Initialized returns the future that settles once this exchange's current
// declaration attempt has been acknowledged by the broker (or failed).
func (e *Exchange) Initialized() *Future[struct{}] {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

func (e *Exchange) channelSnapshot() brokerChannel {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.channel
}

func (e *Exchange) isExchange() bool { return true }

func (e *Exchange) connection() *Connection { return e.c }

// beginInit creates and installs a fresh Initialized future synchronously,
// before any blocking work starts. Callers that need to observe the new
// future immediately after kicking off initialize() in a goroutine (the
// rebuild path) must call beginInit themselves and hand the future to
// runInit, rather than racing on Initialized() right after "go e.initialize".
func (e *Exchange) beginInit() *Future[struct{}] {
	f := NewFuture[struct{}]()
	e.mu.Lock()
	e.initialized = f
	e.mu.Unlock()
	return f
}

// initialize mirrors Queue.initialize: await Connection readiness, open a
// fresh channel, declare the exchange, and remove+reject on failure.
func (e *Exchange) initialize(ctx context.Context) {
	e.runInit(ctx, e.beginInit())
}

func (e *Exchange) runInit(ctx context.Context, f *Future[struct{}]) {
	if _, err := e.c.Initialized().Wait(ctx); err != nil {
		f.Reject(err)
		return
	}
	ch, err := e.c.openChannel()
	if err != nil {
		e.c.removeExchange(e.name)
		f.Reject(err)
		return
	}
	err = ch.ExchangeDeclare(e.name, e.kind, e.opts.Durable, e.opts.AutoDelete, e.opts.Internal, false, toTable(e.opts.asArguments()))
	if err != nil {
		e.c.removeExchange(e.name)
		f.Reject(err)
		return
	}
	e.mu.Lock()
	e.channel = ch
	e.mu.Unlock()
	e.log.Debug("exchange declared")
	f.Resolve(struct{}{})
}

// Publish sends content to this exchange with the given routing key.
func (e *Exchange) Publish(ctx context.Context, content any, routingKey string, props Properties) error {
	return e.publish(ctx, content, routingKey, props, true)
}

func (e *Exchange) publish(ctx context.Context, content any, routingKey string, props Properties, retry bool) error {
	if _, err := e.Initialized().Wait(ctx); err != nil {
		return err
	}
	body, props, err := normalizeContent(content, props)
	if err != nil {
		return err
	}
	ch := e.channelSnapshot()
	if ch == nil {
		return ErrNotConnected
	}
	if pubErr := ch.PublishWithContext(ctx, e.name, routingKey, props.Mandatory, props.Immediate, toPublishing(body, props)); pubErr != nil {
		if !retry {
			return pubErr
		}
		e.log.WithField("error", pubErr.Error()).Warn("publish failed, rebuilding connection")
		if rerr := e.c.RebuildAll(ctx, pubErr); rerr != nil {
			return rerr
		}
		next := e.c.lookupExchange(e.name)
		if next == nil {
			return pubErr
		}
		return next.publish(ctx, content, routingKey, props, false)
	}
	return nil
}

// Send normalizes and publishes content the same way Publish does, using
// msg.Properties as the base properties; it is the Exchange counterpart of
// spec.md §4.2's Message.sendTo.
func (e *Exchange) Send(ctx context.Context, msg Message, routingKey string) error {
	return e.Publish(ctx, msg.Content, routingKey, msg.Properties)
}

// RPC publishes content to this exchange tagged for a direct reply-to
// response and blocks for the reply or until ctx ends.
func (e *Exchange) RPC(ctx context.Context, content any, routingKey string, props Properties) (*Message, error) {
	if _, err := e.Initialized().Wait(ctx); err != nil {
		return nil, err
	}
	return rpcCall(ctx, e.channelSnapshot(), content, props, func(ctx context.Context, c any, p Properties) error {
		return e.publish(ctx, c, routingKey, p, true)
	})
}

// Bind connects source to this exchange (exchange-to-exchange binding).
func (e *Exchange) Bind(source *Exchange, pattern string, args map[string]any) *Binding {
	return e.c.newBinding(source, e, pattern, args)
}

// Unbind removes a previously created exchange-to-exchange binding.
func (e *Exchange) Unbind(source *Exchange, pattern string) error {
	return e.c.unbind(bindingKey(source.Name(), "exchange", e.name, pattern))
}

// privateQueueName builds the anonymous consumer queue name spec.md §6
// specifies: "<exchange>.<appName>.<hostname>.<pid>". appName prefers the
// Connection's WithName identifier, falling back to APPLICATIONNAME and
// then a fixed default so the name is still stable without either.
func (e *Exchange) privateQueueName() string {
	appName := e.c.name
	if appName == "" {
		appName = os.Getenv("APPLICATIONNAME")
	}
	if appName == "" {
		appName = "relaymq"
	}
	host, _ := os.Hostname()
	return fmt.Sprintf("%s.%s.%s.%d", e.name, appName, host, os.Getpid())
}

// ensurePrivateQueue lazily declares and binds the anonymous queue backing
// this exchange's consumer operations.
func (e *Exchange) ensurePrivateQueue() *Queue {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.privateQueue != nil {
		return e.privateQueue
	}
	q := e.c.DeclareQueue(e.privateQueueName(), QueueOptions{Exclusive: true, AutoDelete: true})
	q.Bind(e, "", nil)
	e.privateQueue = q
	return q
}

// ActivateConsumer runs the "current" consumer shape on a private queue
// bound to this exchange (spec.md §6).
func (e *Exchange) ActivateConsumer(fn ConsumerFunc, opts ConsumerOptions) error {
	return e.ensurePrivateQueue().ActivateConsumer(fn, opts)
}

// StartConsumer runs the legacy decoded-payload shape on a private queue
// bound to this exchange.
func (e *Exchange) StartConsumer(fn DecodedConsumerFunc, opts ConsumerOptions) error {
	return e.ensurePrivateQueue().StartConsumer(fn, opts)
}

// StartRawConsumer runs the legacy raw-message shape on a private queue
// bound to this exchange.
func (e *Exchange) StartRawConsumer(fn RawConsumerFunc, opts ConsumerOptions) error {
	return e.ensurePrivateQueue().StartRawConsumer(fn, opts)
}

// StopConsumer cancels the subscription on this exchange's private queue.
func (e *Exchange) StopConsumer() error {
	e.mu.RLock()
	q := e.privateQueue
	e.mu.RUnlock()
	if q == nil {
		return ErrNoConsumerDefined
	}
	return q.StopConsumer()
}

// Delete removes every binding touching this exchange, issues
// ExchangeDelete on the broker, closes the channel, and removes the
// exchange from the Connection's registry.
func (e *Exchange) Delete(ctx context.Context) error {
	if err := e.c.removeBindingsContaining(ctx, e.name, true); err != nil {
		return err
	}
	ch := e.channelSnapshot()
	if ch != nil {
		if err := ch.ExchangeDelete(e.name, false, false); err != nil {
			return err
		}
		if err := ch.Close(); err != nil {
			return err
		}
	}
	e.invalidate()
	e.c.removeExchange(e.name)
	return nil
}

// Close removes every binding touching this exchange and closes its
// channel without deleting the exchange on the broker.
func (e *Exchange) Close(ctx context.Context) error {
	if err := e.c.removeBindingsContaining(ctx, e.name, true); err != nil {
		return err
	}
	ch := e.channelSnapshot()
	if ch != nil {
		if err := ch.Close(); err != nil {
			return err
		}
	}
	e.invalidate()
	e.c.removeExchange(e.name)
	return nil
}

func (e *Exchange) invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removed = true
	e.channel = nil
}
