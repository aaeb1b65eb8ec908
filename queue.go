package relaymq

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/relaymq/relaymq/internal/xlog"
)

// Queue is a named broker-side buffer applications publish to and consume
// from. Each Queue owns exactly one dedicated channel (spec.md §3
// invariant 3) and a single-assignment Initialized future that settles
// once the broker has acknowledged its declaration.
type Queue struct {
	c    *Connection
	name string
	opts QueueOptions
	log  xlog.Logger

	mu          sync.RWMutex
	channel     brokerChannel
	initialized *Future[struct{}]
	removed     bool

	consumer *consumerState
}

func newQueue(c *Connection, name string, opts QueueOptions) *Queue {
	return &Queue{
		c:           c,
		name:        name,
		opts:        opts,
		log:         c.log.WithField("queue", name),
		initialized: NewFuture[struct{}](),
	}
}

// Name returns the queue's broker name.
func (q *Queue) Name() string { return q.name }

// Initialized returns the future that settles once this queue's current
// declaration attempt has been acknowledged by the broker (or failed).
func (q *Queue) Initialized() *Future[struct{}] {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.initialized
}

func (q *Queue) channelSnapshot() brokerChannel {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.channel
}

func (q *Queue) isExchange() bool { return false }

func (q *Queue) connection() *Connection { return q.c }

// beginInit creates and installs a fresh Initialized future synchronously,
// before any blocking work starts. The rebuild path calls this directly
// (rather than "go q.initialize") so it can collect the new future without
// racing the goroutine that will populate it.
func (q *Queue) beginInit() *Future[struct{}] {
	f := NewFuture[struct{}]()
	q.mu.Lock()
	q.initialized = f
	q.mu.Unlock()
	return f
}

// initialize implements spec.md §4.2's Exchange/Queue initialize: await
// the Connection's readiness, open a fresh channel, declare the queue. On
// failure the queue removes itself from the registry and rejects its
// future so a doomed name does not poison the registry.
func (q *Queue) initialize(ctx context.Context) {
	q.runInit(ctx, q.beginInit())
}

func (q *Queue) runInit(ctx context.Context, f *Future[struct{}]) {
	if _, err := q.c.Initialized().Wait(ctx); err != nil {
		f.Reject(err)
		return
	}
	ch, err := q.c.openChannel()
	if err != nil {
		q.c.removeQueue(q.name)
		f.Reject(err)
		return
	}
	_, err = ch.QueueDeclare(q.name, q.opts.Durable, q.opts.AutoDelete, q.opts.Exclusive, false, toTable(q.opts.asArguments()))
	if err != nil {
		q.c.removeQueue(q.name)
		f.Reject(err)
		return
	}
	q.mu.Lock()
	q.channel = ch
	q.mu.Unlock()
	q.log.Debug("queue declared")
	f.Resolve(struct{}{})
}

// Publish sends content to the default exchange using this queue's name as
// the routing key (the AMQP equivalent of "sendToQueue"). See
// normalizeContent for the content-encoding rule.
func (q *Queue) Publish(ctx context.Context, content any, props Properties) error {
	return q.publish(ctx, content, props, true)
}

func (q *Queue) publish(ctx context.Context, content any, props Properties, retry bool) error {
	if _, err := q.Initialized().Wait(ctx); err != nil {
		return err
	}
	body, props, err := normalizeContent(content, props)
	if err != nil {
		return err
	}
	ch := q.channelSnapshot()
	if ch == nil {
		return ErrNotConnected
	}
	if pubErr := ch.PublishWithContext(ctx, "", q.name, props.Mandatory, props.Immediate, toPublishing(body, props)); pubErr != nil {
		if !retry {
			return pubErr
		}
		q.log.WithField("error", pubErr.Error()).Warn("publish failed, rebuilding connection")
		if rerr := q.c.RebuildAll(ctx, pubErr); rerr != nil {
			return rerr
		}
		next := q.c.lookupQueue(q.name)
		if next == nil {
			return pubErr
		}
		return next.publish(ctx, content, props, false)
	}
	return nil
}

// Send normalizes and publishes content the same way Publish does; it
// exists as the Queue-side counterpart of spec.md §4.2's
// "Message.sendTo", for any Message a caller wants to forward without
// reconstructing Properties by hand. RPC replies do not go through it;
// they are published by Queue.replyTo.
func (q *Queue) Send(ctx context.Context, msg Message) error {
	return q.Publish(ctx, msg.Content, msg.Properties)
}

// RPC publishes content to this queue tagged for a direct reply-to
// response and blocks until either the reply arrives or ctx ends. See
// rpc.go for the shared implementation, which only needs a "publish
// function" and this queue's channel to set up the reply subscription.
func (q *Queue) RPC(ctx context.Context, content any, props Properties) (*Message, error) {
	if _, err := q.Initialized().Wait(ctx); err != nil {
		return nil, err
	}
	return rpcCall(ctx, q.channelSnapshot(), content, props, func(ctx context.Context, c any, p Properties) error {
		return q.publish(ctx, c, p, true)
	})
}

// Bind connects this queue to a source exchange so that messages matching
// pattern (and args, for headers exchanges) are routed to it.
func (q *Queue) Bind(source *Exchange, pattern string, args map[string]any) *Binding {
	return q.c.newBinding(source, q, pattern, args)
}

// Unbind removes a previously created binding by its identity key.
func (q *Queue) Unbind(source *Exchange, pattern string) error {
	return q.c.unbind(bindingKey(source.Name(), "queue", q.name, pattern))
}

// ActivateConsumer registers the "current" consumer callback shape: the
// callback receives a Message and owns Ack/Nack/Reject.
func (q *Queue) ActivateConsumer(fn ConsumerFunc, opts ConsumerOptions) error {
	return q.registerConsumer(&consumerRegistration{shape: shapeCurrent, current: fn, opts: opts})
}

// StartConsumer registers the legacy decoded-payload consumer shape;
// delivery is auto-acked unless opts.NoAck is set.
func (q *Queue) StartConsumer(fn DecodedConsumerFunc, opts ConsumerOptions) error {
	return q.registerConsumer(&consumerRegistration{shape: shapeLegacyDecoded, decoded: fn, opts: opts})
}

// StartRawConsumer registers the legacy raw-message consumer shape;
// delivery is auto-acked unless opts.NoAck is set.
func (q *Queue) StartRawConsumer(fn RawConsumerFunc, opts ConsumerOptions) error {
	return q.registerConsumer(&consumerRegistration{shape: shapeLegacyRaw, raw: fn, opts: opts})
}

func (q *Queue) registerConsumer(reg *consumerRegistration) error {
	q.mu.Lock()
	if q.consumer != nil && q.consumer.mode != consumerInactive {
		q.mu.Unlock()
		return ErrConsumerAlreadyDefined
	}
	cs := newConsumerState()
	cs.mode = consumerStarting
	cs.reg = reg
	q.consumer = cs
	q.mu.Unlock()

	f := q.beginConsumerInit()
	go q.runConsumerInit(context.Background(), f)
	return nil
}

// beginConsumerInit installs a fresh consumerInitialized future on the
// current consumer state synchronously, mirroring beginInit/runInit on
// Exchange/Queue itself: the rebuild path needs the new future before the
// goroutine that settles it has had a chance to run.
func (q *Queue) beginConsumerInit() *Future[struct{}] {
	q.mu.Lock()
	defer q.mu.Unlock()
	cs := q.consumer
	if cs == nil {
		return nil
	}
	f := NewFuture[struct{}]()
	cs.initialized = f
	cs.mode = consumerStarting
	return f
}

// runConsumerInit opens the subscription for the currently registered
// callback. It is invoked both on first activation and, per spec.md
// §4.3's "Rebuild interaction", again after every rebuild for any queue
// that had an active consumer at failure time.
func (q *Queue) runConsumerInit(ctx context.Context, f *Future[struct{}]) {
	if f == nil {
		return
	}
	q.mu.RLock()
	cs := q.consumer
	var reg *consumerRegistration
	if cs != nil {
		reg = cs.reg
	}
	q.mu.RUnlock()
	if cs == nil || reg == nil {
		return
	}

	if _, err := q.Initialized().Wait(ctx); err != nil {
		f.Reject(err)
		return
	}
	ch := q.channelSnapshot()
	if ch == nil {
		f.Reject(ErrNotConnected)
		return
	}
	tag := "relaymq-" + uuid.NewString()
	deliveries, err := ch.Consume(q.name, tag, reg.opts.NoAck, reg.opts.Exclusive, false, false, toTable(reg.opts.Arguments))
	if err != nil {
		f.Reject(err)
		return
	}

	q.mu.Lock()
	cs.tag = tag
	cs.mode = consumerActive
	q.mu.Unlock()
	f.Resolve(struct{}{})
	q.log.WithField("consumerTag", tag).Info("consumer active")
	deliveryLoop(ctx, q, deliveries, reg)
}

// StopConsumer cancels the active subscription and returns the queue to
// the Inactive state.
func (q *Queue) StopConsumer() error {
	q.mu.Lock()
	cs := q.consumer
	if cs == nil || cs.mode == consumerInactive {
		q.mu.Unlock()
		return ErrNoConsumerDefined
	}
	cs.mode = consumerCancelling
	tag := cs.tag
	ch := q.channel
	q.mu.Unlock()

	if _, err := cs.initialized.Wait(context.Background()); err != nil {
		q.mu.Lock()
		q.consumer = nil
		q.mu.Unlock()
		return nil
	}
	if ch != nil && tag != "" {
		if err := ch.Cancel(tag, false); err != nil {
			return err
		}
	}
	q.mu.Lock()
	q.consumer = nil
	q.mu.Unlock()
	return nil
}

// hasActiveConsumer reports whether a consumer should be reinstalled by a
// rebuild.
func (q *Queue) hasActiveConsumer() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.consumer != nil
}

// Delete removes every binding touching this queue, issues QueueDelete on
// the broker, closes the channel, and removes the queue from the
// Connection's registry (spec.md §4.2).
func (q *Queue) Delete(ctx context.Context) error {
	if err := q.c.removeBindingsContaining(ctx, q.name, false); err != nil {
		return err
	}
	ch := q.channelSnapshot()
	if ch != nil {
		if _, err := ch.QueueDelete(q.name, false, false, false); err != nil {
			return err
		}
		if err := ch.Close(); err != nil {
			return err
		}
	}
	q.invalidate()
	q.c.removeQueue(q.name)
	return nil
}

// Close removes every binding touching this queue and closes its channel
// without deleting the queue on the broker.
func (q *Queue) Close(ctx context.Context) error {
	if err := q.c.removeBindingsContaining(ctx, q.name, false); err != nil {
		return err
	}
	ch := q.channelSnapshot()
	if ch != nil {
		if err := ch.Close(); err != nil {
			return err
		}
	}
	q.invalidate()
	q.c.removeQueue(q.name)
	return nil
}

func (q *Queue) invalidate() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.removed = true
	q.channel = nil
}
