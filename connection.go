package relaymq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/pkg/errors"

	"github.com/relaymq/relaymq/internal/xlog"
)

// Connection is the connection-and-topology supervisor: it owns the broker
// link, the registries of exchanges/queues/bindings, the reconnect
// strategy, and the rebuild orchestration that reinitializes every
// registered entity when the link drops (spec.md §3/§4.1).
type Connection struct {
	url      string
	dial     dialFunc
	dialCfg  dialConfig
	strategy ReconnectStrategy
	log      xlog.Logger
	name     string

	prefetchCount int
	prefetchSize  int

	mu              sync.RWMutex
	link            brokerConn
	initialized     *Future[struct{}]
	connectedBefore bool
	rebuilding      bool
	rebuildFuture   *Future[struct{}]
	closed          bool

	exchanges map[string]*Exchange
	queues    map[string]*Queue
	bindings  map[string]*Binding

	// ready/paused are a supplemented convenience beyond spec.md's Future
	// vocabulary: Ready() is signaled every time the link is (re)established,
	// Paused() every time it drops, letting an application track liveness
	// without polling Initialized() after the first connect.
	ready  chan struct{}
	paused chan struct{}
}

// New constructs a Connection and begins connecting immediately; it does
// not block (spec.md §4.1's "begins connecting immediately"). Use
// Initialized().Wait to block until the first link is ready.
func New(url string, opts ...Option) *Connection {
	c := newUnstarted(url, opts...)
	go c.tryToConnect(0)
	return c
}

// newUnstarted builds a Connection without kicking off the background
// connect goroutine, so tests can swap in a fake dialFunc first.
func newUnstarted(url string, opts ...Option) *Connection {
	c := &Connection{
		url:         url,
		dial:        dialReal,
		strategy:    DefaultReconnectStrategy,
		log:         xlog.Discard(),
		initialized: NewFuture[struct{}](),
		exchanges:   make(map[string]*Exchange),
		queues:      make(map[string]*Queue),
		bindings:    make(map[string]*Binding),
		ready:       make(chan struct{}, 1),
		paused:      make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.name != "" {
		c.log = c.log.WithField("connection", c.name)
	}
	return c
}

// WithReconnectStrategy overrides the default reconnect strategy. Declared
// alongside New rather than in options.go since it closes over
// ReconnectStrategy, not a primitive value.
func WithReconnectStrategy(s ReconnectStrategy) Option {
	return func(c *Connection) { c.strategy = s }
}

// Initialized returns the future that resolves once the current connect (or
// rebuild) attempt has produced a usable link.
func (c *Connection) Initialized() *Future[struct{}] {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.initialized
}

// Ready is signaled every time the underlying link is established or
// re-established.
func (c *Connection) Ready() <-chan struct{} { return c.ready }

// Paused is signaled every time the underlying link is lost and a rebuild
// begins.
func (c *Connection) Paused() <-chan struct{} { return c.paused }

func (c *Connection) notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// tryToConnect implements spec.md §4.1's connect algorithm.
func (c *Connection) tryToConnect(retry int) {
	c.mu.RLock()
	closed := c.closed
	f := c.initialized
	c.mu.RUnlock()
	if closed {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	conn, err := c.dial(ctx, c.url, c.dialCfg)
	cancel()
	if err != nil {
		if c.strategy.Retries == 0 || c.strategy.Retries > retry {
			c.log.WithFields(xlog.Fields{"attempt": retry + 1, "error": err.Error()}).Warn("connect attempt failed, retrying")
			time.AfterFunc(c.strategy.Interval, func() { c.tryToConnect(retry + 1) })
			return
		}
		c.log.WithField("error", err.Error()).Error("reconnect retries exhausted")
		f.Reject(fmt.Errorf("%w: %w", ErrRetriesExhausted, err))
		return
	}

	c.mu.Lock()
	c.link = conn
	wasConnectedBefore := c.connectedBefore
	c.connectedBefore = true
	c.mu.Unlock()

	closeCh := conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watchLink(closeCh)

	if wasConnectedBefore {
		c.log.Warn("broker connection re-established")
	} else {
		c.log.Info("broker connection established")
	}
	c.notify(c.ready)
	f.Resolve(struct{}{})
}

// watchLink installs the "error" listener spec.md §4.1 mandates: its sole
// action is to call rebuildAll with the observed error.
func (c *Connection) watchLink(closeCh chan *amqp.Error) {
	err, ok := <-closeCh
	if !ok {
		return
	}
	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}
	cause := error(err)
	if cause == nil {
		cause = errors.New("broker connection closed")
	}
	_ = c.RebuildAll(context.Background(), cause)
}

// RebuildAll triggers (or joins) a rebuild and blocks until it settles.
// Exchange/Queue publish paths call this on a stale-channel error, and the
// link's own close listener calls it on an unexpected disconnect.
func (c *Connection) RebuildAll(ctx context.Context, cause error) error {
	f := c.rebuildConnection(cause)
	_, err := f.Wait(ctx)
	return err
}

// rebuildConnection is guarded by c.rebuilding: at most one rebuild is in
// flight at a time, and late callers join the same future (spec.md §5
// "Rebuild mutual exclusion").
func (c *Connection) rebuildConnection(cause error) *Future[struct{}] {
	c.mu.Lock()
	if c.rebuilding {
		f := c.rebuildFuture
		c.mu.Unlock()
		return f
	}
	c.rebuilding = true
	f := NewFuture[struct{}]()
	c.rebuildFuture = f
	c.mu.Unlock()

	go c.performRebuild(cause, f)
	return f
}

// performRebuild implements spec.md §4.1's rebuildAll algorithm: reconnect
// the link, then reinitialize every exchange, queue (and its consumer, if
// any), and binding, completing when their join settles.
func (c *Connection) performRebuild(cause error, f *Future[struct{}]) {
	c.log.WithField("error", cause.Error()).Warn("link lost, rebuilding connection")
	c.notify(c.paused)

	c.mu.Lock()
	if c.link != nil {
		_ = c.link.Close()
	}
	c.link = nil
	newInit := NewFuture[struct{}]()
	c.initialized = newInit
	c.mu.Unlock()

	c.tryToConnect(0)

	// The rebuilding guard clears the moment the connect attempt settles,
	// not at the end of the whole topology rebuild (spec.md §5).
	_, err := newInit.Wait(context.Background())
	c.mu.Lock()
	c.rebuilding = false
	c.mu.Unlock()
	if err != nil {
		f.Reject(err)
		return
	}

	var settlers []settler
	for _, e := range c.snapshotExchanges() {
		ef := e.beginInit()
		settlers = append(settlers, ef)
		go e.runInit(context.Background(), ef)
	}
	for _, q := range c.snapshotQueues() {
		qf := q.beginInit()
		settlers = append(settlers, qf)
		go q.runInit(context.Background(), qf)
		if q.hasActiveConsumer() {
			cf := q.beginConsumerInit()
			if cf != nil {
				settlers = append(settlers, cf)
				go q.runConsumerInit(context.Background(), cf)
			}
		}
	}
	for _, b := range c.snapshotBindings() {
		go b.initialize(context.Background())
		settlers = append(settlers, b.Initialized())
	}

	if err := Join(context.Background(), settlers...); err != nil {
		f.Reject(err)
		return
	}
	f.Resolve(struct{}{})
}

func (c *Connection) openChannel() (brokerChannel, error) {
	c.mu.RLock()
	link := c.link
	c.mu.RUnlock()
	if link == nil {
		return nil, ErrNotConnected
	}
	ch, err := link.Channel()
	if err != nil {
		return nil, err
	}
	if c.prefetchCount > 0 || c.prefetchSize > 0 {
		if err := ch.Qos(c.prefetchCount, c.prefetchSize, false); err != nil {
			return nil, err
		}
	}
	return ch, nil
}

// DeclareExchange registers name in the exchange registry (idempotent by
// name; a pre-existing entry is returned unchanged, ignoring kind/opts per
// spec.md §9's open question) and begins its initialization.
func (c *Connection) DeclareExchange(name, kind string, opts ExchangeOptions) *Exchange {
	c.mu.Lock()
	if e, ok := c.exchanges[name]; ok {
		c.mu.Unlock()
		return e
	}
	e := newExchange(c, name, kind, opts)
	c.exchanges[name] = e
	c.mu.Unlock()

	go e.initialize(context.Background())
	return e
}

// DeclareQueue registers name in the queue registry (idempotent by name)
// and begins its initialization.
func (c *Connection) DeclareQueue(name string, opts QueueOptions) *Queue {
	c.mu.Lock()
	if q, ok := c.queues[name]; ok {
		c.mu.Unlock()
		return q
	}
	q := newQueue(c, name, opts)
	c.queues[name] = q
	c.mu.Unlock()

	go q.initialize(context.Background())
	return q
}

// DeclareTopology declares every exchange, then every queue, then every
// binding from t, exactly as spec.md §4.1 specifies, then blocks on the join
// of every resulting initialization and returns its first error.
func (c *Connection) DeclareTopology(ctx context.Context, t Topology) error {
	var settlers []settler

	for _, ec := range t.Exchanges {
		e := c.DeclareExchange(ec.Name, ec.Type, ec.Options)
		settlers = append(settlers, e.Initialized())
	}
	for _, qc := range t.Queues {
		q := c.DeclareQueue(qc.Name, qc.Options)
		settlers = append(settlers, q.Initialized())
	}
	for _, bc := range t.Bindings {
		source := c.DeclareExchange(bc.Source, "direct", ExchangeOptions{})
		var b *Binding
		switch {
		case bc.Exchange != "":
			dest := c.DeclareExchange(bc.Exchange, "direct", ExchangeOptions{})
			b = dest.Bind(source, bc.Pattern, bc.Arguments)
		case bc.Queue != "":
			dest := c.DeclareQueue(bc.Queue, QueueOptions{})
			b = dest.Bind(source, bc.Pattern, bc.Arguments)
		default:
			return ErrInvalidTopology
		}
		settlers = append(settlers, b.Initialized())
	}
	return Join(ctx, settlers...)
}

// CompleteConfiguration joins the current snapshot of every registered
// entity's initialized future (and every queue's consumer future, if
// active), matching spec.md §4.1's completeConfiguration.
func (c *Connection) CompleteConfiguration(ctx context.Context) error {
	var settlers []settler
	for _, e := range c.snapshotExchanges() {
		settlers = append(settlers, e.Initialized())
	}
	for _, q := range c.snapshotQueues() {
		settlers = append(settlers, q.Initialized())
		q.mu.RLock()
		if q.consumer != nil {
			settlers = append(settlers, q.consumer.initialized)
		}
		q.mu.RUnlock()
	}
	for _, b := range c.snapshotBindings() {
		settlers = append(settlers, b.Initialized())
	}
	return Join(ctx, settlers...)
}

// DeleteConfiguration deletes every registered binding, then stops
// consumers and deletes queues, then deletes exchanges, matching spec.md
// §4.1's deleteConfiguration ordering.
func (c *Connection) DeleteConfiguration(ctx context.Context) error {
	for _, b := range c.snapshotBindings() {
		if err := b.Delete(ctx); err != nil {
			return err
		}
	}
	for _, q := range c.snapshotQueues() {
		if q.hasActiveConsumer() {
			_ = q.StopConsumer()
		}
		if err := q.Delete(ctx); err != nil {
			return err
		}
	}
	for _, e := range c.snapshotExchanges() {
		if err := e.Delete(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Close awaits Initialized, then closes the underlying link without
// proactively deleting any registered entity on the broker (spec.md
// §4.1's close()).
func (c *Connection) Close(ctx context.Context) error {
	if _, err := c.Initialized().Wait(ctx); err != nil {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		return nil
	}
	c.mu.Lock()
	c.closed = true
	link := c.link
	c.mu.Unlock()
	if link == nil {
		return nil
	}
	return link.Close()
}

func (c *Connection) snapshotExchanges() []*Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Exchange, 0, len(c.exchanges))
	for _, e := range c.exchanges {
		out = append(out, e)
	}
	return out
}

func (c *Connection) snapshotQueues() []*Queue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Queue, 0, len(c.queues))
	for _, q := range c.queues {
		out = append(out, q)
	}
	return out
}

func (c *Connection) snapshotBindings() []*Binding {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Binding, 0, len(c.bindings))
	for _, b := range c.bindings {
		out = append(out, b)
	}
	return out
}

func (c *Connection) lookupExchange(name string) *Exchange {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.exchanges[name]
}

func (c *Connection) lookupQueue(name string) *Queue {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.queues[name]
}

func (c *Connection) removeExchange(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.exchanges, name)
}

func (c *Connection) removeQueue(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.queues, name)
}

func (c *Connection) removeBinding(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.bindings, key)
}

// newBinding constructs and registers a Binding for dest.bind(source, ...),
// matching spec.md §4.2's bind; re-declaring an equal triple replaces the
// prior registry entry (spec.md invariant 2).
func (c *Connection) newBinding(source *Exchange, dest destination, pattern string, args map[string]any) *Binding {
	b := &Binding{c: c, source: source, dest: dest, pattern: pattern, args: args, initialized: NewFuture[struct{}]()}
	c.mu.Lock()
	c.bindings[b.key()] = b
	c.mu.Unlock()

	go b.initialize(context.Background())
	return b
}

// unbind looks up a binding by its identity key and deletes it.
func (c *Connection) unbind(key string) error {
	c.mu.RLock()
	b, ok := c.bindings[key]
	c.mu.RUnlock()
	if !ok {
		return nil
	}
	return b.Delete(context.Background())
}

// removeBindingsContaining deletes every binding whose source or
// destination is the named entity, matching spec.md §4.4's
// removeBindingsContaining. destIsExchange narrows the match to the right
// registry when an exchange and a queue happen to share a name.
func (c *Connection) removeBindingsContaining(ctx context.Context, name string, destIsExchange bool) error {
	var toDelete []*Binding
	c.mu.RLock()
	for _, b := range c.bindings {
		if destIsExchange && b.source.Name() == name {
			toDelete = append(toDelete, b)
			continue
		}
		if b.dest.Name() == name && b.dest.isExchange() == destIsExchange {
			toDelete = append(toDelete, b)
		}
	}
	c.mu.RUnlock()

	for _, b := range toDelete {
		if err := b.Delete(ctx); err != nil {
			return err
		}
	}
	return nil
}
