package relaymq

import (
	"context"
	"fmt"
	"sync"
)

// destination is the tagged-variant interface spec.md §9's design note
// calls for: a Binding's destination is either an Exchange or a Queue, and
// both expose the same narrow surface a Binding needs to (re)declare itself
// after a rebuild.
type destination interface {
	Name() string
	Initialized() *Future[struct{}]
	channelSnapshot() brokerChannel
	isExchange() bool
	connection() *Connection
}

// Binding links a source Exchange to a destination (Exchange or Queue)
// through a routing pattern, matching spec.md §3's Binding entity. Its
// identity is the (source, destinationKind, destination, pattern) tuple,
// not object identity, so re-creating an equivalent Binding after a
// rebuild is idempotent.
type Binding struct {
	c       *Connection
	source  *Exchange
	dest    destination
	pattern string
	args    map[string]any

	mu          sync.RWMutex
	initialized *Future[struct{}]
	removed     bool
}

// bindingKey computes spec.md §3's binding identity string:
// "[" + sourceName + "]to" + destinationKind + "[" + destName + "]" + pattern.
func bindingKey(sourceName, destKind, destName, pattern string) string {
	return fmt.Sprintf("[%s]to%s[%s]%s", sourceName, destKind, destName, pattern)
}

func (b *Binding) key() string {
	kind := "queue"
	if b.dest.isExchange() {
		kind = "exchange"
	}
	return bindingKey(b.source.Name(), kind, b.dest.Name(), b.pattern)
}

// Initialized returns the future that settles once this binding's current
// declaration attempt has been acknowledged by the broker (or failed).
func (b *Binding) Initialized() *Future[struct{}] {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.initialized
}

// initialize waits for both endpoints to be ready, then issues the
// appropriate bind call on the destination's channel (ExchangeBind for an
// exchange destination, QueueBind otherwise).
func (b *Binding) initialize(ctx context.Context) {
	f := NewFuture[struct{}]()
	b.mu.Lock()
	b.initialized = f
	b.mu.Unlock()

	if err := Join(ctx, b.source.Initialized(), b.dest.Initialized()); err != nil {
		f.Reject(err)
		return
	}
	ch := b.dest.channelSnapshot()
	if ch == nil {
		f.Reject(ErrNotConnected)
		return
	}
	var err error
	if b.dest.isExchange() {
		err = ch.ExchangeBind(b.dest.Name(), b.pattern, b.source.Name(), false, toTable(b.args))
	} else {
		err = ch.QueueBind(b.dest.Name(), b.pattern, b.source.Name(), false, toTable(b.args))
	}
	if err != nil {
		b.c.removeBinding(b.key())
		f.Reject(err)
		return
	}
	f.Resolve(struct{}{})
}

// Delete removes this binding from the broker and from the Connection's
// registry.
func (b *Binding) Delete(ctx context.Context) error {
	if _, err := b.Initialized().Wait(ctx); err != nil {
		b.c.removeBinding(b.key())
		return nil
	}
	ch := b.dest.channelSnapshot()
	if ch == nil {
		b.c.removeBinding(b.key())
		return nil
	}
	var err error
	if b.dest.isExchange() {
		err = ch.ExchangeUnbind(b.dest.Name(), b.pattern, b.source.Name(), false, toTable(b.args))
	} else {
		err = ch.QueueUnbind(b.dest.Name(), b.pattern, b.source.Name(), toTable(b.args))
	}
	b.c.removeBinding(b.key())
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.removed = true
	b.mu.Unlock()
	return nil
}
