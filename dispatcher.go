package relaymq

import (
	"context"

	"github.com/relaymq/relaymq/internal/xlog"
)

// Target is satisfied by anything a Dispatcher can push messages through:
// *Queue directly, or an Exchange bound to a fixed routing key via Route.
type Target interface {
	Publish(ctx context.Context, content any, props Properties) error
}

// routedExchange adapts an Exchange plus a fixed routing key to Target.
type routedExchange struct {
	e          *Exchange
	routingKey string
}

func (r routedExchange) Publish(ctx context.Context, content any, props Properties) error {
	return r.e.Publish(ctx, content, r.routingKey, props)
}

// Route binds e to a fixed routing key, producing a Target a Dispatcher (or
// any other batching caller) can publish through without repeating the key.
func (e *Exchange) Route(routingKey string) Target {
	return routedExchange{e: e, routingKey: routingKey}
}

// Dispatcher serializes publishes from many goroutines onto a single
// Target through a buffered channel, reporting failures asynchronously
// instead of forcing every caller to handle a Publish error inline.
type Dispatcher struct {
	target Target
	log    xlog.Logger

	msgCh chan dispatchMsg
	errCh chan error
	done  chan struct{}
}

type dispatchMsg struct {
	content any
	props   Properties
}

// NewDispatcher starts a Dispatcher's background event loop publishing
// through target. bufferSize bounds how many pending messages Publish can
// accept before it blocks.
func NewDispatcher(target Target, bufferSize int, log xlog.Logger) *Dispatcher {
	if log == nil {
		log = xlog.Discard()
	}
	d := &Dispatcher{
		target: target,
		log:    log,
		msgCh:  make(chan dispatchMsg, bufferSize),
		errCh:  make(chan error, bufferSize),
		done:   make(chan struct{}),
	}
	go d.eventLoop()
	return d
}

// Publish enqueues content for asynchronous delivery through the
// Dispatcher's target. The call blocks only if the internal buffer is full.
func (d *Dispatcher) Publish(content any, props Properties) {
	d.msgCh <- dispatchMsg{content: content, props: props}
}

// Errors returns the channel publish failures are reported on.
func (d *Dispatcher) Errors() <-chan error { return d.errCh }

// Close stops accepting new messages and waits for the event loop to drain.
func (d *Dispatcher) Close() {
	close(d.msgCh)
	<-d.done
}

func (d *Dispatcher) eventLoop() {
	defer close(d.done)
	for msg := range d.msgCh {
		if err := d.target.Publish(context.Background(), msg.content, msg.props); err != nil {
			d.log.WithField("error", err.Error()).Warn("dispatcher publish failed")
			select {
			case d.errCh <- err:
			default:
			}
		}
	}
}
