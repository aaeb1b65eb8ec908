package relaymq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// consumerMode tracks the consumer state machine spec.md §4.3 describes:
// Inactive -> Starting -> Active -> Cancelling -> Inactive.
type consumerMode int

const (
	consumerInactive consumerMode = iota
	consumerStarting
	consumerActive
	consumerCancelling
)

// ConsumerFunc is the "current" (activateConsumer) callback shape: it
// receives a Message bound to the delivering channel, and the caller is
// responsible for Ack/Nack/Reject unless ConsumerOptions.NoAck is set. Its
// return value, if non-nil, is normalized and sent as the RPC reply when
// the delivery carries a ReplyTo.
type ConsumerFunc func(msg *Message) (any, error)

// DecodedConsumerFunc is the legacy (startConsumer) callback shape invoked
// with the already-decoded payload (see Message.GetContent); delivery ack
// is automatic unless ConsumerOptions.NoAck is set.
type DecodedConsumerFunc func(payload any) (any, error)

// RawConsumerFunc is the legacy (startConsumer, RawMessage option) callback
// shape, invoked with the raw Message (whose Ack/Nack/Reject forward to the
// delivering channel), for callers that need the fields the decoded shape
// discards.
type RawConsumerFunc func(msg *Message) (any, error)

// ConsumerOptions adjusts a subscription's behavior.
type ConsumerOptions struct {
	// NoAck disables automatic acknowledgement (legacy shapes) and removes
	// the caller's obligation to ack (current shape); the broker considers
	// the message handled as soon as it is delivered.
	NoAck bool

	// Exclusive ensures only this consumer reads from the queue.
	Exclusive bool

	// Arguments are additional consumer arguments passed to the broker.
	Arguments map[string]any
}

// consumerRegistration bundles a stored callback (of whichever shape) with
// its options, kept around so rebuildAll can reinstall the exact same
// subscription after reconnecting (spec.md §4.3 "Rebuild interaction").
type consumerRegistration struct {
	shape   consumerShape
	decoded DecodedConsumerFunc
	raw     RawConsumerFunc
	current ConsumerFunc
	opts    ConsumerOptions
}

type consumerShape int

const (
	shapeCurrent consumerShape = iota
	shapeLegacyDecoded
	shapeLegacyRaw
)

// invoke dispatches a single delivery to the stored callback, catching
// panics the way spec.md §4.3 requires ("callback exceptions are caught
// and logged; delivery is otherwise unaffected").
func (r *consumerRegistration) invoke(msg *Message) (reply any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("consumer callback panicked: %v", p)
		}
	}()
	switch r.shape {
	case shapeCurrent:
		return r.current(msg)
	case shapeLegacyRaw:
		return r.raw(msg)
	case shapeLegacyDecoded:
		payload, decodeErr := msg.GetContent()
		if decodeErr != nil {
			return nil, decodeErr
		}
		return r.decoded(payload)
	}
	return nil, nil
}

// consumerState is the reusable consumer state machine backing both Queue
// and (via its private auto-bound queue) Exchange.
type consumerState struct {
	mode         consumerMode
	reg          *consumerRegistration
	tag          string
	initialized  *Future[struct{}]
}

func newConsumerState() *consumerState {
	return &consumerState{mode: consumerInactive, initialized: NewFuture[struct{}]()}
}

// deliveryLoop ranges over a subscription channel, invoking the registered
// callback for every delivery and handling auto-ack/RPC-reply per
// spec.md §4.3.
func deliveryLoop(ctx context.Context, q *Queue, deliveries <-chan amqp.Delivery, reg *consumerRegistration) {
	for d := range deliveries {
		msg := newMessage(d)
		reply, err := reg.invoke(msg)
		if err != nil {
			q.log.WithField("error", err.Error()).Error("consumer callback failed")
		} else if msg.Properties.ReplyTo != "" {
			if sendErr := q.replyTo(ctx, msg.Properties.ReplyTo, msg.Properties.CorrelationID, reply); sendErr != nil {
				q.log.WithField("error", sendErr.Error()).Warn("failed to send RPC reply")
			}
		}

		// Legacy shapes auto-ack unless NoAck was requested; the current
		// shape leaves ack/nack/reject entirely to the callback.
		if reg.shape != shapeCurrent && !reg.opts.NoAck {
			if ackErr := msg.Ack(false); ackErr != nil {
				q.log.WithField("error", ackErr.Error()).Warn("failed to ack delivery")
			}
		}
	}
}

// replyTo publishes a normalized reply to the given queue using the
// default exchange, matching spec.md §4.3's "sent to that reply queue via
// sendToQueue".
func (q *Queue) replyTo(ctx context.Context, replyQueue, correlationID string, content any) error {
	if content == nil {
		return nil
	}
	body, props, err := normalizeContent(content, Properties{CorrelationID: correlationID})
	if err != nil {
		return err
	}
	ch := q.channelSnapshot()
	if ch == nil {
		return ErrNotConnected
	}
	return ch.PublishWithContext(ctx, "", replyQueue, false, false, toPublishing(body, props))
}
