package relaymq

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// directReplyTo is the broker pseudo-queue name spec.md §6 and the AMQP
// "direct reply-to" feature expose: messages sent there are delivered
// directly back to the publisher's own channel without any queue
// declaration, enabling zero-setup RPC.
const directReplyTo = "amq.rabbitmq.reply-to"

// rpcCall implements spec.md §4.2's RPC shape for both Exchange and Queue:
// subscribe a one-shot, auto-ack consumer on the direct reply-to
// pseudo-queue, publish the request with ReplyTo set to it, wait for the
// first delivery (or ctx to end), and cancel the subscription either way.
func rpcCall(
	ctx context.Context,
	ch brokerChannel,
	content any,
	props Properties,
	publish func(ctx context.Context, content any, props Properties) error,
) (*Message, error) {
	if ch == nil {
		return nil, ErrNotConnected
	}

	tag := "relaymq-rpc-" + uuid.NewString()
	deliveries, err := ch.Consume(directReplyTo, tag, true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to subscribe to direct reply-to")
	}
	defer func() { _ = ch.Cancel(tag, false) }()

	if props.CorrelationID == "" {
		props.CorrelationID = uuid.NewString()
	}
	props.ReplyTo = directReplyTo
	if err := publish(ctx, content, props); err != nil {
		return nil, err
	}

	select {
	case d, ok := <-deliveries:
		if !ok {
			return nil, errors.New("RPC reply subscription closed before a reply arrived")
		}
		return newMessage(d), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
