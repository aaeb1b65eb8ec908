package relaymq

import (
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/pkg/errors"
)

// Properties carries the AMQP transport headers a publish or a received
// delivery is stamped with, matching spec.md §3's Message.properties
// (contentType, replyTo, correlationId, ...).
type Properties struct {
	ContentType     string
	ContentEncoding string
	Headers         map[string]any
	ReplyTo         string
	CorrelationID   string
	MessageID       string
	AppID           string
	Type            string
	UserID          string
	Timestamp       time.Time
	DeliveryMode    uint8
	Priority        uint8
	Expiration      string
	Mandatory       bool
	Immediate       bool
}

// DeliveryFields captures the broker-assigned metadata that only exists on
// received messages, matching spec.md §3's Message.fields.
type DeliveryFields struct {
	Exchange    string
	RoutingKey  string
	ConsumerTag string
	DeliveryTag uint64
	Redelivered bool
	MessageCount uint32
}

// Message represents a received delivery bound to the channel it arrived
// on. Ack/Nack/Reject forward directly to that channel, matching spec.md
// §3's "weak reference to the delivering channel and underlying delivery
// handle" -- in Go this is simply a value copy of the amqp091.Delivery,
// whose Acknowledger field already closes over the channel that produced it.
type Message struct {
	Content    []byte
	Properties Properties
	Fields     DeliveryFields

	delivery amqp.Delivery
}

func newMessage(d amqp.Delivery) *Message {
	return &Message{
		Content: d.Body,
		Properties: Properties{
			ContentType:     d.ContentType,
			ContentEncoding: d.ContentEncoding,
			Headers:         d.Headers,
			ReplyTo:         d.ReplyTo,
			CorrelationID:   d.CorrelationId,
			MessageID:       d.MessageId,
			AppID:           d.AppId,
			Type:            d.Type,
			UserID:          d.UserId,
			Timestamp:       d.Timestamp,
			DeliveryMode:    d.DeliveryMode,
			Priority:        d.Priority,
			Expiration:      d.Expiration,
		},
		Fields: DeliveryFields{
			Exchange:     d.Exchange,
			RoutingKey:   d.RoutingKey,
			ConsumerTag:  d.ConsumerTag,
			DeliveryTag:  d.DeliveryTag,
			Redelivered:  d.Redelivered,
			MessageCount: d.MessageCount,
		},
		delivery: d,
	}
}

// GetContent decodes Content per spec.md §6's decoding rule: a
// "application/json" content type is UTF-8 decoded and JSON-parsed;
// anything else is returned as the UTF-8 string of the raw bytes. The raw
// Content field is always available regardless of this decoding.
func (m *Message) GetContent() (any, error) {
	if m.Properties.ContentType == "application/json" {
		var v any
		if err := json.Unmarshal(m.Content, &v); err != nil {
			return nil, errors.Wrap(err, "failed to decode JSON message content")
		}
		return v, nil
	}
	return string(m.Content), nil
}

// Ack acknowledges the delivery. multiple acknowledges all outstanding
// deliveries up to and including this one.
func (m *Message) Ack(multiple bool) error {
	if m.delivery.Acknowledger == nil {
		return nil
	}
	return m.delivery.Ack(multiple)
}

// Nack negatively acknowledges the delivery, optionally requeuing it.
func (m *Message) Nack(multiple, requeue bool) error {
	if m.delivery.Acknowledger == nil {
		return nil
	}
	return m.delivery.Nack(multiple, requeue)
}

// Reject rejects the delivery, optionally requeuing it.
func (m *Message) Reject(requeue bool) error {
	if m.delivery.Acknowledger == nil {
		return nil
	}
	return m.delivery.Reject(requeue)
}

// normalizeContent implements spec.md §6's content encoding rule, bit for
// bit: string payloads are UTF-8 encoded as-is with the caller's
// contentType; []byte payloads pass through verbatim; anything else is
// JSON-encoded, defaulting ContentType to "application/json" unless the
// caller already set one.
func normalizeContent(content any, props Properties) ([]byte, Properties, error) {
	switch v := content.(type) {
	case string:
		return []byte(v), props, nil
	case []byte:
		return v, props, nil
	default:
		body, err := json.Marshal(content)
		if err != nil {
			return nil, props, errors.Wrap(err, "failed to JSON-encode message content")
		}
		if props.ContentType == "" {
			props.ContentType = "application/json"
		}
		return body, props, nil
	}
}

// toPublishing converts a normalized body and Properties into the driver's
// Publishing type.
func toPublishing(body []byte, props Properties) amqp.Publishing {
	return amqp.Publishing{
		Headers:         toTable(props.Headers),
		ContentType:     props.ContentType,
		ContentEncoding: props.ContentEncoding,
		DeliveryMode:    props.DeliveryMode,
		Priority:        props.Priority,
		CorrelationId:   props.CorrelationID,
		ReplyTo:         props.ReplyTo,
		Expiration:      props.Expiration,
		MessageId:       props.MessageID,
		Timestamp:       props.Timestamp,
		Type:            props.Type,
		UserId:          props.UserID,
		AppId:           props.AppID,
		Body:            body,
	}
}

func toTable(m map[string]any) amqp.Table {
	if m == nil {
		return nil
	}
	t := make(amqp.Table, len(m))
	for k, v := range m {
		t[k] = v
	}
	return t
}
