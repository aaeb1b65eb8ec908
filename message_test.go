package relaymq

import (
	"testing"

	amqp "github.com/rabbitmq/amqp091-go"
	tdd "github.com/stretchr/testify/assert"
)

func TestNormalizeContentString(t *testing.T) {
	body, props, err := normalizeContent("hello", Properties{})
	tdd.NoError(t, err)
	tdd.Equal(t, []byte("hello"), body)
	tdd.Empty(t, props.ContentType)
}

func TestNormalizeContentBytes(t *testing.T) {
	raw := []byte{1, 2, 3}
	body, props, err := normalizeContent(raw, Properties{ContentType: "application/octet-stream"})
	tdd.NoError(t, err)
	tdd.Equal(t, raw, body)
	tdd.Equal(t, "application/octet-stream", props.ContentType)
}

func TestNormalizeContentJSON(t *testing.T) {
	payload := map[string]any{"a": float64(1), "b": []any{float64(2), float64(3)}}
	body, props, err := normalizeContent(payload, Properties{})
	tdd.NoError(t, err)
	tdd.Equal(t, "application/json", props.ContentType)
	tdd.JSONEq(t, `{"a":1,"b":[2,3]}`, string(body))
}

func TestGetContentRoundTripString(t *testing.T) {
	msg := newMessage(amqp.Delivery{Body: []byte("hello")})
	v, err := msg.GetContent()
	tdd.NoError(t, err)
	tdd.Equal(t, "hello", v)
}

func TestGetContentRoundTripJSON(t *testing.T) {
	msg := newMessage(amqp.Delivery{Body: []byte(`{"a":1,"b":[2,3]}`), ContentType: "application/json"})
	v, err := msg.GetContent()
	tdd.NoError(t, err)
	tdd.Equal(t, map[string]any{"a": float64(1), "b": []any{float64(2), float64(3)}}, v)
}

func TestGetContentRoundTripBytes(t *testing.T) {
	raw := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	msg := newMessage(amqp.Delivery{Body: raw, ContentType: "application/octet-stream"})
	tdd.Equal(t, raw, msg.Content)
}

func TestMessageAckWithoutAcknowledgerIsNoop(t *testing.T) {
	msg := newMessage(amqp.Delivery{Body: []byte("x")})
	tdd.NoError(t, msg.Ack(false))
	tdd.NoError(t, msg.Nack(false, true))
	tdd.NoError(t, msg.Reject(true))
}
