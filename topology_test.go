package relaymq

import (
	"testing"
	"time"

	tdd "github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestQueueOptionsAsArguments(t *testing.T) {
	ttl := 10 * time.Second
	expires := 5 * time.Minute
	opts := QueueOptions{
		MessageTTL:         &ttl,
		Expires:            &expires,
		DeadLetterExchange: "dead",
		MaxLength:          100,
		Arguments:          map[string]any{"x-custom": "v"},
	}
	args := opts.asArguments()
	tdd.Equal(t, int64(10000), args["x-message-ttl"])
	tdd.Equal(t, int64(300000), args["x-expires"])
	tdd.Equal(t, "dead", args["x-dead-letter-exchange"])
	tdd.Equal(t, 100, args["x-max-length"])
	tdd.Equal(t, "v", args["x-custom"])
}

func TestExchangeOptionsAsArguments(t *testing.T) {
	opts := ExchangeOptions{AlternateExchange: "alt"}
	args := opts.asArguments()
	tdd.Equal(t, "alt", args["alternate-exchange"])
}

func TestTopologyYAMLRoundTrip(t *testing.T) {
	raw := `
exchanges:
  - name: e1
    type: direct
    options:
      durable: true
queues:
  - name: q1
    options:
      durable: true
bindings:
  - source: e1
    queue: q1
    pattern: k
`
	var top Topology
	tdd.NoError(t, yaml.Unmarshal([]byte(raw), &top))
	tdd.Len(t, top.Exchanges, 1)
	tdd.Equal(t, "e1", top.Exchanges[0].Name)
	tdd.True(t, top.Exchanges[0].Options.Durable)
	tdd.Len(t, top.Queues, 1)
	tdd.Len(t, top.Bindings, 1)
	tdd.Equal(t, "q1", top.Bindings[0].Queue)
}
