package relaymq

import "time"

// Topology lets a caller describe an entire set of exchanges, queues and
// bindings up front and hand it to Connection.DeclareTopology in one call,
// rather than declaring each entity individually. It can be stored and
// shared as JSON or YAML, mirroring go.bryk.io/pkg/amqp's Topology.
type Topology struct {
	Exchanges []ExchangeConfig `json:"exchanges,omitempty" yaml:"exchanges,omitempty"`
	Queues    []QueueConfig    `json:"queues,omitempty" yaml:"queues,omitempty"`
	Bindings  []BindingConfig  `json:"bindings,omitempty" yaml:"bindings,omitempty"`
}

// ExchangeConfig declares one exchange, matching spec.md §3's Exchange
// options field (durable, internal, autoDelete, alternateExchange,
// arguments) plus the required name/type pair.
type ExchangeConfig struct {
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"` // direct | fanout | topic | headers
	Options ExchangeOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// ExchangeOptions adjusts exchange declaration behavior.
type ExchangeOptions struct {
	Durable bool `json:"durable" yaml:"durable"`
	Internal bool `json:"internal" yaml:"internal"`
	AutoDelete bool `json:"autoDelete" yaml:"autoDelete"`
	// AlternateExchange receives messages this exchange could not route.
	AlternateExchange string `json:"alternateExchange,omitempty" yaml:"alternateExchange,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// asArguments folds AlternateExchange into the raw arguments table the
// broker expects, the same way QueueOptions.asArguments below folds its
// dedicated fields into x-* arguments.
func (o ExchangeOptions) asArguments() map[string]any {
	args := make(map[string]any, len(o.Arguments)+1)
	for k, v := range o.Arguments {
		args[k] = v
	}
	if o.AlternateExchange != "" {
		args["alternate-exchange"] = o.AlternateExchange
	}
	return args
}

// QueueConfig declares one queue.
type QueueConfig struct {
	Name    string `json:"name" yaml:"name"`
	Options QueueOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// QueueOptions adjusts queue declaration behavior, matching spec.md §3's
// Queue options field (exclusive, durable, autoDelete, messageTtl, expires,
// deadLetterExchange, maxLength, arguments).
type QueueOptions struct {
	Exclusive  bool           `json:"exclusive" yaml:"exclusive"`
	Durable    bool           `json:"durable" yaml:"durable"`
	AutoDelete bool           `json:"autoDelete" yaml:"autoDelete"`
	MessageTTL *time.Duration `json:"messageTtl,omitempty" yaml:"messageTtl,omitempty"`
	Expires    *time.Duration `json:"expires,omitempty" yaml:"expires,omitempty"`
	DeadLetterExchange string `json:"deadLetterExchange,omitempty" yaml:"deadLetterExchange,omitempty"`
	MaxLength  int            `json:"maxLength,omitempty" yaml:"maxLength,omitempty"`
	Arguments  map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}

// asArguments folds the dedicated x-* fields into the arguments table
// passed to QueueDeclare, the same convention go.bryk.io/pkg/amqp's
// QueueOptions.AsArguments follows.
func (o QueueOptions) asArguments() map[string]any {
	args := make(map[string]any, len(o.Arguments)+4)
	for k, v := range o.Arguments {
		args[k] = v
	}
	if o.MessageTTL != nil {
		args["x-message-ttl"] = o.MessageTTL.Milliseconds()
	}
	if o.Expires != nil {
		args["x-expires"] = o.Expires.Milliseconds()
	}
	if o.DeadLetterExchange != "" {
		args["x-dead-letter-exchange"] = o.DeadLetterExchange
	}
	if o.MaxLength > 0 {
		args["x-max-length"] = o.MaxLength
	}
	return args
}

// BindingConfig declares one binding as part of a Topology. Exactly one of
// Exchange or Queue should be set as the destination; Exchange set means
// an exchange-to-exchange binding, matching spec.md §4.1's
// declareTopology rule ("the destination is an Exchange if binding.exchange
// is set, else a Queue named by binding.queue").
type BindingConfig struct {
	Source  string         `json:"source" yaml:"source"`
	Exchange string        `json:"exchange,omitempty" yaml:"exchange,omitempty"`
	Queue   string         `json:"queue,omitempty" yaml:"queue,omitempty"`
	Pattern string         `json:"pattern,omitempty" yaml:"pattern,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty" yaml:"arguments,omitempty"`
}
