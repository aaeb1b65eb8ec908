package relaymq

import "github.com/pkg/errors"

// Sentinel errors returned by package operations. Callers should match
// them with errors.Is, since internal wrapping (via github.com/pkg/errors)
// adds call-site context.
var (
	// ErrShutdown marks an operation on a shut-down Connection, Exchange,
	// Queue or Binding. No operation in this package returns it: calls made
	// after Close are not rejected with this error.
	ErrShutdown = errors.New("relaymq: shut down")

	// ErrNotConnected is returned when an operation needs a broker link or
	// an entity channel that is not open at that moment: before the first
	// connect, while a rebuild has dropped the link, or after the entity
	// was deleted or closed.
	ErrNotConnected = errors.New("relaymq: not connected to broker")

	// ErrRetriesExhausted is the error the Connection's Initialized() future
	// settles with when the reconnect strategy's retry budget is spent; the
	// last dial error is wrapped alongside it.
	ErrRetriesExhausted = errors.New("relaymq: reconnect retries exhausted")

	// ErrConsumerAlreadyDefined is returned by StartConsumer/ActivateConsumer
	// when the queue or exchange already has an active or starting consumer.
	ErrConsumerAlreadyDefined = errors.New("relaymq: consumer already defined")

	// ErrNoConsumerDefined is returned by StopConsumer when no consumer is
	// currently registered.
	ErrNoConsumerDefined = errors.New("relaymq: no consumer defined")

	// ErrInvalidTopology is returned by DeclareTopology when a binding
	// references neither an exchange nor a queue destination.
	ErrInvalidTopology = errors.New("relaymq: binding must target an exchange or a queue")
)
