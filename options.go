package relaymq

import (
	"crypto/tls"
	"net"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/relaymq/relaymq/internal/xlog"
)

// ReconnectStrategy controls how Connection retries a failed dial or
// rebuild, matching spec.md §3 exactly: Retries == 0 means "retry
// forever", otherwise the Connection gives up after that many retries
// past the initial attempt.
type ReconnectStrategy struct {
	Retries  int
	Interval time.Duration
}

// DefaultReconnectStrategy retries forever, waiting one second between
// attempts; this is almost always too aggressive for production use and
// exists mainly to give New() a sane zero-value behavior.
var DefaultReconnectStrategy = ReconnectStrategy{Retries: 0, Interval: time.Second}

// Option configures a Connection at construction time.
type Option func(*Connection)

// WithLogger installs a structured logger; the default is a discard logger.
func WithLogger(l xlog.Logger) Option {
	return func(c *Connection) { c.log = l }
}

// WithName sets the identifier prefix used to name anonymous consumer
// queues and log lines. If unset, log lines carry no connection name and
// anonymous queues fall back to APPLICATIONNAME, then to "relaymq"; no
// random name is generated.
func WithName(name string) Option {
	return func(c *Connection) { c.name = name }
}

// WithTLS enables AMQPS using the provided TLS configuration.
func WithTLS(cfg *tls.Config) Option {
	return func(c *Connection) { c.dialCfg.tlsConfig = cfg }
}

// WithDialTimeout bounds how long opening the TCP connection to the broker
// may take. It does not bound the TLS or AMQP handshake that follows.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Connection) {
		c.dialCfg.dialer = &net.Dialer{Timeout: d}
	}
}

// WithConnectionProperties attaches client properties (e.g. product name,
// version) advertised to the broker during the AMQP handshake.
func WithConnectionProperties(props amqp.Table) Option {
	return func(c *Connection) { c.dialCfg.properties = props }
}

// WithPrefetch sets the QoS prefetch applied to every entity channel this
// Connection opens.
func WithPrefetch(count, size int) Option {
	return func(c *Connection) {
		c.prefetchCount = count
		c.prefetchSize = size
	}
}
