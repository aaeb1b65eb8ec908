package relaymq

import (
	"context"
	"crypto/tls"
	"net"

	amqp "github.com/rabbitmq/amqp091-go"
)

// dialConfig carries the opaque "socketOptions" spec.md §3 describes as
// transport configuration external to this package's concern, plus the
// dialer whose timeout applies to opening the TCP connection (passed as a
// custom net.Dial, the same pattern dihedron-rabbit's New() uses).
type dialConfig struct {
	tlsConfig  *tls.Config
	dialer     *net.Dialer
	properties amqp.Table
}

// realConn adapts *amqp091.Connection to the brokerConn interface; the only
// difference from the driver type is Channel()'s return type.
type realConn struct {
	conn *amqp091Connection
}

type amqp091Connection = amqp.Connection

func (r *realConn) Channel() (brokerChannel, error) {
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func (r *realConn) Close() error { return r.conn.Close() }

func (r *realConn) IsClosed() bool { return r.conn.IsClosed() }

func (r *realConn) NotifyClose(c chan *amqp.Error) chan *amqp.Error {
	return r.conn.NotifyClose(c)
}

// dialReal is the production dialFunc: it opens a real TCP/TLS connection
// to the broker using amqp091-go. The configured dial timeout and ctx bound
// only the TCP connect; no deadline is set on the connection for the TLS or
// AMQP handshake.
func dialReal(ctx context.Context, url string, cfg dialConfig) (brokerConn, error) {
	dialer := cfg.dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	amqpCfg := amqp.Config{
		Properties: cfg.properties,
		Dial: func(network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
	}
	if cfg.tlsConfig != nil {
		amqpCfg.TLSClientConfig = cfg.tlsConfig
	}
	conn, err := amqp.DialConfig(url, amqpCfg)
	if err != nil {
		return nil, err
	}
	return &realConn{conn: conn}, nil
}
