package nats

import (
	"github.com/nats-io/nats.go"
)

// Conn is the part of a NATS connection the feed uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, handler func(subject string, data []byte)) (unsubscribe func() error, err error)
	Drain() error
}

type natsConn struct {
	nc *nats.Conn
}

// Wrap adapts a NATS connection.
func Wrap(nc *nats.Conn) Conn {
	return &natsConn{nc: nc}
}

// natsConnect is a variable to allow mocking in tests.
var natsConnect = func(url string, opts ...nats.Option) (Conn, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return Wrap(nc), nil
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Subscribe(subject string, handler func(string, []byte)) (func() error, error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return nil, err
	}
	return sub.Unsubscribe, nil
}

func (c *natsConn) Drain() error {
	return c.nc.Drain()
}
