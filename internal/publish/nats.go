package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

type NATS struct {
	conn    *nats.Conn
	subject string
}

// NewNATS connects to url and publishes every reading on subject.
func NewNATS(url, name, subject string) (*NATS, error) {
	conn, err := nats.Connect(url,
		nats.Name(name),
		nats.ReconnectWait(time.Second),
		nats.MaxReconnects(-1),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("nats: connect %s: %w", url, err)
	}
	return &NATS{conn: conn, subject: subject}, nil
}

func (n *NATS) Publish(ctx context.Context, key string, payload []byte) error {
	msg := nats.NewMsg(n.subject)
	msg.Header.Set("Rig", key)
	msg.Data = payload
	return n.conn.PublishMsg(msg)
}

// Close flushes pending readings before closing the connection.
func (n *NATS) Close() error {
	return n.conn.Drain()
}
