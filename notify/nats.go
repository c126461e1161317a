package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to the channel name: messages for the
// email channel go to "spendauth.notify.email".
const DefaultSubjectPrefix = "spendauth.notify"

// NATS publishes messages to JetStream, one publish per channel. Mail and
// in-app delivery workers consume those subjects.
type NATS struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	prefix string
}

// NewNATS connects to url and binds a JetStream context.
func NewNATS(url, subjectPrefix string, opts ...nats.Option) (*NATS, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	if subjectPrefix == "" {
		subjectPrefix = DefaultSubjectPrefix
	}
	return &NATS{conn: nc, js: js, prefix: subjectPrefix}, nil
}

// Subject returns the subject messages for ch are published on.
func (n *NATS) Subject(ch Channel) string {
	return n.prefix + "." + string(ch)
}

// Notify implements [Notifier].
func (n *NATS) Notify(ctx context.Context, m Message) error {
	if n == nil {
		return errors.New("nil notifier")
	}

	data, err := json.Marshal(m)
	if err != nil {
		return err
	}

	var errs []error
	for _, ch := range m.Channels {
		if _, err := n.js.Publish(n.Subject(ch), data, nats.Context(ctx)); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Ping reports whether the connection is usable.
func (n *NATS) Ping() error {
	if n == nil || !n.conn.IsConnected() {
		return nats.ErrConnectionClosed
	}
	return nil
}

// Close drains the connection.
func (n *NATS) Close() {
	if n == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		n.conn.Close()
	}
}
