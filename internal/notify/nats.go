package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// DefaultSubject is used when no NATS subject is configured.
const DefaultSubject = "tracktrip.notifications"

// Publisher is the subset of *nats.Conn used by NATS.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATS publishes messages on a subject for a downstream push gateway.
type NATS struct {
	pub     Publisher
	subject string
}

// NewNATS wraps an existing publisher.
func NewNATS(pub Publisher, subject string) *NATS {
	if subject == "" {
		subject = DefaultSubject
	}
	return &NATS{pub: pub, subject: subject}
}

// ConnectNATS dials url and returns a dispatcher plus the connection to close.
func ConnectNATS(url, subject string) (*NATS, *nats.Conn, error) {
	conn, err := nats.Connect(url, nats.Name("tracktrip-notify"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATS(conn, subject), conn, nil
}

type natsEnvelope struct {
	To    string `json:"to"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Send publishes the message. Delivery past the broker is not confirmed.
func (n *NATS) Send(ctx context.Context, target string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(natsEnvelope{To: target, Title: msg.Title, Body: msg.Body})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := n.pub.Publish(n.subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	return nil
}
