// Package events carries collection requests and notifications over NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"ytcollect/metrics"
	"ytcollect/persist"
)

// Subjects.
const (
	SubjectCollect       = "ytcollect.collect"
	SubjectCollectResult = "ytcollect.collect.result"
	SubjectCollected     = "ytcollect.collected"
)

const (
	source  = "ytcollect"
	version = "1.0"
)

// Conn is the part of *nats.Conn the package uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb nats.MsgHandler) (*nats.Subscription, error)
}

// Connect dials url with reconnects enabled and a connection name.
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(source),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return nc, nil
}

// CollectedEvent is published on SubjectCollected after each save.
type CollectedEvent struct {
	persist.Saved
	Source  string `json:"source"`
	Version string `json:"version"`
}

// Publisher publishes CollectedEvents. It satisfies persist.Notifier.
type Publisher struct {
	conn    Conn
	subject string
}

// NewPublisher publishes on SubjectCollected.
func NewPublisher(conn Conn) *Publisher {
	return &Publisher{conn: conn, subject: SubjectCollected}
}

// Notify publishes s.
func (p *Publisher) Notify(ctx context.Context, s persist.Saved) error {
	data, err := json.Marshal(CollectedEvent{Saved: s, Source: source, Version: version})
	if err != nil {
		return err
	}
	return publish(p.conn, p.subject, data)
}

func publish(conn Conn, subject string, data []byte) error {
	if err := conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	metrics.NatsMessagesPublished.WithLabelValues(subjectLabel(subject)).Inc()
	return nil
}

// subjectLabel folds reply inboxes into one label value.
func subjectLabel(subject string) string {
	if strings.HasPrefix(subject, nats.InboxPrefix) {
		return "_INBOX"
	}
	return subject
}
