// Package nats connects workers and the controller to NATS. Workers mirror
// their live events onto core NATS subjects and may keep their session record
// in a JetStream key-value bucket.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/CodeHive/internal/domain/event"
	"github.com/Strob0t/CodeHive/internal/port/broadcast"
)

// DefaultSubjectPrefix is the subject prefix events are published under.
const DefaultSubjectPrefix = "hive.events"

// Conn is a NATS connection with JetStream enabled.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect dials url. name identifies the client in server monitoring.
func Connect(_ context.Context, url, name string) (*Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	slog.Info("nats connected", "url", url, "name", name)
	return &Conn{nc: nc, js: js}, nil
}

// KeyValue returns the named bucket, creating it if needed.
func (c *Conn) KeyValue(ctx context.Context, bucket string) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      bucket,
		Description: "claude-hive worker sessions",
		History:     1,
	})
	if err != nil {
		return nil, fmt.Errorf("nats kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// EventSink returns a sink publishing workerName's events to
// "<prefix>.<workerName>".
func (c *Conn) EventSink(prefix, workerName string) *EventSink {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &EventSink{nc: c.nc, subject: prefix + "." + SubjectToken(workerName)}
}

// SubscribeEvents delivers events published on subject (wildcards allowed)
// to handler. The returned function unsubscribes.
func (c *Conn) SubscribeEvents(subject string, handler func(subject string, ev event.Event)) (func(), error) {
	sub, err := c.nc.Subscribe(subject, func(msg *nats.Msg) {
		var ev event.Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Debug("dropping malformed event", "subject", msg.Subject, "error", err)
			return
		}
		handler(msg.Subject, ev)
	})
	if err != nil {
		return nil, fmt.Errorf("nats subscribe %s: %w", subject, err)
	}
	return func() { _ = sub.Unsubscribe() }, nil
}

// IsConnected reports whether the connection is currently up.
func (c *Conn) IsConnected() bool {
	return c.nc.IsConnected()
}

// Close drains pending publishes and closes the connection.
func (c *Conn) Close() error {
	return c.nc.Drain()
}

// EventSink mirrors broadcast events onto a NATS subject.
type EventSink struct {
	nc      *nats.Conn
	subject string
}

var _ broadcast.Sink = (*EventSink)(nil)

// Subject returns the subject events are published on.
func (s *EventSink) Subject() string { return s.subject }

// Forward publishes ev. Core NATS publishes are buffered by the client, so
// this does not wait on the network.
func (s *EventSink) Forward(ev event.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("event marshal failed", "error", err)
		return
	}
	if err := s.nc.Publish(s.subject, data); err != nil {
		slog.Debug("event publish failed", "subject", s.subject, "error", err)
	}
}

// SubjectToken makes name safe for use as a single subject token.
func SubjectToken(name string) string {
	if name == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, name)
}
