package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/sirupsen/logrus"
)

const (
	StreamLedger        = "LEDGER_EVENTS"
	StreamNotifications = "CLIENT_NOTIFICATIONS"
)

// Connect dials NATS with reconnects enabled for the life of the process.
func Connect(url, name string, logger *logrus.Entry) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.WithField("url", nc.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.WithError(err).Warn("nats disconnected")
			}
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Info("nats connection closed")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}

// JetStreamPublisher publishes JSON messages to JetStream, deduplicated by message id.
type JetStreamPublisher struct {
	js     jetstream.JetStream
	logger *logrus.Entry
}

// NewJetStreamPublisher ensures the ledger and notification streams exist.
// Stream setup failures are logged: publishing still works if the streams
// were created elsewhere.
func NewJetStreamPublisher(ctx context.Context, nc *nats.Conn, logger *logrus.Entry) (*JetStreamPublisher, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}
	p := &JetStreamPublisher{js: js, logger: logger.WithField("component", "events.jetstream")}

	streams := []jetstream.StreamConfig{
		{Name: StreamLedger, Subjects: []string{"ledger.>"}},
		{Name: StreamNotifications, Subjects: []string{"notifications.>"}},
	}
	for _, cfg := range streams {
		cfg.Retention = jetstream.LimitsPolicy
		cfg.MaxAge = 7 * 24 * time.Hour
		cfg.Storage = jetstream.FileStorage
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			p.logger.WithError(err).WithField("stream", cfg.Name).Warn("could not ensure stream")
		}
	}
	return p, nil
}

// Publish sends a domain event on its subject.
func (p *JetStreamPublisher) Publish(ctx context.Context, evt DomainEvent) error {
	return p.PublishJSON(ctx, evt.Subject(), evt.ID, evt)
}

// PublishJSON marshals payload and publishes it with msgID as the dedupe id.
func (p *JetStreamPublisher) PublishJSON(ctx context.Context, subject, msgID string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", subject, err)
	}
	if _, err := p.js.Publish(ctx, subject, data, jetstream.WithMsgID(msgID)); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
