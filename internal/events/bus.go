package events

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

type Publisher interface {
	Publish(ctx context.Context, evt DomainEvent) error
}

// Notifier is the fire-and-forget client notification collaborator.
type Notifier interface {
	Notify(ctx context.Context, userID uint, message string, metadata map[string]interface{}) error
}

// Bus publishes every event and forwards client-facing ones to the notifier.
type Bus struct {
	publisher Publisher
	notifier  Notifier
	logger    *logrus.Entry
}

// NewBus builds a Bus. publisher and notifier are optional.
func NewBus(publisher Publisher, notifier Notifier, logger *logrus.Entry) *Bus {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		publisher: publisher,
		notifier:  notifier,
		logger:    logger.WithField("component", "events.bus"),
	}
}

func (b *Bus) Dispatch(ctx context.Context, evts ...DomainEvent) {
	for _, evt := range evts {
		log := b.logger.WithFields(logrus.Fields{
			"event_id":   evt.ID,
			"event_type": evt.Type,
			"payment_id": evt.PaymentID,
			"refund_id":  evt.RefundID,
		})

		if b.publisher != nil {
			if err := b.publisher.Publish(ctx, evt); err != nil {
				log.WithError(err).Warn("failed to publish domain event")
			}
		}

		if b.notifier != nil && evt.NotifiesClient() {
			metadata := map[string]interface{}{
				"event_type": string(evt.Type),
				"payment_id": evt.PaymentID,
				"amount":     evt.Amount.StringFixed(2),
			}
			if evt.RefundID != 0 {
				metadata["refund_id"] = evt.RefundID
			}
			if err := b.notifier.Notify(ctx, evt.UserID, evt.Message(), metadata); err != nil {
				log.WithError(err).Warn("client notification failed")
			}
		}

		log.Debug("domain event dispatched")
	}
}

// Recorder keeps dispatched events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []DomainEvent
}

func (r *Recorder) Dispatch(_ context.Context, evts ...DomainEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evts...)
}

// Events returns a copy of everything dispatched so far.
func (r *Recorder) Events() []DomainEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the dispatched event types in order.
func (r *Recorder) Types() []Type {
	var types []Type
	for _, evt := range r.Events() {
		types = append(types, evt.Type)
	}
	return types
}
