package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Publisher is the broker side of notification delivery.
type Publisher interface {
	PublishJSON(ctx context.Context, subject, msgID string, payload interface{}) error
}

// Notification is the message handed to the delivery service.
type Notification struct {
	ID        string                 `json:"id"`
	UserID    uint                   `json:"user_id"`
	Message   string                 `json:"message"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Service hands client notifications to the delivery pipeline. Delivery itself
// (email, push) happens elsewhere.
type Service struct {
	publisher Publisher
	logger    *logrus.Entry
}

// NewService creates a notification service. With a nil publisher
// notifications are only logged.
func NewService(publisher Publisher, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{publisher: publisher, logger: logger.WithField("component", "notification")}
}

// Subject returns the broker subject for a user's notifications.
func Subject(userID uint) string {
	return fmt.Sprintf("notifications.user.%d", userID)
}

func (s *Service) Notify(ctx context.Context, userID uint, message string, metadata map[string]interface{}) error {
	n := Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		Message:   message,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	if s.publisher == nil {
		s.logger.WithFields(logrus.Fields{"user_id": userID, "notification_id": n.ID}).Info(message)
		return nil
	}
	if err := s.publisher.PublishJSON(ctx, Subject(userID), n.ID, n); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}
	return nil
}
