package notification

import (
	"context"
	"errors"
	"strings"

	log "github.com/sirupsen/logrus"

	"finsync/internal/domain/connection"
	"finsync/internal/shared/messages"
)

// ErrNoTopic is returned when alerts are sent without a destination topic.
var ErrNoTopic = errors.New("alert topic is not configured")

// Service sends operator alerts about connections
type Service struct {
	messenger Messenger
	topic     string
	texts     *messages.Messages
}

// NewService creates a new notification service. A nil messenger turns every
// alert into a log line.
func NewService(messenger Messenger, topic string, texts *messages.Messages) *Service {
	if texts == nil {
		texts = messages.Default()
	}
	return &Service{messenger: messenger, topic: topic, texts: texts}
}

// AlertConnectionRejected tells operators that the provider refused a
// connection's credential and the connection now needs attention.
func (s *Service) AlertConnectionRejected(ctx context.Context, conn *connection.Connection, cause error) error {
	title, body := s.texts.ConnectionRejected.Render(conn.ID, conn.InstitutionName)

	data := map[string]string{
		"type":         "connection_rejected",
		"connectionId": conn.ID,
		"userId":       conn.UserID,
	}
	if cause != nil {
		data["reason"] = cause.Error()
	}

	if s.messenger == nil {
		log.WithFields(log.Fields{"connection_id": conn.ID}).Warnf("%s: %s", title, body)
		return nil
	}
	if strings.TrimSpace(s.topic) == "" {
		return ErrNoTopic
	}

	return s.messenger.SendToTopic(ctx, s.topic, title, body, data)
}
