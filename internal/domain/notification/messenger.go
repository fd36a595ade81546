package notification

import "context"

// Messenger defines the interface for sending operator push notifications.
// Implemented by the Firebase FCM client in the infrastructure layer.
type Messenger interface {
	SendToTopic(ctx context.Context, topic, title, body string, data map[string]string) error
}
