package event

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

const (
	OrganizationDeactivatedTopic = "organization.deactivated"
	UserSessionsRevokedTopic     = "user.sessions_revoked"
)

// EventPublisher fans tenant lifecycle events out to in-process consumers,
// currently the websocket hub.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
}

type OrganizationDeactivated struct {
	OrganizationID string    `json:"organization_id"`
	DeactivatedAt  time.Time `json:"deactivated_at"`
}

type UserSessionsRevoked struct {
	OrganizationID string `json:"organization_id"`
	UserID         string `json:"user_id"`
	Reason         string `json:"reason"`
}

// Emit marshals payload and publishes it. Failures are logged and dropped;
// the database change that produced the event has already committed.
func Emit(ctx context.Context, publisher EventPublisher, log *zap.Logger, topic string, payload any) {
	if publisher == nil {
		return
	}

	data, err := json.Marshal(payload)
	if err != nil {
		log.Warn("failed to marshal event payload", zap.String("topic", topic), zap.Error(err))
		return
	}

	if err := publisher.Publish(ctx, topic, data); err != nil {
		log.Warn("failed to publish event", zap.String("topic", topic), zap.Error(err))
	}
}
