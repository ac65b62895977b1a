// Package notify pushes session status changes to interested subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/kycflow/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// Notifier is told about every committed session transition.
type Notifier interface {
	Publish(ctx context.Context, s *models.Session) error
}

// Event is the payload published for a transition.
type Event struct {
	SessionID string        `json:"sessionId"`
	UserID    string        `json:"userId"`
	Status    models.Status `json:"status"`
	Version   int64         `json:"version"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Noop discards everything.
type Noop struct{}

func (Noop) Publish(context.Context, *models.Session) error { return nil }

// publisher is the part of *redis.Client the notifier uses.
type publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// RedisNotifier publishes each event on a per-session and a per-user channel.
type RedisNotifier struct {
	client publisher
	prefix string
}

func NewRedisNotifier(client *redis.Client, prefix string) *RedisNotifier {
	return &RedisNotifier{client: client, prefix: prefix}
}

// SessionChannel is the channel carrying events of one session.
func (n *RedisNotifier) SessionChannel(sessionID string) string {
	return fmt.Sprintf("%s:session:%s", n.prefix, sessionID)
}

// UserChannel is the channel carrying events of all sessions of a user.
func (n *RedisNotifier) UserChannel(userID string) string {
	return fmt.Sprintf("%s:user:%s", n.prefix, userID)
}

func (n *RedisNotifier) Publish(ctx context.Context, s *models.Session) error {
	payload, err := json.Marshal(Event{
		SessionID: s.ID,
		UserID:    s.UserID,
		Status:    s.Status,
		Version:   s.Version,
		UpdatedAt: s.UpdatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	for _, ch := range []string{n.SessionChannel(s.ID), n.UserChannel(s.UserID)} {
		if err := n.client.Publish(ctx, ch, payload).Err(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", ch, err)
		}
	}
	return nil
}
