package services

import (
	"context"
	"fmt"
	"time"

	"log/slog"

	"github.com/filip-herceg/reviewpoint-realtime/internal/database"
)

const (
	onlineUsersKey     = "online_users"
	onlineStatusTTL    = 5 * time.Minute
	offlineStatusTTL   = 24 * time.Hour
	userStatusKeyShape = "user:%s:status"
)

// PresenceService keeps identity online/offline status in Redis so the rest
// of the platform can query who is currently connected. Implements the hub's
// PresenceTracker interface.
type PresenceService struct {
	client *database.RedisClient
}

func NewPresenceService(client *database.RedisClient) *PresenceService {
	return &PresenceService{client: client}
}

// SetOnline marks an identity online. Called when its first connection is
// admitted.
func (p *PresenceService) SetOnline(ctx context.Context, identity string) error {
	pipe := p.client.GetClient().Pipeline()

	pipe.SAdd(ctx, onlineUsersKey, identity)
	pipe.HSet(ctx, fmt.Sprintf(userStatusKeyShape, identity), map[string]interface{}{
		"status":     "online",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf(userStatusKeyShape, identity), onlineStatusTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to set identity online", "userID", identity, "error", err)
		return err
	}

	slog.Debug("Identity set to online", "userID", identity)
	return nil
}

// SetOffline marks an identity offline. Called when its last connection
// departs.
func (p *PresenceService) SetOffline(ctx context.Context, identity string) error {
	pipe := p.client.GetClient().Pipeline()

	pipe.SRem(ctx, onlineUsersKey, identity)
	pipe.HSet(ctx, fmt.Sprintf(userStatusKeyShape, identity), map[string]interface{}{
		"status":     "offline",
		"last_seen":  time.Now().Unix(),
		"updated_at": time.Now().Unix(),
	})
	pipe.Expire(ctx, fmt.Sprintf(userStatusKeyShape, identity), offlineStatusTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Error("Failed to set identity offline", "userID", identity, "error", err)
		return err
	}

	slog.Debug("Identity set to offline", "userID", identity)
	return nil
}

// IsOnline reports whether an identity currently has at least one connection
func (p *PresenceService) IsOnline(ctx context.Context, identity string) (bool, error) {
	return p.client.GetClient().SIsMember(ctx, onlineUsersKey, identity).Result()
}

// OnlineUsers returns the identities currently marked online
func (p *PresenceService) OnlineUsers(ctx context.Context) ([]string, error) {
	return p.client.GetClient().SMembers(ctx, onlineUsersKey).Result()
}
