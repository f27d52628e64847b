package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eubbbruno/instauto-chat/internal/models"
)

// presenceTTL keeps abandoned snapshots from lingering forever; the
// staleness window does the actual offline inference.
const presenceTTL = 24 * time.Hour

// RedisClient wraps the shared Redis connection: presence snapshot
// storage and the pub/sub side of the change-event channel.
type RedisClient struct {
	client *redis.Client
}

// NewRedisClient creates a new Redis client
func NewRedisClient(addr, password string, db int) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisClient{client: client}, nil
}

// Close closes the Redis connection
func (r *RedisClient) Close() error {
	return r.client.Close()
}

// GetClient returns the underlying Redis client
func (r *RedisClient) GetClient() *redis.Client {
	return r.client
}

// Presence snapshots

func presenceKey(userID uuid.UUID) string {
	return fmt.Sprintf("presence:user:%s", userID.String())
}

// UpsertPresence stores a user's snapshot. Last write wins.
func (r *RedisClient) UpsertPresence(ctx context.Context, p *models.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, presenceKey(p.UserID), data, presenceTTL).Err()
}

// GetPresence loads a user's snapshot; nil when none is stored.
func (r *RedisClient) GetPresence(ctx context.Context, userID uuid.UUID) (*models.Presence, error) {
	data, err := r.client.Get(ctx, presenceKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var p models.Presence
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Pub/Sub: the external change-event channel. At-least-once, no
// backlog replay; the bus adapter compensates on reconnect.

// PublishMessage publishes a message-inserted event.
func (r *RedisClient) PublishMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, models.TopicMessages, data).Err()
}

// PublishConversation publishes a conversation-changed event.
func (r *RedisClient) PublishConversation(ctx context.Context, conv *models.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, models.TopicConversations, data).Err()
}

// PublishPresence publishes a presence-changed event.
func (r *RedisClient) PublishPresence(ctx context.Context, p *models.Presence) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, models.TopicPresence, data).Err()
}
