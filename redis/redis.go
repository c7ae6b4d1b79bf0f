// Package redis caches the most recent messages of each conversation,
// serving the polling read path without a round trip to PostgreSQL.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toolshare/toolshare/api"
)

// Redis provides caching in Redis.
type Redis struct {
	cli *redis.Client
}

// Connect connects to the Redis server and pings the server to ensure the
// connection is working.
func Connect(ctx context.Context, addr string) (*Redis, error) {
	cli := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if err := cli.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{
		cli: cli,
	}, nil
}

const (
	messagePrefix = "messages"

	// maxPerConversation bounds how many recent messages each conversation
	// keeps cached; the oldest are evicted.
	maxPerConversation = 50
)

func conversationKey(conversationID string) string {
	return fmt.Sprintf("%s:%s", messagePrefix, conversationID)
}

// ListMessages returns the cached messages of a conversation sorted by
// creation time ascending.
func (r *Redis) ListMessages(ctx context.Context, conversationID string) ([]api.Message, error) {
	setKey := conversationKey(conversationID)
	keys, err := r.cli.ZRangeByScore(ctx, setKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", time.Now().UnixNano()),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("zrange: %w", err)
	}

	out := make([]api.Message, 0, len(keys))
	for _, key := range keys {
		var msg message
		if err := r.cli.HGetAll(ctx, key).Scan(&msg); err != nil {
			return nil, fmt.Errorf("hgetall: %w", err)
		}
		if msg.ID == "" {
			// Hash expired or was evicted between the ZRANGE and here.
			continue
		}
		out = append(out, msg.APIMessage())
	}
	return out, nil
}

// InsertMessage adds the message hash under messages:CONVERSATION_ID:MESSAGE_ID
// and indexes the key in the conversation's sorted set.
func (r *Redis) InsertMessage(ctx context.Context, msg api.Message) error {
	m := &message{
		ID:             msg.ID,
		ConversationID: msg.ConversationID,
		SenderID:       msg.SenderID,
		Text:           msg.Text,
		CreatedAt:      msg.CreatedAt,
	}
	if msg.Sender != nil {
		m.SenderName = msg.Sender.Name
	}

	setKey := conversationKey(msg.ConversationID)
	err := r.cli.Watch(ctx, func(tx *redis.Tx) error {
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			key := fmt.Sprintf("%s:%s", setKey, m.ID)
			pipe.HSet(ctx, key, m)
			pipe.ZAdd(ctx, setKey, redis.Z{
				Score:  float64(msg.CreatedAt.UnixNano()),
				Member: key,
			})
			return nil
		})
		return err
	}, m.ID)
	if err != nil {
		return fmt.Errorf("redis insert message: %w", err)
	}

	if err := r.evictOldest(ctx, setKey); err != nil {
		return fmt.Errorf("evict oldest: %w", err)
	}
	return nil
}

// RemoveMessage drops a single message from the conversation's cache.
func (r *Redis) RemoveMessage(ctx context.Context, conversationID, messageID string) error {
	setKey := conversationKey(conversationID)
	key := fmt.Sprintf("%s:%s", setKey, messageID)
	if err := r.cli.ZRem(ctx, setKey, key).Err(); err != nil {
		return fmt.Errorf("zrem: %w", err)
	}
	if err := r.cli.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

// RemoveConversation drops a conversation's entire cached message set.
func (r *Redis) RemoveConversation(ctx context.Context, conversationID string) error {
	setKey := conversationKey(conversationID)
	keys, err := r.cli.ZRange(ctx, setKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	for _, key := range keys {
		_ = r.cli.Del(ctx, key).Err()
	}
	if err := r.cli.Del(ctx, setKey).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (r *Redis) evictOldest(ctx context.Context, setKey string) error {
	keys, err := r.cli.ZRange(ctx, setKey, 0, int64(-maxPerConversation-1)).Result()
	if err != nil {
		return fmt.Errorf("zrange: %w", err)
	}
	for _, key := range keys {
		_ = r.cli.ZRem(ctx, setKey, key).Err()
		_ = r.cli.Del(ctx, key).Err()
	}
	return nil
}
