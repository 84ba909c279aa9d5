package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/skye-cyber/DistriChat/internal/models"
)

const (
	// Hot message cache lifetime. The durable copy lives in the DataStore.
	messageTTL = 24 * time.Hour

	eventChannelPrefix = "districhat:room:"
)

// RedisStore handles the hot room message cache and the cross-node
// event channel.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a new Redis store.
func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// roomMessagesKey returns the key for a room's message sorted set.
func roomMessagesKey(roomID string) string {
	return fmt.Sprintf("room:%s:messages", roomID)
}

// eventChannel returns the pub/sub channel for a room.
func eventChannel(roomID string) string {
	return eventChannelPrefix + roomID
}

// CacheMessage stores a message in the room's hot cache, scored by its
// creation time so history reads stay ordered.
func (s *RedisStore) CacheMessage(ctx context.Context, msg *models.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	key := roomMessagesKey(msg.RoomID)

	err = s.client.ZAdd(ctx, key, redis.Z{
		Score:  float64(msg.CreatedAt),
		Member: string(data),
	}).Err()
	if err != nil {
		return err
	}

	s.client.Expire(ctx, key, messageTTL)
	return nil
}

// GetRoomMessages retrieves cached messages from a room, newest first.
func (s *RedisStore) GetRoomMessages(ctx context.Context, roomID string, limit int, before int64) ([]models.Message, error) {
	key := roomMessagesKey(roomID)

	var maxScore string
	if before > 0 {
		maxScore = fmt.Sprintf("(%d", before) // exclusive
	} else {
		maxScore = "+inf"
	}

	results, err := s.client.ZRevRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   maxScore,
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	messages := make([]models.Message, 0, len(results))
	for _, data := range results {
		var msg models.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			continue
		}
		if msg.Deleted {
			continue
		}
		messages = append(messages, msg)
	}

	return messages, nil
}

// DropRoomCache removes a room's hot cache entirely.
func (s *RedisStore) DropRoomCache(ctx context.Context, roomID string) error {
	return s.client.Del(ctx, roomMessagesKey(roomID)).Err()
}

// Publish sends an event to every process subscribed to the room's channel.
func (s *RedisStore) Publish(ctx context.Context, ev models.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, eventChannel(ev.RoomID), data).Err()
}

// Subscribe returns a channel of events published for any room. The channel
// closes when ctx is cancelled. Malformed payloads are dropped.
func (s *RedisStore) Subscribe(ctx context.Context) (<-chan models.Event, error) {
	sub := s.client.PSubscribe(ctx, eventChannelPrefix+"*")

	// Force the subscription to be established before returning.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, err
	}

	out := make(chan models.Event, 256)
	go func() {
		defer close(out)
		defer sub.Close()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					log.Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
