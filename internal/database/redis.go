package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"polycast/pkg/interfaces"
	"polycast/pkg/types"
)

// RedisStore keeps one JSON document per room. Keys expire after the record
// TTL so abandoned rooms disappear even if no sweep ever deletes them.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

var _ interfaces.RoomStore = (*RedisStore)(nil)

// NewRedisStore parses redisURL, connects and pings.
func NewRedisStore(ctx context.Context, redisURL string, ttl time.Duration, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisStoreFromClient(client, ttl, logger), nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "redis_store").Logger(),
	}
}

func roomKey(roomCode string) string {
	return fmt.Sprintf("room:%s", roomCode)
}

// SaveRoom writes the full record and refreshes its TTL.
func (s *RedisStore) SaveRoom(ctx context.Context, record *types.RoomRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}

	stored := *record
	if stored.Transcript == nil {
		stored.Transcript = []types.TranscriptEntry{}
	}
	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal room: %w", err)
	}

	if err := s.client.Set(ctx, roomKey(record.RoomCode), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save room: %w", err)
	}
	return nil
}

// GetRoom loads a record; a missing key is interfaces.ErrRoomNotFound.
func (s *RedisStore) GetRoom(ctx context.Context, roomCode string) (*types.RoomRecord, error) {
	data, err := s.client.Get(ctx, roomKey(roomCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, interfaces.ErrRoomNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get room: %w", err)
	}

	var record types.RoomRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal room: %w", err)
	}
	return &record, nil
}

// RoomExists reports whether the key is present.
func (s *RedisStore) RoomExists(ctx context.Context, roomCode string) (bool, error) {
	n, err := s.client.Exists(ctx, roomKey(roomCode)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check room: %w", err)
	}
	return n > 0, nil
}

// UpdateTranscript rewrites the transcript inside an optimistic transaction
// so a concurrent SaveRoom is never half-overwritten.
func (s *RedisStore) UpdateTranscript(ctx context.Context, roomCode string, transcript []types.TranscriptEntry) error {
	if len(transcript) > types.TranscriptLimit {
		return types.ErrTranscriptTooLong
	}

	key := roomKey(roomCode)
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return interfaces.ErrRoomNotFound
		}
		if err != nil {
			return err
		}

		var record types.RoomRecord
		if err := json.Unmarshal(data, &record); err != nil {
			return fmt.Errorf("failed to unmarshal room: %w", err)
		}
		record.Transcript = append([]types.TranscriptEntry{}, transcript...)

		updated, err := json.Marshal(&record)
		if err != nil {
			return fmt.Errorf("failed to marshal room: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, s.ttl)
			return nil
		})
		return err
	}

	// A handful of retries is plenty: only one host writes a room's transcript.
	for attempt := 0; attempt < 3; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			s.logger.Debug().Str("room_code", roomCode).Int("attempt", attempt+1).Msg("transcript update raced, retrying")
			continue
		}
		if err != nil && !errors.Is(err, interfaces.ErrRoomNotFound) {
			return fmt.Errorf("failed to update transcript: %w", err)
		}
		return err
	}
	return fmt.Errorf("failed to update transcript: %w", redis.TxFailedErr)
}

// DeleteRoom removes the key. Deleting a missing key is not an error.
func (s *RedisStore) DeleteRoom(ctx context.Context, roomCode string) error {
	if err := s.client.Del(ctx, roomKey(roomCode)).Err(); err != nil {
		return fmt.Errorf("failed to delete room: %w", err)
	}
	return nil
}

// HealthCheck pings the server.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
