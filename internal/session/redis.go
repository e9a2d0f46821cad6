// ABOUTME: Redis-backed session Store shared across gateway replicas
// ABOUTME: Uses SETNX on a persona-key index so concurrent creators cannot both win

package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/persona-gateway/internal/store"
)

const (
	// DefaultRedisTTL is the idle lifetime of a session in Redis.
	DefaultRedisTTL = 24 * time.Hour

	redisKeyPrefix = "persona-gateway:"
)

// RedisStore implements Store on Redis. Sessions are JSON values under
// session:{id}; a second key indexed by a hash of the persona key points to
// the session id. Every write refreshes both TTLs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore creates a Redis-backed session store.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultRedisTTL
	}
	return &RedisStore{
		client: client,
		ttl:    ttl,
	}
}

// CreateSession stores a new session. Returns store.ErrDuplicateSession if the
// persona key or the session id is already taken.
func (s *RedisStore) CreateSession(ctx context.Context, sess *store.Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	idxKey := s.indexKey(sess.UserID, sess.CustomerPersonaID, sess.AdvisorPersonaID)
	ok, err := s.client.SetNX(ctx, idxKey, sess.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claiming session key: %w", err)
	}
	if !ok {
		return store.ErrDuplicateSession
	}

	ok, err = s.client.SetNX(ctx, s.sessionKey(sess.ID), val, s.ttl).Result()
	if err != nil || !ok {
		// Release the index claim so the key is not left pointing at nothing.
		s.client.Del(context.WithoutCancel(ctx), idxKey)
		if err != nil {
			return fmt.Errorf("storing session: %w", err)
		}
		return store.ErrDuplicateSession
	}
	return nil
}

// GetSession retrieves a session by id.
func (s *RedisStore) GetSession(ctx context.Context, id string) (*store.Session, error) {
	val, err := s.client.Get(ctx, s.sessionKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session: %w", err)
	}

	var sess store.Session
	if err := json.Unmarshal([]byte(val), &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

// GetSessionByKey retrieves the session for a user and persona combination.
func (s *RedisStore) GetSessionByKey(ctx context.Context, userID, customerPersonaID, advisorPersonaID string) (*store.Session, error) {
	id, err := s.client.Get(ctx, s.indexKey(userID, customerPersonaID, advisorPersonaID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading session key: %w", err)
	}
	return s.GetSession(ctx, id)
}

// TouchSession updates UpdatedAt and refreshes the TTLs.
func (s *RedisStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	sess, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	sess.UpdatedAt = at

	val, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(id), val, s.ttl)
		pipe.Expire(ctx, s.indexKey(sess.UserID, sess.CustomerPersonaID, sess.AdvisorPersonaID), s.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return nil
}

// Ping checks that Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) sessionKey(id string) string {
	return redisKeyPrefix + "session:" + id
}

// indexKey hashes the persona key so arbitrary ids cannot produce colliding keys.
func (s *RedisStore) indexKey(userID, customerPersonaID, advisorPersonaID string) string {
	sum := sha256.Sum256([]byte(userID + "\x00" + customerPersonaID + "\x00" + advisorPersonaID))
	return redisKeyPrefix + "session-key:" + hex.EncodeToString(sum[:])
}

var _ Store = (*RedisStore)(nil)
