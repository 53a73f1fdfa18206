// Package store persists meetings and participant sessions in Redis.
//
// Every read-modify-write goes through update, which wraps the mutation in
// WATCH/MULTI/EXEC and retries when another writer got there first, so
// counters and state transitions never interleave.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const maxTxRetries = 64

var (
	ErrNotFound = errors.New("store: not found")
	ErrConflict = errors.New("store: too much contention")
	// ErrUnchanged may be returned by a mutation to skip the write.
	ErrUnchanged = errors.New("store: unchanged")
)

type Options struct {
	// MeetingRetention is how long ended or cancelled meetings stay readable.
	MeetingRetention time.Duration
}

type Store struct {
	rdb  *redis.Client
	log  zerolog.Logger
	opts Options
}

func New(rdb *redis.Client, log zerolog.Logger, opts Options) *Store {
	return &Store{
		rdb:  rdb,
		log:  log.With().Str("module", "store").Logger(),
		opts: opts,
	}
}

func meetingKey(id string) string             { return "meeting:" + id }
func roomKey(roomID string) string            { return "room:" + roomID }
func meetingParticipantsKey(id string) string { return "meeting:" + id + ":participants" }
func meetingActiveKey(id string) string       { return "meeting:" + id + ":active" }
func participantKey(id string) string         { return "participant:" + id }
func sessionKey(sessionID string) string      { return "session:" + sessionID }
func joinLockKey(meetingID, userID string) string {
	return "lock:join:" + meetingID + ":" + userID
}

const (
	activeParticipantsKey = "participants:active"
	liveMeetingsKey       = "meetings:live"
	closedParticipantsKey = "participants:closed"
)

// update loads the JSON value at key, applies mutate and writes the result
// back atomically. mutate can run more than once when the key changes under
// it and must not leak state between attempts.
func update[T any](
	ctx context.Context,
	rdb *redis.Client,
	key string,
	mutate func(v *T) error,
	write func(pipe redis.Pipeliner, v *T) error,
) (*T, error) {
	var out *T
	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		v := new(T)
		if err := json.Unmarshal(data, v); err != nil {
			return fmt.Errorf("decode %s: %w", key, err)
		}
		if err := mutate(v); err != nil {
			if errors.Is(err, ErrUnchanged) {
				out = v
				return nil
			}
			return err
		}
		if _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return write(pipe, v)
		}); err != nil {
			return err
		}
		out = v
		return nil
	}

	for i := 0; i < maxTxRetries; i++ {
		err := rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return out, nil
	}
	return nil, ErrConflict
}

func get[T any](ctx context.Context, rdb *redis.Client, key string) (*T, error) {
	data, err := rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	v := new(T)
	if err := json.Unmarshal(data, v); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return v, nil
}

// AcquireJoinLock serialises joins of one user into one meeting. ok is false when someone
// else holds it. The returned release is safe to call once the lock expired.
func (s *Store) AcquireJoinLock(ctx context.Context, meetingID, userID string, ttl time.Duration) (release func(), ok bool, err error) {
	key := joinLockKey(meetingID, userID)
	ok, err = s.rdb.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire join lock: %w", err)
	}
	if !ok {
		return func() {}, false, nil
	}
	return func() {
		// detached so a cancelled request still frees the lock
		if err := s.rdb.Del(context.Background(), key).Err(); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to release join lock")
		}
	}, true, nil
}
