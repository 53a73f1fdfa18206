package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Akins20/video-meet/internal/models"
	"github.com/redis/go-redis/v9"
)

// ReserveRoomID claims a room identifier for a meeting. It returns false if
// the identifier is already taken.
func (s *Store) ReserveRoomID(ctx context.Context, roomID, meetingID string) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, roomKey(roomID), meetingID, 0).Result()
	if err != nil {
		return false, fmt.Errorf("reserve room id: %w", err)
	}
	return ok, nil
}

func (s *Store) CreateMeeting(ctx context.Context, m *models.Meeting) error {
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode meeting: %w", err)
	}
	ok, err := s.rdb.SetNX(ctx, meetingKey(m.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("store meeting: %w", err)
	}
	if !ok {
		return fmt.Errorf("meeting %s already exists", m.ID)
	}
	if err := s.rdb.SAdd(ctx, liveMeetingsKey, m.ID).Err(); err != nil {
		return fmt.Errorf("index meeting: %w", err)
	}
	return nil
}

func (s *Store) GetMeeting(ctx context.Context, id string) (*models.Meeting, error) {
	return get[models.Meeting](ctx, s.rdb, meetingKey(id))
}

func (s *Store) MeetingIDByRoom(ctx context.Context, roomID string) (string, error) {
	id, err := s.rdb.Get(ctx, roomKey(roomID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// UpdateMeeting applies fn to the stored meeting as one atomic step.
func (s *Store) UpdateMeeting(ctx context.Context, id string, fn func(m *models.Meeting) error) (*models.Meeting, error) {
	return update(ctx, s.rdb, meetingKey(id), fn, func(pipe redis.Pipeliner, m *models.Meeting) error {
		data, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("encode meeting: %w", err)
		}
		pipe.Set(ctx, meetingKey(m.ID), data, 0)
		if !m.Finished() {
			pipe.SAdd(ctx, liveMeetingsKey, m.ID)
			return nil
		}
		pipe.SRem(ctx, liveMeetingsKey, m.ID)
		if s.opts.MeetingRetention > 0 {
			pipe.Expire(ctx, meetingKey(m.ID), s.opts.MeetingRetention)
			pipe.Expire(ctx, roomKey(m.RoomID), s.opts.MeetingRetention)
		}
		return nil
	})
}

// LiveMeetingIDs lists meetings that are neither ended nor cancelled.
func (s *Store) LiveMeetingIDs(ctx context.Context) ([]string, error) {
	ids, err := s.rdb.SMembers(ctx, liveMeetingsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list live meetings: %w", err)
	}
	return ids, nil
}

// ReleaseRoomID frees a reservation whose meeting was never stored.
func (s *Store) ReleaseRoomID(ctx context.Context, roomID string) error {
	return s.rdb.Del(ctx, roomKey(roomID)).Err()
}
