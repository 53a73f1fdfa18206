package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Akins20/video-meet/internal/models"
	"github.com/redis/go-redis/v9"
)

// writeParticipant stores the record and keeps the indexes in line with its
// state, so the same write serves creation and every later update.
func (s *Store) writeParticipant(ctx context.Context, pipe redis.Pipeliner, p *models.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode participant: %w", err)
	}
	pipe.Set(ctx, participantKey(p.ID), data, 0)
	pipe.Set(ctx, sessionKey(p.SessionID), p.ID, 0)
	pipe.SAdd(ctx, meetingParticipantsKey(p.MeetingID), p.ID)
	if p.Active() {
		pipe.SAdd(ctx, meetingActiveKey(p.MeetingID), p.ID)
		pipe.SAdd(ctx, activeParticipantsKey, p.ID)
	} else {
		pipe.SRem(ctx, meetingActiveKey(p.MeetingID), p.ID)
		pipe.SRem(ctx, activeParticipantsKey, p.ID)
		pipe.ZAdd(ctx, closedParticipantsKey, redis.Z{Score: float64(p.LeftAt.Unix()), Member: p.ID})
	}
	return nil
}

func (s *Store) CreateParticipant(ctx context.Context, p *models.Participant) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		return s.writeParticipant(ctx, pipe, p)
	})
	if err != nil {
		return fmt.Errorf("store participant: %w", err)
	}
	return nil
}

func (s *Store) GetParticipant(ctx context.Context, id string) (*models.Participant, error) {
	return get[models.Participant](ctx, s.rdb, participantKey(id))
}

func (s *Store) GetParticipantBySession(ctx context.Context, sessionID string) (*models.Participant, error) {
	id, err := s.rdb.Get(ctx, sessionKey(sessionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return s.GetParticipant(ctx, id)
}

// UpdateParticipant applies fn to the stored participant as one atomic step.
func (s *Store) UpdateParticipant(ctx context.Context, id string, fn func(p *models.Participant) error) (*models.Participant, error) {
	return update(ctx, s.rdb, participantKey(id), fn, func(pipe redis.Pipeliner, p *models.Participant) error {
		return s.writeParticipant(ctx, pipe, p)
	})
}

// ListParticipants returns the sessions of a meeting in no particular order.
func (s *Store) ListParticipants(ctx context.Context, meetingID string, activeOnly bool) ([]*models.Participant, error) {
	key := meetingParticipantsKey(meetingID)
	if activeOnly {
		key = meetingActiveKey(meetingID)
	}
	ids, err := s.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	return s.loadParticipants(ctx, ids)
}

// ListActive returns every open session across all meetings.
func (s *Store) ListActive(ctx context.Context) ([]*models.Participant, error) {
	ids, err := s.rdb.SMembers(ctx, activeParticipantsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active participants: %w", err)
	}
	return s.loadParticipants(ctx, ids)
}

func (s *Store) loadParticipants(ctx context.Context, ids []string) ([]*models.Participant, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = participantKey(id)
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load participants: %w", err)
	}

	out := make([]*models.Participant, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			// index entry outlived its record
			s.log.Debug().Str("participant_id", ids[i]).Msg("dangling participant index entry")
			continue
		}
		var p models.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", ids[i], err)
		}
		out = append(out, &p)
	}
	return out, nil
}

// PurgeClosed deletes sessions that closed before the cutoff and returns how
// many were removed.
func (s *Store) PurgeClosed(ctx context.Context, before time.Time) (int, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, closedParticipantsKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(before.Unix(), 10),
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("list closed participants: %w", err)
	}

	purged := 0
	for _, id := range ids {
		p, err := s.GetParticipant(ctx, id)
		if errors.Is(err, ErrNotFound) {
			s.rdb.ZRem(ctx, closedParticipantsKey, id)
			continue
		}
		if err != nil {
			return purged, err
		}
		if p.Active() {
			s.rdb.ZRem(ctx, closedParticipantsKey, id)
			continue
		}
		_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, participantKey(id), sessionKey(p.SessionID))
			pipe.SRem(ctx, meetingParticipantsKey(p.MeetingID), id)
			pipe.ZRem(ctx, closedParticipantsKey, id)
			return nil
		})
		if err != nil {
			return purged, fmt.Errorf("purge participant %s: %w", id, err)
		}
		purged++
	}
	return purged, nil
}
