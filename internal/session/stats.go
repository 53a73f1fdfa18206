package session

import (
	"context"
	"time"

	"github.com/Akins20/video-meet/internal/models"
	"github.com/samber/lo"
)

func (s *Service) MeetingStats(ctx context.Context, m *models.Meeting) (*models.MeetingStats, error) {
	all, err := s.store.ListParticipants(ctx, m.ID, false)
	if err != nil {
		return nil, err
	}
	now := s.now()

	stats := &models.MeetingStats{
		MeetingID:           m.ID,
		RoomID:              m.RoomID,
		Status:              m.Status,
		CurrentParticipants: m.CurrentParticipants,
		MaxParticipants:     m.MaxParticipants,
		TotalSessions:       len(all),
		Duration:            m.Duration,
		EndReasons:          map[models.EndReason]int{},
		DeviceTypes:         map[models.DeviceType]int{},
		QualityTiers:        map[models.QualityTier]int{},
	}
	if m.EndedAt == nil && m.StartedAt != nil {
		stats.Duration = int64(now.Sub(*m.StartedAt) / time.Second)
	}

	users := map[string]struct{}{}
	var total time.Duration
	for _, p := range all {
		if p.Active() {
			stats.ActiveSessions++
			if p.ConnectionQuality.Quality != "" {
				stats.QualityTiers[p.ConnectionQuality.Quality]++
			}
		} else {
			stats.EndReasons[p.EndReason]++
		}
		if p.Identity.Registered() {
			users[p.Identity.UserID] = struct{}{}
		} else {
			stats.GuestSessions++
		}
		stats.DeviceTypes[p.DeviceType]++
		total += p.Elapsed(now)
	}
	stats.UniqueUsers = len(users)
	if len(all) > 0 {
		stats.AverageSessionSeconds = int64(total / time.Duration(len(all)) / time.Second)
	}
	return stats, nil
}

func (s *Service) ParticipantStats(p *models.Participant) models.ParticipantStats {
	return models.ParticipantStats{
		ParticipantID:     p.ID,
		MeetingID:         p.MeetingID,
		DisplayName:       p.Identity.DisplayName,
		Role:              p.Role,
		Active:            p.Active(),
		JoinedAt:          p.JoinedAt,
		LeftAt:            p.LeftAt,
		ElapsedSeconds:    int64(p.Elapsed(s.now()) / time.Second),
		MediaState:        p.MediaState,
		ConnectionQuality: p.ConnectionQuality,
		EndReason:         p.EndReason,
	}
}

// Summaries renders sessions for presence lists.
func Summaries(ps []*models.Participant) []models.PeerSummary {
	return lo.Map(ps, func(p *models.Participant, _ int) models.PeerSummary {
		return models.PeerSummary{
			ParticipantID: p.ID,
			DisplayName:   p.Identity.DisplayName,
			Role:          p.Role,
			MediaState:    p.MediaState,
		}
	})
}
