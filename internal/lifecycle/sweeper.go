package lifecycle

import (
	"context"
	"time"

	"github.com/Akins20/video-meet/internal/models"
	"github.com/samber/lo"
)

// settleAfter is how long a meeting and its sessions must stay untouched
// before its counter is compared with the open sessions. Joins and leaves in
// flight stay below it.
const settleAfter = time.Minute

// SweepStale repairs participant counters left behind by failed releases, then
// closes sessions that stopped reporting. Failures are logged and retried on
// the next sweep.
func (m *Manager) SweepStale(ctx context.Context) int {
	m.reconcileCounters(ctx)

	stale, err := m.sessions.FindStale(ctx, m.opts.StaleAfter)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to list stale sessions")
		return 0
	}

	swept := 0
	for _, p := range stale {
		closed, err := m.Leave(ctx, p.ID, models.EndReasonStale)
		if err != nil {
			m.log.Warn().Err(err).Str("participant_id", p.ID).Msg("failed to close stale session")
			continue
		}
		m.notifier.ParticipantLeft(closed)
		swept++
	}
	if swept > 0 {
		m.log.Info().Int("count", swept).Msg("closed stale sessions")
	}
	return swept
}

// reconcileCounters sets the counter of every settled live meeting to the
// number of its open sessions.
func (m *Manager) reconcileCounters(ctx context.Context) int {
	live, err := m.meetings.Live(ctx)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to list live meetings")
		return 0
	}

	now := m.sessions.Now()
	fixed := 0
	for _, mtg := range live {
		if now.Sub(mtg.UpdatedAt) < settleAfter {
			continue
		}
		ps, err := m.sessions.List(ctx, mtg.ID, false)
		if err != nil {
			m.log.Warn().Err(err).Str("meeting_id", mtg.ID).Msg("failed to list sessions for reconcile")
			continue
		}
		unsettled := lo.ContainsBy(ps, func(p *models.Participant) bool {
			return !p.Active() && now.Sub(*p.LeftAt) < settleAfter
		})
		active := lo.CountBy(ps, func(p *models.Participant) bool { return p.Active() })
		if unsettled || active == mtg.CurrentParticipants {
			continue
		}

		updated, changed, err := m.meetings.Reconcile(ctx, mtg.ID, active, mtg.UpdatedAt)
		if err != nil {
			m.log.Warn().Err(err).Str("meeting_id", mtg.ID).Msg("failed to reconcile participant counter")
			continue
		}
		if !changed {
			continue
		}
		fixed++
		m.log.Warn().Str("meeting_id", mtg.ID).Int("from", mtg.CurrentParticipants).Int("to", active).
			Msg("participant counter reconciled")
		if updated.Status == models.MeetingStatusEnded {
			m.notifier.MeetingEnded(updated.ID)
		}
	}
	return fixed
}

// PurgeExpired deletes closed sessions older than the retention window.
func (m *Manager) PurgeExpired(ctx context.Context) int {
	n, err := m.sessions.PurgeClosed(ctx, m.opts.SessionRetention)
	if err != nil {
		m.log.Error().Err(err).Msg("failed to purge closed sessions")
	}
	if n > 0 {
		m.log.Info().Int("count", n).Msg("purged closed sessions")
	}
	return n
}

// RunSweeper sweeps and purges every interval until ctx is done.
func (m *Manager) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info().Dur("interval", interval).Dur("stale_after", m.opts.StaleAfter).Msg("session sweeper started")
	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("session sweeper stopped")
			return
		case <-ticker.C:
			m.SweepStale(ctx)
			m.PurgeExpired(ctx)
		}
	}
}
