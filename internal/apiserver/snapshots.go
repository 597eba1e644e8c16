package apiserver

import (
	"context"

	"github.com/coldbell/solpool/internal/store"
)

func (s *Service) runSnapshotRecorder(ctx context.Context) {
	s.logger.Info("snapshot recorder started",
		"interval", s.cfg.SnapshotInterval,
		"retention", s.cfg.SnapshotRetention,
	)
	ticker := s.clock.NewTicker(s.cfg.SnapshotInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if _, err := s.recordSnapshot(ctx); err != nil {
				s.logger.Error("record pool snapshot failed", "err", err)
			}
		}
	}
}

// recordSnapshot persists the monitor's current snapshot unless that
// generation was already written. It reports whether a row was saved.
func (s *Service) recordSnapshot(ctx context.Context) (bool, error) {
	state := s.monitor.State()
	snap := state.Snapshot
	if snap == nil || snap.Generation <= s.lastSaved {
		return false, nil
	}

	row := store.PoolSnapshot{
		PoolAddress:  s.pool.String(),
		Initialized:  snap.PoolInitialized,
		VaultBalance: snap.VaultBalance,
		Generation:   snap.Generation,
		RecordedAt:   snap.ReadAt.Unix(),
	}
	if snap.PoolInitialized {
		row.TotalDeposited = snap.Pool.TotalDeposited
		row.TotalDepositors = snap.Pool.TotalDepositors
		row.LastRewardTimestamp = snap.Pool.LastRewardTimestamp
		row.RewardPoolBalance = snap.Pool.RewardPoolBalance
		row.Admin = snap.Pool.Admin.String()
	}
	if err := s.store.SavePoolSnapshot(ctx, row, s.cfg.SnapshotRetention); err != nil {
		return false, err
	}
	s.lastSaved = snap.Generation
	return true, nil
}
