package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type PoolSnapshot struct {
	ID                  int64  `json:"id"`
	PoolAddress         string `json:"pool_address"`
	Initialized         bool   `json:"initialized"`
	TotalDeposited      uint64 `json:"total_deposited"`
	TotalDepositors     uint32 `json:"total_depositors"`
	LastRewardTimestamp int64  `json:"last_reward_timestamp"`
	RewardPoolBalance   uint64 `json:"reward_pool_balance"`
	VaultBalance        uint64 `json:"vault_balance"`
	Admin               string `json:"admin"`
	Generation          uint64 `json:"generation"`
	RecordedAt          int64  `json:"recorded_at"`
}

type SnapshotFilter struct {
	PoolAddress string
	Since       *int64
	Limit       int
	Offset      int
}

// SavePoolSnapshot appends snap and drops snapshots of the same pool older than
// retention, in one transaction. A zero retention keeps everything.
func (s *Store) SavePoolSnapshot(ctx context.Context, snap PoolSnapshot, retention time.Duration) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO pool_snapshots (
				pool_address,
				initialized,
				total_deposited,
				total_depositors,
				last_reward_timestamp,
				reward_pool_balance,
				vault_balance,
				admin,
				generation,
				recorded_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			snap.PoolAddress,
			boolToInt(snap.Initialized),
			strconv.FormatUint(snap.TotalDeposited, 10),
			int64(snap.TotalDepositors),
			snap.LastRewardTimestamp,
			strconv.FormatUint(snap.RewardPoolBalance, 10),
			strconv.FormatUint(snap.VaultBalance, 10),
			snap.Admin,
			int64(snap.Generation),
			snap.RecordedAt,
		); err != nil {
			return fmt.Errorf("insert pool snapshot: %w", err)
		}

		if retention <= 0 {
			return nil
		}
		cutoff := time.Unix(snap.RecordedAt, 0).Add(-retention).Unix()
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM pool_snapshots
			WHERE pool_address = ? AND recorded_at < ?
		`, snap.PoolAddress, cutoff); err != nil {
			return fmt.Errorf("prune pool snapshots: %w", err)
		}
		return nil
	})
}

func (s *Store) ListPoolSnapshots(ctx context.Context, filter SnapshotFilter) ([]PoolSnapshot, int, int, error) {
	limit, offset := normalizePagination(filter.Limit, filter.Offset)
	clauses := []string{"1 = 1"}
	args := make([]any, 0, 4)

	if filter.PoolAddress != "" {
		clauses = append(clauses, "pool_address = ?")
		args = append(args, filter.PoolAddress)
	}
	if filter.Since != nil {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, *filter.Since)
	}

	query := fmt.Sprintf(`
		SELECT
			id,
			pool_address,
			initialized,
			total_deposited,
			total_depositors,
			last_reward_timestamp,
			reward_pool_balance,
			vault_balance,
			admin,
			generation,
			recorded_at
		FROM pool_snapshots
		WHERE %s
		ORDER BY recorded_at DESC, id DESC
		LIMIT ? OFFSET ?
	`, strings.Join(clauses, " AND "))
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, 0, err
	}
	defer rows.Close()

	items := make([]PoolSnapshot, 0, limit)
	for rows.Next() {
		var (
			item                              PoolSnapshot
			initialized                       int
			totalDeposited, rewardPool, vault string
			depositors, generation            int64
		)
		if err := rows.Scan(
			&item.ID,
			&item.PoolAddress,
			&initialized,
			&totalDeposited,
			&depositors,
			&item.LastRewardTimestamp,
			&rewardPool,
			&vault,
			&item.Admin,
			&generation,
			&item.RecordedAt,
		); err != nil {
			return nil, 0, 0, err
		}
		item.Initialized = initialized != 0
		item.TotalDepositors = uint32(depositors)
		item.Generation = uint64(generation)
		if item.TotalDeposited, err = parseLamports(totalDeposited); err != nil {
			return nil, 0, 0, err
		}
		if item.RewardPoolBalance, err = parseLamports(rewardPool); err != nil {
			return nil, 0, 0, err
		}
		if item.VaultBalance, err = parseLamports(vault); err != nil {
			return nil, 0, 0, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, 0, err
	}

	return items, limit, offset, nil
}

func parseLamports(raw string) (uint64, error) {
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse stored lamports %q: %w", raw, err)
	}
	return v, nil
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
