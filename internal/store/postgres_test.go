package store

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestStore_MigrateIsIdempotent(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	require.NoError(t, s.migrate(t.Context()))
	require.NoError(t, s.migrate(t.Context()))
}

func TestStore_PoolSnapshots(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := t.Context()
	const pool, other = "PoolAddress111", "OtherPool222"

	save := func(addr string, recordedAt int64, generation uint64, retention time.Duration) {
		t.Helper()
		require.NoError(t, s.SavePoolSnapshot(ctx, PoolSnapshot{
			PoolAddress:         addr,
			Initialized:         true,
			TotalDeposited:      math.MaxUint64,
			TotalDepositors:     3,
			LastRewardTimestamp: recordedAt - 10,
			RewardPoolBalance:   1_500_000_000,
			VaultBalance:        42,
			Admin:               "Admin333",
			Generation:          generation,
			RecordedAt:          recordedAt,
		}, retention))
	}

	save(pool, 100, 1, 0)
	save(pool, 200, 2, 0)
	save(other, 150, 1, 0)

	items, limit, offset, err := s.ListPoolSnapshots(ctx, SnapshotFilter{PoolAddress: pool})
	require.NoError(t, err)
	require.Equal(t, defaultPageLimit, limit)
	require.Zero(t, offset)
	require.Len(t, items, 2)
	require.EqualValues(t, 200, items[0].RecordedAt)
	require.EqualValues(t, 100, items[1].RecordedAt)

	got := items[0]
	require.NotZero(t, got.ID)
	require.True(t, got.Initialized)
	require.Equal(t, uint64(math.MaxUint64), got.TotalDeposited)
	require.EqualValues(t, 3, got.TotalDepositors)
	require.EqualValues(t, 190, got.LastRewardTimestamp)
	require.EqualValues(t, 1_500_000_000, got.RewardPoolBalance)
	require.EqualValues(t, 42, got.VaultBalance)
	require.Equal(t, "Admin333", got.Admin)
	require.EqualValues(t, 2, got.Generation)

	since := int64(150)
	items, _, _, err = s.ListPoolSnapshots(ctx, SnapshotFilter{PoolAddress: pool, Since: &since})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.EqualValues(t, 200, items[0].RecordedAt)

	items, limit, offset, err = s.ListPoolSnapshots(ctx, SnapshotFilter{PoolAddress: pool, Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 1, limit)
	require.Equal(t, 1, offset)
	require.Len(t, items, 1)
	require.EqualValues(t, 100, items[0].RecordedAt)

	// Retention only prunes the saved pool's history.
	save(pool, 100+3600+50, 3, time.Hour)
	items, _, _, err = s.ListPoolSnapshots(ctx, SnapshotFilter{PoolAddress: pool})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.EqualValues(t, 3, items[0].Generation)
	require.EqualValues(t, 2, items[1].Generation)

	items, _, _, err = s.ListPoolSnapshots(ctx, SnapshotFilter{PoolAddress: other})
	require.NoError(t, err)
	require.Len(t, items, 1)

	items, _, _, err = s.ListPoolSnapshots(ctx, SnapshotFilter{})
	require.NoError(t, err)
	require.Len(t, items, 3)
}

func TestStore_Submissions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := t.Context()

	first := Submission{
		Signature: "sig-1",
		Operation: "deposit",
		Wallet:    "wallet-a",
		Outcome:   "pending",
		CreatedAt: 1_000,
		UpdatedAt: 1_000,
	}
	stored, err := s.RecordSubmission(ctx, first)
	require.NoError(t, err)
	require.Equal(t, first, stored)

	duplicate := first
	duplicate.Operation = "withdraw"
	duplicate.CreatedAt = 2_000
	stored, err = s.RecordSubmission(ctx, duplicate)
	require.NoError(t, err)
	require.Equal(t, first, stored)

	require.NoError(t, s.UpdateSubmissionOutcome(ctx, "sig-1", "rejected", "custom program error 6003", 77, 1_005))
	got, err := s.GetSubmission(ctx, "sig-1")
	require.NoError(t, err)
	require.Equal(t, "deposit", got.Operation)
	require.Equal(t, "rejected", got.Outcome)
	require.Equal(t, "custom program error 6003", got.Reason)
	require.EqualValues(t, 77, got.Slot)
	require.EqualValues(t, 1_000, got.CreatedAt)
	require.EqualValues(t, 1_005, got.UpdatedAt)

	require.ErrorIs(t, s.UpdateSubmissionOutcome(ctx, "missing", "confirmed", "", 0, 1), ErrNotFound)
	_, err = s.GetSubmission(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListSubmissions(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, sub := range []Submission{
		{Signature: "b", Operation: "deposit", Wallet: "alice", Outcome: "confirmed", CreatedAt: 10, UpdatedAt: 10},
		{Signature: "a", Operation: "deposit", Wallet: "alice", Outcome: "confirmed", CreatedAt: 10, UpdatedAt: 10},
		{Signature: "c", Operation: "withdraw", Wallet: "alice", Outcome: "pending", CreatedAt: 20, UpdatedAt: 20},
		{Signature: "d", Operation: "claim_reward", Wallet: "bob", Outcome: "confirmed", CreatedAt: 30, UpdatedAt: 30},
	} {
		_, err := s.RecordSubmission(ctx, sub)
		require.NoError(t, err)
	}

	signatures := func(items []Submission) []string {
		out := make([]string, 0, len(items))
		for _, item := range items {
			out = append(out, item.Signature)
		}
		return out
	}

	items, _, _, err := s.ListSubmissions(ctx, SubmissionFilter{})
	require.NoError(t, err)
	require.Equal(t, []string{"d", "c", "a", "b"}, signatures(items))

	items, _, _, err = s.ListSubmissions(ctx, SubmissionFilter{Wallet: "alice"})
	require.NoError(t, err)
	require.Equal(t, []string{"c", "a", "b"}, signatures(items))

	items, _, _, err = s.ListSubmissions(ctx, SubmissionFilter{Wallet: "alice", Outcome: "confirmed"})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, signatures(items))

	items, limit, offset, err := s.ListSubmissions(ctx, SubmissionFilter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, 2, limit)
	require.Equal(t, 1, offset)
	require.Equal(t, []string{"c", "a"}, signatures(items))
}
