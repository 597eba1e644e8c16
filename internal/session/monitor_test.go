package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/coldbell/solpool/internal/logging"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("3dGV3HXpcuYTifzFg8dCCMxgDEVhQpHtoCLJXAcK6PAE")

type mockReader struct {
	mu       sync.Mutex
	accounts map[solana.PublicKey][]byte
	balances map[solana.PublicKey]uint64
	failWith error
	reads    int
}

func newMockReader() *mockReader {
	return &mockReader{
		accounts: make(map[solana.PublicKey][]byte),
		balances: make(map[solana.PublicKey]uint64),
	}
}

func (r *mockReader) GetAccountBytes(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	if r.failWith != nil {
		return nil, r.failWith
	}
	data, ok := r.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lottery.ErrAccountNotFound, address)
	}
	return data, nil
}

func (r *mockReader) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failWith != nil {
		return 0, r.failWith
	}
	return r.balances[address], nil
}

func (r *mockReader) setFailure(err error) {
	r.mu.Lock()
	r.failWith = err
	r.mu.Unlock()
}

func newTestMonitor(t *testing.T, reader Reader, clock clockwork.Clock) *Monitor {
	t.Helper()
	m, err := NewMonitor(MonitorConfig{
		Logger:          logging.NewTestLogger(),
		Clock:           clock,
		Reader:          reader,
		ProgramID:       testProgramID,
		RefreshInterval: 30 * time.Second,
		Retry:           retry.Config{MaxAttempts: 1},
	})
	require.NoError(t, err)
	return m
}

func TestMonitor_RefreshReadsEverything(t *testing.T) {
	t.Parallel()

	owner := solana.PublicKey{7}
	pool := lottery.PoolAccount{TotalDeposited: 3_000_000_000, TotalDepositors: 2, Admin: solana.PublicKey{9}}
	deposit := lottery.UserDepositAccount{Owner: owner, Amount: 1_000_000_000, DepositTimestamp: 100}

	reader := newMockReader()
	reader.accounts[lottery.MustDerivePoolAddress(testProgramID)] = pool.Marshal()
	reader.accounts[lottery.MustDeriveUserDepositAddress(testProgramID, owner)] = deposit.Marshal()
	reader.balances[owner] = 5_000_000_000
	vault, err := lottery.DeriveVaultAddress(testProgramID)
	require.NoError(t, err)
	reader.balances[vault.Address] = 42

	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	m := newTestMonitor(t, reader, clock)
	m.Connect(owner)
	require.NoError(t, m.Refresh(context.Background()))

	state := m.State()
	require.Equal(t, PhaseFresh, state.Phase)
	require.NotNil(t, state.Snapshot)
	snap := state.Snapshot
	require.True(t, snap.PoolInitialized)
	require.Equal(t, pool, snap.Pool)
	require.Equal(t, deposit, snap.Deposit)
	require.EqualValues(t, 5_000_000_000, snap.WalletBalance)
	require.EqualValues(t, 42, snap.VaultBalance)
	require.Equal(t, clock.Now(), snap.ReadAt)
}

func TestMonitor_NewUserAndUninitializedPool(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, newMockReader(), clockwork.NewFakeClock())
	m.Connect(solana.PublicKey{3})
	require.NoError(t, m.Refresh(context.Background()))

	snap := m.State().Snapshot
	require.NotNil(t, snap)
	require.False(t, snap.PoolInitialized)
	require.True(t, snap.Deposit.IsEmpty())
	require.Zero(t, snap.Deposit.DepositTimestamp)
}

func TestMonitor_ReadUnavailableKeepsLastSnapshot(t *testing.T) {
	t.Parallel()

	reader := newMockReader()
	reader.accounts[lottery.MustDerivePoolAddress(testProgramID)] = lottery.PoolAccount{TotalDeposited: 11}.Marshal()
	m := newTestMonitor(t, reader, clockwork.NewFakeClock())
	m.Connect(solana.PublicKey{})
	require.NoError(t, m.Refresh(context.Background()))

	reader.setFailure(errors.New("dial tcp: connection refused"))
	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, lottery.ErrReadUnavailable)

	state := m.State()
	require.Equal(t, PhaseFresh, state.Phase)
	require.ErrorIs(t, state.Err, lottery.ErrReadUnavailable)
	require.EqualValues(t, 11, state.Snapshot.Pool.TotalDeposited)
	require.EqualValues(t, 2, state.Generation)
}

func TestMonitor_MalformedPoolIsAnError(t *testing.T) {
	t.Parallel()

	reader := newMockReader()
	reader.accounts[lottery.MustDerivePoolAddress(testProgramID)] = []byte{1, 2, 3}
	m := newTestMonitor(t, reader, clockwork.NewFakeClock())
	m.Connect(solana.PublicKey{})

	err := m.Refresh(context.Background())
	require.ErrorIs(t, err, lottery.ErrMalformedAccount)
	require.Equal(t, PhaseError, m.State().Phase)
}

func TestMonitor_RefreshRequiresConnection(t *testing.T) {
	t.Parallel()

	m := newTestMonitor(t, newMockReader(), clockwork.NewFakeClock())
	require.Error(t, m.Refresh(context.Background()))
}

func TestMonitor_StartRefreshesOnTick(t *testing.T) {
	t.Parallel()

	reader := newMockReader()
	clock := clockwork.NewFakeClock()
	m := newTestMonitor(t, reader, clock)
	m.Connect(solana.PublicKey{})

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m.Start(ctx)

	waitForGeneration := func(gen uint64) {
		t.Helper()
		deadline := time.After(5 * time.Second)
		for {
			select {
			case state := <-updates:
				if state.Phase == PhaseFresh && state.Snapshot != nil && state.Snapshot.Generation >= gen {
					return
				}
			case <-deadline:
				t.Fatalf("generation %d was never applied", gen)
			}
		}
	}

	waitForGeneration(1)

	blockCtx, blockCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer blockCancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	clock.Advance(30 * time.Second)
	waitForGeneration(2)
}

func TestMonitor_CooldownRemaining(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Unix(1_000, 0))
	reader := newMockReader()
	reader.accounts[lottery.MustDerivePoolAddress(testProgramID)] = lottery.PoolAccount{
		TotalDepositors:     1,
		LastRewardTimestamp: 1_000 - 20,
	}.Marshal()
	m := newTestMonitor(t, reader, clock)
	require.Zero(t, m.CooldownRemaining(lottery.SelectionCooldown))

	m.Connect(solana.PublicKey{})
	require.NoError(t, m.Refresh(context.Background()))
	require.Equal(t, 40*time.Second, m.CooldownRemaining(lottery.SelectionCooldown))
}

type gatedReader struct {
	*mockReader
	once    sync.Once
	blocked chan struct{}
	release chan struct{}
}

func (r *gatedReader) GetAccountBytes(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.blocked)
		<-r.release
	}
	return r.mockReader.GetAccountBytes(ctx, address)
}

func TestMonitor_LateOlderResultIsNotPublished(t *testing.T) {
	t.Parallel()

	base := newMockReader()
	base.accounts[lottery.MustDerivePoolAddress(testProgramID)] = lottery.PoolAccount{TotalDeposited: 5}.Marshal()
	reader := &gatedReader{mockReader: base, blocked: make(chan struct{}), release: make(chan struct{})}
	m := newTestMonitor(t, reader, clockwork.NewFakeClock())
	m.Connect(solana.PublicKey{})

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	slow := make(chan error, 1)
	go func() { slow <- m.Refresh(context.Background()) }()
	<-reader.blocked

	require.NoError(t, m.Refresh(context.Background()))
	state := <-updates
	require.Equal(t, PhaseFresh, state.Phase)
	require.EqualValues(t, 2, state.Snapshot.Generation)

	close(reader.release)
	require.NoError(t, <-slow)
	select {
	case extra := <-updates:
		t.Fatalf("unexpected update after discarded refresh: %+v", extra)
	default:
	}
	require.EqualValues(t, 2, m.State().Snapshot.Generation)
}

func TestMonitor_SubscribersSeeGenerationsInOrder(t *testing.T) {
	t.Parallel()

	reader := newMockReader()
	reader.accounts[lottery.MustDerivePoolAddress(testProgramID)] = lottery.PoolAccount{TotalDeposited: 1}.Marshal()
	m := newTestMonitor(t, reader, clockwork.NewFakeClock())
	m.Connect(solana.PublicKey{})

	updates, unsubscribe := m.Subscribe()
	defer unsubscribe()

	var (
		mu   sync.Mutex
		seen []State
	)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case state := <-updates:
				mu.Lock()
				seen = append(seen, state)
				mu.Unlock()
			}
		}
	}()

	const refreshes = 8
	var wg sync.WaitGroup
	for range refreshes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.Refresh(context.Background())
		}()
	}
	wg.Wait()

	final := m.State()
	require.EqualValues(t, refreshes, final.Generation)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		if len(seen) == 0 {
			return false
		}
		last := seen[len(seen)-1]
		return last.Snapshot != nil && final.Snapshot != nil && last.Snapshot.Generation == final.Snapshot.Generation
	}, time.Second, 5*time.Millisecond)
	close(done)

	mu.Lock()
	defer mu.Unlock()
	var gen, snapGen uint64
	for _, state := range seen {
		require.GreaterOrEqual(t, state.Generation, gen)
		gen = state.Generation
		if state.Snapshot != nil {
			require.GreaterOrEqual(t, state.Snapshot.Generation, snapGen)
			snapGen = state.Snapshot.Generation
		}
	}
}
