package session

import (
	"errors"
	"testing"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func snapshotWithDeposited(n uint64) Snapshot {
	return Snapshot{Pool: lottery.PoolAccount{TotalDeposited: n}, PoolInitialized: true}
}

func TestMachine_ConnectAndFirstRefresh(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	require.Equal(t, PhaseDisconnected, m.State().Phase)
	_, ok := m.BeginRefresh()
	require.False(t, ok)

	owner := solana.PublicKey{1}
	m.Connect(owner)
	require.Equal(t, PhaseConnected, m.State().Phase)
	require.Equal(t, owner, m.State().Owner)

	ticket, ok := m.BeginRefresh()
	require.True(t, ok)
	require.EqualValues(t, 1, ticket.Generation)
	require.Equal(t, PhaseConnected, m.State().Phase)

	require.True(t, m.Complete(ticket, snapshotWithDeposited(10), nil))
	state := m.State()
	require.Equal(t, PhaseFresh, state.Phase)
	require.NotNil(t, state.Snapshot)
	require.EqualValues(t, 1, state.Snapshot.Generation)
	require.EqualValues(t, 10, state.Snapshot.Pool.TotalDeposited)
}

func TestMachine_StaleWhileRefreshing(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	first, _ := m.BeginRefresh()
	m.Complete(first, snapshotWithDeposited(1), nil)

	_, _ = m.BeginRefresh()
	state := m.State()
	require.Equal(t, PhaseStale, state.Phase)
	require.NotNil(t, state.Snapshot)
	require.EqualValues(t, 1, state.Snapshot.Pool.TotalDeposited)
}

func TestMachine_OlderGenerationDiscarded(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	var tickets []Ticket
	for range 6 {
		ticket, ok := m.BeginRefresh()
		require.True(t, ok)
		tickets = append(tickets, ticket)
	}
	gen5, gen6 := tickets[4], tickets[5]
	require.EqualValues(t, 5, gen5.Generation)
	require.EqualValues(t, 6, gen6.Generation)

	require.True(t, m.Complete(gen6, snapshotWithDeposited(600), nil))
	require.False(t, m.Complete(gen5, snapshotWithDeposited(500), nil))

	state := m.State()
	require.Equal(t, PhaseFresh, state.Phase)
	require.EqualValues(t, 600, state.Snapshot.Pool.TotalDeposited)
	require.EqualValues(t, 6, state.Snapshot.Generation)

	require.False(t, m.Complete(gen5, Snapshot{}, errors.New("late failure")))
	require.NoError(t, m.State().Err)
}

func TestMachine_NewerWinsRegardlessOfCompletionOrder(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	gen1, _ := m.BeginRefresh()
	gen2, _ := m.BeginRefresh()

	require.True(t, m.Complete(gen1, snapshotWithDeposited(1), nil))
	require.True(t, m.Complete(gen2, snapshotWithDeposited(2), nil))
	require.EqualValues(t, 2, m.State().Snapshot.Pool.TotalDeposited)
}

func TestMachine_FailedRefreshKeepsSnapshot(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	first, _ := m.BeginRefresh()
	m.Complete(first, snapshotWithDeposited(7), nil)

	second, _ := m.BeginRefresh()
	readErr := lottery.ErrReadUnavailable
	require.True(t, m.Complete(second, Snapshot{}, readErr))

	state := m.State()
	require.Equal(t, PhaseFresh, state.Phase)
	require.ErrorIs(t, state.Err, lottery.ErrReadUnavailable)
	require.EqualValues(t, 7, state.Snapshot.Pool.TotalDeposited)

	third, _ := m.BeginRefresh()
	require.True(t, m.Complete(third, snapshotWithDeposited(8), nil))
	require.NoError(t, m.State().Err)
}

func TestMachine_StaleUntilNewestGenerationLands(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	first, _ := m.BeginRefresh()
	require.True(t, m.Complete(first, snapshotWithDeposited(1), nil))

	gen2, _ := m.BeginRefresh()
	gen3, _ := m.BeginRefresh()

	require.True(t, m.Complete(gen2, Snapshot{}, lottery.ErrReadUnavailable))
	state := m.State()
	require.Equal(t, PhaseStale, state.Phase)
	require.ErrorIs(t, state.Err, lottery.ErrReadUnavailable)
	require.EqualValues(t, 1, state.Snapshot.Pool.TotalDeposited)

	require.True(t, m.Complete(gen3, snapshotWithDeposited(3), nil))
	state = m.State()
	require.Equal(t, PhaseFresh, state.Phase)
	require.NoError(t, state.Err)
	require.EqualValues(t, 3, state.Snapshot.Generation)
}

func TestMachine_OlderSuccessStaysStaleWhileNewerInFlight(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	gen1, _ := m.BeginRefresh()
	gen2, _ := m.BeginRefresh()

	require.True(t, m.Complete(gen1, snapshotWithDeposited(1), nil))
	require.Equal(t, PhaseStale, m.State().Phase)

	require.True(t, m.Complete(gen2, Snapshot{}, lottery.ErrReadUnavailable))
	state := m.State()
	require.Equal(t, PhaseFresh, state.Phase)
	require.ErrorIs(t, state.Err, lottery.ErrReadUnavailable)
}

func TestMachine_FailureWithoutSnapshotIsError(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	ticket, _ := m.BeginRefresh()
	require.True(t, m.Complete(ticket, Snapshot{}, lottery.ErrReadUnavailable))

	state := m.State()
	require.Equal(t, PhaseError, state.Phase)
	require.Nil(t, state.Snapshot)

	retryTicket, _ := m.BeginRefresh()
	require.Equal(t, PhaseError, m.State().Phase)
	require.True(t, m.Complete(retryTicket, snapshotWithDeposited(1), nil))
	require.Equal(t, PhaseFresh, m.State().Phase)
}

func TestMachine_DisconnectInvalidatesInFlight(t *testing.T) {
	t.Parallel()

	m := NewMachine()
	m.Connect(solana.PublicKey{1})
	inFlight, _ := m.BeginRefresh()

	m.Disconnect()
	require.False(t, m.Complete(inFlight, snapshotWithDeposited(1), nil))
	require.Equal(t, PhaseDisconnected, m.State().Phase)

	m.Connect(solana.PublicKey{2})
	require.False(t, m.Complete(inFlight, snapshotWithDeposited(1), nil))
	state := m.State()
	require.Equal(t, PhaseConnected, state.Phase)
	require.Nil(t, state.Snapshot)
	require.Equal(t, solana.PublicKey{2}, state.Owner)
}

func TestPhase_String(t *testing.T) {
	t.Parallel()

	text, err := PhaseStale.MarshalText()
	require.NoError(t, err)
	require.Equal(t, "stale", string(text))
	require.Equal(t, "unknown", Phase(42).String())
}
