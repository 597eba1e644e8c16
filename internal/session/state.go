package session

import (
	"time"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
)

type Phase int

const (
	PhaseDisconnected Phase = iota
	// PhaseConnected: a wallet is attached but nothing has been read yet.
	PhaseConnected
	PhaseFresh
	// PhaseStale: the held snapshot is being refreshed.
	PhaseStale
	// PhaseError: the last refresh failed and there is no snapshot to fall back on.
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnected:
		return "connected"
	case PhaseFresh:
		return "fresh"
	case PhaseStale:
		return "stale"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Snapshot is one consistent read of everything a session displays.
type Snapshot struct {
	Owner           solana.PublicKey           `json:"owner"`
	Pool            lottery.PoolAccount        `json:"pool"`
	PoolInitialized bool                       `json:"pool_initialized"`
	Deposit         lottery.UserDepositAccount `json:"deposit"`
	WalletBalance   uint64                     `json:"wallet_balance"`
	VaultBalance    uint64                     `json:"vault_balance"`
	Generation      uint64                     `json:"generation"`
	ReadAt          time.Time                  `json:"read_at"`
}

type State struct {
	Phase    Phase            `json:"phase"`
	Owner    solana.PublicKey `json:"owner"`
	Snapshot *Snapshot        `json:"snapshot,omitempty"`
	Err      error            `json:"-"`
	// Generation is the newest refresh started in this connection.
	Generation uint64 `json:"generation"`
}

// Ticket identifies one refresh. It is only honored by the connection that
// issued it.
type Ticket struct {
	epoch      uint64
	Generation uint64
	Owner      solana.PublicKey
}

// Machine is the session state machine. It is not safe for concurrent use;
// Monitor serializes access.
type Machine struct {
	phase      Phase
	owner      solana.PublicKey
	epoch      uint64
	started    uint64
	applied    uint64
	snapshot   *Snapshot
	lastErr    error
	lastErrGen uint64
}

func NewMachine() *Machine {
	return &Machine{phase: PhaseDisconnected}
}

// Connect attaches owner and forgets everything read for the previous owner.
func (m *Machine) Connect(owner solana.PublicKey) {
	m.epoch++
	m.phase = PhaseConnected
	m.owner = owner
	m.started = 0
	m.applied = 0
	m.snapshot = nil
	m.lastErr = nil
	m.lastErrGen = 0
}

// Disconnect invalidates every refresh still in flight.
func (m *Machine) Disconnect() {
	m.epoch++
	m.phase = PhaseDisconnected
	m.owner = solana.PublicKey{}
	m.snapshot = nil
	m.lastErr = nil
}

// BeginRefresh issues the next generation. It reports false when there is no
// connection to refresh.
func (m *Machine) BeginRefresh() (Ticket, bool) {
	if m.phase == PhaseDisconnected {
		return Ticket{}, false
	}
	m.started++
	if m.snapshot != nil {
		m.phase = PhaseStale
	}
	return Ticket{epoch: m.epoch, Generation: m.started, Owner: m.owner}, true
}

// Complete applies a refresh result. A result is kept only when it belongs to
// the current connection and is newer than the held snapshot; it reports
// whether the state changed.
func (m *Machine) Complete(t Ticket, snap Snapshot, err error) bool {
	if t.epoch != m.epoch || m.phase == PhaseDisconnected {
		return false
	}
	if t.Generation <= m.applied {
		return false
	}

	if err != nil {
		if t.Generation < m.lastErrGen {
			return false
		}
		m.lastErr = err
		m.lastErrGen = t.Generation
		if m.snapshot != nil {
			m.phase = m.settledPhase(t)
		} else {
			m.phase = PhaseError
		}
		return true
	}

	snap.Generation = t.Generation
	m.snapshot = &snap
	m.applied = t.Generation
	if t.Generation >= m.lastErrGen {
		m.lastErr = nil
	}
	m.phase = m.settledPhase(t)
	return true
}

// settledPhase is the phase after t completes over a held snapshot. A newer
// generation that has started but not landed keeps the snapshot stale.
func (m *Machine) settledPhase(t Ticket) Phase {
	if m.started > t.Generation {
		return PhaseStale
	}
	return PhaseFresh
}

func (m *Machine) State() State {
	out := State{
		Phase:      m.phase,
		Owner:      m.owner,
		Err:        m.lastErr,
		Generation: m.started,
	}
	if m.snapshot != nil {
		snap := *m.snapshot
		out.Snapshot = &snap
	}
	return out
}
