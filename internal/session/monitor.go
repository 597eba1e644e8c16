package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/metrics"
	"github.com/coldbell/solpool/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

// Reader is what a refresh reads from the cluster.
type Reader interface {
	chain.AccountFetcher
	chain.BalanceReader
}

type MonitorConfig struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Reader          Reader
	ProgramID       solana.PublicKey
	RefreshInterval time.Duration
	Retry           retry.Config
}

func (cfg *MonitorConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Reader == nil {
		return errors.New("reader is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	return nil
}

// Monitor keeps one session's view of the pool, the owner's deposit record and
// balances up to date. Refreshes overlap freely; generation numbers decide
// which result wins.
type Monitor struct {
	log  *slog.Logger
	cfg  MonitorConfig
	pool solana.PublicKey

	vault solana.PublicKey

	mu      sync.Mutex
	machine *Machine
	subs    map[int]chan State
	nextSub int
}

func NewMonitor(cfg MonitorConfig) (*Monitor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := lottery.DerivePoolAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive pool address: %w", err)
	}
	vault, err := lottery.DeriveVaultAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive vault address: %w", err)
	}
	return &Monitor{
		log:     cfg.Logger,
		cfg:     cfg,
		pool:    pool.Address,
		vault:   vault.Address,
		machine: NewMachine(),
		subs:    make(map[int]chan State),
	}, nil
}

// Connect attaches owner. A zero owner watches the pool only.
func (m *Monitor) Connect(owner solana.PublicKey) {
	m.mu.Lock()
	m.machine.Connect(owner)
	state := m.machine.State()
	m.publishLocked(state)
	m.mu.Unlock()
}

func (m *Monitor) Disconnect() {
	m.mu.Lock()
	m.machine.Disconnect()
	state := m.machine.State()
	m.publishLocked(state)
	m.mu.Unlock()
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.State()
}

// Subscribe delivers the latest state after every change. Slow subscribers
// only see the most recent state.
func (m *Monitor) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	return ch, func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// publishLocked hands state to every subscriber. Callers hold mu from the
// state change through delivery, so subscribers see states in the order they
// were applied. Sends never block.
func (m *Monitor) publishLocked(state State) {
	for _, ch := range m.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- state:
		default:
		}
	}
}

// Refresh runs one generation to completion and returns its read error, if
// any. The result may still be discarded when a newer generation already won.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.mu.Lock()
	ticket, ok := m.machine.BeginRefresh()
	if !ok {
		m.mu.Unlock()
		return errors.New("session is disconnected")
	}
	m.publishLocked(m.machine.State())
	m.mu.Unlock()

	start := m.cfg.Clock.Now()
	snap, err := m.read(ctx, ticket.Owner)
	metrics.SessionRefreshDuration.Observe(m.cfg.Clock.Since(start).Seconds())

	m.mu.Lock()
	changed := m.machine.Complete(ticket, snap, err)
	if changed {
		m.publishLocked(m.machine.State())
	}
	m.mu.Unlock()

	switch {
	case !changed:
		metrics.SessionRefreshTotal.WithLabelValues("discarded").Inc()
		m.log.Debug("session: refresh result discarded", "generation", ticket.Generation, "err", err)
		return err
	case err != nil:
		metrics.SessionRefreshTotal.WithLabelValues("error").Inc()
		m.log.Warn("session: refresh failed", "generation", ticket.Generation, "kind", lottery.KindOf(err), "err", err)
	default:
		metrics.SessionRefreshTotal.WithLabelValues("applied").Inc()
		metrics.PoolTotalDeposited.Set(float64(snap.Pool.TotalDeposited))
		metrics.PoolDepositors.Set(float64(snap.Pool.TotalDepositors))
		metrics.PoolRewardBalance.Set(float64(snap.Pool.RewardPoolBalance))
	}
	return err
}

func (m *Monitor) read(ctx context.Context, owner solana.PublicKey) (Snapshot, error) {
	snap := Snapshot{Owner: owner, ReadAt: m.cfg.Clock.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool, err := retry.Value(gctx, m.cfg.Retry, func() (lottery.PoolAccount, error) {
			return chain.ReadPool(gctx, m.cfg.Reader, m.pool)
		})
		if errors.Is(err, lottery.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		snap.Pool = pool
		snap.PoolInitialized = true
		return nil
	})
	g.Go(func() error {
		balance, err := retry.Value(gctx, m.cfg.Retry, func() (uint64, error) {
			return chain.ReadBalance(gctx, m.cfg.Reader, m.vault)
		})
		snap.VaultBalance = balance
		return err
	})
	if !owner.IsZero() {
		g.Go(func() error {
			address, err := lottery.DeriveUserDepositAddress(m.cfg.ProgramID, owner)
			if err != nil {
				return err
			}
			deposit, err := retry.Value(gctx, m.cfg.Retry, func() (lottery.UserDepositAccount, error) {
				return chain.ReadUserDeposit(gctx, m.cfg.Reader, address.Address)
			})
			snap.Deposit = deposit
			return err
		})
		g.Go(func() error {
			balance, err := retry.Value(gctx, m.cfg.Retry, func() (uint64, error) {
				return chain.ReadBalance(gctx, m.cfg.Reader, owner)
			})
			snap.WalletBalance = balance
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

// Start runs the refresh loop until ctx ends: one refresh immediately, then
// one per tick without waiting for the previous refresh to finish.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		m.log.Info("session: starting refresh loop", "interval", m.cfg.RefreshInterval)

		var wg sync.WaitGroup
		defer wg.Wait()
		launch := func() {
			wg.Add(1)
			go func() {
				defer wg.Done()
				m.safeRefresh(ctx)
			}()
		}

		launch()
		ticker := m.cfg.Clock.NewTicker(m.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				launch()
			}
		}
	}()
}

func (m *Monitor) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("session: refresh panicked", "panic", r)
			metrics.SessionRefreshTotal.WithLabelValues("panic").Inc()
		}
	}()
	_ = m.Refresh(ctx)
}

// CooldownRemaining estimates the time until winner selection is accepted
// again, from the held snapshot. Zero when unknown.
func (m *Monitor) CooldownRemaining(window time.Duration) time.Duration {
	state := m.State()
	if state.Snapshot == nil {
		return 0
	}
	return state.Snapshot.Pool.CooldownRemaining(m.cfg.Clock.Now(), window)
}
