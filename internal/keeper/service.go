package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/metrics"
	"github.com/coldbell/solpool/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

// Reader is what a tick reads: the pool record and the deposit records.
type Reader interface {
	chain.AccountFetcher
	chain.DepositLister
}

// Selector submits winner selection and reports the outcome.
type Selector interface {
	SelectWinner(ctx context.Context, candidates []solana.PublicKey) (client.Receipt, error)
}

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Reader    Reader
	Selector  Selector
	ProgramID solana.PublicKey

	PollInterval          time.Duration
	MinDepositors         uint32
	MinRewardPoolLamports uint64
	SelectionCooldown     time.Duration
	DryRun                bool
	ReadRetry             retry.Config
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Reader == nil {
		return errors.New("reader is required")
	}
	if cfg.Selector == nil {
		return errors.New("selector is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.PollInterval <= 0 {
		return errors.New("poll interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MinDepositors == 0 {
		cfg.MinDepositors = 1
	}
	if cfg.SelectionCooldown <= 0 {
		cfg.SelectionCooldown = lottery.SelectionCooldown
	}
	if cfg.ReadRetry.MaxAttempts <= 0 {
		cfg.ReadRetry = retry.DefaultConfig()
	}
	return nil
}

// Tick actions, also used as metric labels.
const (
	ActionPoolMissing     = "pool_missing"
	ActionTooFewDeposits  = "too_few_depositors"
	ActionCooldown        = "cooldown"
	ActionRewardTooSmall  = "reward_too_small"
	ActionAwaitingUnknown = "awaiting_unknown"
	ActionNoCandidates    = "no_candidates"
	ActionDryRun          = "dry_run"
	ActionConfirmed       = "confirmed"
	ActionRejected        = "rejected"
	ActionUnknown         = "unknown"
	ActionError           = "error"
)

// Service triggers winner selection whenever the pool is eligible.
type Service struct {
	cfg    Config
	pool   solana.PublicKey
	logger *slog.Logger

	// pending is set after a selection with an unknown outcome. No new
	// selection is sent until the pool shows a new reward time or a full
	// cooldown window has passed.
	pending *pendingSelection
}

type pendingSelection struct {
	signature  solana.Signature
	sentAt     time.Time
	lastReward int64
}

func New(cfg Config) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	pool, err := lottery.DerivePoolAddress(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("derive pool address: %w", err)
	}
	return &Service{cfg: cfg, pool: pool.Address, logger: cfg.Logger}, nil
}

func (s *Service) Run(ctx context.Context) error {
	s.logger.Info("keeper started",
		"program", s.cfg.ProgramID,
		"pool", s.pool,
		"poll_interval", s.cfg.PollInterval,
		"dry_run", s.cfg.DryRun,
	)

	s.runTick(ctx)

	ticker := s.cfg.Clock.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("keeper stopped")
			return nil
		case <-ticker.Chan():
			s.runTick(ctx)
		}
	}
}

func (s *Service) runTick(ctx context.Context) {
	action, err := s.Tick(ctx)
	metrics.KeeperTicksTotal.WithLabelValues(action).Inc()
	if err != nil && action == ActionError {
		s.logger.Error("keeper tick failed", "err", err)
	}
}

// Tick runs one eligibility check and, when eligible, one selection. It
// returns the action taken.
func (s *Service) Tick(ctx context.Context) (string, error) {
	pool, err := retry.Value(ctx, s.cfg.ReadRetry, func() (lottery.PoolAccount, error) {
		return chain.ReadPool(ctx, s.cfg.Reader, s.pool)
	})
	if errors.Is(err, lottery.ErrAccountNotFound) {
		s.logger.Warn("pool is not initialized", "pool", s.pool)
		return ActionPoolMissing, nil
	}
	if err != nil {
		return ActionError, err
	}

	now := s.cfg.Clock.Now()
	if s.pending != nil {
		if pool.LastRewardTimestamp == s.pending.lastReward && now.Sub(s.pending.sentAt) < s.cfg.SelectionCooldown {
			s.logger.Info("waiting on selection with unknown outcome", "signature", s.pending.signature)
			return ActionAwaitingUnknown, nil
		}
		s.pending = nil
	}

	if pool.TotalDepositors < s.cfg.MinDepositors {
		s.logger.Debug("not enough depositors", "depositors", pool.TotalDepositors, "min", s.cfg.MinDepositors)
		return ActionTooFewDeposits, nil
	}
	if remaining := pool.CooldownRemaining(now, s.cfg.SelectionCooldown); remaining > 0 {
		s.logger.Debug("selection cooldown active", "remaining", remaining)
		return ActionCooldown, nil
	}
	if pool.RewardPoolBalance < s.cfg.MinRewardPoolLamports {
		s.logger.Debug("reward pool below threshold",
			"reward_pool", pool.RewardPoolBalance,
			"min", s.cfg.MinRewardPoolLamports,
		)
		return ActionRewardTooSmall, nil
	}

	records, err := retry.Value(ctx, s.cfg.ReadRetry, func() ([]chain.DepositRecord, error) {
		return s.cfg.Reader.ListUserDeposits(ctx)
	})
	if err != nil {
		return ActionError, fmt.Errorf("list user deposits: %w", err)
	}
	candidates := client.RankCandidates(records, lottery.MaxSelectionCandidates)
	if len(candidates) == 0 {
		s.logger.Warn("pool reports depositors but no deposit records were found", "depositors", pool.TotalDepositors)
		return ActionNoCandidates, nil
	}

	if s.cfg.DryRun {
		s.logger.Info("dry run: would select winner", "candidates", candidates)
		return ActionDryRun, nil
	}

	receipt, err := s.cfg.Selector.SelectWinner(ctx, candidates)
	switch receipt.Outcome {
	case chain.OutcomeNotSubmitted:
		return ActionError, fmt.Errorf("select winner: %w", err)
	case chain.OutcomeConfirmed:
		s.logger.Info("winner selected",
			"signature", receipt.Signature,
			"candidates", len(candidates),
			"explorer", receipt.ExplorerURL,
		)
		return ActionConfirmed, nil
	case chain.OutcomeRejected:
		s.logger.Warn("winner selection rejected", "signature", receipt.Signature, "err", err)
		return ActionRejected, err
	default:
		s.pending = &pendingSelection{
			signature:  receipt.Signature,
			sentAt:     now,
			lastReward: pool.LastRewardTimestamp,
		}
		s.logger.Warn("winner selection outcome unknown, not retrying",
			"signature", receipt.Signature,
			"explorer", receipt.ExplorerURL,
			"err", err,
		)
		return ActionUnknown, err
	}
}
