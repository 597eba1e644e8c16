package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"cosmossdk.io/math"
	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/metrics"
	"github.com/coldbell/solpool/internal/retry"
	"github.com/gagliardetto/solana-go"
	"github.com/jonboulle/clockwork"
)

// Connection is everything the client reads from and submits to.
type Connection interface {
	chain.Connection
	chain.BalanceReader
}

type Config struct {
	Logger  *slog.Logger
	Clock   clockwork.Clock
	Conn    Connection
	Builder *lottery.Builder

	// Wallet signs submitted intents. Prepare works without one.
	Wallet chain.Wallet

	ComputeBudget     lottery.ComputeBudget
	ConfirmTimeout    time.Duration
	PollInterval      time.Duration
	ExplorerCluster   string
	ReadRetry         retry.Config
	SelectionCooldown time.Duration

	// ReassembleOnStale re-signs once with a new freshness token when the
	// cluster refused the transaction for carrying an expired one.
	ReassembleOnStale bool
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Conn == nil {
		return errors.New("connection is required")
	}
	if cfg.Builder == nil {
		return errors.New("instruction builder is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 60 * time.Second
	}
	if cfg.ReadRetry.MaxAttempts <= 0 {
		cfg.ReadRetry = retry.DefaultConfig()
	}
	if cfg.SelectionCooldown <= 0 {
		cfg.SelectionCooldown = lottery.SelectionCooldown
	}
	return nil
}

// Client turns user intents into confirmed lottery transactions.
type Client struct {
	log *slog.Logger
	cfg Config
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{log: cfg.Logger, cfg: cfg}, nil
}

func (c *Client) ProgramID() solana.PublicKey {
	return c.cfg.Builder.ProgramID()
}

// Intent is one user-level action against the pool.
type Intent struct {
	Operation lottery.Operation `json:"operation"`
	// Amount in lamports, for deposit and withdraw.
	Amount math.Int `json:"amount"`
	// Candidates are deposit record addresses, for winner selection.
	Candidates []solana.PublicKey `json:"candidates,omitempty"`
}

func DepositIntent(lamports math.Int) Intent {
	return Intent{Operation: lottery.OpDeposit, Amount: lamports}
}

func WithdrawIntent(lamports math.Int) Intent {
	return Intent{Operation: lottery.OpWithdraw, Amount: lamports}
}

func SelectWinnerIntent(candidates []solana.PublicKey) Intent {
	return Intent{Operation: lottery.OpSelectWinner, Candidates: candidates}
}

type Receipt struct {
	Operation   lottery.Operation `json:"operation"`
	Signature   solana.Signature  `json:"signature"`
	Outcome     chain.Outcome     `json:"outcome"`
	ExplorerURL string            `json:"explorer_url,omitempty"`
}

// Instructions builds the program instruction for intent, preceded by the
// configured compute-budget instructions. Nothing touches the network.
func (c *Client) Instructions(payer solana.PublicKey, intent Intent) ([]solana.Instruction, error) {
	var (
		ix  *lottery.Instruction
		err error
	)
	b := c.cfg.Builder
	switch intent.Operation {
	case lottery.OpDeposit:
		ix, err = b.Deposit(payer, intent.Amount)
	case lottery.OpWithdraw:
		ix, err = b.Withdraw(payer, intent.Amount)
	case lottery.OpInitializePool:
		ix, err = b.InitializePool(payer)
	case lottery.OpSelectWinner:
		ix, err = b.SelectWinner(payer, intent.Candidates)
	case lottery.OpClaimReward:
		// The connected wallet acts as both the paying authority and the recipient.
		ix, err = b.ClaimReward(payer, payer)
	default:
		return nil, fmt.Errorf("%w: unsupported operation %s", lottery.ErrArgumentOutOfRange, intent.Operation)
	}
	if err != nil {
		return nil, err
	}

	prefix, err := c.cfg.ComputeBudget.Instructions()
	if err != nil {
		return nil, err
	}
	return lottery.WithPrefix(prefix, ix), nil
}

// Prepare assembles an unsigned transaction for intent with payer as the fee
// payer, for wallets that sign outside this process.
func (c *Client) Prepare(ctx context.Context, payer solana.PublicKey, intent Intent) (*lottery.Transaction, error) {
	instructions, err := c.Instructions(payer, intent)
	if err != nil {
		return nil, err
	}
	token, err := c.freshnessToken(ctx)
	if err != nil {
		return nil, err
	}
	return lottery.Assemble(instructions, payer, token)
}

func (c *Client) freshnessToken(ctx context.Context) (lottery.FreshnessToken, error) {
	token, err := retry.Value(ctx, c.cfg.ReadRetry, func() (lottery.FreshnessToken, error) {
		return c.cfg.Conn.GetFreshnessToken(ctx)
	})
	if err != nil {
		return lottery.FreshnessToken{}, fmt.Errorf("resolve freshness token: %w", err)
	}
	return token, nil
}

// Execute signs, submits and confirms intent with the configured wallet. The
// receipt is returned alongside rejection and unknown-outcome errors so the
// signature can still be shown.
func (c *Client) Execute(ctx context.Context, intent Intent) (Receipt, error) {
	if c.cfg.Wallet == nil {
		return Receipt{}, errors.New("no wallet configured")
	}
	tx, err := c.Prepare(ctx, c.cfg.Wallet.PublicKey(), intent)
	if err != nil {
		return Receipt{}, err
	}

	receipt, err := c.submit(ctx, intent.Operation, tx)
	var subErr *lottery.SubmissionError
	if c.cfg.ReassembleOnStale && errors.As(err, &subErr) && subErr.Kind == lottery.KindSubmissionRejected && subErr.StaleFreshness {
		c.log.Info("client: freshness token expired, re-assembling",
			"operation", intent.Operation,
			"signature", receipt.Signature,
		)
		token, tokenErr := c.freshnessToken(ctx)
		if tokenErr != nil {
			return receipt, errors.Join(err, tokenErr)
		}
		tx, err = tx.Reassemble(token)
		if err != nil {
			return receipt, err
		}
		return c.submit(ctx, intent.Operation, tx)
	}
	return receipt, err
}

func (c *Client) submit(ctx context.Context, op lottery.Operation, tx *lottery.Transaction) (Receipt, error) {
	sig, err := c.cfg.Wallet.SignAndSend(ctx, tx)
	var subErr *lottery.SubmissionError
	if err != nil && !errors.As(err, &subErr) {
		return Receipt{Operation: op}, fmt.Errorf("%s: sign and send: %w", op, err)
	}
	if err == nil {
		err = chain.WaitForConfirmation(ctx, c.cfg.Conn, sig, chain.ConfirmOptions{
			Clock:                c.cfg.Clock,
			PollInterval:         c.cfg.PollInterval,
			Timeout:              c.cfg.ConfirmTimeout,
			LastValidBlockHeight: tx.Freshness().LastValidBlockHeight,
		})
	} else if sig == (solana.Signature{}) {
		sig = subErr.Signature
	}

	outcome := chain.OutcomeOf(err)
	receipt := Receipt{
		Operation: op,
		Signature: sig,
		Outcome:   outcome,
	}
	if sig != (solana.Signature{}) {
		receipt.ExplorerURL = lottery.ExplorerURL(sig, c.cfg.ExplorerCluster)
	}
	metrics.SubmissionsTotal.WithLabelValues(op.String(), outcome.String()).Inc()

	switch outcome {
	case chain.OutcomeConfirmed:
		c.log.Info("client: transaction confirmed", "operation", op, "signature", sig)
	case chain.OutcomeRejected:
		c.log.Warn("client: transaction rejected", "operation", op, "signature", sig, "err", err)
	default:
		c.log.Warn("client: transaction outcome unknown, check the explorer before retrying",
			"operation", op,
			"signature", sig,
			"explorer", receipt.ExplorerURL,
			"err", err,
		)
	}
	return receipt, err
}

func (c *Client) Deposit(ctx context.Context, lamports math.Int) (Receipt, error) {
	return c.Execute(ctx, DepositIntent(lamports))
}

func (c *Client) Withdraw(ctx context.Context, lamports math.Int) (Receipt, error) {
	return c.Execute(ctx, WithdrawIntent(lamports))
}

func (c *Client) InitializePool(ctx context.Context) (Receipt, error) {
	return c.Execute(ctx, Intent{Operation: lottery.OpInitializePool})
}

func (c *Client) SelectWinner(ctx context.Context, candidates []solana.PublicKey) (Receipt, error) {
	return c.Execute(ctx, SelectWinnerIntent(candidates))
}

func (c *Client) ClaimReward(ctx context.Context) (Receipt, error) {
	return c.Execute(ctx, Intent{Operation: lottery.OpClaimReward})
}
