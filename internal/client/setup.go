package client

import (
	"fmt"
	"log/slog"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/config"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/retry"
	"github.com/coldbell/solpool/internal/wallet"
)

// Stack is everything a binary needs to talk to the lottery program.
type Stack struct {
	Conn    *chain.RPCConnection
	Builder *lottery.Builder
	// Wallet is nil when the stack was built without a signer.
	Wallet *wallet.Keypair
	Client *Client
}

// NewStack wires an RPC connection, instruction builder and client from cfg.
// The keypair file is only read when withWallet is set.
func NewStack(cfg config.ClientConfig, logger *slog.Logger, withWallet bool) (*Stack, error) {
	conn, err := chain.NewRPCConnection(chain.RPCConfig{
		URL:               cfg.RPCURL,
		Commitment:        cfg.Commitment,
		ProgramID:         cfg.ProgramID,
		RequestsPerSecond: cfg.RPCRequestsPerSecond,
		Burst:             cfg.RPCBurst,
		SkipPreflight:     cfg.SkipPreflight,
		MaxRetries:        cfg.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create rpc connection: %w", err)
	}

	builder, err := lottery.NewBuilder(cfg.ProgramID, cfg.OperationTags)
	if err != nil {
		return nil, fmt.Errorf("create instruction builder: %w", err)
	}

	stack := &Stack{Conn: conn, Builder: builder}
	clientCfg := Config{
		Logger:  logger,
		Conn:    conn,
		Builder: builder,
		ComputeBudget: lottery.ComputeBudget{
			UnitLimit:              cfg.ComputeUnitLimit,
			UnitPriceMicroLamports: cfg.ComputeUnitPriceMicroLamports,
		},
		ConfirmTimeout:    cfg.TxTimeout,
		PollInterval:      cfg.ConfirmPollInterval,
		ExplorerCluster:   cfg.ExplorerCluster,
		ReadRetry:         ReadRetry(cfg.ReadRetry),
		SelectionCooldown: cfg.SelectionCooldown,
		ReassembleOnStale: true,
	}
	if withWallet {
		kp, err := wallet.LoadKeypair(cfg.KeypairPath, conn)
		if err != nil {
			return nil, err
		}
		stack.Wallet = kp
		clientCfg.Wallet = kp
	}

	stack.Client, err = New(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("create client: %w", err)
	}
	return stack, nil
}

func ReadRetry(cfg config.RetryConfig) retry.Config {
	return retry.Config{
		MaxAttempts: cfg.MaxAttempts,
		BaseBackoff: cfg.BaseBackoff,
		MaxBackoff:  cfg.MaxBackoff,
	}
}
