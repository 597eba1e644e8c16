package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/retry"
	"github.com/gagliardetto/solana-go"
	"golang.org/x/sync/errgroup"
)

// Addresses are the program-derived accounts relevant to one user.
type Addresses struct {
	ProgramID   solana.PublicKey `json:"program_id"`
	Pool        solana.PublicKey `json:"pool"`
	Vault       solana.PublicKey `json:"vault"`
	UserDeposit solana.PublicKey `json:"user_deposit,omitempty"`
}

func (c *Client) Addresses(user solana.PublicKey) (Addresses, error) {
	programID := c.ProgramID()
	pool, err := lottery.DerivePoolAddress(programID)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive pool address: %w", err)
	}
	vault, err := lottery.DeriveVaultAddress(programID)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive vault address: %w", err)
	}
	out := Addresses{ProgramID: programID, Pool: pool.Address, Vault: vault.Address}
	if !user.IsZero() {
		deposit, err := lottery.DeriveUserDepositAddress(programID, user)
		if err != nil {
			return Addresses{}, fmt.Errorf("derive user deposit address: %w", err)
		}
		out.UserDeposit = deposit.Address
	}
	return out, nil
}

type Status struct {
	Addresses         Addresses                  `json:"addresses"`
	Pool              lottery.PoolAccount        `json:"pool"`
	PoolInitialized   bool                       `json:"pool_initialized"`
	Deposit           lottery.UserDepositAccount `json:"deposit"`
	WalletBalance     uint64                     `json:"wallet_balance"`
	VaultBalance      uint64                     `json:"vault_balance"`
	CooldownRemaining time.Duration              `json:"cooldown_remaining"`
	ReadAt            time.Time                  `json:"read_at"`
}

// Status reads the pool, the user's deposit record and both balances. A zero
// user reads the pool side only. Transient read failures are retried.
func (c *Client) Status(ctx context.Context, user solana.PublicKey) (Status, error) {
	addrs, err := c.Addresses(user)
	if err != nil {
		return Status{}, err
	}
	out := Status{Addresses: addrs, ReadAt: c.cfg.Clock.Now()}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pool, err := retry.Value(gctx, c.cfg.ReadRetry, func() (lottery.PoolAccount, error) {
			return chain.ReadPool(gctx, c.cfg.Conn, addrs.Pool)
		})
		if errors.Is(err, lottery.ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		out.Pool = pool
		out.PoolInitialized = true
		return nil
	})
	g.Go(func() error {
		balance, err := retry.Value(gctx, c.cfg.ReadRetry, func() (uint64, error) {
			return chain.ReadBalance(gctx, c.cfg.Conn, addrs.Vault)
		})
		out.VaultBalance = balance
		return err
	})
	if !user.IsZero() {
		g.Go(func() error {
			deposit, err := retry.Value(gctx, c.cfg.ReadRetry, func() (lottery.UserDepositAccount, error) {
				return chain.ReadUserDeposit(gctx, c.cfg.Conn, addrs.UserDeposit)
			})
			out.Deposit = deposit
			return err
		})
		g.Go(func() error {
			balance, err := retry.Value(gctx, c.cfg.ReadRetry, func() (uint64, error) {
				return chain.ReadBalance(gctx, c.cfg.Conn, user)
			})
			out.WalletBalance = balance
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return Status{}, err
	}

	out.CooldownRemaining = out.Pool.CooldownRemaining(out.ReadAt, c.cfg.SelectionCooldown)
	return out, nil
}
