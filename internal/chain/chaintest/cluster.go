// Package chaintest provides an in-memory cluster for exercising code that
// reads and submits through the chain capabilities.
package chaintest

import (
	"context"
	"fmt"
	"sync"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
)

// SubmitFunc decides the fate of the n-th submitted transaction (0-based). A
// non-nil error is returned from Submit as is; otherwise status is what later
// Confirm calls report.
type SubmitFunc func(n int, tx *solana.Transaction) (chain.ConfirmationStatus, error)

type Cluster struct {
	mu          sync.Mutex
	accounts    map[solana.PublicKey][]byte
	balances    map[solana.PublicKey]uint64
	statuses    map[solana.Signature]chain.ConfirmationStatus
	submitted   []*solana.Transaction
	readErr     error
	tokenCalls  int
	blockHeight uint64

	OnSubmit SubmitFunc
}

func NewCluster() *Cluster {
	return &Cluster{
		accounts:    make(map[solana.PublicKey][]byte),
		balances:    make(map[solana.PublicKey]uint64),
		statuses:    make(map[solana.Signature]chain.ConfirmationStatus),
		blockHeight: 1_000,
	}
}

func (c *Cluster) SetAccount(address solana.PublicKey, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accounts[address] = append([]byte(nil), data...)
}

func (c *Cluster) SetBalance(address solana.PublicKey, lamports uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.balances[address] = lamports
}

func (c *Cluster) SetPool(programID solana.PublicKey, pool lottery.PoolAccount) {
	c.SetAccount(lottery.MustDerivePoolAddress(programID), pool.Marshal())
}

// SetDeposit stores deposit at its owner's derived record address and returns
// that address.
func (c *Cluster) SetDeposit(programID solana.PublicKey, deposit lottery.UserDepositAccount) solana.PublicKey {
	address := lottery.MustDeriveUserDepositAddress(programID, deposit.Owner)
	c.SetAccount(address, deposit.Marshal())
	return address
}

func (c *Cluster) SetBlockHeight(height uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockHeight = height
}

// FailReads makes every read return err until called again with nil.
func (c *Cluster) FailReads(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

func (c *Cluster) Submitted() []*solana.Transaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*solana.Transaction(nil), c.submitted...)
}

func (c *Cluster) TokenCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokenCalls
}

func (c *Cluster) GetAccountBytes(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	data, ok := c.accounts[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", lottery.ErrAccountNotFound, address)
	}
	return append([]byte(nil), data...), nil
}

func (c *Cluster) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return 0, c.readErr
	}
	return c.balances[address], nil
}

func (c *Cluster) ListUserDeposits(ctx context.Context) ([]chain.DepositRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return nil, c.readErr
	}
	var out []chain.DepositRecord
	for address, data := range c.accounts {
		deposit, err := lottery.DecodeUserDeposit(data)
		if err != nil {
			continue
		}
		out = append(out, chain.DepositRecord{Address: address, UserDepositAccount: *deposit})
	}
	return out, nil
}

// GetFreshnessToken hands out a new blockhash on every call.
func (c *Cluster) GetFreshnessToken(ctx context.Context) (lottery.FreshnessToken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readErr != nil {
		return lottery.FreshnessToken{}, c.readErr
	}
	c.tokenCalls++
	var hash solana.Hash
	hash[0] = byte(c.tokenCalls)
	hash[31] = 0xAB
	return lottery.FreshnessToken{Blockhash: hash, LastValidBlockHeight: c.blockHeight + 150}, nil
}

func (c *Cluster) GetBlockHeight(ctx context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockHeight, nil
}

// Submit rejects transactions whose signatures do not verify. Accepted
// transactions confirm immediately unless OnSubmit says otherwise.
func (c *Cluster) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if tx == nil || len(tx.Signatures) == 0 {
		return solana.Signature{}, lottery.NewRejectedError(solana.Signature{}, "transaction is not signed", nil)
	}
	sig := tx.Signatures[0]
	if err := tx.VerifySignatures(); err != nil {
		return sig, lottery.NewRejectedError(sig, "signature verification failed", err)
	}

	c.mu.Lock()
	n := len(c.submitted)
	c.submitted = append(c.submitted, tx)
	onSubmit := c.OnSubmit
	c.mu.Unlock()

	status := chain.ConfirmationStatus{Found: true, Confirmed: true, Slot: uint64(n + 1)}
	if onSubmit != nil {
		var err error
		status, err = onSubmit(n, tx)
		if err != nil {
			return sig, err
		}
	}

	c.mu.Lock()
	c.statuses[sig] = status
	c.mu.Unlock()
	return sig, nil
}

func (c *Cluster) Confirm(ctx context.Context, sig solana.Signature) (chain.ConfirmationStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses[sig], nil
}

var (
	_ chain.Connection    = (*Cluster)(nil)
	_ chain.BalanceReader = (*Cluster)(nil)
	_ chain.DepositLister = (*Cluster)(nil)
)
