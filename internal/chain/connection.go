package chain

import (
	"context"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
)

// AccountFetcher returns raw account bytes. A missing account is reported as
// lottery.ErrAccountNotFound; every other failure is a transport problem.
type AccountFetcher interface {
	GetAccountBytes(ctx context.Context, address solana.PublicKey) ([]byte, error)
}

// Connection is the cluster capability the client needs: reads, a freshness
// token, submission and confirmation lookups.
type Connection interface {
	AccountFetcher
	GetFreshnessToken(ctx context.Context) (lottery.FreshnessToken, error)
	GetBlockHeight(ctx context.Context) (uint64, error)
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	Confirm(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error)
}

type BalanceReader interface {
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
}

type DepositLister interface {
	ListUserDeposits(ctx context.Context) ([]DepositRecord, error)
}

// Wallet signs and sends on behalf of a single key. The encoding layer never
// sees key material.
type Wallet interface {
	PublicKey() solana.PublicKey
	SignAndSend(ctx context.Context, tx *lottery.Transaction) (solana.Signature, error)
}

// ConfirmationStatus is one observation of a signature's progress.
type ConfirmationStatus struct {
	// Found is false while the cluster has not seen the signature.
	Found     bool
	Confirmed bool
	Slot      uint64
	Failure   *lottery.TransactionFailure
}

type DepositRecord struct {
	Address solana.PublicKey `json:"address"`
	lottery.UserDepositAccount
}
