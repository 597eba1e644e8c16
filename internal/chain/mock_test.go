package chain

import (
	"context"
	"errors"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
)

type mockConnection struct {
	GetAccountBytesFunc   func(ctx context.Context, address solana.PublicKey) ([]byte, error)
	GetFreshnessTokenFunc func(ctx context.Context) (lottery.FreshnessToken, error)
	GetBlockHeightFunc    func(ctx context.Context) (uint64, error)
	SubmitFunc            func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmFunc           func(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error)
	GetBalanceFunc        func(ctx context.Context, address solana.PublicKey) (uint64, error)
}

var errNotMocked = errors.New("not mocked")

func (m *mockConnection) GetAccountBytes(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	if m.GetAccountBytesFunc == nil {
		return nil, errNotMocked
	}
	return m.GetAccountBytesFunc(ctx, address)
}

func (m *mockConnection) GetFreshnessToken(ctx context.Context) (lottery.FreshnessToken, error) {
	if m.GetFreshnessTokenFunc == nil {
		return lottery.FreshnessToken{}, errNotMocked
	}
	return m.GetFreshnessTokenFunc(ctx)
}

func (m *mockConnection) GetBlockHeight(ctx context.Context) (uint64, error) {
	if m.GetBlockHeightFunc == nil {
		return 0, errNotMocked
	}
	return m.GetBlockHeightFunc(ctx)
}

func (m *mockConnection) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if m.SubmitFunc == nil {
		return solana.Signature{}, errNotMocked
	}
	return m.SubmitFunc(ctx, tx)
}

func (m *mockConnection) Confirm(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error) {
	if m.ConfirmFunc == nil {
		return ConfirmationStatus{}, errNotMocked
	}
	return m.ConfirmFunc(ctx, sig)
}

func (m *mockConnection) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	if m.GetBalanceFunc == nil {
		return 0, errNotMocked
	}
	return m.GetBalanceFunc(ctx, address)
}

var _ Connection = (*mockConnection)(nil)

func testKey(n byte) solana.PublicKey {
	var pk solana.PublicKey
	for i := range pk {
		pk[i] = n
	}
	return pk
}
