package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
)

// ReadPool fetches and decodes the pool record. An absent pool is
// lottery.ErrAccountNotFound: the program has not been initialized.
func ReadPool(ctx context.Context, f AccountFetcher, address solana.PublicKey) (lottery.PoolAccount, error) {
	data, err := fetch(ctx, f, address)
	if err != nil {
		return lottery.PoolAccount{}, fmt.Errorf("read pool %s: %w", address, err)
	}
	pool, err := lottery.DecodePool(data)
	if err != nil {
		return lottery.PoolAccount{}, fmt.Errorf("read pool %s: %w", address, err)
	}
	return *pool, nil
}

// ReadUserDeposit fetches a deposit record. A record that was never created
// reads as the zero record.
func ReadUserDeposit(ctx context.Context, f AccountFetcher, address solana.PublicKey) (lottery.UserDepositAccount, error) {
	data, err := fetch(ctx, f, address)
	if errors.Is(err, lottery.ErrAccountNotFound) {
		return lottery.UserDepositAccount{}, nil
	}
	if err != nil {
		return lottery.UserDepositAccount{}, fmt.Errorf("read user deposit %s: %w", address, err)
	}
	deposit, err := lottery.DecodeUserDeposit(data)
	if err != nil {
		return lottery.UserDepositAccount{}, fmt.Errorf("read user deposit %s: %w", address, err)
	}
	return *deposit, nil
}

func ReadBalance(ctx context.Context, r BalanceReader, address solana.PublicKey) (uint64, error) {
	lamports, err := r.GetBalance(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("read balance %s: %w", address, asReadUnavailable(err))
	}
	return lamports, nil
}

func fetch(ctx context.Context, f AccountFetcher, address solana.PublicKey) ([]byte, error) {
	data, err := f.GetAccountBytes(ctx, address)
	if err != nil {
		return nil, asReadUnavailable(err)
	}
	return data, nil
}

// asReadUnavailable tags unclassified failures as transient so callers never
// mistake a transport error for an empty account.
func asReadUnavailable(err error) error {
	switch {
	case errors.Is(err, lottery.ErrAccountNotFound),
		errors.Is(err, lottery.ErrReadUnavailable),
		errors.Is(err, lottery.ErrMalformedAccount):
		return err
	default:
		return fmt.Errorf("%w: %w", lottery.ErrReadUnavailable, err)
	}
}
