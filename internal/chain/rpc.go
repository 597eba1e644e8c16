package chain

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/metrics"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"golang.org/x/time/rate"
)

type RPCConfig struct {
	URL               string
	Commitment        rpc.CommitmentType
	ProgramID         solana.PublicKey
	RequestsPerSecond float64
	Burst             int
	SkipPreflight     bool
	MaxRetries        *uint
}

func (cfg *RPCConfig) Validate() error {
	if cfg.URL == "" {
		return errors.New("rpc url is required")
	}
	if cfg.ProgramID.IsZero() {
		return errors.New("program id is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	return nil
}

// RPCConnection implements Connection over the JSON-RPC API. All requests
// share one client-side rate limiter.
type RPCConnection struct {
	cfg     RPCConfig
	client  *rpc.Client
	limiter *rate.Limiter
}

func NewRPCConnection(cfg RPCConfig) (*RPCConnection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &RPCConnection{
		cfg:     cfg,
		client:  rpc.New(cfg.URL),
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}, nil
}

func (c *RPCConnection) ProgramID() solana.PublicKey {
	return c.cfg.ProgramID
}

func (c *RPCConnection) Commitment() rpc.CommitmentType {
	return c.cfg.Commitment
}

func (c *RPCConnection) call(ctx context.Context, method string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%s: rate limiter: %w", method, err)
	}
	start := time.Now()
	err := fn()
	metrics.RPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	status := "ok"
	if err != nil {
		status = "error"
		if errors.Is(err, rpc.ErrNotFound) {
			status = "not_found"
		}
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	return err
}

func (c *RPCConnection) GetAccountBytes(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	var out *rpc.GetAccountInfoResult
	err := c.call(ctx, "getAccountInfo", func() error {
		var err error
		out, err = c.client.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
			Commitment: c.cfg.Commitment,
			Encoding:   solana.EncodingBase64,
		})
		return err
	})
	if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
		return nil, fmt.Errorf("%w: %s", lottery.ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get account %s: %w", lottery.ErrReadUnavailable, address, err)
	}
	return out.Value.Data.GetBinary(), nil
}

func (c *RPCConnection) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	var out *rpc.GetBalanceResult
	err := c.call(ctx, "getBalance", func() error {
		var err error
		out, err = c.client.GetBalance(ctx, address, c.cfg.Commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: get balance %s: %w", lottery.ErrReadUnavailable, address, err)
	}
	return out.Value, nil
}

// ListUserDeposits scans the program's accounts for deposit records by their
// record tag. Records that fail to decode are skipped.
func (c *RPCConnection) ListUserDeposits(ctx context.Context) ([]DepositRecord, error) {
	var out rpc.GetProgramAccountsResult
	err := c.call(ctx, "getProgramAccounts", func() error {
		var err error
		out, err = c.client.GetProgramAccountsWithOpts(ctx, c.cfg.ProgramID, &rpc.GetProgramAccountsOpts{
			Commitment: c.cfg.Commitment,
			Encoding:   solana.EncodingBase64,
			Filters: []rpc.RPCFilter{
				{
					Memcmp: &rpc.RPCFilterMemcmp{
						Offset: 0,
						Bytes:  solana.Base58(lottery.UserDepositRecordTag[:]),
					},
				},
			},
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: list user deposits: %w", lottery.ErrReadUnavailable, err)
	}
	return decodeDepositRecords(out), nil
}

func decodeDepositRecords(accounts rpc.GetProgramAccountsResult) []DepositRecord {
	records := make([]DepositRecord, 0, len(accounts))
	for _, keyed := range accounts {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		deposit, err := lottery.DecodeUserDeposit(keyed.Account.Data.GetBinary())
		if err != nil {
			continue
		}
		records = append(records, DepositRecord{Address: keyed.Pubkey, UserDepositAccount: *deposit})
	}
	return records
}

func (c *RPCConnection) GetFreshnessToken(ctx context.Context) (lottery.FreshnessToken, error) {
	var out *rpc.GetLatestBlockhashResult
	err := c.call(ctx, "getLatestBlockhash", func() error {
		var err error
		out, err = c.client.GetLatestBlockhash(ctx, c.cfg.Commitment)
		return err
	})
	if err != nil {
		return lottery.FreshnessToken{}, fmt.Errorf("%w: get latest blockhash: %w", lottery.ErrReadUnavailable, err)
	}
	if out == nil || out.Value == nil {
		return lottery.FreshnessToken{}, fmt.Errorf("%w: empty latest blockhash response", lottery.ErrReadUnavailable)
	}
	return lottery.FreshnessToken{
		Blockhash:            out.Value.Blockhash,
		LastValidBlockHeight: out.Value.LastValidBlockHeight,
	}, nil
}

func (c *RPCConnection) GetBlockHeight(ctx context.Context) (uint64, error) {
	var height uint64
	err := c.call(ctx, "getBlockHeight", func() error {
		var err error
		height, err = c.client.GetBlockHeight(ctx, c.cfg.Commitment)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: get block height: %w", lottery.ErrReadUnavailable, err)
	}
	return height, nil
}

// Submit sends a signed transaction. A node-side refusal (preflight failure,
// malformed transaction) is a rejection; a transport failure leaves the
// outcome unknown because the node may still have forwarded it.
func (c *RPCConnection) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	if tx == nil || len(tx.Signatures) == 0 {
		return solana.Signature{}, errors.New("submit: transaction is not signed")
	}
	expected := tx.Signatures[0]

	opts := rpc.TransactionOpts{
		SkipPreflight:       c.cfg.SkipPreflight,
		PreflightCommitment: c.cfg.Commitment,
	}
	if c.cfg.MaxRetries != nil {
		retries := *c.cfg.MaxRetries
		opts.MaxRetries = &retries
	}

	var sig solana.Signature
	err := c.call(ctx, "sendTransaction", func() error {
		var err error
		sig, err = c.client.SendTransactionWithOpts(ctx, tx, opts)
		return err
	})
	if err != nil {
		return expected, classifySendError(expected, err)
	}
	return sig, nil
}

func classifySendError(sig solana.Signature, err error) error {
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return lottery.NewUnknownOutcomeError(sig, "send transaction: "+err.Error(), err)
	}

	subErr := lottery.NewRejectedError(sig, rpcErr.Message, err)
	data, ok := rpcErr.Data.(map[string]any)
	if !ok {
		return subErr
	}
	failure, parseErr := lottery.ParseTransactionFailure(data["err"])
	if parseErr != nil {
		return subErr
	}
	subErr.ProgramError = failure.ProgramError()
	subErr.StaleFreshness = failure.StaleFreshness()
	subErr.Reason = failure.String()
	return subErr
}

func (c *RPCConnection) Confirm(ctx context.Context, sig solana.Signature) (ConfirmationStatus, error) {
	var out *rpc.GetSignatureStatusesResult
	err := c.call(ctx, "getSignatureStatuses", func() error {
		var err error
		out, err = c.client.GetSignatureStatuses(ctx, true, sig)
		return err
	})
	if err != nil {
		return ConfirmationStatus{}, fmt.Errorf("%w: get signature status %s: %w", lottery.ErrReadUnavailable, sig, err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return ConfirmationStatus{}, nil
	}
	return statusFromRPC(out.Value[0], c.cfg.Commitment), nil
}

func statusFromRPC(status *rpc.SignatureStatusesResult, commitment rpc.CommitmentType) ConfirmationStatus {
	out := ConfirmationStatus{Found: true, Slot: status.Slot}
	if status.Err != nil {
		failure, err := lottery.ParseTransactionFailure(status.Err)
		if err != nil {
			failure = &lottery.TransactionFailure{Key: fmt.Sprint(status.Err)}
		}
		out.Failure = failure
		return out
	}
	switch status.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		out.Confirmed = true
	case rpc.ConfirmationStatusConfirmed:
		out.Confirmed = commitment != rpc.CommitmentFinalized
	}
	return out
}
