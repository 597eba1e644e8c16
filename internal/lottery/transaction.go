package lottery

import (
	"encoding/base64"
	"errors"
	"fmt"
	"reflect"

	"github.com/gagliardetto/solana-go"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
)

// FreshnessToken references a recent ledger checkpoint. Transactions carrying
// it are accepted until the chain passes LastValidBlockHeight.
type FreshnessToken struct {
	Blockhash            solana.Hash `json:"blockhash"`
	LastValidBlockHeight uint64      `json:"last_valid_block_height"`
}

func (t FreshnessToken) IsZero() bool {
	return t.Blockhash == (solana.Hash{})
}

// Transaction is an ordered, fee-payer-bound list of instructions ready for a
// wallet to sign. Instructions execute atomically in the order given.
type Transaction struct {
	instructions []solana.Instruction
	feePayer     solana.PublicKey
	freshness    FreshnessToken
	tx           *solana.Transaction
}

func Assemble(instructions []solana.Instruction, feePayer solana.PublicKey, token FreshnessToken) (*Transaction, error) {
	if len(instructions) == 0 {
		return nil, errors.New("assemble: at least one instruction is required")
	}
	for i, ix := range instructions {
		if isNilInstruction(ix) {
			return nil, fmt.Errorf("assemble: instruction %d is nil", i)
		}
	}
	if feePayer.IsZero() {
		return nil, errors.New("assemble: fee payer is required")
	}
	if token.IsZero() {
		return nil, errors.New("assemble: freshness token is not resolved")
	}

	ordered := append([]solana.Instruction(nil), instructions...)
	tx, err := solana.NewTransaction(ordered, token.Blockhash, solana.TransactionPayer(feePayer))
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	return &Transaction{
		instructions: ordered,
		feePayer:     feePayer,
		freshness:    token,
		tx:           tx,
	}, nil
}

// isNilInstruction also catches a nil pointer stored in the interface, such as
// a (*Instruction)(nil) returned next to an ignored error.
func isNilInstruction(ix solana.Instruction) bool {
	if ix == nil {
		return true
	}
	v := reflect.ValueOf(ix)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// Reassemble rebuilds the same instructions against a newer freshness token.
func (t *Transaction) Reassemble(token FreshnessToken) (*Transaction, error) {
	return Assemble(t.instructions, t.feePayer, token)
}

func (t *Transaction) Instructions() []solana.Instruction {
	return append([]solana.Instruction(nil), t.instructions...)
}

func (t *Transaction) FeePayer() solana.PublicKey {
	return t.feePayer
}

func (t *Transaction) Freshness() FreshnessToken {
	return t.freshness
}

// Solana exposes the underlying wire transaction for signing. Callers that sign
// mutate its signature list only.
func (t *Transaction) Solana() *solana.Transaction {
	return t.tx
}

// Base64 is the wire encoding handed to external wallets. Missing signatures are
// written as zeroed placeholders so wallets can fill them in place.
func (t *Transaction) Base64() (string, error) {
	wire := *t.tx
	if len(wire.Signatures) == 0 {
		wire.Signatures = make([]solana.Signature, wire.Message.Header.NumRequiredSignatures)
	}
	raw, err := wire.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

type ComputeBudget struct {
	UnitLimit              uint32
	UnitPriceMicroLamports uint64
}

// Instructions returns the compute-budget instructions to place ahead of the
// program instructions, or nil when nothing is configured.
func (cb ComputeBudget) Instructions() ([]solana.Instruction, error) {
	var out []solana.Instruction
	if cb.UnitLimit > 0 {
		ix, err := computebudget.NewSetComputeUnitLimitInstruction(cb.UnitLimit).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit limit instruction: %w", err)
		}
		out = append(out, ix)
	}
	if cb.UnitPriceMicroLamports > 0 {
		ix, err := computebudget.NewSetComputeUnitPriceInstruction(cb.UnitPriceMicroLamports).ValidateAndBuild()
		if err != nil {
			return nil, fmt.Errorf("build compute unit price instruction: %w", err)
		}
		out = append(out, ix)
	}
	return out, nil
}

// WithPrefix returns prefix followed by instructions.
func WithPrefix(prefix []solana.Instruction, instructions ...solana.Instruction) []solana.Instruction {
	out := make([]solana.Instruction, 0, len(prefix)+len(instructions))
	out = append(out, prefix...)
	return append(out, instructions...)
}
