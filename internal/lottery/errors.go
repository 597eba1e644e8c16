package lottery

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrDerivationExhausted = errors.New("program address derivation exhausted")
	ErrArgumentOutOfRange  = errors.New("argument out of range")
	ErrMalformedAccount    = errors.New("malformed account data")
	ErrAccountNotFound     = errors.New("account not found")
	ErrReadUnavailable     = errors.New("account read unavailable")
	ErrSubmissionRejected  = errors.New("submission rejected")
	ErrSubmissionUnknown   = errors.New("submission outcome unknown")

	// ErrContractViolation marks an instruction whose account list or data does not
	// match the program ABI. It is a programming error, never user-recoverable.
	ErrContractViolation = errors.New("instruction contract violation")
)

type Kind int

const (
	KindOther Kind = iota
	KindDerivationExhausted
	KindArgumentOutOfRange
	KindMalformedAccount
	KindAccountNotFound
	KindReadUnavailable
	KindSubmissionRejected
	KindSubmissionUnknown
	KindContractViolation
)

var kindSentinels = []struct {
	kind Kind
	err  error
}{
	{KindDerivationExhausted, ErrDerivationExhausted},
	{KindArgumentOutOfRange, ErrArgumentOutOfRange},
	{KindMalformedAccount, ErrMalformedAccount},
	{KindAccountNotFound, ErrAccountNotFound},
	{KindReadUnavailable, ErrReadUnavailable},
	{KindSubmissionRejected, ErrSubmissionRejected},
	{KindSubmissionUnknown, ErrSubmissionUnknown},
	{KindContractViolation, ErrContractViolation},
}

func (k Kind) String() string {
	switch k {
	case KindDerivationExhausted:
		return "derivation_exhausted"
	case KindArgumentOutOfRange:
		return "argument_out_of_range"
	case KindMalformedAccount:
		return "malformed_account"
	case KindAccountNotFound:
		return "account_not_found"
	case KindReadUnavailable:
		return "read_unavailable"
	case KindSubmissionRejected:
		return "submission_rejected"
	case KindSubmissionUnknown:
		return "submission_unknown"
	case KindContractViolation:
		return "contract_violation"
	default:
		return "other"
	}
}

// Retryable reports whether an operation failing with this kind may be repeated
// as-is. Rejected submissions need a state refresh and an explicit new intent first.
func (k Kind) Retryable() bool {
	return k == KindReadUnavailable
}

// KindOf classifies err against the sentinel taxonomy.
func KindOf(err error) Kind {
	if err == nil {
		return KindOther
	}
	for _, s := range kindSentinels {
		if errors.Is(err, s.err) {
			return s.kind
		}
	}
	return KindOther
}

// SubmissionError describes a transaction that was refused by the cluster or
// whose fate could not be determined.
type SubmissionError struct {
	Kind      Kind
	Signature solana.Signature
	Reason    string

	// ProgramError is set when the lottery program itself returned a custom error.
	ProgramError *ProgramError

	// StaleFreshness is set when the recent blockhash was no longer accepted;
	// the transaction must be re-assembled with a fresh token.
	StaleFreshness bool

	Err error
}

func (e *SubmissionError) Error() string {
	prefix := ErrSubmissionUnknown.Error()
	if e.Kind == KindSubmissionRejected {
		prefix = ErrSubmissionRejected.Error()
	}
	msg := prefix
	if e.Signature != (solana.Signature{}) {
		msg = fmt.Sprintf("%s (signature %s)", msg, e.Signature)
	}
	if e.Reason != "" {
		msg = msg + ": " + e.Reason
	}
	return msg
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

func (e *SubmissionError) Is(target error) bool {
	switch target {
	case ErrSubmissionRejected:
		return e.Kind == KindSubmissionRejected
	case ErrSubmissionUnknown:
		return e.Kind == KindSubmissionUnknown
	}
	return false
}

func NewRejectedError(sig solana.Signature, reason string, cause error) *SubmissionError {
	return &SubmissionError{
		Kind:      KindSubmissionRejected,
		Signature: sig,
		Reason:    reason,
		Err:       cause,
	}
}

func NewUnknownOutcomeError(sig solana.Signature, reason string, cause error) *SubmissionError {
	return &SubmissionError{
		Kind:      KindSubmissionUnknown,
		Signature: sig,
		Reason:    reason,
		Err:       cause,
	}
}
