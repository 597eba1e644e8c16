package lottery

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// ProgramError is a custom error code returned by the lottery program or by the
// Anchor framework it is built on.
type ProgramError struct {
	Code    uint32
	Name    string
	Message string
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("program error %d (%s): %s", e.Code, e.Name, e.Message)
}

const (
	ProgramErrInvalidAmount       uint32 = 6000
	ProgramErrNoDepositors        uint32 = 6001
	ProgramErrVrfError            uint32 = 6002
	ProgramErrNoRewardToClaim     uint32 = 6003
	ProgramErrInsufficientBalance uint32 = 6004
)

var programErrors = map[uint32]ProgramError{
	ProgramErrInvalidAmount:       {Code: ProgramErrInvalidAmount, Name: "InvalidAmount", Message: "Invalid amount"},
	ProgramErrNoDepositors:        {Code: ProgramErrNoDepositors, Name: "NoDepositors", Message: "No depositors available for reward"},
	ProgramErrVrfError:            {Code: ProgramErrVrfError, Name: "VrfError", Message: "VRF generation failed (selection cooldown not elapsed)"},
	ProgramErrNoRewardToClaim:     {Code: ProgramErrNoRewardToClaim, Name: "NoRewardToClaim", Message: "No reward available to claim"},
	ProgramErrInsufficientBalance: {Code: ProgramErrInsufficientBalance, Name: "InsufficientBalance", Message: "Insufficient balance"},

	// Anchor framework codes seen against this program.
	101:  {Code: 101, Name: "InstructionFallbackNotFound", Message: "Fallback functions are not supported (unknown instruction tag)"},
	102:  {Code: 102, Name: "InstructionDidNotDeserialize", Message: "The program could not deserialize the given instruction"},
	2000: {Code: 2000, Name: "ConstraintMut", Message: "A mut constraint was violated"},
	2003: {Code: 2003, Name: "ConstraintRaw", Message: "A raw constraint was violated"},
	2006: {Code: 2006, Name: "ConstraintSeeds", Message: "A seeds constraint was violated"},
	3001: {Code: 3001, Name: "AccountDiscriminatorNotFound", Message: "No discriminator was found on the account"},
	3002: {Code: 3002, Name: "AccountDiscriminatorMismatch", Message: "Account discriminator did not match what was expected"},
	3012: {Code: 3012, Name: "AccountNotInitialized", Message: "The program expected this account to be already initialized"},
}

// LookupProgramError returns the catalogued error for code, or a generic entry.
func LookupProgramError(code uint32) *ProgramError {
	if e, ok := programErrors[code]; ok {
		return &e
	}
	return &ProgramError{Code: code, Name: "Custom", Message: fmt.Sprintf("custom program error 0x%x", code)}
}

// TransactionFailure is the decoded form of the "err" value the RPC node reports
// for a failed transaction, e.g. {"InstructionError":[1,{"Custom":6001}]} or
// "BlockhashNotFound".
type TransactionFailure struct {
	Key              string
	InstructionIndex int
	InstructionError string
	CustomCode       *uint32
}

const (
	failureKeyInstructionError  = "InstructionError"
	failureKeyBlockhashNotFound = "BlockhashNotFound"
)

func ParseTransactionFailure(raw any) (*TransactionFailure, error) {
	switch v := raw.(type) {
	case nil:
		return nil, errors.New("empty transaction error")
	case string:
		return &TransactionFailure{Key: v}, nil
	case map[string]any:
		if len(v) != 1 {
			return nil, fmt.Errorf("unexpected transaction error map size %d", len(v))
		}
		var key string
		var value any
		for key, value = range v {
		}
		if key != failureKeyInstructionError {
			return &TransactionFailure{Key: key}, nil
		}
		return parseInstructionFailure(value)
	default:
		return nil, fmt.Errorf("unexpected transaction error type %T", raw)
	}
}

func parseInstructionFailure(raw any) (*TransactionFailure, error) {
	values, ok := raw.([]any)
	if !ok || len(values) != 2 {
		return nil, errors.New("unexpected InstructionError format")
	}
	index, err := jsonNumber(values[0])
	if err != nil {
		return nil, fmt.Errorf("instruction index: %w", err)
	}
	out := &TransactionFailure{Key: failureKeyInstructionError, InstructionIndex: int(index)}

	switch detail := values[1].(type) {
	case string:
		out.InstructionError = detail
	case map[string]any:
		for k, v := range detail {
			out.InstructionError = k
			if k != "Custom" {
				continue
			}
			code, err := jsonNumber(v)
			if err != nil || code < 0 || code > math.MaxUint32 {
				return nil, fmt.Errorf("invalid custom error code %v", v)
			}
			c := uint32(code)
			out.CustomCode = &c
		}
	default:
		return nil, fmt.Errorf("unexpected instruction error detail %T", values[1])
	}
	return out, nil
}

func (f *TransactionFailure) ProgramError() *ProgramError {
	if f == nil || f.CustomCode == nil {
		return nil
	}
	return LookupProgramError(*f.CustomCode)
}

func (f *TransactionFailure) StaleFreshness() bool {
	return f != nil && f.Key == failureKeyBlockhashNotFound
}

func (f *TransactionFailure) String() string {
	if f == nil {
		return ""
	}
	if f.Key != failureKeyInstructionError {
		return f.Key
	}
	if pe := f.ProgramError(); pe != nil {
		return fmt.Sprintf("instruction %d failed: %s", f.InstructionIndex, pe.Error())
	}
	return fmt.Sprintf("instruction %d failed: %s", f.InstructionIndex, f.InstructionError)
}

func jsonNumber(v any) (int64, error) {
	switch n := v.(type) {
	case float64:
		return int64(n), nil
	case int:
		return int64(n), nil
	case int64:
		return n, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("number %d overflows", n)
		}
		return int64(n), nil
	case json.Number:
		return n.Int64()
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected number type %T", v)
	}
}
