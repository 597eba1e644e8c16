package lottery

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want Kind
	}{
		{err: nil, want: KindOther},
		{err: errors.New("boom"), want: KindOther},
		{err: fmt.Errorf("read pool: %w", ErrReadUnavailable), want: KindReadUnavailable},
		{err: fmt.Errorf("x: %w", fmt.Errorf("y: %w", ErrMalformedAccount)), want: KindMalformedAccount},
		{err: NewRejectedError(solana.Signature{}, "nope", nil), want: KindSubmissionRejected},
		{err: NewUnknownOutcomeError(solana.Signature{}, "timeout", nil), want: KindSubmissionUnknown},
		{err: fmt.Errorf("build: %w", ErrContractViolation), want: KindContractViolation},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, KindOf(tt.err), "error %v", tt.err)
	}

	require.True(t, KindReadUnavailable.Retryable())
	require.False(t, KindSubmissionRejected.Retryable())
	require.False(t, KindSubmissionUnknown.Retryable())
	require.Equal(t, "submission_unknown", KindSubmissionUnknown.String())
}

func TestSubmissionError(t *testing.T) {
	t.Parallel()

	cause := errors.New("rpc said no")
	var sig solana.Signature
	sig[1] = 9

	err := fmt.Errorf("deposit: %w", NewRejectedError(sig, "insufficient funds", cause))
	require.ErrorIs(t, err, ErrSubmissionRejected)
	require.NotErrorIs(t, err, ErrSubmissionUnknown)
	require.ErrorIs(t, err, cause)

	var subErr *SubmissionError
	require.True(t, errors.As(err, &subErr))
	require.Equal(t, sig, subErr.Signature)
	require.Contains(t, subErr.Error(), "insufficient funds")
	require.Contains(t, subErr.Error(), sig.String())

	unknown := NewUnknownOutcomeError(solana.Signature{}, "confirmation timed out", nil)
	require.Equal(t, "submission outcome unknown: confirmation timed out", unknown.Error())
}

func TestParseTransactionFailure(t *testing.T) {
	t.Parallel()

	decode := func(t *testing.T, raw string) any {
		t.Helper()
		var v any
		require.NoError(t, json.Unmarshal([]byte(raw), &v))
		return v
	}

	t.Run("program custom error", func(t *testing.T) {
		t.Parallel()
		f, err := ParseTransactionFailure(decode(t, `{"InstructionError":[2,{"Custom":6001}]}`))
		require.NoError(t, err)
		require.Equal(t, 2, f.InstructionIndex)
		pe := f.ProgramError()
		require.NotNil(t, pe)
		require.Equal(t, "NoDepositors", pe.Name)
		require.Contains(t, f.String(), "instruction 2 failed")
		require.False(t, f.StaleFreshness())
	})

	t.Run("builtin instruction error", func(t *testing.T) {
		t.Parallel()
		f, err := ParseTransactionFailure(decode(t, `{"InstructionError":[0,"MissingRequiredSignature"]}`))
		require.NoError(t, err)
		require.Nil(t, f.ProgramError())
		require.Equal(t, "instruction 0 failed: MissingRequiredSignature", f.String())
	})

	t.Run("blockhash not found", func(t *testing.T) {
		t.Parallel()
		f, err := ParseTransactionFailure(decode(t, `"BlockhashNotFound"`))
		require.NoError(t, err)
		require.True(t, f.StaleFreshness())
		require.Equal(t, "BlockhashNotFound", f.String())
	})

	t.Run("json number", func(t *testing.T) {
		t.Parallel()
		f, err := ParseTransactionFailure(map[string]any{
			"InstructionError": []any{json.Number("1"), map[string]any{"Custom": json.Number("6004")}},
		})
		require.NoError(t, err)
		require.Equal(t, ProgramErrInsufficientBalance, f.ProgramError().Code)
	})

	t.Run("unexpected shapes", func(t *testing.T) {
		t.Parallel()
		_, err := ParseTransactionFailure(nil)
		require.Error(t, err)
		_, err = ParseTransactionFailure(decode(t, `{"InstructionError":[1]}`))
		require.Error(t, err)
		_, err = ParseTransactionFailure(42)
		require.Error(t, err)
	})
}

func TestLookupProgramError(t *testing.T) {
	t.Parallel()

	require.Equal(t, "InvalidAmount", LookupProgramError(ProgramErrInvalidAmount).Name)
	require.Equal(t, "ConstraintSeeds", LookupProgramError(2006).Name)
	unknown := LookupProgramError(0x1770 + 99)
	require.Equal(t, "Custom", unknown.Name)
	require.Contains(t, unknown.Error(), "0x17d3")
}
