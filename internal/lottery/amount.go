package lottery

import (
	"fmt"
	"strconv"
	"strings"

	"cosmossdk.io/math"
)

const (
	LamportsPerSOL = 1_000_000_000
	solDecimals    = 9
)

// ValidateAmount narrows an arbitrary precision amount to the u64 the program
// accepts. Zero passes; the program decides whether zero is meaningful.
func ValidateAmount(amount math.Int) (uint64, error) {
	if amount.IsNil() {
		return 0, fmt.Errorf("%w: amount is required", ErrArgumentOutOfRange)
	}
	if amount.IsNegative() {
		return 0, fmt.Errorf("%w: amount %s is negative", ErrArgumentOutOfRange, amount)
	}
	if !amount.IsUint64() {
		return 0, fmt.Errorf("%w: amount %s exceeds 64 bits", ErrArgumentOutOfRange, amount)
	}
	return amount.Uint64(), nil
}

// ParseSOL converts a decimal SOL string ("1.5") into lamports. Inputs with more
// precision than one lamport are rejected rather than rounded.
func ParseSOL(raw string) (math.Int, error) {
	dec, err := math.LegacyNewDecFromStr(strings.TrimSpace(raw))
	if err != nil {
		return math.Int{}, fmt.Errorf("%w: invalid SOL amount %q: %v", ErrArgumentOutOfRange, raw, err)
	}
	lamports := dec.MulInt64(LamportsPerSOL)
	if !lamports.IsInteger() {
		return math.Int{}, fmt.Errorf("%w: SOL amount %q has more than %d decimals", ErrArgumentOutOfRange, raw, solDecimals)
	}
	return lamports.TruncateInt(), nil
}

// ParseLamports parses a base-10 lamport amount of arbitrary size.
func ParseLamports(raw string) (math.Int, error) {
	amount, ok := math.NewIntFromString(strings.TrimSpace(raw))
	if !ok {
		return math.Int{}, fmt.Errorf("%w: invalid lamport amount %q", ErrArgumentOutOfRange, raw)
	}
	return amount, nil
}

func FormatSOL(lamports uint64) string {
	whole := lamports / LamportsPerSOL
	frac := lamports % LamportsPerSOL
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}
	fracText := strings.TrimRight(fmt.Sprintf("%09d", frac), "0")
	return strconv.FormatUint(whole, 10) + "." + fracText
}
