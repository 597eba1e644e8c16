package lottery

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

type Operation uint8

const (
	OpDeposit Operation = iota
	OpWithdraw
	OpInitializePool
	OpSelectWinner
	OpClaimReward
)

var operationNames = map[Operation]string{
	OpDeposit:        "deposit",
	OpWithdraw:       "withdraw",
	OpInitializePool: "initialize_pool",
	OpSelectWinner:   "select_winner",
	OpClaimReward:    "claim_reward",
}

func Operations() []Operation {
	return []Operation{OpDeposit, OpWithdraw, OpInitializePool, OpSelectWinner, OpClaimReward}
}

func (op Operation) String() string {
	if name, ok := operationNames[op]; ok {
		return name
	}
	return fmt.Sprintf("operation(%d)", uint8(op))
}

func (op Operation) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

func (op *Operation) UnmarshalText(text []byte) error {
	parsed, err := ParseOperation(string(text))
	if err != nil {
		return err
	}
	*op = parsed
	return nil
}

func (op Operation) Valid() bool {
	_, ok := operationNames[op]
	return ok
}

// TakesAmount reports whether the operation carries a u64 amount argument.
func (op Operation) TakesAmount() bool {
	return op == OpDeposit || op == OpWithdraw
}

func ParseOperation(raw string) (Operation, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "-", "_")
	for op, name := range operationNames {
		if name == normalized {
			return op, nil
		}
	}
	return 0, fmt.Errorf("unknown operation %q", raw)
}

type Discriminator [8]byte

func (d Discriminator) String() string {
	return hex.EncodeToString(d[:])
}

func ParseDiscriminator(raw string) (Discriminator, error) {
	var out Discriminator
	decoded, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(raw), "0x"))
	if err != nil {
		return out, fmt.Errorf("decode discriminator %q: %w", raw, err)
	}
	if len(decoded) != len(out) {
		return out, fmt.Errorf("discriminator %q must be %d bytes, got %d", raw, len(out), len(decoded))
	}
	copy(out[:], decoded)
	return out, nil
}

// AnchorInstructionDiscriminator is sha256("global:<name>")[:8].
func AnchorInstructionDiscriminator(name string) Discriminator {
	return sha256First8("global:" + name)
}

// AnchorAccountDiscriminator is sha256("account:<Name>")[:8].
func AnchorAccountDiscriminator(name string) Discriminator {
	return sha256First8("account:" + name)
}

func sha256First8(preimage string) Discriminator {
	hash := sha256.Sum256([]byte(preimage))
	var out Discriminator
	copy(out[:], hash[:8])
	return out
}

// OperationTags binds every operation to the tag the deployed program expects.
type OperationTags map[Operation]Discriminator

// DefaultOperationTags are the tags published in the deployed program's IDL.
func DefaultOperationTags() OperationTags {
	return OperationTags{
		OpDeposit:        {242, 35, 198, 137, 82, 225, 242, 182},
		OpWithdraw:       {183, 18, 70, 156, 148, 109, 161, 34},
		OpInitializePool: {175, 175, 109, 31, 13, 152, 155, 237},
		OpSelectWinner:   {102, 6, 61, 18, 1, 218, 243, 78},
		OpClaimReward:    {149, 95, 181, 242, 94, 90, 158, 162},
	}
}

func (t OperationTags) Tag(op Operation) (Discriminator, error) {
	tag, ok := t[op]
	if !ok {
		return Discriminator{}, fmt.Errorf("%w: no tag configured for %s", ErrContractViolation, op)
	}
	return tag, nil
}

// Validate checks that every operation has a tag and that no two operations share one.
func (t OperationTags) Validate() error {
	seen := make(map[Discriminator]Operation, len(t))
	for _, op := range Operations() {
		tag, ok := t[op]
		if !ok {
			return fmt.Errorf("missing tag for %s", op)
		}
		if other, dup := seen[tag]; dup {
			return fmt.Errorf("operations %s and %s share tag %s", other, op, tag)
		}
		seen[tag] = op
	}
	return nil
}

func (t OperationTags) Clone() OperationTags {
	out := make(OperationTags, len(t))
	for op, tag := range t {
		out[op] = tag
	}
	return out
}
