package lottery

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"cosmossdk.io/math"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Args holds the typed arguments of an operation. Only Deposit and Withdraw read
// Amount.
type Args struct {
	Amount math.Int
}

func AmountArgs(lamports uint64) Args {
	return Args{Amount: math.NewIntFromUint64(lamports)}
}

type Codec struct {
	tags OperationTags
}

func NewCodec(tags OperationTags) (*Codec, error) {
	if err := tags.Validate(); err != nil {
		return nil, fmt.Errorf("operation tags: %w", err)
	}
	return &Codec{tags: tags.Clone()}, nil
}

func (c *Codec) Tag(op Operation) (Discriminator, error) {
	return c.tags.Tag(op)
}

// EncodeArgs lays out tag ++ arguments exactly as the program deserializes them.
func (c *Codec) EncodeArgs(op Operation, args Args) ([]byte, error) {
	tag, err := c.tags.Tag(op)
	if err != nil {
		return nil, err
	}

	var amount uint64
	if op.TakesAmount() {
		amount, err = ValidateAmount(args.Amount)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", op, err)
		}
	}

	buf := new(bytes.Buffer)
	enc := bin.NewBorshEncoder(buf)
	if err := enc.WriteBytes(tag[:], false); err != nil {
		return nil, fmt.Errorf("encode %s tag: %w", op, err)
	}
	if op.TakesAmount() {
		if err := enc.WriteUint64(amount, binary.LittleEndian); err != nil {
			return nil, fmt.Errorf("encode %s amount: %w", op, err)
		}
	}
	return buf.Bytes(), nil
}

// DecodeOperation identifies the operation a raw instruction payload invokes.
func (c *Codec) DecodeOperation(data []byte) (Operation, error) {
	if len(data) < RecordTagSize {
		return 0, fmt.Errorf("%w: instruction data is %d bytes", ErrContractViolation, len(data))
	}
	var tag Discriminator
	copy(tag[:], data[:RecordTagSize])
	for op, candidate := range c.tags {
		if candidate == tag {
			return op, nil
		}
	}
	return 0, fmt.Errorf("%w: unknown operation tag %s", ErrContractViolation, tag)
}

func DecodePool(data []byte) (*PoolAccount, error) {
	if len(data) < PoolAccountSize {
		return nil, fmt.Errorf("%w: pool account is %d bytes, want %d", ErrMalformedAccount, len(data), PoolAccountSize)
	}
	dec := bin.NewBorshDecoder(data)
	if err := readRecordTag(dec, PoolRecordTag, "pool"); err != nil {
		return nil, err
	}

	var out PoolAccount
	var err error
	if out.TotalDeposited, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, malformed("pool total_deposited", err)
	}
	if out.TotalDepositors, err = dec.ReadUint32(binary.LittleEndian); err != nil {
		return nil, malformed("pool total_depositors", err)
	}
	if out.LastRewardTimestamp, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return nil, malformed("pool last_reward_time", err)
	}
	if out.RewardPoolBalance, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, malformed("pool reward_pool", err)
	}
	if out.Admin, err = readPublicKey(dec); err != nil {
		return nil, malformed("pool admin", err)
	}
	return &out, nil
}

func DecodeUserDeposit(data []byte) (*UserDepositAccount, error) {
	if len(data) < UserDepositAccountSize {
		return nil, fmt.Errorf("%w: user deposit account is %d bytes, want at least %d", ErrMalformedAccount, len(data), UserDepositAccountSize)
	}
	dec := bin.NewBorshDecoder(data)
	if err := readRecordTag(dec, UserDepositRecordTag, "user deposit"); err != nil {
		return nil, err
	}

	var out UserDepositAccount
	var err error
	if out.Owner, err = readPublicKey(dec); err != nil {
		return nil, malformed("user deposit owner", err)
	}
	if out.Amount, err = dec.ReadUint64(binary.LittleEndian); err != nil {
		return nil, malformed("user deposit amount", err)
	}
	if out.DepositTimestamp, err = dec.ReadInt64(binary.LittleEndian); err != nil {
		return nil, malformed("user deposit deposit_time", err)
	}
	return &out, nil
}

// Marshal re-encodes the record with its account tag, byte-for-byte what the
// program stores.
func (p PoolAccount) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, PoolAccountSize))
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteBytes(PoolRecordTag[:], false)
	_ = enc.WriteUint64(p.TotalDeposited, binary.LittleEndian)
	_ = enc.WriteUint32(p.TotalDepositors, binary.LittleEndian)
	_ = enc.WriteInt64(p.LastRewardTimestamp, binary.LittleEndian)
	_ = enc.WriteUint64(p.RewardPoolBalance, binary.LittleEndian)
	_ = enc.WriteBytes(p.Admin[:], false)
	return buf.Bytes()
}

func (u UserDepositAccount) Marshal() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, UserDepositAccountSize))
	enc := bin.NewBorshEncoder(buf)
	_ = enc.WriteBytes(UserDepositRecordTag[:], false)
	_ = enc.WriteBytes(u.Owner[:], false)
	_ = enc.WriteUint64(u.Amount, binary.LittleEndian)
	_ = enc.WriteInt64(u.DepositTimestamp, binary.LittleEndian)
	return buf.Bytes()
}

func readRecordTag(dec *bin.Decoder, want Discriminator, what string) error {
	raw, err := dec.ReadNBytes(RecordTagSize)
	if err != nil {
		return malformed(what+" record tag", err)
	}
	if !bytes.Equal(raw, want[:]) {
		return fmt.Errorf("%w: %s record tag %x, want %s", ErrMalformedAccount, what, raw, want)
	}
	return nil
}

func readPublicKey(dec *bin.Decoder) (solana.PublicKey, error) {
	raw, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return solana.PublicKeyFromBytes(raw), nil
}

func malformed(field string, err error) error {
	return fmt.Errorf("%w: read %s: %v", ErrMalformedAccount, field, err)
}
