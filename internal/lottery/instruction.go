package lottery

import (
	"bytes"
	"fmt"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
)

// RecentBlockhashesSysvarID is read by the program as an entropy source during
// winner selection.
var RecentBlockhashesSysvarID = solana.SysVarRecentBlockHashesPubkey

const MaxSelectionCandidates = 4

type AccountRef struct {
	Address    solana.PublicKey
	IsSigner   bool
	IsWritable bool
}

func (r AccountRef) meta() *solana.AccountMeta {
	return solana.NewAccountMeta(r.Address, r.IsWritable, r.IsSigner)
}

// Instruction is an immutable, ABI-checked call into the lottery program. It
// satisfies solana.Instruction.
type Instruction struct {
	programID solana.PublicKey
	op        Operation
	tag       Discriminator
	refs      []AccountRef
	data      []byte
}

func (ix *Instruction) ProgramID() solana.PublicKey {
	return ix.programID
}

func (ix *Instruction) Accounts() []*solana.AccountMeta {
	out := make([]*solana.AccountMeta, len(ix.refs))
	for i, ref := range ix.refs {
		out[i] = ref.meta()
	}
	return out
}

func (ix *Instruction) Data() ([]byte, error) {
	return bytes.Clone(ix.data), nil
}

func (ix *Instruction) Operation() Operation {
	return ix.op
}

func (ix *Instruction) Tag() Discriminator {
	return ix.tag
}

func (ix *Instruction) AccountRefs() []AccountRef {
	return append([]AccountRef(nil), ix.refs...)
}

type slotKind uint8

const (
	slotAny slotKind = iota
	slotSystemProgram
	slotRecentBlockhashes
)

type accountSlot struct {
	name     string
	signer   bool
	writable bool
	kind     slotKind
}

type accountShape struct {
	fixed []accountSlot
	// repeated slots are inserted after fixedHead entries of fixed.
	fixedHead   int
	repeated    *accountSlot
	minRepeated int
	maxRepeated int
}

var accountShapes = map[Operation]accountShape{
	OpDeposit:  userFundsShape,
	OpWithdraw: userFundsShape,
	OpInitializePool: {fixed: []accountSlot{
		{name: "pool", writable: true},
		{name: "admin", signer: true, writable: true},
		{name: "system_program", kind: slotSystemProgram},
	}},
	OpSelectWinner: {
		fixed: []accountSlot{
			{name: "admin", signer: true, writable: true},
			{name: "pool", writable: true},
			{name: "recent_blockhashes", kind: slotRecentBlockhashes},
		},
		fixedHead:   2,
		repeated:    &accountSlot{name: "candidate_deposit"},
		minRepeated: 1,
		maxRepeated: MaxSelectionCandidates,
	},
	OpClaimReward: {fixed: []accountSlot{
		{name: "authority", signer: true, writable: true},
		{name: "winner", signer: true, writable: true},
		{name: "pool", writable: true},
		{name: "system_program", kind: slotSystemProgram},
	}},
}

var userFundsShape = accountShape{fixed: []accountSlot{
	{name: "user", signer: true, writable: true},
	{name: "pool", writable: true},
	{name: "user_deposit", writable: true},
	{name: "system_program", kind: slotSystemProgram},
}}

func (s accountShape) expand(count int) ([]accountSlot, error) {
	if s.repeated == nil {
		if count != len(s.fixed) {
			return nil, fmt.Errorf("want %d accounts, got %d", len(s.fixed), count)
		}
		return s.fixed, nil
	}
	extra := count - len(s.fixed)
	if extra < s.minRepeated || extra > s.maxRepeated {
		return nil, fmt.Errorf("want %d-%d accounts, got %d", len(s.fixed)+s.minRepeated, len(s.fixed)+s.maxRepeated, count)
	}
	out := make([]accountSlot, 0, count)
	out = append(out, s.fixed[:s.fixedHead]...)
	for i := 0; i < extra; i++ {
		out = append(out, *s.repeated)
	}
	return append(out, s.fixed[s.fixedHead:]...), nil
}

func checkSlot(slot accountSlot, ref AccountRef) error {
	if ref.IsSigner != slot.signer || ref.IsWritable != slot.writable {
		return fmt.Errorf("%s: want signer=%t writable=%t, got signer=%t writable=%t",
			slot.name, slot.signer, slot.writable, ref.IsSigner, ref.IsWritable)
	}
	// The system program id is the all-zero key, so the empty check only
	// applies to derived and caller-supplied slots.
	switch slot.kind {
	case slotSystemProgram:
		if !ref.Address.Equals(solana.SystemProgramID) {
			return fmt.Errorf("%s: want %s, got %s", slot.name, solana.SystemProgramID, ref.Address)
		}
	case slotRecentBlockhashes:
		if !ref.Address.Equals(RecentBlockhashesSysvarID) {
			return fmt.Errorf("%s: want %s, got %s", slot.name, RecentBlockhashesSysvarID, ref.Address)
		}
	default:
		if ref.Address.IsZero() {
			return fmt.Errorf("%s: address is empty", slot.name)
		}
	}
	return nil
}

type Builder struct {
	programID solana.PublicKey
	codec     *Codec
}

func NewBuilder(programID solana.PublicKey, tags OperationTags) (*Builder, error) {
	if programID.IsZero() {
		return nil, fmt.Errorf("program id is required")
	}
	codec, err := NewCodec(tags)
	if err != nil {
		return nil, err
	}
	return &Builder{programID: programID, codec: codec}, nil
}

func (b *Builder) ProgramID() solana.PublicKey {
	return b.programID
}

func (b *Builder) Codec() *Codec {
	return b.codec
}

// Build checks refs and data against the program ABI for op and freezes them.
func (b *Builder) Build(op Operation, refs []AccountRef, data []byte) (*Instruction, error) {
	if !op.Valid() {
		return nil, fmt.Errorf("%w: unknown operation %s", ErrContractViolation, op)
	}
	shape := accountShapes[op]
	slots, err := shape.expand(len(refs))
	if err != nil {
		return nil, fmt.Errorf("%w: %s accounts: %v", ErrContractViolation, op, err)
	}
	for i, slot := range slots {
		if err := checkSlot(slot, refs[i]); err != nil {
			return nil, fmt.Errorf("%w: %s account %d %v", ErrContractViolation, op, i, err)
		}
	}

	tag, err := b.codec.Tag(op)
	if err != nil {
		return nil, err
	}
	wantLen := RecordTagSize
	if op.TakesAmount() {
		wantLen += 8
	}
	if len(data) != wantLen {
		return nil, fmt.Errorf("%w: %s data is %d bytes, want %d", ErrContractViolation, op, len(data), wantLen)
	}
	if got, err := b.codec.DecodeOperation(data); err != nil || got != op {
		return nil, fmt.Errorf("%w: %s data tag %x, want %s", ErrContractViolation, op, data[:RecordTagSize], tag)
	}

	return &Instruction{
		programID: b.programID,
		op:        op,
		tag:       tag,
		refs:      append([]AccountRef(nil), refs...),
		data:      bytes.Clone(data),
	}, nil
}

func (b *Builder) Deposit(user solana.PublicKey, amount math.Int) (*Instruction, error) {
	return b.userFunds(OpDeposit, user, amount)
}

func (b *Builder) Withdraw(user solana.PublicKey, amount math.Int) (*Instruction, error) {
	return b.userFunds(OpWithdraw, user, amount)
}

func (b *Builder) userFunds(op Operation, user solana.PublicKey, amount math.Int) (*Instruction, error) {
	if _, err := ValidateAmount(amount); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.IsZero() {
		return nil, fmt.Errorf("%w: %s user is required", ErrArgumentOutOfRange, op)
	}
	pool, err := DerivePoolAddress(b.programID)
	if err != nil {
		return nil, fmt.Errorf("derive pool address: %w", err)
	}
	deposit, err := DeriveUserDepositAddress(b.programID, user)
	if err != nil {
		return nil, fmt.Errorf("derive user deposit address: %w", err)
	}
	data, err := b.codec.EncodeArgs(op, Args{Amount: amount})
	if err != nil {
		return nil, err
	}
	return b.Build(op, []AccountRef{
		{Address: user, IsSigner: true, IsWritable: true},
		{Address: pool.Address, IsWritable: true},
		{Address: deposit.Address, IsWritable: true},
		{Address: solana.SystemProgramID},
	}, data)
}

func (b *Builder) InitializePool(admin solana.PublicKey) (*Instruction, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("%w: admin is required", ErrArgumentOutOfRange)
	}
	pool, err := DerivePoolAddress(b.programID)
	if err != nil {
		return nil, fmt.Errorf("derive pool address: %w", err)
	}
	data, err := b.codec.EncodeArgs(OpInitializePool, Args{})
	if err != nil {
		return nil, err
	}
	return b.Build(OpInitializePool, []AccountRef{
		{Address: pool.Address, IsWritable: true},
		{Address: admin, IsSigner: true, IsWritable: true},
		{Address: solana.SystemProgramID},
	}, data)
}

// SelectWinner takes the deposit record addresses of up to four candidates. The
// deployed program declares four candidate slots, so a shorter list is padded by
// repeating its last entry; duplicates only weigh once per slot on-chain.
func (b *Builder) SelectWinner(admin solana.PublicKey, candidateDeposits []solana.PublicKey) (*Instruction, error) {
	if admin.IsZero() {
		return nil, fmt.Errorf("%w: admin is required", ErrArgumentOutOfRange)
	}
	if len(candidateDeposits) == 0 || len(candidateDeposits) > MaxSelectionCandidates {
		return nil, fmt.Errorf("%w: select winner needs 1-%d candidates, got %d", ErrArgumentOutOfRange, MaxSelectionCandidates, len(candidateDeposits))
	}
	pool, err := DerivePoolAddress(b.programID)
	if err != nil {
		return nil, fmt.Errorf("derive pool address: %w", err)
	}
	data, err := b.codec.EncodeArgs(OpSelectWinner, Args{})
	if err != nil {
		return nil, err
	}

	refs := make([]AccountRef, 0, MaxSelectionCandidates+3)
	refs = append(refs,
		AccountRef{Address: admin, IsSigner: true, IsWritable: true},
		AccountRef{Address: pool.Address, IsWritable: true},
	)
	for i := 0; i < MaxSelectionCandidates; i++ {
		candidate := candidateDeposits[min(i, len(candidateDeposits)-1)]
		refs = append(refs, AccountRef{Address: candidate})
	}
	refs = append(refs, AccountRef{Address: RecentBlockhashesSysvarID})
	return b.Build(OpSelectWinner, refs, data)
}

func (b *Builder) ClaimReward(authority, winner solana.PublicKey) (*Instruction, error) {
	if authority.IsZero() || winner.IsZero() {
		return nil, fmt.Errorf("%w: authority and winner are required", ErrArgumentOutOfRange)
	}
	pool, err := DerivePoolAddress(b.programID)
	if err != nil {
		return nil, fmt.Errorf("derive pool address: %w", err)
	}
	data, err := b.codec.EncodeArgs(OpClaimReward, Args{})
	if err != nil {
		return nil, err
	}
	return b.Build(OpClaimReward, []AccountRef{
		{Address: authority, IsSigner: true, IsWritable: true},
		{Address: winner, IsSigner: true, IsWritable: true},
		{Address: pool.Address, IsWritable: true},
		{Address: solana.SystemProgramID},
	}, data)
}
