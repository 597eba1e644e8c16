package lottery

import (
	"testing"

	"cosmossdk.io/math"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

func newTestBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(testProgramID, DefaultOperationTags())
	require.NoError(t, err)
	return b
}

func TestBuilder_Deposit(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	user := testKey(1)
	ix, err := b.Deposit(user, math.NewInt(1_000_000_000))
	require.NoError(t, err)

	pool := MustDerivePoolAddress(testProgramID)
	deposit := MustDeriveUserDepositAddress(testProgramID, user)
	require.Equal(t, []AccountRef{
		{Address: user, IsSigner: true, IsWritable: true},
		{Address: pool, IsWritable: true},
		{Address: deposit, IsWritable: true},
		{Address: solana.SystemProgramID},
	}, ix.AccountRefs())

	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 16)
	require.Equal(t, DefaultOperationTags()[OpDeposit], ix.Tag())
	require.Equal(t, OpDeposit, ix.Operation())
	require.Equal(t, testProgramID, ix.ProgramID())

	metas := ix.Accounts()
	require.Len(t, metas, 4)
	require.True(t, metas[0].IsSigner)
	require.True(t, metas[0].IsWritable)
	require.False(t, metas[3].IsWritable)
}

func TestBuilder_DepositValidatesBeforeDerive(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	_, err := b.Deposit(testKey(1), math.NewInt(-1))
	require.ErrorIs(t, err, ErrArgumentOutOfRange)

	_, err = b.Withdraw(solana.PublicKey{}, math.NewInt(1))
	require.ErrorIs(t, err, ErrArgumentOutOfRange)
}

func TestBuilder_Withdraw(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	ix, err := b.Withdraw(testKey(2), math.NewInt(5))
	require.NoError(t, err)
	require.Len(t, ix.AccountRefs(), 4)
	require.Equal(t, DefaultOperationTags()[OpWithdraw], ix.Tag())
}

func TestBuilder_InitializePool(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	admin := testKey(3)
	ix, err := b.InitializePool(admin)
	require.NoError(t, err)
	require.Equal(t, []AccountRef{
		{Address: MustDerivePoolAddress(testProgramID), IsWritable: true},
		{Address: admin, IsSigner: true, IsWritable: true},
		{Address: solana.SystemProgramID},
	}, ix.AccountRefs())
	data, err := ix.Data()
	require.NoError(t, err)
	require.Len(t, data, 8)
}

func TestBuilder_SelectWinner(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	admin := testKey(4)

	t.Run("pads to four candidates", func(t *testing.T) {
		t.Parallel()
		c1, c2 := testKey(50), testKey(60)
		ix, err := b.SelectWinner(admin, []solana.PublicKey{c1, c2})
		require.NoError(t, err)
		refs := ix.AccountRefs()
		require.Len(t, refs, 7)
		require.Equal(t, AccountRef{Address: admin, IsSigner: true, IsWritable: true}, refs[0])
		require.Equal(t, AccountRef{Address: MustDerivePoolAddress(testProgramID), IsWritable: true}, refs[1])
		require.Equal(t, []AccountRef{{Address: c1}, {Address: c2}, {Address: c2}, {Address: c2}}, refs[2:6])
		require.Equal(t, AccountRef{Address: RecentBlockhashesSysvarID}, refs[6])
	})

	t.Run("rejects empty and oversized candidate lists", func(t *testing.T) {
		t.Parallel()
		_, err := b.SelectWinner(admin, nil)
		require.ErrorIs(t, err, ErrArgumentOutOfRange)
		_, err = b.SelectWinner(admin, []solana.PublicKey{testKey(1), testKey(2), testKey(3), testKey(4), testKey(5)})
		require.ErrorIs(t, err, ErrArgumentOutOfRange)
	})

	t.Run("build accepts fewer candidate slots", func(t *testing.T) {
		t.Parallel()
		data, err := b.Codec().EncodeArgs(OpSelectWinner, Args{})
		require.NoError(t, err)
		ix, err := b.Build(OpSelectWinner, []AccountRef{
			{Address: admin, IsSigner: true, IsWritable: true},
			{Address: MustDerivePoolAddress(testProgramID), IsWritable: true},
			{Address: testKey(70)},
			{Address: RecentBlockhashesSysvarID},
		}, data)
		require.NoError(t, err)
		require.Len(t, ix.AccountRefs(), 4)
	})
}

func TestBuilder_ClaimReward(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	me := testKey(8)
	ix, err := b.ClaimReward(me, me)
	require.NoError(t, err)
	require.Equal(t, []AccountRef{
		{Address: me, IsSigner: true, IsWritable: true},
		{Address: me, IsSigner: true, IsWritable: true},
		{Address: MustDerivePoolAddress(testProgramID), IsWritable: true},
		{Address: solana.SystemProgramID},
	}, ix.AccountRefs())
}

func TestBuilder_BuildRejectsShapeViolations(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	user := testKey(1)
	pool := MustDerivePoolAddress(testProgramID)
	deposit := MustDeriveUserDepositAddress(testProgramID, user)
	data, err := b.Codec().EncodeArgs(OpDeposit, AmountArgs(10))
	require.NoError(t, err)

	valid := func() []AccountRef {
		return []AccountRef{
			{Address: user, IsSigner: true, IsWritable: true},
			{Address: pool, IsWritable: true},
			{Address: deposit, IsWritable: true},
			{Address: solana.SystemProgramID},
		}
	}

	tests := []struct {
		name   string
		refs   func() []AccountRef
		data   []byte
		op     Operation
		substr string
	}{
		{name: "missing account", refs: func() []AccountRef { return valid()[:3] }, data: data, op: OpDeposit, substr: "want 4 accounts"},
		{name: "user not signer", refs: func() []AccountRef {
			r := valid()
			r[0].IsSigner = false
			return r
		}, data: data, op: OpDeposit, substr: "user"},
		{name: "pool read-only", refs: func() []AccountRef {
			r := valid()
			r[1].IsWritable = false
			return r
		}, data: data, op: OpDeposit, substr: "pool"},
		{name: "wrong system program", refs: func() []AccountRef {
			r := valid()
			r[3].Address = testKey(99)
			return r
		}, data: data, op: OpDeposit, substr: "system_program"},
		{name: "empty user", refs: func() []AccountRef {
			r := valid()
			r[0].Address = solana.PublicKey{}
			return r
		}, data: data, op: OpDeposit, substr: "user: address is empty"},
		{name: "empty deposit record", refs: func() []AccountRef {
			r := valid()
			r[2].Address = solana.PublicKey{}
			return r
		}, data: data, op: OpDeposit, substr: "user_deposit: address is empty"},
		{name: "data for another operation", refs: valid, data: data, op: OpWithdraw, substr: "data tag"},
		{name: "truncated data", refs: valid, data: data[:8], op: OpDeposit, substr: "want 16"},
		{name: "unknown operation", refs: valid, data: data, op: Operation(77), substr: "unknown operation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ix, err := b.Build(tt.op, tt.refs(), tt.data)
			require.ErrorIs(t, err, ErrContractViolation)
			require.Contains(t, err.Error(), tt.substr)
			require.Nil(t, ix)
		})
	}

}

func TestInstruction_Immutable(t *testing.T) {
	t.Parallel()

	b := newTestBuilder(t)
	ix, err := b.Deposit(testKey(1), math.NewInt(7))
	require.NoError(t, err)

	data, err := ix.Data()
	require.NoError(t, err)
	data[0] = 0
	refs := ix.AccountRefs()
	refs[0].Address = testKey(200)
	metas := ix.Accounts()
	metas[1].IsWritable = false

	again, err := ix.Data()
	require.NoError(t, err)
	require.Equal(t, byte(242), again[0])
	require.Equal(t, testKey(1), ix.AccountRefs()[0].Address)
	require.True(t, ix.Accounts()[1].IsWritable)
}

func TestRecentBlockhashesSysvarID(t *testing.T) {
	t.Parallel()

	require.Equal(t, solana.SysVarRecentBlockHashesPubkey, RecentBlockhashesSysvarID)
	require.Equal(t, "SysvarRecentB1ockHashes11111111111111111111", RecentBlockhashesSysvarID.String())
}

func TestBuilder_AcceptsSystemProgramSlot(t *testing.T) {
	t.Parallel()

	// The system program id is the all-zero key.
	require.True(t, solana.SystemProgramID.IsZero())

	b := newTestBuilder(t)
	for _, build := range []func() (*Instruction, error){
		func() (*Instruction, error) { return b.Deposit(testKey(1), math.NewInt(1)) },
		func() (*Instruction, error) { return b.Withdraw(testKey(1), math.NewInt(1)) },
		func() (*Instruction, error) { return b.InitializePool(testKey(1)) },
		func() (*Instruction, error) { return b.ClaimReward(testKey(1), testKey(1)) },
	} {
		ix, err := build()
		require.NoError(t, err)
		refs := ix.AccountRefs()
		require.Equal(t, solana.SystemProgramID, refs[len(refs)-1].Address)
	}
}

func TestNewBuilder_RequiresProgramID(t *testing.T) {
	t.Parallel()

	_, err := NewBuilder(solana.PublicKey{}, DefaultOperationTags())
	require.Error(t, err)
}
