package lottery

import (
	"bytes"
	"errors"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("3dGV3HXpcuYTifzFg8dCCMxgDEVhQpHtoCLJXAcK6PAE")

func testKey(n int) solana.PublicKey {
	raw := make([]byte, solana.PublicKeyLength)
	for i := range raw {
		raw[i] = byte(n + i)
	}
	return solana.PublicKeyFromBytes(raw)
}

func TestDerive_Deterministic(t *testing.T) {
	t.Parallel()

	user := testKey(7)
	first, err := DeriveUserDepositAddress(testProgramID, user)
	require.NoError(t, err)
	second, err := DeriveUserDepositAddress(testProgramID, user)
	require.NoError(t, err)
	require.Equal(t, first, second)

	pool1, err := DerivePoolAddress(testProgramID)
	require.NoError(t, err)
	pool2, err := DerivePoolAddress(testProgramID)
	require.NoError(t, err)
	require.Equal(t, pool1, pool2)
}

func TestDerive_MatchesRuntimeSearch(t *testing.T) {
	t.Parallel()

	user := testKey(3)
	want, wantBump, err := solana.FindProgramAddress([][]byte{UserDepositSeed, user.Bytes()}, testProgramID)
	require.NoError(t, err)

	got, err := DeriveUserDepositAddress(testProgramID, user)
	require.NoError(t, err)
	require.Equal(t, want, got.Address)
	require.Equal(t, wantBump, got.Bump)
}

func TestDerive_SeedOrderMatters(t *testing.T) {
	t.Parallel()

	user := testKey(11)
	ordered, err := Derive(testProgramID, UserDepositSeed, user.Bytes())
	require.NoError(t, err)
	swapped, err := Derive(testProgramID, user.Bytes(), UserDepositSeed)
	require.NoError(t, err)
	require.NotEqual(t, ordered.Address, swapped.Address)
}

func TestDerive_DistinctSeedSets(t *testing.T) {
	t.Parallel()

	pool, err := DerivePoolAddress(testProgramID)
	require.NoError(t, err)
	vault, err := DeriveVaultAddress(testProgramID)
	require.NoError(t, err)
	userA, err := DeriveUserDepositAddress(testProgramID, testKey(1))
	require.NoError(t, err)
	userB, err := DeriveUserDepositAddress(testProgramID, testKey(2))
	require.NoError(t, err)

	seen := map[solana.PublicKey]struct{}{}
	for _, pa := range []ProgramAddress{pool, vault, userA, userB} {
		_, dup := seen[pa.Address]
		require.False(t, dup, "duplicate address %s", pa.Address)
		seen[pa.Address] = struct{}{}
	}
}

func TestDerive_Exhausted(t *testing.T) {
	t.Parallel()

	t.Run("no bump yields an off-curve address", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		_, err := derive(func([][]byte, solana.PublicKey) (solana.PublicKey, error) {
			attempts++
			return solana.PublicKey{}, errors.New("on curve")
		}, testProgramID, [][]byte{PoolSeed})
		require.ErrorIs(t, err, ErrDerivationExhausted)
		require.Equal(t, 256, attempts)
	})

	t.Run("bump search goes from 255 down", func(t *testing.T) {
		t.Parallel()
		var bumps []byte
		pa, err := derive(func(seeds [][]byte, _ solana.PublicKey) (solana.PublicKey, error) {
			bump := seeds[len(seeds)-1][0]
			bumps = append(bumps, bump)
			if bump > 250 {
				return solana.PublicKey{}, errors.New("on curve")
			}
			return testKey(int(bump)), nil
		}, testProgramID, [][]byte{PoolSeed})
		require.NoError(t, err)
		require.Equal(t, uint8(250), pa.Bump)
		require.True(t, bytes.Equal([]byte{255, 254, 253, 252, 251, 250}, bumps))
	})

	t.Run("seed too long", func(t *testing.T) {
		t.Parallel()
		_, err := Derive(testProgramID, bytes.Repeat([]byte{1}, 33))
		require.ErrorIs(t, err, ErrDerivationExhausted)
		require.Equal(t, KindDerivationExhausted, KindOf(err))
	})

	t.Run("too many seeds", func(t *testing.T) {
		t.Parallel()
		seeds := make([][]byte, 16)
		for i := range seeds {
			seeds[i] = []byte{byte(i)}
		}
		_, err := Derive(testProgramID, seeds...)
		require.ErrorIs(t, err, ErrDerivationExhausted)
	})
}

func TestMustDerive(t *testing.T) {
	t.Parallel()

	pool, err := DerivePoolAddress(testProgramID)
	require.NoError(t, err)
	require.Equal(t, pool.Address, MustDerivePoolAddress(testProgramID))

	deposit, err := DeriveUserDepositAddress(testProgramID, testKey(5))
	require.NoError(t, err)
	require.Equal(t, deposit.Address, MustDeriveUserDepositAddress(testProgramID, testKey(5)))
}
