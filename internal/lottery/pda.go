package lottery

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

var (
	PoolSeed        = []byte("sol_pool_vrf")
	UserDepositSeed = []byte("user_deposit")
	VaultSeed       = []byte("sol_vault")
)

const (
	maxSeeds      = 16
	maxSeedLength = 32
)

type ProgramAddress struct {
	Address solana.PublicKey
	Bump    uint8
}

type createAddressFunc func(seeds [][]byte, programID solana.PublicKey) (solana.PublicKey, error)

// Derive searches bumps 255 down to 0 for the first seed set (seeds ++ [bump])
// that hashes to an address off the ed25519 curve.
func Derive(programID solana.PublicKey, seeds ...[]byte) (ProgramAddress, error) {
	return derive(solana.CreateProgramAddress, programID, seeds)
}

func derive(create createAddressFunc, programID solana.PublicKey, seeds [][]byte) (ProgramAddress, error) {
	if len(seeds)+1 > maxSeeds {
		return ProgramAddress{}, fmt.Errorf("%w: %d seeds exceed the limit of %d", ErrDerivationExhausted, len(seeds), maxSeeds-1)
	}
	for i, seed := range seeds {
		if len(seed) > maxSeedLength {
			return ProgramAddress{}, fmt.Errorf("%w: seed %d is %d bytes (max %d)", ErrDerivationExhausted, i, len(seed), maxSeedLength)
		}
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		address, err := create(withBump, programID)
		if err != nil {
			continue
		}
		return ProgramAddress{Address: address, Bump: uint8(bump)}, nil
	}
	return ProgramAddress{}, fmt.Errorf("%w: no valid bump for program %s", ErrDerivationExhausted, programID)
}

func DerivePoolAddress(programID solana.PublicKey) (ProgramAddress, error) {
	return Derive(programID, PoolSeed)
}

func DeriveUserDepositAddress(programID solana.PublicKey, user solana.PublicKey) (ProgramAddress, error) {
	return Derive(programID, UserDepositSeed, user.Bytes())
}

func DeriveVaultAddress(programID solana.PublicKey) (ProgramAddress, error) {
	return Derive(programID, VaultSeed)
}

func MustDerivePoolAddress(programID solana.PublicKey) solana.PublicKey {
	pa, err := DerivePoolAddress(programID)
	if err != nil {
		panic(fmt.Errorf("derive pool address: %w", err))
	}
	return pa.Address
}

func MustDeriveUserDepositAddress(programID solana.PublicKey, user solana.PublicKey) solana.PublicKey {
	pa, err := DeriveUserDepositAddress(programID, user)
	if err != nil {
		panic(fmt.Errorf("derive user deposit address: %w", err))
	}
	return pa.Address
}
