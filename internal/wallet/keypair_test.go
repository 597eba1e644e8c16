package wallet

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/require"
)

var testProgramID = solana.MustPublicKeyFromBase58("3dGV3HXpcuYTifzFg8dCCMxgDEVhQpHtoCLJXAcK6PAE")

type senderFunc func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

func (f senderFunc) Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return f(ctx, tx)
}

func assembleClaim(t *testing.T, payer solana.PublicKey) *lottery.Transaction {
	t.Helper()
	b, err := lottery.NewBuilder(testProgramID, lottery.DefaultOperationTags())
	require.NoError(t, err)
	ix, err := b.ClaimReward(payer, payer)
	require.NoError(t, err)
	var hash solana.Hash
	hash[0] = 9
	tx, err := lottery.Assemble([]solana.Instruction{ix}, payer, lottery.FreshnessToken{Blockhash: hash, LastValidBlockHeight: 10})
	require.NoError(t, err)
	return tx
}

func TestKeypair_SignAndSend(t *testing.T) {
	t.Parallel()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	var sent *solana.Transaction
	w, err := NewKeypair(key, senderFunc(func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
		sent = tx
		return tx.Signatures[0], nil
	}))
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), w.PublicKey())

	tx := assembleClaim(t, key.PublicKey())
	sig, err := w.SignAndSend(context.Background(), tx)
	require.NoError(t, err)

	require.NotNil(t, sent)
	require.Len(t, sent.Signatures, 1)
	require.Equal(t, sig, sent.Signatures[0])
	require.NoError(t, sent.VerifySignatures())
	require.Empty(t, tx.Solana().Signatures)
}

func TestKeypair_ForeignSignerFails(t *testing.T) {
	t.Parallel()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	other, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	w, err := NewKeypair(key, senderFunc(func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
		t.Fatal("unsigned transaction must not be sent")
		return solana.Signature{}, nil
	}))
	require.NoError(t, err)

	_, err = w.SignAndSend(context.Background(), assembleClaim(t, other.PublicKey()))
	require.Error(t, err)
}

func TestLoadKeypair(t *testing.T) {
	t.Parallel()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)

	raw := make([]int, len(key))
	for i, b := range key {
		raw[i] = int(b)
	}
	body, err := json.Marshal(raw)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id.json")
	require.NoError(t, os.WriteFile(path, body, 0o600))

	sender := senderFunc(func(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
		return solana.Signature{}, nil
	})
	w, err := LoadKeypair(path, sender)
	require.NoError(t, err)
	require.Equal(t, key.PublicKey(), w.PublicKey())

	_, err = LoadKeypair(filepath.Join(t.TempDir(), "missing.json"), sender)
	require.Error(t, err)

	_, err = NewKeypair(key, nil)
	require.Error(t, err)
}

var _ chain.Wallet = (*Keypair)(nil)
