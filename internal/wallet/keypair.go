package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
)

// Sender delivers a signed transaction to the cluster.
type Sender interface {
	Submit(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
}

// Keypair is a local signer backed by a solana-keygen key file. It signs for
// its own key only.
type Keypair struct {
	key    solana.PrivateKey
	sender Sender
}

func LoadKeypair(path string, sender Sender) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %q: %w", path, err)
	}
	return NewKeypair(key, sender)
}

func NewKeypair(key solana.PrivateKey, sender Sender) (*Keypair, error) {
	if len(key) != 64 {
		return nil, errors.New("private key must be 64 bytes")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	return &Keypair{key: key, sender: sender}, nil
}

func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

// Sign returns a signed copy of tx; tx itself stays unsigned so it can be
// re-assembled and signed again.
func (k *Keypair) Sign(tx *lottery.Transaction) (*solana.Transaction, error) {
	if tx == nil {
		return nil, errors.New("transaction is required")
	}
	wire := *tx.Solana()
	wire.Signatures = nil

	pub := k.key.PublicKey()
	_, err := wire.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(key) {
			return &k.key
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("sign transaction: %w", err)
	}
	return &wire, nil
}

func (k *Keypair) SignAndSend(ctx context.Context, tx *lottery.Transaction) (solana.Signature, error) {
	signed, err := k.Sign(tx)
	if err != nil {
		return solana.Signature{}, err
	}
	return k.sender.Submit(ctx, signed)
}
