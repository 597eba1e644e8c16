package client

import (
	"bytes"
	"cmp"
	"slices"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/gagliardetto/solana-go"
)

// RankCandidates returns the deposit record addresses of the n largest
// non-empty deposits, largest first. Equal amounts order by address so the
// choice is stable across reads.
func RankCandidates(records []chain.DepositRecord, n int) []solana.PublicKey {
	if n <= 0 {
		n = lottery.MaxSelectionCandidates
	}
	ranked := make([]chain.DepositRecord, 0, len(records))
	for _, r := range records {
		if !r.IsEmpty() {
			ranked = append(ranked, r)
		}
	}
	slices.SortFunc(ranked, func(a, b chain.DepositRecord) int {
		if c := cmp.Compare(b.Amount, a.Amount); c != 0 {
			return c
		}
		return bytes.Compare(a.Address[:], b.Address[:])
	})

	out := make([]solana.PublicKey, 0, min(n, len(ranked)))
	for _, r := range ranked[:min(n, len(ranked))] {
		out = append(out, r.Address)
	}
	return out
}

// CandidatesForOwners maps wallet owners to their deposit record addresses.
func (c *Client) CandidatesForOwners(owners []solana.PublicKey) ([]solana.PublicKey, error) {
	out := make([]solana.PublicKey, 0, len(owners))
	for _, owner := range owners {
		addr, err := lottery.DeriveUserDepositAddress(c.ProgramID(), owner)
		if err != nil {
			return nil, err
		}
		out = append(out, addr.Address)
	}
	return out, nil
}
