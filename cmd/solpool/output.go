package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/session"
	"github.com/spf13/cobra"
)

func render(w io.Writer, format string, v any, lines []string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}

func sol(lamports uint64) string {
	return lottery.FormatSOL(lamports) + " SOL"
}

func addressLines(a client.Addresses) []string {
	lines := []string{
		"program:      " + a.ProgramID.String(),
		"pool:         " + a.Pool.String(),
		"vault:        " + a.Vault.String(),
	}
	if !a.UserDeposit.IsZero() {
		lines = append(lines, "user deposit: "+a.UserDeposit.String())
	}
	return lines
}

func poolLines(pool lottery.PoolAccount, initialized bool, vault uint64, cooldown time.Duration) []string {
	if !initialized {
		return []string{"pool:               not initialized"}
	}
	lines := []string{
		"total deposited:    " + sol(pool.TotalDeposited),
		fmt.Sprintf("depositors:         %d", pool.TotalDepositors),
		"reward pool:        " + sol(pool.RewardPoolBalance),
		"vault balance:      " + sol(vault),
		"admin:              " + pool.Admin.String(),
	}
	if pool.LastRewardTimestamp > 0 {
		lines = append(lines, "last reward:        "+time.Unix(pool.LastRewardTimestamp, 0).UTC().Format(time.RFC3339))
	}
	if cooldown > 0 {
		lines = append(lines, "selection cooldown: "+cooldown.Round(time.Second).String())
	}
	return lines
}

func depositLines(deposit lottery.UserDepositAccount, wallet uint64) []string {
	lines := []string{"wallet balance:     " + sol(wallet)}
	if deposit.IsEmpty() {
		return append(lines, "deposit:            none")
	}
	return append(lines,
		"deposit:            "+sol(deposit.Amount),
		"deposited at:       "+time.Unix(deposit.DepositTimestamp, 0).UTC().Format(time.RFC3339),
	)
}

func statusLines(s client.Status) []string {
	lines := poolLines(s.Pool, s.PoolInitialized, s.VaultBalance, s.CooldownRemaining)
	if !s.Addresses.UserDeposit.IsZero() {
		lines = append(lines, depositLines(s.Deposit, s.WalletBalance)...)
	}
	return lines
}

// shouldShow skips states that carry nothing new: in-flight refreshes and
// snapshots already printed. Failed refreshes are always shown.
func shouldShow(state session.State, shown uint64) bool {
	switch state.Phase {
	case session.PhaseError:
		return true
	case session.PhaseFresh:
		return state.Err != nil || (state.Snapshot != nil && state.Snapshot.Generation > shown)
	default:
		return false
	}
}

func stateLines(state session.State, window time.Duration) []string {
	header := fmt.Sprintf("-- %s (generation %d)", state.Phase, state.Generation)
	if state.Err != nil {
		header += ": " + state.Err.Error()
	}
	lines := []string{header}
	snap := state.Snapshot
	if snap == nil {
		return lines
	}
	cooldown := snap.Pool.CooldownRemaining(time.Now(), window)
	lines = append(lines, poolLines(snap.Pool, snap.PoolInitialized, snap.VaultBalance, cooldown)...)
	if !snap.Owner.IsZero() {
		lines = append(lines, depositLines(snap.Deposit, snap.WalletBalance)...)
	}
	return lines
}

func receiptLines(r client.Receipt) []string {
	lines := []string{
		"operation: " + r.Operation.String(),
		"outcome:   " + r.Outcome.String(),
	}
	if r.ExplorerURL != "" {
		lines = append(lines,
			"signature: "+r.Signature.String(),
			"explorer:  "+r.ExplorerURL,
		)
	}
	return lines
}

// finish prints the receipt of a submitted intent and turns err into a
// message that says what the user can do next.
func finish(cmd *cobra.Command, flags *rootFlags, receipt client.Receipt, err error) error {
	if receipt.Outcome != chain.OutcomeNotSubmitted {
		if renderErr := render(cmd.OutOrStdout(), flags.output, receipt, receiptLines(receipt)); renderErr != nil {
			return renderErr
		}
	}
	return describe(err)
}

func describe(err error) error {
	if err == nil {
		return nil
	}
	var subErr *lottery.SubmissionError
	if errors.As(err, &subErr) && subErr.ProgramError != nil {
		return fmt.Errorf("%w: %s", err, subErr.ProgramError.Message)
	}
	switch lottery.KindOf(err) {
	case lottery.KindSubmissionUnknown:
		return fmt.Errorf("%w (check the explorer before trying again)", err)
	case lottery.KindSubmissionRejected:
		return fmt.Errorf("%w (refresh with 'solpool status' before trying again)", err)
	case lottery.KindReadUnavailable:
		return fmt.Errorf("%w (the cluster could not be reached, try again shortly)", err)
	}
	return err
}
