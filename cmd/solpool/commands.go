package main

import (
	"fmt"

	"cosmossdk.io/math"
	"github.com/coldbell/solpool/internal/chain"
	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/lottery"
	"github.com/coldbell/solpool/internal/retry"
	"github.com/coldbell/solpool/internal/session"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

func newAddressesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "addresses [owner]",
		Short: "Print the pool, vault and deposit record addresses",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			owner, err := a.ownerFromArgs(args)
			if err != nil {
				return err
			}
			addrs, err := a.stack.Client.Addresses(owner)
			if err != nil {
				return err
			}
			return render(cmd.OutOrStdout(), flags.output, addrs, addressLines(addrs))
		},
	}
}

func newStatusCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [owner]",
		Short: "Read the pool, a deposit record and balances",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			owner, err := a.ownerFromArgs(args)
			if err != nil {
				return err
			}
			status, err := a.stack.Client.Status(cmd.Context(), owner)
			if err != nil {
				return describe(err)
			}
			return render(cmd.OutOrStdout(), flags.output, status, statusLines(status))
		},
	}
}

func newAmountCmd(flags *rootFlags, use, short string, run func(c *client.Client, cmd *cobra.Command, lamports math.Int) (client.Receipt, error)) *cobra.Command {
	var lamportsFlag bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parse := lottery.ParseSOL
			if lamportsFlag {
				parse = lottery.ParseLamports
			}
			amount, err := parse(args[0])
			if err != nil {
				return err
			}
			if _, err := lottery.ValidateAmount(amount); err != nil {
				return err
			}

			a, err := load(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			receipt, err := run(a.stack.Client, cmd, amount)
			return finish(cmd, flags, receipt, err)
		},
	}
	cmd.Flags().BoolVar(&lamportsFlag, "lamports", false, "Read the amount as lamports instead of SOL")
	return cmd
}

func newDepositCmd(flags *rootFlags) *cobra.Command {
	return newAmountCmd(flags, "deposit <amount>", "Deposit SOL into the pool",
		func(c *client.Client, cmd *cobra.Command, lamports math.Int) (client.Receipt, error) {
			return c.Deposit(cmd.Context(), lamports)
		})
}

func newWithdrawCmd(flags *rootFlags) *cobra.Command {
	return newAmountCmd(flags, "withdraw <amount>", "Withdraw SOL from the pool",
		func(c *client.Client, cmd *cobra.Command, lamports math.Int) (client.Receipt, error) {
			return c.Withdraw(cmd.Context(), lamports)
		})
}

func newInitPoolCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init-pool",
		Short: "Create the pool with the wallet as admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			receipt, err := a.stack.Client.InitializePool(cmd.Context())
			return finish(cmd, flags, receipt, err)
		},
	}
}

func newSelectWinnerCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "select-winner [owner...]",
		Short: "Select a winner among up to four depositors",
		Long: "Select a winner among the deposits of the given owners. Without owners, " +
			"the four largest deposits on the cluster are used.",
		Args: cobra.MaximumNArgs(lottery.MaxSelectionCandidates),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			var candidates []solana.PublicKey
			if len(args) > 0 {
				owners := make([]solana.PublicKey, 0, len(args))
				for _, raw := range args {
					owner, err := solana.PublicKeyFromBase58(raw)
					if err != nil {
						return fmt.Errorf("invalid owner %q: %w", raw, err)
					}
					owners = append(owners, owner)
				}
				if candidates, err = a.stack.Client.CandidatesForOwners(owners); err != nil {
					return err
				}
			} else {
				records, err := retry.Value(cmd.Context(), client.ReadRetry(a.cfg.ReadRetry), func() ([]chain.DepositRecord, error) {
					return a.stack.Conn.ListUserDeposits(cmd.Context())
				})
				if err != nil {
					return describe(err)
				}
				candidates = client.RankCandidates(records, lottery.MaxSelectionCandidates)
				if len(candidates) == 0 {
					return fmt.Errorf("no deposits to select from")
				}
			}

			receipt, err := a.stack.Client.SelectWinner(cmd.Context(), candidates)
			return finish(cmd, flags, receipt, err)
		},
	}
}

func newClaimCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "claim",
		Short: "Claim the reward to the wallet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(flags, true)
			if err != nil {
				return err
			}
			defer a.close()

			receipt, err := a.stack.Client.ClaimReward(cmd.Context())
			return finish(cmd, flags, receipt, err)
		},
	}
}

func newWatchCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [owner]",
		Short: "Refresh and print the session view until interrupted",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := load(flags, false)
			if err != nil {
				return err
			}
			defer a.close()

			owner, err := a.ownerFromArgs(args)
			if err != nil {
				return err
			}
			monitor, err := session.NewMonitor(session.MonitorConfig{
				Logger:          a.logger,
				Reader:          a.stack.Conn,
				ProgramID:       a.cfg.ProgramID,
				RefreshInterval: a.cfg.RefreshInterval,
				Retry:           client.ReadRetry(a.cfg.ReadRetry),
			})
			if err != nil {
				return err
			}

			updates, unsubscribe := monitor.Subscribe()
			defer unsubscribe()
			monitor.Connect(owner)
			monitor.Start(cmd.Context())

			var shown uint64
			out := cmd.OutOrStdout()
			for {
				select {
				case <-cmd.Context().Done():
					return nil
				case state := <-updates:
					if !shouldShow(state, shown) {
						continue
					}
					if state.Snapshot != nil {
						shown = state.Snapshot.Generation
					}
					if err := render(out, flags.output, state, stateLines(state, a.cfg.SelectionCooldown)); err != nil {
						return err
					}
				}
			}
		},
	}
}
