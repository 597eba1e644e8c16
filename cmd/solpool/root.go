package main

import (
	"fmt"
	"log/slog"

	"github.com/coldbell/solpool/internal/client"
	"github.com/coldbell/solpool/internal/config"
	"github.com/coldbell/solpool/internal/logging"
	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"
)

type rootFlags struct {
	output  string
	rpcURL  string
	keypair string
	verbose bool
}

// app holds what a command needs once configuration is loaded.
type app struct {
	cfg         config.ClientConfig
	logger      *slog.Logger
	closeLogger func() error
	stack       *client.Stack
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:          "solpool",
		Short:        "SOL deposit lottery client",
		Long:         "Deposit and withdraw SOL, inspect the pool and drive winner selection on the lottery program.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.output, "output", "o", "text", "Output format: json|text")
	root.PersistentFlags().StringVar(&flags.rpcURL, "rpc-url", "", "Cluster RPC URL (overrides SOLANA_RPC_URL)")
	root.PersistentFlags().StringVar(&flags.keypair, "keypair", "", "Path to the signing keypair (overrides SOLPOOL_KEYPAIR_PATH)")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "Log at info level")

	root.AddCommand(
		newAddressesCmd(flags),
		newStatusCmd(flags),
		newDepositCmd(flags),
		newWithdrawCmd(flags),
		newInitPoolCmd(flags),
		newSelectWinnerCmd(flags),
		newClaimCmd(flags),
		newWatchCmd(flags),
	)
	return root
}

// load reads configuration and builds the client stack. The keypair is only
// read when needWallet is set.
func load(flags *rootFlags, needWallet bool) (*app, error) {
	if flags.output != "text" && flags.output != "json" {
		return nil, fmt.Errorf("invalid --output: %s (use json|text)", flags.output)
	}

	cfg, err := config.LoadClientConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if flags.rpcURL != "" {
		cfg.RPCURL = flags.rpcURL
	}
	if flags.keypair != "" {
		cfg.KeypairPath = flags.keypair
	}
	if !flags.verbose {
		cfg.Log.Level = "warn"
	}
	// Keep stdout for command output.
	if cfg.Log.Output == "" || cfg.Log.Output == "console" {
		cfg.Log.Output = "stderr"
	}

	logger, closeLogger, err := logging.New("solpool", cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("initialize logger: %w", err)
	}

	stack, err := client.NewStack(cfg, logger, needWallet)
	if err != nil {
		_ = closeLogger()
		return nil, err
	}
	return &app{cfg: cfg, logger: logger, closeLogger: closeLogger, stack: stack}, nil
}

func (a *app) close() {
	_ = a.closeLogger()
}

// ownerFromArgs returns the owner named in args, the configured wallet's key
// when it can be read, or the zero key for pool-only reads.
func (a *app) ownerFromArgs(args []string) (solana.PublicKey, error) {
	if len(args) > 0 {
		owner, err := solana.PublicKeyFromBase58(args[0])
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("invalid owner %q: %w", args[0], err)
		}
		return owner, nil
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(a.cfg.KeypairPath)
	if err != nil {
		a.logger.Info("no readable keypair, showing pool only", "path", a.cfg.KeypairPath, "err", err)
		return solana.PublicKey{}, nil
	}
	return key.PublicKey(), nil
}
