package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/log"
	"github.com/urfave/cli/v2"

	"github.com/alloy-rs/alloy-sub000/nodebindings"
)

const EnvVarPrefix = "DEVNODE"

var (
	GitCommit = ""
	GitDate   = ""
	Version   = "v0.1.0"
)

var (
	nodeFlag = &cli.StringFlag{
		Name:    "node",
		Usage:   "Node implementation to launch: anvil or geth",
		Value:   "anvil",
		EnvVars: []string{EnvVarPrefix + "_NODE"},
	}
	chainIDFlag = &cli.Uint64Flag{
		Name:    "chain-id",
		Usage:   "Chain ID of the dev chain (anvil only)",
		Value:   nodebindings.DefaultChainID,
		EnvVars: []string{EnvVarPrefix + "_CHAIN_ID"},
	}
	blockTimeFlag = &cli.IntFlag{
		Name:    "block-time",
		Usage:   "Block time in seconds, 0 mines on demand",
		Value:   0,
		EnvVars: []string{EnvVarPrefix + "_BLOCK_TIME"},
	}
	forkURLFlag = &cli.StringFlag{
		Name:    "fork-url",
		Usage:   "Fork state from the given RPC endpoint (anvil only)",
		EnvVars: []string{EnvVarPrefix + "_FORK_URL"},
	}
	baseFeeFlag = &cli.Uint64Flag{
		Name:    "base-fee",
		Usage:   "Initial base fee in wei (anvil only)",
		Value:   1000000000,
		EnvVars: []string{EnvVarPrefix + "_BASE_FEE"},
	}
	verboseFlag = &cli.BoolFlag{
		Name:    "verbose",
		Usage:   "Log node output at debug level",
		EnvVars: []string{EnvVarPrefix + "_VERBOSE"},
	}
)

func main() {
	app := cli.NewApp()
	app.Version = Version
	app.Name = "devnode"
	app.Usage = "Launch a local Ethereum dev node"
	app.Description = "Runs an anvil or geth dev node and prints its RPC endpoint"
	app.Flags = []cli.Flag{
		nodeFlag,
		chainIDFlag,
		blockTimeFlag,
		forkURLFlag,
		baseFeeFlag,
		verboseFlag,
	}
	app.Action = run
	app.Writer = os.Stdout
	app.ErrWriter = os.Stderr

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

type node interface {
	Start() error
	Stop()
	RPCUrl() (string, error)
}

func run(cliCtx *cli.Context) error {
	lvl := log.LevelInfo
	if cliCtx.Bool(verboseFlag.Name) {
		lvl = log.LevelDebug
	}
	logger := log.NewLogger(log.NewTerminalHandlerWithLevel(os.Stderr, lvl, true))

	var n node
	var err error
	switch kind := cliCtx.String(nodeFlag.Name); kind {
	case "anvil":
		opts := []nodebindings.AnvilOption{
			nodebindings.WithChainID(cliCtx.Uint64(chainIDFlag.Name)),
			nodebindings.WithBaseFee(cliCtx.Uint64(baseFeeFlag.Name)),
			nodebindings.WithBlockTime(cliCtx.Int(blockTimeFlag.Name)),
		}
		if forkURL := cliCtx.String(forkURLFlag.Name); forkURL != "" {
			opts = append(opts, nodebindings.WithForkURL(forkURL))
		}
		n, err = nodebindings.NewAnvil(logger, opts...)
	case "geth":
		n, err = nodebindings.NewGeth(logger, nodebindings.WithGethBlockTime(cliCtx.Int(blockTimeFlag.Name)))
	default:
		return fmt.Errorf("unknown node kind: %q", kind)
	}
	if err != nil {
		return err
	}

	if err := n.Start(); err != nil {
		return fmt.Errorf("failed to start node: %w", err)
	}
	defer n.Stop()

	rpcURL, err := n.RPCUrl()
	if err != nil {
		return err
	}
	logger.Info("Dev node up", "rpc", rpcURL)
	fmt.Fprintln(cliCtx.App.Writer, rpcURL)

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt
	logger.Info("Shutting down")
	return nil
}
