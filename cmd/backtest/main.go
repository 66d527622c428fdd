// cmd/backtest works offline against the game database: it imports price
// files, prints the classifier verdict over stored history, and replays a
// strategy through a paper-traded session.
//
// Usage:
//
//	go run ./cmd/backtest import --asset=BTC --file=btc.json
//	go run ./cmd/backtest analyze --asset=BTC
//	go run ./cmd/backtest replay --asset=BTC --strategy=sma --fast=9 --slow=21 --leverage=3
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"investgame/config"
	"investgame/internal/backtest"
	"investgame/internal/execution"
	"investgame/internal/logger"
	"investgame/internal/portfolio"
	"investgame/internal/store/sqlite"
	"investgame/internal/strategy"

	"github.com/spf13/cobra"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatalf("[backtest] %v", err)
	}
}

type rootOpts struct {
	configPath string
	dbPath     string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOpts{}
	root := &cobra.Command{
		Use:           "backtest",
		Short:         "Offline tools over the investment game database",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init("backtest", logger.ParseLevel(opts.logLevel))
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database (default: sqlite_path from config)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")

	root.AddCommand(newImportCmd(opts), newAnalyzeCmd(opts), newReplayCmd(opts))
	return root
}

// load resolves the config and opens the store the subcommands share.
func (o *rootOpts) load() (*config.Config, *sqlite.Store, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.dbPath != "" {
		cfg.SQLitePath = o.dbPath
	}
	store, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	return cfg, store, nil
}

func newImportCmd(opts *rootOpts) *cobra.Command {
	var asset, file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a JSON array of {timestamp, close} points for one asset",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := opts.load()
			if err != nil {
				return err
			}
			defer store.Close()

			f, err := os.Open(file)
			if err != nil {
				return err
			}
			defer f.Close()

			points, err := backtest.ReadPoints(f)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			n, err := backtest.Import(cmd.Context(), store.Writer, asset, points)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d points for %s\n", n, asset)
			return nil
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "asset id")
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON price file")
	cmd.MarkFlagRequired("asset")
	cmd.MarkFlagRequired("file")
	return cmd
}

func newAnalyzeCmd(opts *rootOpts) *cobra.Command {
	var asset string
	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Print the market verdict over stored history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := opts.load()
			if err != nil {
				return err
			}
			defer store.Close()

			hist, err := store.ReadHistory(cmd.Context(), asset, cfg.Game.HistoryWindow)
			if err != nil {
				return err
			}
			v := strategy.AnalyzeMarket(hist)
			if v == nil {
				return fmt.Errorf("%s: have %d points, need %d", asset, len(hist), strategy.MinHistory)
			}
			return printJSON(cmd, v)
		},
	}
	cmd.Flags().StringVar(&asset, "asset", "", "asset id")
	cmd.MarkFlagRequired("asset")
	return cmd
}

func newReplayCmd(opts *rootOpts) *cobra.Command {
	var (
		bc          backtest.Config
		limit       int
		journalPath string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Replay stored history through a strategy on a paper session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := opts.load()
			if err != nil {
				return err
			}
			defer store.Close()

			hist, err := store.ReadHistory(cmd.Context(), bc.AssetID, limit)
			if err != nil {
				return err
			}

			if journalPath != "" {
				j, err := execution.NewJournal(journalPath)
				if err != nil {
					return err
				}
				defer j.Close()
				bc.Journal = j
			}
			bc.Options = cfg.SimulatorOptions()
			if cmd.Flags().Changed("policy") {
				p, err := portfolio.ParseShortfallPolicy(cmd.Flag("policy").Value.String())
				if err != nil {
					return err
				}
				bc.Options.Policy = p
			}
			if bc.Balance <= 0 {
				bc.Balance = cfg.Game.StartingBalance
			}
			if !cmd.Flags().Changed("slippage-bps") {
				bc.SlippageBps = cfg.Game.SlippageBps
			}

			rep, err := backtest.Run(cmd.Context(), hist, bc)
			if err != nil {
				return err
			}
			return printJSON(cmd, rep)
		},
	}
	f := cmd.Flags()
	f.StringVar(&bc.AssetID, "asset", "", "asset id")
	f.StringVar(&bc.Strategy, "strategy", backtest.StrategySMA, "sma or verdict")
	f.Float64Var(&bc.Amount, "amount", 1, "units per signal")
	f.Float64Var(&bc.Leverage, "leverage", 1, "leverage for opened positions")
	f.Float64Var(&bc.Balance, "balance", 0, "starting balance (default: config starting_balance)")
	f.Int64Var(&bc.SlippageBps, "slippage-bps", 0, "fill slippage in basis points")
	f.IntVar(&bc.FastPeriod, "fast", 9, "fast SMA period")
	f.IntVar(&bc.SlowPeriod, "slow", 21, "slow SMA period")
	f.IntVar(&bc.RSIPeriod, "rsi", 14, "RSI filter period, 0 to disable")
	f.IntVar(&bc.Window, "window", 100, "verdict window")
	f.IntVar(&limit, "limit", 0, "replay only the last N points (0 = all)")
	f.String("policy", "", "shortfall policy override: carry or forgive")
	f.StringVar(&journalPath, "journal", "", "optional SQLite trade journal for replay fills")
	cmd.MarkFlagRequired("asset")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
