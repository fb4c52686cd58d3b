// Package cli provides the command-line interface for the paper trading engine.
package cli

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"paper-trader/internal/book"
	"paper-trader/internal/config"
	"paper-trader/internal/engine"
	"paper-trader/internal/ledger"
	"paper-trader/internal/logging"
	"paper-trader/internal/pricing"
	"paper-trader/internal/risk"
	"paper-trader/internal/store"
)

// Version information
const (
	Version = "0.1.0"
)

// App holds the application dependencies. The symbol to book map and
// the store handles live here for the process lifetime, passed into
// each component explicitly.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Store   store.DataStore
	Books   *book.Registry
	Prices  *pricing.Source
	Risk    *risk.Engine
	Ledger  *ledger.Ledger
	Manager *engine.Manager
}

// NewApp wires the engine components over an opened store.
func NewApp(cfg *config.Config, logger zerolog.Logger, dataStore store.DataStore) *App {
	prices := pricing.NewSource(dataStore, &cfg.Market, logger)
	books := book.NewRegistry(logger)
	riskEngine := risk.NewEngine(cfg.Risk, dataStore, prices, logger)
	ldgr := ledger.New(dataStore, prices, cfg.Trading, logger)
	manager := engine.NewManager(cfg, dataStore, books, riskEngine, prices, ldgr, logger)

	return &App{
		Config:  cfg,
		Logger:  logger,
		Store:   dataStore,
		Books:   books,
		Prices:  prices,
		Risk:    riskEngine,
		Ledger:  ldgr,
		Manager: manager,
	}
}

// NewRootCmd creates the root command for the CLI.
func NewRootCmd(app *App) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "paper-trader",
		Short: "Paper trading engine for Indian index options",
		Long: `Paper trader simulates option order execution against synthetic
order books with realistic spreads and partial fills.

Orders pass pre-trade risk checks (margin, position count, order value,
daily loss, concentration) before matching. Positions, P&L and trade
history persist across sessions.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	// Global flags
	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/paper-trader)")
	rootCmd.PersistentFlags().String("user", "default", "user id to act as")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	rootCmd.AddCommand(newVersionCmd())
	addOrderCommands(rootCmd, app)
	addPortfolioCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{"version": Version})
			} else {
				output.Printf("paper-trader v%s\n", Version)
			}
		},
	}
}

// userID reads the --user flag.
func userID(cmd *cobra.Command) string {
	user, _ := cmd.Flags().GetString("user")
	return user
}
