// Package cli provides the command-line interface for the paper trading engine.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"paper-trader/internal/models"
)

// addPortfolioCommands adds portfolio, position and P&L reporting commands.
func addPortfolioCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newPortfolioCmd(app))
	rootCmd.AddCommand(newPositionsCmd(app))
	rootCmd.AddCommand(newPnLCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newPerformanceCmd(app))
	rootCmd.AddCommand(newRiskCmd(app))
}

func newPortfolioCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "portfolio",
		Short: "Show portfolio summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			portfolio, err := app.Ledger.GetPortfolio(cmd.Context(), userID(cmd))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(portfolio)
			}

			output.Bold("Portfolio")
			output.Printf("  Cash Balance:     %s\n", FormatIndianCurrency(portfolio.CashBalance))
			output.Printf("  Margin Used:      %s\n", FormatIndianCurrency(portfolio.MarginUsed))
			output.Printf("  Margin Available: %s\n", FormatIndianCurrency(portfolio.MarginAvailable))
			output.Printf("  Realized P&L:     %s\n", output.FormatPnL(portfolio.RealizedPnL))
			output.Printf("  Unrealized P&L:   %s\n", output.FormatPnL(portfolio.UnrealizedPnL))
			output.Printf("  Total P&L:        %s\n", output.FormatPnL(portfolio.TotalPnL))
			return nil
		},
	}
}

func newPositionsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "positions",
		Short: "Show open positions with current P&L",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			positions, err := app.Ledger.GetPositions(cmd.Context(), userID(cmd))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(positions)
			}

			if len(positions) == 0 {
				output.Dim("No open positions")
				return nil
			}

			table := NewTable(output, "SYMBOL", "QTY", "ENTRY", "CURRENT", "UNREALIZED P&L")
			for _, p := range positions {
				table.AddRow(
					p.Symbol,
					FormatQuantity(int64(p.Quantity)),
					FormatPrice(p.AvgEntryPrice),
					FormatPrice(p.CurrentPrice),
					output.FormatPnL(p.UnrealizedPnL),
				)
			}
			table.Render()
			return nil
		},
	}
}

func newPnLCmd(app *App) *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Show P&L summary for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			summary, err := app.Ledger.PnLSummary(cmd.Context(), userID(cmd), models.Period(period))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(summary)
			}

			output.Bold("P&L Summary (%s)", summary.Period)
			output.Printf("  Realized:    %s\n", output.FormatPnL(summary.RealizedPnL))
			output.Printf("  Unrealized:  %s\n", output.FormatPnL(summary.UnrealizedPnL))
			output.Printf("  Total:       %s\n", output.FormatPnL(summary.TotalPnL))
			output.Printf("  Returns:     %s\n", output.FormatPercent(summary.ReturnsPercent))
			output.Printf("  Capital:     %s\n", FormatIndianCurrency(summary.InitialCapital))
			output.Printf("  Value:       %s\n", FormatIndianCurrency(summary.CurrentValue))
			return nil
		},
	}

	cmd.Flags().StringVar(&period, "period", "all", "today, week, month, year or all")
	return cmd
}

func newTradesCmd(app *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "Show trade history, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			trades, err := app.Ledger.TradeHistory(cmd.Context(), userID(cmd), limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(trades)
			}

			if len(trades) == 0 {
				output.Dim("No trades")
				return nil
			}

			table := NewTable(output, "TRADE ID", "SYMBOL", "SIDE", "QTY", "PRICE", "VALUE", "COMMISSION", "TIME")
			for _, t := range trades {
				table.AddRow(
					t.ID,
					t.Symbol,
					string(t.Side),
					fmt.Sprintf("%d", t.Quantity),
					FormatPrice(t.Price),
					FormatIndianCurrency(t.Value),
					FormatIndianCurrency(t.Commission),
					FormatTime(t.ExecutedAt),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "maximum trades to return")
	return cmd
}

func newPerformanceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "performance",
		Short: "Show trade performance metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			metrics, err := app.Ledger.PerformanceMetrics(cmd.Context(), userID(cmd))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(metrics)
			}

			output.Bold("Performance")
			output.Printf("  Total Trades:  %d\n", metrics.TotalTrades)
			output.Printf("  Closed Trades: %d\n", metrics.ClosedTrades)
			output.Printf("  Win Rate:      %.1f%%\n", metrics.WinRate)
			output.Printf("  Avg Profit:    %s\n", FormatIndianCurrency(metrics.AvgProfit))
			output.Printf("  Avg Loss:      %s\n", FormatIndianCurrency(metrics.AvgLoss))
			output.Printf("  Profit Factor: %.2f\n", metrics.ProfitFactor)
			return nil
		},
	}
}

func newRiskCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "Show current risk utilization",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			metrics, err := app.Risk.Metrics(cmd.Context(), userID(cmd))
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(metrics)
			}

			output.Bold("Risk")
			output.Printf("  Margin Used:      %s\n", FormatIndianCurrency(metrics.MarginUsed))
			output.Printf("  Margin Available: %s\n", FormatIndianCurrency(metrics.MarginAvailable))
			output.Printf("  Utilization:      %.1f%%\n", metrics.MarginUtilization*100)
			output.Printf("  Open Positions:   %d / %d\n", metrics.OpenPositions, metrics.MaxPositions)
			output.Printf("  Total P&L:        %s\n", output.FormatPnL(metrics.TotalPnL))
			output.Printf("  Daily Loss Limit: %s\n", FormatIndianCurrency(metrics.DailyLossLimit))
			output.Printf("  Concentration:    %.1f%% (limit %.1f%%)\n",
				metrics.MaxConcentration*100, metrics.ConcentrationLimit*100)

			if len(metrics.ExposureByProduct) > 0 {
				output.Println()
				output.Bold("Exposure by Product")
				for product, exposure := range metrics.ExposureByProduct {
					output.Printf("  %-12s %s\n", product, FormatIndianCurrency(exposure))
				}
			}
			return nil
		},
	}
}
