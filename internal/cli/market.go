// Package cli provides the command-line interface for the paper trading engine.
package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// addMarketCommands adds market data commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newDepthCmd(app))
	rootCmd.AddCommand(newTickCmd(app))
}

func newDepthCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "depth SYMBOL",
		Short: "Show order book depth for a symbol",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])

			depth, err := app.Manager.MarketDepth(symbol)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(depth)
			}

			output.Bold("%s", depth.Symbol)
			output.Printf("  Mid: %s  Last: %s\n", FormatPrice(depth.MidPrice), FormatPrice(depth.LastTrade))
			output.Printf("  %s\n", FormatBidAsk(depth.BestBid, depth.BestAsk))
			output.Println()

			table := NewTable(output, "BID QTY", "BID", "ASK", "ASK QTY")
			rows := len(depth.Bids)
			if len(depth.Asks) > rows {
				rows = len(depth.Asks)
			}
			for i := 0; i < rows; i++ {
				bidQty, bid, ask, askQty := "", "", "", ""
				if i < len(depth.Bids) {
					bidQty = fmt.Sprintf("%d", depth.Bids[i].Quantity)
					bid = output.Green(FormatPrice(depth.Bids[i].Price))
				}
				if i < len(depth.Asks) {
					ask = output.Red(FormatPrice(depth.Asks[i].Price))
					askQty = fmt.Sprintf("%d", depth.Asks[i].Quantity)
				}
				table.AddRow(bidQty, bid, ask, askQty)
			}
			table.Render()
			return nil
		},
	}
}

func newTickCmd(app *App) *cobra.Command {
	var underlying bool

	cmd := &cobra.Command{
		Use:   "tick SYMBOL PRICE",
		Short: "Feed a price update into the engine",
		Long: `Feed a price update into the engine. The quote is cached for order
pricing and shifts the symbol's book, if one exists, to the new mid.
With --underlying, SYMBOL names a product and the price feeds margin
calculations instead.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			symbol := strings.ToUpper(args[0])

			price, err := strconv.ParseFloat(args[1], 64)
			if err != nil || price <= 0 {
				return fmt.Errorf("invalid price %q", args[1])
			}

			if underlying {
				app.Manager.OnUnderlyingUpdate(symbol, price)
			} else {
				app.Manager.OnPriceUpdate(symbol, price)
			}

			if output.IsJSON() {
				return output.JSON(map[string]interface{}{"symbol": symbol, "price": price})
			}
			output.Success("%s -> %s", symbol, FormatPrice(price))
			return nil
		},
	}

	cmd.Flags().BoolVar(&underlying, "underlying", false, "update a product underlying price")
	return cmd
}
