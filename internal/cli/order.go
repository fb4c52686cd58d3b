// Package cli provides the command-line interface for the paper trading engine.
package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"paper-trader/internal/errors"
	"paper-trader/internal/models"
)

// addOrderCommands adds order placement and management commands.
func addOrderCommands(rootCmd *cobra.Command, app *App) {
	orderCmd := &cobra.Command{
		Use:   "order",
		Short: "Place, cancel and list orders",
	}

	orderCmd.AddCommand(newOrderPlaceCmd(app))
	orderCmd.AddCommand(newOrderCancelCmd(app))
	orderCmd.AddCommand(newOrderListCmd(app))

	rootCmd.AddCommand(orderCmd)
}

func newOrderPlaceCmd(app *App) *cobra.Command {
	var (
		symbol     string
		side       string
		orderType  string
		quantity   int
		price      float64
		product    string
		strike     float64
		expiry     string
		optionType string
	)

	cmd := &cobra.Command{
		Use:   "place",
		Short: "Place a new order",
		Example: `  paper-trader order place --symbol NIFTY24DEC21500CE --side BUY --qty 50
  paper-trader order place --symbol NIFTY24DEC21500CE --side SELL --type LIMIT --qty 50 --price 145.50`,
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			req := &models.OrderRequest{
				Symbol:   strings.ToUpper(symbol),
				Product:  strings.ToUpper(product),
				Type:     models.OrderType(strings.ToUpper(orderType)),
				Side:     models.OrderSide(strings.ToUpper(side)),
				Quantity: quantity,
				Price:    price,
			}
			if strike > 0 {
				req.Strike = &strike
			}
			if optionType != "" {
				ot := models.OptionType(strings.ToUpper(optionType))
				req.OptionType = &ot
			}
			if expiry != "" {
				t, err := time.Parse("2006-01-02", expiry)
				if err != nil {
					return fmt.Errorf("invalid expiry %q, expected YYYY-MM-DD", expiry)
				}
				req.Expiry = &t
			}

			order, err := app.Manager.PlaceOrder(cmd.Context(), userID(cmd), req)
			if err != nil {
				if re, ok := errors.IsRiskError(err); ok && order != nil {
					if output.IsJSON() {
						return output.JSON(order)
					}
					output.Error("Order %s rejected: %s", order.ID, re.Message)
					output.Dim("  rule: %s  observed: %.2f  limit: %.2f", re.Rule, re.Current, re.Limit)
					return nil
				}
				return err
			}

			if output.IsJSON() {
				return output.JSON(order)
			}

			output.Success("Order %s %s", order.ID, order.Status)
			output.Printf("  %s %s x%d %s\n", order.Side, order.Symbol, order.Quantity, order.Type)
			if order.FilledQuantity > 0 {
				output.Printf("  Filled: %d @ avg %s\n", order.FilledQuantity, FormatPrice(order.AvgFillPrice))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&symbol, "symbol", "", "instrument symbol (required)")
	cmd.Flags().StringVar(&side, "side", "", "BUY or SELL (required)")
	cmd.Flags().StringVar(&orderType, "type", "MARKET", "MARKET or LIMIT")
	cmd.Flags().IntVar(&quantity, "qty", 0, "order quantity (required)")
	cmd.Flags().Float64Var(&price, "price", 0, "limit price (LIMIT orders only)")
	cmd.Flags().StringVar(&product, "product", "", "underlying product (default from config)")
	cmd.Flags().Float64Var(&strike, "strike", 0, "option strike price")
	cmd.Flags().StringVar(&expiry, "expiry", "", "option expiry (YYYY-MM-DD)")
	cmd.Flags().StringVar(&optionType, "option-type", "", "CE or PE")
	cmd.MarkFlagRequired("symbol")
	cmd.MarkFlagRequired("side")
	cmd.MarkFlagRequired("qty")

	return cmd
}

func newOrderCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel a pending order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			orderID := args[0]

			if err := app.Manager.CancelOrder(cmd.Context(), userID(cmd), orderID); err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(map[string]string{"order_id": orderID, "status": "CANCELLED"})
			}
			output.Success("Order %s cancelled", orderID)
			return nil
		},
	}
}

func newOrderListCmd(app *App) *cobra.Command {
	var (
		status string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)

			orders, err := app.Manager.GetOrders(cmd.Context(), userID(cmd),
				models.OrderStatus(strings.ToUpper(status)), limit)
			if err != nil {
				return err
			}

			if output.IsJSON() {
				return output.JSON(orders)
			}

			if len(orders) == 0 {
				output.Dim("No orders")
				return nil
			}

			table := NewTable(output, "ORDER ID", "SYMBOL", "SIDE", "TYPE", "QTY", "FILLED", "AVG PRICE", "STATUS", "PLACED")
			for _, o := range orders {
				avgPrice := "-"
				if o.FilledQuantity > 0 {
					avgPrice = FormatPrice(o.AvgFillPrice)
				}
				table.AddRow(
					o.ID,
					o.Symbol,
					string(o.Side),
					string(o.Type),
					fmt.Sprintf("%d", o.Quantity),
					fmt.Sprintf("%d", o.FilledQuantity),
					avgPrice,
					output.StatusColor(string(o.Status)),
					FormatTime(o.PlacedAt),
				)
			}
			table.Render()
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by status (PENDING, FILLED, ...)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum orders to return")

	return cmd
}
