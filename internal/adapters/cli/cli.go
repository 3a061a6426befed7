// Package cli wires the cobra command tree. Every command builds on the same
// ApplicationService the web adapter uses; no business logic lives here.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"facturador/internal/app"
	"facturador/internal/config"
	"facturador/internal/core"
	"facturador/internal/db"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// Deps is everything the commands need, assembled in main.
type Deps struct {
	Cfg     *config.Config
	Log     zerolog.Logger
	Pool    *pgxpool.Pool
	Svc     app.ApplicationService
	Handler http.Handler
}

// NewRootCmd builds the facturador command tree.
func NewRootCmd(deps Deps) *cobra.Command {
	root := &cobra.Command{
		Use:           "facturador",
		Short:         "Order fulfillment and fiscal invoicing pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var tenantID int
	root.PersistentFlags().IntVar(&tenantID, "tenant", 1, "tenant id to operate on")

	root.AddCommand(
		newServeCmd(deps),
		newMigrateCmd(deps),
		newOrdersCmd(deps, &tenantID),
		newInvoiceCmd(deps, &tenantID),
		newInvoicePendingCmd(deps, &tenantID),
		newBalancesCmd(deps, &tenantID),
		newReportCmd(deps, &tenantID),
	)
	return root
}

func newServeCmd(deps Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := ":" + deps.Cfg.ServerPort
			deps.Log.Info().Str("addr", addr).Msg("starting HTTP server")
			srv := &http.Server{
				Addr:              addr,
				Handler:           deps.Handler,
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-cmd.Context().Done()
				deps.Log.Info().Msg("shutting down HTTP server")
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
}

func newMigrateCmd(deps Deps) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return db.Migrate(cmd.Context(), deps.Pool, dir, deps.Log)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "migrations", "directory containing .sql migrations")
	return cmd
}

func newOrdersCmd(deps Deps, tenantID *int) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "List orders for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			var filter core.OrderFilter
			if status != "" {
				s := core.OrderStatus(status)
				filter.Status = &s
			}
			orders, err := deps.Svc.ListOrders(cmd.Context(), *tenantID, filter)
			if err != nil {
				return err
			}
			printOrders(orders)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by order status")
	return cmd
}

func newInvoiceCmd(deps Deps, tenantID *int) *cobra.Command {
	return &cobra.Command{
		Use:   "invoice <order-id>",
		Short: "Issue (or fetch) the fiscal invoice for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("invalid order id %q", args[0])
			}
			inv, err := deps.Svc.IssueInvoice(cmd.Context(), *tenantID, orderID)
			if err != nil {
				return err
			}
			return printJSON(inv)
		},
	}
}

// invoice-pending retries phase 2 for every order stuck in invoice_status
// 'pending'. A single order's failure is reported and skipped, so one broken
// order never blocks the rest of the queue.
func newInvoicePendingCmd(deps Deps, tenantID *int) *cobra.Command {
	return &cobra.Command{
		Use:   "invoice-pending",
		Short: "Retry invoice issuance for all pending orders",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ids, err := deps.Svc.PendingInvoices(ctx, *tenantID)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				fmt.Println("No pending invoices.")
				return nil
			}

			var failed int
			for _, orderID := range ids {
				inv, err := deps.Svc.IssueInvoice(ctx, *tenantID, orderID)
				if err != nil {
					failed++
					deps.Log.Error().Err(err).Int("order_id", orderID).Msg("retry failed")
					continue
				}
				fmt.Printf("order %d: invoice %s %d-%d (CAE %s)\n",
					orderID, inv.InvoiceType, inv.PointOfSale, inv.InvoiceNumber, inv.CAE)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pending invoices still unresolved", failed, len(ids))
			}
			return nil
		},
	}
}

func newBalancesCmd(deps Deps, tenantID *int) *cobra.Command {
	return &cobra.Command{
		Use:   "balances",
		Short: "Print account balances for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			balances, err := deps.Svc.AccountBalances(cmd.Context(), *tenantID)
			if err != nil {
				return err
			}
			printBalances(balances)
			return nil
		},
	}
}

func newReportCmd(deps Deps, tenantID *int) *cobra.Command {
	var fromStr, toStr string
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print the sales report for a date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
			to := now

			var err error
			if fromStr != "" {
				if from, err = time.Parse("2006-01-02", fromStr); err != nil {
					return fmt.Errorf("invalid --from date %q, want YYYY-MM-DD", fromStr)
				}
			}
			if toStr != "" {
				if to, err = time.Parse("2006-01-02", toStr); err != nil {
					return fmt.Errorf("invalid --to date %q, want YYYY-MM-DD", toStr)
				}
			}

			report, err := deps.Svc.SalesReport(cmd.Context(), *tenantID, from, to)
			if err != nil {
				return err
			}
			printSalesReport(report)
			return nil
		},
	}
	cmd.Flags().StringVar(&fromStr, "from", "", "range start (YYYY-MM-DD), defaults to first of month")
	cmd.Flags().StringVar(&toStr, "to", "", "range end (YYYY-MM-DD), defaults to today")
	return cmd
}

// Execute runs the command tree against ctx.
func Execute(ctx context.Context, deps Deps) error {
	return NewRootCmd(deps).ExecuteContext(ctx)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printOrders(orders []core.Order) {
	fmt.Printf("  %-6s %-10s %-12s %-14s %12s\n", "ID", "STATUS", "INVOICE", "PAYMENT", "TOTAL")
	fmt.Println(strings.Repeat("-", 60))
	for _, o := range orders {
		fmt.Printf("  %-6d %-10s %-12s %-14s %12s\n",
			o.ID, o.Status, o.InvoiceStatus, o.PaymentMethod, o.TotalPrice.StringFixed(2))
	}
	fmt.Printf("\n  %d order(s)\n", len(orders))
}

func printBalances(balances []core.AccountBalance) {
	fmt.Printf("  %-8s %-32s %15s\n", "CODE", "NAME", "BALANCE")
	fmt.Println(strings.Repeat("-", 58))
	for _, b := range balances {
		fmt.Printf("  %-8s %-32s %15s\n", b.Code, b.Name, b.Balance.StringFixed(2))
	}
}

func printSalesReport(r *core.SalesReport) {
	fmt.Println()
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("  SALES REPORT  %s .. %s\n", r.From, r.To)
	fmt.Println(strings.Repeat("=", 72))
	fmt.Printf("  %-32s %6s %12s %12s %12s\n", "PRODUCT", "QTY", "REVENUE", "COST", "PROFIT")
	fmt.Println(strings.Repeat("-", 72))
	for _, p := range r.Products {
		fmt.Printf("  %-32s %6d %12s %12s %12s\n",
			p.ProductName, p.Quantity,
			p.Revenue.StringFixed(2), p.Cost.StringFixed(2), p.Profit.StringFixed(2))
	}
	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("  %-39s %12s %12s %12s\n", fmt.Sprintf("TOTAL (%d orders)", r.OrderCount),
		r.TotalRevenue.StringFixed(2), r.TotalCost.StringFixed(2), r.Profit.StringFixed(2))
	fmt.Println()
}
