// Package app exposes the single application facade all adapters (CLI, Web)
// call. It decouples presentation from the domain services and contains no
// display logic.
package app

import (
	"context"
	"time"

	"facturador/internal/core"
)

// ApplicationService is the adapter-facing surface of the fulfillment
// pipeline.
type ApplicationService interface {
	// CreateOrder prices, persists and posts an order, then attempts to issue
	// its fiscal invoice. The result reports InvoicePending when the invoice
	// could not be issued synchronously.
	CreateOrder(ctx context.Context, req core.CreateOrderRequest) (*core.OrderResult, error)

	// GetOrder returns an order with its items.
	GetOrder(ctx context.Context, tenantID, orderID int) (*core.Order, error)

	// ListOrders returns the tenant's orders, newest first, optionally
	// filtered.
	ListOrders(ctx context.Context, tenantID int, filter core.OrderFilter) ([]core.Order, error)

	// IssueInvoice issues (or returns the already-issued) invoice for an
	// order. Safe to call repeatedly; used by the pending-invoice retry path.
	IssueInvoice(ctx context.Context, tenantID, orderID int) (*core.Invoice, error)

	// GetInvoice returns the committed invoice for an order, if any.
	GetInvoice(ctx context.Context, tenantID, orderID int) (*core.Invoice, error)

	// PendingInvoices lists order ids awaiting fiscal authorization.
	PendingInvoices(ctx context.Context, tenantID int) ([]int, error)

	// OrderEntries returns the ledger postings recorded for an order.
	OrderEntries(ctx context.Context, tenantID, orderID int) ([]core.LedgerEntry, error)

	// AccountBalances returns the tenant's chart with net balances.
	AccountBalances(ctx context.Context, tenantID int) ([]core.AccountBalance, error)

	// SalesReport aggregates revenue, cost and profit over a date range.
	SalesReport(ctx context.Context, tenantID int, from, to time.Time) (*core.SalesReport, error)
}

type appService struct {
	orders    core.OrderService
	ledger    *core.Ledger
	reporting *core.Reporting
}

// New wires the facade over the domain services.
func New(orders core.OrderService, ledger *core.Ledger, reporting *core.Reporting) ApplicationService {
	return &appService{orders: orders, ledger: ledger, reporting: reporting}
}

func (s *appService) CreateOrder(ctx context.Context, req core.CreateOrderRequest) (*core.OrderResult, error) {
	return s.orders.CreateOrder(ctx, req)
}

func (s *appService) GetOrder(ctx context.Context, tenantID, orderID int) (*core.Order, error) {
	return s.orders.GetOrder(ctx, tenantID, orderID)
}

func (s *appService) ListOrders(ctx context.Context, tenantID int, filter core.OrderFilter) ([]core.Order, error) {
	return s.orders.ListOrders(ctx, tenantID, filter)
}

func (s *appService) IssueInvoice(ctx context.Context, tenantID, orderID int) (*core.Invoice, error) {
	return s.orders.IssueInvoice(ctx, tenantID, orderID)
}

func (s *appService) GetInvoice(ctx context.Context, tenantID, orderID int) (*core.Invoice, error) {
	return s.orders.GetInvoice(ctx, tenantID, orderID)
}

func (s *appService) PendingInvoices(ctx context.Context, tenantID int) ([]int, error) {
	return s.orders.PendingInvoices(ctx, tenantID)
}

func (s *appService) OrderEntries(ctx context.Context, tenantID, orderID int) ([]core.LedgerEntry, error) {
	return s.ledger.EntriesForOrder(ctx, tenantID, orderID)
}

func (s *appService) AccountBalances(ctx context.Context, tenantID int) ([]core.AccountBalance, error) {
	return s.ledger.Balances(ctx, tenantID)
}

func (s *appService) SalesReport(ctx context.Context, tenantID int, from, to time.Time) (*core.SalesReport, error) {
	return s.reporting.Sales(ctx, tenantID, from, to)
}
