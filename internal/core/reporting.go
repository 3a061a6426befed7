package core

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ProductSales is one product's aggregated line in the sales report.
type ProductSales struct {
	ProductID   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	Revenue     decimal.Decimal `json:"revenue"`
	Cost        decimal.Decimal `json:"cost"`
	Profit      decimal.Decimal `json:"profit"`
}

// SalesReport aggregates fulfilled orders over a date range using the frozen
// item snapshots, so the numbers match what was actually charged and costed,
// not the current catalog.
type SalesReport struct {
	From         string          `json:"from"` // YYYY-MM-DD
	To           string          `json:"to"`
	OrderCount   int             `json:"order_count"`
	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TotalCost    decimal.Decimal `json:"total_cost"`
	Profit       decimal.Decimal `json:"profit"`
	Products     []ProductSales  `json:"products"`
}

type Reporting struct {
	pool *pgxpool.Pool
}

func NewReporting(pool *pgxpool.Pool) *Reporting {
	return &Reporting{pool: pool}
}

// Sales builds the per-product revenue/cost/profit report for orders placed in
// [from, to]. Cancelled orders are excluded.
func (r *Reporting) Sales(ctx context.Context, tenantID int, from, to time.Time) (*SalesReport, error) {
	if to.Before(from) {
		return nil, &ValidationError{Msg: "report range end precedes start"}
	}

	report := &SalesReport{
		From:         from.Format("2006-01-02"),
		To:           to.Format("2006-01-02"),
		TotalRevenue: decimal.Zero,
		TotalCost:    decimal.Zero,
	}

	err := r.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM orders
		WHERE tenant_id = $1
		  AND order_date::date BETWEEN $2 AND $3
		  AND status <> $4
	`, tenantID, report.From, report.To, OrderCancelled).Scan(&report.OrderCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT oi.product_id, oi.product_name,
		       SUM(oi.quantity)::int,
		       SUM(oi.unit_price * oi.quantity),
		       SUM(oi.unit_cost * oi.quantity)
		FROM order_items oi
		JOIN orders o ON o.id = oi.order_id
		WHERE o.tenant_id = $1
		  AND o.order_date::date BETWEEN $2 AND $3
		  AND o.status <> $4
		GROUP BY oi.product_id, oi.product_name
		ORDER BY SUM(oi.unit_price * oi.quantity) DESC
	`, tenantID, report.From, report.To, OrderCancelled)
	if err != nil {
		return nil, fmt.Errorf("failed to query sales report: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var p ProductSales
		if err := rows.Scan(&p.ProductID, &p.ProductName, &p.Quantity, &p.Revenue, &p.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan sales row: %w", err)
		}
		p.Profit = p.Revenue.Sub(p.Cost)
		report.TotalRevenue = report.TotalRevenue.Add(p.Revenue)
		report.TotalCost = report.TotalCost.Add(p.Cost)
		report.Products = append(report.Products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sales rows: %w", err)
	}

	report.Profit = report.TotalRevenue.Sub(report.TotalCost)
	return report, nil
}
