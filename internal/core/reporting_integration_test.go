package core_test

import (
	"context"
	"testing"
	"time"

	"facturador/internal/core"
)

func TestSalesReport(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	svc := newTestService(pool, &fakeAuthority{})

	// Two orders: 2×A + 1×B, then 1×B.
	for _, items := range [][]core.OrderItemInput{
		{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}},
		{{ProductID: 2, Quantity: 1}},
	} {
		if _, err := svc.CreateOrder(ctx, core.CreateOrderRequest{TenantID: 1, Items: items}); err != nil {
			t.Fatalf("CreateOrder failed: %v", err)
		}
	}

	reporting := core.NewReporting(pool)
	now := time.Now()
	report, err := reporting.Sales(ctx, 1, now.AddDate(0, 0, -1), now)
	if err != nil {
		t.Fatalf("Sales failed: %v", err)
	}

	if report.OrderCount != 2 {
		t.Errorf("order count: got %d, want 2", report.OrderCount)
	}
	// Revenue 250 + 50 = 300; cost 140 + 20 = 160; profit 140.
	if report.TotalRevenue.StringFixed(2) != "300.00" {
		t.Errorf("revenue: got %s, want 300.00", report.TotalRevenue)
	}
	if report.TotalCost.StringFixed(2) != "160.00" {
		t.Errorf("cost: got %s, want 160.00", report.TotalCost)
	}
	if report.Profit.StringFixed(2) != "140.00" {
		t.Errorf("profit: got %s, want 140.00", report.Profit)
	}

	if len(report.Products) != 2 {
		t.Fatalf("expected 2 product lines, got %d", len(report.Products))
	}
	// Ordered by revenue descending: Widget A (200) before Widget B (100).
	if report.Products[0].ProductName != "Widget A" {
		t.Errorf("top product: got %s, want Widget A", report.Products[0].ProductName)
	}
	if report.Products[1].Quantity != 2 {
		t.Errorf("Widget B quantity: got %d, want 2", report.Products[1].Quantity)
	}

	// An empty window reports zeros, not an error.
	empty, err := reporting.Sales(ctx, 1, now.AddDate(-1, 0, 0), now.AddDate(0, 0, -2))
	if err != nil {
		t.Fatalf("empty-range Sales failed: %v", err)
	}
	if empty.OrderCount != 0 || !empty.TotalRevenue.IsZero() {
		t.Errorf("empty range: got %d orders revenue %s", empty.OrderCount, empty.TotalRevenue)
	}

	// Inverted range is a validation error.
	if _, err := reporting.Sales(ctx, 1, now, now.AddDate(0, 0, -5)); err == nil {
		t.Error("expected error for inverted date range")
	}
}
