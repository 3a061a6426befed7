package core_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"facturador/internal/core"
	"facturador/internal/fiscal"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	_ = godotenv.Load("../../.env")

	// Use a dedicated TEST database to avoid wiping the live app database.
	// Set TEST_DATABASE_URL in your .env or environment to run integration tests.
	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL not set — skipping integration test to protect live database")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}

	// Clean and seed test DB
	_, err = pool.Exec(ctx, `
		TRUNCATE TABLE invoices, ledger_lines, ledger_entries, order_items, orders,
		               products, customers, accounts, tenants CASCADE;

		INSERT INTO tenants (id, name, cuit) VALUES
			(1, 'Test Shop', '30111111118'),
			(2, 'Other Shop', '30222222229');

		INSERT INTO accounts (tenant_id, code, name, type)
		SELECT t.id, a.code, a.name, a.type
		FROM tenants t
		CROSS JOIN (VALUES
			('1.1', 'Caja', 'asset'),
			('1.2', 'Banco', 'asset'),
			('1.4', 'Mercaderías', 'asset'),
			('4.1', 'Ventas', 'revenue'),
			('5.1', 'Costo de Mercaderías', 'expense')
		) AS a(code, name, type);

		INSERT INTO customers (id, tenant_id, name, tax_id_type, tax_id_number) VALUES
			(1, 1, 'Empresa SA', 80, 20111111112),
			(2, 1, 'Anonymous Buyer', NULL, NULL);

		INSERT INTO products (id, tenant_id, sku, name, sale_price, cost_price, concept) VALUES
			(1, 1, 'WID-A', 'Widget A', 100.00, 60.00, 1),
			(2, 1, 'WID-B', 'Widget B', 50.00, 20.00, 1),
			(3, 1, 'SRV-1', 'Install Service', 9000000.00, 0.00, 2);
	`)
	if err != nil {
		t.Fatalf("Failed to seed test database: %v", err)
	}

	return pool
}

// fakeAuthority is an in-memory SequenceAuthority. Each successful
// CreateVoucher advances the sequence like the real gateway would.
type fakeAuthority struct {
	last        int64
	created     []fiscal.VoucherRequest
	failNext    error
	lastNumErr  error
	rejectTaken bool // reject the first CreateVoucher as a duplicate number
}

func (f *fakeAuthority) LastVoucherNumber(ctx context.Context, pointOfSale, voucherType int) (int64, error) {
	if f.lastNumErr != nil {
		return 0, f.lastNumErr
	}
	return f.last, nil
}

func (f *fakeAuthority) CreateVoucher(ctx context.Context, v fiscal.VoucherRequest) (fiscal.Authorization, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return fiscal.Authorization{}, err
	}
	if f.rejectTaken {
		f.rejectTaken = false
		f.last++ // someone else took the number we were told about
		return fiscal.Authorization{}, &fiscal.RejectionError{
			StatusCode: 409, Code: "duplicate_voucher_number", Detail: "number already used",
		}
	}
	f.created = append(f.created, v)
	f.last = v.NumberTo
	return fiscal.Authorization{
		CAE:        fmt.Sprintf("CAE%08d", v.NumberTo),
		Expiration: time.Now().AddDate(0, 0, 10),
	}, nil
}

func newTestService(pool *pgxpool.Pool, auth core.SequenceAuthority) core.OrderService {
	ledger := core.NewLedger(pool)
	return core.NewOrderService(pool, ledger, auth, 3, zerolog.Nop())
}

func TestCreateOrder_FullPipeline(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	auth := &fakeAuthority{last: 41}
	svc := newTestService(pool, auth)

	customerID := 2
	result, err := svc.CreateOrder(ctx, core.CreateOrderRequest{
		TenantID:      1,
		CustomerID:    &customerID,
		PaymentMethod: core.PaymentCash,
		Items: []core.OrderItemInput{
			{ProductID: 1, Quantity: 2},
			{ProductID: 2, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// 2×100 + 1×50 from the catalog, never from the request.
	if result.Order.TotalPrice.StringFixed(2) != "250.00" {
		t.Errorf("order total: got %s, want 250.00", result.Order.TotalPrice)
	}
	if len(result.Order.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(result.Order.Items))
	}
	if result.InvoicePending {
		t.Fatal("invoice should have been issued synchronously")
	}
	if result.Invoice == nil {
		t.Fatal("expected invoice in result")
	}

	// Customer 2 has no tax id → regime C, full total as net.
	if result.Invoice.InvoiceType != "C" {
		t.Errorf("invoice type: got %s, want C", result.Invoice.InvoiceType)
	}
	if result.Invoice.InvoiceNumber != 42 {
		t.Errorf("invoice number: got %d, want 42", result.Invoice.InvoiceNumber)
	}
	if result.Invoice.NetAmount.StringFixed(2) != "250.00" || !result.Invoice.TaxAmount.IsZero() {
		t.Errorf("regime C amounts: net %s tax %s", result.Invoice.NetAmount, result.Invoice.TaxAmount)
	}
	if result.Invoice.CustomerName == nil || *result.Invoice.CustomerName != "Anonymous Buyer" {
		t.Error("expected frozen customer snapshot on invoice")
	}

	// Ledger: sales entry (DR 1.1 / CR 4.1 for 250) and COGS entry
	// (DR 5.1 / CR 1.4 for 2×60 + 1×20 = 140).
	ledger := core.NewLedger(pool)
	entries, err := ledger.EntriesForOrder(ctx, 1, result.Order.ID)
	if err != nil {
		t.Fatalf("EntriesForOrder failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 ledger entries, got %d", len(entries))
	}

	balances, err := ledger.Balances(ctx, 1)
	if err != nil {
		t.Fatalf("Balances failed: %v", err)
	}
	want := map[string]string{
		"1.1": "250.00",
		"1.2": "0.00",
		"1.4": "-140.00",
		"4.1": "-250.00",
		"5.1": "140.00",
	}
	for _, b := range balances {
		if w, ok := want[b.Code]; ok && b.Balance.StringFixed(2) != w {
			t.Errorf("account %s balance: got %s, want %s", b.Code, b.Balance.StringFixed(2), w)
		}
	}

	// The other tenant's books are untouched.
	otherBalances, err := ledger.Balances(ctx, 2)
	if err != nil {
		t.Fatalf("Balances for tenant 2 failed: %v", err)
	}
	for _, b := range otherBalances {
		if !b.Balance.IsZero() {
			t.Errorf("tenant 2 account %s has balance %s, want 0", b.Code, b.Balance)
		}
	}
}

func TestCreateOrder_RegimeBWithCUIT(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	auth := &fakeAuthority{}
	svc := newTestService(pool, auth)

	customerID := 1 // CUIT holder
	result, err := svc.CreateOrder(ctx, core.CreateOrderRequest{
		TenantID:      1,
		CustomerID:    &customerID,
		PaymentMethod: core.PaymentBankTransfer,
		Items:         []core.OrderItemInput{{ProductID: 1, Quantity: 2}, {ProductID: 2, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	inv := result.Invoice
	if inv == nil {
		t.Fatal("expected invoice")
	}
	if inv.InvoiceType != "B" {
		t.Errorf("invoice type: got %s, want B", inv.InvoiceType)
	}
	if inv.NetAmount.StringFixed(2) != "206.61" || inv.TaxAmount.StringFixed(2) != "43.39" {
		t.Errorf("B split: net %s tax %s, want 206.61/43.39", inv.NetAmount, inv.TaxAmount)
	}
	if inv.DocType != 80 || inv.DocNumber != 20111111112 {
		t.Errorf("doc identification: got %d/%d", inv.DocType, inv.DocNumber)
	}

	// Bank transfer settles to 1.2, not 1.1.
	ledger := core.NewLedger(pool)
	balances, _ := ledger.Balances(ctx, 1)
	for _, b := range balances {
		if b.Code == "1.2" && b.Balance.StringFixed(2) != "250.00" {
			t.Errorf("bank balance: got %s, want 250.00", b.Balance)
		}
		if b.Code == "1.1" && !b.Balance.IsZero() {
			t.Errorf("cash balance: got %s, want 0", b.Balance)
		}
	}

	// The authority saw the itemized 21% VAT breakdown.
	if len(auth.created) != 1 || len(auth.created[0].VAT) != 1 {
		t.Fatalf("expected one voucher with VAT breakdown, got %+v", auth.created)
	}
	if auth.created[0].VAT[0].RateID != core.VATRate21 {
		t.Errorf("VAT rate id: got %d, want %d", auth.created[0].VAT[0].RateID, core.VATRate21)
	}
}

func TestCreateOrder_HighValueWithoutTaxIDRollsBack(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	svc := newTestService(pool, &fakeAuthority{})

	customerID := 2 // no tax id
	_, err := svc.CreateOrder(ctx, core.CreateOrderRequest{
		TenantID:   1,
		CustomerID: &customerID,
		Items:      []core.OrderItemInput{{ProductID: 3, Quantity: 2}}, // 18,000,000
	})
	if err == nil {
		t.Fatal("expected MissingTaxIDError")
	}
	var missing *core.MissingTaxIDError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingTaxIDError, got %T: %v", err, err)
	}

	// Nothing may survive the rollback: no order, no postings.
	var orders, entries int
	pool.QueryRow(ctx, "SELECT count(*) FROM orders").Scan(&orders)
	pool.QueryRow(ctx, "SELECT count(*) FROM ledger_entries").Scan(&entries)
	if orders != 0 || entries != 0 {
		t.Errorf("rollback leaked state: %d orders, %d entries", orders, entries)
	}
}

func TestCreateOrder_AuthorityDownLeavesOrderPending(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	auth := &fakeAuthority{last: 10, failNext: errors.New("connection refused")}
	svc := newTestService(pool, auth)

	result, err := svc.CreateOrder(ctx, core.CreateOrderRequest{
		TenantID: 1,
		Items:    []core.OrderItemInput{{ProductID: 2, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if !result.InvoicePending || result.Invoice != nil {
		t.Fatal("expected order committed with invoice pending")
	}
	if result.Order.InvoiceStatus != core.InvoicePendingStatus {
		t.Errorf("invoice status: got %s, want pending", result.Order.InvoiceStatus)
	}

	// The retry queue sees the order; a later IssueInvoice completes phase 2.
	pending, err := svc.PendingInvoices(ctx, 1)
	if err != nil {
		t.Fatalf("PendingInvoices failed: %v", err)
	}
	if len(pending) != 1 || pending[0] != result.Order.ID {
		t.Fatalf("pending queue: got %v, want [%d]", pending, result.Order.ID)
	}

	inv, err := svc.IssueInvoice(ctx, 1, result.Order.ID)
	if err != nil {
		t.Fatalf("retry IssueInvoice failed: %v", err)
	}
	if inv.InvoiceNumber != 11 {
		t.Errorf("invoice number: got %d, want 11", inv.InvoiceNumber)
	}

	order, _ := svc.GetOrder(ctx, 1, result.Order.ID)
	if order.InvoiceStatus != core.InvoiceIssued {
		t.Errorf("invoice status after retry: got %s, want issued", order.InvoiceStatus)
	}

	pending, _ = svc.PendingInvoices(ctx, 1)
	if len(pending) != 0 {
		t.Errorf("pending queue should be empty, got %v", pending)
	}
}

func TestIssueInvoice_Idempotent(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	auth := &fakeAuthority{}
	svc := newTestService(pool, auth)

	result, err := svc.CreateOrder(ctx, core.CreateOrderRequest{
		TenantID: 1,
		Items:    []core.OrderItemInput{{ProductID: 1, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	callsAfterCreate := len(auth.created)

	// Re-issuing must return the committed invoice without a new authority call.
	again, err := svc.IssueInvoice(ctx, 1, result.Order.ID)
	if err != nil {
		t.Fatalf("second IssueInvoice failed: %v", err)
	}
	if again.ID != result.Invoice.ID || again.CAE != result.Invoice.CAE {
		t.Error("re-issue returned a different invoice")
	}
	if len(auth.created) != callsAfterCreate {
		t.Errorf("authority called again on re-issue: %d calls, want %d", len(auth.created), callsAfterCreate)
	}
}

func TestIssueInvoice_DuplicateNumberRetriesOnce(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	auth := &fakeAuthority{last: 7, rejectTaken: true}
	svc := newTestService(pool, auth)

	result, err := svc.CreateOrder(ctx, core.CreateOrderRequest{
		TenantID: 1,
		Items:    []core.OrderItemInput{{ProductID: 2, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}
	if result.InvoicePending {
		t.Fatal("duplicate-number contention should have been retried, not left pending")
	}
	// First attempt went for 8, lost the race, retry claimed 9.
	if result.Invoice.InvoiceNumber != 9 {
		t.Errorf("invoice number after retry: got %d, want 9", result.Invoice.InvoiceNumber)
	}
	if len(auth.created) != 1 {
		t.Errorf("expected exactly one successful voucher, got %d", len(auth.created))
	}
}

func TestCreateOrder_UnknownProduct(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()

	svc := newTestService(pool, &fakeAuthority{})

	_, err := svc.CreateOrder(context.Background(), core.CreateOrderRequest{
		TenantID: 1,
		Items:    []core.OrderItemInput{{ProductID: 999, Quantity: 1}},
	})
	if err == nil {
		t.Fatal("expected NotFoundError for unknown product")
	}
	var notFound *core.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError, got %T: %v", err, err)
	}
}

func TestGetOrder_TenantScoping(t *testing.T) {
	pool := setupTestDB(t)
	defer pool.Close()
	ctx := context.Background()

	svc := newTestService(pool, &fakeAuthority{})

	result, err := svc.CreateOrder(ctx, core.CreateOrderRequest{
		TenantID: 1,
		Items:    []core.OrderItemInput{{ProductID: 1, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("CreateOrder failed: %v", err)
	}

	// Tenant 2 must not see tenant 1's order.
	_, err = svc.GetOrder(ctx, 2, result.Order.ID)
	var notFound *core.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundError for cross-tenant read, got %v", err)
	}
}
