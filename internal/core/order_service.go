package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"facturador/internal/fiscal"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// SequenceAuthority is the slice of the fiscal gateway the orchestrator
// needs: sequence lookup and voucher authorization. Satisfied by
// *fiscal.Client; tests substitute a fake.
type SequenceAuthority interface {
	LastVoucherNumber(ctx context.Context, pointOfSale, voucherType int) (int64, error)
	CreateVoucher(ctx context.Context, v fiscal.VoucherRequest) (fiscal.Authorization, error)
}

// OrderFilter narrows ListOrders results. Nil fields are ignored.
type OrderFilter struct {
	Status        *OrderStatus
	CustomerID    *int
	PaymentMethod *PaymentMethod
}

// OrderService runs the order fulfillment pipeline: pricing, persistence,
// double-entry postings, invoice classification and fiscal authorization.
type OrderService interface {
	// CreateOrder runs phase 1 (order + items + ledger postings, one
	// transaction) and then attempts phase 2 (invoice). A phase-2 failure
	// never rolls back phase 1: the result reports InvoicePending instead.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error)

	// IssueInvoice is phase 2, idempotent by order id: if the order already
	// has a committed invoice it is returned without contacting the
	// authority; otherwise the invoice is classified, numbered, authorized
	// and persisted with a frozen customer snapshot.
	IssueInvoice(ctx context.Context, tenantID, orderID int) (*Invoice, error)

	GetOrder(ctx context.Context, tenantID, orderID int) (*Order, error)
	ListOrders(ctx context.Context, tenantID int, filter OrderFilter) ([]Order, error)
	GetInvoice(ctx context.Context, tenantID, orderID int) (*Invoice, error)

	// PendingInvoices lists orders whose business data committed but whose
	// invoice is still outstanding (phase-2 retry queue).
	PendingInvoices(ctx context.Context, tenantID int) ([]int, error)
}

type orderService struct {
	pool        *pgxpool.Pool
	ledger      *Ledger
	authority   SequenceAuthority
	pointOfSale int
	log         zerolog.Logger
}

func NewOrderService(pool *pgxpool.Pool, ledger *Ledger, authority SequenceAuthority, pointOfSale int, log zerolog.Logger) OrderService {
	return &orderService{
		pool:        pool,
		ledger:      ledger,
		authority:   authority,
		pointOfSale: pointOfSale,
		log:         log.With().Str("component", "orders").Logger(),
	}
}

// ── Phase 1: order + ledger ──────────────────────────────────────────────────

func (s *orderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*OrderResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = PaymentCash
	}

	log := s.log.With().Int("tenant_id", req.TenantID).Logger()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Resolve optional customer.
	var customer *Customer
	if req.CustomerID != nil {
		customer, err = fetchCustomer(ctx, tx, req.TenantID, *req.CustomerID)
		if err != nil {
			return nil, err
		}
	}

	// Resolve authoritative prices once; they are frozen into the items below.
	quantities := make(map[int]int, len(req.Items))
	for _, it := range req.Items {
		quantities[it.ProductID] = it.Quantity
	}
	priced, err := ResolvePrices(ctx, tx, req.TenantID, quantities)
	if err != nil {
		return nil, err
	}

	// Insert order header.
	var orderID int
	err = tx.QueryRow(ctx, `
		INSERT INTO orders (tenant_id, customer_id, status, payment_method, notes, invoice_status)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		RETURNING id
	`, req.TenantID, req.CustomerID, OrderPending, req.PaymentMethod, req.Notes, InvoicePendingStatus).Scan(&orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert order: %w", err)
	}

	log = log.With().Int("order_id", orderID).Logger()

	// Bulk insert items with snapshot pricing, accumulating totals.
	total := decimal.Zero
	costTotal := decimal.Zero
	for _, it := range req.Items {
		p := priced[it.ProductID]
		qty := decimal.NewFromInt(int64(it.Quantity))
		total = total.Add(p.SalePrice.Mul(qty))
		costTotal = costTotal.Add(p.CostPrice.Mul(qty))

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, unit_cost, tax_rate)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, orderID, it.ProductID, p.Name, it.Quantity, p.SalePrice, p.CostPrice, p.TaxRate)
		if err != nil {
			return nil, fmt.Errorf("failed to insert order item: %w", err)
		}
	}

	// The header total is derived from the frozen items, never trusted from input.
	if _, err = tx.Exec(ctx,
		"UPDATE orders SET total_price = $1 WHERE id = $2", total, orderID,
	); err != nil {
		return nil, fmt.Errorf("failed to update order total: %w", err)
	}

	entryDate := time.Now()

	// Sales posting: DR cash/bank, CR sales revenue.
	_, err = s.ledger.PostEntryTx(ctx, tx, req.TenantID, entryDate, &orderID,
		fmt.Sprintf("Sale for order %d", orderID),
		[]EntryLine{
			{AccountCode: req.PaymentMethod.SettlementAccount(), Debit: total},
			{AccountCode: AccountSales, Credit: total},
		})
	if err != nil {
		return nil, fmt.Errorf("sales posting failed: %w", err)
	}

	// COGS posting: DR cost of goods sold, CR inventory, at historical cost.
	// Orders whose products carry no recorded cost post no COGS entry.
	if costTotal.IsPositive() {
		_, err = s.ledger.PostEntryTx(ctx, tx, req.TenantID, entryDate, &orderID,
			fmt.Sprintf("Cost of goods sold for order %d", orderID),
			[]EntryLine{
				{AccountCode: AccountCOGS, Debit: costTotal},
				{AccountCode: AccountInventory, Credit: costTotal},
			})
		if err != nil {
			return nil, fmt.Errorf("cogs posting failed: %w", err)
		}
	} else {
		log.Warn().Msg("no product costs recorded, skipping COGS posting")
	}

	// Classify before committing: a MissingTaxIDError must roll back the
	// whole order, not leave it half-created.
	concepts := make([]int, 0, len(priced))
	for _, p := range priced {
		concepts = append(concepts, p.Concept)
	}
	if _, err := ClassifyInvoice(classifierInput(customer, total, concepts)); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit order: %w", err)
	}

	log.Info().
		Str("total", total.StringFixed(2)).
		Int("items", len(req.Items)).
		Msg("order created")

	order, err := s.GetOrder(ctx, req.TenantID, orderID)
	if err != nil {
		return nil, err
	}
	result := &OrderResult{Order: order}

	// Phase 2: the external authorization boundary. Its failure leaves the
	// order committed and invoice-pending; it is reported, never rolled back.
	invoice, err := s.IssueInvoice(ctx, req.TenantID, orderID)
	if err != nil {
		log.Error().Err(err).Msg("invoice issuing failed, order left pending")
		result.InvoicePending = true
		return result, nil
	}
	result.Invoice = invoice
	order.InvoiceStatus = InvoiceIssued

	return result, nil
}

// ── Phase 2: classification, sequencing, authorization, persistence ──────────

func (s *orderService) IssueInvoice(ctx context.Context, tenantID, orderID int) (*Invoice, error) {
	log := s.log.With().Int("tenant_id", tenantID).Int("order_id", orderID).Logger()

	// Idempotence guard: a committed invoice ends phase 2 without touching
	// the authority again.
	if inv, err := s.GetInvoice(ctx, tenantID, orderID); err == nil {
		return inv, nil
	} else if !isNotFound(err) {
		return nil, err
	}

	var (
		total      decimal.Decimal
		customerID *int
	)
	err := s.pool.QueryRow(ctx,
		"SELECT total_price, customer_id FROM orders WHERE tenant_id = $1 AND id = $2",
		tenantID, orderID,
	).Scan(&total, &customerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "order", Identifier: fmt.Sprint(orderID)}
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	var customer *Customer
	if customerID != nil {
		customer, err = fetchCustomer(ctx, s.pool, tenantID, *customerID)
		if err != nil {
			return nil, err
		}
	}

	concepts, err := s.orderConcepts(ctx, orderID)
	if err != nil {
		return nil, err
	}

	cls, err := ClassifyInvoice(classifierInput(customer, total, concepts))
	if err != nil {
		return nil, err
	}

	// Sequence + authorization, outside any DB transaction: the authority
	// call is not reversible and must not hold a connection's tx open.
	auth, number, err := s.authorize(ctx, cls, total)
	if err != nil {
		return nil, err
	}

	invoiceDate := time.Now().Format("2006-01-02")

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin invoice transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var invoiceID *int
	err = tx.QueryRow(ctx, `
		INSERT INTO invoices (
			tenant_id, order_id, invoice_type, point_of_sale, invoice_number,
			invoice_date, concept, doc_type, doc_number, cae, cae_expiration,
			total_amount, net_amount, tax_amount,
			customer_name, customer_tax_id_type, customer_tax_id_number,
			customer_tax_regime, customer_address, customer_phone, customer_email,
			status
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
		ON CONFLICT (order_id) DO NOTHING
		RETURNING id
	`,
		tenantID, orderID, cls.Regime, s.pointOfSale, number,
		invoiceDate, cls.Concept, cls.DocType, cls.DocNumber,
		auth.CAE, auth.Expiration.Format("2006-01-02"),
		total, cls.Net, cls.Tax,
		snapshotField(customer, func(c *Customer) *string { return &c.Name }),
		snapshotField(customer, func(c *Customer) *int { return c.TaxIDType }),
		snapshotField(customer, func(c *Customer) *int64 { return c.TaxIDNumber }),
		snapshotField(customer, func(c *Customer) *string { return c.TaxRegime }),
		snapshotField(customer, func(c *Customer) *string { return c.Address }),
		snapshotField(customer, func(c *Customer) *string { return c.Phone }),
		snapshotField(customer, func(c *Customer) *string { return c.Email }),
		"approved",
	).Scan(&invoiceID)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to insert invoice: %w", err)
	}

	if invoiceID == nil {
		// A concurrent phase 2 won the insert race. Our authorization burned
		// a voucher number authority-side; surface that loudly but return
		// the committed invoice to keep the operation idempotent.
		log.Error().
			Str("cae", auth.CAE).
			Int64("number", number).
			Msg("concurrent invoice insert detected, authorized voucher unused")
		return s.GetInvoice(ctx, tenantID, orderID)
	}

	if _, err = tx.Exec(ctx,
		"UPDATE orders SET invoice_status = $1 WHERE id = $2", InvoiceIssued, orderID,
	); err != nil {
		return nil, fmt.Errorf("failed to mark order invoiced: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit invoice: %w", err)
	}

	log.Info().
		Str("invoice_type", cls.Regime).
		Int64("number", number).
		Str("cae", auth.CAE).
		Msg("invoice issued")

	return s.GetInvoice(ctx, tenantID, orderID)
}

// authorize reserves the next voucher number and requests the CAE. A
// duplicate-number rejection means another issuer claimed the number first:
// the sequence is re-queried and the request retried exactly once; repeated
// contention escalates to manual intervention.
func (s *orderService) authorize(ctx context.Context, cls Classification, total decimal.Decimal) (fiscal.Authorization, int64, error) {
	last, err := s.authority.LastVoucherNumber(ctx, s.pointOfSale, cls.VoucherType)
	if err != nil {
		return fiscal.Authorization{}, 0, fmt.Errorf("failed to fetch last voucher number: %w", err)
	}
	number := last + 1

	auth, err := s.authority.CreateVoucher(ctx, buildVoucher(cls, s.pointOfSale, number, total))
	if err == nil {
		return auth, number, nil
	}

	var rej *fiscal.RejectionError
	if !errors.As(err, &rej) || !rej.DuplicateNumber() {
		return fiscal.Authorization{}, 0, err
	}

	s.log.Warn().
		Int64("number", number).
		Msg("voucher number taken, retrying with refreshed sequence")

	last, err = s.authority.LastVoucherNumber(ctx, s.pointOfSale, cls.VoucherType)
	if err != nil {
		return fiscal.Authorization{}, 0, fmt.Errorf("failed to refresh voucher number: %w", err)
	}
	number = last + 1

	auth, err = s.authority.CreateVoucher(ctx, buildVoucher(cls, s.pointOfSale, number, total))
	if err != nil {
		return fiscal.Authorization{}, 0, fmt.Errorf("voucher number contention persists after retry, manual intervention required: %w", err)
	}
	return auth, number, nil
}

// buildVoucher constructs the authority payload for either regime: B carries
// the itemized 21% VAT breakdown, C reports the total as net.
func buildVoucher(cls Classification, pointOfSale int, number int64, total decimal.Decimal) fiscal.VoucherRequest {
	v := fiscal.VoucherRequest{
		RecordCount:  1,
		PointOfSale:  pointOfSale,
		VoucherType:  cls.VoucherType,
		Concept:      cls.Concept,
		DocType:      cls.DocType,
		DocNumber:    cls.DocNumber,
		NumberFrom:   number,
		NumberTo:     number,
		VoucherDate:  time.Now().Format("20060102"),
		TotalAmount:  total,
		NetAmount:    cls.Net,
		TaxAmount:    cls.Tax,
		CurrencyID:   "PES",
		CurrencyRate: decimal.NewFromInt(1),
	}
	if cls.Regime == "B" {
		v.VAT = []fiscal.VATItem{{RateID: VATRate21, BaseAmt: cls.Net, Amount: cls.Tax}}
	}
	return v
}

// ── Queries ──────────────────────────────────────────────────────────────────

func (s *orderService) GetOrder(ctx context.Context, tenantID, orderID int) (*Order, error) {
	var o Order
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, status, order_date, total_price,
		       payment_method, notes, invoice_status, created_at
		FROM orders
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, orderID).Scan(
		&o.ID, &o.TenantID, &o.CustomerID, &o.Status, &o.OrderDate, &o.TotalPrice,
		&o.PaymentMethod, &o.Notes, &o.InvoiceStatus, &o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "order", Identifier: fmt.Sprint(orderID)}
		}
		return nil, fmt.Errorf("failed to fetch order %d: %w", orderID, err)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, unit_price, unit_cost, tax_rate
		FROM order_items
		WHERE order_id = $1
		ORDER BY id
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName,
			&it.Quantity, &it.UnitPrice, &it.UnitCost, &it.TaxRate); err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}
		o.Items = append(o.Items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating order items: %w", err)
	}
	return &o, nil
}

func (s *orderService) ListOrders(ctx context.Context, tenantID int, filter OrderFilter) ([]Order, error) {
	query := `
		SELECT id, tenant_id, customer_id, status, order_date, total_price,
		       payment_method, notes, invoice_status, created_at
		FROM orders
		WHERE tenant_id = $1
	`
	args := []any{tenantID}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.CustomerID != nil {
		args = append(args, *filter.CustomerID)
		query += fmt.Sprintf(" AND customer_id = $%d", len(args))
	}
	if filter.PaymentMethod != nil {
		args = append(args, *filter.PaymentMethod)
		query += fmt.Sprintf(" AND payment_method = $%d", len(args))
	}
	query += " ORDER BY id DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []Order
	for rows.Next() {
		var o Order
		if err := rows.Scan(&o.ID, &o.TenantID, &o.CustomerID, &o.Status, &o.OrderDate,
			&o.TotalPrice, &o.PaymentMethod, &o.Notes, &o.InvoiceStatus, &o.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

func (s *orderService) GetInvoice(ctx context.Context, tenantID, orderID int) (*Invoice, error) {
	var inv Invoice
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, order_id, invoice_type, point_of_sale, invoice_number,
		       invoice_date::text, concept, doc_type, doc_number, cae, cae_expiration::text,
		       total_amount, net_amount, tax_amount,
		       customer_name, customer_tax_id_type, customer_tax_id_number,
		       customer_tax_regime, customer_address, customer_phone, customer_email,
		       status, created_at
		FROM invoices
		WHERE tenant_id = $1 AND order_id = $2
	`, tenantID, orderID).Scan(
		&inv.ID, &inv.TenantID, &inv.OrderID, &inv.InvoiceType, &inv.PointOfSale, &inv.InvoiceNumber,
		&inv.InvoiceDate, &inv.Concept, &inv.DocType, &inv.DocNumber, &inv.CAE, &inv.CAEExpiration,
		&inv.TotalAmount, &inv.NetAmount, &inv.TaxAmount,
		&inv.CustomerName, &inv.CustomerTaxIDType, &inv.CustomerTaxIDNumber,
		&inv.CustomerTaxRegime, &inv.CustomerAddress, &inv.CustomerPhone, &inv.CustomerEmail,
		&inv.Status, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "invoice", Identifier: fmt.Sprintf("order %d", orderID)}
		}
		return nil, fmt.Errorf("failed to fetch invoice for order %d: %w", orderID, err)
	}
	return &inv, nil
}

func (s *orderService) PendingInvoices(ctx context.Context, tenantID int) ([]int, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT id FROM orders WHERE tenant_id = $1 AND invoice_status = $2 ORDER BY id",
		tenantID, InvoicePendingStatus,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending invoices: %w", err)
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func fetchCustomer(ctx context.Context, q pgxQuerier, tenantID, customerID int) (*Customer, error) {
	var c Customer
	err := q.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, phone, address,
		       tax_id_type, tax_id_number, tax_regime, created_at
		FROM customers
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, customerID).Scan(
		&c.ID, &c.TenantID, &c.Name, &c.Email, &c.Phone, &c.Address,
		&c.TaxIDType, &c.TaxIDNumber, &c.TaxRegime, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &NotFoundError{Resource: "customer", Identifier: fmt.Sprint(customerID)}
		}
		return nil, fmt.Errorf("failed to fetch customer %d: %w", customerID, err)
	}
	return &c, nil
}

func (s *orderService) orderConcepts(ctx context.Context, orderID int) ([]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT DISTINCT p.concept
		FROM order_items oi
		JOIN products p ON p.id = oi.product_id
		WHERE oi.order_id = $1
	`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order concepts: %w", err)
	}
	defer rows.Close()

	var concepts []int
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("failed to scan concept: %w", err)
		}
		concepts = append(concepts, c)
	}
	return concepts, rows.Err()
}

func classifierInput(customer *Customer, total decimal.Decimal, concepts []int) ClassifierInput {
	in := ClassifierInput{Total: total, Concepts: concepts}
	if customer != nil {
		in.HasCustomer = true
		in.TaxIDType = customer.TaxIDType
		in.TaxIDNumber = customer.TaxIDNumber
	}
	return in
}

func isNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// snapshotField extracts a frozen field from the optional customer; nil
// customer yields nil (anonymous final consumer).
func snapshotField[T any](c *Customer, get func(*Customer) *T) *T {
	if c == nil {
		return nil
	}
	return get(c)
}
