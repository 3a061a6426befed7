package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// InvoiceStatus marks phase-2 progress on an order. Orders whose business data
// committed but whose invoice is not yet authorized stay InvoicePendingStatus
// and are picked up by the retry path.
type InvoiceStatus string

const (
	InvoiceNone          InvoiceStatus = "none"
	InvoicePendingStatus InvoiceStatus = "pending"
	InvoiceIssued        InvoiceStatus = "issued"
)

// Order is the persisted order header. TotalPrice equals the sum of its
// items' subtotals once items are attached.
type Order struct {
	ID            int             `json:"id"`
	TenantID      int             `json:"tenant_id"`
	CustomerID    *int            `json:"customer_id,omitempty"`
	Status        OrderStatus     `json:"status"`
	OrderDate     time.Time       `json:"order_date"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	PaymentMethod PaymentMethod   `json:"payment_method"`
	Notes         *string         `json:"notes,omitempty"`
	InvoiceStatus InvoiceStatus   `json:"invoice_status"`
	CreatedAt     time.Time       `json:"created_at"`
	Items         []OrderItem     `json:"items"`
}

// OrderItem is one line of an order. ProductName, UnitPrice, UnitCost and
// TaxRate are snapshots taken at order creation; catalog changes never
// rewrite historical orders.
type OrderItem struct {
	ID          int             `json:"id"`
	OrderID     int             `json:"order_id"`
	ProductID   int             `json:"product_id"`
	ProductName string          `json:"product_name"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	UnitCost    decimal.Decimal `json:"unit_cost"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

// Subtotal is quantity × frozen unit price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// OrderItemInput is one requested (product, quantity) pair.
type OrderItemInput struct {
	ProductID int `json:"product_id"`
	Quantity  int `json:"quantity"`
}

// CreateOrderRequest is the inbound order-creation payload. CustomerID is
// optional; anonymous orders are invoiced as final-consumer regime C.
type CreateOrderRequest struct {
	TenantID      int              `json:"-"`
	CustomerID    *int             `json:"customer_id,omitempty"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	Notes         string           `json:"notes,omitempty"`
	Items         []OrderItemInput `json:"items"`
}

// Validate rejects structurally bad requests before any write.
func (r CreateOrderRequest) Validate() error {
	if r.TenantID <= 0 {
		return &ValidationError{Msg: "tenant id is required"}
	}
	if len(r.Items) == 0 {
		return &ValidationError{Msg: "order must have at least one item"}
	}
	if r.PaymentMethod != "" && !r.PaymentMethod.Valid() {
		return &ValidationError{Msg: "unknown payment method: " + string(r.PaymentMethod)}
	}
	seen := make(map[int]bool, len(r.Items))
	for _, it := range r.Items {
		if it.ProductID <= 0 {
			return &ValidationError{Msg: "item product id is required"}
		}
		if it.Quantity <= 0 {
			return &ValidationError{Msg: "item quantity must be > 0"}
		}
		if seen[it.ProductID] {
			return &ValidationError{Msg: "duplicate product in order items"}
		}
		seen[it.ProductID] = true
	}
	return nil
}

// OrderResult is the order-creation response: the committed order plus the
// invoice when phase 2 succeeded synchronously. InvoicePending is set when
// the order exists but the fiscal authorization is still outstanding.
type OrderResult struct {
	Order          *Order   `json:"order"`
	Invoice        *Invoice `json:"invoice,omitempty"`
	InvoicePending bool     `json:"invoice_pending,omitempty"`
}

// Invoice is the persisted fiscal invoice: one per order, numbered by the
// external authority, immutable once a CAE is attached.
type Invoice struct {
	ID            int             `json:"id"`
	TenantID      int             `json:"tenant_id"`
	OrderID       int             `json:"order_id"`
	InvoiceType   string          `json:"invoice_type"` // "B" or "C"
	PointOfSale   int             `json:"point_of_sale"`
	InvoiceNumber int64           `json:"invoice_number"`
	InvoiceDate   string          `json:"invoice_date"` // YYYY-MM-DD
	Concept       int             `json:"concept"`
	DocType       int             `json:"doc_type"`
	DocNumber     int64           `json:"doc_number"`
	CAE           string          `json:"cae"`
	CAEExpiration string          `json:"cae_expiration"` // YYYY-MM-DD
	TotalAmount   decimal.Decimal `json:"total_amount"`
	NetAmount     decimal.Decimal `json:"net_amount"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`

	// Customer snapshot frozen at invoice time.
	CustomerName        *string `json:"customer_name,omitempty"`
	CustomerTaxIDType   *int    `json:"customer_tax_id_type,omitempty"`
	CustomerTaxIDNumber *int64  `json:"customer_tax_id_number,omitempty"`
	CustomerTaxRegime   *string `json:"customer_tax_regime,omitempty"`
	CustomerAddress     *string `json:"customer_address,omitempty"`
	CustomerPhone       *string `json:"customer_phone,omitempty"`
	CustomerEmail       *string `json:"customer_email,omitempty"`

	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}
