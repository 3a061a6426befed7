package core

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountType string

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
	Equity    AccountType = "equity"
	Revenue   AccountType = "revenue"
	Expense   AccountType = "expense"
)

// Account is one row of the tenant-scoped chart of accounts. The pipeline
// treats the chart as a read-only reference table.
type Account struct {
	ID       int         `json:"id"`
	TenantID int         `json:"tenant_id"`
	Code     string      `json:"code"`
	Name     string      `json:"name"`
	Type     AccountType `json:"type"`
}

// Fixed account codes posted by the fulfillment pipeline.
const (
	AccountCash      = "1.1"
	AccountBank      = "1.2"
	AccountInventory = "1.4"
	AccountSales     = "4.1"
	AccountCOGS      = "5.1"
)

type PaymentMethod string

const (
	PaymentCash         PaymentMethod = "cash"
	PaymentCard         PaymentMethod = "card"
	PaymentBankTransfer PaymentMethod = "bank_transfer"
	PaymentMercadoPago  PaymentMethod = "mercado_pago"
	PaymentOther        PaymentMethod = "other"
)

// SettlementAccount returns the chart code debited when a sale is settled
// with this payment method: physical cash hits 1.1, everything else 1.2.
func (m PaymentMethod) SettlementAccount() string {
	if m == PaymentCash {
		return AccountCash
	}
	return AccountBank
}

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentBankTransfer, PaymentMercadoPago, PaymentOther:
		return true
	}
	return false
}

// Customer is the sales customer master record. TaxIDType/TaxIDNumber are nil
// for unidentified end consumers.
type Customer struct {
	ID          int       `json:"id"`
	TenantID    int       `json:"tenant_id"`
	Name        string    `json:"name"`
	Email       *string   `json:"email,omitempty"`
	Phone       *string   `json:"phone,omitempty"`
	Address     *string   `json:"address,omitempty"`
	TaxIDType   *int      `json:"tax_id_type,omitempty"`
	TaxIDNumber *int64    `json:"tax_id_number,omitempty"`
	TaxRegime   *string   `json:"tax_regime,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Product is a sellable catalog item. SalePrice and CostPrice are the
// authoritative values frozen into order items at order time.
type Product struct {
	ID        int             `json:"id"`
	TenantID  int             `json:"tenant_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Category  *string         `json:"category,omitempty"`
	SalePrice decimal.Decimal `json:"sale_price"`
	CostPrice decimal.Decimal `json:"cost_price"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Concept   int             `json:"concept"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

// LedgerEntry groups lines whose debits and credits must balance to zero net.
// Either all lines of an entry exist, or none do.
type LedgerEntry struct {
	ID          int          `json:"id"`
	TenantID    int          `json:"tenant_id"`
	EntryDate   string       `json:"entry_date"` // YYYY-MM-DD
	OrderID     *int         `json:"order_id,omitempty"`
	Description string       `json:"description"`
	CreatedAt   time.Time    `json:"created_at"`
	Lines       []LedgerLine `json:"lines"`
}

type LedgerLine struct {
	ID          int             `json:"id"`
	EntryID     int             `json:"entry_id"`
	AccountID   int             `json:"account_id"`
	AccountCode string          `json:"account_code"` // joined from accounts
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
}

// AccountBalance is the net debit position of one account (negative = net credit).
type AccountBalance struct {
	Code    string          `json:"code"`
	Name    string          `json:"name"`
	Balance decimal.Decimal `json:"balance"`
}
