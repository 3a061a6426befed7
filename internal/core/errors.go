package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// NotFoundError reports a missing tenant-scoped resource (product, customer,
// account code, order). Rejected before the surrounding transaction commits.
type NotFoundError struct {
	Resource   string
	Identifier string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.Identifier)
}

// ValidationError reports bad input rejected before any write.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// UnbalancedEntryError means a ledger entry was constructed whose debits and
// credits do not net to zero. This is a programming fault, never user input:
// it aborts the transaction and must surface loudly.
type UnbalancedEntryError struct {
	Debits  decimal.Decimal
	Credits decimal.Decimal
}

func (e *UnbalancedEntryError) Error() string {
	return fmt.Sprintf("unbalanced ledger entry: debits %s != credits %s", e.Debits, e.Credits)
}

// MissingTaxIDError is the business-rule rejection for high-value orders whose
// customer has no fiscal identification number.
type MissingTaxIDError struct {
	Total decimal.Decimal
}

func (e *MissingTaxIDError) Error() string {
	return fmt.Sprintf("order total %s requires customer tax identification", e.Total)
}
