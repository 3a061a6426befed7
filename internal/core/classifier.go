package core

import (
	"github.com/shopspring/decimal"
)

// Fiscal document type codes recognized by the authority.
const (
	DocTypeCUIT          = 80
	DocTypeCUIL          = 86
	DocTypeDNI           = 96
	DocTypeFinalConsumer = 99
)

// Voucher concept: what kind of transaction the invoice documents.
const (
	ConceptGoods    = 1
	ConceptServices = 2
	ConceptMixed    = 3
)

// Authority voucher type codes for the two supported regimes.
const (
	VoucherTypeB = 6  // regime B, itemized tax
	VoucherTypeC = 11 // regime C, no tax breakdown
)

// HighValueThreshold: at or above this order total the authority requires an
// identified customer and regime B, regardless of tax-id driven rules.
var HighValueThreshold = decimal.NewFromInt(10_000_000)

// vatDivisor backs the fixed 21% rate assumed when splitting a regime-B total
// into net and tax.
var vatDivisor = decimal.RequireFromString("1.21")

// VATRate21 is the authority's rate identifier for 21% in the itemized
// breakdown of regime-B payloads.
const VATRate21 = 5

// ClassifierInput is the order context the regime decision is made on.
type ClassifierInput struct {
	HasCustomer bool
	TaxIDType   *int
	TaxIDNumber *int64
	Total       decimal.Decimal
	Concepts    []int // distinct concept codes across the order's items
}

// Classification is the regime decision plus the normalized amounts and
// document identification fields the voucher payload needs.
type Classification struct {
	Regime      string // "B" or "C"
	VoucherType int
	Concept     int
	DocType     int
	DocNumber   int64
	Net         decimal.Decimal
	Tax         decimal.Decimal
}

func recognizedTaxIDType(t *int) bool {
	if t == nil {
		return false
	}
	switch *t {
	case DocTypeCUIT, DocTypeCUIL, DocTypeDNI:
		return true
	}
	return false
}

// resolveConcept collapses the distinct item concepts: one shared code wins,
// any mix becomes ConceptMixed. An empty set defaults to goods.
func resolveConcept(concepts []int) int {
	distinct := make(map[int]bool, len(concepts))
	for _, c := range concepts {
		distinct[c] = true
	}
	if len(distinct) == 1 {
		for c := range distinct {
			return c
		}
	}
	if len(distinct) == 0 {
		return ConceptGoods
	}
	return ConceptMixed
}

// ClassifyInvoice maps an order context to its invoice regime. Pure function,
// rules evaluated in priority order, first match wins:
//
//  1. no linked customer                     → C
//  2. total ≥ HighValueThreshold            → B, tax id mandatory
//  3. customer has a recognized tax-id type → B
//  4. default                               → C
//
// Regime B splits total into net = total/1.21 and tax = total − net; regime C
// reports the full total as net with no tax breakdown.
func ClassifyInvoice(in ClassifierInput) (Classification, error) {
	c := Classification{Concept: resolveConcept(in.Concepts)}

	switch {
	case !in.HasCustomer:
		c.Regime = "C"

	case in.Total.GreaterThanOrEqual(HighValueThreshold):
		if in.TaxIDNumber == nil {
			return Classification{}, &MissingTaxIDError{Total: in.Total}
		}
		c.Regime = "B"

	case recognizedTaxIDType(in.TaxIDType):
		c.Regime = "B"

	default:
		c.Regime = "C"
	}

	if c.Regime == "B" {
		c.VoucherType = VoucherTypeB
		c.Net = in.Total.DivRound(vatDivisor, 2)
		c.Tax = in.Total.Sub(c.Net)
		if in.TaxIDType != nil {
			c.DocType = *in.TaxIDType
		} else {
			c.DocType = DocTypeCUIT
		}
		if in.TaxIDNumber != nil {
			c.DocNumber = *in.TaxIDNumber
		}
	} else {
		c.VoucherType = VoucherTypeC
		c.Net = in.Total
		c.Tax = decimal.Zero
		c.DocType = DocTypeFinalConsumer
		c.DocNumber = 0
	}

	return c, nil
}
