// Package fiscal talks to the electronic-billing gateway that fronts the tax
// authority: it reports the last issued voucher number per point of sale and
// voucher type, and authorizes finalized vouchers by issuing a CAE.
//
// Voucher numbering is the one shared mutable resource the pipeline does not
// own. Two callers can race for the same number; the authority detects the
// collision and rejects the loser, which must re-query and retry rather than
// treat the rejection as fatal.
package fiscal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// VATItem is one row of the itemized tax breakdown on a regime-B voucher.
// RateID 5 identifies the 21% rate.
type VATItem struct {
	RateID  int             `json:"Id"`
	BaseAmt decimal.Decimal `json:"BaseImp"`
	Amount  decimal.Decimal `json:"Importe"`
}

// VoucherRequest is the finalized voucher payload submitted for
// authorization. Field tags follow the authority's wire names; amounts are
// serialized as exact decimal strings. VAT is present only for itemized
// (regime B) vouchers.
type VoucherRequest struct {
	RecordCount  int             `json:"CantReg"`
	PointOfSale  int             `json:"PtoVta"`
	VoucherType  int             `json:"CbteTipo"`
	Concept      int             `json:"Concepto"`
	DocType      int             `json:"DocTipo"`
	DocNumber    int64           `json:"DocNro"`
	NumberFrom   int64           `json:"CbteDesde"`
	NumberTo     int64           `json:"CbteHasta"`
	VoucherDate  string          `json:"CbteFch"` // yyyymmdd
	TotalAmount  decimal.Decimal `json:"ImpTotal"`
	NetAmount    decimal.Decimal `json:"ImpNeto"`
	TaxAmount    decimal.Decimal `json:"ImpIVA"`
	CurrencyID   string          `json:"MonId"`
	CurrencyRate decimal.Decimal `json:"MonCotiz"`
	VAT          []VATItem       `json:"Iva,omitempty"`
}

// Authorization is the authority's approval of a voucher.
type Authorization struct {
	CAE        string    `json:"cae"`
	Expiration time.Time `json:"cae_expiration"`
}

// RejectionError is any non-success response from the authority. The voucher
// was NOT authorized; Code carries the authority's machine-readable reason.
type RejectionError struct {
	StatusCode int
	Code       string
	Detail     string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("authority rejected request (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Detail)
}

// DuplicateNumber reports whether the rejection is a voucher-number collision,
// which callers treat as recoverable contention: re-query the sequence and
// retry once with a fresh number.
func (e *RejectionError) DuplicateNumber() bool {
	return e.StatusCode == http.StatusConflict || e.Code == "duplicate_voucher_number"
}

// Client is the HTTP gateway client. Safe for concurrent use.
type Client struct {
	baseURL string
	token   string
	cuit    string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL, token, cuit string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		cuit:    cuit,
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "fiscal").Logger(),
	}
}

type lastVoucherResponse struct {
	LastNumber int64 `json:"last_number"`
}

type createVoucherResponse struct {
	CAE           string `json:"cae"`
	CAEExpiration string `json:"cae_expiration"` // YYYY-MM-DD
}

type errorBody struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

// LastVoucherNumber returns the last number the authority issued for the
// (point of sale, voucher type) pair. The next voucher is last+1, but only
// the authority can confirm it: concurrent callers may observe the same last
// value and collide on CreateVoucher.
func (c *Client) LastVoucherNumber(ctx context.Context, pointOfSale, voucherType int) (int64, error) {
	url := fmt.Sprintf("%s/v1/pos/%d/voucher-types/%d/last", c.baseURL, pointOfSale, voucherType)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("last voucher request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, c.rejection(resp)
	}

	var body lastVoucherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("failed to decode last voucher response: %w", err)
	}
	return body.LastNumber, nil
}

// CreateVoucher submits a finalized voucher and returns its CAE. This call is
// side-effecting and not reversible: once the authority answers success, the
// number is burned. A transport error or timeout means the outcome is
// UNKNOWN — the caller must keep the invoice pending and retry or reconcile,
// never assume failure.
func (c *Client) CreateVoucher(ctx context.Context, v VoucherRequest) (Authorization, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return Authorization{}, fmt.Errorf("failed to marshal voucher: %w", err)
	}

	url := c.baseURL + "/v1/vouchers"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Authorization{}, fmt.Errorf("failed to build request: %w", err)
	}
	c.setHeaders(req)
	req.Header.Set("Content-Type", "application/json")

	c.log.Debug().
		Int("point_of_sale", v.PointOfSale).
		Int("voucher_type", v.VoucherType).
		Int64("number", v.NumberFrom).
		Msg("requesting voucher authorization")

	resp, err := c.http.Do(req)
	if err != nil {
		return Authorization{}, fmt.Errorf("create voucher request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		rej := c.rejection(resp)
		c.log.Warn().
			Int("status", resp.StatusCode).
			Int64("number", v.NumberFrom).
			Err(rej).
			Msg("voucher authorization rejected")
		return Authorization{}, rej
	}

	var body createVoucherResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Authorization{}, fmt.Errorf("failed to decode voucher response: %w", err)
	}

	exp, err := time.Parse("2006-01-02", body.CAEExpiration)
	if err != nil {
		return Authorization{}, fmt.Errorf("invalid CAE expiration %q: %w", body.CAEExpiration, err)
	}

	return Authorization{CAE: body.CAE, Expiration: exp}, nil
}

func (c *Client) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.cuit != "" {
		req.Header.Set("X-CUIT", c.cuit)
	}
}

// rejection builds a RejectionError from a non-success response, preserving
// the authority's error detail when the body is parseable.
func (c *Client) rejection(resp *http.Response) *RejectionError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Code == "" {
		return &RejectionError{StatusCode: resp.StatusCode, Code: "unknown", Detail: string(raw)}
	}
	return &RejectionError{StatusCode: resp.StatusCode, Code: body.Code, Detail: body.Detail}
}
