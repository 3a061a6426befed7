package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"facturador/internal/app"
	"facturador/internal/core"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// Handler holds the ApplicationService and the chi router.
type Handler struct {
	svc app.ApplicationService
	log zerolog.Logger
}

// NewHandler creates and wires the chi router with all routes. Every /api
// route except health requires an X-Tenant-ID header.
func NewHandler(svc app.ApplicationService, log zerolog.Logger, allowedOrigins string) http.Handler {
	h := &Handler{svc: svc, log: log.With().Str("component", "web").Logger()}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(h.log))
	r.Use(Recoverer(h.log))
	r.Use(CORS(allowedOrigins))

	r.Get("/api/health", h.health)

	r.Group(func(r chi.Router) {
		r.Use(RequireTenant)
		r.Use(RequestBodyLimit(1 << 20)) // 1 MB

		r.Post("/api/orders", h.createOrder)
		r.Get("/api/orders", h.listOrders)
		r.Get("/api/orders/pending-invoices", h.pendingInvoices)
		r.Get("/api/orders/{id}", h.getOrder)
		r.Get("/api/orders/{id}/entries", h.orderEntries)
		r.Get("/api/orders/{id}/invoice", h.getInvoice)
		r.Post("/api/orders/{id}/invoice", h.issueInvoice)

		r.Get("/api/accounts/balances", h.balances)
		r.Get("/api/reports/sales", h.salesReport)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	type response struct {
		Status string `json:"status"`
	}
	writeJSON(w, http.StatusOK, response{Status: "ok"})
}

// createOrder handles POST /api/orders. Responds 201 whenever the order
// committed, whether or not the invoice could be issued synchronously; the
// body's invoice_pending flag tells the two outcomes apart.
func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req core.CreateOrderRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TenantID = tenantFromContext(r.Context())

	result, err := h.svc.CreateOrder(r.Context(), req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	order, err := h.svc.GetOrder(r.Context(), tenantFromContext(r.Context()), orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	var filter core.OrderFilter
	q := r.URL.Query()

	if s := q.Get("status"); s != "" {
		status := core.OrderStatus(s)
		filter.Status = &status
	}
	if s := q.Get("customer_id"); s != "" {
		id, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, r, "invalid customer_id", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		filter.CustomerID = &id
	}
	if s := q.Get("payment_method"); s != "" {
		pm := core.PaymentMethod(s)
		if !pm.Valid() {
			writeError(w, r, "unknown payment method: "+s, "BAD_REQUEST", http.StatusBadRequest)
			return
		}
		filter.PaymentMethod = &pm
	}

	orders, err := h.svc.ListOrders(r.Context(), tenantFromContext(r.Context()), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if orders == nil {
		orders = []core.Order{}
	}
	writeJSON(w, http.StatusOK, orders)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	inv, err := h.svc.GetInvoice(r.Context(), tenantFromContext(r.Context()), orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

// issueInvoice handles POST /api/orders/{id}/invoice: the phase-2 retry
// endpoint for pending invoices. Idempotent; re-posting an issued order's
// invoice returns the committed invoice unchanged.
func (h *Handler) issueInvoice(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	inv, err := h.svc.IssueInvoice(r.Context(), tenantFromContext(r.Context()), orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, inv)
}

func (h *Handler) pendingInvoices(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.PendingInvoices(r.Context(), tenantFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	type response struct {
		OrderIDs []int `json:"order_ids"`
	}
	if ids == nil {
		ids = []int{}
	}
	writeJSON(w, http.StatusOK, response{OrderIDs: ids})
}

func (h *Handler) orderEntries(w http.ResponseWriter, r *http.Request) {
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	entries, err := h.svc.OrderEntries(r.Context(), tenantFromContext(r.Context()), orderID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if entries == nil {
		entries = []core.LedgerEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) balances(w http.ResponseWriter, r *http.Request) {
	balances, err := h.svc.AccountBalances(r.Context(), tenantFromContext(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// salesReport handles GET /api/reports/sales?from=YYYY-MM-DD&to=YYYY-MM-DD.
// Missing bounds default to the current month.
func (h *Handler) salesReport(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	from := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	to := now

	var err error
	if s := r.URL.Query().Get("from"); s != "" {
		if from, err = time.Parse("2006-01-02", s); err != nil {
			writeError(w, r, "invalid from date, want YYYY-MM-DD", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}
	if s := r.URL.Query().Get("to"); s != "" {
		if to, err = time.Parse("2006-01-02", s); err != nil {
			writeError(w, r, "invalid to date, want YYYY-MM-DD", "BAD_REQUEST", http.StatusBadRequest)
			return
		}
	}

	report, err := h.svc.SalesReport(r.Context(), tenantFromContext(r.Context()), from, to)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// orderIDParam extracts and validates the {id} URL parameter.
func orderIDParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, r, "invalid order id", "BAD_REQUEST", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

// decodeJSON decodes the request body into v and returns false + writes an
// appropriate error response on failure. Returns HTTP 413 when the body
// exceeds the size limit set by RequestBodyLimit middleware; HTTP 400 for all
// other decode errors.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeError(w, r, "request body too large", "REQUEST_TOO_LARGE", http.StatusRequestEntityTooLarge)
			return false
		}
		writeError(w, r, "invalid JSON body: "+err.Error(), "BAD_REQUEST", http.StatusBadRequest)
		return false
	}
	return true
}
