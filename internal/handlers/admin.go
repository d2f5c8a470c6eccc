package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/platform/auth"
	"github.com/mediashop/api/internal/platform/httpx"
	"github.com/mediashop/api/internal/services"
)

const maxAdminBodySize = 64 * 1024

// AdminHandlers exposes staff tooling: order transitions, refunds and catalogue upserts.
type AdminHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentReconciliationService
	catalog     services.CatalogService
	idempotency func(http.Handler) http.Handler
}

// AdminHandlersOption customises AdminHandlers.
type AdminHandlersOption func(*AdminHandlers)

// WithAdminIdempotency guards refunds with the given middleware.
func WithAdminIdempotency(mw func(http.Handler) http.Handler) AdminHandlersOption {
	return func(h *AdminHandlers) {
		h.idempotency = mw
	}
}

// NewAdminHandlers constructs the admin handlers.
func NewAdminHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentReconciliationService, catalog services.CatalogService, opts ...AdminHandlersOption) *AdminHandlers {
	h := &AdminHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
		catalog:  catalog,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /admin endpoints. Transitions need staff or admin, everything else admin.
func (h *AdminHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	staff := r
	admin := r
	if h.authn != nil {
		staff = r.With(h.authn.RequireFirebaseAuth(auth.RoleStaff, auth.RoleAdmin))
		admin = r.With(h.authn.RequireFirebaseAuth(auth.RoleAdmin))
	}
	refunds := admin
	if h.idempotency != nil {
		refunds = admin.With(h.idempotency)
	}
	staff.Post("/orders/{orderID}:transition", h.transitionOrder)
	refunds.Post("/payments/{txnID}:refund", h.refundPayment)
	admin.Put("/products/{productID}", h.upsertProduct)
}

type transitionOrderRequest struct {
	Status         string `json:"status"`
	ExpectedStatus string `json:"expected_status"`
	Reason         string `json:"reason"`
}

type refundRequest struct {
	Amount *int64 `json:"amount"`
	Reason string `json:"reason"`
}

func (h *AdminHandlers) transitionOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req transitionOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderSmallBody, false, &req) {
		return
	}
	target, ok := parseOrderStatus(req.Status)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "status must be a valid order status", http.StatusBadRequest))
		return
	}
	cmd := services.OrderStatusTransitionCommand{
		OrderID:      chi.URLParam(r, "orderID"),
		TargetStatus: target,
		ActorID:      identity.UID,
		Reason:       req.Reason,
	}
	if raw := strings.TrimSpace(req.ExpectedStatus); raw != "" {
		expected, ok := parseOrderStatus(raw)
		if !ok {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "expected_status must be a valid order status", http.StatusBadRequest))
			return
		}
		cmd.ExpectedStatus = &expected
	}

	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *AdminHandlers) refundPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req refundRequest
	if !decodeJSONBody(ctx, w, r, maxOrderSmallBody, true, &req) {
		return
	}

	txn, err := h.payments.RequestRefund(ctx, services.RefundCommand{
		TransactionID:  chi.URLParam(r, "txnID"),
		Amount:         req.Amount,
		Reason:         req.Reason,
		ActorID:        identity.UID,
		ClientIP:       clientIP(r),
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, struct {
		Transaction transactionPayload `json:"transaction"`
	}{Transaction: buildTransactionPayload(txn)})
}

func (h *AdminHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		serviceUnavailable(ctx, w, "catalog")
		return
	}
	if _, ok := requireIdentity(ctx, w); !ok {
		return
	}

	var req productPayload
	if !decodeJSONBody(ctx, w, r, maxAdminBodySize, false, &req) {
		return
	}
	product := req.toProduct()
	pathID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if product.ID != "" && product.ID != pathID {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id in body does not match the path", http.StatusBadRequest))
		return
	}
	product.ID = pathID

	saved, err := h.catalog.UpsertProduct(ctx, product)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildProductPayload(saved))
}

func parseOrderStatus(raw string) (domain.OrderStatus, bool) {
	value := strings.ToLower(strings.TrimSpace(raw))
	for _, status := range orderStatusFilterValues {
		if status == value {
			return domain.OrderStatus(value), true
		}
	}
	return "", false
}
