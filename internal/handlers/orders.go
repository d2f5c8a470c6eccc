package handlers

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/platform/auth"
	"github.com/mediashop/api/internal/platform/httpx"
	"github.com/mediashop/api/internal/platform/pagination"
	"github.com/mediashop/api/internal/services"
)

const (
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
	maxOrderBodySize     = 32 * 1024
	maxOrderSmallBody    = 4 * 1024

	idempotencyKeyHeader = "Idempotency-Key"
)

var orderStatusFilterValues = []string{
	string(domain.OrderStatusPending),
	string(domain.OrderStatusConfirmed),
	string(domain.OrderStatusProcessing),
	string(domain.OrderStatusShipped),
	string(domain.OrderStatusDelivered),
	string(domain.OrderStatusCancelled),
	string(domain.OrderStatusReturned),
}

// OrderHandlers exposes the customer order endpoints.
type OrderHandlers struct {
	authn       *auth.Authenticator
	orders      services.OrderService
	payments    services.PaymentReconciliationService
	idempotency func(http.Handler) http.Handler
}

// OrderHandlersOption customises OrderHandlers.
type OrderHandlersOption func(*OrderHandlers)

// WithOrderIdempotency guards order placement and payment start with the given middleware.
func WithOrderIdempotency(mw func(http.Handler) http.Handler) OrderHandlersOption {
	return func(h *OrderHandlers) {
		h.idempotency = mw
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentReconciliationService, opts ...OrderHandlersOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:    authn,
		orders:   orders,
		payments: payments,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	idempotent := r
	if h.idempotency != nil {
		idempotent = r.With(h.idempotency)
	}
	r.Get("/", h.listOrders)
	idempotent.Post("/", h.placeOrder)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}:cancel", h.cancelOrder)
	r.Post("/{orderID}/items", h.addItem)
	r.Delete("/{orderID}/items/{productID}", h.removeItem)
	idempotent.Post("/{orderID}/payments", h.startPayment)
}

type orderLineRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type deliveryRequest struct {
	RecipientName string `json:"recipient_name"`
	Phone         string `json:"phone"`
	Address       string `json:"address"`
	Province      string `json:"province"`
	Type          string `json:"type"`
}

type placeOrderRequest struct {
	Items         []orderLineRequest `json:"items"`
	Delivery      deliveryRequest    `json:"delivery"`
	PaymentMethod string             `json:"payment_method"`
	Currency      string             `json:"currency"`
}

type addItemRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type cancelOrderRequest struct {
	Reason string `json:"reason"`
}

type startPaymentRequest struct {
	BankCode  string `json:"bank_code"`
	Locale    string `json:"locale"`
	ReturnURL string `json:"return_url"`
	CancelURL string `json:"cancel_url"`
}

func (h *OrderHandlers) placeOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req placeOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderBodySize, false, &req) {
		return
	}

	order, err := h.orders.PlaceOrder(ctx, services.PlaceOrderCommand{
		CustomerID: identity.UID,
		Items:      toLineInputs(req.Items),
		Delivery: services.DeliveryInput{
			RecipientName: req.Delivery.RecipientName,
			Phone:         req.Delivery.Phone,
			Address:       req.Delivery.Address,
			Province:      req.Delivery.Province,
			Type:          domain.DeliveryType(strings.ToLower(strings.TrimSpace(req.Delivery.Type))),
		},
		PaymentMethod: domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.PaymentMethod))),
		Currency:      req.Currency,
		ActorID:       identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	w.Header().Set("Location", r.URL.Path+"/"+order.ID)
	writeJSONResponse(w, http.StatusCreated, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	params, err := pagination.FromRequest(r, pagination.Options{
		DefaultPageSize: defaultOrderPageSize,
		MaxPageSize:     maxOrderPageSize,
		AllowedFilters:  []string{"status", "customerId"},
		FilterValues:    map[string][]string{"status": orderStatusFilterValues},
	})
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	customerID := identity.UID
	if requested := params.First("customerId"); requested != "" && requested != identity.UID {
		if !identity.IsStaff() {
			httpx.WriteError(ctx, w, httpx.NewError("forbidden", "customers may only list their own orders", http.StatusForbidden))
			return
		}
		customerID = requested
	}

	statuses := make([]domain.OrderStatus, 0, len(params.Filters["status"]))
	for _, value := range params.Filters["status"] {
		statuses = append(statuses, domain.OrderStatus(value))
	}

	page, err := h.orders.ListOrders(ctx, services.OrderListFilter{
		CustomerID: customerID,
		Status:     statuses,
		Pagination: services.Pagination{
			PageSize:  params.PageSize,
			PageToken: params.PageToken,
		},
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	items := make([]orderSummaryPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, buildOrderSummary(order))
	}
	writeJSONResponse(w, http.StatusOK, orderListResponse{
		Items:         items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(ctx, chi.URLParam(r, "orderID"))
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	if order.CustomerID != identity.UID && !identity.IsStaff() {
		writeOrderError(ctx, w, services.ErrOrderNotFound)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req cancelOrderRequest
	if !decodeJSONBody(ctx, w, r, maxOrderSmallBody, true, &req) {
		return
	}

	order, err := h.orders.Cancel(ctx, services.CancelOrderCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		CustomerID: h.ownerScope(identity),
		ActorID:    identity.UID,
		Reason:     req.Reason,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req addItemRequest
	if !decodeJSONBody(ctx, w, r, maxOrderSmallBody, false, &req) {
		return
	}

	order, err := h.orders.AddItem(ctx, services.ModifyOrderItemCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		CustomerID: h.ownerScope(identity),
		ProductID:  req.ProductID,
		Quantity:   req.Quantity,
		ActorID:    identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.orders == nil {
		serviceUnavailable(ctx, w, "order")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	order, err := h.orders.RemoveItem(ctx, services.ModifyOrderItemCommand{
		OrderID:    chi.URLParam(r, "orderID"),
		CustomerID: h.ownerScope(identity),
		ProductID:  chi.URLParam(r, "productID"),
		ActorID:    identity.UID,
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, orderResponse{Order: buildOrderPayload(order)})
}

func (h *OrderHandlers) startPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	var req startPaymentRequest
	if !decodeJSONBody(ctx, w, r, maxOrderSmallBody, true, &req) {
		return
	}
	locale := strings.TrimSpace(req.Locale)
	if locale == "" {
		locale = identity.PreferredLocale()
	}

	start, err := h.payments.StartPayment(ctx, services.StartPaymentCommand{
		OrderID:        chi.URLParam(r, "orderID"),
		CustomerID:     identity.UID,
		BankCode:       req.BankCode,
		Locale:         locale,
		ClientIP:       clientIP(r),
		ReturnURL:      req.ReturnURL,
		CancelURL:      req.CancelURL,
		IdempotencyKey: r.Header.Get(idempotencyKeyHeader),
	})
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, paymentStartResponse{
		Transaction: buildTransactionPayload(start.Transaction),
		RedirectURL: start.RedirectURL,
		ExpiresAt:   formatTime(start.ExpiresAt),
	})
}

// ownerScope returns the customer id the service must enforce. Staff act on any order.
func (h *OrderHandlers) ownerScope(identity *auth.Identity) string {
	if identity.IsStaff() {
		return ""
	}
	return identity.UID
}

func toLineInputs(lines []orderLineRequest) []services.OrderLineInput {
	out := make([]services.OrderLineInput, 0, len(lines))
	for _, line := range lines {
		out = append(out, services.OrderLineInput{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		})
	}
	return out
}

type orderListResponse struct {
	Items         []orderSummaryPayload `json:"items"`
	NextPageToken string                `json:"next_page_token,omitempty"`
}

type orderSummaryPayload struct {
	ID          string `json:"id"`
	OrderNumber string `json:"order_number"`
	Status      string `json:"status"`
	Currency    string `json:"currency"`
	Total       int64  `json:"total"`
	ItemCount   int    `json:"item_count"`
	CreatedAt   string `json:"created_at"`
}

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderPayload struct {
	ID                string             `json:"id"`
	OrderNumber       string             `json:"order_number"`
	CustomerID        string             `json:"customer_id"`
	Status            string             `json:"status"`
	Currency          string             `json:"currency"`
	PaymentMethod     string             `json:"payment_method"`
	VATRate           int64              `json:"vat_rate"`
	Rush              bool               `json:"rush"`
	Totals            orderTotalsPayload `json:"totals"`
	Items             []orderItemPayload `json:"items"`
	Delivery          deliveryPayload    `json:"delivery"`
	PaidTransactionID string             `json:"paid_transaction_id,omitempty"`
	CancelReason      string             `json:"cancel_reason,omitempty"`
	CreatedAt         string             `json:"created_at"`
	UpdatedAt         string             `json:"updated_at,omitempty"`
	ConfirmedAt       string             `json:"confirmed_at,omitempty"`
	ShippedAt         string             `json:"shipped_at,omitempty"`
	DeliveredAt       string             `json:"delivered_at,omitempty"`
	CancelledAt       string             `json:"cancelled_at,omitempty"`
	ReturnedAt        string             `json:"returned_at,omitempty"`
}

type orderTotalsPayload struct {
	Subtotal      int64 `json:"subtotal"`
	VAT           int64 `json:"vat"`
	TotalAfterTax int64 `json:"total_after_tax"`
	DeliveryFee   int64 `json:"delivery_fee"`
	GrandTotal    int64 `json:"grand_total"`
}

type orderItemPayload struct {
	ProductID string  `json:"product_id"`
	Title     string  `json:"title"`
	Kind      string  `json:"kind"`
	Quantity  int     `json:"quantity"`
	UnitPrice int64   `json:"unit_price"`
	WeightKg  float64 `json:"weight_kg"`
	LineTotal int64   `json:"line_total"`
}

type deliveryPayload struct {
	RecipientName       string `json:"recipient_name"`
	Phone               string `json:"phone"`
	Address             string `json:"address"`
	Province            string `json:"province"`
	Type                string `json:"type"`
	Fee                 int64  `json:"fee"`
	EstimatedDeliveryAt string `json:"estimated_delivery_at,omitempty"`
}

type paymentStartResponse struct {
	Transaction transactionPayload `json:"transaction"`
	RedirectURL string             `json:"redirect_url"`
	ExpiresAt   string             `json:"expires_at,omitempty"`
}

type transactionPayload struct {
	ID            string `json:"id"`
	OrderID       string `json:"order_id"`
	Provider      string `json:"provider"`
	Status        string `json:"status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	BankCode      string `json:"bank_code,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
	ProviderTxnNo string `json:"provider_txn_no,omitempty"`
	PayDate       string `json:"pay_date,omitempty"`
	RefundedAt    string `json:"refunded_at,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at,omitempty"`
}

func buildOrderSummary(order services.Order) orderSummaryPayload {
	return orderSummaryPayload{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Total:       order.Totals.GrandTotal,
		ItemCount:   len(order.Items),
		CreatedAt:   formatTime(order.CreatedAt),
	}
}

func buildOrderPayload(order services.Order) orderPayload {
	items := make([]orderItemPayload, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, buildOrderItemPayload(item))
	}
	return orderPayload{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerID:    order.CustomerID,
		Status:        string(order.Status),
		Currency:      order.Currency,
		PaymentMethod: string(order.PaymentMethod),
		VATRate:       order.VATRate,
		Rush:          order.Rush,
		Totals:        buildTotalsPayload(order.Totals),
		Items:         items,
		Delivery: deliveryPayload{
			RecipientName:       order.Delivery.RecipientName,
			Phone:               order.Delivery.Phone,
			Address:             order.Delivery.Address,
			Province:            order.Delivery.Province,
			Type:                string(order.Delivery.Type),
			Fee:                 order.Delivery.Fee,
			EstimatedDeliveryAt: formatTime(order.Delivery.EstimatedDeliveryAt),
		},
		PaidTransactionID: order.PaidTransactionID,
		CancelReason:      order.CancelReason,
		CreatedAt:         formatTime(order.CreatedAt),
		UpdatedAt:         formatTime(order.UpdatedAt),
		ConfirmedAt:       formatTimePointer(order.ConfirmedAt),
		ShippedAt:         formatTimePointer(order.ShippedAt),
		DeliveredAt:       formatTimePointer(order.DeliveredAt),
		CancelledAt:       formatTimePointer(order.CancelledAt),
		ReturnedAt:        formatTimePointer(order.ReturnedAt),
	}
}

func buildOrderItemPayload(item services.OrderItem) orderItemPayload {
	return orderItemPayload{
		ProductID: item.ProductID,
		Title:     item.Title,
		Kind:      string(item.Kind),
		Quantity:  item.Quantity,
		UnitPrice: item.UnitPrice,
		WeightKg:  item.WeightKg,
		LineTotal: item.LineTotal,
	}
}

func buildTotalsPayload(totals services.OrderTotals) orderTotalsPayload {
	return orderTotalsPayload{
		Subtotal:      totals.Subtotal,
		VAT:           totals.VAT,
		TotalAfterTax: totals.TotalAfterTax,
		DeliveryFee:   totals.DeliveryFee,
		GrandTotal:    totals.GrandTotal,
	}
}

func buildTransactionPayload(txn services.PaymentTransaction) transactionPayload {
	return transactionPayload{
		ID:            txn.ID,
		OrderID:       txn.OrderID,
		Provider:      txn.Provider,
		Status:        string(txn.Status),
		Amount:        txn.Amount,
		Currency:      txn.Currency,
		BankCode:      txn.BankCode,
		ResponseCode:  txn.ResponseCode,
		ProviderTxnNo: txn.ProviderTxnNo,
		PayDate:       formatTimePointer(txn.PayDate),
		RefundedAt:    formatTimePointer(txn.RefundedAt),
		CreatedAt:     formatTime(txn.CreatedAt),
		UpdatedAt:     formatTime(txn.UpdatedAt),
	}
}
