package services

import (
	"context"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Pagination         = domain.Pagination
	Order              = domain.Order
	OrderItem          = domain.OrderItem
	OrderTotals        = domain.OrderTotals
	OrderStatus        = domain.OrderStatus
	DeliveryInfo       = domain.DeliveryInfo
	DeliveryType       = domain.DeliveryType
	PaymentTransaction = domain.PaymentTransaction
	PaymentStatus      = domain.PaymentStatus
	Product            = domain.Product
	PricingSchedule    = domain.PricingSchedule
	PricingBreakdown   = domain.PricingBreakdown
	SystemHealthReport = domain.SystemHealthReport
)

// OrderService owns the order aggregate: placement, item edits within the modification window,
// cancellation and staff driven status transitions.
type OrderService interface {
	PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error)
	GetOrder(ctx context.Context, orderID string) (Order, error)
	ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error)
	AddItem(ctx context.Context, cmd ModifyOrderItemCommand) (Order, error)
	RemoveItem(ctx context.Context, cmd ModifyOrderItemCommand) (Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error)
	QuoteDelivery(ctx context.Context, req DeliveryQuoteRequest) (DeliveryQuote, error)
}

// PaymentReconciliationService records payment attempts and reconciles gateway confirmations
// against orders.
type PaymentReconciliationService interface {
	RecordPaymentIntent(ctx context.Context, order Order) (PaymentTransaction, error)
	StartPayment(ctx context.Context, cmd StartPaymentCommand) (PaymentStart, error)
	HandleCallback(ctx context.Context, fields map[string]string) (ReconciliationResult, error)
	SweepPending(ctx context.Context, cmd SweepCommand) (SweepReport, error)
	RequestRefund(ctx context.Context, cmd RefundCommand) (PaymentTransaction, error)
	CustomerMessage(result ReconciliationResult, locale string) string
}

// CatalogService exposes the product catalogue.
type CatalogService interface {
	GetProduct(ctx context.Context, productID string) (Product, error)
	UpsertProduct(ctx context.Context, product Product) (Product, error)
}

// SystemService exposes operational metadata.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderListFilter narrows order listings.
type OrderListFilter = repositories.OrderListFilter

// OrderLineInput references a catalogue product by id. Title, price and weight are snapshotted
// from the catalogue when the line is added.
type OrderLineInput struct {
	ProductID string
	Quantity  int
}

// DeliveryInput carries the recipient details supplied at checkout.
type DeliveryInput struct {
	RecipientName string
	Phone         string
	Address       string
	Province      string
	Type          DeliveryType
}

// PlaceOrderCommand creates a pending order.
type PlaceOrderCommand struct {
	CustomerID    string
	Items         []OrderLineInput
	Delivery      DeliveryInput
	PaymentMethod domain.PaymentMethod
	Currency      string
	ActorID       string
}

// ModifyOrderItemCommand adds or removes a line while the order is still modifiable. Remove
// ignores Quantity.
type ModifyOrderItemCommand struct {
	OrderID    string
	CustomerID string
	ProductID  string
	Quantity   int
	ActorID    string
}

// CancelOrderCommand cancels a pending or confirmed order. CustomerID, when set, must own the order.
type CancelOrderCommand struct {
	OrderID    string
	CustomerID string
	ActorID    string
	Reason     string
}

// OrderStatusTransitionCommand captures staff initiated transitions.
type OrderStatusTransitionCommand struct {
	OrderID        string
	TargetStatus   OrderStatus
	ExpectedStatus *OrderStatus
	ActorID        string
	Reason         string
}

// DeliveryQuoteRequest prices a prospective order without persisting it.
type DeliveryQuoteRequest struct {
	Items    []OrderLineInput
	Province string
	Type     DeliveryType
	VATRate  int64
}

// DeliveryQuote is the pricing preview for a basket.
type DeliveryQuote struct {
	Items               []OrderItem
	Totals              OrderTotals
	TotalWeightKg       float64
	MajorLocality       bool
	EstimatedDeliveryAt time.Time
}

// StartPaymentCommand begins a payment attempt for an order owned by CustomerID.
type StartPaymentCommand struct {
	OrderID        string
	CustomerID     string
	BankCode       string
	Locale         string
	ClientIP       string
	ReturnURL      string
	CancelURL      string
	IdempotencyKey string
}

// PaymentStart is returned to the client so it can redirect the payer.
type PaymentStart struct {
	Transaction PaymentTransaction
	RedirectURL string
	ExpiresAt   time.Time
}

// ReconciliationOutcome classifies the result of applying a gateway confirmation.
type ReconciliationOutcome string

const (
	OutcomeSuccess            ReconciliationOutcome = "success"
	OutcomeFailed             ReconciliationOutcome = "failed"
	OutcomeInvalidSignature   ReconciliationOutcome = "invalid_signature"
	OutcomeAlreadyProcessed   ReconciliationOutcome = "already_processed"
	OutcomeOrderNotFound      ReconciliationOutcome = "order_not_found"
	OutcomeTransitionRejected ReconciliationOutcome = "transition_rejected"
	OutcomeAmountMismatch     ReconciliationOutcome = "amount_mismatch"
)

// ReconciliationResult describes what a callback or sweep did.
type ReconciliationResult struct {
	Outcome       ReconciliationOutcome
	TransactionID string
	OrderID       string
	ResponseCode  string
	Transaction   *PaymentTransaction
	Order         *Order
}

// SweepCommand selects stale pending transactions for reconciliation against the gateway.
type SweepCommand struct {
	OlderThan time.Duration
	Limit     int
	Provider  string
}

// SweepReport summarises a sweep run.
type SweepReport struct {
	Examined     int
	Reconciled   int
	Cancelled    int
	StillPending int
	Unavailable  int
	Errors       int
	Outcomes     map[ReconciliationOutcome]int
}

// RefundCommand refunds a successful transaction. Amount nil refunds everything.
type RefundCommand struct {
	TransactionID  string
	Amount         *int64
	Reason         string
	ActorID        string
	ClientIP       string
	IdempotencyKey string
}
