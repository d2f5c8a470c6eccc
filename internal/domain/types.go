package domain

import (
	"time"
)

// Pagination defines standard cursor-based paging inputs for list operations.
type Pagination struct {
	PageSize  int
	PageToken string
}

// CursorPage packages list results with an encoded next token.
type CursorPage[T any] struct {
	Items         []T
	NextPageToken string
}

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPending is the initial state; items may still change and payment is outstanding.
	OrderStatusPending OrderStatus = "pending"
	// OrderStatusConfirmed indicates payment (or a cash-on-delivery commitment) has been accepted.
	OrderStatusConfirmed OrderStatus = "confirmed"
	// OrderStatusProcessing indicates the warehouse is picking and packing the order.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the parcel has been handed to the carrier.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered indicates the customer received the parcel.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is terminal.
	OrderStatusCancelled OrderStatus = "cancelled"
	// OrderStatusReturned is terminal and only reachable from delivered.
	OrderStatusReturned OrderStatus = "returned"
)

// DeliveryType selects the delivery tier.
type DeliveryType string

const (
	DeliveryStandard DeliveryType = "standard"
	DeliveryExpress  DeliveryType = "express"
	DeliveryRush     DeliveryType = "rush"
)

// PaymentMethod labels how the customer intends to pay.
type PaymentMethod string

const (
	PaymentMethodVNPay  PaymentMethod = "vnpay"
	PaymentMethodStripe PaymentMethod = "stripe"
	PaymentMethodCOD    PaymentMethod = "cod"
)

// Order is the aggregate root for a customer purchase. Monetary values are in minor units.
type Order struct {
	ID                string
	OrderNumber       string
	CustomerID        string
	Status            OrderStatus
	Currency          string
	Items             []OrderItem
	VATRate           int64
	Totals            OrderTotals
	Rush              bool
	PaymentMethod     PaymentMethod
	Delivery          DeliveryInfo
	PaidTransactionID string
	CancelReason      string
	Version           int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
	ConfirmedAt       *time.Time
	ShippedAt         *time.Time
	DeliveredAt       *time.Time
	CancelledAt       *time.Time
	ReturnedAt        *time.Time
}

// OrderTotals captures the derived amounts of an order. They are always recomputed from items.
type OrderTotals struct {
	Subtotal      int64
	VAT           int64
	TotalAfterTax int64
	DeliveryFee   int64
	GrandTotal    int64
}

// OrderItem is a line owned by exactly one order. Title, price and weight are snapshots.
type OrderItem struct {
	ProductID string
	Title     string
	Kind      ProductKind
	Quantity  int
	UnitPrice int64
	WeightKg  float64
	LineTotal int64
}

// DeliveryInfo stores recipient details and the computed delivery quote.
type DeliveryInfo struct {
	RecipientName       string
	Phone               string
	Address             string
	Province            string
	Type                DeliveryType
	Fee                 int64
	EstimatedDeliveryAt time.Time
	DeliveredAt         *time.Time
}

// PaymentStatus enumerates the lifecycle of a single payment attempt.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSuccess   PaymentStatus = "success"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// PaymentTransaction records one attempt to pay for one order. Its ID doubles as the gateway
// merchant reference so callbacks can be matched without holding an order reference.
type PaymentTransaction struct {
	ID            string
	OrderID       string
	CustomerID    string
	Provider      string
	ProviderTxnNo string
	GatewayTxnID  string
	Amount        int64
	Currency      string
	BankCode      string
	ResponseCode  string
	Status        PaymentStatus
	PayDate       *time.Time
	RefundedAt    *time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// ProductKind is the discriminant of the Product union.
type ProductKind string

const (
	ProductKindBook ProductKind = "book"
	ProductKindCD   ProductKind = "cd"
	ProductKindDVD  ProductKind = "dvd"
)

// Product is a tagged union: the common fields live on Product and exactly one of Book, CD or
// DVD is populated, matching Kind.
type Product struct {
	ID        string
	Kind      ProductKind
	Title     string
	Price     int64
	WeightKg  float64
	Available bool
	Book      *BookDetails
	CD        *CDDetails
	DVD       *DVDDetails
	UpdatedAt time.Time
}

// BookDetails holds book-specific attributes.
type BookDetails struct {
	Authors   []string
	Publisher string
	Pages     int
	CoverType string
}

// CDDetails holds audio CD attributes.
type CDDetails struct {
	Artists []string
	Label   string
	Tracks  []string
}

// DVDDetails holds video disc attributes.
type DVDDetails struct {
	Director       string
	Studio         string
	RuntimeMinutes int
	DiscType       string
}

// Valid reports whether exactly one variant is set and it matches Kind.
func (p Product) Valid() bool {
	set := 0
	if p.Book != nil {
		set++
	}
	if p.CD != nil {
		set++
	}
	if p.DVD != nil {
		set++
	}
	if set != 1 {
		return false
	}
	switch p.Kind {
	case ProductKindBook:
		return p.Book != nil
	case ProductKindCD:
		return p.CD != nil
	case ProductKindDVD:
		return p.DVD != nil
	default:
		return false
	}
}
