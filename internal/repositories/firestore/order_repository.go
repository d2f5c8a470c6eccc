package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/mediashop/api/internal/domain"
	pfirestore "github.com/mediashop/api/internal/platform/firestore"
	"github.com/mediashop/api/internal/platform/pagination"
	"github.com/mediashop/api/internal/repositories"
)

const (
	ordersCollection     = "orders"
	defaultOrderPageSize = 20
	maxOrderPageSize     = 100
)

type orderDocument struct {
	OrderNumber       string              `firestore:"orderNumber"`
	CustomerID        string              `firestore:"customerId"`
	Status            string              `firestore:"status"`
	Currency          string              `firestore:"currency"`
	Items             []orderItemDocument `firestore:"items"`
	VATRate           int64               `firestore:"vatRate"`
	Totals            orderTotalsDocument `firestore:"totals"`
	Rush              bool                `firestore:"rush"`
	PaymentMethod     string              `firestore:"paymentMethod"`
	Delivery          deliveryDocument    `firestore:"delivery"`
	PaidTransactionID string              `firestore:"paidTransactionId,omitempty"`
	CancelReason      string              `firestore:"cancelReason,omitempty"`
	Version           int64               `firestore:"version"`
	CreatedAt         time.Time           `firestore:"createdAt"`
	UpdatedAt         time.Time           `firestore:"updatedAt"`
	ConfirmedAt       *time.Time          `firestore:"confirmedAt,omitempty"`
	ShippedAt         *time.Time          `firestore:"shippedAt,omitempty"`
	DeliveredAt       *time.Time          `firestore:"deliveredAt,omitempty"`
	CancelledAt       *time.Time          `firestore:"cancelledAt,omitempty"`
	ReturnedAt        *time.Time          `firestore:"returnedAt,omitempty"`
}

type orderItemDocument struct {
	ProductID string  `firestore:"productId"`
	Title     string  `firestore:"title"`
	Kind      string  `firestore:"kind"`
	Quantity  int     `firestore:"quantity"`
	UnitPrice int64   `firestore:"unitPrice"`
	WeightKg  float64 `firestore:"weightKg"`
	LineTotal int64   `firestore:"lineTotal"`
}

type orderTotalsDocument struct {
	Subtotal      int64 `firestore:"subtotal"`
	VAT           int64 `firestore:"vat"`
	TotalAfterTax int64 `firestore:"totalAfterTax"`
	DeliveryFee   int64 `firestore:"deliveryFee"`
	GrandTotal    int64 `firestore:"grandTotal"`
}

type deliveryDocument struct {
	RecipientName       string     `firestore:"recipientName"`
	Phone               string     `firestore:"phone"`
	Address             string     `firestore:"address"`
	Province            string     `firestore:"province"`
	Type                string     `firestore:"type"`
	Fee                 int64      `firestore:"fee"`
	EstimatedDeliveryAt time.Time  `firestore:"estimatedDeliveryAt"`
	DeliveredAt         *time.Time `firestore:"deliveredAt,omitempty"`
}

// OrderRepository implements repositories.OrderRepository on the orders collection.
type OrderRepository struct {
	provider *pfirestore.Provider
	base     *pfirestore.BaseRepository[orderDocument]
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs the Firestore order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{
		provider: provider,
		base:     pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil, nil),
	}, nil
}

// Insert creates the order document with version 1.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)
	doc.Version = 1
	if err := createDocument(ctx, ref, doc); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order when its stored version matches order.Version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) error {
	ref, err := r.base.DocumentRef(ctx, order.ID)
	if err != nil {
		return err
	}
	doc := encodeOrder(order)
	doc.Version = order.Version + 1
	return writeVersioned(ctx, r.provider, ref, order.Version, doc, "orders.update")
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	ref, err := r.base.DocumentRef(ctx, strings.TrimSpace(orderID))
	if err != nil {
		return domain.Order{}, err
	}
	snap, err := getSnapshot(ctx, ref)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	var doc orderDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("orders.get: decode %s: %w", ref.ID, err)
	}
	observe(ctx, ref, doc.Version)
	return decodeOrder(ref.ID, doc), nil
}

// List returns orders newest first. Page tokens carry the createdAt and id of the last item.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.CursorPage[domain.Order], error) {
	size := filter.Pagination.PageSize
	switch {
	case size <= 0:
		size = defaultOrderPageSize
	case size > maxOrderPageSize:
		size = maxOrderPageSize
	}

	cursor, hasCursor, err := pagination.DecodeOrderCursor(filter.Pagination.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		if customerID := strings.TrimSpace(filter.CustomerID); customerID != "" {
			q = q.Where("customerId", "==", customerID)
		}
		if len(filter.Status) > 0 {
			statuses := make([]string, 0, len(filter.Status))
			for _, status := range filter.Status {
				statuses = append(statuses, string(status))
			}
			q = q.Where("status", "in", statuses)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if hasCursor {
			q = q.StartAfter(cursor.CreatedAt, cursor.ID)
		}
		return q.Limit(size + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Order]{}, err
	}

	page := domain.CursorPage[domain.Order]{}
	for i, doc := range docs {
		if i == size {
			last := page.Items[len(page.Items)-1]
			token, err := pagination.EncodeOrderCursor(pagination.OrderCursor{CreatedAt: last.CreatedAt, ID: last.ID})
			if err != nil {
				return domain.CursorPage[domain.Order]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, decodeOrder(doc.ID, doc.Data))
	}
	return page, nil
}

func encodeOrder(order domain.Order) orderDocument {
	items := make([]orderItemDocument, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemDocument{
			ProductID: item.ProductID,
			Title:     item.Title,
			Kind:      string(item.Kind),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			WeightKg:  item.WeightKg,
			LineTotal: item.LineTotal,
		})
	}
	return orderDocument{
		OrderNumber: order.OrderNumber,
		CustomerID:  order.CustomerID,
		Status:      string(order.Status),
		Currency:    order.Currency,
		Items:       items,
		VATRate:     order.VATRate,
		Totals: orderTotalsDocument{
			Subtotal:      order.Totals.Subtotal,
			VAT:           order.Totals.VAT,
			TotalAfterTax: order.Totals.TotalAfterTax,
			DeliveryFee:   order.Totals.DeliveryFee,
			GrandTotal:    order.Totals.GrandTotal,
		},
		Rush:          order.Rush,
		PaymentMethod: string(order.PaymentMethod),
		Delivery: deliveryDocument{
			RecipientName:       order.Delivery.RecipientName,
			Phone:               order.Delivery.Phone,
			Address:             order.Delivery.Address,
			Province:            order.Delivery.Province,
			Type:                string(order.Delivery.Type),
			Fee:                 order.Delivery.Fee,
			EstimatedDeliveryAt: order.Delivery.EstimatedDeliveryAt,
			DeliveredAt:         order.Delivery.DeliveredAt,
		},
		PaidTransactionID: order.PaidTransactionID,
		CancelReason:      order.CancelReason,
		CreatedAt:         order.CreatedAt,
		UpdatedAt:         order.UpdatedAt,
		ConfirmedAt:       order.ConfirmedAt,
		ShippedAt:         order.ShippedAt,
		DeliveredAt:       order.DeliveredAt,
		CancelledAt:       order.CancelledAt,
		ReturnedAt:        order.ReturnedAt,
	}
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	items := make([]domain.OrderItem, 0, len(doc.Items))
	for _, item := range doc.Items {
		items = append(items, domain.OrderItem{
			ProductID: item.ProductID,
			Title:     item.Title,
			Kind:      domain.ProductKind(item.Kind),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			WeightKg:  item.WeightKg,
			LineTotal: item.LineTotal,
		})
	}
	return domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		CustomerID:  doc.CustomerID,
		Status:      domain.OrderStatus(doc.Status),
		Currency:    doc.Currency,
		Items:       items,
		VATRate:     doc.VATRate,
		Totals: domain.OrderTotals{
			Subtotal:      doc.Totals.Subtotal,
			VAT:           doc.Totals.VAT,
			TotalAfterTax: doc.Totals.TotalAfterTax,
			DeliveryFee:   doc.Totals.DeliveryFee,
			GrandTotal:    doc.Totals.GrandTotal,
		},
		Rush:          doc.Rush,
		PaymentMethod: domain.PaymentMethod(doc.PaymentMethod),
		Delivery: domain.DeliveryInfo{
			RecipientName:       doc.Delivery.RecipientName,
			Phone:               doc.Delivery.Phone,
			Address:             doc.Delivery.Address,
			Province:            doc.Delivery.Province,
			Type:                domain.DeliveryType(doc.Delivery.Type),
			Fee:                 doc.Delivery.Fee,
			EstimatedDeliveryAt: doc.Delivery.EstimatedDeliveryAt.UTC(),
			DeliveredAt:         utcPointer(doc.Delivery.DeliveredAt),
		},
		PaidTransactionID: doc.PaidTransactionID,
		CancelReason:      doc.CancelReason,
		Version:           doc.Version,
		CreatedAt:         doc.CreatedAt.UTC(),
		UpdatedAt:         doc.UpdatedAt.UTC(),
		ConfirmedAt:       utcPointer(doc.ConfirmedAt),
		ShippedAt:         utcPointer(doc.ShippedAt),
		DeliveredAt:       utcPointer(doc.DeliveredAt),
		CancelledAt:       utcPointer(doc.CancelledAt),
		ReturnedAt:        utcPointer(doc.ReturnedAt),
	}
}

func utcPointer(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	value := t.UTC()
	return &value
}
