package services

import (
	"context"
	"errors"
	"fmt"
	"html"
	"maps"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/oklog/ulid/v2"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/platform/locking"
	"github.com/mediashop/api/internal/repositories"
)

const (
	orderEventCreated       = "order.created"
	orderEventStatusChanged = "order.status.changed"
	orderEventItemsChanged  = "order.items.changed"

	orderIDPrefix      = "ord_"
	defaultCurrency    = "VND"
	maxRecipientLength = 120
	maxAddressLength   = 255
	maxReasonLength    = 500
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidState indicates an invalid status transition was attempted.
	ErrOrderInvalidState = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrProductUnavailable is returned when an ordered product is missing or not for sale.
	ErrProductUnavailable = errors.New("order: product unavailable")
)

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEvent captures metadata for emitted order and payment domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	OrderNumber    string
	PreviousStatus string
	CurrentStatus  string
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Products    repositories.ProductRepository
	Counters    repositories.CounterRepository
	Payments    repositories.PaymentTransactionRepository
	UnitOfWork  repositories.UnitOfWork
	Locker      locking.Locker
	Pricing     *PricingEngine
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders     repositories.OrderRepository
	products   repositories.ProductRepository
	counters   repositories.CounterRepository
	payments   repositories.PaymentTransactionRepository
	unitOfWork repositories.UnitOfWork
	locker     locking.Locker
	pricing    *PricingEngine
	clock      func() time.Time
	newID      func() string
	events     OrderEventPublisher
	logger     func(context.Context, string, map[string]any)
	sanitizer  *bluemonday.Policy
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("order service: product repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter repository is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}

	unit := deps.UnitOfWork
	if unit == nil {
		unit = noopUnitOfWork{}
	}
	locker := deps.Locker
	if locker == nil {
		locker = locking.NewKeyedMutex()
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	return &orderService{
		orders:     deps.Orders,
		products:   deps.Products,
		counters:   deps.Counters,
		payments:   deps.Payments,
		unitOfWork: unit,
		locker:     locker,
		pricing:    deps.Pricing,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:     idGen,
		events:    deps.Events,
		logger:    logger,
		sanitizer: bluemonday.StrictPolicy(),
	}, nil
}

func (s *orderService) PlaceOrder(ctx context.Context, cmd PlaceOrderCommand) (Order, error) {
	customerID := strings.TrimSpace(cmd.CustomerID)
	if customerID == "" {
		return Order{}, fmt.Errorf("%w: customer id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return Order{}, &InvalidOrderLineError{Index: -1, Reason: "at least one item is required"}
	}

	delivery, err := s.normalizeDelivery(cmd.Delivery)
	if err != nil {
		return Order{}, err
	}
	method, err := normalizePaymentMethod(cmd.PaymentMethod)
	if err != nil {
		return Order{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(cmd.Currency))
	if currency == "" {
		currency = defaultCurrency
	}

	items, err := s.snapshotLines(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	now := s.now()
	vatRate := s.pricing.schedule.VATRate
	rush := delivery.Type == domain.DeliveryRush
	totals, err := s.pricing.PriceOrder(items, vatRate, delivery.Province, rush)
	if err != nil {
		return Order{}, err
	}
	eta, err := s.pricing.EstimateDelivery(delivery.Province, delivery.Type, now)
	if err != nil {
		if errors.Is(err, ErrRushNotAvailable) {
			return Order{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
		}
		return Order{}, err
	}
	delivery.Fee = totals.DeliveryFee
	delivery.EstimatedDeliveryAt = eta

	number, err := s.generateOrderNumber(ctx, now)
	if err != nil {
		return Order{}, err
	}

	order := Order{
		ID:            orderIDPrefix + s.newID(),
		OrderNumber:   number,
		CustomerID:    customerID,
		Status:        domain.OrderStatusPending,
		Currency:      currency,
		Items:         items,
		VATRate:       vatRate,
		Totals:        totals,
		Rush:          rush,
		PaymentMethod: method,
		Delivery:      delivery,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	err = s.runInTx(ctx, func(txCtx context.Context) error {
		if err := s.orders.Insert(txCtx, order); err != nil {
			return s.mapRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	order.Version = 1

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventCreated,
		OrderID:       order.ID,
		OrderNumber:   order.OrderNumber,
		CurrentStatus: string(order.Status),
		ActorID:       firstNonEmpty(strings.TrimSpace(cmd.ActorID), customerID),
		OccurredAt:    now,
		Metadata: map[string]any{
			"grandTotal":    order.Totals.GrandTotal,
			"currency":      order.Currency,
			"paymentMethod": string(order.PaymentMethod),
			"deliveryType":  string(order.Delivery.Type),
		},
	})
	return order, nil
}

func (s *orderService) GetOrder(ctx context.Context, orderID string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, s.mapRepositoryError(err)
	}
	return order, nil
}

func (s *orderService) ListOrders(ctx context.Context, filter OrderListFilter) (domain.CursorPage[Order], error) {
	filter.CustomerID = strings.TrimSpace(filter.CustomerID)
	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return domain.CursorPage[Order]{}, s.mapRepositoryError(err)
	}
	return page, nil
}

func (s *orderService) AddItem(ctx context.Context, cmd ModifyOrderItemCommand) (Order, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Order{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}
	if cmd.Quantity <= 0 {
		return Order{}, &InvalidOrderLineError{Index: 0, ProductID: productID, Reason: "quantity must be positive"}
	}
	lines, err := s.snapshotLines(ctx, []OrderLineInput{{ProductID: productID, Quantity: cmd.Quantity}})
	if err != nil {
		return Order{}, err
	}
	added := lines[0]

	return s.mutateItems(ctx, cmd, func(items []OrderItem) ([]OrderItem, error) {
		return mergeItems(items, added), nil
	})
}

func (s *orderService) RemoveItem(ctx context.Context, cmd ModifyOrderItemCommand) (Order, error) {
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return Order{}, fmt.Errorf("%w: product id is required", ErrOrderInvalidInput)
	}

	return s.mutateItems(ctx, cmd, func(items []OrderItem) ([]OrderItem, error) {
		out := make([]OrderItem, 0, len(items))
		found := false
		for _, item := range items {
			if item.ProductID == productID {
				found = true
				continue
			}
			out = append(out, item)
		}
		if !found {
			return nil, fmt.Errorf("%w: product %s is not part of the order", ErrOrderNotFound, productID)
		}
		if len(out) == 0 {
			return nil, &InvalidOrderLineError{Index: -1, Reason: "an order must keep at least one item"}
		}
		return out, nil
	})
}

func (s *orderService) mutateItems(ctx context.Context, cmd ModifyOrderItemCommand, edit func([]OrderItem) ([]OrderItem, error)) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var updated Order
	err := s.withOrderLock(ctx, orderID, func() error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			order, err := s.orders.FindByID(txCtx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if err := checkOwner(order, cmd.CustomerID); err != nil {
				return err
			}
			now := s.now()
			if !CanModifyOrder(order, now) {
				return fmt.Errorf("%w: order %s can no longer be modified", ErrOrderInvalidState, orderID)
			}
			if err := s.ensureNoPendingPayment(txCtx, orderID); err != nil {
				return err
			}

			items, err := edit(cloneItems(order.Items))
			if err != nil {
				return err
			}
			totals, err := s.pricing.PriceOrder(items, order.VATRate, order.Delivery.Province, order.Rush)
			if err != nil {
				return err
			}
			order.Items = items
			order.Totals = totals
			order.Delivery.Fee = totals.DeliveryFee
			order.UpdatedAt = now

			if err := s.orders.Update(txCtx, order); err != nil {
				return s.mapRepositoryError(err)
			}
			order.Version++
			updated = order
			return nil
		})
	})
	if err != nil {
		return Order{}, err
	}

	s.publishEvent(ctx, OrderEvent{
		Type:          orderEventItemsChanged,
		OrderID:       updated.ID,
		OrderNumber:   updated.OrderNumber,
		CurrentStatus: string(updated.Status),
		ActorID:       firstNonEmpty(strings.TrimSpace(cmd.ActorID), strings.TrimSpace(cmd.CustomerID)),
		OccurredAt:    updated.UpdatedAt,
		Metadata: map[string]any{
			"productId":  strings.TrimSpace(cmd.ProductID),
			"itemCount":  len(updated.Items),
			"grandTotal": updated.Totals.GrandTotal,
		},
	})
	return updated, nil
}

// ensureNoPendingPayment rejects item edits once a payment intent for the current total is in
// flight. The intent amount is frozen when the payment starts.
func (s *orderService) ensureNoPendingPayment(ctx context.Context, orderID string) error {
	if s.payments == nil {
		return nil
	}
	txns, err := s.payments.ListByOrder(ctx, orderID)
	if err != nil {
		return s.mapRepositoryError(err)
	}
	for _, txn := range txns {
		if txn.Status == domain.PaymentStatusPending {
			return fmt.Errorf("%w: order %s has a payment in progress (%s)", ErrOrderInvalidState, orderID, txn.ID)
		}
	}
	return nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	reason := s.sanitize(cmd.Reason, maxReasonLength)

	var (
		order      Order
		prevStatus domain.OrderStatus
	)
	err := s.withOrderLock(ctx, orderID, func() error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			current, err := s.orders.FindByID(txCtx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if err := checkOwner(current, cmd.CustomerID); err != nil {
				return err
			}
			if !CanCancel(current.Status) {
				return &InvalidTransitionError{From: current.Status, To: domain.OrderStatusCancelled}
			}
			prevStatus = current.Status
			if err := applyTransition(&current, domain.OrderStatusCancelled, s.now()); err != nil {
				return err
			}
			current.CancelReason = reason
			if err := s.orders.Update(txCtx, current); err != nil {
				return s.mapRepositoryError(err)
			}
			current.Version++
			order = current
			return nil
		})
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	if order.PaidTransactionID != "" {
		metadata["paidTransactionId"] = order.PaidTransactionID
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        firstNonEmpty(strings.TrimSpace(cmd.ActorID), strings.TrimSpace(cmd.CustomerID)),
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd OrderStatusTransitionCommand) (Order, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	target := domain.OrderStatus(strings.ToLower(strings.TrimSpace(string(cmd.TargetStatus))))
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	if target == "" {
		return Order{}, fmt.Errorf("%w: target status is required", ErrOrderInvalidInput)
	}
	reason := s.sanitize(cmd.Reason, maxReasonLength)

	var (
		order      Order
		prevStatus domain.OrderStatus
	)
	err := s.withOrderLock(ctx, orderID, func() error {
		return s.runInTx(ctx, func(txCtx context.Context) error {
			current, err := s.orders.FindByID(txCtx, orderID)
			if err != nil {
				return s.mapRepositoryError(err)
			}
			if cmd.ExpectedStatus != nil && current.Status != *cmd.ExpectedStatus {
				return fmt.Errorf("%w: expected status %q but was %q", ErrOrderConflict, *cmd.ExpectedStatus, current.Status)
			}
			prevStatus = current.Status
			if err := applyTransition(&current, target, s.now()); err != nil {
				return err
			}
			if target == domain.OrderStatusCancelled && reason != "" {
				current.CancelReason = reason
			}
			if err := s.orders.Update(txCtx, current); err != nil {
				return s.mapRepositoryError(err)
			}
			current.Version++
			order = current
			return nil
		})
	})
	if err != nil {
		return Order{}, err
	}

	metadata := map[string]any{}
	if reason != "" {
		metadata["reason"] = reason
	}
	s.publishEvent(ctx, OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		OrderNumber:    order.OrderNumber,
		PreviousStatus: string(prevStatus),
		CurrentStatus:  string(order.Status),
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     order.UpdatedAt,
		Metadata:       metadata,
	})
	return order, nil
}

func (s *orderService) QuoteDelivery(ctx context.Context, req DeliveryQuoteRequest) (DeliveryQuote, error) {
	province := s.sanitize(req.Province, maxRecipientLength)
	if province == "" {
		return DeliveryQuote{}, fmt.Errorf("%w: province is required", ErrOrderInvalidInput)
	}
	deliveryType, err := normalizeDeliveryType(req.Type)
	if err != nil {
		return DeliveryQuote{}, err
	}
	vatRate := req.VATRate
	if vatRate <= 0 {
		vatRate = s.pricing.schedule.VATRate
	}

	items, err := s.snapshotLines(ctx, req.Items)
	if err != nil {
		return DeliveryQuote{}, err
	}
	eta, err := s.pricing.EstimateDelivery(province, deliveryType, s.now())
	if err != nil {
		if errors.Is(err, ErrRushNotAvailable) {
			return DeliveryQuote{}, fmt.Errorf("%w: %w", ErrOrderInvalidInput, err)
		}
		return DeliveryQuote{}, err
	}
	totals, err := s.pricing.PriceOrder(items, vatRate, province, deliveryType == domain.DeliveryRush)
	if err != nil {
		return DeliveryQuote{}, err
	}
	return DeliveryQuote{
		Items:               items,
		Totals:              totals,
		TotalWeightKg:       s.pricing.TotalWeightKg(items),
		MajorLocality:       s.pricing.IsMajorLocality(province),
		EstimatedDeliveryAt: eta,
	}, nil
}

// snapshotLines resolves products and copies their title, price and weight into order lines.
// Repeated product ids are merged.
func (s *orderService) snapshotLines(ctx context.Context, lines []OrderLineInput) ([]OrderItem, error) {
	if len(lines) == 0 {
		return nil, &InvalidOrderLineError{Index: -1, Reason: "at least one item is required"}
	}
	items := make([]OrderItem, 0, len(lines))
	for i, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" {
			return nil, &InvalidOrderLineError{Index: i, Reason: "product id is required"}
		}
		if line.Quantity <= 0 {
			return nil, &InvalidOrderLineError{Index: i, ProductID: productID, Reason: "quantity must be positive"}
		}
		product, err := s.products.FindByID(ctx, productID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
			}
			return nil, s.mapRepositoryError(err)
		}
		if !product.Available {
			return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, productID)
		}
		items = mergeItems(items, OrderItem{
			ProductID: product.ID,
			Title:     product.Title,
			Kind:      product.Kind,
			Quantity:  line.Quantity,
			UnitPrice: product.Price,
			WeightKg:  product.WeightKg,
		})
	}
	return items, nil
}

func (s *orderService) normalizeDelivery(in DeliveryInput) (DeliveryInfo, error) {
	deliveryType, err := normalizeDeliveryType(in.Type)
	if err != nil {
		return DeliveryInfo{}, err
	}
	info := DeliveryInfo{
		RecipientName: s.sanitize(in.RecipientName, maxRecipientLength),
		Phone:         normalizePhone(in.Phone),
		Address:       s.sanitize(in.Address, maxAddressLength),
		Province:      s.sanitize(in.Province, maxRecipientLength),
		Type:          deliveryType,
	}
	switch {
	case info.RecipientName == "":
		return DeliveryInfo{}, fmt.Errorf("%w: recipient name is required", ErrOrderInvalidInput)
	case info.Phone == "":
		return DeliveryInfo{}, fmt.Errorf("%w: recipient phone is required", ErrOrderInvalidInput)
	case info.Address == "":
		return DeliveryInfo{}, fmt.Errorf("%w: delivery address is required", ErrOrderInvalidInput)
	case info.Province == "":
		return DeliveryInfo{}, fmt.Errorf("%w: province is required", ErrOrderInvalidInput)
	}
	return info, nil
}

// sanitize strips markup and truncates value to limit runes.
func (s *orderService) sanitize(value string, limit int) string {
	cleaned := strings.TrimSpace(html.UnescapeString(s.sanitizer.Sanitize(value)))
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if limit > 0 {
		if runes := []rune(cleaned); len(runes) > limit {
			cleaned = strings.TrimSpace(string(runes[:limit]))
		}
	}
	return cleaned
}

func (s *orderService) withOrderLock(ctx context.Context, orderID string, fn func() error) error {
	return withLock(ctx, s.locker, "order:"+orderID, s.logger, fn)
}

func (s *orderService) mapRepositoryError(err error) error {
	return mapOrderRepositoryError(err)
}

func (s *orderService) generateOrderNumber(ctx context.Context, now time.Time) (string, error) {
	counterID := repositories.OrderNumberCounterID(now.Year())
	seq, err := s.counters.Next(ctx, counterID, 1)
	if err != nil {
		return "", s.mapRepositoryError(err)
	}
	if seq > repositories.MaxOrderSequence {
		return "", repositories.NewCounterError(counterID, repositories.CounterErrorExhausted,
			fmt.Sprintf("sequence %d does not fit an order number", seq))
	}
	return fmt.Sprintf("MS-%04d-%06d", now.Year(), seq), nil
}

func (s *orderService) runInTx(ctx context.Context, fn func(context.Context) error) error {
	if s.unitOfWork == nil {
		return fn(ctx)
	}
	return s.unitOfWork.RunInTx(ctx, fn)
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publishEvent(ctx context.Context, event OrderEvent) {
	publishOrderEvent(ctx, s.events, s.logger, event)
}

func publishOrderEvent(ctx context.Context, publisher OrderEventPublisher, logger func(context.Context, string, map[string]any), event OrderEvent) {
	if publisher == nil {
		return
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := publisher.PublishOrderEvent(ctx, event); err != nil {
		logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": event.CurrentStatus,
		})
	}
}

// withLock runs fn while holding key. Release failures are logged, never returned, because fn
// has already committed or rolled back by then.
func withLock(ctx context.Context, locker locking.Locker, key string, logger func(context.Context, string, map[string]any), fn func() error) error {
	if locker == nil {
		return fn()
	}
	lease, err := locker.Acquire(ctx, key)
	if err != nil {
		if errors.Is(err, locking.ErrLockTimeout) {
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		}
		return err
	}
	defer func() {
		if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
			logger(ctx, "lock.release.failed", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
		}
	}()
	return fn()
}

func mapOrderRepositoryError(err error) error {
	if err == nil {
		return nil
	}

	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrOrderNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrOrderConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("order: repository unavailable: %w", err)
		}
	}

	return err
}

type noopUnitOfWork struct{}

func (noopUnitOfWork) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

func checkOwner(order Order, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID != "" && order.CustomerID != customerID {
		return fmt.Errorf("%w: order %s", ErrOrderNotFound, order.ID)
	}
	return nil
}

func mergeItems(items []OrderItem, added OrderItem) []OrderItem {
	for i := range items {
		if items[i].ProductID == added.ProductID {
			items[i].Quantity += added.Quantity
			items[i].LineTotal = int64(items[i].Quantity) * items[i].UnitPrice
			return items
		}
	}
	added.LineTotal = int64(added.Quantity) * added.UnitPrice
	return append(items, added)
}

func cloneItems(items []OrderItem) []OrderItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]OrderItem, len(items))
	copy(out, items)
	return out
}

func normalizeDeliveryType(value DeliveryType) (DeliveryType, error) {
	switch DeliveryType(strings.ToLower(strings.TrimSpace(string(value)))) {
	case "", domain.DeliveryStandard:
		return domain.DeliveryStandard, nil
	case domain.DeliveryExpress:
		return domain.DeliveryExpress, nil
	case domain.DeliveryRush:
		return domain.DeliveryRush, nil
	default:
		return "", fmt.Errorf("%w: unsupported delivery type %q", ErrOrderInvalidInput, value)
	}
}

func normalizePaymentMethod(value domain.PaymentMethod) (domain.PaymentMethod, error) {
	switch domain.PaymentMethod(strings.ToLower(strings.TrimSpace(string(value)))) {
	case "", domain.PaymentMethodVNPay:
		return domain.PaymentMethodVNPay, nil
	case domain.PaymentMethodStripe:
		return domain.PaymentMethodStripe, nil
	case domain.PaymentMethodCOD:
		return domain.PaymentMethodCOD, nil
	default:
		return "", fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, value)
	}
}

func normalizePhone(value string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(value) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
