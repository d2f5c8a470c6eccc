package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/repositories"
	"github.com/mediashop/api/internal/repositories/memory"
)

type captureOrderEvents struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureOrderEvents) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.events))
	for _, event := range c.events {
		out = append(out, event.Type)
	}
	return out
}

func (c *captureOrderEvents) count(eventType string) int {
	n := 0
	for _, t := range c.types() {
		if t == eventType {
			n++
		}
	}
	return n
}

type stubCounterRepo struct {
	nextFn func(context.Context, string, int64) (int64, error)
}

func (s *stubCounterRepo) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	if s.nextFn != nil {
		return s.nextFn(ctx, counterID, step)
	}
	return 0, nil
}

type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type orderFixture struct {
	registry *memory.Registry
	clock    *mutableClock
	events   *captureOrderEvents
	svc      OrderService
}

func newOrderFixture(t *testing.T) *orderFixture {
	t.Helper()
	registry := memory.NewRegistry(memory.NewStore())
	seedCatalogue(t, registry)

	clock := &mutableClock{now: time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)}
	events := &captureOrderEvents{}
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:     registry.Orders(),
		Products:   registry.Products(),
		Counters:   registry.Counters(),
		UnitOfWork: registry,
		Pricing:    newTestPricingEngine(t),
		Clock:      clock.Now,
		Events:     events,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	return &orderFixture{registry: registry, clock: clock, events: events, svc: svc}
}

func seedCatalogue(t *testing.T, registry *memory.Registry) {
	t.Helper()
	products := []domain.Product{
		{
			ID: "book-1", Kind: domain.ProductKindBook, Title: "Dế Mèn phiêu lưu ký", Price: 45000, WeightKg: 0.5, Available: true,
			Book: &domain.BookDetails{Authors: []string{"Tô Hoài"}, Publisher: "Kim Đồng", Pages: 144, CoverType: "paperback"},
		},
		{
			ID: "cd-1", Kind: domain.ProductKindCD, Title: "Hà Nội mùa thu", Price: 25000, WeightKg: 0.1, Available: true,
			CD: &domain.CDDetails{Artists: []string{"Various"}, Label: "Phương Nam", Tracks: []string{"Hà Nội mùa thu"}},
		},
		{
			ID: "dvd-1", Kind: domain.ProductKindDVD, Title: "Mùa len trâu", Price: 80000, WeightKg: 0.2, Available: false,
			DVD: &domain.DVDDetails{Director: "Nguyễn Võ Nghiêm Minh", RuntimeMinutes: 115, DiscType: "DVD-9"},
		},
	}
	for _, product := range products {
		if err := registry.Products().Upsert(context.Background(), product); err != nil {
			t.Fatalf("seed product: %v", err)
		}
	}
}

func defaultPlaceCommand() PlaceOrderCommand {
	return PlaceOrderCommand{
		CustomerID: "cust-1",
		Items: []OrderLineInput{
			{ProductID: "book-1", Quantity: 2},
			{ProductID: "cd-1", Quantity: 1},
		},
		Delivery: DeliveryInput{
			RecipientName: "Nguyễn Văn A",
			Phone:         "+84 912 345 678",
			Address:       "12 Tràng Tiền, Hoàn Kiếm",
			Province:      "Hà Nội",
			Type:          domain.DeliveryStandard,
		},
		PaymentMethod: domain.PaymentMethodVNPay,
	}
}

func TestOrderServicePlaceOrder(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, defaultPlaceCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("expected ord_ prefix, got %s", order.ID)
	}
	if order.OrderNumber != "MS-2025-000001" {
		t.Fatalf("expected first order number, got %s", order.OrderNumber)
	}
	if order.Status != domain.OrderStatusPending || order.Currency != "VND" || order.Version != 1 {
		t.Fatalf("unexpected order header: %+v", order)
	}
	if order.Totals.Subtotal != 115000 || order.Totals.VAT != 11500 || order.Totals.TotalAfterTax != 126500 {
		t.Fatalf("unexpected totals: %+v", order.Totals)
	}
	if order.Totals.DeliveryFee != 0 || order.Totals.GrandTotal != 126500 {
		t.Fatalf("expected free shipping above the threshold, got %+v", order.Totals)
	}
	if order.Items[0].Title != "Dế Mèn phiêu lưu ký" || order.Items[0].LineTotal != 90000 {
		t.Fatalf("expected product snapshot, got %+v", order.Items[0])
	}
	if order.Delivery.Phone != "+84912345678" {
		t.Fatalf("expected normalised phone, got %s", order.Delivery.Phone)
	}
	wantETA := f.clock.Now().Add(72 * time.Hour)
	if !order.Delivery.EstimatedDeliveryAt.Equal(wantETA) {
		t.Fatalf("expected eta %s, got %s", wantETA, order.Delivery.EstimatedDeliveryAt)
	}

	stored, err := f.svc.GetOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if stored.Totals != order.Totals {
		t.Fatalf("stored totals differ: %+v", stored.Totals)
	}
	if got := f.events.types(); len(got) != 1 || got[0] != orderEventCreated {
		t.Fatalf("expected one created event, got %v", got)
	}
}

func TestOrderServicePlaceOrderSanitizesRecipient(t *testing.T) {
	f := newOrderFixture(t)
	cmd := defaultPlaceCommand()
	cmd.Delivery.RecipientName = "<script>alert(1)</script>Trần   Thị <b>B</b>"

	order, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Delivery.RecipientName != "Trần Thị B" {
		t.Fatalf("expected markup stripped, got %q", order.Delivery.RecipientName)
	}
}

func TestOrderServicePlaceOrderValidation(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	unavailable := defaultPlaceCommand()
	unavailable.Items = []OrderLineInput{{ProductID: "dvd-1", Quantity: 1}}
	if _, err := f.svc.PlaceOrder(ctx, unavailable); !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable, got %v", err)
	}

	missing := defaultPlaceCommand()
	missing.Items = []OrderLineInput{{ProductID: "nope", Quantity: 1}}
	if _, err := f.svc.PlaceOrder(ctx, missing); !errors.Is(err, ErrProductUnavailable) {
		t.Fatalf("expected ErrProductUnavailable for unknown product, got %v", err)
	}

	zeroQty := defaultPlaceCommand()
	zeroQty.Items[0].Quantity = 0
	var lineErr *InvalidOrderLineError
	if _, err := f.svc.PlaceOrder(ctx, zeroQty); !errors.As(err, &lineErr) {
		t.Fatalf("expected InvalidOrderLineError, got %v", err)
	}

	rush := defaultPlaceCommand()
	rush.Delivery.Province = "Đà Nẵng"
	rush.Delivery.Type = domain.DeliveryRush
	_, err := f.svc.PlaceOrder(ctx, rush)
	if !errors.Is(err, ErrOrderInvalidInput) || !errors.Is(err, ErrRushNotAvailable) {
		t.Fatalf("expected rush rejection, got %v", err)
	}

	noAddress := defaultPlaceCommand()
	noAddress.Delivery.Address = "<p></p>"
	if _, err := f.svc.PlaceOrder(ctx, noAddress); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected ErrOrderInvalidInput, got %v", err)
	}

	if n := f.events.count(orderEventCreated); n != 0 {
		t.Fatalf("expected no events for rejected orders, got %d", n)
	}
}

func TestOrderServicePlaceOrderRushCharge(t *testing.T) {
	f := newOrderFixture(t)
	cmd := defaultPlaceCommand()
	cmd.Delivery.Type = domain.DeliveryRush

	order, err := f.svc.PlaceOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if !order.Rush {
		t.Fatalf("expected rush flag")
	}
	if order.Totals.DeliveryFee != 32000 {
		t.Fatalf("expected undiscounted rush fee 32000, got %d", order.Totals.DeliveryFee)
	}
	if order.Totals.GrandTotal != 126500+32000 {
		t.Fatalf("unexpected grand total %d", order.Totals.GrandTotal)
	}
}

func TestOrderServiceCounterFailure(t *testing.T) {
	registry := memory.NewRegistry(memory.NewStore())
	seedCatalogue(t, registry)
	boom := errors.New("counter offline")
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   registry.Orders(),
		Products: registry.Products(),
		Counters: &stubCounterRepo{nextFn: func(context.Context, string, int64) (int64, error) { return 0, boom }},
		Pricing:  newTestPricingEngine(t),
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	if _, err := svc.PlaceOrder(context.Background(), defaultPlaceCommand()); !errors.Is(err, boom) {
		t.Fatalf("expected counter error, got %v", err)
	}
}

func TestOrderServiceOrderNumberSequencePerYear(t *testing.T) {
	registry := memory.NewRegistry(memory.NewStore())
	seedCatalogue(t, registry)
	var counters []string
	next := int64(41)
	svc, err := NewOrderService(OrderServiceDeps{
		Orders:   registry.Orders(),
		Products: registry.Products(),
		Counters: &stubCounterRepo{nextFn: func(_ context.Context, counterID string, _ int64) (int64, error) {
			counters = append(counters, counterID)
			next++
			return next, nil
		}},
		Pricing: newTestPricingEngine(t),
		Clock:   func() time.Time { return time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}

	order, err := svc.PlaceOrder(context.Background(), defaultPlaceCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.OrderNumber != "MS-2026-000042" {
		t.Fatalf("unexpected order number %s", order.OrderNumber)
	}
	if len(counters) != 1 || counters[0] != "orders-2026" {
		t.Fatalf("expected the 2026 counter, got %v", counters)
	}

	next = repositories.MaxOrderSequence
	if _, err := svc.PlaceOrder(context.Background(), defaultPlaceCommand()); !errors.Is(err, repositories.ErrCounterExhausted) {
		t.Fatalf("expected exhausted sequence, got %v", err)
	}
}

func TestOrderServiceAddAndRemoveItems(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	cmd := defaultPlaceCommand()
	cmd.Items = []OrderLineInput{{ProductID: "cd-1", Quantity: 1}}
	order, err := f.svc.PlaceOrder(ctx, cmd)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Totals.DeliveryFee != 22000 {
		t.Fatalf("expected base fee below free shipping, got %d", order.Totals.DeliveryFee)
	}

	order, err = f.svc.AddItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: "cust-1", ProductID: "book-1", Quantity: 2})
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if len(order.Items) != 2 || order.Totals.Subtotal != 115000 || order.Totals.TotalAfterTax != 126500 {
		t.Fatalf("expected recomputed totals, got %+v", order.Totals)
	}
	if order.Totals.DeliveryFee != 0 || order.Delivery.Fee != 0 {
		t.Fatalf("expected free shipping after crossing the threshold, got %d", order.Totals.DeliveryFee)
	}
	if order.Version != 2 {
		t.Fatalf("expected version 2, got %d", order.Version)
	}

	order, err = f.svc.AddItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: "cust-1", ProductID: "book-1", Quantity: 1})
	if err != nil {
		t.Fatalf("AddItem merge: %v", err)
	}
	if len(order.Items) != 2 || order.Items[1].Quantity != 3 {
		t.Fatalf("expected quantities merged, got %+v", order.Items)
	}

	order, err = f.svc.RemoveItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: "cust-1", ProductID: "cd-1"})
	if err != nil {
		t.Fatalf("RemoveItem: %v", err)
	}
	if len(order.Items) != 1 || order.Totals.Subtotal != 135000 {
		t.Fatalf("unexpected order after removal: %+v", order.Totals)
	}

	_, err = f.svc.RemoveItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: "cust-1", ProductID: "book-1"})
	var lineErr *InvalidOrderLineError
	if !errors.As(err, &lineErr) {
		t.Fatalf("expected removing the last item to fail, got %v", err)
	}

	if n := f.events.count(orderEventItemsChanged); n != 3 {
		t.Fatalf("expected three item events, got %d", n)
	}
}

func TestOrderServiceModificationWindow(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, defaultPlaceCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	f.clock.Advance(OrderModificationWindow + time.Minute)

	_, err = f.svc.AddItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: "cust-1", ProductID: "cd-1", Quantity: 1})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState after the window, got %v", err)
	}

	stored, _ := f.svc.GetOrder(ctx, order.ID)
	if stored.Version != 1 || len(stored.Items) != 2 {
		t.Fatalf("rejected edit must not persist: %+v", stored)
	}
}

func TestOrderServiceRejectsForeignCustomer(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, defaultPlaceCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	_, err = f.svc.AddItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: "cust-2", ProductID: "cd-1", Quantity: 1})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	_, err = f.svc.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: "cust-2"})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound on cancel, got %v", err)
	}
}

func TestOrderServiceCancel(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, defaultPlaceCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	cancelled, err := f.svc.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: "cust-1", Reason: "changed <i>mind</i>"})
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancelledAt == nil {
		t.Fatalf("expected cancelled order, got %+v", cancelled)
	}
	if cancelled.CancelReason != "changed mind" {
		t.Fatalf("expected sanitised reason, got %q", cancelled.CancelReason)
	}

	_, err = f.svc.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: "cust-1"})
	var transitionErr *InvalidTransitionError
	if !errors.As(err, &transitionErr) {
		t.Fatalf("expected InvalidTransitionError on second cancel, got %v", err)
	}

	last := f.events.events[len(f.events.events)-1]
	if last.Type != orderEventStatusChanged || last.PreviousStatus != "pending" || last.CurrentStatus != "cancelled" {
		t.Fatalf("unexpected status event: %+v", last)
	}
}

func TestOrderServiceTransitionStatus(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	order, err := f.svc.PlaceOrder(ctx, defaultPlaceCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	_, err = f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusShipped, ActorID: "staff-1"})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected pending -> shipped to be rejected, got %v", err)
	}

	expected := domain.OrderStatusConfirmed
	_, err = f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: domain.OrderStatusShipped, ExpectedStatus: &expected})
	if !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected ErrOrderConflict for stale expected status, got %v", err)
	}

	for _, target := range []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered} {
		order, err = f.svc.TransitionStatus(ctx, OrderStatusTransitionCommand{OrderID: order.ID, TargetStatus: target, ActorID: "staff-1"})
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}
	if order.Status != domain.OrderStatusDelivered || order.Delivery.DeliveredAt == nil || order.ShippedAt == nil {
		t.Fatalf("unexpected delivered order: %+v", order)
	}
	if _, err := f.svc.Cancel(ctx, CancelOrderCommand{OrderID: order.ID}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected delivered order to refuse cancellation, got %v", err)
	}
}

func TestOrderServiceQuoteDelivery(t *testing.T) {
	f := newOrderFixture(t)

	quote, err := f.svc.QuoteDelivery(context.Background(), DeliveryQuoteRequest{
		Items:    []OrderLineInput{{ProductID: "book-1", Quantity: 1}},
		Province: "Cần Thơ",
		Type:     domain.DeliveryExpress,
	})
	if err != nil {
		t.Fatalf("QuoteDelivery: %v", err)
	}
	if quote.MajorLocality || quote.TotalWeightKg != 0.5 {
		t.Fatalf("unexpected quote header: %+v", quote)
	}
	if quote.Totals.Subtotal != 45000 || quote.Totals.VAT != 4500 || quote.Totals.DeliveryFee != 30000 || quote.Totals.GrandTotal != 79500 {
		t.Fatalf("unexpected quote totals: %+v", quote.Totals)
	}
	if len(f.events.types()) != 0 {
		t.Fatalf("quotes must not emit events")
	}
}

func TestOrderServiceListOrders(t *testing.T) {
	f := newOrderFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.PlaceOrder(ctx, defaultPlaceCommand()); err != nil {
			t.Fatalf("PlaceOrder: %v", err)
		}
		f.clock.Advance(time.Minute)
	}
	other := defaultPlaceCommand()
	other.CustomerID = "cust-2"
	if _, err := f.svc.PlaceOrder(ctx, other); err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}

	page, err := f.svc.ListOrders(ctx, OrderListFilter{CustomerID: "cust-1", Pagination: domain.Pagination{PageSize: 2}})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if len(page.Items) != 2 || page.NextPageToken == "" {
		t.Fatalf("expected first page of two with a token, got %d items token %q", len(page.Items), page.NextPageToken)
	}
	if page.Items[0].OrderNumber != "MS-2025-000003" {
		t.Fatalf("expected newest first, got %s", page.Items[0].OrderNumber)
	}
}
