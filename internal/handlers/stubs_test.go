package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/platform/auth"
	"github.com/mediashop/api/internal/services"
)

type stubOrderService struct {
	placeFunc      func(context.Context, services.PlaceOrderCommand) (services.Order, error)
	getFunc        func(context.Context, string) (services.Order, error)
	listFunc       func(context.Context, services.OrderListFilter) (domain.CursorPage[services.Order], error)
	addFunc        func(context.Context, services.ModifyOrderItemCommand) (services.Order, error)
	removeFunc     func(context.Context, services.ModifyOrderItemCommand) (services.Order, error)
	cancelFunc     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	transitionFunc func(context.Context, services.OrderStatusTransitionCommand) (services.Order, error)
	quoteFunc      func(context.Context, services.DeliveryQuoteRequest) (services.DeliveryQuote, error)
}

func (s *stubOrderService) PlaceOrder(ctx context.Context, cmd services.PlaceOrderCommand) (services.Order, error) {
	if s.placeFunc != nil {
		return s.placeFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) GetOrder(ctx context.Context, orderID string) (services.Order, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, orderID)
	}
	return services.Order{}, services.ErrOrderNotFound
}

func (s *stubOrderService) ListOrders(ctx context.Context, filter services.OrderListFilter) (domain.CursorPage[services.Order], error) {
	if s.listFunc != nil {
		return s.listFunc(ctx, filter)
	}
	return domain.CursorPage[services.Order]{}, nil
}

func (s *stubOrderService) AddItem(ctx context.Context, cmd services.ModifyOrderItemCommand) (services.Order, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) RemoveItem(ctx context.Context, cmd services.ModifyOrderItemCommand) (services.Order, error) {
	if s.removeFunc != nil {
		return s.removeFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) Cancel(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFunc != nil {
		return s.cancelFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.OrderStatusTransitionCommand) (services.Order, error) {
	if s.transitionFunc != nil {
		return s.transitionFunc(ctx, cmd)
	}
	return services.Order{}, nil
}

func (s *stubOrderService) QuoteDelivery(ctx context.Context, req services.DeliveryQuoteRequest) (services.DeliveryQuote, error) {
	if s.quoteFunc != nil {
		return s.quoteFunc(ctx, req)
	}
	return services.DeliveryQuote{}, nil
}

type stubPaymentService struct {
	startFunc    func(context.Context, services.StartPaymentCommand) (services.PaymentStart, error)
	callbackFunc func(context.Context, map[string]string) (services.ReconciliationResult, error)
	sweepFunc    func(context.Context, services.SweepCommand) (services.SweepReport, error)
	refundFunc   func(context.Context, services.RefundCommand) (services.PaymentTransaction, error)
}

func (s *stubPaymentService) RecordPaymentIntent(context.Context, services.Order) (services.PaymentTransaction, error) {
	return services.PaymentTransaction{}, nil
}

func (s *stubPaymentService) StartPayment(ctx context.Context, cmd services.StartPaymentCommand) (services.PaymentStart, error) {
	if s.startFunc != nil {
		return s.startFunc(ctx, cmd)
	}
	return services.PaymentStart{}, nil
}

func (s *stubPaymentService) HandleCallback(ctx context.Context, fields map[string]string) (services.ReconciliationResult, error) {
	if s.callbackFunc != nil {
		return s.callbackFunc(ctx, fields)
	}
	return services.ReconciliationResult{}, nil
}

func (s *stubPaymentService) SweepPending(ctx context.Context, cmd services.SweepCommand) (services.SweepReport, error) {
	if s.sweepFunc != nil {
		return s.sweepFunc(ctx, cmd)
	}
	return services.SweepReport{}, nil
}

func (s *stubPaymentService) RequestRefund(ctx context.Context, cmd services.RefundCommand) (services.PaymentTransaction, error) {
	if s.refundFunc != nil {
		return s.refundFunc(ctx, cmd)
	}
	return services.PaymentTransaction{}, nil
}

func (s *stubPaymentService) CustomerMessage(result services.ReconciliationResult, locale string) string {
	return locale + ":" + string(result.Outcome)
}

type stubCatalogService struct {
	getFunc    func(context.Context, string) (services.Product, error)
	upsertFunc func(context.Context, services.Product) (services.Product, error)
}

func (s *stubCatalogService) GetProduct(ctx context.Context, productID string) (services.Product, error) {
	if s.getFunc != nil {
		return s.getFunc(ctx, productID)
	}
	return services.Product{}, services.ErrCatalogNotFound
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, product services.Product) (services.Product, error) {
	if s.upsertFunc != nil {
		return s.upsertFunc(ctx, product)
	}
	return product, nil
}

var (
	_ services.OrderService                 = (*stubOrderService)(nil)
	_ services.PaymentReconciliationService = (*stubPaymentService)(nil)
	_ services.CatalogService               = (*stubCatalogService)(nil)
)

func withIdentity(req *http.Request, uid string, roles ...string) *http.Request {
	return req.WithContext(auth.WithIdentity(req.Context(), &auth.Identity{UID: uid, Roles: roles}))
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("expected JSON error body: %v (%s)", err, rr.Body.String())
	}
	return body.Error
}
