package payments

import (
	"context"
	"errors"
	"testing"
)

type fakeProvider struct {
	lastOp  string
	session CheckoutSession
	payment PaymentDetails
	err     error
}

func (f *fakeProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	f.lastOp = "create"
	return f.session, f.err
}

func (f *fakeProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	f.lastOp = "refund"
	return f.payment, f.err
}

func (f *fakeProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	f.lastOp = "lookup"
	return f.payment, f.err
}

func TestManagerCreateCheckoutSessionUsesPreferredProvider(t *testing.T) {
	ctx := context.Background()
	vn := &fakeProvider{session: CheckoutSession{ID: "txn_vnpay"}}
	card := &fakeProvider{session: CheckoutSession{ID: "cs_stripe"}}

	mgr, err := NewManager(map[string]Provider{
		ProviderVNPay:  vn,
		ProviderStripe: card,
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{PreferredProvider: "stripe"}, CheckoutSessionRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if session.Provider != ProviderStripe {
		t.Fatalf("expected provider 'stripe', got %q", session.Provider)
	}
	if card.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
	if vn.lastOp != "" {
		t.Fatalf("expected vnpay provider to remain unused")
	}
}

func TestManagerRoutesByCurrency(t *testing.T) {
	ctx := context.Background()
	vn := &fakeProvider{session: CheckoutSession{ID: "txn_vnpay"}}
	card := &fakeProvider{session: CheckoutSession{ID: "cs_stripe"}}

	mgr, err := NewManager(
		map[string]Provider{
			ProviderVNPay:  vn,
			ProviderStripe: card,
		},
		WithCurrencyRoutes(map[string]string{"usd": "stripe"}),
	)
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	session, err := mgr.CreateCheckoutSession(ctx, PaymentContext{Currency: "USD"}, CheckoutSessionRequest{Currency: "USD"})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.Provider != ProviderStripe {
		t.Fatalf("expected provider 'stripe', got %q", session.Provider)
	}
	if card.lastOp != "create" {
		t.Fatalf("expected stripe provider to handle call")
	}
}

func TestManagerFallsBackToDefault(t *testing.T) {
	ctx := context.Background()
	vn := &fakeProvider{payment: PaymentDetails{Provider: ProviderVNPay}}
	card := &fakeProvider{}

	mgr, err := NewManager(map[string]Provider{ProviderVNPay: vn, ProviderStripe: card})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	details, err := mgr.LookupPayment(ctx, PaymentContext{Currency: "VND"}, LookupRequest{Reference: "01J"})
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if vn.lastOp != "lookup" {
		t.Fatalf("expected lookup to invoke default provider")
	}
	if details.Provider != ProviderVNPay {
		t.Fatalf("unexpected provider in details: %q", details.Provider)
	}
}

func TestManagerUnsupportedProvider(t *testing.T) {
	ctx := context.Background()
	mgr, err := NewManager(map[string]Provider{"vnpay": &fakeProvider{}, "stripe": &fakeProvider{}}, WithDefaultProvider(""))
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	_, err = mgr.CreateCheckoutSession(ctx, PaymentContext{PreferredProvider: "unknown"}, CheckoutSessionRequest{Currency: "USD"})
	if !errors.Is(err, ErrUnsupportedProvider) {
		t.Fatalf("expected ErrUnsupportedProvider, got %v", err)
	}
}

func TestNewManagerValidatesProviders(t *testing.T) {
	if _, err := NewManager(map[string]Provider{"bad": nil}); err == nil {
		t.Fatalf("expected error for nil provider")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatalf("expected error when providers empty")
	}
}
