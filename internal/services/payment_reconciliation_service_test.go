package services

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/payments"
	"github.com/mediashop/api/internal/payments/vnpay"
	"github.com/mediashop/api/internal/platform/locking"
	"github.com/mediashop/api/internal/repositories/memory"
)

const (
	testTmnCode = "MEDIASHOP"
	testSecret  = "sandbox-secret"
)

type stubPaymentManager struct {
	createFn func(context.Context, payments.PaymentContext, payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	refundFn func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error)
	lookupFn func(context.Context, payments.PaymentContext, payments.LookupRequest) (payments.PaymentDetails, error)
}

func (s *stubPaymentManager) CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
	if s.createFn != nil {
		return s.createFn(ctx, paymentCtx, req)
	}
	return payments.CheckoutSession{ID: req.Reference, RedirectURL: "https://sandbox.example/pay?ref=" + req.Reference}, nil
}

func (s *stubPaymentManager) Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
	if s.refundFn != nil {
		return s.refundFn(ctx, paymentCtx, req)
	}
	return payments.PaymentDetails{Status: payments.StatusRefunded, ResponseCode: "00"}, nil
}

func (s *stubPaymentManager) LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
	if s.lookupFn != nil {
		return s.lookupFn(ctx, paymentCtx, req)
	}
	return payments.PaymentDetails{Status: payments.StatusPending}, nil
}

type stubCallbackArchive struct {
	mu      sync.Mutex
	records []CallbackRecord
}

func (s *stubCallbackArchive) ArchiveCallback(_ context.Context, record CallbackRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return nil
}

type reconciliationFixture struct {
	registry *memory.Registry
	clock    *mutableClock
	events   *captureOrderEvents
	manager  *stubPaymentManager
	archive  *stubCallbackArchive
	orders   OrderService
	svc      PaymentReconciliationService
	sleeps   []time.Duration
	onSleep  func(attempt int)
}

func newReconciliationFixture(t *testing.T) *reconciliationFixture {
	t.Helper()
	f := &reconciliationFixture{
		registry: memory.NewRegistry(memory.NewStore()),
		clock:    &mutableClock{now: time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)},
		events:   &captureOrderEvents{},
		manager:  &stubPaymentManager{},
		archive:  &stubCallbackArchive{},
	}
	seedCatalogue(t, f.registry)

	verifier, err := vnpay.NewClient(vnpay.Config{
		TmnCode:    testTmnCode,
		HashSecret: testSecret,
		PayURL:     "https://sandbox.example/paymentv2/vpcpay.html",
	})
	if err != nil {
		t.Fatalf("vnpay.NewClient: %v", err)
	}

	locker := locking.NewKeyedMutex()
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:     f.registry.Orders(),
		Products:   f.registry.Products(),
		Counters:   f.registry.Counters(),
		Payments:   f.registry.PaymentTransactions(),
		UnitOfWork: f.registry,
		Locker:     locker,
		Pricing:    newTestPricingEngine(t),
		Clock:      f.clock.Now,
		Events:     f.events,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	f.orders = orders

	var sleepMu sync.Mutex
	svc, err := NewPaymentReconciliationService(PaymentReconciliationServiceDeps{
		Orders:       f.registry.Orders(),
		Transactions: f.registry.PaymentTransactions(),
		UnitOfWork:   f.registry,
		Locker:       locker,
		Payments:     f.manager,
		Verifier:     verifier,
		Archive:      f.archive,
		Events:       f.events,
		Clock:        f.clock.Now,
		Sleep: func(_ context.Context, d time.Duration) error {
			sleepMu.Lock()
			f.sleeps = append(f.sleeps, d)
			attempt := len(f.sleeps)
			sleepMu.Unlock()
			if f.onSleep != nil {
				f.onSleep(attempt)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("NewPaymentReconciliationService: %v", err)
	}
	f.svc = svc
	return f
}

func (f *reconciliationFixture) placeOrder(t *testing.T) Order {
	t.Helper()
	order, err := f.orders.PlaceOrder(context.Background(), defaultPlaceCommand())
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	return order
}

func (f *reconciliationFixture) startPayment(t *testing.T) (Order, PaymentTransaction) {
	t.Helper()
	order := f.placeOrder(t)
	txn, err := f.svc.RecordPaymentIntent(context.Background(), order)
	if err != nil {
		t.Fatalf("RecordPaymentIntent: %v", err)
	}
	return order, txn
}

func (f *reconciliationFixture) transaction(t *testing.T, id string) PaymentTransaction {
	t.Helper()
	txn, err := f.registry.PaymentTransactions().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find transaction: %v", err)
	}
	return txn
}

func (f *reconciliationFixture) order(t *testing.T, id string) Order {
	t.Helper()
	order, err := f.registry.Orders().FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	return order
}

func signedCallback(txnRef string, amount int64, responseCode, transactionStatus string) map[string]string {
	fields := map[string]string{
		"vnp_TmnCode":           testTmnCode,
		"vnp_TxnRef":            txnRef,
		"vnp_Amount":            strconv.FormatInt(amount*100, 10),
		"vnp_ResponseCode":      responseCode,
		"vnp_TransactionStatus": transactionStatus,
		"vnp_TransactionNo":     "14422574",
		"vnp_BankCode":          "NCB",
		"vnp_CardType":          "ATM",
		"vnp_OrderInfo":         "Thanh toan don hang",
		"vnp_PayDate":           "20250301101230",
	}
	fields[vnpay.FieldSecureHash] = vnpay.Sign(testSecret, vnpay.Canonicalize(fields))
	fields[vnpay.FieldSecureHashType] = "HmacSHA512"
	return fields
}

func TestRecordPaymentIntentCreatesPendingTransaction(t *testing.T) {
	f := newReconciliationFixture(t)
	order, txn := f.startPayment(t)

	if txn.Status != domain.PaymentStatusPending || txn.Amount != order.Totals.GrandTotal {
		t.Fatalf("unexpected intent: %+v", txn)
	}
	if txn.Provider != payments.ProviderVNPay || txn.OrderID != order.ID || txn.Currency != "VND" {
		t.Fatalf("unexpected intent routing: %+v", txn)
	}
	if stored := f.transaction(t, txn.ID); stored.Version != 1 {
		t.Fatalf("expected stored version 1, got %d", stored.Version)
	}

	cod := defaultPlaceCommand()
	cod.PaymentMethod = domain.PaymentMethodCOD
	codOrder, err := f.orders.PlaceOrder(context.Background(), cod)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if _, err := f.svc.RecordPaymentIntent(context.Background(), codOrder); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected cod orders to be rejected, got %v", err)
	}
}

func TestHandleCallbackDuplicateIsIdempotent(t *testing.T) {
	f := newReconciliationFixture(t)
	ctx := context.Background()
	order, txn := f.startPayment(t)
	fields := signedCallback(txn.ID, txn.Amount, "00", "00")

	first, err := f.svc.HandleCallback(ctx, fields)
	if err != nil {
		t.Fatalf("first callback: %v", err)
	}
	if first.Outcome != OutcomeSuccess {
		t.Fatalf("expected success, got %s", first.Outcome)
	}
	second, err := f.svc.HandleCallback(ctx, fields)
	if err != nil {
		t.Fatalf("second callback: %v", err)
	}
	if second.Outcome != OutcomeAlreadyProcessed {
		t.Fatalf("expected already_processed, got %s", second.Outcome)
	}

	stored := f.transaction(t, txn.ID)
	if stored.Status != domain.PaymentStatusSuccess || stored.ProviderTxnNo != "14422574" || stored.BankCode != "NCB" {
		t.Fatalf("unexpected transaction: %+v", stored)
	}
	wantPayDate := time.Date(2025, 3, 1, 3, 12, 30, 0, time.UTC)
	if stored.PayDate == nil || !stored.PayDate.Equal(wantPayDate) {
		t.Fatalf("expected pay date %s, got %v", wantPayDate, stored.PayDate)
	}

	confirmed := f.order(t, order.ID)
	if confirmed.Status != domain.OrderStatusConfirmed || confirmed.PaidTransactionID != txn.ID || confirmed.ConfirmedAt == nil {
		t.Fatalf("unexpected order: %+v", confirmed)
	}
	if n := f.events.count(paymentEventSucceeded); n != 1 {
		t.Fatalf("expected one payment.succeeded event, got %d", n)
	}
	if len(f.archive.records) != 2 {
		t.Fatalf("expected both callbacks archived, got %d", len(f.archive.records))
	}

	txns, err := f.registry.PaymentTransactions().ListByOrder(ctx, order.ID)
	if err != nil {
		t.Fatalf("ListByOrder: %v", err)
	}
	successes := 0
	for _, candidate := range txns {
		if candidate.Status == domain.PaymentStatusSuccess {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("expected exactly one successful transaction, got %d", successes)
	}
}

func TestHandleCallbackConcurrentDeliveries(t *testing.T) {
	f := newReconciliationFixture(t)
	order, txn := f.startPayment(t)
	fields := signedCallback(txn.ID, txn.Amount, "00", "00")

	const workers = 12
	var wg sync.WaitGroup
	results := make(chan ReconciliationOutcome, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.svc.HandleCallback(context.Background(), fields)
			if err != nil {
				t.Errorf("HandleCallback: %v", err)
				return
			}
			results <- result.Outcome
		}()
	}
	wg.Wait()
	close(results)

	counts := map[ReconciliationOutcome]int{}
	for outcome := range results {
		counts[outcome]++
	}
	if counts[OutcomeSuccess] != 1 || counts[OutcomeAlreadyProcessed] != workers-1 {
		t.Fatalf("expected one success and %d duplicates, got %v", workers-1, counts)
	}
	if stored := f.order(t, order.ID); stored.Version != 2 {
		t.Fatalf("expected a single order write, version is %d", stored.Version)
	}
}

func TestHandleCallbackAfterCancellationIsRejected(t *testing.T) {
	f := newReconciliationFixture(t)
	ctx := context.Background()
	order, txn := f.startPayment(t)

	if _, err := f.orders.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: order.CustomerID}); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	fields := signedCallback(txn.ID, txn.Amount, "00", "00")
	for i := 0; i < 2; i++ {
		result, err := f.svc.HandleCallback(ctx, fields)
		if err != nil {
			t.Fatalf("HandleCallback: %v", err)
		}
		if result.Outcome != OutcomeTransitionRejected {
			t.Fatalf("delivery %d: expected transition_rejected, got %s", i, result.Outcome)
		}
	}

	if stored := f.order(t, order.ID); stored.Status != domain.OrderStatusCancelled || stored.PaidTransactionID != "" {
		t.Fatalf("cancelled order must stay cancelled: %+v", stored)
	}
	if stored := f.transaction(t, txn.ID); stored.Status != domain.PaymentStatusPending {
		t.Fatalf("transaction must not be forced to success, got %s", stored.Status)
	}
	if n := f.events.count(paymentEventOrphaned); n != 2 {
		t.Fatalf("expected orphaned payment events, got %d", n)
	}
}

func TestHandleCallbackRacingCancellation(t *testing.T) {
	f := newReconciliationFixture(t)
	ctx := context.Background()

	for i := 0; i < 25; i++ {
		order, txn := f.startPayment(t)
		fields := signedCallback(txn.ID, txn.Amount, "00", "00")

		var (
			wg        sync.WaitGroup
			result    ReconciliationResult
			cbErr     error
			cancelErr error
		)
		wg.Add(2)
		go func() {
			defer wg.Done()
			result, cbErr = f.svc.HandleCallback(ctx, fields)
		}()
		go func() {
			defer wg.Done()
			_, cancelErr = f.orders.Cancel(ctx, CancelOrderCommand{OrderID: order.ID, CustomerID: order.CustomerID})
		}()
		wg.Wait()

		if cbErr != nil {
			t.Fatalf("round %d: HandleCallback: %v", i, cbErr)
		}
		if cancelErr != nil {
			t.Fatalf("round %d: Cancel: %v", i, cancelErr)
		}

		stored := f.order(t, order.ID)
		storedTxn := f.transaction(t, txn.ID)
		if stored.Status != domain.OrderStatusCancelled || stored.CancelledAt == nil {
			t.Fatalf("round %d: order must end cancelled: %+v", i, stored)
		}
		switch result.Outcome {
		case OutcomeSuccess:
			// The payment committed first; the later cancellation keeps the paid reference for a refund.
			if stored.PaidTransactionID != txn.ID || stored.ConfirmedAt == nil || storedTxn.Status != domain.PaymentStatusSuccess {
				t.Fatalf("round %d: payment won but state disagrees: order=%+v txn=%+v", i, stored, storedTxn)
			}
		case OutcomeTransitionRejected:
			if stored.PaidTransactionID != "" || stored.ConfirmedAt != nil || storedTxn.Status != domain.PaymentStatusPending {
				t.Fatalf("round %d: cancellation won but state disagrees: order=%+v txn=%+v", i, stored, storedTxn)
			}
		default:
			t.Fatalf("round %d: unexpected outcome %s", i, result.Outcome)
		}
	}
}

func TestHandleCallbackTamperedFieldsAreRejected(t *testing.T) {
	f := newReconciliationFixture(t)
	order, txn := f.startPayment(t)

	fields := signedCallback(txn.ID, txn.Amount, "24", "02")
	fields["vnp_ResponseCode"] = "00"
	fields["vnp_TransactionStatus"] = "00"

	result, err := f.svc.HandleCallback(context.Background(), fields)
	var sigErr *vnpay.InvalidSignatureError
	if !errors.As(err, &sigErr) {
		t.Fatalf("expected InvalidSignatureError, got %v", err)
	}
	if result.Outcome != OutcomeInvalidSignature {
		t.Fatalf("expected invalid_signature outcome, got %s", result.Outcome)
	}
	if stored := f.transaction(t, txn.ID); stored.Status != domain.PaymentStatusPending || stored.Version != 1 {
		t.Fatalf("transaction must be untouched: %+v", stored)
	}
	if stored := f.order(t, order.ID); stored.Status != domain.OrderStatusPending {
		t.Fatalf("order must be untouched: %+v", stored)
	}
}

func TestHandleCallbackFailureLeavesOrderPending(t *testing.T) {
	f := newReconciliationFixture(t)
	order, txn := f.startPayment(t)

	result, err := f.svc.HandleCallback(context.Background(), signedCallback(txn.ID, txn.Amount, "24", "02"))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", result.Outcome)
	}
	if stored := f.transaction(t, txn.ID); stored.Status != domain.PaymentStatusFailed || stored.ResponseCode != "24" {
		t.Fatalf("unexpected transaction: %+v", stored)
	}
	if stored := f.order(t, order.ID); stored.Status != domain.OrderStatusPending {
		t.Fatalf("failed payment must not change the order: %+v", stored)
	}
	if msg := f.svc.CustomerMessage(result, "en"); msg != "Transaction cancelled by customer" {
		t.Fatalf("unexpected customer message %q", msg)
	}
	if msg := f.svc.CustomerMessage(result, "vi"); msg != "Khách hàng hủy giao dịch" {
		t.Fatalf("unexpected vietnamese message %q", msg)
	}
}

func TestHandleCallbackAmountMismatch(t *testing.T) {
	f := newReconciliationFixture(t)
	order, txn := f.startPayment(t)

	result, err := f.svc.HandleCallback(context.Background(), signedCallback(txn.ID, txn.Amount-1000, "00", "00"))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if result.Outcome != OutcomeAmountMismatch {
		t.Fatalf("expected amount_mismatch, got %s", result.Outcome)
	}
	if stored := f.order(t, order.ID); stored.Status != domain.OrderStatusPending {
		t.Fatalf("order must stay pending: %+v", stored)
	}
}

func TestOrderItemsFrozenWhilePaymentPending(t *testing.T) {
	f := newReconciliationFixture(t)
	ctx := context.Background()
	order, txn := f.startPayment(t)

	_, err := f.orders.AddItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: order.CustomerID, ProductID: "book-1", Quantity: 5})
	if !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected ErrOrderInvalidState while a payment is pending, got %v", err)
	}
	if stored := f.order(t, order.ID); stored.Totals.GrandTotal != txn.Amount || len(stored.Items) != len(order.Items) {
		t.Fatalf("order must keep the total the payment was started for: %+v", stored.Totals)
	}

	result, err := f.svc.HandleCallback(ctx, signedCallback(txn.ID, txn.Amount, "24", "02"))
	if err != nil || result.Outcome != OutcomeFailed {
		t.Fatalf("expected failed payment, got %v / %v", result.Outcome, err)
	}
	edited, err := f.orders.AddItem(ctx, ModifyOrderItemCommand{OrderID: order.ID, CustomerID: order.CustomerID, ProductID: "book-1", Quantity: 5})
	if err != nil {
		t.Fatalf("AddItem after the failed payment: %v", err)
	}
	if edited.Totals.GrandTotal <= txn.Amount {
		t.Fatalf("expected a larger total after the edit, got %d", edited.Totals.GrandTotal)
	}
}

func TestHandleCallbackRejectsStaleOrderTotal(t *testing.T) {
	f := newReconciliationFixture(t)
	ctx := context.Background()
	order, txn := f.startPayment(t)

	// Another writer reprices the order after the intent was recorded.
	stored := f.order(t, order.ID)
	stored.Totals.Subtotal += 250000
	stored.Totals.TotalAfterTax += 275000
	stored.Totals.GrandTotal += 275000
	if err := f.registry.Orders().Update(ctx, stored); err != nil {
		t.Fatalf("reprice order: %v", err)
	}

	result, err := f.svc.HandleCallback(ctx, signedCallback(txn.ID, txn.Amount, "00", "00"))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if result.Outcome != OutcomeAmountMismatch {
		t.Fatalf("expected amount_mismatch for an underpaid order, got %s", result.Outcome)
	}
	if got := f.order(t, order.ID); got.Status != domain.OrderStatusPending || got.PaidTransactionID != "" {
		t.Fatalf("underpaid order must not be confirmed: %+v", got)
	}
	if got := f.transaction(t, txn.ID); got.Status != domain.PaymentStatusPending {
		t.Fatalf("transaction must be left for manual refund, got %s", got.Status)
	}
	if n := f.events.count(paymentEventOrphaned); n != 1 {
		t.Fatalf("expected one orphaned payment event, got %d", n)
	}
}

func TestHandleCallbackUnknownReferenceRetriesThenGivesUp(t *testing.T) {
	f := newReconciliationFixture(t)

	result, err := f.svc.HandleCallback(context.Background(), signedCallback("01UNKNOWN", 1000, "00", "00"))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if result.Outcome != OutcomeOrderNotFound {
		t.Fatalf("expected order_not_found, got %s", result.Outcome)
	}
	want := []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}
	if len(f.sleeps) != len(want) || f.sleeps[0] != want[0] || f.sleeps[1] != want[1] {
		t.Fatalf("expected backoff %v, got %v", want, f.sleeps)
	}
}

func TestHandleCallbackOvertakingIntentWrite(t *testing.T) {
	f := newReconciliationFixture(t)
	order := f.placeOrder(t)

	txn := domain.PaymentTransaction{
		ID:        "01LATEWRITE",
		OrderID:   order.ID,
		Provider:  payments.ProviderVNPay,
		Amount:    order.Totals.GrandTotal,
		Currency:  "VND",
		Status:    domain.PaymentStatusPending,
		CreatedAt: f.clock.Now(),
	}
	f.onSleep = func(attempt int) {
		if attempt == 1 {
			if err := f.registry.PaymentTransactions().Insert(context.Background(), txn); err != nil {
				t.Errorf("late insert: %v", err)
			}
		}
	}

	result, err := f.svc.HandleCallback(context.Background(), signedCallback(txn.ID, txn.Amount, "00", "00"))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if result.Outcome != OutcomeSuccess {
		t.Fatalf("expected success once the write became visible, got %s", result.Outcome)
	}
	if len(f.sleeps) != 1 {
		t.Fatalf("expected a single retry, got %d", len(f.sleeps))
	}
}

func TestStartPaymentReturnsRedirect(t *testing.T) {
	f := newReconciliationFixture(t)
	order := f.placeOrder(t)

	var captured payments.CheckoutSessionRequest
	var capturedCtx payments.PaymentContext
	f.manager.createFn = func(_ context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		captured = req
		capturedCtx = paymentCtx
		return payments.CheckoutSession{ID: req.Reference, RedirectURL: "https://sandbox.example/pay", ExpiresAt: f.clock.Now().Add(15 * time.Minute)}, nil
	}

	start, err := f.svc.StartPayment(context.Background(), StartPaymentCommand{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		BankCode:   "NCB",
		Locale:     "vn",
		ClientIP:   "10.0.0.7",
		ReturnURL:  "https://shop.example/return",
	})
	if err != nil {
		t.Fatalf("StartPayment: %v", err)
	}
	if start.RedirectURL != "https://sandbox.example/pay" || start.Transaction.Status != domain.PaymentStatusPending {
		t.Fatalf("unexpected start: %+v", start)
	}
	if captured.Reference != start.Transaction.ID || captured.Amount != order.Totals.GrandTotal {
		t.Fatalf("unexpected checkout request: %+v", captured)
	}
	if captured.Description != "Thanh toan don hang "+order.OrderNumber || captured.ClientIP != "10.0.0.7" {
		t.Fatalf("unexpected checkout description or ip: %+v", captured)
	}
	if capturedCtx.PreferredProvider != payments.ProviderVNPay {
		t.Fatalf("expected vnpay routing, got %s", capturedCtx.PreferredProvider)
	}
	if stored := f.transaction(t, start.Transaction.ID); stored.GatewayTxnID != "" {
		t.Fatalf("vnpay sessions reuse the merchant reference, got %s", stored.GatewayTxnID)
	}

	if _, err := f.svc.StartPayment(context.Background(), StartPaymentCommand{OrderID: order.ID, CustomerID: "someone-else"}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound for a foreign order, got %v", err)
	}
}

func TestStartPaymentGatewayFailureAbandonsIntent(t *testing.T) {
	f := newReconciliationFixture(t)
	order := f.placeOrder(t)

	var reference string
	f.manager.createFn = func(_ context.Context, _ payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error) {
		reference = req.Reference
		return payments.CheckoutSession{}, &vnpay.GatewayUnavailableError{Command: "pay", Err: context.DeadlineExceeded}
	}

	_, err := f.svc.StartPayment(context.Background(), StartPaymentCommand{OrderID: order.ID, CustomerID: order.CustomerID})
	if !errors.Is(err, vnpay.ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}
	if stored := f.transaction(t, reference); stored.Status != domain.PaymentStatusFailed {
		t.Fatalf("expected abandoned intent to be failed, got %s", stored.Status)
	}
}

func TestSweepPendingReconcilesStaleTransactions(t *testing.T) {
	f := newReconciliationFixture(t)
	ctx := context.Background()

	paid, paidTxn := f.startPayment(t)
	_, abandonedTxn := f.startPayment(t)
	_, offlineTxn := f.startPayment(t)
	f.clock.Advance(12 * time.Minute)
	_, youngTxn := f.startPayment(t)
	f.clock.Advance(20 * time.Minute)
	_, waitingTxn := f.startPayment(t)

	payDate := f.clock.Now().Add(-25 * time.Minute)
	f.manager.lookupFn = func(_ context.Context, _ payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error) {
		switch req.Reference {
		case paidTxn.ID:
			return payments.PaymentDetails{Status: payments.StatusSucceeded, Amount: paidTxn.Amount, ResponseCode: "00", IntentID: "14422600", CapturedAt: &payDate}, nil
		case offlineTxn.ID:
			return payments.PaymentDetails{}, &vnpay.GatewayUnavailableError{Command: "querydr", StatusCode: 502}
		default:
			return payments.PaymentDetails{Status: payments.StatusPending, ResponseCode: "91"}, nil
		}
	}

	report, err := f.svc.SweepPending(ctx, SweepCommand{})
	if err != nil {
		t.Fatalf("SweepPending: %v", err)
	}
	if report.Examined != 4 {
		t.Fatalf("expected four stale transactions examined, got %+v", report)
	}
	if report.Reconciled != 1 || report.Cancelled != 1 || report.Unavailable != 1 || report.StillPending != 1 {
		t.Fatalf("unexpected report: %+v", report)
	}

	if stored := f.transaction(t, paidTxn.ID); stored.Status != domain.PaymentStatusSuccess || stored.ProviderTxnNo != "14422600" {
		t.Fatalf("expected paid transaction reconciled: %+v", stored)
	}
	if stored := f.order(t, paid.ID); stored.Status != domain.OrderStatusConfirmed {
		t.Fatalf("expected order confirmed by sweep, got %s", stored.Status)
	}
	if stored := f.transaction(t, abandonedTxn.ID); stored.Status != domain.PaymentStatusCancelled {
		t.Fatalf("expected abandoned transaction cancelled, got %s", stored.Status)
	}
	for _, id := range []string{offlineTxn.ID, youngTxn.ID, waitingTxn.ID} {
		if stored := f.transaction(t, id); stored.Status != domain.PaymentStatusPending {
			t.Fatalf("expected %s to stay pending, got %s", id, stored.Status)
		}
	}
}

func TestRequestRefund(t *testing.T) {
	f := newReconciliationFixture(t)
	ctx := context.Background()
	_, txn := f.startPayment(t)

	if _, err := f.svc.RequestRefund(ctx, RefundCommand{TransactionID: txn.ID}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected pending transaction refund to fail, got %v", err)
	}

	if _, err := f.svc.HandleCallback(ctx, signedCallback(txn.ID, txn.Amount, "00", "00")); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}

	partial := txn.Amount / 2
	var captured payments.RefundRequest
	f.manager.refundFn = func(_ context.Context, _ payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error) {
		captured = req
		return payments.PaymentDetails{Status: payments.StatusRefunded, ResponseCode: "00"}, nil
	}

	tooMuch := txn.Amount + 1
	if _, err := f.svc.RequestRefund(ctx, RefundCommand{TransactionID: txn.ID, Amount: &tooMuch}); !errors.Is(err, ErrPaymentInvalidInput) {
		t.Fatalf("expected over-refund to be rejected, got %v", err)
	}

	refunded, err := f.svc.RequestRefund(ctx, RefundCommand{TransactionID: txn.ID, Amount: &partial, Reason: "damaged disc", ActorID: "admin-1"})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if refunded.Status != domain.PaymentStatusRefunded || refunded.RefundedAt == nil {
		t.Fatalf("unexpected refunded transaction: %+v", refunded)
	}
	if captured.CapturedAmount != txn.Amount || captured.Amount == nil || *captured.Amount != partial || captured.IntentID != "14422574" {
		t.Fatalf("unexpected refund request: %+v", captured)
	}
	if !captured.InitiatedAt.Equal(txn.CreatedAt) || captured.Actor != "admin-1" {
		t.Fatalf("unexpected refund request metadata: %+v", captured)
	}
	if n := f.events.count(paymentEventRefunded); n != 1 {
		t.Fatalf("expected a refund event, got %d", n)
	}

	f.manager.refundFn = func(context.Context, payments.PaymentContext, payments.RefundRequest) (payments.PaymentDetails, error) {
		return payments.PaymentDetails{}, errors.New("should not be called")
	}
	if _, err := f.svc.RequestRefund(ctx, RefundCommand{TransactionID: txn.ID}); !errors.Is(err, ErrPaymentInvalidState) {
		t.Fatalf("expected refunded transaction to refuse a second refund, got %v", err)
	}
}

func TestCustomerMessageForOutcomes(t *testing.T) {
	f := newReconciliationFixture(t)

	if msg := f.svc.CustomerMessage(ReconciliationResult{Outcome: OutcomeAlreadyProcessed}, "en"); msg != "Transaction already processed" {
		t.Fatalf("unexpected message %q", msg)
	}
	if msg := f.svc.CustomerMessage(ReconciliationResult{Outcome: OutcomeInvalidSignature}, "vn"); msg != "Chữ ký không hợp lệ" {
		t.Fatalf("unexpected message %q", msg)
	}
}
