package vnpay_test

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mediashop/api/internal/payments/vnpay"
	"github.com/mediashop/api/internal/payments/vnpay/vnpaytest"
)

const (
	testTmnCode = "MEDIASHOP"
	testSecret  = "sandbox-secret"
)

var fixedNow = time.Date(2025, 3, 1, 3, 0, 0, 0, time.UTC)

func newClient(t *testing.T, apiURL string, timeout time.Duration) *vnpay.Client {
	t.Helper()
	client, err := vnpay.NewClient(vnpay.Config{
		TmnCode:    testTmnCode,
		HashSecret: testSecret,
		PayURL:     "https://sandbox.example/paymentv2/vpcpay.html",
		APIURL:     apiURL,
		ReturnURL:  "https://shop.example/api/v1/webhooks/vnpay/return",
		Timeout:    timeout,
		Clock:      func() time.Time { return fixedNow },
		RequestID:  func() string { return "REQ1" },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresCredentials(t *testing.T) {
	if _, err := vnpay.NewClient(vnpay.Config{TmnCode: "x"}); err == nil {
		t.Fatalf("expected error for missing secret and pay url")
	}
}

func TestInitiatePaymentBuildsSignedURL(t *testing.T) {
	client := newClient(t, "", 0)
	redirect, err := client.InitiatePayment(context.Background(), vnpay.PaymentRequest{
		TxnRef:    "01JTXN",
		Amount:    137500,
		OrderInfo: "Thanh toán đơn hàng MS-2025-000001",
		IPAddr:    "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("InitiatePayment: %v", err)
	}

	parsed, err := url.Parse(redirect.URL)
	if err != nil {
		t.Fatalf("parse redirect: %v", err)
	}
	q := parsed.Query()
	if got := q.Get("vnp_Amount"); got != "13750000" {
		t.Fatalf("expected amount x100, got %q", got)
	}
	if got := q.Get("vnp_CreateDate"); got != "20250301100000" {
		t.Fatalf("expected UTC+7 create date, got %q", got)
	}
	if got := q.Get("vnp_ExpireDate"); got != "20250301101500" {
		t.Fatalf("expected 15 minute expiry, got %q", got)
	}
	if got := q.Get("vnp_OrderInfo"); got != "Thanh toan don hang MS-2025-000001" {
		t.Fatalf("expected ascii order info, got %q", got)
	}
	if got := q.Get("vnp_Version"); got != "2.1.0" {
		t.Fatalf("unexpected version %q", got)
	}
	if q.Get("vnp_BankCode") != "" {
		t.Fatalf("empty bank code must be omitted")
	}

	fields := vnpay.FieldsFromValues(q)
	if !vnpay.Verify(testSecret, fields, fields[vnpay.FieldSecureHash]) {
		t.Fatalf("pay url signature does not verify over its own fields")
	}
	unsigned := make(map[string]string, len(redirect.Fields))
	for key, value := range redirect.Fields {
		if key != vnpay.FieldSecureHash {
			unsigned[key] = value
		}
	}
	if !strings.Contains(unsigned["vnp_OrderInfo"], " ") {
		t.Fatalf("expected order info with spaces, got %q", unsigned["vnp_OrderInfo"])
	}
	if vnpay.Sign(testSecret, vnpay.Canonicalize(unsigned)) != q.Get(vnpay.FieldSecureHash) {
		t.Fatalf("signature must cover the raw canonical fields")
	}
	if !redirect.ExpiresAt.Equal(fixedNow.Add(15 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", redirect.ExpiresAt)
	}
}

func TestInitiatePaymentValidatesInput(t *testing.T) {
	client := newClient(t, "", 0)
	if _, err := client.InitiatePayment(context.Background(), vnpay.PaymentRequest{Amount: 10}); err == nil {
		t.Fatalf("expected error for missing txn ref")
	}
	if _, err := client.InitiatePayment(context.Background(), vnpay.PaymentRequest{TxnRef: "x"}); err == nil {
		t.Fatalf("expected error for zero amount")
	}
}

func TestParseCallbackVerifiesAndDecodes(t *testing.T) {
	sandbox := vnpaytest.NewServer(testTmnCode, testSecret)
	defer sandbox.Close()
	client := newClient(t, sandbox.URL(), 0)

	paidAt := time.Date(2025, 3, 1, 3, 5, 0, 0, time.UTC)
	fields := sandbox.CallbackFields(vnpaytest.Transaction{
		TxnRef:            "01JTXN",
		Amount:            137500,
		TransactionNo:     "14000001",
		BankCode:          "NCB",
		PayDate:           paidAt,
		ResponseCode:      "00",
		TransactionStatus: "00",
	})

	cb, err := client.ParseCallback(fields)
	if err != nil {
		t.Fatalf("ParseCallback: %v", err)
	}
	if cb.Amount != 137500 || cb.TxnRef != "01JTXN" || cb.TransactionNo != "14000001" {
		t.Fatalf("unexpected callback %+v", cb)
	}
	if cb.PayDate == nil || !cb.PayDate.Equal(paidAt) {
		t.Fatalf("unexpected pay date %v", cb.PayDate)
	}
	if !cb.Succeeded() {
		t.Fatalf("expected success")
	}

	fields["vnp_Amount"] = "1"
	_, err = client.ParseCallback(fields)
	var sigErr *vnpay.InvalidSignatureError
	if !errors.As(err, &sigErr) || !errors.Is(err, vnpay.ErrInvalidSignature) {
		t.Fatalf("expected invalid signature error, got %v", err)
	}
}

func TestQueryStatusAgainstSandbox(t *testing.T) {
	sandbox := vnpaytest.NewServer(testTmnCode, testSecret)
	defer sandbox.Close()
	client := newClient(t, sandbox.URL(), 0)

	sandbox.Put(vnpaytest.Transaction{
		TxnRef:            "01JTXN",
		Amount:            137500,
		TransactionNo:     "14000001",
		BankCode:          "NCB",
		PayDate:           fixedNow,
		ResponseCode:      "00",
		TransactionStatus: "00",
	})

	result, err := client.QueryStatus(context.Background(), vnpay.QueryRequest{
		TxnRef:          "01JTXN",
		TransactionDate: fixedNow,
	})
	if err != nil {
		t.Fatalf("QueryStatus: %v", err)
	}
	if !result.Succeeded() || result.Amount != 137500 || result.TransactionNo != "14000001" {
		t.Fatalf("unexpected result %+v", result)
	}

	requests := sandbox.Requests()
	if len(requests) != 1 || requests[0]["vnp_Command"] != "querydr" || requests[0]["vnp_RequestId"] != "REQ1" {
		t.Fatalf("unexpected requests %v", requests)
	}

	missing, err := client.QueryStatus(context.Background(), vnpay.QueryRequest{TxnRef: "nope", TransactionDate: fixedNow})
	if err != nil {
		t.Fatalf("QueryStatus missing: %v", err)
	}
	if missing.ResponseCode != "91" || missing.Succeeded() {
		t.Fatalf("expected not found response, got %+v", missing)
	}
}

func TestRequestRefundAgainstSandbox(t *testing.T) {
	sandbox := vnpaytest.NewServer(testTmnCode, testSecret)
	defer sandbox.Close()
	client := newClient(t, sandbox.URL(), 0)

	sandbox.Put(vnpaytest.Transaction{
		TxnRef:            "01JTXN",
		Amount:            137500,
		TransactionNo:     "14000001",
		PayDate:           fixedNow,
		ResponseCode:      "00",
		TransactionStatus: "00",
	})

	result, err := client.RequestRefund(context.Background(), vnpay.RefundRequest{
		TxnRef:          "01JTXN",
		Amount:          137500,
		TransactionNo:   "14000001",
		TransactionDate: fixedNow,
		CreateBy:        "staff-1",
	})
	if err != nil {
		t.Fatalf("RequestRefund: %v", err)
	}
	if !result.Accepted() || result.Amount != 137500 || result.TransactionType != vnpay.RefundTypeFull {
		t.Fatalf("unexpected refund result %+v", result)
	}
	if tx, _ := sandbox.Get("01JTXN"); tx.TransactionStatus != "05" {
		t.Fatalf("expected sandbox to record refund, got %q", tx.TransactionStatus)
	}
}

func TestGatewayFailuresAreUnavailable(t *testing.T) {
	sandbox := vnpaytest.NewServer(testTmnCode, testSecret)
	defer sandbox.Close()

	t.Run("http status", func(t *testing.T) {
		sandbox.RespondWithStatus(502)
		defer sandbox.RespondWithStatus(0)
		client := newClient(t, sandbox.URL(), 0)
		_, err := client.QueryStatus(context.Background(), vnpay.QueryRequest{TxnRef: "x", TransactionDate: fixedNow})
		var unavailable *vnpay.GatewayUnavailableError
		if !errors.As(err, &unavailable) || unavailable.StatusCode != 502 {
			t.Fatalf("expected gateway unavailable with status, got %v", err)
		}
	})

	t.Run("timeout", func(t *testing.T) {
		sandbox.Delay(500 * time.Millisecond)
		defer sandbox.Delay(0)
		client := newClient(t, sandbox.URL(), 50*time.Millisecond)
		_, err := client.QueryStatus(context.Background(), vnpay.QueryRequest{TxnRef: "x", TransactionDate: fixedNow})
		if !errors.Is(err, vnpay.ErrGatewayUnavailable) {
			t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
		}
	})
}
