package vnpay

import (
	"strings"
	"testing"
)

func TestCanonicalizeSortsAndDropsEmpty(t *testing.T) {
	got := Canonicalize(map[string]string{
		"vnp_TxnRef":   "01J",
		"vnp_Amount":   "1000000",
		"vnp_BankCode": "",
		"vnp_Command":  "pay",
	})
	want := "vnp_Amount=1000000&vnp_Command=pay&vnp_TxnRef=01J"
	if got != want {
		t.Fatalf("Canonicalize = %q, want %q", got, want)
	}
}

func TestEncodeQueryEscapesValues(t *testing.T) {
	got := EncodeQuery(map[string]string{
		"vnp_OrderInfo": "Thanh toan don hang 1",
		"vnp_ReturnUrl": "https://shop.example/return?x=1",
	})
	want := "vnp_OrderInfo=Thanh+toan+don+hang+1&vnp_ReturnUrl=https%3A%2F%2Fshop.example%2Freturn%3Fx%3D1"
	if got != want {
		t.Fatalf("EncodeQuery = %q, want %q", got, want)
	}
}

func TestSignProducesLowercaseHex(t *testing.T) {
	sig := Sign("secret", "a=1")
	if len(sig) != 128 {
		t.Fatalf("expected 128 hex chars, got %d", len(sig))
	}
	if sig != strings.ToLower(sig) {
		t.Fatalf("expected lowercase signature, got %q", sig)
	}
	if Sign("secret", "a=1") != sig {
		t.Fatalf("signature must be deterministic")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	cases := []map[string]string{
		{"vnp_Amount": "5000000", "vnp_TxnRef": "T1"},
		{"vnp_OrderInfo": "Thanh toan", "vnp_ResponseCode": "00", "vnp_BankCode": "NCB", "vnp_Empty": ""},
		{"z": "1", "a": "2", "m": "&="},
	}
	for _, fields := range cases {
		sig := Sign("s3cr3t", Canonicalize(fields))
		if !Verify("s3cr3t", fields, sig) {
			t.Fatalf("verify failed for %v", fields)
		}
		if !Verify("s3cr3t", fields, strings.ToUpper(sig)) {
			t.Fatalf("verify must accept uppercase hex for %v", fields)
		}
	}
}

func TestVerifyIgnoresHashFields(t *testing.T) {
	fields := map[string]string{"vnp_Amount": "100", "vnp_TxnRef": "T1"}
	sig := Sign("k", Canonicalize(fields))
	fields[FieldSecureHash] = sig
	fields[FieldSecureHashType] = "HmacSHA512"
	if !Verify("k", fields, sig) {
		t.Fatalf("hash fields must be excluded from the signed input")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	fields := map[string]string{"vnp_Amount": "5000000", "vnp_TxnRef": "T1", "vnp_ResponseCode": "00"}
	sig := Sign("k", Canonicalize(fields))

	tampered := map[string]string{"vnp_Amount": "5000001", "vnp_TxnRef": "T1", "vnp_ResponseCode": "00"}
	if Verify("k", tampered, sig) {
		t.Fatalf("expected tampered amount to fail verification")
	}
	if Verify("other", fields, sig) {
		t.Fatalf("expected wrong secret to fail verification")
	}
	if Verify("k", fields, "") {
		t.Fatalf("expected empty signature to fail verification")
	}
}

func TestPipeJoinKeepsOrder(t *testing.T) {
	if got := PipeJoin("b", "", "a"); got != "b||a" {
		t.Fatalf("PipeJoin = %q", got)
	}
}

func TestResponseMessageFallsBackToUnknown(t *testing.T) {
	if got := ResponseMessage("24", "en"); got != "Transaction cancelled by customer" {
		t.Fatalf("unexpected english message %q", got)
	}
	if got := ResponseMessage("24", "vi"); got != "Khách hàng hủy giao dịch" {
		t.Fatalf("unexpected vietnamese message %q", got)
	}
	if got := ResponseMessage("xx", "en"); got != "Unknown error" {
		t.Fatalf("unexpected fallback %q", got)
	}
	if !IsSuccess("00", "") || !IsSuccess("00", "00") || IsSuccess("00", "02") || IsSuccess("24", "00") {
		t.Fatalf("IsSuccess mismatch")
	}
}
