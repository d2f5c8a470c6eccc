package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mediashop/api/internal/payments/vnpay"
)

type vnpayGateway interface {
	InitiatePayment(ctx context.Context, req vnpay.PaymentRequest) (vnpay.PaymentRedirect, error)
	QueryStatus(ctx context.Context, req vnpay.QueryRequest) (vnpay.QueryResult, error)
	RequestRefund(ctx context.Context, req vnpay.RefundRequest) (vnpay.RefundResult, error)
}

// VNPayProvider adapts the VNPay redirect gateway to the Provider contract.
type VNPayProvider struct {
	gateway vnpayGateway
}

// NewVNPayProvider wraps a VNPay client.
func NewVNPayProvider(gateway vnpayGateway) (*VNPayProvider, error) {
	if gateway == nil {
		return nil, errors.New("vnpay: gateway client is required")
	}
	return &VNPayProvider{gateway: gateway}, nil
}

// CreateCheckoutSession builds the signed redirect. The merchant reference becomes vnp_TxnRef.
func (p *VNPayProvider) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (CheckoutSession, error) {
	if p == nil {
		return CheckoutSession{}, errors.New("vnpay: provider is nil")
	}
	if currency := strings.ToUpper(strings.TrimSpace(req.Currency)); currency != "" && currency != "VND" {
		return CheckoutSession{}, fmt.Errorf("%w: vnpay only settles VND, got %s", ErrUnsupportedProvider, currency)
	}
	redirect, err := p.gateway.InitiatePayment(ctx, vnpay.PaymentRequest{
		TxnRef:    req.Reference,
		Amount:    req.Amount,
		OrderInfo: req.Description,
		BankCode:  req.BankCode,
		Locale:    req.Locale,
		IPAddr:    req.ClientIP,
		ReturnURL: req.SuccessURL,
	})
	if err != nil {
		return CheckoutSession{}, err
	}
	return CheckoutSession{
		ID:          redirect.TxnRef,
		Provider:    ProviderVNPay,
		RedirectURL: redirect.URL,
		ExpiresAt:   redirect.ExpiresAt,
		Raw: map[string]any{
			"createdAt": redirect.CreatedAt,
		},
	}, nil
}

// LookupPayment issues querydr. A reference the gateway does not know yet is reported as pending.
func (p *VNPayProvider) LookupPayment(ctx context.Context, req LookupRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("vnpay: provider is nil")
	}
	result, err := p.gateway.QueryStatus(ctx, vnpay.QueryRequest{
		TxnRef:          req.Reference,
		TransactionDate: req.InitiatedAt,
	})
	if err != nil {
		return PaymentDetails{}, err
	}

	details := PaymentDetails{
		Provider:     ProviderVNPay,
		Reference:    req.Reference,
		IntentID:     result.TransactionNo,
		Status:       vnpayStatus(result),
		Amount:       result.Amount,
		Currency:     "VND",
		BankCode:     result.BankCode,
		ResponseCode: result.ResponseCode,
		Raw: map[string]any{
			"responseCode":      result.ResponseCode,
			"transactionStatus": result.TransactionStatus,
			"message":           result.Message,
		},
	}
	if details.Status == StatusSucceeded || details.Status == StatusRefunded {
		details.Captured = true
		details.CapturedAt = result.PayDate
	}
	return details, nil
}

// Refund issues a full refund when Amount is nil or covers the captured amount, else a partial one.
func (p *VNPayProvider) Refund(ctx context.Context, req RefundRequest) (PaymentDetails, error) {
	if p == nil {
		return PaymentDetails{}, errors.New("vnpay: provider is nil")
	}
	amount := req.CapturedAmount
	partial := false
	if req.Amount != nil && *req.Amount < req.CapturedAmount {
		amount = *req.Amount
		partial = true
	}
	result, err := p.gateway.RequestRefund(ctx, vnpay.RefundRequest{
		TxnRef:          req.Reference,
		Amount:          amount,
		Partial:         partial,
		TransactionNo:   req.IntentID,
		TransactionDate: req.InitiatedAt,
		CreateBy:        req.Actor,
		OrderInfo:       req.Reason,
	})
	if err != nil {
		return PaymentDetails{}, err
	}
	if !result.Accepted() {
		return PaymentDetails{}, fmt.Errorf("%w: vnpay code %s: %s", ErrRefundRejected, result.ResponseCode, vnpay.CommandMessage(result.ResponseCode, "en"))
	}
	return PaymentDetails{
		Provider:     ProviderVNPay,
		Reference:    req.Reference,
		IntentID:     req.IntentID,
		Status:       StatusRefunded,
		Amount:       amount,
		Currency:     "VND",
		ResponseCode: result.ResponseCode,
		Captured:     true,
	}, nil
}

func vnpayStatus(result vnpay.QueryResult) Status {
	if result.ResponseCode != vnpay.ResponseCodeSuccess {
		return StatusPending
	}
	switch result.TransactionStatus {
	case "00", "09":
		return StatusSucceeded
	case "01":
		return StatusPending
	case "04", "05", "06":
		return StatusRefunded
	default:
		return StatusFailed
	}
}
