package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/text/language"

	"github.com/mediashop/api/internal/payments/vnpay"
	"github.com/mediashop/api/internal/platform/httpx"
	"github.com/mediashop/api/internal/platform/observability"
	"github.com/mediashop/api/internal/platform/requestctx"
	"github.com/mediashop/api/internal/services"
)

// Gateway acknowledgement codes for the IPN endpoint.
const (
	ipnConfirmed        = "00"
	ipnOrderNotFound    = "01"
	ipnAlreadyConfirmed = "02"
	ipnInvalidAmount    = "04"
	ipnInvalidSignature = "97"
	ipnUnknownError     = "99"
)

var ipnMessages = map[string]string{
	ipnConfirmed:        "Confirm Success",
	ipnOrderNotFound:    "Order not found",
	ipnAlreadyConfirmed: "Order already confirmed",
	ipnInvalidAmount:    "Invalid amount",
	ipnInvalidSignature: "Invalid signature",
	ipnUnknownError:     "Unknown error",
}

var returnLocales = language.NewMatcher([]language.Tag{language.Vietnamese, language.English})

// WebhookHandlers receives VNPay server notifications and browser returns.
type WebhookHandlers struct {
	payments services.PaymentReconciliationService
}

// NewWebhookHandlers constructs the webhook handlers.
func NewWebhookHandlers(payments services.PaymentReconciliationService) *WebhookHandlers {
	return &WebhookHandlers{payments: payments}
}

// Routes registers the /webhooks endpoints.
func (h *WebhookHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/vnpay/ipn", h.vnpayIPN)
	r.Post("/vnpay/ipn", h.vnpayIPN)
	r.Get("/vnpay/return", h.vnpayReturn)
	r.Post("/vnpay/return", h.vnpayReturn)
}

// callbackFields reads the gateway parameters from the query string or a form-encoded body.
// Body values win when a key appears in both.
func callbackFields(w http.ResponseWriter, r *http.Request) (map[string]string, error) {
	if r.Body != nil {
		r.Body = http.MaxBytesReader(w, r.Body, defaultBodyLimit)
	}
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	return vnpay.FieldsFromValues(r.Form), nil
}

type ipnResponse struct {
	RspCode string `json:"RspCode"`
	Message string `json:"Message"`
}

// vnpayIPN always answers 200; the gateway reads the verdict from RspCode and retries otherwise.
func (h *WebhookHandlers) vnpayIPN(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		writeIPN(w, ipnUnknownError)
		return
	}
	fields, err := callbackFields(w, r)
	if err != nil {
		logWebhookFailure(ctx, services.ReconciliationResult{}, err)
		writeIPN(w, ipnUnknownError)
		return
	}
	result, err := h.payments.HandleCallback(ctx, fields)
	code := ipnCode(result, err)
	if code == ipnUnknownError {
		logWebhookFailure(ctx, result, err)
	}
	writeIPN(w, code)
}

type returnResponse struct {
	Success       bool   `json:"success"`
	Outcome       string `json:"outcome"`
	OrderID       string `json:"order_id,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	ResponseCode  string `json:"response_code,omitempty"`
	Message       string `json:"message"`
}

func (h *WebhookHandlers) vnpayReturn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}
	locale := preferredLocale(r.Header.Get("Accept-Language"))
	fields, err := callbackFields(w, r)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "malformed callback parameters", http.StatusBadRequest))
		return
	}
	result, err := h.payments.HandleCallback(ctx, fields)
	if err != nil && !errors.Is(err, vnpay.ErrInvalidSignature) {
		logWebhookFailure(ctx, result, err)
		writePaymentError(ctx, w, err)
		return
	}

	status := http.StatusOK
	if result.Outcome == services.OutcomeInvalidSignature {
		status = http.StatusBadRequest
	}
	writeJSONResponse(w, status, returnResponse{
		Success:       result.Outcome == services.OutcomeSuccess,
		Outcome:       string(result.Outcome),
		OrderID:       result.OrderID,
		TransactionID: result.TransactionID,
		ResponseCode:  result.ResponseCode,
		Message:       h.payments.CustomerMessage(result, locale),
	})
}

func ipnCode(result services.ReconciliationResult, err error) string {
	if result.Outcome == services.OutcomeInvalidSignature || errors.Is(err, vnpay.ErrInvalidSignature) {
		return ipnInvalidSignature
	}
	if err != nil {
		return ipnUnknownError
	}
	switch result.Outcome {
	case services.OutcomeSuccess, services.OutcomeFailed:
		return ipnConfirmed
	case services.OutcomeAlreadyProcessed, services.OutcomeTransitionRejected:
		return ipnAlreadyConfirmed
	case services.OutcomeOrderNotFound:
		return ipnOrderNotFound
	case services.OutcomeAmountMismatch:
		return ipnInvalidAmount
	default:
		return ipnUnknownError
	}
}

func writeIPN(w http.ResponseWriter, code string) {
	writeJSONResponse(w, http.StatusOK, ipnResponse{RspCode: code, Message: ipnMessages[code]})
}

// preferredLocale maps an Accept-Language header onto the "en"/"vn" pair the gateway texts use.
func preferredLocale(header string) string {
	tags, _, err := language.ParseAcceptLanguage(strings.TrimSpace(header))
	if err != nil || len(tags) == 0 {
		return "vn"
	}
	tag, _, _ := returnLocales.Match(tags...)
	if base, _ := tag.Base(); base.String() == "en" {
		return "en"
	}
	return "vn"
}

func logWebhookFailure(ctx context.Context, result services.ReconciliationResult, err error) {
	fields := []any{"outcome", string(result.Outcome), "txnRef", observability.SanitizeReference(result.TransactionID)}
	if err != nil {
		fields = append(fields, "error", err.Error())
	}
	requestctx.Logger(ctx).Sugar().Warnw("vnpay callback not applied", fields...)
}
