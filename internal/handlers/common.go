package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mediashop/api/internal/payments/vnpay"
	"github.com/mediashop/api/internal/platform/auth"
	"github.com/mediashop/api/internal/platform/httpx"
	"github.com/mediashop/api/internal/platform/observability"
	"github.com/mediashop/api/internal/platform/pagination"
	"github.com/mediashop/api/internal/platform/requestctx"
	"github.com/mediashop/api/internal/services"
)

const defaultBodyLimit = 64 * 1024

var (
	errBodyTooLarge = errors.New("request body too large")
	errEmptyBody    = errors.New("request body is required")
)

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = defaultBodyLimit
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	return data, nil
}

// decodeJSONBody reads a bounded JSON body into dst. Unknown fields are rejected. When optional is
// true an empty body leaves dst untouched.
func decodeJSONBody(ctx context.Context, w http.ResponseWriter, r *http.Request, limit int64, optional bool, dst any) bool {
	body, err := readLimitedBody(r, limit)
	switch {
	case errors.Is(err, errEmptyBody) && optional:
		return true
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		return false
	case err != nil:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return false
	}
	decoder := json.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", fmt.Sprintf("invalid JSON body: %v", err), http.StatusBadRequest))
		return false
	}
	return true
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func clientIP(r *http.Request) string {
	if ip := requestctx.ClientIP(r.Context()); ip != "" {
		return ip
	}
	return observability.ClientIP(r)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePointer(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func writeOrderError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	var lineErr *services.InvalidOrderLineError
	var transitionErr *services.InvalidTransitionError
	switch {
	case errors.As(err, &lineErr):
		details := map[string]any{"reason": lineErr.Reason}
		if lineErr.Index >= 0 {
			details["index"] = lineErr.Index
		}
		if lineErr.ProductID != "" {
			details["product_id"] = lineErr.ProductID
		}
		httpx.WriteError(ctx, w, httpx.NewError("invalid_order_line", err.Error(), http.StatusBadRequest).WithDetails(details))
	case errors.As(err, &transitionErr):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict).WithDetails(map[string]any{
			"from": string(transitionErr.From),
			"to":   string(transitionErr.To),
		}))
	case errors.Is(err, services.ErrProductUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("product_unavailable", err.Error(), http.StatusUnprocessableEntity))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrRushNotAvailable), errors.Is(err, pagination.ErrInvalidPageToken):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("order_invalid_state", err.Error(), http.StatusConflict))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("order_error", "failed to process order request", http.StatusInternalServerError))
	}
}

func writePaymentError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrPaymentInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrPaymentNotFound), errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("payment_not_found", "payment or order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPaymentInvalidState), errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("payment_invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrPaymentConflict), errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("payment_conflict", err.Error(), http.StatusConflict))
	case errors.Is(err, vnpay.ErrGatewayUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("payment_gateway_unavailable", "payment gateway unavailable", http.StatusServiceUnavailable).WithRetryAfter(30*time.Second))
	case errors.Is(err, services.ErrPaymentProviderFailed):
		httpx.WriteError(ctx, w, httpx.NewError("payment_provider_failed", "payment provider rejected the request", http.StatusBadGateway))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("payment_error", "failed to process payment request", http.StatusInternalServerError))
	}
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "failed to process catalog request", http.StatusInternalServerError))
	}
}

func serviceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError(name+"_service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
