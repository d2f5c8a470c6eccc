package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mediashop/api/internal/platform/auth"
	"github.com/mediashop/api/internal/platform/httpx"
	"github.com/mediashop/api/internal/platform/requestctx"
	"github.com/mediashop/api/internal/services"
)

const maxSweepLimit = 500

// InternalHandlers serves scheduler-triggered maintenance endpoints. Authentication is applied
// by the router through the OIDC middleware.
type InternalHandlers struct {
	payments services.PaymentReconciliationService
	defaults services.SweepCommand
}

// NewInternalHandlers constructs the internal handlers. defaults fill fields the caller omits.
func NewInternalHandlers(payments services.PaymentReconciliationService, defaults services.SweepCommand) *InternalHandlers {
	return &InternalHandlers{payments: payments, defaults: defaults}
}

// Routes registers the /internal endpoints.
func (h *InternalHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/payments:sweep", h.sweepPayments)
}

type sweepRequest struct {
	OlderThan string `json:"older_than"`
	Limit     int    `json:"limit"`
	Provider  string `json:"provider"`
}

type sweepResponse struct {
	Examined     int            `json:"examined"`
	Reconciled   int            `json:"reconciled"`
	Cancelled    int            `json:"cancelled"`
	StillPending int            `json:"still_pending"`
	Unavailable  int            `json:"unavailable"`
	Errors       int            `json:"errors"`
	Outcomes     map[string]int `json:"outcomes,omitempty"`
}

func (h *InternalHandlers) sweepPayments(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.payments == nil {
		serviceUnavailable(ctx, w, "payment")
		return
	}

	var req sweepRequest
	if !decodeJSONBody(ctx, w, r, maxOrderSmallBody, true, &req) {
		return
	}

	cmd := h.defaults
	if raw := strings.TrimSpace(req.OlderThan); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "older_than must be a positive duration", http.StatusBadRequest))
			return
		}
		cmd.OlderThan = d
	}
	if req.Limit < 0 || req.Limit > maxSweepLimit {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "limit must be between 1 and 500", http.StatusBadRequest))
		return
	}
	if req.Limit > 0 {
		cmd.Limit = req.Limit
	}
	if provider := strings.TrimSpace(req.Provider); provider != "" {
		cmd.Provider = strings.ToLower(provider)
	}

	report, err := h.payments.SweepPending(ctx, cmd)
	if err != nil {
		writePaymentError(ctx, w, err)
		return
	}

	caller := "unknown"
	if identity, ok := auth.ServiceIdentityFromContext(ctx); ok {
		caller = identity.Email
	}
	requestctx.Logger(ctx).Sugar().Infow("payment sweep finished",
		"caller", caller,
		"examined", report.Examined,
		"reconciled", report.Reconciled,
		"cancelled", report.Cancelled,
	)

	resp := sweepResponse{
		Examined:     report.Examined,
		Reconciled:   report.Reconciled,
		Cancelled:    report.Cancelled,
		StillPending: report.StillPending,
		Unavailable:  report.Unavailable,
		Errors:       report.Errors,
	}
	if len(report.Outcomes) > 0 {
		resp.Outcomes = make(map[string]int, len(report.Outcomes))
		for outcome, count := range report.Outcomes {
			resp.Outcomes[string(outcome)] = count
		}
	}
	writeJSONResponse(w, http.StatusOK, resp)
}
