package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/mediashop/api/internal/services"
)

func TestInternalHandlersSweepAppliesDefaults(t *testing.T) {
	var captured services.SweepCommand
	payments := &stubPaymentService{
		sweepFunc: func(_ context.Context, cmd services.SweepCommand) (services.SweepReport, error) {
			captured = cmd
			return services.SweepReport{
				Examined:     3,
				Reconciled:   1,
				Cancelled:    1,
				StillPending: 1,
				Outcomes: map[services.ReconciliationOutcome]int{
					services.OutcomeSuccess: 1,
					services.OutcomeFailed:  1,
				},
			}, nil
		},
	}
	defaults := services.SweepCommand{OlderThan: 15 * time.Minute, Limit: 100, Provider: "vnpay"}
	router := NewRouter(WithInternalRoutes(NewInternalHandlers(payments, defaults).Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments:sweep", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured != defaults {
		t.Fatalf("expected defaults %+v, got %+v", defaults, captured)
	}

	var resp sweepResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Examined != 3 || resp.StillPending != 1 {
		t.Fatalf("unexpected report %+v", resp)
	}
	if resp.Outcomes["success"] != 1 || resp.Outcomes["failed"] != 1 {
		t.Fatalf("unexpected outcomes %+v", resp.Outcomes)
	}
}

func TestInternalHandlersSweepOverrides(t *testing.T) {
	var captured services.SweepCommand
	payments := &stubPaymentService{
		sweepFunc: func(_ context.Context, cmd services.SweepCommand) (services.SweepReport, error) {
			captured = cmd
			return services.SweepReport{}, nil
		},
	}
	router := NewRouter(WithInternalRoutes(NewInternalHandlers(payments, services.SweepCommand{OlderThan: 15 * time.Minute, Limit: 100}).Routes))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments:sweep", strings.NewReader(`{"older_than":"1h","limit":20,"provider":"VNPay"}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.OlderThan != time.Hour || captured.Limit != 20 || captured.Provider != "vnpay" {
		t.Fatalf("unexpected sweep command %+v", captured)
	}
}

func TestInternalHandlersSweepRejectsBadInput(t *testing.T) {
	payments := &stubPaymentService{
		sweepFunc: func(context.Context, services.SweepCommand) (services.SweepReport, error) {
			t.Fatal("expected sweep not to run")
			return services.SweepReport{}, nil
		},
	}
	router := NewRouter(WithInternalRoutes(NewInternalHandlers(payments, services.SweepCommand{}).Routes))

	for _, body := range []string{
		`{"limit":501}`,
		`{"limit":-1}`,
		`{"older_than":"soon"}`,
		`{"older_than":"-5m"}`,
		`{"batch":10}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/internal/payments:sweep", strings.NewReader(body))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		if rr.Code != http.StatusBadRequest {
			t.Fatalf("body %s: expected status 400, got %d", body, rr.Code)
		}
	}
}
