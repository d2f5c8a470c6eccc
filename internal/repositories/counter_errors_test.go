package repositories

import (
	"errors"
	"fmt"
	"testing"
)

func TestOrderNumberCounterID(t *testing.T) {
	if got := OrderNumberCounterID(2026); got != "orders-2026" {
		t.Fatalf("unexpected counter id %s", got)
	}
	if OrderNumberCounterID(2026) == OrderNumberCounterID(2027) {
		t.Fatalf("expected distinct counters per year")
	}
}

func TestCounterErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("place order: %w", NewCounterError("orders-2026", CounterErrorExhausted, "exceeded max value 999999"))

	if !errors.Is(err, ErrCounterExhausted) {
		t.Fatalf("expected exhausted match for %v", err)
	}
	if errors.Is(err, ErrCounterInvalidInput) {
		t.Fatalf("did not expect invalid input match")
	}
	if got := err.Error(); got != "place order: counter orders-2026: exceeded max value 999999" {
		t.Fatalf("unexpected message %q", got)
	}

	var counterErr *CounterError
	if !errors.As(err, &counterErr) || counterErr.Counter != "orders-2026" {
		t.Fatalf("expected typed counter error, got %#v", counterErr)
	}
}

func TestCounterErrorDefaultsMessageToCode(t *testing.T) {
	err := NewCounterError("", CounterErrorInvalidInput, "")
	if err.Error() != string(CounterErrorInvalidInput) {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
