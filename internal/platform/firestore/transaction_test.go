package firestore

import (
	"context"
	"errors"
	"testing"
)

func TestTxFromContextWithoutTransaction(t *testing.T) {
	if _, ok := TxFromContext(context.Background()); ok {
		t.Fatalf("expected no transaction on a bare context")
	}
}

func TestTxObservedVersions(t *testing.T) {
	tx := &Tx{versions: make(map[string]int64)}
	if _, ok := tx.ObservedVersion("orders/ord_1"); ok {
		t.Fatalf("expected no observation before a read")
	}
	tx.ObserveVersion("orders/ord_1", 3)
	tx.ObserveVersion("orders/ord_1", 4)
	if version, ok := tx.ObservedVersion("orders/ord_1"); !ok || version != 4 {
		t.Fatalf("expected latest observation 4, got %d (%v)", version, ok)
	}
}

func TestRunInContextJoinsExistingTransaction(t *testing.T) {
	bound := &Tx{versions: make(map[string]int64)}
	ctx := context.WithValue(context.Background(), txContextKey{}, bound)

	var provider *Provider
	called := false
	err := provider.RunInContext(ctx, func(inner context.Context) error {
		called = true
		got, ok := TxFromContext(inner)
		if !ok || got != bound {
			t.Fatalf("expected the outer transaction to be reused")
		}
		return nil
	})
	if err != nil || !called {
		t.Fatalf("expected nested call to run inline, err=%v called=%v", err, called)
	}
}

func TestNewConflictErrorClassification(t *testing.T) {
	cause := errors.New("version 1 is stale")
	err := NewConflictError("orders.update", cause)
	var repoErr *Error
	if !errors.As(err, &repoErr) || !repoErr.IsConflict() || repoErr.IsNotFound() {
		t.Fatalf("expected conflict classification, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to unwrap")
	}
	if err.Error() != "orders.update: version 1 is stale" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}
