package firestore

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/firestore"

	pfirestore "github.com/mediashop/api/internal/platform/firestore"
)

// getSnapshot reads ref through the transaction bound to ctx when there is one.
func getSnapshot(ctx context.Context, ref *firestore.DocumentRef) (*firestore.DocumentSnapshot, error) {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Transaction().Get(ref)
	}
	return ref.Get(ctx)
}

// observe records the version read for ref so a later versioned write in the same transaction
// can check it without reading again.
func observe(ctx context.Context, ref *firestore.DocumentRef, version int64) {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		tx.ObserveVersion(ref.Path, version)
	}
}

func createDocument(ctx context.Context, ref *firestore.DocumentRef, payload any) error {
	if tx, ok := pfirestore.TxFromContext(ctx); ok {
		return tx.Transaction().Create(ref, payload)
	}
	_, err := ref.Create(ctx, payload)
	return err
}

// writeVersioned replaces the document at ref when its stored version equals expected. Outside a
// unit of work the check and the write run in their own transaction.
func writeVersioned(ctx context.Context, provider *pfirestore.Provider, ref *firestore.DocumentRef, expected int64, payload any, op string) error {
	write := func(ctx context.Context) error {
		tx, ok := pfirestore.TxFromContext(ctx)
		if !ok {
			return errors.New("firestore: versioned write outside a transaction")
		}
		current, seen := tx.ObservedVersion(ref.Path)
		if !seen {
			snap, err := tx.Transaction().Get(ref)
			if err != nil {
				return pfirestore.WrapError(op, err)
			}
			raw, err := snap.DataAt("version")
			if err != nil {
				return fmt.Errorf("%s: read version: %w", op, err)
			}
			version, ok := raw.(int64)
			if !ok {
				return fmt.Errorf("%s: unexpected version type %T", op, raw)
			}
			current = version
		}
		if current != expected {
			return pfirestore.NewConflictError(op, fmt.Errorf("version %d is stale, stored version is %d", expected, current))
		}
		if err := tx.Transaction().Set(ref, payload); err != nil {
			return pfirestore.WrapError(op, err)
		}
		tx.ObserveVersion(ref.Path, expected+1)
		return nil
	}
	return provider.RunInContext(ctx, write)
}
