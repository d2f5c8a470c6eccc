package firestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

// TxFunc is executed within a Firestore transaction.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

type txContextKey struct{}

// Tx is the transaction bound to a context by RunInContext. It remembers the document versions
// read through it so optimistic writes can be checked without a read after a write.
type Tx struct {
	tx       *firestore.Transaction
	mu       sync.Mutex
	versions map[string]int64
}

// Transaction exposes the underlying Firestore transaction.
func (t *Tx) Transaction() *firestore.Transaction {
	return t.tx
}

// ObserveVersion records the version of the document at path as read in this transaction.
func (t *Tx) ObserveVersion(path string, version int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.versions[path] = version
}

// ObservedVersion returns the version recorded for path, if any.
func (t *Tx) ObservedVersion(path string) (int64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	version, ok := t.versions[path]
	return version, ok
}

// TxFromContext returns the transaction bound to ctx by RunInContext.
func TxFromContext(ctx context.Context) (*Tx, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txContextKey{}).(*Tx)
	return tx, ok && tx != nil
}

// RunInContext runs fn in a transaction whose handle travels in the context passed to fn.
// Calls nested inside an existing transaction reuse it.
func (p *Provider) RunInContext(ctx context.Context, fn func(ctx context.Context) error, opts ...TxOption) error {
	if _, ok := TxFromContext(ctx); ok {
		return fn(ctx)
	}
	return p.RunTransaction(ctx, func(txCtx context.Context, tx *firestore.Transaction) error {
		bound := &Tx{tx: tx, versions: make(map[string]int64)}
		return fn(context.WithValue(txCtx, txContextKey{}, bound))
	}, opts...)
}

// RunTransaction executes fn within a transaction on the provided client.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		deadline, hasDeadline := ctx.Deadline()
		if !hasDeadline || time.Until(deadline) > cfg.timeout {
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
		}
	}
	if cancel != nil {
		defer cancel()
	}

	firestoreOpts := make([]firestore.TransactionOption, 0, 1)
	if cfg.attempts > 0 {
		firestoreOpts = append(firestoreOpts, firestore.MaxAttempts(cfg.attempts))
	}

	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(ctx, tx)
	}, firestoreOpts...)

	return WrapError("transaction", err)
}
