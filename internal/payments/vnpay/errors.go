package vnpay

import (
	"errors"
	"fmt"
)

var (
	// ErrGatewayUnavailable is matched by errors.Is for every GatewayUnavailableError.
	ErrGatewayUnavailable = errors.New("vnpay: gateway unavailable")
	// ErrInvalidSignature is matched by errors.Is for every InvalidSignatureError.
	ErrInvalidSignature = errors.New("vnpay: invalid signature")
)

// GatewayUnavailableError reports a transport level failure talking to the gateway: timeouts,
// connection errors and non-2xx responses. It is retryable and never a payment decision.
type GatewayUnavailableError struct {
	Command    string
	StatusCode int
	Err        error
}

func (e *GatewayUnavailableError) Error() string {
	if e == nil {
		return ""
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("vnpay: %s: gateway returned HTTP %d", e.Command, e.StatusCode)
	}
	return fmt.Sprintf("vnpay: %s: gateway unavailable: %v", e.Command, e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is lets callers match the sentinel.
func (e *GatewayUnavailableError) Is(target error) bool {
	return target == ErrGatewayUnavailable
}

// InvalidSignatureError reports a payload whose signature did not verify.
type InvalidSignatureError struct {
	TxnRef string
	Source string
}

func (e *InvalidSignatureError) Error() string {
	if e == nil {
		return ""
	}
	if e.TxnRef != "" {
		return fmt.Sprintf("vnpay: invalid %s signature for txn %s", e.Source, e.TxnRef)
	}
	return fmt.Sprintf("vnpay: invalid %s signature", e.Source)
}

// Is lets callers match the sentinel.
func (e *InvalidSignatureError) Is(target error) bool {
	return target == ErrInvalidSignature
}
