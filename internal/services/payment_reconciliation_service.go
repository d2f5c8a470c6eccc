package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/mediashop/api/internal/domain"
	"github.com/mediashop/api/internal/payments"
	"github.com/mediashop/api/internal/payments/vnpay"
	"github.com/mediashop/api/internal/platform/locking"
	"github.com/mediashop/api/internal/repositories"
)

const (
	paymentEventSucceeded = "payment.succeeded"
	paymentEventFailed    = "payment.failed"
	paymentEventCancelled = "payment.cancelled"
	paymentEventOrphaned  = "payment.orphaned"
	paymentEventRefunded  = "payment.refunded"

	defaultLookupAttempts = 3
	defaultLookupBackoff  = 200 * time.Millisecond
	defaultPaymentTTL     = 15 * time.Minute
	defaultSweepGrace     = 15 * time.Minute
	defaultSweepMinAge    = 10 * time.Minute
	defaultSweepLimit     = 100
)

var (
	// ErrPaymentInvalidInput signals malformed payment commands or callbacks.
	ErrPaymentInvalidInput = errors.New("payment: invalid input")
	// ErrPaymentNotFound indicates the payment transaction does not exist.
	ErrPaymentNotFound = errors.New("payment: not found")
	// ErrPaymentInvalidState indicates the transaction or its order is in the wrong state.
	ErrPaymentInvalidState = errors.New("payment: invalid state")
	// ErrPaymentConflict indicates a concurrent modification.
	ErrPaymentConflict = errors.New("payment: conflict")
	// ErrPaymentProviderFailed wraps provider errors that are not transport failures.
	ErrPaymentProviderFailed = errors.New("payment: provider failed")
)

type paymentManager interface {
	CreateCheckoutSession(ctx context.Context, paymentCtx payments.PaymentContext, req payments.CheckoutSessionRequest) (payments.CheckoutSession, error)
	Refund(ctx context.Context, paymentCtx payments.PaymentContext, req payments.RefundRequest) (payments.PaymentDetails, error)
	LookupPayment(ctx context.Context, paymentCtx payments.PaymentContext, req payments.LookupRequest) (payments.PaymentDetails, error)
}

// CallbackVerifier authenticates and decodes gateway callbacks.
type CallbackVerifier interface {
	ParseCallback(fields map[string]string) (vnpay.Callback, error)
}

// CallbackArchive keeps the raw callback payloads for audit.
type CallbackArchive interface {
	ArchiveCallback(ctx context.Context, record CallbackRecord) error
}

// CallbackRecord is one archived gateway callback.
type CallbackRecord struct {
	TxnRef     string
	Outcome    ReconciliationOutcome
	ReceivedAt time.Time
	Fields     map[string]string
}

// PaymentReconciliationServiceDeps bundles collaborators for the reconciliation service.
type PaymentReconciliationServiceDeps struct {
	Orders         repositories.OrderRepository
	Transactions   repositories.PaymentTransactionRepository
	UnitOfWork     repositories.UnitOfWork
	Locker         locking.Locker
	Payments       paymentManager
	Verifier       CallbackVerifier
	Archive        CallbackArchive
	Events         OrderEventPublisher
	Clock          func() time.Time
	IDGenerator    func() string
	Logger         func(ctx context.Context, event string, fields map[string]any)
	LookupAttempts int
	LookupBackoff  time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
	PaymentTTL     time.Duration
	SweepGrace     time.Duration
	SweepMinAge    time.Duration
}

type paymentReconciliationService struct {
	orders         repositories.OrderRepository
	txns           repositories.PaymentTransactionRepository
	unitOfWork     repositories.UnitOfWork
	locker         locking.Locker
	payments       paymentManager
	verifier       CallbackVerifier
	archive        CallbackArchive
	events         OrderEventPublisher
	clock          func() time.Time
	newID          func() string
	logger         func(context.Context, string, map[string]any)
	lookupAttempts int
	lookupBackoff  time.Duration
	sleep          func(context.Context, time.Duration) error
	paymentTTL     time.Duration
	sweepGrace     time.Duration
	sweepMinAge    time.Duration
}

var _ PaymentReconciliationService = (*paymentReconciliationService)(nil)

// NewPaymentReconciliationService wires the reconciliation workflow.
func NewPaymentReconciliationService(deps PaymentReconciliationServiceDeps) (PaymentReconciliationService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment reconciliation: order repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("payment reconciliation: transaction repository is required")
	}
	if deps.Payments == nil {
		return nil, errors.New("payment reconciliation: payment manager is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("payment reconciliation: callback verifier is required")
	}

	svc := &paymentReconciliationService{
		orders:         deps.Orders,
		txns:           deps.Transactions,
		unitOfWork:     deps.UnitOfWork,
		locker:         deps.Locker,
		payments:       deps.Payments,
		verifier:       deps.Verifier,
		archive:        deps.Archive,
		events:         deps.Events,
		newID:          deps.IDGenerator,
		logger:         deps.Logger,
		lookupAttempts: deps.LookupAttempts,
		lookupBackoff:  deps.LookupBackoff,
		sleep:          deps.Sleep,
		paymentTTL:     deps.PaymentTTL,
		sweepGrace:     deps.SweepGrace,
		sweepMinAge:    deps.SweepMinAge,
	}
	if svc.unitOfWork == nil {
		svc.unitOfWork = noopUnitOfWork{}
	}
	if svc.locker == nil {
		svc.locker = locking.NewKeyedMutex()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	svc.clock = func() time.Time { return clock().UTC() }
	if svc.newID == nil {
		svc.newID = func() string { return ulid.Make().String() }
	}
	if svc.logger == nil {
		svc.logger = func(context.Context, string, map[string]any) {}
	}
	if svc.lookupAttempts <= 0 {
		svc.lookupAttempts = defaultLookupAttempts
	}
	if svc.lookupBackoff <= 0 {
		svc.lookupBackoff = defaultLookupBackoff
	}
	if svc.sleep == nil {
		svc.sleep = sleepContext
	}
	if svc.paymentTTL <= 0 {
		svc.paymentTTL = defaultPaymentTTL
	}
	if svc.sweepGrace <= 0 {
		svc.sweepGrace = defaultSweepGrace
	}
	if svc.sweepMinAge <= 0 {
		svc.sweepMinAge = defaultSweepMinAge
	}
	return svc, nil
}

func (s *paymentReconciliationService) RecordPaymentIntent(ctx context.Context, order Order) (PaymentTransaction, error) {
	if strings.TrimSpace(order.ID) == "" {
		return PaymentTransaction{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	if order.Status != domain.OrderStatusPending {
		return PaymentTransaction{}, fmt.Errorf("%w: order %s is %s", ErrPaymentInvalidState, order.ID, order.Status)
	}
	if order.Totals.GrandTotal <= 0 {
		return PaymentTransaction{}, fmt.Errorf("%w: order %s has nothing to pay", ErrPaymentInvalidInput, order.ID)
	}
	provider, err := providerForMethod(order.PaymentMethod)
	if err != nil {
		return PaymentTransaction{}, err
	}

	now := s.clock()
	txn := PaymentTransaction{
		ID:         s.newID(),
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Provider:   provider,
		Amount:     order.Totals.GrandTotal,
		Currency:   firstNonEmpty(order.Currency, defaultCurrency),
		Status:     domain.PaymentStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err = s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
		if err := s.txns.Insert(txCtx, txn); err != nil {
			return mapPaymentRepositoryError(err)
		}
		return nil
	})
	if err != nil {
		return PaymentTransaction{}, err
	}
	txn.Version = 1
	s.logger(ctx, "payment.intent.recorded", map[string]any{
		"txnRef":   txn.ID,
		"order":    txn.OrderID,
		"provider": txn.Provider,
		"amount":   txn.Amount,
	})
	return txn, nil
}

func (s *paymentReconciliationService) StartPayment(ctx context.Context, cmd StartPaymentCommand) (PaymentStart, error) {
	orderID := strings.TrimSpace(cmd.OrderID)
	if orderID == "" {
		return PaymentStart{}, fmt.Errorf("%w: order id is required", ErrPaymentInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return PaymentStart{}, mapOrderRepositoryError(err)
	}
	if err := checkOwner(order, cmd.CustomerID); err != nil {
		return PaymentStart{}, err
	}

	txn, err := s.RecordPaymentIntent(ctx, order)
	if err != nil {
		return PaymentStart{}, err
	}

	session, err := s.payments.CreateCheckoutSession(ctx, payments.PaymentContext{
		PreferredProvider: txn.Provider,
		Currency:          txn.Currency,
	}, payments.CheckoutSessionRequest{
		Reference:      txn.ID,
		Amount:         txn.Amount,
		Currency:       txn.Currency,
		CustomerID:     order.CustomerID,
		Description:    "Thanh toan don hang " + firstNonEmpty(order.OrderNumber, order.ID),
		ClientIP:       strings.TrimSpace(cmd.ClientIP),
		BankCode:       strings.TrimSpace(cmd.BankCode),
		SuccessURL:     strings.TrimSpace(cmd.ReturnURL),
		CancelURL:      strings.TrimSpace(cmd.CancelURL),
		Locale:         strings.TrimSpace(cmd.Locale),
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
		Metadata: map[string]string{
			"orderId":     order.ID,
			"orderNumber": order.OrderNumber,
		},
		Items: checkoutLineItems(order),
	})
	if err != nil {
		s.abandonIntent(ctx, txn, err)
		return PaymentStart{}, s.providerError(err)
	}

	if gatewayID := firstNonEmpty(session.IntentID, session.ID); gatewayID != "" && gatewayID != txn.ID {
		err := s.withOrderLock(ctx, txn.OrderID, func() error {
			return s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
				current, err := s.txns.FindByID(txCtx, txn.ID)
				if err != nil {
					return mapPaymentRepositoryError(err)
				}
				current.GatewayTxnID = gatewayID
				current.UpdatedAt = s.clock()
				if err := s.txns.Update(txCtx, current); err != nil {
					return mapPaymentRepositoryError(err)
				}
				current.Version++
				txn = current
				return nil
			})
		})
		if err != nil {
			return PaymentStart{}, err
		}
	}

	return PaymentStart{
		Transaction: txn,
		RedirectURL: session.RedirectURL,
		ExpiresAt:   session.ExpiresAt,
	}, nil
}

// HandleCallback authenticates a gateway notification and applies it at most once. An invalid
// signature yields both the invalid_signature outcome and the typed signature error.
func (s *paymentReconciliationService) HandleCallback(ctx context.Context, fields map[string]string) (ReconciliationResult, error) {
	receivedAt := s.clock()
	cb, err := s.verifier.ParseCallback(fields)
	if err != nil {
		if errors.Is(err, vnpay.ErrInvalidSignature) {
			txnRef := strings.TrimSpace(fields["vnp_TxnRef"])
			s.logger(ctx, "payment.callback.invalid_signature", map[string]any{
				"txnRef": txnRef,
			})
			s.archiveCallback(ctx, CallbackRecord{TxnRef: txnRef, Outcome: OutcomeInvalidSignature, ReceivedAt: receivedAt, Fields: fields})
			return ReconciliationResult{Outcome: OutcomeInvalidSignature, TransactionID: txnRef}, err
		}
		return ReconciliationResult{}, fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	}

	result, err := s.reconcile(ctx, confirmation{
		TxnRef:        cb.TxnRef,
		Amount:        cb.Amount,
		Status:        callbackStatus(cb),
		ResponseCode:  cb.ResponseCode,
		ProviderTxnNo: cb.TransactionNo,
		BankCode:      cb.BankCode,
		PayDate:       cb.PayDate,
		Source:        "callback",
	}, true)
	if err != nil {
		return ReconciliationResult{}, err
	}
	s.archiveCallback(ctx, CallbackRecord{TxnRef: cb.TxnRef, Outcome: result.Outcome, ReceivedAt: receivedAt, Fields: cb.Fields})
	return result, nil
}

func (s *paymentReconciliationService) SweepPending(ctx context.Context, cmd SweepCommand) (SweepReport, error) {
	minAge := cmd.OlderThan
	if minAge <= 0 {
		minAge = s.sweepMinAge
	}
	limit := cmd.Limit
	if limit <= 0 {
		limit = defaultSweepLimit
	}
	now := s.clock()
	abandonBefore := now.Add(-(s.paymentTTL + s.sweepGrace))

	pending, err := s.txns.ListPending(ctx, repositories.PendingPaymentFilter{
		CreatedBefore: now.Add(-minAge),
		Provider:      strings.TrimSpace(cmd.Provider),
		Limit:         limit,
	})
	if err != nil {
		return SweepReport{}, mapPaymentRepositoryError(err)
	}

	report := SweepReport{Outcomes: map[ReconciliationOutcome]int{}}
	for _, txn := range pending {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Examined++

		details, err := s.payments.LookupPayment(ctx, payments.PaymentContext{
			PreferredProvider: txn.Provider,
			Currency:          txn.Currency,
		}, payments.LookupRequest{
			Reference:   txn.ID,
			IntentID:    txn.GatewayTxnID,
			InitiatedAt: txn.CreatedAt,
		})
		if err != nil {
			if errors.Is(err, vnpay.ErrGatewayUnavailable) {
				report.Unavailable++
			} else {
				report.Errors++
			}
			s.logger(ctx, "payment.sweep.lookup.failed", map[string]any{
				"txnRef": txn.ID,
				"error":  err.Error(),
			})
			continue
		}

		status := lookupStatus(details.Status)
		if status == domain.PaymentStatusPending {
			if txn.CreatedAt.After(abandonBefore) {
				report.StillPending++
				continue
			}
			status = domain.PaymentStatusCancelled
		}
		if status == "" {
			report.StillPending++
			s.logger(ctx, "payment.sweep.unexpected_status", map[string]any{
				"txnRef": txn.ID,
				"status": string(details.Status),
			})
			continue
		}

		amount := details.Amount
		if amount == 0 || status == domain.PaymentStatusCancelled {
			amount = txn.Amount
		}
		result, err := s.reconcile(ctx, confirmation{
			TxnRef:        txn.ID,
			Amount:        amount,
			Status:        status,
			ResponseCode:  details.ResponseCode,
			ProviderTxnNo: details.IntentID,
			BankCode:      details.BankCode,
			PayDate:       details.CapturedAt,
			Source:        "sweep",
		}, false)
		if err != nil {
			report.Errors++
			s.logger(ctx, "payment.sweep.reconcile.failed", map[string]any{
				"txnRef": txn.ID,
				"error":  err.Error(),
			})
			continue
		}
		report.Outcomes[result.Outcome]++
		if status == domain.PaymentStatusCancelled && result.Outcome == OutcomeFailed {
			report.Cancelled++
		} else {
			report.Reconciled++
		}
	}

	s.logger(ctx, "payment.sweep.completed", map[string]any{
		"examined":     report.Examined,
		"reconciled":   report.Reconciled,
		"cancelled":    report.Cancelled,
		"stillPending": report.StillPending,
		"unavailable":  report.Unavailable,
		"errors":       report.Errors,
	})
	return report, nil
}

func (s *paymentReconciliationService) RequestRefund(ctx context.Context, cmd RefundCommand) (PaymentTransaction, error) {
	txnID := strings.TrimSpace(cmd.TransactionID)
	if txnID == "" {
		return PaymentTransaction{}, fmt.Errorf("%w: transaction id is required", ErrPaymentInvalidInput)
	}
	txn, err := s.txns.FindByID(ctx, txnID)
	if err != nil {
		return PaymentTransaction{}, mapPaymentRepositoryError(err)
	}
	if txn.Status != domain.PaymentStatusSuccess {
		return PaymentTransaction{}, fmt.Errorf("%w: transaction %s is %s", ErrPaymentInvalidState, txn.ID, txn.Status)
	}
	if cmd.Amount != nil && (*cmd.Amount <= 0 || *cmd.Amount > txn.Amount) {
		return PaymentTransaction{}, fmt.Errorf("%w: refund amount must be between 1 and %d", ErrPaymentInvalidInput, txn.Amount)
	}

	details, err := s.payments.Refund(ctx, payments.PaymentContext{
		PreferredProvider: txn.Provider,
		Currency:          txn.Currency,
	}, payments.RefundRequest{
		Reference:      txn.ID,
		IntentID:       firstNonEmpty(txn.ProviderTxnNo, txn.GatewayTxnID),
		Amount:         cmd.Amount,
		CapturedAmount: txn.Amount,
		InitiatedAt:    txn.CreatedAt,
		Reason:         strings.TrimSpace(cmd.Reason),
		Actor:          strings.TrimSpace(cmd.ActorID),
		IdempotencyKey: strings.TrimSpace(cmd.IdempotencyKey),
	})
	if err != nil {
		return PaymentTransaction{}, s.providerError(err)
	}

	var refunded PaymentTransaction
	alreadyRefunded := false
	err = s.withOrderLock(ctx, txn.OrderID, func() error {
		return s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			current, err := s.txns.FindByID(txCtx, txn.ID)
			if err != nil {
				return mapPaymentRepositoryError(err)
			}
			if current.Status == domain.PaymentStatusRefunded {
				alreadyRefunded = true
				refunded = current
				return nil
			}
			if current.Status != domain.PaymentStatusSuccess {
				return fmt.Errorf("%w: transaction %s is %s", ErrPaymentInvalidState, current.ID, current.Status)
			}
			now := s.clock()
			current.Status = domain.PaymentStatusRefunded
			current.RefundedAt = &now
			current.UpdatedAt = now
			if details.ResponseCode != "" {
				current.ResponseCode = details.ResponseCode
			}
			if err := s.txns.Update(txCtx, current); err != nil {
				return mapPaymentRepositoryError(err)
			}
			current.Version++
			refunded = current
			return nil
		})
	})
	if err != nil {
		return PaymentTransaction{}, err
	}
	if alreadyRefunded {
		return refunded, nil
	}

	refundedAmount := txn.Amount
	if cmd.Amount != nil {
		refundedAmount = *cmd.Amount
	}
	publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
		Type:       paymentEventRefunded,
		OrderID:    refunded.OrderID,
		ActorID:    strings.TrimSpace(cmd.ActorID),
		OccurredAt: refunded.UpdatedAt,
		Metadata: map[string]any{
			"txnRef":   refunded.ID,
			"provider": refunded.Provider,
			"amount":   refundedAmount,
			"partial":  refundedAmount < txn.Amount,
			"reason":   strings.TrimSpace(cmd.Reason),
		},
	})
	return refunded, nil
}

func (s *paymentReconciliationService) CustomerMessage(result ReconciliationResult, locale string) string {
	switch result.Outcome {
	case OutcomeSuccess:
		return vnpay.ResponseMessage(vnpay.ResponseCodeSuccess, locale)
	case OutcomeFailed:
		code := result.ResponseCode
		if code == "" || code == vnpay.ResponseCodeSuccess {
			code = "99"
		}
		return vnpay.ResponseMessage(code, locale)
	}
	return outcomeMessage(result.Outcome, locale)
}

// confirmation is a provider verdict about one transaction, from a callback or a status query.
type confirmation struct {
	TxnRef        string
	Amount        int64
	Status        domain.PaymentStatus
	ResponseCode  string
	ProviderTxnNo string
	BankCode      string
	PayDate       *time.Time
	Source        string
}

// reconcile applies c under the order lock in a single unit of work. Gateway calls never happen
// here.
func (s *paymentReconciliationService) reconcile(ctx context.Context, c confirmation, retryLookup bool) (ReconciliationResult, error) {
	result := ReconciliationResult{TransactionID: c.TxnRef, ResponseCode: c.ResponseCode}

	attempts := 1
	if retryLookup {
		attempts = s.lookupAttempts
	}
	txn, err := s.findTransaction(ctx, c.TxnRef, attempts)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			s.logger(ctx, "payment.reconcile.not_found", map[string]any{
				"txnRef": c.TxnRef,
				"source": c.Source,
			})
			result.Outcome = OutcomeOrderNotFound
			return result, nil
		}
		return ReconciliationResult{}, err
	}
	result.OrderID = txn.OrderID

	var (
		prevStatus domain.OrderStatus
		orphaned   bool
		orderAfter Order
		txnAfter   PaymentTransaction
	)
	err = s.withOrderLock(ctx, txn.OrderID, func() error {
		return s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			orphaned = false
			current, err := s.txns.FindByID(txCtx, c.TxnRef)
			if err != nil {
				return mapPaymentRepositoryError(err)
			}
			order, err := s.orders.FindByID(txCtx, current.OrderID)
			if err != nil {
				if errors.Is(mapOrderRepositoryError(err), ErrOrderNotFound) {
					result.Outcome = OutcomeOrderNotFound
					return nil
				}
				return mapOrderRepositoryError(err)
			}
			txnAfter = current
			orderAfter = order
			prevStatus = order.Status

			if current.Status != domain.PaymentStatusPending {
				result.Outcome = OutcomeAlreadyProcessed
				return nil
			}
			if order.PaidTransactionID != "" && order.PaidTransactionID != current.ID {
				result.Outcome = OutcomeAlreadyProcessed
				orphaned = c.Status == domain.PaymentStatusSuccess
				return nil
			}
			if c.Amount != current.Amount {
				result.Outcome = OutcomeAmountMismatch
				return nil
			}

			now := s.clock()
			switch c.Status {
			case domain.PaymentStatusSuccess:
				if !CanTransition(order.Status, domain.OrderStatusConfirmed) {
					result.Outcome = OutcomeTransitionRejected
					orphaned = true
					return nil
				}
				// The order total is recomputed on every item edit; a capture for a stale
				// total must not confirm the order.
				if c.Amount != order.Totals.GrandTotal {
					result.Outcome = OutcomeAmountMismatch
					orphaned = true
					return nil
				}
				current.Status = domain.PaymentStatusSuccess
				current.ProviderTxnNo = c.ProviderTxnNo
				current.BankCode = firstNonEmpty(c.BankCode, current.BankCode)
				current.ResponseCode = c.ResponseCode
				current.PayDate = c.PayDate
				if current.PayDate == nil {
					current.PayDate = &now
				}
				current.UpdatedAt = now
				if err := s.txns.Update(txCtx, current); err != nil {
					return mapPaymentRepositoryError(err)
				}
				current.Version++

				if err := applyTransition(&order, domain.OrderStatusConfirmed, now); err != nil {
					return err
				}
				order.PaidTransactionID = current.ID
				if err := s.orders.Update(txCtx, order); err != nil {
					return mapOrderRepositoryError(err)
				}
				order.Version++
				result.Outcome = OutcomeSuccess
			default:
				current.Status = c.Status
				current.ResponseCode = c.ResponseCode
				current.BankCode = firstNonEmpty(c.BankCode, current.BankCode)
				current.UpdatedAt = now
				if err := s.txns.Update(txCtx, current); err != nil {
					return mapPaymentRepositoryError(err)
				}
				current.Version++
				result.Outcome = OutcomeFailed
			}
			txnAfter = current
			orderAfter = order
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, ErrOrderConflict) {
			return ReconciliationResult{}, fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		}
		return ReconciliationResult{}, err
	}
	if result.Outcome == OutcomeOrderNotFound {
		return result, nil
	}

	result.Transaction = &txnAfter
	result.Order = &orderAfter
	s.logger(ctx, "payment.reconcile.applied", map[string]any{
		"txnRef":       c.TxnRef,
		"order":        txnAfter.OrderID,
		"outcome":      string(result.Outcome),
		"source":       c.Source,
		"responseCode": c.ResponseCode,
	})
	s.publishOutcome(ctx, result, c, prevStatus, orphaned)
	return result, nil
}

func (s *paymentReconciliationService) publishOutcome(ctx context.Context, result ReconciliationResult, c confirmation, prevStatus domain.OrderStatus, orphaned bool) {
	order := result.Order
	metadata := map[string]any{
		"txnRef":       c.TxnRef,
		"amount":       c.Amount,
		"responseCode": c.ResponseCode,
		"source":       c.Source,
	}
	switch {
	case result.Outcome == OutcomeSuccess:
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:        paymentEventSucceeded,
			OrderID:     order.ID,
			OrderNumber: order.OrderNumber,
			OccurredAt:  order.UpdatedAt,
			Metadata:    metadata,
		})
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:           orderEventStatusChanged,
			OrderID:        order.ID,
			OrderNumber:    order.OrderNumber,
			PreviousStatus: string(prevStatus),
			CurrentStatus:  string(order.Status),
			OccurredAt:     order.UpdatedAt,
			Metadata:       metadata,
		})
	case result.Outcome == OutcomeFailed:
		eventType := paymentEventFailed
		if c.Status == domain.PaymentStatusCancelled {
			eventType = paymentEventCancelled
		}
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:          eventType,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CurrentStatus: string(order.Status),
			OccurredAt:    s.clock(),
			Metadata:      metadata,
		})
	case orphaned:
		// The payer was charged but the order cannot take the money; staff must refund manually.
		metadata["outcome"] = string(result.Outcome)
		metadata["providerTxnNo"] = c.ProviderTxnNo
		s.logger(ctx, "payment.orphaned", map[string]any{
			"txnRef":      c.TxnRef,
			"order":       order.ID,
			"orderStatus": string(order.Status),
		})
		publishOrderEvent(ctx, s.events, s.logger, OrderEvent{
			Type:          paymentEventOrphaned,
			OrderID:       order.ID,
			OrderNumber:   order.OrderNumber,
			CurrentStatus: string(order.Status),
			OccurredAt:    s.clock(),
			Metadata:      metadata,
		})
	}
}

// findTransaction tolerates a callback that overtakes the intent write by retrying not-found
// lookups with exponential backoff.
func (s *paymentReconciliationService) findTransaction(ctx context.Context, txnRef string, attempts int) (PaymentTransaction, error) {
	backoff := s.lookupBackoff
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		txn, err := s.txns.FindByID(ctx, txnRef)
		if err == nil {
			return txn, nil
		}
		lastErr = mapPaymentRepositoryError(err)
		if !errors.Is(lastErr, ErrPaymentNotFound) || attempt == attempts {
			break
		}
		if err := s.sleep(ctx, backoff); err != nil {
			return PaymentTransaction{}, err
		}
		backoff *= 2
	}
	return PaymentTransaction{}, lastErr
}

func (s *paymentReconciliationService) abandonIntent(ctx context.Context, txn PaymentTransaction, cause error) {
	err := s.withOrderLock(ctx, txn.OrderID, func() error {
		return s.unitOfWork.RunInTx(ctx, func(txCtx context.Context) error {
			current, err := s.txns.FindByID(txCtx, txn.ID)
			if err != nil {
				return err
			}
			if current.Status != domain.PaymentStatusPending {
				return nil
			}
			current.Status = domain.PaymentStatusFailed
			current.UpdatedAt = s.clock()
			return s.txns.Update(txCtx, current)
		})
	})
	fields := map[string]any{
		"txnRef": txn.ID,
		"order":  txn.OrderID,
		"cause":  cause.Error(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	s.logger(ctx, "payment.intent.abandoned", fields)
}

func (s *paymentReconciliationService) archiveCallback(ctx context.Context, record CallbackRecord) {
	if s.archive == nil {
		return
	}
	if err := s.archive.ArchiveCallback(ctx, record); err != nil {
		s.logger(ctx, "payment.callback.archive.failed", map[string]any{
			"txnRef": record.TxnRef,
			"error":  err.Error(),
		})
	}
}

func (s *paymentReconciliationService) providerError(err error) error {
	switch {
	case errors.Is(err, vnpay.ErrGatewayUnavailable):
		return err
	case errors.Is(err, payments.ErrUnsupportedProvider):
		return fmt.Errorf("%w: %v", ErrPaymentInvalidInput, err)
	default:
		return fmt.Errorf("%w: %v", ErrPaymentProviderFailed, err)
	}
}

func (s *paymentReconciliationService) withOrderLock(ctx context.Context, orderID string, fn func() error) error {
	return withLock(ctx, s.locker, "order:"+orderID, s.logger, fn)
}

func mapPaymentRepositoryError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return fmt.Errorf("%w: %v", ErrPaymentNotFound, err)
		case repoErr.IsConflict():
			return fmt.Errorf("%w: %v", ErrPaymentConflict, err)
		case repoErr.IsUnavailable():
			return fmt.Errorf("payment: repository unavailable: %w", err)
		}
	}
	return err
}

func providerForMethod(method domain.PaymentMethod) (string, error) {
	switch method {
	case domain.PaymentMethodVNPay, "":
		return payments.ProviderVNPay, nil
	case domain.PaymentMethodStripe:
		return payments.ProviderStripe, nil
	default:
		return "", fmt.Errorf("%w: payment method %q does not use an online gateway", ErrPaymentInvalidInput, method)
	}
}

func callbackStatus(cb vnpay.Callback) domain.PaymentStatus {
	if cb.Succeeded() {
		return domain.PaymentStatusSuccess
	}
	return domain.PaymentStatusFailed
}

func lookupStatus(status payments.Status) domain.PaymentStatus {
	switch status {
	case payments.StatusSucceeded:
		return domain.PaymentStatusSuccess
	case payments.StatusFailed:
		return domain.PaymentStatusFailed
	case payments.StatusCancelled:
		return domain.PaymentStatusCancelled
	case payments.StatusPending:
		return domain.PaymentStatusPending
	default:
		return ""
	}
}

func checkoutLineItems(order Order) []payments.CheckoutLineItem {
	items := make([]payments.CheckoutLineItem, 0, len(order.Items)+1)
	for _, item := range order.Items {
		items = append(items, payments.CheckoutLineItem{
			Name:     item.Title,
			SKU:      item.ProductID,
			Quantity: int64(item.Quantity),
			Amount:   item.UnitPrice,
			Currency: order.Currency,
		})
	}
	return items
}

var outcomeMessages = map[ReconciliationOutcome][2]string{
	OutcomeInvalidSignature:   {"Chữ ký không hợp lệ", "Invalid signature"},
	OutcomeAlreadyProcessed:   {"Giao dịch đã được xử lý trước đó", "Transaction already processed"},
	OutcomeOrderNotFound:      {"Không tìm thấy đơn hàng", "Order not found"},
	OutcomeTransitionRejected: {"Đơn hàng không thể nhận thanh toán, khoản tiền sẽ được hoàn lại", "Order can no longer accept payment, the amount will be refunded"},
	OutcomeAmountMismatch:     {"Số tiền không hợp lệ", "Invalid amount"},
}

func outcomeMessage(outcome ReconciliationOutcome, locale string) string {
	msg, ok := outcomeMessages[outcome]
	if !ok {
		return vnpay.ResponseMessage("99", locale)
	}
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(locale)), "en") {
		return msg[1]
	}
	return msg[0]
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
