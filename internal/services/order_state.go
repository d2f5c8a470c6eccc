package services

import (
	"fmt"
	"slices"
	"time"

	domain "github.com/mediashop/api/internal/domain"
)

// OrderModificationWindow bounds how long after creation a pending order may still be edited.
const OrderModificationWindow = time.Hour

var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:  {domain.OrderStatusReturned},
}

var cancellableStatuses = []domain.OrderStatus{
	domain.OrderStatusPending,
	domain.OrderStatusConfirmed,
}

// InvalidTransitionError reports a status change the state machine forbids. It wraps
// ErrOrderInvalidState.
type InvalidTransitionError struct {
	From domain.OrderStatus
	To   domain.OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("order: invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrOrderInvalidState
}

// CanTransition reports whether from may move to to. Terminal states allow nothing.
func CanTransition(from, to domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[from], to)
}

// Transition validates a status change.
func Transition(from, to domain.OrderStatus) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// CanCancel reports whether an order in status may still be cancelled.
func CanCancel(status domain.OrderStatus) bool {
	return slices.Contains(cancellableStatuses, status)
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status domain.OrderStatus) bool {
	return len(orderStateTransitions[status]) == 0
}

// CanModifyOrder reports whether items may still be added or removed.
func CanModifyOrder(order domain.Order, now time.Time) bool {
	if order.Status != domain.OrderStatusPending {
		return false
	}
	return now.Sub(order.CreatedAt) <= OrderModificationWindow
}

// applyTransition moves order to target and stamps the matching lifecycle timestamp.
func applyTransition(order *domain.Order, target domain.OrderStatus, now time.Time) error {
	if err := Transition(order.Status, target); err != nil {
		return err
	}
	order.Status = target
	order.UpdatedAt = now
	switch target {
	case domain.OrderStatusConfirmed:
		order.ConfirmedAt = &now
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
		order.Delivery.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	case domain.OrderStatusReturned:
		order.ReturnedAt = &now
	}
	return nil
}
