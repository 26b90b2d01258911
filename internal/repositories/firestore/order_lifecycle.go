package firestore

import (
	"fmt"
	"strings"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

// The lifecycle mutations are kept out of the transaction closures so the
// capture and transition semantics can be exercised without a Firestore
// client. The closures read the documents, call these functions, and write
// back whatever changed.

type captureInputs struct {
	Order    orderDocument
	Products map[string]productDocument
	Discount *discountDocument
	Customer *customerDocument
}

type captureChanges struct {
	AlreadyPaid bool
	Order       orderDocument
	Products    map[string]productDocument
	Discount    *discountDocument
	Customer    *customerDocument
	Emptied     []repositories.StockMovement
}

// captureGate decides whether a capture may proceed. Cancelled and refunded
// orders reject it outright; any already-captured status reports true so the
// caller can return the order unchanged.
func captureGate(order orderDocument, orderID string) (bool, error) {
	current := domain.OrderStatus(order.Status)
	switch current {
	case domain.OrderStatusPending:
		return false, nil
	case domain.OrderStatusCancelled, domain.OrderStatusRefunded:
		return false, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, fmt.Sprintf("order %s is %s, payment cannot be captured", orderID, current), nil)
	default:
		return true, nil
	}
}

// applyCapture computes the document writes for a pending to paid capture:
// the all-or-nothing stock decrement across tracked lines, the discount usage
// increment bounded by maxUses, the customer counter bumps, and the order's
// paid stamp with its history entry. Inputs are never mutated.
func applyCapture(in captureInputs, orderID, paymentRef string, now time.Time) (captureChanges, error) {
	if alreadyPaid, err := captureGate(in.Order, orderID); err != nil {
		return captureChanges{}, err
	} else if alreadyPaid {
		return captureChanges{AlreadyPaid: true, Order: in.Order}, nil
	}

	required := aggregateQuantities(in.Order.Items)

	// Validate every tracked line before recording any write so the
	// decrement stays all-or-nothing.
	for _, productID := range sortedKeys(in.Products) {
		doc := in.Products[productID]
		if !doc.TrackInventory {
			continue
		}
		if doc.Quantity < required[productID] {
			return captureChanges{}, repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("product %s has %d on hand, order needs %d", productID, doc.Quantity, required[productID]), nil)
		}
	}

	changes := captureChanges{Products: make(map[string]productDocument)}
	for _, productID := range sortedKeys(in.Products) {
		doc := in.Products[productID]
		if !doc.TrackInventory {
			continue
		}
		quantity := required[productID]
		doc.Quantity -= quantity
		doc.UpdatedAt = now
		changes.Products[productID] = doc
		if doc.Quantity == 0 {
			changes.Emptied = append(changes.Emptied, repositories.StockMovement{
				ProductID: productID,
				SKU:       doc.SKU,
				Quantity:  quantity,
				ToZero:    true,
			})
		}
	}

	if in.Discount != nil {
		// The cap may have been reached by a concurrent capture after the
		// order was priced. The captured total keeps its discount but the
		// counter never exceeds maxUses.
		if in.Discount.MaxUses == nil || in.Discount.UsedCount < *in.Discount.MaxUses {
			discount := *in.Discount
			discount.UsedCount++
			discount.UpdatedAt = now
			changes.Discount = &discount
		}
	}

	if in.Customer != nil {
		customer := *in.Customer
		customer.TotalOrders++
		customer.TotalSpent += in.Order.Total
		customer.UpdatedAt = now
		changes.Customer = &customer
	}

	order := in.Order
	order.Status = string(domain.OrderStatusPaid)
	order.PaymentStatus = string(domain.PaymentStatusPaid)
	order.PaidAt = &now
	order.UpdatedAt = now
	if ref := strings.TrimSpace(paymentRef); ref != "" {
		order.PaymentRef = ref
	}
	order.StatusHistory = append(order.StatusHistory, orderStatusChangeDocument{
		From:       string(domain.OrderStatusPending),
		To:         string(domain.OrderStatusPaid),
		Reason:     "payment captured",
		OccurredAt: now,
	})
	changes.Order = order
	return changes, nil
}

// checkTransitionGuards validates the expected-status guard, the state
// machine adjacency, and the shipped tracking requirement. It returns the
// current status for the caller's side-effect decisions.
func checkTransitionGuards(order orderDocument, req repositories.OrderTransitionRequest) (domain.OrderStatus, error) {
	current := domain.OrderStatus(order.Status)
	if req.ExpectedStatus != nil && current != *req.ExpectedStatus {
		return current, repositories.NewOrderError(repositories.OrderErrorStatusMismatch, fmt.Sprintf("order %s is %s, expected %s", req.OrderID, current, *req.ExpectedStatus), nil)
	}
	if !domain.CanTransition(current, req.Target) {
		return current, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, fmt.Sprintf("order %s cannot move from %s to %s", req.OrderID, current, req.Target), nil)
	}
	// Paid is reached through CapturePayment, never through a plain move.
	if req.Target == domain.OrderStatusPaid {
		return current, repositories.NewOrderError(repositories.OrderErrorInvalidTransition, fmt.Sprintf("order %s must be paid through payment capture", req.OrderID), nil)
	}
	if req.Target == domain.OrderStatusShipped && req.Tracking == nil && order.Tracking == nil {
		return current, repositories.NewOrderError(repositories.OrderErrorTrackingRequired, fmt.Sprintf("order %s cannot ship without tracking details", req.OrderID), nil)
	}
	return current, nil
}

// transitionRestocks reports whether the move returns inventory: cancelling
// an order whose capture already decremented stock.
func transitionRestocks(current, target domain.OrderStatus) bool {
	return target == domain.OrderStatusCancelled && domain.StockAffected(current)
}

// transitionReversesStats reports whether the customer's counters need
// adjusting: refunds reverse the spend, cancellations of captured orders
// reverse both counters.
func transitionReversesStats(current, target domain.OrderStatus) bool {
	return target == domain.OrderStatusRefunded || transitionRestocks(current, target)
}

type transitionInputs struct {
	Order    orderDocument
	Products map[string]productDocument
	Customer *customerDocument
}

type transitionChanges struct {
	Order     orderDocument
	Products  map[string]productDocument
	Customer  *customerDocument
	Restocked []repositories.StockMovement
}

// applyTransition computes the document writes for an explicit lifecycle
// move, including the restock of tracked lines on cancellation and the
// customer counter reversal. Inputs are never mutated.
func applyTransition(in transitionInputs, req repositories.OrderTransitionRequest, now time.Time) (transitionChanges, error) {
	current, err := checkTransitionGuards(in.Order, req)
	if err != nil {
		return transitionChanges{}, err
	}

	changes := transitionChanges{Products: make(map[string]productDocument)}

	if transitionRestocks(current, req.Target) {
		required := aggregateQuantities(in.Order.Items)
		for _, productID := range sortedKeys(in.Products) {
			doc := in.Products[productID]
			if !doc.TrackInventory {
				continue
			}
			quantity := required[productID]
			fromZero := doc.Quantity == 0
			doc.Quantity += quantity
			doc.UpdatedAt = now
			changes.Products[productID] = doc
			changes.Restocked = append(changes.Restocked, repositories.StockMovement{
				ProductID: productID,
				SKU:       doc.SKU,
				Quantity:  quantity,
				FromZero:  fromZero,
			})
		}
	}

	if transitionReversesStats(current, req.Target) && in.Customer != nil {
		// Cancelling a captured order undoes both counters; a refund
		// reverses the spend contribution but the order itself still
		// happened, so totalOrders stays.
		customer := *in.Customer
		customer.TotalSpent -= in.Order.Total
		if customer.TotalSpent < 0 {
			customer.TotalSpent = 0
		}
		if req.Target == domain.OrderStatusCancelled && customer.TotalOrders > 0 {
			customer.TotalOrders--
		}
		customer.UpdatedAt = now
		changes.Customer = &customer
	}

	order := in.Order
	order.Status = string(req.Target)
	order.UpdatedAt = now
	switch req.Target {
	case domain.OrderStatusShipped:
		order.ShippedAt = &now
	case domain.OrderStatusDelivered:
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			order.CancelReason = reason
		}
	case domain.OrderStatusRefunded:
		order.RefundedAt = &now
		order.PaymentStatus = string(domain.PaymentStatusRefunded)
	}
	if req.Tracking != nil {
		order.Tracking = &orderTrackingDocument{
			Carrier:        strings.TrimSpace(req.Tracking.Carrier),
			TrackingNumber: strings.TrimSpace(req.Tracking.TrackingNumber),
			TrackingURL:    strings.TrimSpace(req.Tracking.TrackingURL),
		}
	}
	order.StatusHistory = append(order.StatusHistory, orderStatusChangeDocument{
		From:       string(current),
		To:         string(req.Target),
		ActorID:    strings.TrimSpace(req.ActorID),
		Reason:     strings.TrimSpace(req.Reason),
		OccurredAt: now,
	})
	changes.Order = order
	return changes, nil
}
