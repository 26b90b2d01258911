package domain

import "testing"

func TestCanTransition_Adjacency(t *testing.T) {
	statuses := []OrderStatus{
		OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded,
	}
	allowed := map[OrderStatus]map[OrderStatus]bool{
		OrderStatusPending:    {OrderStatusPaid: true, OrderStatusCancelled: true},
		OrderStatusPaid:       {OrderStatusProcessing: true, OrderStatusCancelled: true, OrderStatusRefunded: true},
		OrderStatusProcessing: {OrderStatusShipped: true, OrderStatusCancelled: true, OrderStatusRefunded: true},
		OrderStatusShipped:    {OrderStatusDelivered: true, OrderStatusRefunded: true},
		OrderStatusDelivered:  {OrderStatusRefunded: true},
	}

	for _, current := range statuses {
		for _, target := range statuses {
			want := allowed[current][target]
			if got := CanTransition(current, target); got != want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", current, target, got, want)
			}
		}
	}

	if CanTransition(OrderStatus("archived"), OrderStatusPaid) {
		t.Error("expected unknown status to have no transitions")
	}
	if CanTransition(OrderStatusPending, OrderStatus("archived")) {
		t.Error("expected unknown target to be rejected")
	}
}

func TestCanTransition_TerminalStates(t *testing.T) {
	targets := []OrderStatus{
		OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded,
	}
	for _, terminal := range []OrderStatus{OrderStatusCancelled, OrderStatusRefunded} {
		for _, target := range targets {
			if CanTransition(terminal, target) {
				t.Errorf("expected no transition out of %s, got %s allowed", terminal, target)
			}
		}
	}
}

func TestStockAffected(t *testing.T) {
	affected := map[OrderStatus]bool{
		OrderStatusPending:    false,
		OrderStatusPaid:       true,
		OrderStatusProcessing: true,
		OrderStatusShipped:    true,
		OrderStatusDelivered:  true,
		OrderStatusCancelled:  false,
		OrderStatusRefunded:   false,
	}
	for status, want := range affected {
		if got := StockAffected(status); got != want {
			t.Errorf("StockAffected(%s) = %v, want %v", status, got, want)
		}
	}
}

func TestKnownOrderStatus(t *testing.T) {
	for _, status := range []OrderStatus{
		OrderStatusPending, OrderStatusPaid, OrderStatusProcessing,
		OrderStatusShipped, OrderStatusDelivered, OrderStatusCancelled,
		OrderStatusRefunded,
	} {
		if !KnownOrderStatus(status) {
			t.Errorf("expected %s to be known", status)
		}
	}
	if KnownOrderStatus(OrderStatus("archived")) || KnownOrderStatus(OrderStatus("")) {
		t.Error("expected unrecognised statuses to be rejected")
	}
}

func TestProduct_StockHelpers(t *testing.T) {
	cases := []struct {
		name    string
		product Product
		low     bool
		out     bool
	}{
		{
			name:    "untracked never reports",
			product: Product{Quantity: 0},
		},
		{
			name:    "exhausted is out not low",
			product: Product{TrackInventory: true, Quantity: 0},
			out:     true,
		},
		{
			name:    "at threshold is low",
			product: Product{TrackInventory: true, Quantity: 5},
			low:     true,
		},
		{
			name:    "above default threshold is healthy",
			product: Product{TrackInventory: true, Quantity: 6},
		},
		{
			name:    "explicit threshold wins",
			product: Product{TrackInventory: true, Quantity: 8, LowStockThreshold: 10},
			low:     true,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.product.LowStock(); got != tc.low {
				t.Fatalf("LowStock() = %v, want %v", got, tc.low)
			}
			if got := tc.product.OutOfStock(); got != tc.out {
				t.Fatalf("OutOfStock() = %v, want %v", got, tc.out)
			}
		})
	}
}

func TestDiscount_Exhausted(t *testing.T) {
	limit := 3
	if (Discount{UsedCount: 100}).Exhausted() {
		t.Error("expected unlimited discount to never exhaust")
	}
	if (Discount{MaxUses: &limit, UsedCount: 2}).Exhausted() {
		t.Error("expected discount under the cap to be usable")
	}
	if !(Discount{MaxUses: &limit, UsedCount: 3}).Exhausted() {
		t.Error("expected discount at the cap to be exhausted")
	}
}

func TestOrder_TotalsConsistent(t *testing.T) {
	order := Order{Subtotal: 3000, DiscountAmount: 300, ShippingCost: 500, Total: 3200}
	if !order.TotalsConsistent() {
		t.Fatalf("expected consistent totals: %+v", order)
	}
	order.Total = 3000
	if order.TotalsConsistent() {
		t.Fatalf("expected inconsistent totals to be flagged: %+v", order)
	}
}
