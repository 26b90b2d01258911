package services

import (
	"sort"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
)

// Snapshot is an in-memory view of a store's documents. Every aggregate below
// is a pure function over it, recomputable at any time; none of the outputs
// are a source of truth.
type Snapshot struct {
	Orders    []domain.Order
	Products  []domain.Product
	Customers []domain.Customer
}

// RevenueBucket is one calendar bucket of paid revenue.
type RevenueBucket struct {
	Key     string
	Revenue int64
	Orders  int
}

// ProductSales aggregates a product's paid line items.
type ProductSales struct {
	ProductID    string
	Name         string
	QuantitySold int
	Revenue      int64
}

// PeriodComparison reports percentage deltas against the preceding period of
// equal length.
type PeriodComparison struct {
	Revenue         int64
	PreviousRevenue int64
	RevenueChange   float64
	Orders          int
	PreviousOrders  int
	OrdersChange    float64
}

// AnalyticsReport is the full on-demand report for a store and period.
type AnalyticsReport struct {
	StoreID           string
	From              time.Time
	To                time.Time
	TotalRevenue      int64
	AverageOrderValue int64
	TotalOrders       int
	PaidOrders        int
	CancelledOrders   int
	ConversionRate    float64
	CancellationRate  float64
	RevenueByDay      []RevenueBucket
	RevenueByMonth    []RevenueBucket
	TopProducts       []ProductSales
	Comparison        PeriodComparison
	LowStockCount     int
	OutOfStockCount   int
	CustomerCount     int
}

const topProductsLimit = 10

func paidOrder(o domain.Order) bool {
	return o.PaymentStatus == domain.PaymentStatusPaid
}

// TotalRevenue sums order totals where the payment was captured.
func TotalRevenue(orders []domain.Order) int64 {
	var revenue int64
	for _, o := range orders {
		if paidOrder(o) {
			revenue += o.Total
		}
	}
	return revenue
}

// AverageOrderValue divides paid revenue by the paid order count, 0 when none.
func AverageOrderValue(orders []domain.Order) int64 {
	var revenue int64
	var paid int64
	for _, o := range orders {
		if paidOrder(o) {
			revenue += o.Total
			paid++
		}
	}
	if paid == 0 {
		return 0
	}
	return revenue / paid
}

// RevenueByDay groups paid revenue by UTC calendar day of createdAt.
func RevenueByDay(orders []domain.Order) []RevenueBucket {
	return revenueByFormat(orders, "2006-01-02")
}

// RevenueByMonth groups paid revenue by UTC calendar month of createdAt.
func RevenueByMonth(orders []domain.Order) []RevenueBucket {
	return revenueByFormat(orders, "2006-01")
}

func revenueByFormat(orders []domain.Order, layout string) []RevenueBucket {
	byKey := make(map[string]*RevenueBucket)
	for _, o := range orders {
		if !paidOrder(o) {
			continue
		}
		key := o.CreatedAt.UTC().Format(layout)
		bucket, ok := byKey[key]
		if !ok {
			bucket = &RevenueBucket{Key: key}
			byKey[key] = bucket
		}
		bucket.Revenue += o.Total
		bucket.Orders++
	}
	buckets := make([]RevenueBucket, 0, len(byKey))
	for _, bucket := range byKey {
		buckets = append(buckets, *bucket)
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].Key < buckets[j].Key })
	return buckets
}

// TopProducts sums quantity and revenue per product across paid orders' line
// items and returns the ten best sellers by quantity.
func TopProducts(orders []domain.Order) []ProductSales {
	byProduct := make(map[string]*ProductSales)
	for _, o := range orders {
		if !paidOrder(o) {
			continue
		}
		for _, item := range o.Items {
			if item.ProductID == "" {
				continue
			}
			sales, ok := byProduct[item.ProductID]
			if !ok {
				sales = &ProductSales{ProductID: item.ProductID, Name: item.Name}
				byProduct[item.ProductID] = sales
			}
			sales.QuantitySold += item.Quantity
			sales.Revenue += item.TotalPrice
		}
	}
	ranked := make([]ProductSales, 0, len(byProduct))
	for _, sales := range byProduct {
		ranked = append(ranked, *sales)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].QuantitySold != ranked[j].QuantitySold {
			return ranked[i].QuantitySold > ranked[j].QuantitySold
		}
		return ranked[i].ProductID < ranked[j].ProductID
	})
	if len(ranked) > topProductsLimit {
		ranked = ranked[:topProductsLimit]
	}
	return ranked
}

// ConversionRate is the share of orders whose payment was captured, percent.
func ConversionRate(orders []domain.Order) float64 {
	if len(orders) == 0 {
		return 0
	}
	paid := 0
	for _, o := range orders {
		if paidOrder(o) {
			paid++
		}
	}
	return float64(paid) / float64(len(orders)) * 100
}

// CancellationRate is the share of cancelled orders, percent.
func CancellationRate(orders []domain.Order) float64 {
	if len(orders) == 0 {
		return 0
	}
	cancelled := 0
	for _, o := range orders {
		if o.Status == domain.OrderStatusCancelled {
			cancelled++
		}
	}
	return float64(cancelled) / float64(len(orders)) * 100
}

// CompareWithPreviousPeriod computes revenue and order-count deltas against
// the period of equal length immediately preceding start. A previous value of
// zero yields +100% when the current value is positive and 0% otherwise.
func CompareWithPreviousPeriod(orders []domain.Order, start, end time.Time) PeriodComparison {
	start = start.UTC()
	end = end.UTC()
	length := end.Sub(start)
	prevStart := start.Add(-length)

	var comparison PeriodComparison
	for _, o := range orders {
		if !paidOrder(o) {
			continue
		}
		created := o.CreatedAt.UTC()
		switch {
		case !created.Before(start) && created.Before(end):
			comparison.Revenue += o.Total
			comparison.Orders++
		case !created.Before(prevStart) && created.Before(start):
			comparison.PreviousRevenue += o.Total
			comparison.PreviousOrders++
		}
	}

	comparison.RevenueChange = percentChange(comparison.Revenue, comparison.PreviousRevenue)
	comparison.OrdersChange = percentChange(int64(comparison.Orders), int64(comparison.PreviousOrders))
	return comparison
}

func percentChange(current, previous int64) float64 {
	if previous == 0 {
		if current > 0 {
			return 100
		}
		return 0
	}
	return float64(current-previous) / float64(previous) * 100
}

// BuildReport computes the full report from a snapshot. Pure. The snapshot
// may carry orders from before the period (the loader fetches the preceding
// period for the comparison); headline aggregates only see orders created
// within [from, to), the comparison sees the full set.
func BuildReport(storeID string, snapshot Snapshot, from, to time.Time) AnalyticsReport {
	from = from.UTC()
	to = to.UTC()
	period := make([]domain.Order, 0, len(snapshot.Orders))
	for _, o := range snapshot.Orders {
		created := o.CreatedAt.UTC()
		if !created.Before(from) && created.Before(to) {
			period = append(period, o)
		}
	}

	report := AnalyticsReport{
		StoreID:           storeID,
		From:              from,
		To:                to,
		TotalRevenue:      TotalRevenue(period),
		AverageOrderValue: AverageOrderValue(period),
		TotalOrders:       len(period),
		ConversionRate:    ConversionRate(period),
		CancellationRate:  CancellationRate(period),
		RevenueByDay:      RevenueByDay(period),
		RevenueByMonth:    RevenueByMonth(period),
		TopProducts:       TopProducts(period),
		Comparison:        CompareWithPreviousPeriod(snapshot.Orders, from, to),
		CustomerCount:     len(snapshot.Customers),
	}
	for _, o := range period {
		if paidOrder(o) {
			report.PaidOrders++
		}
		if o.Status == domain.OrderStatusCancelled {
			report.CancelledOrders++
		}
	}
	for _, p := range snapshot.Products {
		if p.OutOfStock() {
			report.OutOfStockCount++
		} else if p.LowStock() {
			report.LowStockCount++
		}
	}
	return report
}
