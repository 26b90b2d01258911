package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

// ErrAnalyticsInvalidInput signals the caller provided invalid data.
var ErrAnalyticsInvalidInput = errors.New("analytics: invalid input")

// AnalyticsServiceDeps bundles collaborators required to construct the analytics service.
type AnalyticsServiceDeps struct {
	Orders    repositories.OrderRepository
	Products  repositories.ProductRepository
	Customers repositories.CustomerRepository
	Clock     func() time.Time
}

type analyticsService struct {
	orders    repositories.OrderRepository
	products  repositories.ProductRepository
	customers repositories.CustomerRepository
	clock     func() time.Time
}

// NewAnalyticsService wires an AnalyticsService over the read repositories.
func NewAnalyticsService(deps AnalyticsServiceDeps) (AnalyticsService, error) {
	if deps.Orders == nil {
		return nil, errors.New("analytics service: order repository is required")
	}
	if deps.Products == nil {
		return nil, errors.New("analytics service: product repository is required")
	}
	if deps.Customers == nil {
		return nil, errors.New("analytics service: customer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	return &analyticsService{
		orders:    deps.Orders,
		products:  deps.Products,
		customers: deps.Customers,
		clock:     func() time.Time { return clock().UTC() },
	}, nil
}

// Report loads the store snapshot and computes the full report on demand.
// The load is an O(n) scan over the store's collections; nothing about the
// report is persisted, consumers re-derive whenever they need fresh numbers.
func (s *analyticsService) Report(ctx context.Context, cmd AnalyticsReportCommand) (AnalyticsReport, error) {
	if strings.TrimSpace(cmd.StoreID) == "" {
		return AnalyticsReport{}, fmt.Errorf("%w: store id is required", ErrAnalyticsInvalidInput)
	}
	from := cmd.From.UTC()
	to := cmd.To.UTC()
	if to.IsZero() {
		to = s.clock()
	}
	if from.IsZero() {
		from = to.AddDate(0, -1, 0)
	}
	if !from.Before(to) {
		return AnalyticsReport{}, fmt.Errorf("%w: period start must precede end", ErrAnalyticsInvalidInput)
	}

	snapshot, err := s.loadSnapshot(ctx, cmd.StoreID, from, to)
	if err != nil {
		return AnalyticsReport{}, err
	}
	return BuildReport(cmd.StoreID, snapshot, from, to), nil
}

func (s *analyticsService) loadSnapshot(ctx context.Context, storeID string, from, to time.Time) (Snapshot, error) {
	var snapshot Snapshot

	// The comparison needs the preceding period of equal length as well.
	loadFrom := from.Add(-to.Sub(from))

	token := ""
	for {
		page, err := s.orders.List(ctx, repositories.OrderListFilter{
			StoreID:    storeID,
			DateRange:  domain.RangeQuery[time.Time]{From: &loadFrom, To: &to},
			Pagination: domain.Pagination{PageSize: 200, PageToken: token},
		})
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.Orders = append(snapshot.Orders, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	token = ""
	for {
		page, err := s.products.List(ctx, storeID, repositories.ProductListFilter{
			Pagination: domain.Pagination{PageSize: 200, PageToken: token},
		})
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.Products = append(snapshot.Products, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	token = ""
	for {
		page, err := s.customers.List(ctx, storeID, repositories.CustomerListFilter{
			Pagination: domain.Pagination{PageSize: 200, PageToken: token},
		})
		if err != nil {
			return Snapshot{}, err
		}
		snapshot.Customers = append(snapshot.Customers, page.Items...)
		if page.NextPageToken == "" {
			break
		}
		token = page.NextPageToken
	}

	return snapshot, nil
}
