package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quimera-ai/commerce-api/internal/platform/httpx"
	"github.com/quimera-ai/commerce-api/internal/services"
)

const defaultReportWindow = 30 * 24 * time.Hour

// AnalyticsHandlers exposes the on-demand store report endpoint.
type AnalyticsHandlers struct {
	analytics services.AnalyticsService
	clock     func() time.Time
}

// NewAnalyticsHandlers constructs the analytics handlers.
func NewAnalyticsHandlers(analytics services.AnalyticsService) *AnalyticsHandlers {
	return &AnalyticsHandlers{analytics: analytics, clock: time.Now}
}

// Routes wires the analytics endpoints onto the provided router.
func (h *AnalyticsHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/report", h.getReport)
}

type revenueBucketPayload struct {
	Key     string `json:"key"`
	Revenue int64  `json:"revenue"`
	Orders  int    `json:"orders"`
}

type productSalesPayload struct {
	ProductID    string `json:"productId"`
	Name         string `json:"name"`
	QuantitySold int    `json:"quantitySold"`
	Revenue      int64  `json:"revenue"`
}

type periodComparisonPayload struct {
	Revenue         int64   `json:"revenue"`
	PreviousRevenue int64   `json:"previousRevenue"`
	RevenueChange   float64 `json:"revenueChangePct"`
	Orders          int     `json:"orders"`
	PreviousOrders  int     `json:"previousOrders"`
	OrdersChange    float64 `json:"ordersChangePct"`
}

type analyticsReportResponse struct {
	From              string                  `json:"from"`
	To                string                  `json:"to"`
	TotalRevenue      int64                   `json:"totalRevenue"`
	AverageOrderValue int64                   `json:"averageOrderValue"`
	TotalOrders       int                     `json:"totalOrders"`
	PaidOrders        int                     `json:"paidOrders"`
	CancelledOrders   int                     `json:"cancelledOrders"`
	ConversionRate    float64                 `json:"conversionRate"`
	CancellationRate  float64                 `json:"cancellationRate"`
	RevenueByDay      []revenueBucketPayload  `json:"revenueByDay"`
	RevenueByMonth    []revenueBucketPayload  `json:"revenueByMonth"`
	TopProducts       []productSalesPayload   `json:"topProducts"`
	Comparison        periodComparisonPayload `json:"comparison"`
	LowStockCount     int                     `json:"lowStockCount"`
	OutOfStockCount   int                     `json:"outOfStockCount"`
	CustomerCount     int                     `json:"customerCount"`
}

func (h *AnalyticsHandlers) getReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	query := r.URL.Query()

	now := h.clock().UTC()
	from := now.Add(-defaultReportWindow)
	to := now

	if raw := query.Get("from"); raw != "" {
		parsed, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_time", "from must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		from = parsed
	}
	if raw := query.Get("to"); raw != "" {
		parsed, err := parseTimeParam(raw)
		if err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_time", "to must be RFC 3339 or YYYY-MM-DD", http.StatusBadRequest))
			return
		}
		to = parsed
	}

	report, err := h.analytics.Report(ctx, services.AnalyticsReportCommand{
		StoreID: storeIDParam(r),
		From:    from,
		To:      to,
	})
	if err != nil {
		writeAnalyticsError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, buildAnalyticsReportResponse(report))
}

func buildAnalyticsReportResponse(report services.AnalyticsReport) analyticsReportResponse {
	resp := analyticsReportResponse{
		From:              formatTime(report.From),
		To:                formatTime(report.To),
		TotalRevenue:      report.TotalRevenue,
		AverageOrderValue: report.AverageOrderValue,
		TotalOrders:       report.TotalOrders,
		PaidOrders:        report.PaidOrders,
		CancelledOrders:   report.CancelledOrders,
		ConversionRate:    report.ConversionRate,
		CancellationRate:  report.CancellationRate,
		RevenueByDay:      make([]revenueBucketPayload, 0, len(report.RevenueByDay)),
		RevenueByMonth:    make([]revenueBucketPayload, 0, len(report.RevenueByMonth)),
		TopProducts:       make([]productSalesPayload, 0, len(report.TopProducts)),
		Comparison: periodComparisonPayload{
			Revenue:         report.Comparison.Revenue,
			PreviousRevenue: report.Comparison.PreviousRevenue,
			RevenueChange:   report.Comparison.RevenueChange,
			Orders:          report.Comparison.Orders,
			PreviousOrders:  report.Comparison.PreviousOrders,
			OrdersChange:    report.Comparison.OrdersChange,
		},
		LowStockCount:   report.LowStockCount,
		OutOfStockCount: report.OutOfStockCount,
		CustomerCount:   report.CustomerCount,
	}
	for _, bucket := range report.RevenueByDay {
		resp.RevenueByDay = append(resp.RevenueByDay, revenueBucketPayload(bucket))
	}
	for _, bucket := range report.RevenueByMonth {
		resp.RevenueByMonth = append(resp.RevenueByMonth, revenueBucketPayload(bucket))
	}
	for _, product := range report.TopProducts {
		resp.TopProducts = append(resp.TopProducts, productSalesPayload(product))
	}
	return resp
}

func writeAnalyticsError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrAnalyticsInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_report_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "failed to compute report", http.StatusInternalServerError))
	}
}
