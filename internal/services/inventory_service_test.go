package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

type stubProductRepository struct {
	products map[string]domain.Product

	inserted []domain.Product
	updated  []domain.Product
	deleted  []string

	pages       []domain.CursorPage[domain.Product]
	listFilters []repositories.ProductListFilter

	adjustResult repositories.StockAdjustmentResult
	adjustErr    error
	adjustReqs   []repositories.StockAdjustment

	subscription   domain.RestockSubscription
	subscribeErr   error
	subscribedWith []string

	subscribers []domain.RestockSubscription
	notifiedIDs []string
	markErr     error
}

func (s *stubProductRepository) Insert(ctx context.Context, product domain.Product) error {
	s.inserted = append(s.inserted, product)
	return nil
}

func (s *stubProductRepository) Update(ctx context.Context, product domain.Product) error {
	s.updated = append(s.updated, product)
	return nil
}

func (s *stubProductRepository) Delete(ctx context.Context, storeID, productID string) error {
	s.deleted = append(s.deleted, productID)
	return nil
}

func (s *stubProductRepository) FindByID(ctx context.Context, storeID, productID string) (domain.Product, error) {
	if p, ok := s.products[productID]; ok {
		return p, nil
	}
	return domain.Product{}, stubRepoError{notFound: true}
}

func (s *stubProductRepository) List(ctx context.Context, storeID string, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	s.listFilters = append(s.listFilters, filter)
	if len(s.pages) == 0 {
		return domain.CursorPage[domain.Product]{}, nil
	}
	page := s.pages[0]
	s.pages = s.pages[1:]
	return page, nil
}

func (s *stubProductRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustment) (repositories.StockAdjustmentResult, error) {
	s.adjustReqs = append(s.adjustReqs, req)
	return s.adjustResult, s.adjustErr
}

func (s *stubProductRepository) SubscribeRestock(ctx context.Context, storeID, productID, email string, now time.Time) (domain.RestockSubscription, error) {
	s.subscribedWith = append(s.subscribedWith, email)
	return s.subscription, s.subscribeErr
}

func (s *stubProductRepository) ListRestockSubscribers(ctx context.Context, storeID, productID string) ([]domain.RestockSubscription, error) {
	return s.subscribers, nil
}

func (s *stubProductRepository) MarkRestockNotified(ctx context.Context, storeID, productID string, subscriptionIDs []string, now time.Time) error {
	s.notifiedIDs = append(s.notifiedIDs, subscriptionIDs...)
	return s.markErr
}

type stubStockEvents struct {
	events []StockEvent
	err    error
}

func (s *stubStockEvents) PublishStockEvent(ctx context.Context, event StockEvent) error {
	s.events = append(s.events, event)
	return s.err
}

func (s *stubStockEvents) types() []string {
	types := make([]string, len(s.events))
	for i, e := range s.events {
		types[i] = e.Type
	}
	return types
}

func newInventoryServiceForTest(t *testing.T, repo *stubProductRepository, events *stubStockEvents, now time.Time) InventoryService {
	t.Helper()
	svc, err := NewInventoryService(InventoryServiceDeps{
		Products: repo,
		Events:   events,
		Clock:    fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewInventoryService error: %v", err)
	}
	return svc
}

func TestInventoryService_AdjustStock_RequiresExactlyOneMode(t *testing.T) {
	svc := newInventoryServiceForTest(t, &stubProductRepository{}, &stubStockEvents{}, time.Now())

	_, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		StoreID:   "store_1",
		ProductID: "prd_1",
	})
	if !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected ErrInventoryInvalidInput for neither mode, got %v", err)
	}

	_, err = svc.AdjustStock(context.Background(), AdjustStockCommand{
		StoreID:   "store_1",
		ProductID: "prd_1",
		Delta:     intPtr(3),
		SetTo:     intPtr(10),
	})
	if !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected ErrInventoryInvalidInput for both modes, got %v", err)
	}
}

func TestInventoryService_AdjustStock_PublishesAdjustedEvent(t *testing.T) {
	now := time.Date(2026, time.May, 10, 8, 0, 0, 0, time.UTC)
	repo := &stubProductRepository{
		adjustResult: repositories.StockAdjustmentResult{
			Product: domain.Product{
				ID: "prd_1", SKU: "SKU-1", Quantity: 12,
				TrackInventory: true, LowStockThreshold: 5,
			},
		},
	}
	events := &stubStockEvents{}
	svc := newInventoryServiceForTest(t, repo, events, now)

	product, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		StoreID:   "store_1",
		ProductID: "prd_1",
		Delta:     intPtr(5),
		ActorID:   " user_1 ",
		Reason:    "received shipment",
	})
	if err != nil {
		t.Fatalf("AdjustStock error: %v", err)
	}
	if product.Quantity != 12 {
		t.Fatalf("expected quantity 12, got %d", product.Quantity)
	}
	if len(repo.adjustReqs) != 1 {
		t.Fatalf("expected one adjustment, got %d", len(repo.adjustReqs))
	}
	if repo.adjustReqs[0].ActorID != "user_1" {
		t.Fatalf("expected trimmed actor id, got %q", repo.adjustReqs[0].ActorID)
	}
	if got := events.types(); len(got) != 1 || got[0] != "inventory.adjusted" {
		t.Fatalf("expected a single adjusted event, got %v", got)
	}
}

func TestInventoryService_AdjustStock_EmitsLowStockEvent(t *testing.T) {
	repo := &stubProductRepository{
		adjustResult: repositories.StockAdjustmentResult{
			Product: domain.Product{
				ID: "prd_1", SKU: "SKU-1", Quantity: 3,
				TrackInventory: true, LowStockThreshold: 5,
			},
		},
	}
	events := &stubStockEvents{}
	svc := newInventoryServiceForTest(t, repo, events, time.Now())

	if _, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		StoreID: "store_1", ProductID: "prd_1", Delta: intPtr(-2),
	}); err != nil {
		t.Fatalf("AdjustStock error: %v", err)
	}
	got := events.types()
	if len(got) != 2 || got[0] != "inventory.adjusted" || got[1] != "inventory.low_stock" {
		t.Fatalf("expected adjusted then low_stock, got %v", got)
	}
}

func TestInventoryService_AdjustStock_EmitsOutOfStockEvent(t *testing.T) {
	repo := &stubProductRepository{
		adjustResult: repositories.StockAdjustmentResult{
			Product: domain.Product{
				ID: "prd_1", SKU: "SKU-1", Quantity: 0, TrackInventory: true,
			},
		},
	}
	events := &stubStockEvents{}
	svc := newInventoryServiceForTest(t, repo, events, time.Now())

	if _, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		StoreID: "store_1", ProductID: "prd_1", SetTo: intPtr(0),
	}); err != nil {
		t.Fatalf("AdjustStock error: %v", err)
	}
	got := events.types()
	if len(got) != 2 || got[1] != "inventory.out_of_stock" {
		t.Fatalf("expected adjusted then out_of_stock, got %v", got)
	}
	if events.events[1].Quantity != 0 {
		t.Fatalf("expected quantity 0 in out_of_stock event, got %d", events.events[1].Quantity)
	}
}

func TestInventoryService_AdjustStock_InsufficientStock(t *testing.T) {
	repo := &stubProductRepository{
		adjustErr: repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, "quantity would drop below zero", nil),
	}
	svc := newInventoryServiceForTest(t, repo, &stubStockEvents{}, time.Now())

	_, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		StoreID: "store_1", ProductID: "prd_1", Delta: intPtr(-50),
	})
	if !errors.Is(err, ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
}

func TestInventoryService_AdjustStock_RestockNotifiesSubscribers(t *testing.T) {
	repo := &stubProductRepository{
		adjustResult: repositories.StockAdjustmentResult{
			Product: domain.Product{
				ID: "prd_1", SKU: "SKU-1", Quantity: 20,
				TrackInventory: true, LowStockThreshold: 5,
			},
			Restocked: true,
		},
		subscribers: []domain.RestockSubscription{
			{ID: "sub_1", Email: "a@example.com"},
			{ID: "sub_2", Email: "b@example.com"},
		},
	}
	events := &stubStockEvents{}
	svc := newInventoryServiceForTest(t, repo, events, time.Now())

	if _, err := svc.AdjustStock(context.Background(), AdjustStockCommand{
		StoreID: "store_1", ProductID: "prd_1", SetTo: intPtr(20),
	}); err != nil {
		t.Fatalf("AdjustStock error: %v", err)
	}
	got := events.types()
	if len(got) != 2 || got[0] != "inventory.adjusted" || got[1] != "inventory.restock.notify" {
		t.Fatalf("expected adjusted then restock.notify, got %v", got)
	}
	notify := events.events[1]
	if len(notify.Emails) != 2 || notify.Emails[0] != "a@example.com" {
		t.Fatalf("expected subscriber emails in notify event, got %v", notify.Emails)
	}
	if len(repo.notifiedIDs) != 2 || repo.notifiedIDs[0] != "sub_1" || repo.notifiedIDs[1] != "sub_2" {
		t.Fatalf("expected both subscriptions marked notified, got %v", repo.notifiedIDs)
	}
}

func TestInventoryService_ListLowStock_ScansTrackedCatalog(t *testing.T) {
	low := domain.Product{ID: "prd_low", Quantity: 2, TrackInventory: true, LowStockThreshold: 5}
	healthy := domain.Product{ID: "prd_ok", Quantity: 50, TrackInventory: true, LowStockThreshold: 5}
	out := domain.Product{ID: "prd_out", Quantity: 0, TrackInventory: true}
	repo := &stubProductRepository{
		pages: []domain.CursorPage[domain.Product]{
			{Items: []domain.Product{low, healthy}, NextPageToken: "page2"},
			{Items: []domain.Product{out}},
		},
	}
	svc := newInventoryServiceForTest(t, repo, &stubStockEvents{}, time.Now())

	matched, err := svc.ListLowStock(context.Background(), "store_1")
	if err != nil {
		t.Fatalf("ListLowStock error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "prd_low" {
		t.Fatalf("expected only prd_low, got %+v", matched)
	}
	if len(repo.listFilters) != 2 {
		t.Fatalf("expected two pages fetched, got %d", len(repo.listFilters))
	}
	if !repo.listFilters[0].TrackedOnly || !repo.listFilters[1].TrackedOnly {
		t.Fatalf("expected tracked-only scans, got %+v", repo.listFilters)
	}
	if repo.listFilters[1].Pagination.PageToken != "page2" {
		t.Fatalf("expected second page token page2, got %q", repo.listFilters[1].Pagination.PageToken)
	}
}

func TestInventoryService_ListOutOfStock_KeepsExhaustedOnly(t *testing.T) {
	repo := &stubProductRepository{
		pages: []domain.CursorPage[domain.Product]{
			{Items: []domain.Product{
				{ID: "prd_out", Quantity: 0, TrackInventory: true},
				{ID: "prd_low", Quantity: 1, TrackInventory: true, LowStockThreshold: 5},
			}},
		},
	}
	svc := newInventoryServiceForTest(t, repo, &stubStockEvents{}, time.Now())

	matched, err := svc.ListOutOfStock(context.Background(), "store_1")
	if err != nil {
		t.Fatalf("ListOutOfStock error: %v", err)
	}
	if len(matched) != 1 || matched[0].ID != "prd_out" {
		t.Fatalf("expected only prd_out, got %+v", matched)
	}
}

func TestInventoryService_SubscribeRestock_NormalisesEmail(t *testing.T) {
	repo := &stubProductRepository{subscription: domain.RestockSubscription{ID: "sub_1"}}
	svc := newInventoryServiceForTest(t, repo, &stubStockEvents{}, time.Now())

	if _, err := svc.SubscribeRestock(context.Background(), "store_1", "prd_1", "  Jane@Example.COM "); err != nil {
		t.Fatalf("SubscribeRestock error: %v", err)
	}
	if len(repo.subscribedWith) != 1 || repo.subscribedWith[0] != "jane@example.com" {
		t.Fatalf("expected lowercased trimmed email, got %v", repo.subscribedWith)
	}

	if _, err := svc.SubscribeRestock(context.Background(), "store_1", "prd_1", "not-an-email"); !errors.Is(err, ErrInventoryInvalidInput) {
		t.Fatalf("expected ErrInventoryInvalidInput, got %v", err)
	}
}

func TestInventoryService_NotifyRestocked_NoSubscribers(t *testing.T) {
	events := &stubStockEvents{}
	svc := newInventoryServiceForTest(t, &stubProductRepository{}, events, time.Now())

	notified, err := svc.NotifyRestocked(context.Background(), "store_1", "prd_1")
	if err != nil {
		t.Fatalf("NotifyRestocked error: %v", err)
	}
	if notified != 0 {
		t.Fatalf("expected zero notifications, got %d", notified)
	}
	if len(events.events) != 0 {
		t.Fatalf("expected no events, got %v", events.types())
	}
}

func TestInventoryService_NotifyRestocked_PublishFailureLeavesPending(t *testing.T) {
	repo := &stubProductRepository{
		subscribers: []domain.RestockSubscription{{ID: "sub_1", Email: "a@example.com"}},
	}
	events := &stubStockEvents{err: errors.New("publish failed")}
	svc := newInventoryServiceForTest(t, repo, events, time.Now())

	if _, err := svc.NotifyRestocked(context.Background(), "store_1", "prd_1"); err == nil {
		t.Fatalf("expected error when publish fails")
	}
	if len(repo.notifiedIDs) != 0 {
		t.Fatalf("expected subscriptions left pending, got %v", repo.notifiedIDs)
	}
}
