package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

type stubDiscountRepository struct {
	byCode map[string]domain.Discount
	byID   map[string]domain.Discount

	inserted   []domain.Discount
	insertErr  error
	insertErrs []error

	updated   []domain.Discount
	updateErr error

	deleteErr error
}

func (s *stubDiscountRepository) Insert(ctx context.Context, discount domain.Discount) error {
	s.inserted = append(s.inserted, discount)
	if len(s.insertErrs) > 0 {
		err := s.insertErrs[0]
		s.insertErrs = s.insertErrs[1:]
		return err
	}
	return s.insertErr
}

func (s *stubDiscountRepository) Update(ctx context.Context, discount domain.Discount) error {
	s.updated = append(s.updated, discount)
	return s.updateErr
}

func (s *stubDiscountRepository) Delete(ctx context.Context, storeID, discountID string) error {
	return s.deleteErr
}

func (s *stubDiscountRepository) FindByID(ctx context.Context, storeID, discountID string) (domain.Discount, error) {
	if d, ok := s.byID[discountID]; ok {
		return d, nil
	}
	return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound, "discount not found", nil)
}

func (s *stubDiscountRepository) FindByCode(ctx context.Context, storeID, code string) (domain.Discount, error) {
	if d, ok := s.byCode[code]; ok {
		return d, nil
	}
	return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound, "discount not found", nil)
}

func (s *stubDiscountRepository) List(ctx context.Context, storeID string, filter repositories.DiscountListFilter) (domain.CursorPage[domain.Discount], error) {
	return domain.CursorPage[domain.Discount]{}, nil
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func newDiscountServiceForTest(t *testing.T, repo *stubDiscountRepository, now time.Time) DiscountService {
	t.Helper()
	svc, err := NewDiscountService(DiscountServiceDeps{
		Discounts: repo,
		Clock:     fixedClock(now),
	})
	if err != nil {
		t.Fatalf("NewDiscountService error: %v", err)
	}
	return svc
}

func TestDiscountService_Validate_RejectionOrder(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		name     string
		discount *domain.Discount
		subtotal int64
		reason   DiscountValidationReason
	}{
		{
			name:   "unknown code",
			reason: DiscountReasonNotFound,
		},
		{
			name: "inactive",
			discount: &domain.Discount{
				Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10,
			},
			reason: DiscountReasonInactive,
		},
		{
			name: "inactive wins over expired",
			discount: &domain.Discount{
				Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10,
				EndsAt: timePtr(now.Add(-time.Hour)),
			},
			reason: DiscountReasonInactive,
		},
		{
			name: "not started",
			discount: &domain.Discount{
				Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10, IsActive: true,
				StartsAt: timePtr(now.Add(time.Hour)),
			},
			reason: DiscountReasonNotStarted,
		},
		{
			name: "expired",
			discount: &domain.Discount{
				Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10, IsActive: true,
				EndsAt: timePtr(now.Add(-time.Hour)),
			},
			reason: DiscountReasonExpired,
		},
		{
			name: "usage cap reached",
			discount: &domain.Discount{
				Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10, IsActive: true,
				MaxUses: intPtr(5), UsedCount: 5,
			},
			reason: DiscountReasonExhausted,
		},
		{
			name: "minimum purchase not met",
			discount: &domain.Discount{
				Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10, IsActive: true,
				MinimumPurchase: 5000,
			},
			subtotal: 4999,
			reason:   DiscountReasonMinimumNotMet,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := &stubDiscountRepository{byCode: map[string]domain.Discount{}}
			if tc.discount != nil {
				repo.byCode[tc.discount.Code] = *tc.discount
			}
			svc := newDiscountServiceForTest(t, repo, now)

			result, err := svc.Validate(context.Background(), ValidateDiscountCommand{
				StoreID:  "store_1",
				Code:     "SAVE10",
				Subtotal: tc.subtotal,
			})
			if err != nil {
				t.Fatalf("Validate error: %v", err)
			}
			if result.Valid {
				t.Fatalf("expected rejection, got valid")
			}
			if result.Reason != tc.reason {
				t.Fatalf("expected reason %q, got %q", tc.reason, result.Reason)
			}
		})
	}
}

func TestDiscountService_Validate_AcceptsAndNormalisesCode(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	discount := domain.Discount{
		ID:              "dsc_1",
		Code:            "SAVE10",
		Type:            domain.DiscountTypePercentage,
		Value:           10,
		MinimumPurchase: 1000,
		MaxUses:         intPtr(100),
		UsedCount:       3,
		IsActive:        true,
		StartsAt:        timePtr(now.Add(-24 * time.Hour)),
		EndsAt:          timePtr(now.Add(24 * time.Hour)),
	}
	repo := &stubDiscountRepository{byCode: map[string]domain.Discount{"SAVE10": discount}}
	svc := newDiscountServiceForTest(t, repo, now)

	result, err := svc.Validate(context.Background(), ValidateDiscountCommand{
		StoreID:  "store_1",
		Code:     "  save10  ",
		Subtotal: 5000,
	})
	if err != nil {
		t.Fatalf("Validate error: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid, got reason %q", result.Reason)
	}
	if result.Discount.ID != "dsc_1" {
		t.Fatalf("expected discount dsc_1, got %q", result.Discount.ID)
	}
}

func TestCalculateDiscountAmount(t *testing.T) {
	cases := []struct {
		name     string
		discount domain.Discount
		subtotal int64
		shipping int64
		want     int64
	}{
		{
			name:     "percentage",
			discount: domain.Discount{Type: domain.DiscountTypePercentage, Value: 10},
			subtotal: 5000,
			want:     500,
		},
		{
			name:     "percentage above 100 clamps to subtotal",
			discount: domain.Discount{Type: domain.DiscountTypePercentage, Value: 150},
			subtotal: 5000,
			want:     5000,
		},
		{
			name:     "negative percentage reduces nothing",
			discount: domain.Discount{Type: domain.DiscountTypePercentage, Value: -10},
			subtotal: 5000,
			want:     0,
		},
		{
			name:     "fixed amount",
			discount: domain.Discount{Type: domain.DiscountTypeFixedAmount, Value: 750},
			subtotal: 5000,
			want:     750,
		},
		{
			name:     "fixed amount capped at subtotal",
			discount: domain.Discount{Type: domain.DiscountTypeFixedAmount, Value: 9000},
			subtotal: 5000,
			want:     5000,
		},
		{
			name:     "free shipping refunds shipping",
			discount: domain.Discount{Type: domain.DiscountTypeFreeShipping, Value: 1},
			subtotal: 5000,
			shipping: 799,
			want:     799,
		},
		{
			name:     "free shipping with no shipping",
			discount: domain.Discount{Type: domain.DiscountTypeFreeShipping},
			subtotal: 5000,
			want:     0,
		},
		{
			name:     "unknown type reduces nothing",
			discount: domain.Discount{Type: domain.DiscountType("bogo"), Value: 50},
			subtotal: 5000,
			want:     0,
		},
		{
			name:     "negative subtotal treated as zero",
			discount: domain.Discount{Type: domain.DiscountTypeFixedAmount, Value: 500},
			subtotal: -100,
			want:     0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := CalculateDiscountAmount(tc.discount, tc.subtotal, tc.shipping)
			if got != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, got)
			}
		})
	}
}

func TestDiscountService_Create_UppercasesCode(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubDiscountRepository{}
	svc := newDiscountServiceForTest(t, repo, now)

	created, err := svc.Create(context.Background(), UpsertDiscountCommand{
		StoreID:  "store_1",
		Code:     " spring26 ",
		Type:     domain.DiscountTypePercentage,
		Value:    15,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if created.Code != "SPRING26" {
		t.Fatalf("expected code SPRING26, got %q", created.Code)
	}
	if !strings.HasPrefix(created.ID, "dsc_") {
		t.Fatalf("expected dsc_ prefixed id, got %q", created.ID)
	}
	if !created.CreatedAt.Equal(now) || !created.UpdatedAt.Equal(now) {
		t.Fatalf("expected timestamps %v, got %v / %v", now, created.CreatedAt, created.UpdatedAt)
	}
	if len(repo.inserted) != 1 {
		t.Fatalf("expected one insert, got %d", len(repo.inserted))
	}
}

func TestDiscountService_Create_CodeTaken(t *testing.T) {
	repo := &stubDiscountRepository{
		insertErr: repositories.NewDiscountError(repositories.DiscountErrorCodeExists, "code exists", nil),
	}
	svc := newDiscountServiceForTest(t, repo, time.Now())

	_, err := svc.Create(context.Background(), UpsertDiscountCommand{
		StoreID:  "store_1",
		Code:     "SAVE10",
		Type:     domain.DiscountTypeFixedAmount,
		Value:    500,
		IsActive: true,
	})
	if !errors.Is(err, ErrDiscountCodeTaken) {
		t.Fatalf("expected ErrDiscountCodeTaken, got %v", err)
	}
}

func TestDiscountService_Create_RetriesGeneratedCode(t *testing.T) {
	repo := &stubDiscountRepository{
		insertErrs: []error{
			repositories.NewDiscountError(repositories.DiscountErrorCodeExists, "code exists", nil),
			nil,
		},
	}
	svc := newDiscountServiceForTest(t, repo, time.Now())

	created, err := svc.Create(context.Background(), UpsertDiscountCommand{
		StoreID:  "store_1",
		Type:     domain.DiscountTypePercentage,
		Value:    20,
		IsActive: true,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if len(repo.inserted) != 2 {
		t.Fatalf("expected two insert attempts, got %d", len(repo.inserted))
	}
	if len(created.Code) != 8 {
		t.Fatalf("expected 8 character generated code, got %q", created.Code)
	}
	for _, r := range created.Code {
		if !strings.ContainsRune("ABCDEFGHJKLMNPQRSTUVWXYZ23456789", r) {
			t.Fatalf("generated code %q contains ambiguous character %q", created.Code, r)
		}
	}
}

func TestDiscountService_Create_GeneratedCodeExhaustion(t *testing.T) {
	collision := repositories.NewDiscountError(repositories.DiscountErrorCodeExists, "code exists", nil)
	repo := &stubDiscountRepository{
		insertErrs: []error{collision, collision, collision, collision, collision},
	}
	svc := newDiscountServiceForTest(t, repo, time.Now())

	_, err := svc.Create(context.Background(), UpsertDiscountCommand{
		StoreID:  "store_1",
		Type:     domain.DiscountTypePercentage,
		Value:    20,
		IsActive: true,
	})
	if !errors.Is(err, ErrDiscountCodeTaken) {
		t.Fatalf("expected ErrDiscountCodeTaken, got %v", err)
	}
	if !strings.Contains(err.Error(), "code exists") {
		t.Fatalf("expected last collision in error, got %v", err)
	}
	if len(repo.inserted) != codeGenerationRetries {
		t.Fatalf("expected %d insert attempts, got %d", codeGenerationRetries, len(repo.inserted))
	}
}

func TestDiscountService_Create_InvalidInput(t *testing.T) {
	start := time.Date(2026, time.June, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		cmd  UpsertDiscountCommand
	}{
		{
			name: "missing store",
			cmd:  UpsertDiscountCommand{Type: domain.DiscountTypePercentage, Value: 10},
		},
		{
			name: "unknown type",
			cmd:  UpsertDiscountCommand{StoreID: "store_1", Type: domain.DiscountType("bogo"), Value: 10},
		},
		{
			name: "negative value",
			cmd:  UpsertDiscountCommand{StoreID: "store_1", Type: domain.DiscountTypeFixedAmount, Value: -1},
		},
		{
			name: "percentage above 100",
			cmd:  UpsertDiscountCommand{StoreID: "store_1", Type: domain.DiscountTypePercentage, Value: 101},
		},
		{
			name: "negative minimum purchase",
			cmd:  UpsertDiscountCommand{StoreID: "store_1", Type: domain.DiscountTypePercentage, Value: 10, MinimumPurchase: -1},
		},
		{
			name: "non positive max uses",
			cmd:  UpsertDiscountCommand{StoreID: "store_1", Type: domain.DiscountTypePercentage, Value: 10, MaxUses: intPtr(0)},
		},
		{
			name: "end precedes start",
			cmd: UpsertDiscountCommand{
				StoreID: "store_1", Type: domain.DiscountTypePercentage, Value: 10,
				StartsAt: timePtr(start), EndsAt: timePtr(start.Add(-time.Hour)),
			},
		},
	}

	svc := newDiscountServiceForTest(t, &stubDiscountRepository{}, time.Now())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Create(context.Background(), tc.cmd)
			if !errors.Is(err, ErrDiscountInvalidInput) {
				t.Fatalf("expected ErrDiscountInvalidInput, got %v", err)
			}
		})
	}
}

func TestDiscountService_Deactivate_Idempotent(t *testing.T) {
	repo := &stubDiscountRepository{
		byID: map[string]domain.Discount{
			"dsc_1": {ID: "dsc_1", Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10},
		},
	}
	svc := newDiscountServiceForTest(t, repo, time.Now())

	discount, err := svc.Deactivate(context.Background(), "store_1", "dsc_1")
	if err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	if discount.IsActive {
		t.Fatalf("expected inactive discount")
	}
	if len(repo.updated) != 0 {
		t.Fatalf("expected no update for already inactive discount, got %d", len(repo.updated))
	}
}

func TestDiscountService_Deactivate_ClearsActiveFlag(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo := &stubDiscountRepository{
		byID: map[string]domain.Discount{
			"dsc_1": {ID: "dsc_1", Code: "SAVE10", Type: domain.DiscountTypePercentage, Value: 10, IsActive: true},
		},
	}
	svc := newDiscountServiceForTest(t, repo, now)

	discount, err := svc.Deactivate(context.Background(), "store_1", "dsc_1")
	if err != nil {
		t.Fatalf("Deactivate error: %v", err)
	}
	if discount.IsActive {
		t.Fatalf("expected inactive discount")
	}
	if len(repo.updated) != 1 {
		t.Fatalf("expected one update, got %d", len(repo.updated))
	}
	if !repo.updated[0].UpdatedAt.Equal(now) {
		t.Fatalf("expected updatedAt %v, got %v", now, repo.updated[0].UpdatedAt)
	}
}

func TestDiscountService_Get_NotFound(t *testing.T) {
	svc := newDiscountServiceForTest(t, &stubDiscountRepository{}, time.Now())

	_, err := svc.Get(context.Background(), "store_1", "dsc_missing")
	if !errors.Is(err, ErrDiscountNotFound) {
		t.Fatalf("expected ErrDiscountNotFound, got %v", err)
	}
}
