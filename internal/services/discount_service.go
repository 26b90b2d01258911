package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const (
	discountIDPrefix = "dsc_"

	generatedCodeLength   = 8
	generatedCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeGenerationRetries = 5
)

var (
	// ErrDiscountInvalidInput signals the caller provided invalid data.
	ErrDiscountInvalidInput = errors.New("discount: invalid input")
	// ErrDiscountNotFound indicates the discount could not be located.
	ErrDiscountNotFound = errors.New("discount: not found")
	// ErrDiscountCodeTaken indicates another discount already owns the code.
	ErrDiscountCodeTaken = errors.New("discount: code already in use")
)

// CalculateDiscountAmount computes the cart reduction for a discount. It is a
// pure function: percentage takes value as a percent of the subtotal, fixed
// amount is capped at the subtotal, free shipping refunds the shipping cost,
// and unknown types reduce nothing.
func CalculateDiscountAmount(discount domain.Discount, subtotal, shipping int64) int64 {
	if subtotal < 0 {
		subtotal = 0
	}
	switch discount.Type {
	case domain.DiscountTypePercentage:
		value := discount.Value
		if value < 0 {
			return 0
		}
		if value > 100 {
			value = 100
		}
		return subtotal * value / 100
	case domain.DiscountTypeFixedAmount:
		value := discount.Value
		if value < 0 {
			return 0
		}
		if value > subtotal {
			return subtotal
		}
		return value
	case domain.DiscountTypeFreeShipping:
		if shipping < 0 {
			return 0
		}
		return shipping
	default:
		return 0
	}
}

// DiscountServiceDeps bundles collaborators required to construct the discount service.
type DiscountServiceDeps struct {
	Discounts   repositories.DiscountRepository
	Clock       func() time.Time
	IDGenerator func() string
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type discountService struct {
	repo   repositories.DiscountRepository
	clock  func() time.Time
	newID  func() string
	logger func(context.Context, string, map[string]any)
}

// NewDiscountService wires a DiscountService backed by the provided repository.
func NewDiscountService(deps DiscountServiceDeps) (DiscountService, error) {
	if deps.Discounts == nil {
		return nil, errors.New("discount service: discount repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &discountService{
		repo:   deps.Discounts,
		clock:  func() time.Time { return clock().UTC() },
		newID:  idGen,
		logger: logger,
	}, nil
}

// Validate checks a code against a subtotal. Rejections are reported in a
// fixed order: existence, active flag, start date, end date, usage cap, then
// minimum purchase.
func (s *discountService) Validate(ctx context.Context, cmd ValidateDiscountCommand) (DiscountValidation, error) {
	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code == "" {
		return DiscountValidation{Reason: DiscountReasonNotFound}, nil
	}

	discount, err := s.repo.FindByCode(ctx, cmd.StoreID, code)
	if err != nil {
		if isDiscountNotFound(err) {
			return DiscountValidation{Reason: DiscountReasonNotFound}, nil
		}
		return DiscountValidation{}, err
	}

	now := s.clock()
	switch {
	case !discount.IsActive:
		return DiscountValidation{Reason: DiscountReasonInactive, Discount: discount}, nil
	case discount.StartsAt != nil && now.Before(*discount.StartsAt):
		return DiscountValidation{Reason: DiscountReasonNotStarted, Discount: discount}, nil
	case discount.EndsAt != nil && now.After(*discount.EndsAt):
		return DiscountValidation{Reason: DiscountReasonExpired, Discount: discount}, nil
	case discount.Exhausted():
		return DiscountValidation{Reason: DiscountReasonExhausted, Discount: discount}, nil
	case cmd.Subtotal < discount.MinimumPurchase:
		return DiscountValidation{Reason: DiscountReasonMinimumNotMet, Discount: discount}, nil
	}

	return DiscountValidation{Valid: true, Discount: discount}, nil
}

func (s *discountService) Create(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error) {
	if err := validateDiscountCommand(cmd); err != nil {
		return Discount{}, err
	}

	now := s.clock()
	discount := domain.Discount{
		ID:              discountIDPrefix + s.newID(),
		StoreID:         cmd.StoreID,
		Type:            cmd.Type,
		Value:           cmd.Value,
		MinimumPurchase: cmd.MinimumPurchase,
		MaxUses:         cmd.MaxUses,
		StartsAt:        cmd.StartsAt,
		EndsAt:          cmd.EndsAt,
		IsActive:        cmd.IsActive,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	code := strings.ToUpper(strings.TrimSpace(cmd.Code))
	if code != "" {
		discount.Code = code
		if err := s.repo.Insert(ctx, discount); err != nil {
			if isDiscountCodeExists(err) {
				return Discount{}, fmt.Errorf("%w: %s", ErrDiscountCodeTaken, code)
			}
			return Discount{}, err
		}
		s.logger(ctx, "discount.created", map[string]any{"discountId": discount.ID, "code": discount.Code})
		return discount, nil
	}

	// Autogenerated codes may collide with existing ones; retry with fresh
	// codes a few times before giving up.
	var lastErr error
	for attempt := 0; attempt < codeGenerationRetries; attempt++ {
		generated, err := generateDiscountCode()
		if err != nil {
			return Discount{}, err
		}
		discount.Code = generated
		if err := s.repo.Insert(ctx, discount); err != nil {
			if isDiscountCodeExists(err) {
				lastErr = err
				continue
			}
			return Discount{}, err
		}
		s.logger(ctx, "discount.created", map[string]any{"discountId": discount.ID, "code": discount.Code})
		return discount, nil
	}
	return Discount{}, fmt.Errorf("%w: could not generate a unique code: %v", ErrDiscountCodeTaken, lastErr)
}

func (s *discountService) Update(ctx context.Context, cmd UpsertDiscountCommand) (Discount, error) {
	if strings.TrimSpace(cmd.DiscountID) == "" {
		return Discount{}, fmt.Errorf("%w: discount id is required", ErrDiscountInvalidInput)
	}
	if err := validateDiscountCommand(cmd); err != nil {
		return Discount{}, err
	}

	current, err := s.Get(ctx, cmd.StoreID, cmd.DiscountID)
	if err != nil {
		return Discount{}, err
	}

	updated := current
	updated.Type = cmd.Type
	updated.Value = cmd.Value
	updated.MinimumPurchase = cmd.MinimumPurchase
	updated.MaxUses = cmd.MaxUses
	updated.StartsAt = cmd.StartsAt
	updated.EndsAt = cmd.EndsAt
	updated.IsActive = cmd.IsActive
	updated.UpdatedAt = s.clock()
	if code := strings.ToUpper(strings.TrimSpace(cmd.Code)); code != "" {
		updated.Code = code
	}

	if err := s.repo.Update(ctx, updated); err != nil {
		if isDiscountCodeExists(err) {
			return Discount{}, fmt.Errorf("%w: %s", ErrDiscountCodeTaken, updated.Code)
		}
		if isDiscountNotFound(err) {
			return Discount{}, fmt.Errorf("%w: %s", ErrDiscountNotFound, cmd.DiscountID)
		}
		return Discount{}, err
	}
	return updated, nil
}

func (s *discountService) Deactivate(ctx context.Context, storeID, discountID string) (Discount, error) {
	current, err := s.Get(ctx, storeID, discountID)
	if err != nil {
		return Discount{}, err
	}
	if !current.IsActive {
		return current, nil
	}
	current.IsActive = false
	current.UpdatedAt = s.clock()
	if err := s.repo.Update(ctx, current); err != nil {
		return Discount{}, err
	}
	s.logger(ctx, "discount.deactivated", map[string]any{"discountId": current.ID})
	return current, nil
}

func (s *discountService) Delete(ctx context.Context, storeID, discountID string) error {
	if strings.TrimSpace(discountID) == "" {
		return fmt.Errorf("%w: discount id is required", ErrDiscountInvalidInput)
	}
	if err := s.repo.Delete(ctx, storeID, discountID); err != nil {
		if isDiscountNotFound(err) {
			return fmt.Errorf("%w: %s", ErrDiscountNotFound, discountID)
		}
		return err
	}
	return nil
}

func (s *discountService) Get(ctx context.Context, storeID, discountID string) (Discount, error) {
	if strings.TrimSpace(discountID) == "" {
		return Discount{}, fmt.Errorf("%w: discount id is required", ErrDiscountInvalidInput)
	}
	discount, err := s.repo.FindByID(ctx, storeID, discountID)
	if err != nil {
		if isDiscountNotFound(err) {
			return Discount{}, fmt.Errorf("%w: %s", ErrDiscountNotFound, discountID)
		}
		return Discount{}, err
	}
	return discount, nil
}

func (s *discountService) List(ctx context.Context, storeID string, filter DiscountListFilter) (domain.CursorPage[Discount], error) {
	return s.repo.List(ctx, storeID, repositories.DiscountListFilter{
		ActiveOnly: filter.ActiveOnly,
		Pagination: filter.Pagination,
	})
}

func validateDiscountCommand(cmd UpsertDiscountCommand) error {
	if strings.TrimSpace(cmd.StoreID) == "" {
		return fmt.Errorf("%w: store id is required", ErrDiscountInvalidInput)
	}
	if !domain.KnownDiscountType(cmd.Type) {
		return fmt.Errorf("%w: unknown discount type %q", ErrDiscountInvalidInput, cmd.Type)
	}
	if cmd.Value < 0 {
		return fmt.Errorf("%w: value must be >= 0", ErrDiscountInvalidInput)
	}
	if cmd.Type == domain.DiscountTypePercentage && cmd.Value > 100 {
		return fmt.Errorf("%w: percentage value must be <= 100", ErrDiscountInvalidInput)
	}
	if cmd.MinimumPurchase < 0 {
		return fmt.Errorf("%w: minimum purchase must be >= 0", ErrDiscountInvalidInput)
	}
	if cmd.MaxUses != nil && *cmd.MaxUses <= 0 {
		return fmt.Errorf("%w: max uses must be positive", ErrDiscountInvalidInput)
	}
	if cmd.StartsAt != nil && cmd.EndsAt != nil && cmd.EndsAt.Before(*cmd.StartsAt) {
		return fmt.Errorf("%w: end date precedes start date", ErrDiscountInvalidInput)
	}
	return nil
}

// generateDiscountCode returns an 8-character code from an alphabet with the
// ambiguous characters (0/O, 1/I) removed.
func generateDiscountCode() (string, error) {
	buf := make([]byte, generatedCodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("discount: generate code: %w", err)
	}
	for i, b := range buf {
		buf[i] = generatedCodeAlphabet[int(b)%len(generatedCodeAlphabet)]
	}
	return string(buf), nil
}

func isDiscountNotFound(err error) bool {
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		return discountErr.Code == repositories.DiscountErrorNotFound
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func isDiscountCodeExists(err error) bool {
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		return discountErr.Code == repositories.DiscountErrorCodeExists
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		return repoErr.IsConflict()
	}
	return false
}
