package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	pfirestore "github.com/quimera-ai/commerce-api/internal/platform/firestore"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const (
	discountsPattern     = "stores/%s/discounts"
	discountCodesPattern = "stores/%s/discountCodes"
)

type discountDocument struct {
	Code            string     `firestore:"code"`
	Type            string     `firestore:"type"`
	Value           int64      `firestore:"value"`
	MinimumPurchase int64      `firestore:"minimumPurchase,omitempty"`
	MaxUses         *int       `firestore:"maxUses,omitempty"`
	UsedCount       int        `firestore:"usedCount"`
	StartsAt        *time.Time `firestore:"startsAt,omitempty"`
	EndsAt          *time.Time `firestore:"endsAt,omitempty"`
	IsActive        bool       `firestore:"isActive"`
	CreatedAt       time.Time  `firestore:"createdAt"`
	UpdatedAt       time.Time  `firestore:"updatedAt"`
}

func newDiscountDocument(d domain.Discount) discountDocument {
	return discountDocument{
		Code:            normaliseDiscountCode(d.Code),
		Type:            string(d.Type),
		Value:           d.Value,
		MinimumPurchase: d.MinimumPurchase,
		MaxUses:         d.MaxUses,
		UsedCount:       d.UsedCount,
		StartsAt:        d.StartsAt,
		EndsAt:          d.EndsAt,
		IsActive:        d.IsActive,
		CreatedAt:       d.CreatedAt.UTC(),
		UpdatedAt:       d.UpdatedAt.UTC(),
	}
}

func (d discountDocument) toDomain(storeID, id string) domain.Discount {
	return domain.Discount{
		ID:              id,
		StoreID:         storeID,
		Code:            d.Code,
		Type:            domain.DiscountType(d.Type),
		Value:           d.Value,
		MinimumPurchase: d.MinimumPurchase,
		MaxUses:         d.MaxUses,
		UsedCount:       d.UsedCount,
		StartsAt:        d.StartsAt,
		EndsAt:          d.EndsAt,
		IsActive:        d.IsActive,
		CreatedAt:       d.CreatedAt,
		UpdatedAt:       d.UpdatedAt,
	}
}

// discountCodeDocument is the per-store uniqueness index. The document ID is
// the normalised code, so a transactional Create is the uniqueness check.
type discountCodeDocument struct {
	DiscountID string    `firestore:"discountId"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func normaliseDiscountCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// DiscountRepository implements repositories.DiscountRepository with a
// transactional code index enforcing per-store code uniqueness.
type DiscountRepository struct {
	provider  *pfirestore.Provider
	discounts *pfirestore.ScopedRepository[discountDocument]
	codes     *pfirestore.ScopedRepository[discountCodeDocument]
}

// NewDiscountRepository constructs a Firestore-backed discount repository.
func NewDiscountRepository(provider *pfirestore.Provider) (*DiscountRepository, error) {
	if provider == nil {
		return nil, errors.New("discount repository requires firestore provider")
	}
	discounts := pfirestore.NewScopedRepository[discountDocument](provider, discountsPattern, nil, nil)
	codes := pfirestore.NewScopedRepository[discountCodeDocument](provider, discountCodesPattern, nil, nil)
	return &DiscountRepository{provider: provider, discounts: discounts, codes: codes}, nil
}

// Insert creates the discount together with its code index document. The
// index Create fails when another discount already owns the code.
func (r *DiscountRepository) Insert(ctx context.Context, discount domain.Discount) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	if strings.TrimSpace(discount.ID) == "" {
		return errors.New("discount insert: id is required")
	}
	code := normaliseDiscountCode(discount.Code)
	if code == "" {
		return errors.New("discount insert: code is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		codeRef, err := r.codes.DocumentRef(ctx, discount.StoreID, code)
		if err != nil {
			return err
		}
		discountRef, err := r.discounts.DocumentRef(ctx, discount.StoreID, discount.ID)
		if err != nil {
			return err
		}

		if _, err := tx.Get(codeRef); err == nil {
			return repositories.NewDiscountError(repositories.DiscountErrorCodeExists, fmt.Sprintf("code %s is already in use", code), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		if err := tx.Create(codeRef, discountCodeDocument{DiscountID: discount.ID, CreatedAt: discount.CreatedAt.UTC()}); err != nil {
			return err
		}
		return tx.Create(discountRef, newDiscountDocument(discount))
	})
	return wrapDiscountError("discounts.insert", err)
}

// Update rewrites the discount and moves the code index when the code changed.
func (r *DiscountRepository) Update(ctx context.Context, discount domain.Discount) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}
	if strings.TrimSpace(discount.ID) == "" {
		return errors.New("discount update: id is required")
	}
	code := normaliseDiscountCode(discount.Code)
	if code == "" {
		return errors.New("discount update: code is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		discountRef, err := r.discounts.DocumentRef(ctx, discount.StoreID, discount.ID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(discountRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewDiscountError(repositories.DiscountErrorNotFound, fmt.Sprintf("discount %s not found", discount.ID), err)
			}
			return err
		}
		var current discountDocument
		if err := snap.DataTo(&current); err != nil {
			return fmt.Errorf("decode discount %s: %w", discount.ID, err)
		}

		if current.Code != code {
			newCodeRef, err := r.codes.DocumentRef(ctx, discount.StoreID, code)
			if err != nil {
				return err
			}
			if _, err := tx.Get(newCodeRef); err == nil {
				return repositories.NewDiscountError(repositories.DiscountErrorCodeExists, fmt.Sprintf("code %s is already in use", code), nil)
			} else if status.Code(err) != codes.NotFound {
				return err
			}
			oldCodeRef, err := r.codes.DocumentRef(ctx, discount.StoreID, current.Code)
			if err != nil {
				return err
			}
			if err := tx.Delete(oldCodeRef); err != nil {
				return err
			}
			if err := tx.Create(newCodeRef, discountCodeDocument{DiscountID: discount.ID, CreatedAt: discount.UpdatedAt.UTC()}); err != nil {
				return err
			}
		}

		return tx.Set(discountRef, newDiscountDocument(discount))
	})
	return wrapDiscountError("discounts.update", err)
}

// Delete removes the discount along with its code index document.
func (r *DiscountRepository) Delete(ctx context.Context, storeID, discountID string) error {
	if r == nil || r.provider == nil {
		return errors.New("discount repository not initialised")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		discountRef, err := r.discounts.DocumentRef(ctx, storeID, discountID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(discountRef)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewDiscountError(repositories.DiscountErrorNotFound, fmt.Sprintf("discount %s not found", discountID), err)
			}
			return err
		}
		var doc discountDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode discount %s: %w", discountID, err)
		}

		if doc.Code != "" {
			codeRef, err := r.codes.DocumentRef(ctx, storeID, doc.Code)
			if err != nil {
				return err
			}
			if err := tx.Delete(codeRef); err != nil {
				return err
			}
		}
		return tx.Delete(discountRef)
	})
	return wrapDiscountError("discounts.delete", err)
}

// FindByID fetches a discount by its document ID.
func (r *DiscountRepository) FindByID(ctx context.Context, storeID, discountID string) (domain.Discount, error) {
	if r == nil || r.discounts == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	doc, err := r.discounts.Get(ctx, storeID, discountID)
	if err != nil {
		if notFound(err) {
			return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound, fmt.Sprintf("discount %s not found", discountID), err)
		}
		return domain.Discount{}, err
	}
	return doc.Data.toDomain(storeID, doc.ID), nil
}

// FindByCode resolves a code through the index and fetches the discount.
func (r *DiscountRepository) FindByCode(ctx context.Context, storeID, code string) (domain.Discount, error) {
	if r == nil || r.codes == nil {
		return domain.Discount{}, errors.New("discount repository not initialised")
	}
	normalised := normaliseDiscountCode(code)
	if normalised == "" {
		return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound, "code is required", nil)
	}

	index, err := r.codes.Get(ctx, storeID, normalised)
	if err != nil {
		if notFound(err) {
			return domain.Discount{}, repositories.NewDiscountError(repositories.DiscountErrorNotFound, fmt.Sprintf("code %s not found", normalised), err)
		}
		return domain.Discount{}, err
	}
	return r.FindByID(ctx, storeID, index.Data.DiscountID)
}

// List returns a page of discounts ordered by creation time, newest first.
func (r *DiscountRepository) List(ctx context.Context, storeID string, filter repositories.DiscountListFilter) (domain.CursorPage[domain.Discount], error) {
	if r == nil || r.discounts == nil {
		return domain.CursorPage[domain.Discount]{}, errors.New("discount repository not initialised")
	}

	pageSize := normalisePageSize(filter.Pagination.PageSize)

	var token *listPageToken
	if encoded := strings.TrimSpace(filter.Pagination.PageToken); encoded != "" {
		decoded, err := decodeListPageToken(encoded)
		if err != nil {
			return domain.CursorPage[domain.Discount]{}, pfirestore.WrapError("discounts.list", err)
		}
		token = decoded
	}

	docs, err := r.discounts.Query(ctx, storeID, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("isActive", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token != nil {
			q = q.StartAfter(token.CreatedAt, token.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Discount]{}, err
	}

	discounts := make([]domain.Discount, 0, len(docs))
	for _, doc := range docs {
		discounts = append(discounts, doc.Data.toDomain(storeID, doc.ID))
	}

	page := domain.CursorPage[domain.Discount]{Items: discounts}
	if len(discounts) > pageSize {
		last := discounts[pageSize-1]
		page.Items = discounts[:pageSize]
		next, err := encodeListPageToken(listPageToken{ID: last.ID, CreatedAt: last.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Discount]{}, pfirestore.WrapError("discounts.list", err)
		}
		page.NextPageToken = next
	}
	return page, nil
}

func notFound(err error) bool {
	var repoErr *pfirestore.Error
	if errors.As(err, &repoErr) {
		return repoErr.IsNotFound()
	}
	return false
}

func wrapDiscountError(op string, err error) error {
	if err == nil {
		return nil
	}
	var discountErr *repositories.DiscountError
	if errors.As(err, &discountErr) {
		if discountErr.Op == "" {
			discountErr.Op = op
		}
		return discountErr
	}
	return pfirestore.WrapError(op, err)
}
