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
	productsPattern             = "stores/%s/products"
	restockSubscriptionsPattern = "stores/%s/restockSubscriptions"
)

type productDocument struct {
	Name              string    `firestore:"name"`
	Description       string    `firestore:"description,omitempty"`
	SKU               string    `firestore:"sku"`
	Price             int64     `firestore:"price"`
	Quantity          int       `firestore:"quantity"`
	TrackInventory    bool      `firestore:"trackInventory"`
	LowStockThreshold int       `firestore:"lowStockThreshold,omitempty"`
	Active            bool      `firestore:"active"`
	CreatedAt         time.Time `firestore:"createdAt"`
	UpdatedAt         time.Time `firestore:"updatedAt"`
}

func newProductDocument(p domain.Product) productDocument {
	return productDocument{
		Name:              strings.TrimSpace(p.Name),
		Description:       strings.TrimSpace(p.Description),
		SKU:               strings.TrimSpace(p.SKU),
		Price:             p.Price,
		Quantity:          p.Quantity,
		TrackInventory:    p.TrackInventory,
		LowStockThreshold: p.LowStockThreshold,
		Active:            p.Active,
		CreatedAt:         p.CreatedAt.UTC(),
		UpdatedAt:         p.UpdatedAt.UTC(),
	}
}

func (d productDocument) toDomain(storeID, id string) domain.Product {
	return domain.Product{
		ID:                id,
		StoreID:           storeID,
		Name:              d.Name,
		Description:       d.Description,
		SKU:               d.SKU,
		Price:             d.Price,
		Quantity:          d.Quantity,
		TrackInventory:    d.TrackInventory,
		LowStockThreshold: d.LowStockThreshold,
		Active:            d.Active,
		CreatedAt:         d.CreatedAt,
		UpdatedAt:         d.UpdatedAt,
	}
}

type restockSubscriptionDocument struct {
	ProductID  string     `firestore:"productId"`
	Email      string     `firestore:"email"`
	CreatedAt  time.Time  `firestore:"createdAt"`
	NotifiedAt *time.Time `firestore:"notifiedAt,omitempty"`
}

func (d restockSubscriptionDocument) toDomain(id string) domain.RestockSubscription {
	return domain.RestockSubscription{
		ID:         id,
		ProductID:  d.ProductID,
		Email:      d.Email,
		CreatedAt:  d.CreatedAt,
		NotifiedAt: d.NotifiedAt,
	}
}

// ProductRepository implements repositories.ProductRepository on per-store
// Firestore subcollections. Stock mutations run in transactions so the
// quantity floor holds under concurrent writers.
type ProductRepository struct {
	provider      *pfirestore.Provider
	products      *pfirestore.ScopedRepository[productDocument]
	subscriptions *pfirestore.ScopedRepository[restockSubscriptionDocument]
}

// NewProductRepository constructs a Firestore-backed product repository.
func NewProductRepository(provider *pfirestore.Provider) (*ProductRepository, error) {
	if provider == nil {
		return nil, errors.New("product repository requires firestore provider")
	}
	products := pfirestore.NewScopedRepository[productDocument](provider, productsPattern, nil, nil)
	subscriptions := pfirestore.NewScopedRepository[restockSubscriptionDocument](provider, restockSubscriptionsPattern, nil, nil)
	return &ProductRepository{provider: provider, products: products, subscriptions: subscriptions}, nil
}

// Insert creates a product, failing on duplicate IDs.
func (r *ProductRepository) Insert(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product insert: id is required")
	}
	if product.Quantity < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "product insert: quantity must be >= 0", nil)
	}
	_, err := r.products.Create(ctx, product.StoreID, product.ID, newProductDocument(product))
	return err
}

// Update overwrites the product document.
func (r *ProductRepository) Update(ctx context.Context, product domain.Product) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	if strings.TrimSpace(product.ID) == "" {
		return errors.New("product update: id is required")
	}
	if product.Quantity < 0 {
		return repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "product update: quantity must be >= 0", nil)
	}
	_, err := r.products.Set(ctx, product.StoreID, product.ID, newProductDocument(product))
	return err
}

// Delete removes the product document.
func (r *ProductRepository) Delete(ctx context.Context, storeID, productID string) error {
	if r == nil || r.products == nil {
		return errors.New("product repository not initialised")
	}
	return r.products.Delete(ctx, storeID, productID)
}

// FindByID fetches a single product.
func (r *ProductRepository) FindByID(ctx context.Context, storeID, productID string) (domain.Product, error) {
	if r == nil || r.products == nil {
		return domain.Product{}, errors.New("product repository not initialised")
	}
	doc, err := r.products.Get(ctx, storeID, productID)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(storeID, doc.ID), nil
}

// List returns a page of products ordered by creation time, newest first.
func (r *ProductRepository) List(ctx context.Context, storeID string, filter repositories.ProductListFilter) (domain.CursorPage[domain.Product], error) {
	if r == nil || r.products == nil {
		return domain.CursorPage[domain.Product]{}, errors.New("product repository not initialised")
	}

	pageSize := normalisePageSize(filter.Pagination.PageSize)

	var token *listPageToken
	if encoded := strings.TrimSpace(filter.Pagination.PageToken); encoded != "" {
		decoded, err := decodeListPageToken(encoded)
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		token = decoded
	}

	docs, err := r.products.Query(ctx, storeID, func(q firestore.Query) firestore.Query {
		if filter.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		if filter.TrackedOnly {
			q = q.Where("trackInventory", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token != nil {
			q = q.StartAfter(token.CreatedAt, token.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	products := make([]domain.Product, 0, len(docs))
	for _, doc := range docs {
		product := doc.Data.toDomain(storeID, doc.ID)
		if search != "" &&
			!strings.Contains(strings.ToLower(product.Name), search) &&
			!strings.Contains(strings.ToLower(product.SKU), search) {
			continue
		}
		products = append(products, product)
	}

	page := domain.CursorPage[domain.Product]{Items: products}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		if len(products) > pageSize {
			page.Items = products[:pageSize]
		}
		next, err := encodeListPageToken(listPageToken{ID: last.ID, CreatedAt: last.Data.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Product]{}, pfirestore.WrapError("products.list", err)
		}
		page.NextPageToken = next
	}
	return page, nil
}

// AdjustStock applies a relative delta or absolute set to the product quantity
// inside a transaction. The resulting quantity must stay at or above zero.
func (r *ProductRepository) AdjustStock(ctx context.Context, req repositories.StockAdjustment) (repositories.StockAdjustmentResult, error) {
	if r == nil || r.provider == nil {
		return repositories.StockAdjustmentResult{}, errors.New("product repository not initialised")
	}
	if strings.TrimSpace(req.ProductID) == "" {
		return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "stock adjust: product id is required", nil)
	}
	if (req.Delta == nil) == (req.SetTo == nil) {
		return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "stock adjust: exactly one of delta or setTo is required", nil)
	}
	if req.SetTo != nil && *req.SetTo < 0 {
		return repositories.StockAdjustmentResult{}, repositories.NewInventoryError(repositories.InventoryErrorInvalidAdjustment, "stock adjust: quantity cannot be set below zero", nil)
	}

	now := req.Now.UTC()
	var result repositories.StockAdjustmentResult

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		ref, err := r.products.DocumentRef(ctx, req.StoreID, req.ProductID)
		if err != nil {
			return err
		}
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return repositories.NewInventoryError(repositories.InventoryErrorProductNotFound, fmt.Sprintf("product %s not found", req.ProductID), err)
			}
			return err
		}
		var doc productDocument
		if err := snap.DataTo(&doc); err != nil {
			return fmt.Errorf("decode product %s: %w", req.ProductID, err)
		}

		previous := doc.Quantity
		next := previous
		if req.Delta != nil {
			next = previous + *req.Delta
		} else {
			next = *req.SetTo
		}
		if next < 0 {
			return repositories.NewInventoryError(repositories.InventoryErrorInsufficientStock, fmt.Sprintf("product %s has %d on hand, adjustment would reach %d", req.ProductID, previous, next), nil)
		}

		doc.Quantity = next
		doc.UpdatedAt = now
		if err := tx.Set(ref, doc); err != nil {
			return err
		}

		result = repositories.StockAdjustmentResult{
			Product:   doc.toDomain(req.StoreID, req.ProductID),
			Restocked: doc.TrackInventory && previous == 0 && next > 0,
		}
		return nil
	})
	if err != nil {
		return repositories.StockAdjustmentResult{}, wrapInventoryError("products.adjustStock", err)
	}
	return result, nil
}

// SubscribeRestock records an email waiting for the product to come back in
// stock. An existing pending subscription for the same email is returned as is.
func (r *ProductRepository) SubscribeRestock(ctx context.Context, storeID, productID, email string, now time.Time) (domain.RestockSubscription, error) {
	if r == nil || r.subscriptions == nil {
		return domain.RestockSubscription{}, errors.New("product repository not initialised")
	}
	productID = strings.TrimSpace(productID)
	email = strings.ToLower(strings.TrimSpace(email))
	if productID == "" || email == "" {
		return domain.RestockSubscription{}, errors.New("restock subscribe: product id and email are required")
	}

	existing, err := r.subscriptions.Query(ctx, storeID, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", productID).Where("email", "==", email).Limit(5)
	})
	if err != nil {
		return domain.RestockSubscription{}, err
	}
	for _, doc := range existing {
		if doc.Data.NotifiedAt == nil {
			return doc.Data.toDomain(doc.ID), nil
		}
	}

	coll, err := r.subscriptions.CollectionRef(ctx, storeID)
	if err != nil {
		return domain.RestockSubscription{}, err
	}
	ref := coll.NewDoc()
	doc := restockSubscriptionDocument{
		ProductID: productID,
		Email:     email,
		CreatedAt: now.UTC(),
	}
	if _, err := ref.Create(ctx, doc); err != nil {
		return domain.RestockSubscription{}, pfirestore.WrapError("restockSubscriptions.create", err)
	}
	return doc.toDomain(ref.ID), nil
}

// ListRestockSubscribers returns the pending subscriptions for a product.
func (r *ProductRepository) ListRestockSubscribers(ctx context.Context, storeID, productID string) ([]domain.RestockSubscription, error) {
	if r == nil || r.subscriptions == nil {
		return nil, errors.New("product repository not initialised")
	}
	docs, err := r.subscriptions.Query(ctx, storeID, func(q firestore.Query) firestore.Query {
		return q.Where("productId", "==", strings.TrimSpace(productID))
	})
	if err != nil {
		return nil, err
	}
	subs := make([]domain.RestockSubscription, 0, len(docs))
	for _, doc := range docs {
		if doc.Data.NotifiedAt != nil {
			continue
		}
		subs = append(subs, doc.Data.toDomain(doc.ID))
	}
	return subs, nil
}

// MarkRestockNotified stamps notifiedAt on the given subscriptions.
func (r *ProductRepository) MarkRestockNotified(ctx context.Context, storeID, productID string, subscriptionIDs []string, now time.Time) error {
	if r == nil || r.subscriptions == nil {
		return errors.New("product repository not initialised")
	}
	stamped := now.UTC()
	for _, id := range subscriptionIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		_, err := r.subscriptions.Update(ctx, storeID, id, []firestore.Update{
			{Path: "notifiedAt", Value: stamped},
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func wrapInventoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	var invErr *repositories.InventoryError
	if errors.As(err, &invErr) {
		if invErr.Op == "" {
			invErr.Op = op
		}
		return invErr
	}
	return pfirestore.WrapError(op, err)
}
