package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
)

// Document represents a strongly typed Firestore document with metadata timestamps.
type Document[T any] struct {
	ID         string
	Data       T
	CreateTime time.Time
	UpdateTime time.Time
	ReadTime   time.Time
}

// MutationResult captures the update timestamp returned by Firestore mutations.
type MutationResult struct {
	UpdateTime time.Time
}

// Encoder serialises the strongly typed entity prior to persistence.
type Encoder[T any] func(ctx context.Context, value T) (any, error)

// Decoder hydrates the strongly typed entity from a snapshot.
type Decoder[T any] func(ctx context.Context, snap *firestore.DocumentSnapshot) (T, error)

// QueryBuilder customises Firestore queries before execution.
type QueryBuilder func(query firestore.Query) firestore.Query

// ScopedRepository provides typed helpers over a per-store subcollection.
// The pattern must contain a single %s placeholder that receives the store ID,
// for example "stores/%s/products".
type ScopedRepository[T any] struct {
	provider *Provider
	pattern  string
	encode   Encoder[T]
	decode   Decoder[T]
}

// NewScopedRepository constructs a ScopedRepository bound to a collection pattern.
func NewScopedRepository[T any](provider *Provider, pattern string, encode Encoder[T], decode Decoder[T]) *ScopedRepository[T] {
	if encode == nil {
		encode = IdentityEncoder[T]()
	}
	if decode == nil {
		decode = StructDecoder[T]()
	}
	return &ScopedRepository[T]{
		provider: provider,
		pattern:  strings.TrimSpace(pattern),
		encode:   encode,
		decode:   decode,
	}
}

// Set upserts the given value under the provided document ID.
func (r *ScopedRepository[T]) Set(ctx context.Context, storeID, id string, value T, opts ...firestore.SetOption) (MutationResult, error) {
	doc, err := r.documentRef(ctx, storeID, id)
	if err != nil {
		return MutationResult{}, err
	}

	payload, err := r.encode(ctx, value)
	if err != nil {
		return MutationResult{}, fmt.Errorf("firestore: encode document %s: %w", id, err)
	}

	result, err := doc.Set(ctx, payload, opts...)
	if err != nil {
		return MutationResult{}, WrapError(r.op("set"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Create writes the value under the provided document ID, failing with a
// conflict when the document already exists.
func (r *ScopedRepository[T]) Create(ctx context.Context, storeID, id string, value T) (MutationResult, error) {
	doc, err := r.documentRef(ctx, storeID, id)
	if err != nil {
		return MutationResult{}, err
	}

	payload, err := r.encode(ctx, value)
	if err != nil {
		return MutationResult{}, fmt.Errorf("firestore: encode document %s: %w", id, err)
	}

	result, err := doc.Create(ctx, payload)
	if err != nil {
		return MutationResult{}, WrapError(r.op("create"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Update applies partial updates to the document.
func (r *ScopedRepository[T]) Update(ctx context.Context, storeID, id string, updates []firestore.Update, opts ...firestore.Precondition) (MutationResult, error) {
	doc, err := r.documentRef(ctx, storeID, id)
	if err != nil {
		return MutationResult{}, err
	}
	result, err := doc.Update(ctx, updates, opts...)
	if err != nil {
		return MutationResult{}, WrapError(r.op("update"), err)
	}
	return MutationResult{UpdateTime: result.UpdateTime}, nil
}

// Delete removes the document by ID.
func (r *ScopedRepository[T]) Delete(ctx context.Context, storeID, id string, opts ...firestore.Precondition) error {
	doc, err := r.documentRef(ctx, storeID, id)
	if err != nil {
		return err
	}
	if _, err := doc.Delete(ctx, opts...); err != nil {
		return WrapError(r.op("delete"), err)
	}
	return nil
}

// Get fetches the document by ID and decodes it into the strongly typed entity.
func (r *ScopedRepository[T]) Get(ctx context.Context, storeID, id string) (Document[T], error) {
	doc, err := r.documentRef(ctx, storeID, id)
	if err != nil {
		return Document[T]{}, err
	}

	snapshot, err := doc.Get(ctx)
	if err != nil {
		return Document[T]{}, WrapError(r.op("get"), err)
	}

	return r.DecodeSnapshot(ctx, snapshot)
}

// Query executes a query over the store's collection and returns the decoded documents.
func (r *ScopedRepository[T]) Query(ctx context.Context, storeID string, build QueryBuilder) ([]Document[T], error) {
	coll, err := r.collectionRef(ctx, storeID)
	if err != nil {
		return nil, err
	}

	query := coll.Query
	if build != nil {
		query = build(query)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var docs []Document[T]
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, WrapError(r.op("query"), err)
		}
		decoded, err := r.DecodeSnapshot(ctx, snapshot)
		if err != nil {
			return nil, fmt.Errorf("firestore: decode document %s: %w", snapshot.Ref.ID, err)
		}
		docs = append(docs, decoded)
	}
	return docs, nil
}

// DocumentRef exposes the underlying document reference for transactional work.
func (r *ScopedRepository[T]) DocumentRef(ctx context.Context, storeID, id string) (*firestore.DocumentRef, error) {
	return r.documentRef(ctx, storeID, id)
}

// CollectionRef exposes the store's collection reference for transactional queries.
func (r *ScopedRepository[T]) CollectionRef(ctx context.Context, storeID string) (*firestore.CollectionRef, error) {
	return r.collectionRef(ctx, storeID)
}

// Encode serialises the entity using the repository's encoder.
func (r *ScopedRepository[T]) Encode(ctx context.Context, value T) (any, error) {
	return r.encode(ctx, value)
}

// DecodeSnapshot hydrates a snapshot fetched outside the repository, such as
// within a transaction.
func (r *ScopedRepository[T]) DecodeSnapshot(ctx context.Context, snapshot *firestore.DocumentSnapshot) (Document[T], error) {
	entity, err := r.decode(ctx, snapshot)
	if err != nil {
		return Document[T]{}, err
	}
	return Document[T]{
		ID:         snapshot.Ref.ID,
		Data:       entity,
		CreateTime: snapshot.CreateTime,
		UpdateTime: snapshot.UpdateTime,
		ReadTime:   snapshot.ReadTime,
	}, nil
}

func (r *ScopedRepository[T]) collectionRef(ctx context.Context, storeID string) (*firestore.CollectionRef, error) {
	if r == nil || r.provider == nil {
		return nil, WrapError(r.op("collection"), errors.New("firestore: provider is nil"))
	}
	if r.pattern == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: collection pattern is required"))
	}
	if strings.TrimSpace(storeID) == "" {
		return nil, WrapError(r.op("collection"), errors.New("firestore: store id is required"))
	}
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	path := fmt.Sprintf(r.pattern, storeID)
	return client.Collection(path), nil
}

func (r *ScopedRepository[T]) documentRef(ctx context.Context, storeID, id string) (*firestore.DocumentRef, error) {
	if strings.TrimSpace(id) == "" {
		return nil, WrapError(r.op("document"), errors.New("firestore: document id is required"))
	}
	coll, err := r.collectionRef(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return coll.Doc(id), nil
}

func (r *ScopedRepository[T]) op(action string) string {
	name := "firestore"
	if r != nil {
		trimmed := strings.TrimSpace(r.pattern)
		if trimmed != "" {
			name = trimmed
		}
	}
	return fmt.Sprintf("%s.%s", name, strings.ToLower(action))
}

// IdentityEncoder returns an encoder that writes the value unchanged.
func IdentityEncoder[T any]() Encoder[T] {
	return func(_ context.Context, value T) (any, error) {
		return value, nil
	}
}

// StructDecoder populates the target struct using Firestore's native decoding.
func StructDecoder[T any]() Decoder[T] {
	return func(_ context.Context, snap *firestore.DocumentSnapshot) (T, error) {
		var target T
		if err := snap.DataTo(&target); err != nil {
			return target, err
		}
		return target, nil
	}
}
