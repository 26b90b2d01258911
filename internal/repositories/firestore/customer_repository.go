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
	customersPattern      = "stores/%s/customers"
	customerEmailsPattern = "stores/%s/customerEmails"
)

type customerAddressDocument struct {
	Label      string `firestore:"label,omitempty"`
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
	IsDefault  bool   `firestore:"isDefault"`
}

type customerDocument struct {
	Email       string                    `firestore:"email"`
	Name        string                    `firestore:"name,omitempty"`
	TotalOrders int                       `firestore:"totalOrders"`
	TotalSpent  int64                     `firestore:"totalSpent"`
	Addresses   []customerAddressDocument `firestore:"addresses,omitempty"`
	Tags        []string                  `firestore:"tags,omitempty"`
	CreatedAt   time.Time                 `firestore:"createdAt"`
	UpdatedAt   time.Time                 `firestore:"updatedAt"`
}

func newCustomerDocument(c domain.Customer) customerDocument {
	addresses := make([]customerAddressDocument, len(c.Addresses))
	for i, addr := range c.Addresses {
		addresses[i] = customerAddressDocument{
			Label:      strings.TrimSpace(addr.Label),
			Line1:      strings.TrimSpace(addr.Line1),
			Line2:      strings.TrimSpace(addr.Line2),
			City:       strings.TrimSpace(addr.City),
			State:      strings.TrimSpace(addr.State),
			PostalCode: strings.TrimSpace(addr.PostalCode),
			Country:    strings.TrimSpace(addr.Country),
			IsDefault:  addr.IsDefault,
		}
	}
	return customerDocument{
		Email:       normaliseEmail(c.Email),
		Name:        strings.TrimSpace(c.Name),
		TotalOrders: c.TotalOrders,
		TotalSpent:  c.TotalSpent,
		Addresses:   addresses,
		Tags:        c.Tags,
		CreatedAt:   c.CreatedAt.UTC(),
		UpdatedAt:   c.UpdatedAt.UTC(),
	}
}

func (d customerDocument) toDomain(storeID, id string) domain.Customer {
	addresses := make([]domain.CustomerAddress, len(d.Addresses))
	for i, addr := range d.Addresses {
		addresses[i] = domain.CustomerAddress{
			Label:      addr.Label,
			Line1:      addr.Line1,
			Line2:      addr.Line2,
			City:       addr.City,
			State:      addr.State,
			PostalCode: addr.PostalCode,
			Country:    addr.Country,
			IsDefault:  addr.IsDefault,
		}
	}
	return domain.Customer{
		ID:          id,
		StoreID:     storeID,
		Email:       d.Email,
		Name:        d.Name,
		TotalOrders: d.TotalOrders,
		TotalSpent:  d.TotalSpent,
		Addresses:   addresses,
		Tags:        d.Tags,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.UpdatedAt,
	}
}

// customerEmailDocument is the per-store uniqueness index keyed by the
// encoded, normalised email.
type customerEmailDocument struct {
	CustomerID string    `firestore:"customerId"`
	Email      string    `firestore:"email"`
	CreatedAt  time.Time `firestore:"createdAt"`
}

func normaliseEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// emailDocID makes the email safe for use as a Firestore document ID.
func emailDocID(email string) string {
	return strings.NewReplacer("/", "_", ".", "_").Replace(normaliseEmail(email))
}

// CustomerRepository implements repositories.CustomerRepository with a
// transactional email index enforcing per-store email uniqueness.
type CustomerRepository struct {
	provider  *pfirestore.Provider
	customers *pfirestore.ScopedRepository[customerDocument]
	emails    *pfirestore.ScopedRepository[customerEmailDocument]
}

// NewCustomerRepository constructs a Firestore-backed customer repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	customers := pfirestore.NewScopedRepository[customerDocument](provider, customersPattern, nil, nil)
	emails := pfirestore.NewScopedRepository[customerEmailDocument](provider, customerEmailsPattern, nil, nil)
	return &CustomerRepository{provider: provider, customers: customers, emails: emails}, nil
}

// Insert creates the customer together with its email index document. The
// index Create fails when the email is already registered for the store.
func (r *CustomerRepository) Insert(ctx context.Context, customer domain.Customer) error {
	if r == nil || r.provider == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customer.ID) == "" {
		return errors.New("customer insert: id is required")
	}
	email := normaliseEmail(customer.Email)
	if email == "" {
		return errors.New("customer insert: email is required")
	}

	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		emailRef, err := r.emails.DocumentRef(ctx, customer.StoreID, emailDocID(email))
		if err != nil {
			return err
		}
		customerRef, err := r.customers.DocumentRef(ctx, customer.StoreID, customer.ID)
		if err != nil {
			return err
		}

		if _, err := tx.Get(emailRef); err == nil {
			return pfirestore.WrapError("customers.insert", status.Error(codes.AlreadyExists, fmt.Sprintf("email %s is already registered", email)))
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		index := customerEmailDocument{
			CustomerID: customer.ID,
			Email:      email,
			CreatedAt:  customer.CreatedAt.UTC(),
		}
		if err := tx.Create(emailRef, index); err != nil {
			return err
		}
		return tx.Create(customerRef, newCustomerDocument(customer))
	})
	return pfirestore.WrapError("customers.insert", err)
}

// Update overwrites the customer document. Email changes are not supported,
// the index stays keyed by the original address.
func (r *CustomerRepository) Update(ctx context.Context, customer domain.Customer) error {
	if r == nil || r.customers == nil {
		return errors.New("customer repository not initialised")
	}
	if strings.TrimSpace(customer.ID) == "" {
		return errors.New("customer update: id is required")
	}
	_, err := r.customers.Set(ctx, customer.StoreID, customer.ID, newCustomerDocument(customer))
	return err
}

// FindByID fetches a customer by its document ID.
func (r *CustomerRepository) FindByID(ctx context.Context, storeID, customerID string) (domain.Customer, error) {
	if r == nil || r.customers == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	doc, err := r.customers.Get(ctx, storeID, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	return doc.Data.toDomain(storeID, doc.ID), nil
}

// FindByEmail resolves the email index and fetches the customer.
func (r *CustomerRepository) FindByEmail(ctx context.Context, storeID, email string) (domain.Customer, error) {
	if r == nil || r.emails == nil {
		return domain.Customer{}, errors.New("customer repository not initialised")
	}
	normalised := normaliseEmail(email)
	if normalised == "" {
		return domain.Customer{}, errors.New("customer find: email is required")
	}

	index, err := r.emails.Get(ctx, storeID, emailDocID(normalised))
	if err != nil {
		return domain.Customer{}, err
	}
	return r.FindByID(ctx, storeID, index.Data.CustomerID)
}

// List returns a page of customers ordered by creation time, newest first.
func (r *CustomerRepository) List(ctx context.Context, storeID string, filter repositories.CustomerListFilter) (domain.CursorPage[domain.Customer], error) {
	if r == nil || r.customers == nil {
		return domain.CursorPage[domain.Customer]{}, errors.New("customer repository not initialised")
	}

	pageSize := normalisePageSize(filter.Pagination.PageSize)

	var token *listPageToken
	if encoded := strings.TrimSpace(filter.Pagination.PageToken); encoded != "" {
		decoded, err := decodeListPageToken(encoded)
		if err != nil {
			return domain.CursorPage[domain.Customer]{}, pfirestore.WrapError("customers.list", err)
		}
		token = decoded
	}

	docs, err := r.customers.Query(ctx, storeID, func(q firestore.Query) firestore.Query {
		if tag := strings.TrimSpace(filter.Tag); tag != "" {
			q = q.Where("tags", "array-contains", tag)
		}
		q = q.OrderBy("createdAt", firestore.Desc).OrderBy(firestore.DocumentID, firestore.Desc)
		if token != nil {
			q = q.StartAfter(token.CreatedAt, token.ID)
		}
		return q.Limit(pageSize + 1)
	})
	if err != nil {
		return domain.CursorPage[domain.Customer]{}, err
	}

	search := strings.ToLower(strings.TrimSpace(filter.Search))
	customers := make([]domain.Customer, 0, len(docs))
	for _, doc := range docs {
		customer := doc.Data.toDomain(storeID, doc.ID)
		if search != "" &&
			!strings.Contains(strings.ToLower(customer.Email), search) &&
			!strings.Contains(strings.ToLower(customer.Name), search) {
			continue
		}
		customers = append(customers, customer)
	}

	page := domain.CursorPage[domain.Customer]{Items: customers}
	if len(docs) > pageSize {
		last := docs[pageSize-1]
		if len(customers) > pageSize {
			page.Items = customers[:pageSize]
		}
		next, err := encodeListPageToken(listPageToken{ID: last.ID, CreatedAt: last.Data.CreatedAt})
		if err != nil {
			return domain.CursorPage[domain.Customer]{}, pfirestore.WrapError("customers.list", err)
		}
		page.NextPageToken = next
	}
	return page, nil
}
