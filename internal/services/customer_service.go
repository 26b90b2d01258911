package services

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/quimera-ai/commerce-api/internal/domain"
	"github.com/quimera-ai/commerce-api/internal/repositories"
)

const customerIDPrefix = "cus_"

var (
	// ErrCustomerInvalidInput signals the caller provided invalid data.
	ErrCustomerInvalidInput = errors.New("customer: invalid input")
	// ErrCustomerNotFound indicates the customer could not be located.
	ErrCustomerNotFound = errors.New("customer: not found")
)

// CustomerServiceDeps bundles collaborators required to construct the customer service.
type CustomerServiceDeps struct {
	Customers   repositories.CustomerRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type customerService struct {
	repo  repositories.CustomerRepository
	clock func() time.Time
	newID func() string
}

// NewCustomerService wires a CustomerService backed by the provided repository.
func NewCustomerService(deps CustomerServiceDeps) (CustomerService, error) {
	if deps.Customers == nil {
		return nil, errors.New("customer service: customer repository is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &customerService{
		repo:  deps.Customers,
		clock: func() time.Time { return clock().UTC() },
		newID: idGen,
	}, nil
}

// FindOrCreate looks a shopper up by email and creates the record on miss.
// A concurrent create racing on the email index falls back to the winner.
func (s *customerService) FindOrCreate(ctx context.Context, cmd FindOrCreateCustomerCommand) (Customer, error) {
	email := strings.ToLower(strings.TrimSpace(cmd.Email))
	if email == "" || !strings.Contains(email, "@") {
		return Customer{}, fmt.Errorf("%w: a valid email is required", ErrCustomerInvalidInput)
	}

	existing, err := s.repo.FindByEmail(ctx, cmd.StoreID, email)
	if err == nil {
		return existing, nil
	}
	if !isRepoNotFound(err) {
		return Customer{}, err
	}

	now := s.clock()
	customer := domain.Customer{
		ID:        customerIDPrefix + s.newID(),
		StoreID:   cmd.StoreID,
		Email:     email,
		Name:      strings.TrimSpace(cmd.Name),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.repo.Insert(ctx, customer); err != nil {
		if isRepoConflict(err) {
			return s.repo.FindByEmail(ctx, cmd.StoreID, email)
		}
		return Customer{}, err
	}
	return customer, nil
}

func (s *customerService) Get(ctx context.Context, storeID, customerID string) (Customer, error) {
	if strings.TrimSpace(customerID) == "" {
		return Customer{}, fmt.Errorf("%w: customer id is required", ErrCustomerInvalidInput)
	}
	customer, err := s.repo.FindByID(ctx, storeID, customerID)
	if err != nil {
		if isRepoNotFound(err) {
			return Customer{}, fmt.Errorf("%w: %s", ErrCustomerNotFound, customerID)
		}
		return Customer{}, err
	}
	return customer, nil
}

func (s *customerService) List(ctx context.Context, storeID string, filter CustomerListFilter) (domain.CursorPage[Customer], error) {
	return s.repo.List(ctx, storeID, repositories.CustomerListFilter{
		Tag:        filter.Tag,
		Search:     filter.Search,
		Pagination: filter.Pagination,
	})
}

// Tag adds the given tags, keeping the set unique and sorted.
func (s *customerService) Tag(ctx context.Context, storeID, customerID string, tags []string) (Customer, error) {
	return s.mutateTags(ctx, storeID, customerID, tags, func(current, requested []string) []string {
		merged := append([]string{}, current...)
		for _, tag := range requested {
			if !slices.Contains(merged, tag) {
				merged = append(merged, tag)
			}
		}
		slices.Sort(merged)
		return merged
	})
}

// Untag removes the given tags.
func (s *customerService) Untag(ctx context.Context, storeID, customerID string, tags []string) (Customer, error) {
	return s.mutateTags(ctx, storeID, customerID, tags, func(current, requested []string) []string {
		kept := make([]string, 0, len(current))
		for _, tag := range current {
			if !slices.Contains(requested, tag) {
				kept = append(kept, tag)
			}
		}
		return kept
	})
}

func (s *customerService) mutateTags(ctx context.Context, storeID, customerID string, tags []string, apply func(current, requested []string) []string) (Customer, error) {
	normalised := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			normalised = append(normalised, tag)
		}
	}
	if len(normalised) == 0 {
		return Customer{}, fmt.Errorf("%w: at least one tag is required", ErrCustomerInvalidInput)
	}

	customer, err := s.Get(ctx, storeID, customerID)
	if err != nil {
		return Customer{}, err
	}

	customer.Tags = apply(customer.Tags, normalised)
	customer.UpdatedAt = s.clock()
	if err := s.repo.Update(ctx, customer); err != nil {
		return Customer{}, err
	}
	return customer, nil
}

func isRepoNotFound(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsNotFound()
}

func isRepoConflict(err error) bool {
	var repoErr repositories.RepositoryError
	return errors.As(err, &repoErr) && repoErr.IsConflict()
}
