package repositories

import "fmt"

// DiscountErrorCode enumerates repository error causes for discount operations.
type DiscountErrorCode string

const (
	// DiscountErrorUnknown represents an unspecified failure.
	DiscountErrorUnknown DiscountErrorCode = "discount_unknown"
	// DiscountErrorNotFound indicates no discount matches the id or code.
	DiscountErrorNotFound DiscountErrorCode = "discount_not_found"
	// DiscountErrorCodeExists indicates another discount already owns the code.
	DiscountErrorCodeExists DiscountErrorCode = "discount_code_exists"
	// DiscountErrorExhausted indicates usedCount reached maxUses during a capture.
	DiscountErrorExhausted DiscountErrorCode = "discount_exhausted"
)

// DiscountError wraps discount-specific failures with machine readable codes.
type DiscountError struct {
	Op      string
	Code    DiscountErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *DiscountError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *DiscountError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewDiscountError constructs a typed discount error.
func NewDiscountError(code DiscountErrorCode, message string, err error) *DiscountError {
	if message == "" {
		message = string(code)
	}
	return &DiscountError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
