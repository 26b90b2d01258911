package repositories

import "fmt"

// OrderErrorCode enumerates repository error causes for order lifecycle operations.
type OrderErrorCode string

const (
	// OrderErrorUnknown represents an unspecified failure.
	OrderErrorUnknown OrderErrorCode = "order_unknown"
	// OrderErrorInvalidTransition indicates the requested move violates the state machine.
	OrderErrorInvalidTransition OrderErrorCode = "order_invalid_transition"
	// OrderErrorStatusMismatch indicates the expected-status optimistic guard failed.
	OrderErrorStatusMismatch OrderErrorCode = "order_status_mismatch"
	// OrderErrorTrackingRequired indicates a move to shipped without tracking details.
	OrderErrorTrackingRequired OrderErrorCode = "order_tracking_required"
)

// OrderError wraps lifecycle-specific failures detected inside transactions.
type OrderError struct {
	Op      string
	Code    OrderErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *OrderError) Error() string {
	if e == nil {
		return ""
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

// Unwrap exposes the underlying error, if any.
func (e *OrderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewOrderError constructs a typed order error.
func NewOrderError(code OrderErrorCode, message string, err error) *OrderError {
	if message == "" {
		message = string(code)
	}
	return &OrderError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}
