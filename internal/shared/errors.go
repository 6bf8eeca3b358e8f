package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a referenced entity is absent.
	ErrNotFound = errors.New("not found")
	// ErrForbidden indicates the actor lacks ownership or role for the action.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidAmount indicates a non-positive or malformed monetary input.
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrOverpayment indicates a payment exceeds the remaining balance.
	ErrOverpayment = errors.New("payment exceeds remaining balance")
	// ErrInsufficientStock indicates a requested quantity exceeds available stock.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrInvalidTransition indicates a status change not permitted from the current state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// StorageError wraps unexpected store failures so callers can distinguish
// infrastructure problems from business rule violations.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Storage wraps err as a StorageError unless it already carries a domain kind.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsDomainError(err) {
		return err
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsDomainError reports whether err is one of the recoverable business kinds.
func IsDomainError(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOverpayment) ||
		errors.Is(err, ErrInsufficientStock) ||
		errors.Is(err, ErrInvalidTransition)
}
