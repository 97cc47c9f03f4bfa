package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by terminal operations. Concrete errors wrap one of
// these so callers can branch with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrBusinessRule    = errors.New("business rule violated")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyRefunded = errors.New("sale already refunded")
	ErrExternal        = errors.New("external failure")
	ErrForbidden       = errors.New("forbidden")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func BusinessRulef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrBusinessRule, fmt.Sprintf(format, args...))
}

func Forbiddenf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// External marks err as a failure of an external collaborator during op.
// The original error stays reachable through errors.Is and errors.As.
func External(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrExternal) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrExternal, op, err)
}
