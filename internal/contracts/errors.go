package contracts

import (
	"errors"
	"fmt"
)

// Error taxonomy. Modality- and record-level errors are absorbed where they happen;
// only ErrInvalidRunParams propagates to the caller as a hard abort.
var (
	// ErrFetchFailure network or provider error; the modality degrades to empty
	ErrFetchFailure = errors.New("fetch failure")

	// ErrTierRestricted provider requires a paid tier for this request
	ErrTierRestricted = errors.New("tier restricted")

	// ErrQuotaExceeded provider quota exhausted
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrParseFailure a record could not be parsed; it is skipped and audited
	ErrParseFailure = errors.New("parse failure")

	// ErrNotFound lookup by key found nothing
	ErrNotFound = errors.New("not found")

	// ErrInvalidRunParams missing or malformed run parameters
	ErrInvalidRunParams = errors.New("invalid run parameters")
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets errors.Is(err, ErrInvalidRunParams) match
func (e ValidationError) Unwrap() error {
	return ErrInvalidRunParams
}

// IsProviderRestriction reports tier or quota errors, which are logged distinctly from plain fetch failures
func IsProviderRestriction(err error) bool {
	return errors.Is(err, ErrTierRestricted) || errors.Is(err, ErrQuotaExceeded)
}
