// Package apperr holds the closed set of error kinds shared by the repository,
// resolver, reconciliation engine and HTTP layer. Callers match them with
// errors.Is; every layer wraps with fmt.Errorf and %w.
package apperr

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrTemplateNotFound     = fmt.Errorf("template %w", ErrNotFound)
	ErrDataIntegrity        = errors.New("data integrity violation")
	ErrDuplicateBatchNumber = errors.New("duplicate batch number")
	ErrDuplicateName        = errors.New("duplicate name")
	ErrValidation           = errors.New("validation failed")
	ErrConflict             = errors.New("conflict")
	ErrLedgerRejected       = errors.New("ledger rejected operation")
	ErrCycleDetected        = errors.New("composition cycle detected")
	ErrAlreadyMinted        = errors.New("batch already minted")
	ErrInsufficientBalance  = errors.New("insufficient balance")
	ErrUnknownPartner       = errors.New("destination is not an active partner")
)

// ValidationError reports malformed input field by field.
type ValidationError struct {
	Fields map[string]string
}

// NewValidation builds a ValidationError from a single field message.
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	keys := make([]string, 0, len(e.Fields))
	for key := range e.Fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, key+": "+e.Fields[key])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// CycleError identifies the token that closed a cycle and the path that led to it.
type CycleError struct {
	TokenID uint64
	Path    []uint64
}

func (e *CycleError) Error() string {
	steps := make([]string, 0, len(e.Path)+1)
	for _, id := range e.Path {
		steps = append(steps, fmt.Sprintf("%d", id))
	}
	steps = append(steps, fmt.Sprintf("%d", e.TokenID))
	return fmt.Sprintf("%s: %s", ErrCycleDetected.Error(), strings.Join(steps, " -> "))
}

func (e *CycleError) Is(target error) bool {
	return target == ErrCycleDetected
}

// Kind returns a short machine-readable label for err, used in API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCycleDetected):
		return "cycle_detected"
	case errors.Is(err, ErrDataIntegrity):
		return "data_integrity"
	case errors.Is(err, ErrTemplateNotFound):
		return "template_not_found"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateBatchNumber):
		return "duplicate_batch_number"
	case errors.Is(err, ErrDuplicateName):
		return "duplicate_name"
	case errors.Is(err, ErrAlreadyMinted):
		return "already_minted"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrUnknownPartner):
		return "unknown_partner"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrConflict):
		return "conflict"
	case errors.Is(err, ErrLedgerRejected):
		return "ledger_rejected"
	default:
		return "internal"
	}
}
