// Package repository is the batch repository: templates, batches and their
// components, plants, companies and the transfer journal. No ledger calls
// originate here; the reconciliation engine writes ledger outcomes back through
// RecordBurns and RecordMintResult.
package repository

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"carbontrace/internal/apperr"
)

// Options holds repository-level policy.
type Options struct {
	// RequireComponents rejects non-raw-material batches without components.
	RequireComponents bool
}

// Repository persists the off-chain side of the supply chain.
type Repository struct {
	db   *gorm.DB
	opts Options
}

// New returns a Repository over db.
func New(db *gorm.DB, opts Options) *Repository {
	return &Repository{db: db, opts: opts}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	v.RegisterCustomTypeFunc(func(field reflect.Value) interface{} {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// validateInput runs struct tags and reports failures as an apperr.ValidationError.
func validateInput(input interface{}) error {
	err := validate.Struct(input)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}
	verr := &apperr.ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		verr.Fields[fieldPath(fe.Namespace())] = describeTag(fe)
	}
	return verr
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " entries"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "eth_addr":
		return "must be a hex ledger address"
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}

// normalizeAddress returns the checksummed form used for every stored address.
func normalizeAddress(field, value string) (string, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return "", apperr.NewValidation(field, "must be a hex ledger address")
	}
	return common.HexToAddress(value).Hex(), nil
}

// notFound maps gorm's missing-row error onto sentinel.
func notFound(err error, sentinel error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	subject := fmt.Sprintf(format, args...)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%s: %w", subject, sentinel)
	}
	return fmt.Errorf("load %s: %w", subject, err)
}
