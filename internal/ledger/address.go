package ledger

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"carbontrace/internal/apperr"
)

// ParseAddress accepts a hex ledger address and rejects malformed or zero
// values. Failures are validation errors keyed by field.
func ParseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, apperr.NewValidation(field, "must be a hex ledger address")
	}
	addr := common.HexToAddress(value)
	if addr == (common.Address{}) {
		return common.Address{}, apperr.NewValidation(field, "zero address is not allowed")
	}
	return addr, nil
}

// NormalizeAddress returns the checksummed form of a valid address.
func NormalizeAddress(field, value string) (string, error) {
	addr, err := ParseAddress(field, value)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// SameAddress compares two address strings ignoring case and checksum.
func SameAddress(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
