package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbontrace/internal/apperr"
)

func TestParseAddress(t *testing.T) {
	t.Parallel()

	addr, err := ParseAddress("to", " 0x70997970c51812dc3a010c7d01b50e0d17dc79c8 ")
	require.NoError(t, err)
	assert.Equal(t, "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", addr.Hex())

	_, err = ParseAddress("to", "0x0000000000000000000000000000000000000000")
	var invalid *apperr.ValidationError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "zero address is not allowed", invalid.Fields["to"])

	_, err = ParseAddress("owner", "not-an-address")
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, invalid.Fields, "owner")
}

func TestNormalizeAddress(t *testing.T) {
	t.Parallel()

	got, err := NormalizeAddress("partner_address", "0x90f79bf6eb2c4f870365e785982e1f101e93b906")
	require.NoError(t, err)
	assert.Equal(t, "0x90F79bf6EB2c4f870365E785982E1f101E93b906", got)

	_, err = NormalizeAddress("partner_address", "0x123")
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSameAddress(t *testing.T) {
	t.Parallel()

	assert.True(t, SameAddress("0xabc", " 0xABC "))
	assert.False(t, SameAddress("0xabc", "0xabd"))
}
