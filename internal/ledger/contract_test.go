package ledger

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract     = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testManufacturer = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func batchMintedLog(t *testing.T, tokenID int64, quantity int64) *types.Log {
	t.Helper()
	ev := parsedABI.Events["BatchMinted"]
	data, err := ev.Inputs.NonIndexed().Pack("B-001", big.NewInt(quantity), big.NewInt(500))
	require.NoError(t, err)
	return &types.Log{
		Address: testContract,
		Topics: []common.Hash{
			ev.ID,
			common.BigToHash(big.NewInt(tokenID)),
			common.BytesToHash(testManufacturer.Bytes()),
		},
		Data: data,
	}
}

func transferSingleLog(t *testing.T, from common.Address, id, value int64) *types.Log {
	t.Helper()
	ev := parsedABI.Events["TransferSingle"]
	data, err := ev.Inputs.NonIndexed().Pack(big.NewInt(id), big.NewInt(value))
	require.NoError(t, err)
	return &types.Log{
		Address: testContract,
		Topics: []common.Hash{
			ev.ID,
			common.BytesToHash(testManufacturer.Bytes()),
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(testManufacturer.Bytes()),
		},
		Data: data,
	}
}

func TestDecodeMintEventPrefersBatchMinted(t *testing.T) {
	t.Parallel()

	logs := []*types.Log{
		transferSingleLog(t, common.Address{}, 99, 1),
		batchMintedLog(t, 7, 120),
	}
	tokenID, quantity, err := decodeMintEvent(testContract, logs)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), tokenID)
	assert.Equal(t, uint64(120), quantity)
}

func TestDecodeMintEventFallsBackToTransferSingle(t *testing.T) {
	t.Parallel()

	logs := []*types.Log{
		transferSingleLog(t, testManufacturer, 3, 10),
		transferSingleLog(t, common.Address{}, 4, 25),
	}
	tokenID, quantity, err := decodeMintEvent(testContract, logs)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), tokenID)
	assert.Equal(t, uint64(25), quantity)
}

func TestDecodeMintEventIgnoresOtherContracts(t *testing.T) {
	t.Parallel()

	foreign := batchMintedLog(t, 7, 120)
	foreign.Address = testManufacturer
	_, _, err := decodeMintEvent(testContract, []*types.Log{foreign})
	assert.ErrorIs(t, err, errNoMintEvent)
}

func TestDecodeBatchInfo(t *testing.T) {
	t.Parallel()

	out := []interface{}{
		"B-001", big.NewInt(2), big.NewInt(100), big.NewInt(1700000000), big.NewInt(0),
		big.NewInt(500), big.NewInt(3), testManufacturer, "ipfs://meta", true,
	}
	info, exists, err := decodeBatchInfo(9, out)
	require.NoError(t, err)
	require.True(t, exists)
	assert.Equal(t, uint64(9), info.TokenID)
	assert.Equal(t, "B-001", info.BatchNumber)
	assert.Equal(t, uint64(100), info.Quantity)
	assert.Equal(t, int64(500), info.CarbonFootprintKg)
	assert.Equal(t, uint64(3), info.PlantID)
	assert.True(t, info.ExpiryDate.IsZero())
	assert.Equal(t, int64(1700000000), info.ProductionDate.Unix())

	out[9] = false
	_, exists, err = decodeBatchInfo(9, out)
	require.NoError(t, err)
	assert.False(t, exists)
}
