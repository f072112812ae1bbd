package ledger

import (
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

const contractABI = `[
  {"type":"function","name":"mintBatch","stateMutability":"nonpayable","inputs":[
    {"name":"batchNumber","type":"string"},
    {"name":"templateId","type":"uint256"},
    {"name":"quantity","type":"uint256"},
    {"name":"productionDate","type":"uint256"},
    {"name":"expiryDate","type":"uint256"},
    {"name":"carbonFootprint","type":"uint256"},
    {"name":"plantId","type":"uint256"},
    {"name":"metadataURI","type":"string"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"transferWithReason","stateMutability":"nonpayable","inputs":[
    {"name":"to","type":"address"},
    {"name":"tokenId","type":"uint256"},
    {"name":"quantity","type":"uint256"},
    {"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"burnWithReason","stateMutability":"nonpayable","inputs":[
    {"name":"tokenId","type":"uint256"},
    {"name":"quantity","type":"uint256"},
    {"name":"reason","type":"string"}],"outputs":[]},
  {"type":"function","name":"balanceOf","stateMutability":"view","inputs":[
    {"name":"account","type":"address"},
    {"name":"id","type":"uint256"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getCurrentTokenCounter","stateMutability":"view","inputs":[],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getBatchInfo","stateMutability":"view","inputs":[
    {"name":"tokenId","type":"uint256"}],
   "outputs":[
    {"name":"batchNumber","type":"string"},
    {"name":"templateId","type":"uint256"},
    {"name":"quantity","type":"uint256"},
    {"name":"productionDate","type":"uint256"},
    {"name":"expiryDate","type":"uint256"},
    {"name":"carbonFootprint","type":"uint256"},
    {"name":"plantId","type":"uint256"},
    {"name":"manufacturer","type":"address"},
    {"name":"metadataURI","type":"string"},
    {"name":"exists","type":"bool"}]},
  {"type":"event","name":"BatchMinted","anonymous":false,"inputs":[
    {"name":"tokenId","type":"uint256","indexed":true},
    {"name":"manufacturer","type":"address","indexed":true},
    {"name":"batchNumber","type":"string","indexed":false},
    {"name":"quantity","type":"uint256","indexed":false},
    {"name":"carbonFootprint","type":"uint256","indexed":false}]},
  {"type":"event","name":"TransferSingle","anonymous":false,"inputs":[
    {"name":"operator","type":"address","indexed":true},
    {"name":"from","type":"address","indexed":true},
    {"name":"to","type":"address","indexed":true},
    {"name":"id","type":"uint256","indexed":false},
    {"name":"value","type":"uint256","indexed":false}]}
]`

var parsedABI = mustParseABI()

func mustParseABI() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(contractABI))
	if err != nil {
		panic(fmt.Sprintf("ledger: parse contract abi: %v", err))
	}
	return parsed
}

var errNoMintEvent = errors.New("no mint event in transaction logs")

// decodeMintEvent recovers the token id assigned by the contract from a mint
// receipt. BatchMinted is preferred; a TransferSingle from the zero address is
// accepted as a fallback.
func decodeMintEvent(contract common.Address, logs []*types.Log) (tokenID, quantity uint64, err error) {
	minted := parsedABI.Events["BatchMinted"]
	transfer := parsedABI.Events["TransferSingle"]

	var fallback *types.Log
	for _, entry := range logs {
		if entry == nil || entry.Address != contract || len(entry.Topics) == 0 {
			continue
		}
		switch entry.Topics[0] {
		case minted.ID:
			if len(entry.Topics) < 2 {
				return 0, 0, fmt.Errorf("BatchMinted log missing token id topic")
			}
			values, err := minted.Inputs.NonIndexed().Unpack(entry.Data)
			if err != nil {
				return 0, 0, fmt.Errorf("unpack BatchMinted: %w", err)
			}
			qty, _ := values[1].(*big.Int)
			return new(big.Int).SetBytes(entry.Topics[1].Bytes()).Uint64(), bigToUint64(qty), nil
		case transfer.ID:
			if fallback == nil && len(entry.Topics) == 4 && common.BytesToAddress(entry.Topics[2].Bytes()) == (common.Address{}) {
				fallback = entry
			}
		}
	}

	if fallback != nil {
		values, err := transfer.Inputs.NonIndexed().Unpack(fallback.Data)
		if err != nil {
			return 0, 0, fmt.Errorf("unpack TransferSingle: %w", err)
		}
		id, _ := values[0].(*big.Int)
		value, _ := values[1].(*big.Int)
		return bigToUint64(id), bigToUint64(value), nil
	}
	return 0, 0, errNoMintEvent
}

func decodeBatchInfo(tokenID uint64, out []interface{}) (*BatchInfo, bool, error) {
	if len(out) != 10 {
		return nil, false, fmt.Errorf("getBatchInfo returned %d values", len(out))
	}
	exists, _ := out[9].(bool)
	if !exists {
		return nil, false, nil
	}
	batchNumber, _ := out[0].(string)
	manufacturer, _ := out[7].(common.Address)
	metadataURI, _ := out[8].(string)

	return &BatchInfo{
		TokenID:           tokenID,
		BatchNumber:       batchNumber,
		TemplateID:        bigToUint64(asBig(out[1])),
		Quantity:          bigToUint64(asBig(out[2])),
		ProductionDate:    unixTime(asBig(out[3])),
		ExpiryDate:        unixTime(asBig(out[4])),
		CarbonFootprintKg: int64(bigToUint64(asBig(out[5]))),
		PlantID:           bigToUint64(asBig(out[6])),
		Manufacturer:      manufacturer,
		MetadataURI:       metadataURI,
	}, true, nil
}

func asBig(v interface{}) *big.Int {
	b, _ := v.(*big.Int)
	return b
}

func bigToUint64(v *big.Int) uint64 {
	if v == nil || !v.IsUint64() {
		return 0
	}
	return v.Uint64()
}

func unixTime(v *big.Int) time.Time {
	seconds := bigToUint64(v)
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(int64(seconds), 0).UTC()
}

func unixSeconds(t time.Time) *big.Int {
	if t.IsZero() {
		return new(big.Int)
	}
	return big.NewInt(t.Unix())
}

func u64(v uint64) *big.Int {
	return new(big.Int).SetUint64(v)
}
