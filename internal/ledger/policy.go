package ledger

import "math/big"

// Gas limit padding, in percent of the node's estimate.
const (
	mintGasPaddingPercent     = 100
	transferGasPaddingPercent = 20
	burnGasPaddingPercent     = 20
)

var gwei = big.NewInt(1_000_000_000)

func gweiAmount(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), gwei)
}

// priorityFeeFloors are fixed minimum tips per chain id. Nodes on these
// networks under-report the tip needed for inclusion.
var priorityFeeFloors = map[uint64]*big.Int{
	137:   gweiAmount(30), // Polygon PoS
	80001: gweiAmount(30), // Polygon Mumbai
	80002: gweiAmount(25), // Polygon Amoy
}

// padGas adds percent to an estimated gas limit.
func padGas(estimate, percent uint64) uint64 {
	return estimate + estimate*percent/100
}

// applyFeeFloor raises suggested to the network floor. There is no adaptive
// bumping; stuck transactions are left to the operator.
func applyFeeFloor(chainID uint64, suggested *big.Int) *big.Int {
	floor, ok := priorityFeeFloors[chainID]
	if suggested == nil {
		if ok {
			return new(big.Int).Set(floor)
		}
		return new(big.Int)
	}
	if ok && suggested.Cmp(floor) < 0 {
		return new(big.Int).Set(floor)
	}
	return new(big.Int).Set(suggested)
}

// feeCap allows the base fee to double before the transaction stops being includable.
func feeCap(baseFee, tip *big.Int) *big.Int {
	if baseFee == nil {
		return new(big.Int).Set(tip)
	}
	maxFee := new(big.Int).Mul(baseFee, big.NewInt(2))
	return maxFee.Add(maxFee, tip)
}
