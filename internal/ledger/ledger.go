// Package ledger is the typed boundary to the external multi-token ledger.
// The ledger is authoritative for ownership and quantities; callers hold an
// explicit Ledger handle rather than a process-wide connection.
package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

// Ledger exposes the mint/transfer/burn lifecycle and read operations of the
// token contract. Write operations are signed by Sender. A write that fails
// after broadcast returns a receipt holding the transaction hash together with
// the error.
type Ledger interface {
	Sender() common.Address
	ContractAddress() common.Address

	Mint(ctx context.Context, req MintRequest) (*Receipt, error)
	Transfer(ctx context.Context, to common.Address, tokenID, quantity uint64, reason string) (*Receipt, error)
	Burn(ctx context.Context, tokenID, quantity uint64, reason string) (*Receipt, error)

	BalanceOf(ctx context.Context, owner common.Address, tokenID uint64) (uint64, error)
	BatchInfo(ctx context.Context, tokenID uint64) (*BatchInfo, error)
	TokenCounter(ctx context.Context) (uint64, error)
	MintedTokens(ctx context.Context) ([]BatchInfo, error)
}

// MintRequest carries the on-chain batch registry fields for a new token.
// CarbonFootprintKg is whole kilograms; tons are converted before this boundary.
type MintRequest struct {
	BatchNumber       string
	TemplateID        uint64
	PlantID           uint64
	Quantity          uint64
	ProductionDate    time.Time
	ExpiryDate        time.Time
	CarbonFootprintKg int64
	MetadataURI       string
}

// Validate applies the checks the ledger client performs before submission.
func (r MintRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.BatchNumber) == "":
		return validationError("mint", "batch number is required")
	case r.TemplateID == 0:
		return validationError("mint", "template id must be positive")
	case r.PlantID == 0:
		return validationError("mint", "plant id must be positive")
	case r.Quantity == 0:
		return validationError("mint", "quantity must be positive")
	case r.CarbonFootprintKg <= 0:
		return validationError("mint", "carbon footprint must be a positive number of kilograms")
	case r.ProductionDate.IsZero():
		return validationError("mint", "production date is required")
	}
	return nil
}

// Receipt describes a confirmed ledger transaction.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	GasUsed     uint64
	// TokenID and Quantity are decoded from the emitted event when present.
	TokenID  uint64
	Quantity uint64
}

// BatchInfo is the ledger's batch registry entry for a token.
type BatchInfo struct {
	TokenID           uint64
	BatchNumber       string
	TemplateID        uint64
	PlantID           uint64
	Quantity          uint64
	ProductionDate    time.Time
	ExpiryDate        time.Time
	CarbonFootprintKg int64
	Manufacturer      common.Address
	MetadataURI       string
}

type batchReader interface {
	TokenCounter(ctx context.Context) (uint64, error)
	BatchInfo(ctx context.Context, tokenID uint64) (*BatchInfo, error)
}

// scanMinted reads every token id from 1 to the current counter. The cost is
// linear in the number of tokens ever minted.
// TODO: index balances by owner from TransferSingle logs once token counts grow.
func scanMinted(ctx context.Context, l batchReader, concurrency int) ([]BatchInfo, error) {
	counter, err := l.TokenCounter(ctx)
	if err != nil {
		return nil, err
	}
	if counter == 0 {
		return nil, nil
	}

	infos := make([]*BatchInfo, counter)
	g, gctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for id := uint64(1); id <= counter; id++ {
		id := id
		g.Go(func() error {
			info, err := l.BatchInfo(gctx, id)
			if err != nil {
				return err
			}
			infos[id-1] = info
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make([]BatchInfo, 0, counter)
	for _, info := range infos {
		if info != nil {
			result = append(result, *info)
		}
	}
	return result, nil
}
