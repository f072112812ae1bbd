package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"carbontrace/internal/apperr"
	"carbontrace/internal/ledger"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

// Holding is a non-zero balance of one token.
type Holding struct {
	TokenID uint64           `json:"token_id"`
	Balance uint64           `json:"balance"`
	Info    ledger.BatchInfo `json:"batch_info"`
	// Batch is the local record of the token, nil while the repository has
	// not caught up with the ledger.
	Batch *models.ProductBatch `json:"batch,omitempty"`
}

// Inventory lists every token address holds, ordered by token id. Balances
// come from the ledger; local batch records are attached when present.
func (e *Engine) Inventory(ctx context.Context, address string) ([]Holding, error) {
	if !common.IsHexAddress(address) {
		return nil, apperr.NewValidation("address", "must be a hex ledger address")
	}
	owner := common.HexToAddress(address)

	minted, err := e.ledger.MintedTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan minted tokens: %w", err)
	}

	slots := make([]*Holding, len(minted))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.ScanConcurrency)
	for i, info := range minted {
		i, info := i, info
		g.Go(func() error {
			balance, err := e.ledger.BalanceOf(gctx, owner, info.TokenID)
			if err != nil {
				return err
			}
			if balance == 0 {
				return nil
			}
			holding := &Holding{TokenID: info.TokenID, Balance: balance, Info: info}
			batch, err := e.batches.BatchByTokenID(gctx, info.TokenID)
			switch {
			case err == nil:
				holding.Batch = batch
			case !errors.Is(err, apperr.ErrNotFound):
				return err
			}
			slots[i] = holding
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	holdings := make([]Holding, 0, len(slots))
	for _, h := range slots {
		if h != nil {
			holdings = append(holdings, *h)
		}
	}
	return holdings, nil
}

// PendingMints lists manufacturer's batches that have not been minted yet.
func (e *Engine) PendingMints(ctx context.Context, manufacturer string) ([]models.ProductBatch, error) {
	minted := false
	return e.batches.ListBatches(ctx, repository.BatchFilter{ManufacturerAddress: manufacturer, Minted: &minted})
}

// Discrepancy is a field whose local value differs from the ledger's.
type Discrepancy struct {
	Field  string `json:"field"`
	Local  string `json:"local"`
	Ledger string `json:"ledger"`
}

// Verification compares a minted batch with its ledger registry entry.
type Verification struct {
	BatchID       uint          `json:"batch_id"`
	TokenID       uint64        `json:"token_id"`
	Discrepancies []Discrepancy `json:"discrepancies"`
}

// Consistent reports whether the local record matches the ledger.
func (v *Verification) Consistent() bool {
	return len(v.Discrepancies) == 0
}

// VerifyBatch reads the ledger entry of a minted batch and reports every
// registry field that disagrees with the repository.
func (e *Engine) VerifyBatch(ctx context.Context, batchID uint) (*Verification, error) {
	batch, err := e.batches.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !batch.Minted() {
		return nil, fmt.Errorf("batch %d is not minted: %w", batchID, apperr.ErrConflict)
	}
	info, err := e.ledger.BatchInfo(ctx, *batch.TokenID)
	if err != nil {
		return nil, err
	}

	v := &Verification{BatchID: batchID, TokenID: *batch.TokenID, Discrepancies: []Discrepancy{}}
	check := func(field, local, onLedger string) {
		if local != onLedger {
			v.Discrepancies = append(v.Discrepancies, Discrepancy{Field: field, Local: local, Ledger: onLedger})
		}
	}
	u := func(n uint64) string { return strconv.FormatUint(n, 10) }

	check("batch_number", batch.BatchNumber, info.BatchNumber)
	check("template_id", u(uint64(batch.TemplateID)), u(info.TemplateID))
	check("plant_id", u(uint64(batch.PlantID)), u(info.PlantID))
	check("quantity", strconv.FormatInt(batch.Quantity, 10), u(info.Quantity))
	check("carbon_footprint_kg", strconv.FormatInt(batch.CarbonFootprintKg, 10), strconv.FormatInt(info.CarbonFootprintKg, 10))
	check("production_date", day(batch.ProductionDate), day(info.ProductionDate))
	check("manufacturer_address", common.HexToAddress(batch.ManufacturerAddress).Hex(), info.Manufacturer.Hex())
	return v, nil
}

func day(t time.Time) string {
	return t.UTC().Format(time.DateOnly)
}
