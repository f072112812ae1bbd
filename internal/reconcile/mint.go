package reconcile

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"carbontrace/internal/apperr"
	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

// Mint stages reported by MintError.
const (
	StagePreflight = "preflight"
	StageBurn      = "burn"
	StageMint      = "mint"
	StageRecord    = "record"
)

// MintError reports where MintBatch stopped. Consumed lists the burns executed
// on the ledger during the call. They are written to the repository before the
// error is returned unless BurnsRecorded is false.
type MintError struct {
	BatchID          uint
	Stage            string
	ComponentTokenID uint64
	Consumed         []repository.ConsumedComponent
	BurnsRecorded    bool
	// TxHash is set when the ledger accepted the mint transaction.
	TxHash string
	// Result is set when the mint succeeded but could not be recorded; pass it
	// to RecordMintResult to finish.
	Result *repository.MintResult
	Err    error
}

func (e *MintError) Error() string {
	msg := fmt.Sprintf("mint batch %d: %s", e.BatchID, e.Stage)
	if e.ComponentTokenID != 0 {
		msg += fmt.Sprintf(" component token %d", e.ComponentTokenID)
	}
	if len(e.Consumed) > 0 {
		msg += fmt.Sprintf(" after %d burn(s)", len(e.Consumed))
	}
	return msg + ": " + e.Err.Error()
}

func (e *MintError) Unwrap() error {
	return e.Err
}

// MintBatch burns the batch's unconsumed components, mints the batch on the
// ledger and records the token id. Burns always complete before the mint is
// submitted. Burns that executed are persisted even when a later step fails or
// ctx is cancelled, so a retry skips them.
func (e *Engine) MintBatch(ctx context.Context, batchID uint) (*repository.MintResult, error) {
	batch, err := e.batches.Batch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if batch.Minted() {
		return nil, fmt.Errorf("batch %d is token %d: %w", batchID, *batch.TokenID, apperr.ErrAlreadyMinted)
	}
	if err := e.requireSender("manufacturer_address", batch.ManufacturerAddress); err != nil {
		return nil, err
	}
	req := e.mintRequest(batch)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	pending := unconsumed(batch.Components)
	if err := e.preflight(ctx, batchID, pending); err != nil {
		return nil, err
	}

	burned, err := e.burnComponents(ctx, batch, pending)
	if err != nil {
		return nil, e.abort(ctx, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, e.abort(ctx, &MintError{BatchID: batchID, Stage: StageMint, Consumed: burned, Err: err})
	}
	receipt, err := e.ledger.Mint(ctx, req)
	if err != nil {
		failure := &MintError{BatchID: batchID, Stage: StageMint, Consumed: burned, Err: err}
		if receipt != nil {
			failure.TxHash = receipt.TxHash
		}
		if hash, pending := ledger.PendingTx(err); pending {
			failure.TxHash = hash
			applog.Error(ctx, "mint broadcast but unconfirmed", "batchID", batchID, "txHash", hash)
		}
		return nil, e.abort(ctx, failure)
	}
	applog.Info(ctx, "batch minted", "batchID", batchID, "tokenID", receipt.TokenID, "txHash", receipt.TxHash)

	result := repository.MintResult{
		TokenID:         receipt.TokenID,
		TxHash:          receipt.TxHash,
		BlockNumber:     receipt.BlockNumber,
		ContractAddress: e.ledger.ContractAddress().Hex(),
		Consumed:        append(alreadyConsumed(batch.Components), burned...),
	}
	if err := e.batches.RecordMintResult(context.WithoutCancel(ctx), batchID, result); err != nil {
		applog.Error(ctx, "minted batch not recorded",
			"batchID", batchID, "tokenID", result.TokenID, "txHash", result.TxHash, "err", err)
		return nil, &MintError{
			BatchID:  batchID,
			Stage:    StageRecord,
			Consumed: burned,
			TxHash:   result.TxHash,
			Result:   &result,
			Err:      err,
		}
	}
	return &result, nil
}

// preflight checks the signer holds every pending component so that a short
// balance is caught before any burn executes.
func (e *Engine) preflight(ctx context.Context, batchID uint, pending []models.BatchComponent) error {
	for _, component := range pending {
		balance, err := e.ledger.BalanceOf(ctx, e.ledger.Sender(), component.TokenID)
		if err != nil {
			return &MintError{BatchID: batchID, Stage: StagePreflight, ComponentTokenID: component.TokenID, Err: err}
		}
		if balance < uint64(component.Quantity) {
			return &MintError{
				BatchID:          batchID,
				Stage:            StagePreflight,
				ComponentTokenID: component.TokenID,
				Err: fmt.Errorf("hold %d of token %d, need %d: %w",
					balance, component.TokenID, component.Quantity, apperr.ErrInsufficientBalance),
			}
		}
	}
	return nil
}

// burnComponents burns pending components in declared order and returns the
// burns that executed or were broadcast without confirmation. On failure the
// returned error is a *MintError carrying the same list.
func (e *Engine) burnComponents(ctx context.Context, batch *models.ProductBatch, pending []models.BatchComponent) ([]repository.ConsumedComponent, error) {
	reason := "consumed by batch " + batch.BatchNumber
	var burned []repository.ConsumedComponent
	for _, component := range pending {
		fail := func(err error) error {
			return &MintError{BatchID: batch.ID, Stage: StageBurn, ComponentTokenID: component.TokenID, Consumed: burned, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return burned, fail(err)
		}
		receipt, err := e.ledger.Burn(ctx, component.TokenID, uint64(component.Quantity), reason)
		if err != nil {
			// A broadcast burn may still be mined. Counting it as consumed keeps
			// a retry from burning the component twice.
			if hash, pending := ledger.PendingTx(err); pending {
				applog.Error(ctx, "component burn unconfirmed",
					"batchID", batch.ID, "tokenID", component.TokenID, "txHash", hash)
				burned = append(burned, repository.ConsumedComponent{TokenID: component.TokenID, BurnTxHash: hash})
			}
			return burned, fail(err)
		}
		applog.Debug(ctx, "component burned",
			"batchID", batch.ID, "tokenID", component.TokenID, "quantity", component.Quantity, "txHash", receipt.TxHash)
		burned = append(burned, repository.ConsumedComponent{TokenID: component.TokenID, BurnTxHash: receipt.TxHash})
	}
	return burned, nil
}

// abort persists the burns carried by err, which must be a *MintError, and
// returns it. The write ignores ctx cancellation: the burns are on the ledger
// whatever the caller decided.
func (e *Engine) abort(ctx context.Context, err error) error {
	var failure *MintError
	if !errors.As(err, &failure) {
		return err
	}
	if len(failure.Consumed) == 0 {
		failure.BurnsRecorded = true
		return failure
	}
	if recErr := e.batches.RecordBurns(context.WithoutCancel(ctx), failure.BatchID, failure.Consumed); recErr != nil {
		applog.Error(ctx, "executed burns not recorded",
			"batchID", failure.BatchID, "burns", failure.Consumed, "err", recErr)
		return failure
	}
	failure.BurnsRecorded = true
	applog.Info(ctx, "mint aborted after burns",
		"batchID", failure.BatchID, "stage", failure.Stage, "burns", len(failure.Consumed), "err", failure.Err)
	return failure
}

func (e *Engine) mintRequest(batch *models.ProductBatch) ledger.MintRequest {
	req := ledger.MintRequest{
		BatchNumber:       batch.BatchNumber,
		TemplateID:        uint64(batch.TemplateID),
		PlantID:           uint64(batch.PlantID),
		ProductionDate:    batch.ProductionDate,
		CarbonFootprintKg: batch.CarbonFootprintKg,
		MetadataURI:       e.metadataURI(batch),
	}
	if batch.Quantity > 0 {
		req.Quantity = uint64(batch.Quantity)
	}
	if batch.ExpiryDate != nil {
		req.ExpiryDate = *batch.ExpiryDate
	}
	return req
}

func (e *Engine) metadataURI(batch *models.ProductBatch) string {
	if uri := strings.TrimSpace(batch.MetadataURI); uri != "" {
		return uri
	}
	if e.opts.MetadataBaseURI == "" {
		return ""
	}
	return fmt.Sprintf("%s/%s/%s.json", e.opts.MetadataBaseURI,
		strings.ToLower(batch.ManufacturerAddress), url.PathEscape(batch.BatchNumber))
}

func unconsumed(components []models.BatchComponent) []models.BatchComponent {
	var pending []models.BatchComponent
	for _, component := range components {
		if !component.Consumed {
			pending = append(pending, component)
		}
	}
	return pending
}

func alreadyConsumed(components []models.BatchComponent) []repository.ConsumedComponent {
	var done []repository.ConsumedComponent
	for _, component := range components {
		if component.Consumed {
			done = append(done, repository.ConsumedComponent{TokenID: component.TokenID, BurnTxHash: component.BurnTxHash})
		}
	}
	return done
}
