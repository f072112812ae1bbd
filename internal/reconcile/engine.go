// Package reconcile drives the mint, burn and transfer lifecycle against the
// ledger and writes what actually happened back to the repository. The ledger
// is authoritative; steps are not wrapped in a distributed transaction, so
// every failure reports how far the operation got.
package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"carbontrace/internal/apperr"
	"carbontrace/internal/ledger"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

const defaultScanConcurrency = 8

// Batches is the slice of the repository the engine reads and writes.
type Batches interface {
	Batch(ctx context.Context, id uint) (*models.ProductBatch, error)
	BatchByTokenID(ctx context.Context, tokenID uint64) (*models.ProductBatch, error)
	ListBatches(ctx context.Context, filter repository.BatchFilter) ([]models.ProductBatch, error)
	RecordBurns(ctx context.Context, batchID uint, consumed []repository.ConsumedComponent) error
	RecordMintResult(ctx context.Context, batchID uint, result repository.MintResult) error
	RecordTransfer(ctx context.Context, transfer *models.TokenTransfer) (bool, error)
}

// Partners answers whether a transfer destination is an active partner.
type Partners interface {
	IsActive(ctx context.Context, self, partner string) (bool, error)
}

// Options tunes the engine.
type Options struct {
	// MetadataBaseURI is used to derive a token metadata URI for batches that
	// do not carry one.
	MetadataBaseURI string
	// ScanConcurrency caps concurrent balance reads during inventory scans.
	ScanConcurrency int
}

// Engine reconciles repository state with the ledger.
type Engine struct {
	ledger   ledger.Ledger
	batches  Batches
	partners Partners
	opts     Options
}

// New returns an Engine writing through l.
func New(l ledger.Ledger, batches Batches, partners Partners, opts Options) *Engine {
	if opts.ScanConcurrency <= 0 {
		opts.ScanConcurrency = defaultScanConcurrency
	}
	opts.MetadataBaseURI = strings.TrimRight(strings.TrimSpace(opts.MetadataBaseURI), "/")
	return &Engine{ledger: l, batches: batches, partners: partners, opts: opts}
}

// Sender is the address the ledger signs writes with.
func (e *Engine) Sender() string {
	return e.ledger.Sender().Hex()
}

// requireSender checks that the ledger signs as owner.
func (e *Engine) requireSender(field, owner string) error {
	if !common.IsHexAddress(owner) {
		return apperr.NewValidation(field, "must be a hex ledger address")
	}
	if common.HexToAddress(owner) != e.ledger.Sender() {
		return apperr.NewValidation(field, fmt.Sprintf("ledger signs as %s, not %s", e.ledger.Sender().Hex(), owner))
	}
	return nil
}
