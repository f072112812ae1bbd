package repository

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm/clause"

	"carbontrace/internal/apperr"
	"carbontrace/models"
)

const defaultTransferLimit = 100

// RecordTransfer journals a ledger transfer keyed by its transaction hash. It
// reports whether a new row was written; a repeated hash is absorbed silently.
func (r *Repository) RecordTransfer(ctx context.Context, transfer *models.TokenTransfer) (bool, error) {
	if transfer == nil || strings.TrimSpace(transfer.TxHash) == "" {
		return false, apperr.NewValidation("tx_hash", "is required")
	}
	if transfer.TokenID == 0 || transfer.Quantity <= 0 {
		return false, apperr.NewValidation("quantity", "token id and quantity must be positive")
	}
	from, err := normalizeAddress("from_address", transfer.FromAddress)
	if err != nil {
		return false, err
	}
	to, err := normalizeAddress("to_address", transfer.ToAddress)
	if err != nil {
		return false, err
	}
	transfer.FromAddress = from
	transfer.ToAddress = to
	transfer.TxHash = strings.ToLower(strings.TrimSpace(transfer.TxHash))
	if transfer.Status == "" {
		transfer.Status = models.TransferStatusConfirmed
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_hash"}}, DoNothing: true}).
		Create(transfer)
	if res.Error != nil {
		return false, fmt.Errorf("record transfer %s: %w", transfer.TxHash, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// TransferByHash loads a journal entry by transaction hash.
func (r *Repository) TransferByHash(ctx context.Context, txHash string) (*models.TokenTransfer, error) {
	hash := strings.ToLower(strings.TrimSpace(txHash))
	var transfer models.TokenTransfer
	if err := r.db.WithContext(ctx).Where("tx_hash = ?", hash).First(&transfer).Error; err != nil {
		return nil, notFound(err, apperr.ErrNotFound, "transfer %s", hash)
	}
	return &transfer, nil
}

// ListTransfers returns journal entries sent or received by address, newest first.
func (r *Repository) ListTransfers(ctx context.Context, address string, limit int) ([]models.TokenTransfer, error) {
	if limit <= 0 {
		limit = defaultTransferLimit
	}
	tx := r.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if strings.TrimSpace(address) != "" {
		normalized, err := normalizeAddress("address", address)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("from_address = ? OR to_address = ?", normalized, normalized)
	}

	var transfers []models.TokenTransfer
	if err := tx.Find(&transfers).Error; err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return transfers, nil
}
