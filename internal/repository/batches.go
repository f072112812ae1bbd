package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"carbontrace/internal/apperr"
	"carbontrace/internal/carbon"
	"carbontrace/models"
)

// ComponentInput declares a quantity of a minted batch consumed by a new batch.
type ComponentInput struct {
	TokenID  uint64 `json:"token_id" validate:"required"`
	Quantity int64  `json:"quantity" validate:"gt=0"`
}

// BatchInput describes a production run before it is minted.
type BatchInput struct {
	BatchNumber         string           `json:"batch_number" validate:"required,max=100"`
	TemplateID          uint             `json:"template_id" validate:"required"`
	ManufacturerAddress string           `json:"manufacturer_address" validate:"required,eth_addr"`
	PlantID             uint             `json:"plant_id" validate:"required"`
	Quantity            int64            `json:"quantity" validate:"gt=0"`
	ProductionDate      time.Time        `json:"production_date" validate:"required"`
	ExpiryDate          *time.Time       `json:"expiry_date"`
	MetadataURI         string           `json:"metadata_uri" validate:"omitempty,uri"`
	Components          []ComponentInput `json:"components" validate:"dive"`
}

// BatchFilter narrows ListBatches. A nil Minted matches both states.
type BatchFilter struct {
	ManufacturerAddress string
	Minted              *bool
}

// ConsumedComponent is the ledger evidence that a component was burned.
type ConsumedComponent struct {
	TokenID    uint64 `json:"token_id"`
	BurnTxHash string `json:"burn_tx_hash"`
}

// MintResult is the outcome of a successful mint, written back by RecordMintResult.
type MintResult struct {
	TokenID         uint64              `json:"token_id"`
	TxHash          string              `json:"tx_hash"`
	BlockNumber     uint64              `json:"block_number"`
	ContractAddress string              `json:"contract_address"`
	Consumed        []ConsumedComponent `json:"consumed"`
}

// CreateBatch stores an unminted batch. Each component's name and attributed
// carbon are snapshotted from the component batch; the batch total is its own
// per-unit footprint times quantity plus every component share.
func (r *Repository) CreateBatch(ctx context.Context, input BatchInput) (*models.ProductBatch, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	manufacturer, err := normalizeAddress("manufacturer_address", input.ManufacturerAddress)
	if err != nil {
		return nil, err
	}
	number := strings.TrimSpace(input.BatchNumber)
	if number == "" {
		return nil, apperr.NewValidation("batch_number", "is required")
	}
	if input.ExpiryDate != nil && input.ExpiryDate.Before(input.ProductionDate) {
		return nil, apperr.NewValidation("expiry_date", "must not precede the production date")
	}

	batch := &models.ProductBatch{
		BatchNumber:         number,
		TemplateID:          input.TemplateID,
		Quantity:            input.Quantity,
		ProductionDate:      input.ProductionDate.UTC(),
		ExpiryDate:          input.ExpiryDate,
		ManufacturerAddress: manufacturer,
		PlantID:             input.PlantID,
		MetadataURI:         strings.TrimSpace(input.MetadataURI),
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var template models.ProductTemplate
		if err := tx.First(&template, input.TemplateID).Error; err != nil {
			return notFound(err, apperr.ErrTemplateNotFound, "template %d", input.TemplateID)
		}
		var owners int64
		if err := tx.Model(&models.Company{}).Where("address = ?", template.ManufacturerAddress).Count(&owners).Error; err != nil {
			return fmt.Errorf("load template manufacturer: %w", err)
		}
		if owners == 0 {
			return fmt.Errorf("template %d has no manufacturer %s: %w", template.ID, template.ManufacturerAddress, apperr.ErrTemplateNotFound)
		}
		if !template.Active {
			return apperr.NewValidation("template_id", "template is inactive")
		}
		if r.opts.RequireComponents && !template.IsRawMaterial && len(input.Components) == 0 {
			return apperr.NewValidation("components", "non-raw-material batches must declare at least one component")
		}

		var plants int64
		if err := tx.Model(&models.Plant{}).Where("id = ?", input.PlantID).Count(&plants).Error; err != nil {
			return fmt.Errorf("load plant: %w", err)
		}
		if plants == 0 {
			return fmt.Errorf("plant %d: %w", input.PlantID, apperr.ErrNotFound)
		}

		var existing int64
		if err := tx.Unscoped().Model(&models.ProductBatch{}).
			Where("manufacturer_address = ? AND batch_number = ?", manufacturer, number).
			Count(&existing).Error; err != nil {
			return fmt.Errorf("check batch number: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("batch %q: %w", number, apperr.ErrDuplicateBatchNumber)
		}

		components, err := snapshotComponents(tx, input.Components)
		if err != nil {
			return err
		}
		shares := make([]int64, 0, len(components))
		for _, component := range components {
			shares = append(shares, component.CarbonFootprintKg)
		}
		batch.Components = components
		batch.CarbonFootprintKg = carbon.BatchTotal(input.Quantity, template.Specifications.CarbonFootprintPerUnit, shares...)

		if err := tx.Create(batch).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("batch %q: %w", number, apperr.ErrDuplicateBatchNumber)
			}
			return fmt.Errorf("create batch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func snapshotComponents(tx *gorm.DB, inputs []ComponentInput) ([]models.BatchComponent, error) {
	components := make([]models.BatchComponent, 0, len(inputs))
	seen := make(map[uint64]struct{}, len(inputs))
	for i, input := range inputs {
		if _, dup := seen[input.TokenID]; dup {
			return nil, apperr.NewValidation(fmt.Sprintf("components[%d].token_id", i), "token is declared more than once")
		}
		seen[input.TokenID] = struct{}{}

		var source models.ProductBatch
		err := tx.Preload("Template").Where("token_id = ?", input.TokenID).First(&source).Error
		if err != nil {
			return nil, notFound(err, apperr.ErrNotFound, "component token %d", input.TokenID)
		}
		if input.Quantity > source.Quantity {
			return nil, apperr.NewValidation(fmt.Sprintf("components[%d].quantity", i),
				fmt.Sprintf("exceeds the %d units produced in batch %s", source.Quantity, source.BatchNumber))
		}

		name := source.BatchNumber
		if source.Template != nil {
			name = source.Template.Name + " " + source.BatchNumber
		}
		components = append(components, models.BatchComponent{
			Position:          i,
			TokenID:           input.TokenID,
			Name:              name,
			Quantity:          input.Quantity,
			CarbonFootprintKg: carbon.Share(source.CarbonFootprintKg, source.Quantity, input.Quantity),
		})
	}
	return components, nil
}

// Batch loads a batch with its template, plant and components.
func (r *Repository) Batch(ctx context.Context, id uint) (*models.ProductBatch, error) {
	var batch models.ProductBatch
	err := r.withBatchRelations(r.db.WithContext(ctx)).First(&batch, id).Error
	if err != nil {
		return nil, notFound(err, apperr.ErrNotFound, "batch %d", id)
	}
	return &batch, nil
}

// BatchByTokenID loads the batch minted as tokenID with its components only;
// the template and plant are left for the caller to resolve.
func (r *Repository) BatchByTokenID(ctx context.Context, tokenID uint64) (*models.ProductBatch, error) {
	var batch models.ProductBatch
	err := r.db.WithContext(ctx).
		Preload("Components", orderByPosition).
		Where("token_id = ?", tokenID).
		First(&batch).Error
	if err != nil {
		return nil, notFound(err, apperr.ErrNotFound, "token %d", tokenID)
	}
	return &batch, nil
}

// ListBatches returns batches matching filter, newest first.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]models.ProductBatch, error) {
	tx := r.withBatchRelations(r.db.WithContext(ctx)).Order("id DESC")
	if strings.TrimSpace(filter.ManufacturerAddress) != "" {
		manufacturer, err := normalizeAddress("manufacturer_address", filter.ManufacturerAddress)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("manufacturer_address = ?", manufacturer)
	}
	if filter.Minted != nil {
		if *filter.Minted {
			tx = tx.Where("token_id IS NOT NULL")
		} else {
			tx = tx.Where("token_id IS NULL")
		}
	}

	var batches []models.ProductBatch
	if err := tx.Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	return batches, nil
}

// DeleteBatch removes an unminted batch. Minted batches are immutable.
func (r *Repository) DeleteBatch(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.ProductBatch
		if err := tx.First(&batch, id).Error; err != nil {
			return notFound(err, apperr.ErrNotFound, "batch %d", id)
		}
		if batch.Minted() {
			return fmt.Errorf("batch %d is minted as token %d: %w", id, *batch.TokenID, apperr.ErrConflict)
		}
		if err := tx.Unscoped().Where("batch_id = ?", id).Delete(&models.BatchComponent{}).Error; err != nil {
			return fmt.Errorf("delete components of batch %d: %w", id, err)
		}
		if err := tx.Unscoped().Delete(&batch).Error; err != nil {
			return fmt.Errorf("delete batch %d: %w", id, err)
		}
		return nil
	})
}

// RecordBurns marks components of batchID as consumed with their burn hashes.
// Re-recording the same burn is a no-op; a different hash for an already
// consumed component is a conflict.
func (r *Repository) RecordBurns(ctx context.Context, batchID uint, consumed []ConsumedComponent) error {
	if len(consumed) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return markConsumed(tx, batchID, consumed)
	})
}

// RecordMintResult writes the ledger outcome of a mint back to the batch.
// Re-applying the same token id is a no-op; a different token id for an
// already minted batch fails with ErrConflict.
func (r *Repository) RecordMintResult(ctx context.Context, batchID uint, result MintResult) error {
	if result.TokenID == 0 || strings.TrimSpace(result.TxHash) == "" {
		return apperr.NewValidation("mint_result", "token id and transaction hash are required")
	}

	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch models.ProductBatch
		if err := tx.First(&batch, batchID).Error; err != nil {
			return notFound(err, apperr.ErrNotFound, "batch %d", batchID)
		}
		if batch.Minted() {
			if *batch.TokenID != result.TokenID {
				return fmt.Errorf("batch %d already recorded as token %d, not %d: %w", batchID, *batch.TokenID, result.TokenID, apperr.ErrConflict)
			}
			return markConsumed(tx, batchID, result.Consumed)
		}

		var holders int64
		if err := tx.Model(&models.ProductBatch{}).Where("token_id = ?", result.TokenID).Count(&holders).Error; err != nil {
			return fmt.Errorf("check token %d: %w", result.TokenID, err)
		}
		if holders > 0 {
			return fmt.Errorf("token %d is recorded on another batch: %w", result.TokenID, apperr.ErrConflict)
		}

		if err := markConsumed(tx, batchID, result.Consumed); err != nil {
			return err
		}

		tokenID := result.TokenID
		block := result.BlockNumber
		now := tx.NowFunc()
		return tx.Model(&batch).Updates(map[string]interface{}{
			"token_id":         &tokenID,
			"tx_hash":          result.TxHash,
			"block_number":     &block,
			"contract_address": result.ContractAddress,
			"minted_at":        &now,
		}).Error
	})
}

func markConsumed(tx *gorm.DB, batchID uint, consumed []ConsumedComponent) error {
	for _, burn := range consumed {
		var component models.BatchComponent
		err := tx.Where("batch_id = ? AND token_id = ?", batchID, burn.TokenID).First(&component).Error
		if err != nil {
			return notFound(err, apperr.ErrNotFound, "component token %d of batch %d", burn.TokenID, batchID)
		}
		if component.Consumed {
			if component.BurnTxHash != burn.BurnTxHash {
				return fmt.Errorf("component token %d of batch %d burned in %s, not %s: %w",
					burn.TokenID, batchID, component.BurnTxHash, burn.BurnTxHash, apperr.ErrConflict)
			}
			continue
		}
		if err := tx.Model(&component).Updates(map[string]interface{}{
			"consumed":     true,
			"burn_tx_hash": burn.BurnTxHash,
		}).Error; err != nil {
			return fmt.Errorf("mark component token %d consumed: %w", burn.TokenID, err)
		}
	}
	return nil
}

func (r *Repository) withBatchRelations(tx *gorm.DB) *gorm.DB {
	return tx.Preload("Template").Preload("Plant").Preload("Components", orderByPosition)
}

func orderByPosition(tx *gorm.DB) *gorm.DB {
	return tx.Order("position ASC")
}
