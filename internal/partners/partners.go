// Package partners is the directory of company relationships. A partnership is
// stored as two directed records, one per side, which are always written and
// removed together.
package partners

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"carbontrace/internal/apperr"
	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/models"
)

// Directory manages partner relationships.
type Directory struct {
	db *gorm.DB
}

// New returns a Directory over db.
func New(db *gorm.DB) *Directory {
	return &Directory{db: db}
}

// Filter narrows List. Empty fields match everything.
type Filter struct {
	Relationship string
	Status       string
}

// Update changes the mutable fields of a relationship. Nil fields are left as is.
type Update struct {
	DisplayName *string
	Status      *string
}

// Add records that partner is a relationship of self and writes the inverse
// record on the partner's side in the same transaction. Re-adding an existing
// pair updates it and reactivates both sides.
func (d *Directory) Add(ctx context.Context, self, partner, relationship, displayName string) (*models.Partner, error) {
	selfAddr, partnerAddr, err := pair(self, partner)
	if err != nil {
		return nil, err
	}
	if relationship != models.RelationshipSupplier && relationship != models.RelationshipCustomer {
		return nil, apperr.NewValidation("relationship", "must be supplier or customer")
	}

	var forward models.Partner
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var counterpart models.Company
		if err := tx.Where("address = ?", partnerAddr).First(&counterpart).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("partner company %s: %w", partnerAddr, apperr.ErrNotFound)
			}
			return fmt.Errorf("load partner company: %w", err)
		}
		name := strings.TrimSpace(displayName)
		if name == "" {
			name = counterpart.Name
		}

		var own models.Company
		inverseName := selfAddr
		if err := tx.Where("address = ?", selfAddr).First(&own).Error; err == nil {
			inverseName = own.Name
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load own company: %w", err)
		}

		forward = models.Partner{
			SelfAddress:    selfAddr,
			PartnerAddress: partnerAddr,
			Relationship:   relationship,
			DisplayName:    name,
			Status:         models.PartnerStatusActive,
		}
		if err := upsert(tx, &forward); err != nil {
			return err
		}
		inverse := models.Partner{
			SelfAddress:    partnerAddr,
			PartnerAddress: selfAddr,
			Relationship:   models.InverseRelationship(relationship),
			DisplayName:    inverseName,
			Status:         models.PartnerStatusActive,
		}
		return upsert(tx, &inverse)
	})
	if err != nil {
		return nil, err
	}

	applog.Info(ctx, "partner added", "self", selfAddr, "partner", partnerAddr, "relationship", relationship)
	return &forward, nil
}

func upsert(tx *gorm.DB, record *models.Partner) error {
	err := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "self_address"}, {Name: "partner_address"}},
		DoUpdates: clause.AssignmentColumns([]string{"relationship", "display_name", "status", "updated_at"}),
	}).Create(record).Error
	if err != nil {
		return fmt.Errorf("save partner %s -> %s: %w", record.SelfAddress, record.PartnerAddress, err)
	}
	// The id reported by an upsert is unreliable on some drivers, so re-read the row.
	var stored models.Partner
	if err := tx.Where("self_address = ? AND partner_address = ?", record.SelfAddress, record.PartnerAddress).
		First(&stored).Error; err != nil {
		return fmt.Errorf("reload partner: %w", err)
	}
	*record = stored
	return nil
}

// List returns self's partners matching filter ordered by display name.
func (d *Directory) List(ctx context.Context, self string, filter Filter) ([]models.Partner, error) {
	selfAddr, err := address("self_address", self)
	if err != nil {
		return nil, err
	}
	tx := d.db.WithContext(ctx).Where("self_address = ?", selfAddr).Order("display_name ASC")
	if filter.Relationship != "" {
		tx = tx.Where("relationship = ?", filter.Relationship)
	}
	if filter.Status != "" {
		tx = tx.Where("status = ?", filter.Status)
	}
	var partners []models.Partner
	if err := tx.Find(&partners).Error; err != nil {
		return nil, fmt.Errorf("list partners: %w", err)
	}
	return partners, nil
}

// Update changes self's record for partner. A status change is mirrored on the
// inverse record so the relationship never becomes one-sided.
func (d *Directory) Update(ctx context.Context, self, partner string, update Update) (*models.Partner, error) {
	selfAddr, partnerAddr, err := pair(self, partner)
	if err != nil {
		return nil, err
	}
	if update.Status != nil && *update.Status != models.PartnerStatusActive && *update.Status != models.PartnerStatusInactive {
		return nil, apperr.NewValidation("status", "must be active or inactive")
	}

	var record models.Partner
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("self_address = ? AND partner_address = ?", selfAddr, partnerAddr).First(&record).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("partner %s of %s: %w", partnerAddr, selfAddr, apperr.ErrNotFound)
			}
			return fmt.Errorf("load partner: %w", err)
		}

		changes := map[string]interface{}{}
		if update.DisplayName != nil {
			changes["display_name"] = strings.TrimSpace(*update.DisplayName)
		}
		if update.Status != nil {
			changes["status"] = *update.Status
		}
		if len(changes) == 0 {
			return nil
		}
		if err := tx.Model(&record).Updates(changes).Error; err != nil {
			return fmt.Errorf("update partner: %w", err)
		}
		if update.Status != nil {
			err := tx.Model(&models.Partner{}).
				Where("self_address = ? AND partner_address = ?", partnerAddr, selfAddr).
				Update("status", *update.Status).Error
			if err != nil {
				return fmt.Errorf("mirror partner status: %w", err)
			}
		}
		return tx.First(&record, record.ID).Error
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Remove deletes both directions of a relationship.
func (d *Directory) Remove(ctx context.Context, self, partner string) error {
	selfAddr, partnerAddr, err := pair(self, partner)
	if err != nil {
		return err
	}
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Unscoped().
			Where("(self_address = ? AND partner_address = ?) OR (self_address = ? AND partner_address = ?)",
				selfAddr, partnerAddr, partnerAddr, selfAddr).
			Delete(&models.Partner{})
		if res.Error != nil {
			return fmt.Errorf("remove partner: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("partner %s of %s: %w", partnerAddr, selfAddr, apperr.ErrNotFound)
		}
		return nil
	})
}

// IsActive reports whether partner is an active partner of self, whatever the
// relationship kind.
func (d *Directory) IsActive(ctx context.Context, self, partner string) (bool, error) {
	selfAddr, partnerAddr, err := pair(self, partner)
	if err != nil {
		return false, err
	}
	var count int64
	err = d.db.WithContext(ctx).Model(&models.Partner{}).
		Where("self_address = ? AND partner_address = ? AND status = ?", selfAddr, partnerAddr, models.PartnerStatusActive).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check partner: %w", err)
	}
	return count > 0, nil
}

func pair(self, partner string) (string, string, error) {
	selfAddr, err := address("self_address", self)
	if err != nil {
		return "", "", err
	}
	partnerAddr, err := address("partner_address", partner)
	if err != nil {
		return "", "", err
	}
	if selfAddr == partnerAddr {
		return "", "", apperr.NewValidation("partner_address", "a company cannot partner with itself")
	}
	return selfAddr, partnerAddr, nil
}

func address(field, value string) (string, error) {
	return ledger.NormalizeAddress(field, value)
}
