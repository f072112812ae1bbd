package repository

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"carbontrace/internal/apperr"
	"carbontrace/models"
)

// TemplateInput describes a product or raw material definition.
type TemplateInput struct {
	Name                string          `json:"name" validate:"required,max=200"`
	Category            string          `json:"category" validate:"required,max=100"`
	IsRawMaterial       bool            `json:"is_raw_material"`
	ManufacturerAddress string          `json:"manufacturer_address" validate:"required,eth_addr"`
	WeightKg            float64         `json:"weight_kg" validate:"gt=0"`
	LengthCm            *float64        `json:"length_cm" validate:"omitempty,gt=0"`
	WidthCm             *float64        `json:"width_cm" validate:"omitempty,gt=0"`
	HeightCm            *float64        `json:"height_cm" validate:"omitempty,gt=0"`
	Materials           []string        `json:"materials" validate:"required,min=1,dive,required"`
	CarbonPerUnitTons   decimal.Decimal `json:"carbon_footprint_per_unit" validate:"gt=0"`
}

func (in TemplateInput) specifications() models.Specifications {
	materials := make([]string, 0, len(in.Materials))
	for _, material := range in.Materials {
		materials = append(materials, strings.TrimSpace(material))
	}
	return models.Specifications{
		WeightKg:               in.WeightKg,
		LengthCm:               in.LengthCm,
		WidthCm:                in.WidthCm,
		HeightCm:               in.HeightCm,
		Materials:              datatypes.NewJSONSlice(materials),
		CarbonFootprintPerUnit: in.CarbonPerUnitTons,
	}
}

// TemplateFilter narrows ListTemplates.
type TemplateFilter struct {
	ManufacturerAddress string
	Category            string
	ActiveOnly          bool
}

// CreateTemplate stores a template for an existing company and appends its id
// to the company's template list.
func (r *Repository) CreateTemplate(ctx context.Context, input TemplateInput) (*models.ProductTemplate, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	manufacturer, err := normalizeAddress("manufacturer_address", input.ManufacturerAddress)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, apperr.NewValidation("name", "is required")
	}

	template := &models.ProductTemplate{
		Name:                name,
		Category:            strings.TrimSpace(input.Category),
		IsRawMaterial:       input.IsRawMaterial,
		Specifications:      input.specifications(),
		ManufacturerAddress: manufacturer,
		Active:              true,
	}

	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var company models.Company
		if err := tx.Where("address = ?", manufacturer).First(&company).Error; err != nil {
			return notFound(err, apperr.ErrNotFound, "manufacturer %s", manufacturer)
		}
		if err := ensureTemplateNameFree(tx, manufacturer, name, 0); err != nil {
			return err
		}
		if err := tx.Create(template).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("template %q: %w", name, apperr.ErrDuplicateName)
			}
			return fmt.Errorf("create template: %w", err)
		}

		ids := append(slices.Clone([]uint(company.TemplateIDs)), template.ID)
		return tx.Model(&company).Update("template_ids", datatypes.NewJSONSlice(ids)).Error
	})
	if err != nil {
		return nil, err
	}
	return template, nil
}

// UpdateTemplate replaces a template's descriptive fields. The manufacturer
// cannot change.
func (r *Repository) UpdateTemplate(ctx context.Context, id uint, input TemplateInput) (*models.ProductTemplate, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	manufacturer, err := normalizeAddress("manufacturer_address", input.ManufacturerAddress)
	if err != nil {
		return nil, err
	}

	var template models.ProductTemplate
	err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&template, id).Error; err != nil {
			return notFound(err, apperr.ErrTemplateNotFound, "template %d", id)
		}
		if template.ManufacturerAddress != manufacturer {
			return apperr.NewValidation("manufacturer_address", "cannot be changed")
		}
		name := strings.TrimSpace(input.Name)
		if err := ensureTemplateNameFree(tx, manufacturer, name, id); err != nil {
			return err
		}

		template.Name = name
		template.Category = strings.TrimSpace(input.Category)
		template.IsRawMaterial = input.IsRawMaterial
		template.Specifications = input.specifications()
		if err := tx.Save(&template).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("template %q: %w", name, apperr.ErrDuplicateName)
			}
			return fmt.Errorf("update template %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &template, nil
}

// DeactivateTemplate hides a template from new batches while keeping it
// resolvable for existing ones.
func (r *Repository) DeactivateTemplate(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Model(&models.ProductTemplate{}).Where("id = ?", id).Update("active", false)
	if res.Error != nil {
		return fmt.Errorf("deactivate template %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("template %d: %w", id, apperr.ErrTemplateNotFound)
	}
	return nil
}

// DeleteTemplate hard-deletes an unreferenced template and removes it from the
// owning company's list. Referenced templates fail with ErrConflict.
func (r *Repository) DeleteTemplate(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var template models.ProductTemplate
		if err := tx.First(&template, id).Error; err != nil {
			return notFound(err, apperr.ErrTemplateNotFound, "template %d", id)
		}

		var references int64
		if err := tx.Unscoped().Model(&models.ProductBatch{}).Where("template_id = ?", id).Count(&references).Error; err != nil {
			return fmt.Errorf("count batches for template %d: %w", id, err)
		}
		if references > 0 {
			return fmt.Errorf("template %d is referenced by %d batches: %w", id, references, apperr.ErrConflict)
		}

		if err := tx.Unscoped().Delete(&template).Error; err != nil {
			return fmt.Errorf("delete template %d: %w", id, err)
		}

		var company models.Company
		err := tx.Where("address = ?", template.ManufacturerAddress).First(&company).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("load company %s: %w", template.ManufacturerAddress, err)
		}
		ids := slices.DeleteFunc(slices.Clone([]uint(company.TemplateIDs)), func(v uint) bool { return v == id })
		return tx.Model(&company).Update("template_ids", datatypes.NewJSONSlice(ids)).Error
	})
}

// Template loads a template by id, including inactive ones.
func (r *Repository) Template(ctx context.Context, id uint) (*models.ProductTemplate, error) {
	var template models.ProductTemplate
	if err := r.db.WithContext(ctx).First(&template, id).Error; err != nil {
		return nil, notFound(err, apperr.ErrTemplateNotFound, "template %d", id)
	}
	return &template, nil
}

// ListTemplates returns templates matching filter ordered by name.
func (r *Repository) ListTemplates(ctx context.Context, filter TemplateFilter) ([]models.ProductTemplate, error) {
	tx := r.db.WithContext(ctx).Order("name ASC")
	if strings.TrimSpace(filter.ManufacturerAddress) != "" {
		manufacturer, err := normalizeAddress("manufacturer_address", filter.ManufacturerAddress)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("manufacturer_address = ?", manufacturer)
	}
	if category := strings.TrimSpace(filter.Category); category != "" {
		tx = tx.Where("category = ?", category)
	}
	if filter.ActiveOnly {
		tx = tx.Where("active = ?", true)
	}

	var templates []models.ProductTemplate
	if err := tx.Find(&templates).Error; err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

func ensureTemplateNameFree(tx *gorm.DB, manufacturer, name string, exceptID uint) error {
	query := tx.Unscoped().Model(&models.ProductTemplate{}).
		Where("manufacturer_address = ? AND name = ?", manufacturer, name)
	if exceptID != 0 {
		query = query.Where("id <> ?", exceptID)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return fmt.Errorf("check template name: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("template %q: %w", name, apperr.ErrDuplicateName)
	}
	return nil
}
