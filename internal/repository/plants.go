package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"carbontrace/internal/apperr"
	"carbontrace/models"
)

// PlantInput describes a manufacturing location.
type PlantInput struct {
	Name           string          `json:"name" validate:"required,max=200"`
	Code           string          `json:"code" validate:"required,max=50"`
	Description    string          `json:"description"`
	CompanyAddress string          `json:"company_address" validate:"required,eth_addr"`
	Location       models.Location `json:"location"`
}

// CreatePlant stores a plant; codes are globally unique.
func (r *Repository) CreatePlant(ctx context.Context, input PlantInput) (*models.Plant, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	owner, err := normalizeAddress("company_address", input.CompanyAddress)
	if err != nil {
		return nil, err
	}
	if loc := input.Location; (loc.Latitude == nil) != (loc.Longitude == nil) {
		return nil, apperr.NewValidation("location", "latitude and longitude must be set together")
	}
	if loc := input.Location; loc.HasCoordinates() {
		if *loc.Latitude < -90 || *loc.Latitude > 90 || *loc.Longitude < -180 || *loc.Longitude > 180 {
			return nil, apperr.NewValidation("location", "coordinates out of range")
		}
	}

	code := strings.ToUpper(strings.TrimSpace(input.Code))
	plant := &models.Plant{
		Name:           strings.TrimSpace(input.Name),
		Code:           code,
		Description:    input.Description,
		CompanyAddress: owner,
		Location:       input.Location,
		Active:         true,
	}
	if err := r.db.WithContext(ctx).Create(plant).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("plant code %q: %w", code, apperr.ErrDuplicateName)
		}
		return nil, fmt.Errorf("create plant: %w", err)
	}
	return plant, nil
}

// Plant loads a plant by id.
func (r *Repository) Plant(ctx context.Context, id uint) (*models.Plant, error) {
	var plant models.Plant
	if err := r.db.WithContext(ctx).First(&plant, id).Error; err != nil {
		return nil, notFound(err, apperr.ErrNotFound, "plant %d", id)
	}
	return &plant, nil
}

// ListPlants returns the plants owned by company, or every plant when company is empty.
func (r *Repository) ListPlants(ctx context.Context, company string) ([]models.Plant, error) {
	tx := r.db.WithContext(ctx).Order("code ASC")
	if strings.TrimSpace(company) != "" {
		owner, err := normalizeAddress("company_address", company)
		if err != nil {
			return nil, err
		}
		tx = tx.Where("company_address = ?", owner)
	}
	var plants []models.Plant
	if err := tx.Find(&plants).Error; err != nil {
		return nil, fmt.Errorf("list plants: %w", err)
	}
	return plants, nil
}
