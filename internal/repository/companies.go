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

const defaultSearchLimit = 20

// CompanyInput registers an organisation under its ledger address.
type CompanyInput struct {
	Address     string `json:"address" validate:"required,eth_addr"`
	Name        string `json:"name" validate:"required,max=200"`
	Email       string `json:"email" validate:"omitempty,email"`
	Description string `json:"description"`
}

// CreateCompany stores a new company. The address is the natural key.
func (r *Repository) CreateCompany(ctx context.Context, input CompanyInput) (*models.Company, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}
	address, err := normalizeAddress("address", input.Address)
	if err != nil {
		return nil, err
	}

	company := &models.Company{
		Address:     address,
		Name:        strings.TrimSpace(input.Name),
		Email:       strings.TrimSpace(input.Email),
		Description: input.Description,
	}
	if err := r.db.WithContext(ctx).Create(company).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, fmt.Errorf("company %s: %w", address, apperr.ErrConflict)
		}
		return nil, fmt.Errorf("create company: %w", err)
	}
	return company, nil
}

// Company loads a company by ledger address.
func (r *Repository) Company(ctx context.Context, address string) (*models.Company, error) {
	normalized, err := normalizeAddress("address", address)
	if err != nil {
		return nil, err
	}
	var company models.Company
	err = r.db.WithContext(ctx).Where("address = ?", normalized).First(&company).Error
	if err != nil {
		return nil, notFound(err, apperr.ErrNotFound, "company %s", normalized)
	}
	return &company, nil
}

// SearchCompanies matches query as a case-insensitive substring of the company
// name or a prefix of its address.
func (r *Repository) SearchCompanies(ctx context.Context, query string, limit int) ([]models.Company, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	query = strings.ToLower(strings.TrimSpace(query))

	tx := r.db.WithContext(ctx).Model(&models.Company{})
	if query != "" {
		tx = tx.Where("LOWER(name) LIKE ? OR LOWER(address) LIKE ?", "%"+stripWildcards(query)+"%", stripWildcards(query)+"%")
	}

	var companies []models.Company
	if err := tx.Order("name ASC").Limit(limit).Find(&companies).Error; err != nil {
		return nil, fmt.Errorf("search companies: %w", err)
	}
	return companies, nil
}

func stripWildcards(value string) string {
	replacer := strings.NewReplacer(`%`, "", `_`, "")
	return replacer.Replace(value)
}
