// Package mock provides an in-memory database seeded with a small supply chain:
// three companies, their plants and templates, partner links and unminted
// raw material batches ready to be put on the ledger.
package mock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"carbontrace/internal/db"
	applog "carbontrace/internal/log"
	"carbontrace/internal/partners"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

// Seeded identities. The mock ledger signs as ManufacturerAddress.
const (
	ManufacturerAddress = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	SupplierAddress     = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
	CustomerAddress     = "0x15d34AAf54267DB7D7c367839AAf71A00a2C6A65"

	OperatorEmail    = "avery@carbontrace.dev"
	OperatorPassword = "carbontrace"
)

const defaultDSN = "file:carbontrace-mock?mode=memory&cache=shared"

// New returns the process-wide mock database.
func New(ctx context.Context) (*gorm.DB, error) {
	return Open(ctx, defaultDSN)
}

// Open creates and seeds a sqlite database at dsn.
func Open(ctx context.Context, dsn string) (*gorm.DB, error) {
	applog.Debug(ctx, "initialising mock database", "dsn", dsn)

	database, err := db.OpenSQLite(dsn)
	if err != nil {
		return nil, err
	}
	if err := seed(ctx, database); err != nil {
		return nil, fmt.Errorf("seed mock database: %w", err)
	}

	applog.Debug(ctx, "mock database ready")
	return database, nil
}

func seed(ctx context.Context, database *gorm.DB) error {
	applog.Debug(ctx, "seeding mock database")

	password, err := bcrypt.GenerateFromPassword([]byte(OperatorPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	operator := &models.User{
		Name:          "Avery Operator",
		Email:         OperatorEmail,
		PasswordHash:  string(password),
		WalletAddress: ManufacturerAddress,
	}
	if err := database.WithContext(ctx).Create(operator).Error; err != nil {
		return err
	}

	repo := repository.New(database, repository.Options{RequireComponents: true})
	companies := []repository.CompanyInput{
		{Address: ManufacturerAddress, Name: "Acme Cycles", Email: "ops@acme.example", Description: "Frame and wheel assembly."},
		{Address: SupplierAddress, Name: "Borealis Steel", Email: "sales@borealis.example", Description: "Low-carbon steel coil."},
		{Address: CustomerAddress, Name: "Cobalt Retail", Email: "buying@cobalt.example", Description: "Bicycle retail chain."},
	}
	for _, input := range companies {
		if _, err := repo.CreateCompany(ctx, input); err != nil {
			return err
		}
	}

	turin, err := repo.CreatePlant(ctx, plant("Turin Works", "ACM-TRN", "Turin", "IT", 45.0703, 7.6869))
	if err != nil {
		return err
	}
	if _, err := repo.CreatePlant(ctx, plant("Lyon Finishing", "ACM-LYS", "Lyon", "FR", 45.7640, 4.8357)); err != nil {
		return err
	}

	templates := []repository.TemplateInput{
		template("Steel tube", true, "0.0021", "steel"),
		template("Aluminium rim", true, "0.0084", "aluminium"),
		template("Bicycle frame", false, "0.0150", "steel", "paint"),
	}
	var raw []*models.ProductTemplate
	for _, input := range templates {
		created, err := repo.CreateTemplate(ctx, input)
		if err != nil {
			return err
		}
		if created.IsRawMaterial {
			raw = append(raw, created)
		}
	}

	produced := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	for i, template := range raw {
		_, err := repo.CreateBatch(ctx, repository.BatchInput{
			BatchNumber:         fmt.Sprintf("ACM-2026-%03d", i+1),
			TemplateID:          template.ID,
			ManufacturerAddress: ManufacturerAddress,
			PlantID:             turin.ID,
			Quantity:            500,
			ProductionDate:      produced,
		})
		if err != nil {
			return err
		}
	}

	directory := partners.New(database)
	if _, err := directory.Add(ctx, ManufacturerAddress, SupplierAddress, models.RelationshipSupplier, ""); err != nil {
		return err
	}
	if _, err := directory.Add(ctx, ManufacturerAddress, CustomerAddress, models.RelationshipCustomer, ""); err != nil {
		return err
	}
	return nil
}

func plant(name, code, city, country string, lat, lng float64) repository.PlantInput {
	return repository.PlantInput{
		Name:           name,
		Code:           code,
		CompanyAddress: ManufacturerAddress,
		Location: models.Location{
			City:      city,
			Country:   country,
			Latitude:  &lat,
			Longitude: &lng,
		},
	}
}

func template(name string, raw bool, tons string, materials ...string) repository.TemplateInput {
	return repository.TemplateInput{
		Name:                name,
		Category:            "bicycle",
		IsRawMaterial:       raw,
		ManufacturerAddress: ManufacturerAddress,
		WeightKg:            1.2,
		Materials:           materials,
		CarbonPerUnitTons:   decimal.RequireFromString(tons),
	}
}
