package repository

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"carbontrace/internal/db"
	"carbontrace/models"
)

const (
	manufacturerA = "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	manufacturerB = "0x90F79bf6EB2c4f870365E785982E1f101E93b906"
)

var productionDay = time.Date(2026, 2, 14, 0, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T, opts Options) *Repository {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	database, err := db.OpenSQLite("file:" + name + "?mode=memory&cache=shared")
	require.NoError(t, err)
	sqlDB, err := database.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return New(database, opts)
}

func seedCompany(t *testing.T, repo *Repository, address, name string) *models.Company {
	t.Helper()
	company, err := repo.CreateCompany(context.Background(), CompanyInput{Address: address, Name: name})
	require.NoError(t, err)
	return company
}

func seedPlant(t *testing.T, repo *Repository, owner, code string) *models.Plant {
	t.Helper()
	lat, lng := 45.07, 7.68
	plant, err := repo.CreatePlant(context.Background(), PlantInput{
		Name:           "Plant " + code,
		Code:           code,
		CompanyAddress: owner,
		Location:       models.Location{City: "Turin", Country: "IT", Latitude: &lat, Longitude: &lng},
	})
	require.NoError(t, err)
	return plant
}

func templateInput(manufacturer, name string, raw bool, tons string) TemplateInput {
	return TemplateInput{
		Name:                name,
		Category:            "metals",
		IsRawMaterial:       raw,
		ManufacturerAddress: manufacturer,
		WeightKg:            1.5,
		Materials:           []string{"steel"},
		CarbonPerUnitTons:   decimal.RequireFromString(tons),
	}
}

func seedTemplate(t *testing.T, repo *Repository, manufacturer, name string, raw bool, tons string) *models.ProductTemplate {
	t.Helper()
	template, err := repo.CreateTemplate(context.Background(), templateInput(manufacturer, name, raw, tons))
	require.NoError(t, err)
	return template
}

func batchInput(manufacturer, number string, templateID, plantID uint, quantity int64, components ...ComponentInput) BatchInput {
	return BatchInput{
		BatchNumber:         number,
		TemplateID:          templateID,
		ManufacturerAddress: manufacturer,
		PlantID:             plantID,
		Quantity:            quantity,
		ProductionDate:      productionDay,
		Components:          components,
	}
}

// seedMintedBatch creates a batch and records it as minted under tokenID.
func seedMintedBatch(t *testing.T, repo *Repository, input BatchInput, tokenID uint64) *models.ProductBatch {
	t.Helper()
	ctx := context.Background()
	batch, err := repo.CreateBatch(ctx, input)
	require.NoError(t, err)
	require.NoError(t, repo.RecordMintResult(ctx, batch.ID, MintResult{
		TokenID: tokenID,
		TxHash:  "0xmint" + input.BatchNumber,
	}))
	minted, err := repo.Batch(ctx, batch.ID)
	require.NoError(t, err)
	return minted
}
