package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"carbontrace/internal/config"
	"carbontrace/internal/db"
	"carbontrace/internal/repository"
	"carbontrace/models"
)

var (
	numberPattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)
	keyPattern    = regexp.MustCompile(`[^a-z0-9]+`)
	fieldPattern  = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9 ()/_-]*?)\s*:\s*(.+?)\s*$`)
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: import_templates <catalogue.csv|datasheet.pdf>...")
		os.Exit(2)
	}

	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "import failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, paths []string) error {
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("locate %s: %w", path, err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	database, err := db.Initialize(cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	if err := db.AutoMigrate(database); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	manufacturer, err := resolveManufacturer(ctx, database)
	if err != nil {
		return fmt.Errorf("resolve manufacturer: %w", err)
	}

	repo := repository.New(database, repository.Options{RequireComponents: cfg.Batches.RequireComponents})
	imported, err := importFiles(ctx, repo, manufacturer, paths)
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Imported %d templates for %s\n", imported, manufacturer)
	return nil
}

// resolveManufacturer picks the wallet templates are imported for: the
// operator named by CARBONTRACE_IMPORT_OWNER_EMAIL, or the first operator.
func resolveManufacturer(ctx context.Context, database *gorm.DB) (string, error) {
	if database == nil {
		return "", fmt.Errorf("database handle is nil")
	}

	var user models.User
	email := strings.TrimSpace(os.Getenv("CARBONTRACE_IMPORT_OWNER_EMAIL"))
	if email != "" {
		if err := database.WithContext(ctx).Where("lower(email) = ?", strings.ToLower(email)).First(&user).Error; err != nil {
			return "", fmt.Errorf("find owner by email %q: %w", strings.ToLower(email), err)
		}
		return user.WalletAddress, nil
	}

	if err := database.WithContext(ctx).Order("id asc").First(&user).Error; err != nil {
		return "", fmt.Errorf("find default owner: %w", err)
	}
	return user.WalletAddress, nil
}

// importFiles upserts every record of paths by template name. Records are
// written one at a time; the first failure stops the import.
func importFiles(ctx context.Context, repo *repository.Repository, manufacturer string, paths []string) (int, error) {
	existing, err := repo.ListTemplates(ctx, repository.TemplateFilter{ManufacturerAddress: manufacturer})
	if err != nil {
		return 0, fmt.Errorf("list templates: %w", err)
	}
	byName := make(map[string]uint, len(existing))
	for _, template := range existing {
		byName[strings.ToLower(template.Name)] = template.ID
	}

	imported := 0
	for _, path := range paths {
		records, err := readRecords(path)
		if err != nil {
			return imported, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}

		for idx, record := range records {
			input, err := buildTemplateInput(record)
			if err != nil {
				return imported, fmt.Errorf("%s record %d: %w", filepath.Base(path), idx+1, err)
			}
			input.ManufacturerAddress = manufacturer

			key := strings.ToLower(input.Name)
			if id, ok := byName[key]; ok {
				if _, err := repo.UpdateTemplate(ctx, id, input); err != nil {
					return imported, fmt.Errorf("update template %q: %w", input.Name, err)
				}
			} else {
				created, err := repo.CreateTemplate(ctx, input)
				if err != nil {
					return imported, fmt.Errorf("create template %q: %w", input.Name, err)
				}
				byName[key] = created.ID
			}
			imported++
		}
	}
	return imported, nil
}

func readRecords(path string) ([]map[string]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return readCSV(path)
	case ".pdf":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		text, err := extractTextFromPDF(data)
		if err != nil {
			return nil, fmt.Errorf("extract pdf text: %w", err)
		}
		record := parseDatasheet(text)
		if len(record) == 0 {
			return nil, errors.New("datasheet has no key: value fields")
		}
		return []map[string]string{record}, nil
	default:
		return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
}

func readCSV(path string) ([]map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	if len(rows) == 0 {
		return nil, errors.New("csv is empty")
	}

	header := make([]string, len(rows[0]))
	for idx, key := range rows[0] {
		header[idx] = normalizeKey(key)
	}
	records := make([]map[string]string, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if len(row) == 0 || (len(row) == 1 && strings.TrimSpace(row[0]) == "") {
			continue
		}

		record := make(map[string]string, len(header))
		for idx, key := range header {
			if idx >= len(row) {
				continue
			}
			record[key] = strings.TrimSpace(row[idx])
		}
		records = append(records, record)
	}

	return records, nil
}

func extractTextFromPDF(data []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}
	var builder strings.Builder
	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", err
		}
		builder.WriteString(text)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}

// parseDatasheet collects "Key: Value" lines. The first occurrence of a key wins.
func parseDatasheet(text string) map[string]string {
	record := map[string]string{}
	scanner := bufio.NewScanner(strings.NewReader(text))
	for scanner.Scan() {
		match := fieldPattern.FindStringSubmatch(scanner.Text())
		if match == nil {
			continue
		}
		key := normalizeKey(match[1])
		if _, seen := record[key]; !seen {
			record[key] = match[2]
		}
	}
	return record
}

// normalizeKey maps "Carbon Footprint (t/unit)" style headers to
// "carbon_footprint_t_unit".
func normalizeKey(value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	value = keyPattern.ReplaceAllString(value, "_")
	return strings.Trim(value, "_")
}

func lookup(record map[string]string, keys ...string) string {
	for _, key := range keys {
		if value := normalizeValue(record[key]); value != "" {
			return value
		}
	}
	return ""
}

func buildTemplateInput(record map[string]string) (repository.TemplateInput, error) {
	input := repository.TemplateInput{
		Name:          lookup(record, "name", "product", "product_name"),
		Category:      lookup(record, "category", "type"),
		IsRawMaterial: parseBool(lookup(record, "raw_material", "is_raw_material", "raw")),
		WeightKg:      parseFirstNumber(lookup(record, "weight_kg", "weight")),
		LengthCm:      optionalNumber(lookup(record, "length_cm", "length")),
		WidthCm:       optionalNumber(lookup(record, "width_cm", "width")),
		HeightCm:      optionalNumber(lookup(record, "height_cm", "height")),
		Materials:     splitList(lookup(record, "materials", "material")),
	}
	if input.Name == "" {
		return input, errors.New("name is required")
	}

	carbon := lookup(record, "carbon_footprint_per_unit", "carbon_footprint_t_unit", "carbon_footprint", "carbon_tons")
	if carbon == "" {
		return input, fmt.Errorf("%q: carbon footprint is required", input.Name)
	}
	amount, err := decimal.NewFromString(numberPattern.FindString(carbon))
	if err != nil {
		return input, fmt.Errorf("%q: carbon footprint %q: %w", input.Name, carbon, err)
	}
	input.CarbonPerUnitTons = amount
	return input, nil
}

func normalizeValue(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "N/A") {
		return ""
	}
	return value
}

func parseBool(value string) bool {
	switch strings.ToLower(value) {
	case "yes", "y", "raw":
		return true
	}
	parsed, _ := strconv.ParseBool(value)
	return parsed
}

func parseFirstNumber(value string) float64 {
	match := numberPattern.FindString(value)
	if match == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func optionalNumber(value string) *float64 {
	if numberPattern.FindString(value) == "" {
		return nil
	}
	parsed := parseFirstNumber(value)
	return &parsed
}

func splitList(value string) []string {
	if value == "" {
		return nil
	}
	value = strings.ReplaceAll(value, ";", ",")
	var items []string
	seen := map[string]struct{}{}
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if _, ok := seen[strings.ToLower(part)]; ok {
			continue
		}
		seen[strings.ToLower(part)] = struct{}{}
		items = append(items, part)
	}
	return items
}
