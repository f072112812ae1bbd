package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures the runtime configuration for the application.
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Logging     LoggingConfig
	Auth        AuthConfig
	Ledger      LedgerConfig
	Composition CompositionConfig
	Batches     BatchConfig
}

// ServerConfig configures the HTTP server runtime behavior.
type ServerConfig struct {
	Addr string
}

// DatabaseConfig contains the database connection settings.
type DatabaseConfig struct {
	URL             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	UseMock         bool
}

// LoggingConfig selects the log level and output format (text, json or pretty).
type LoggingConfig struct {
	Level  string
	Format string
}

// AuthConfig groups authentication settings.
type AuthConfig struct {
	Session SessionConfig
}

// SessionConfig configures the scs session manager.
type SessionConfig struct {
	Lifetime     time.Duration
	CookieName   string
	CookieDomain string
	CookieSecure bool
}

// LedgerConfig configures the connection to the token ledger. With UseMock the
// service runs against the in-memory ledger and the RPC settings are ignored.
type LedgerConfig struct {
	RPCURL          string
	ContractAddress string
	PrivateKey      string
	ChainID         uint64
	UseMock         bool
	ReceiptTimeout  time.Duration
	CacheSize       int
	CacheTTL        time.Duration
	MetadataBaseURI string
}

// CompositionConfig bounds the resolver's concurrent fetches.
type CompositionConfig struct {
	Concurrency int
}

// BatchConfig holds batch creation policy.
type BatchConfig struct {
	RequireComponents bool
}

// Load inspects the environment and builds a Config value. A .env file in the
// working directory is read first when present; real environment variables win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{}

	cfg.Server = ServerConfig{
		Addr: firstNonEmpty(
			os.Getenv("SERVER_ADDR"),
			os.Getenv("ADDR"),
			":8080",
		),
	}

	cfg.Database = DatabaseConfig{
		URL: firstNonEmpty(
			os.Getenv("DATABASE_URL"),
			os.Getenv("DB_URL"),
			"",
		),
		MaxIdleConns:    parseIntWithDefault(os.Getenv("DATABASE_MAX_IDLE_CONNS"), 5),
		MaxOpenConns:    parseIntWithDefault(os.Getenv("DATABASE_MAX_OPEN_CONNS"), 25),
		ConnMaxLifetime: parseDurationWithDefault(os.Getenv("DATABASE_CONN_MAX_LIFETIME"), 30*time.Minute),
		ConnMaxIdleTime: parseDurationWithDefault(os.Getenv("DATABASE_CONN_MAX_IDLE_TIME"), 5*time.Minute),
		UseMock:         parseBoolWithDefault(os.Getenv("DATABASE_USE_MOCK"), false),
	}

	cfg.Logging = LoggingConfig{
		Level:  strings.ToLower(firstNonEmpty(os.Getenv("LOG_LEVEL"), "info")),
		Format: strings.ToLower(firstNonEmpty(os.Getenv("LOG_FORMAT"), "text")),
	}

	cfg.Auth = AuthConfig{
		Session: SessionConfig{
			Lifetime:     parseDurationWithDefault(os.Getenv("SESSION_LIFETIME"), 12*time.Hour),
			CookieName:   firstNonEmpty(os.Getenv("SESSION_COOKIE_NAME"), "carbontrace_session"),
			CookieDomain: os.Getenv("SESSION_COOKIE_DOMAIN"),
			CookieSecure: parseBoolWithDefault(os.Getenv("SESSION_COOKIE_SECURE"), true),
		},
	}

	cfg.Ledger = LedgerConfig{
		RPCURL: firstNonEmpty(
			os.Getenv("LEDGER_RPC_URL"),
			os.Getenv("ETH_RPC_URL"),
			"",
		),
		ContractAddress: os.Getenv("LEDGER_CONTRACT_ADDRESS"),
		PrivateKey:      os.Getenv("LEDGER_PRIVATE_KEY"),
		ChainID:         uint64(parseIntWithDefault(os.Getenv("LEDGER_CHAIN_ID"), 0)),
		UseMock:         parseBoolWithDefault(os.Getenv("LEDGER_USE_MOCK"), false),
		ReceiptTimeout:  parseDurationWithDefault(os.Getenv("LEDGER_RECEIPT_TIMEOUT"), 2*time.Minute),
		CacheSize:       parseIntWithDefault(os.Getenv("LEDGER_CACHE_SIZE"), 1024),
		CacheTTL:        parseDurationWithDefault(os.Getenv("LEDGER_CACHE_TTL"), 10*time.Minute),
		MetadataBaseURI: os.Getenv("LEDGER_METADATA_BASE_URI"),
	}

	cfg.Composition = CompositionConfig{
		Concurrency: parseIntWithDefault(os.Getenv("COMPOSITION_CONCURRENCY"), 8),
	}

	cfg.Batches = BatchConfig{
		RequireComponents: parseBoolWithDefault(os.Getenv("BATCHES_REQUIRE_COMPONENTS"), true),
	}

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		return Config{}, fmt.Errorf("server address must not be empty")
	}
	if !cfg.Database.UseMock && strings.TrimSpace(cfg.Database.URL) == "" {
		return Config{}, fmt.Errorf("database URL must be set unless DATABASE_USE_MOCK is enabled")
	}
	if !cfg.Ledger.UseMock {
		if strings.TrimSpace(cfg.Ledger.RPCURL) == "" {
			return Config{}, fmt.Errorf("ledger RPC URL must be set unless LEDGER_USE_MOCK is enabled")
		}
		if strings.TrimSpace(cfg.Ledger.ContractAddress) == "" || strings.TrimSpace(cfg.Ledger.PrivateKey) == "" {
			return Config{}, fmt.Errorf("ledger contract address and private key are required")
		}
	}
	if cfg.Composition.Concurrency <= 0 {
		return Config{}, fmt.Errorf("composition concurrency must be positive")
	}

	return cfg, nil
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func parseIntWithDefault(value string, def int) int {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

func parseDurationWithDefault(value string, def time.Duration) time.Duration {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}

func parseBoolWithDefault(value string, def bool) bool {
	if strings.TrimSpace(value) == "" {
		return def
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return def
	}
	return parsed
}
