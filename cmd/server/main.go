package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"

	"carbontrace/internal/config"
	"carbontrace/internal/db"
	"carbontrace/internal/db/mock"
	"carbontrace/internal/ledger"
	applog "carbontrace/internal/log"
	"carbontrace/internal/server"
)

type serverLifecycle interface {
	Start() error
	Stop() error
}

var (
	loadConfigFunc      = config.Load
	setLogLevelFunc     = applog.SetLevel
	setLogFormatFunc    = applog.SetFormat
	newMockDatabaseFunc = mock.New
	configureDatabase   = db.Configure
	newLedgerFunc       = openLedger
	newServerFunc       = func(cfg server.Config) (serverLifecycle, error) {
		return server.New(cfg)
	}
	subscribeShutdownSig = func() (<-chan os.Signal, func()) {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGTERM, syscall.SIGINT)
		return ch, func() { signal.Stop(ch) }
	}
)

func main() {
	code := run(context.Background())
	_ = applog.Sync()
	os.Exit(code)
}

func run(ctx context.Context) int {
	cfg, err := loadConfigFunc()
	if err != nil {
		applog.Error(ctx, "failed to load configuration", "error", err)
		return 1
	}

	if err := setLogFormatFunc(cfg.Logging.Format); err != nil {
		applog.Error(ctx, "invalid log format", "error", err)
		return 1
	}
	if err := setLogLevelFunc(cfg.Logging.Level); err != nil {
		applog.Error(ctx, "invalid log level", "error", err)
		return 1
	}
	applog.Debug(ctx, "configuration loaded", "addr", cfg.Server.Addr, "mockDatabase", cfg.Database.UseMock, "mockLedger", cfg.Ledger.UseMock)

	var database *gorm.DB
	if cfg.Database.UseMock {
		applog.Info(ctx, "using in-memory mock database")
		database, err = newMockDatabaseFunc(ctx)
		if err != nil {
			applog.Error(ctx, "failed to initialize mock database", "error", err)
			return 1
		}
	} else {
		database, err = configureDatabase(cfg.Database)
		if err != nil {
			applog.Error(ctx, "failed to configure database", "error", err)
			return 1
		}
	}

	chain, closeLedger, err := newLedgerFunc(ctx, cfg.Ledger)
	if err != nil {
		applog.Error(ctx, "failed to connect to ledger", "error", err)
		return 1
	}
	defer closeLedger()
	applog.Info(ctx, "ledger ready", "sender", chain.Sender().Hex(), "contract", chain.ContractAddress().Hex())

	srv, err := newServerFunc(server.Config{
		Addr: cfg.Server.Addr,
		Session: server.SessionConfig{
			Lifetime:     cfg.Auth.Session.Lifetime,
			CookieName:   cfg.Auth.Session.CookieName,
			CookieDomain: cfg.Auth.Session.CookieDomain,
			CookieSecure: cfg.Auth.Session.CookieSecure,
		},
		Database:            database,
		Ledger:              chain,
		ResolverConcurrency: cfg.Composition.Concurrency,
		RequireComponents:   cfg.Batches.RequireComponents,
		MetadataBaseURI:     cfg.Ledger.MetadataBaseURI,
	})
	if err != nil {
		applog.Error(ctx, "failed to build server", "error", err)
		return 1
	}

	sigCh, unsubscribe := subscribeShutdownSig()
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() {
		applog.Info(ctx, "starting http server", "addr", cfg.Server.Addr)
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			applog.Error(ctx, "server encountered an error", "error", err)
			return 1
		}
		return 0
	case sig := <-sigCh:
		applog.Info(ctx, "shutting down http server", "signal", sig.String())
	case <-ctx.Done():
		applog.Info(ctx, "shutting down http server", "reason", ctx.Err())
	}

	if err := srv.Stop(); err != nil {
		applog.Error(ctx, "graceful shutdown failed", "error", err)
		return 1
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		applog.Error(ctx, "server encountered an error", "error", err)
		return 1
	}
	return 0
}

// openLedger returns the in-memory ledger in mock mode, signing as the seeded
// manufacturer, and an RPC client otherwise.
func openLedger(ctx context.Context, cfg config.LedgerConfig) (ledger.Ledger, func(), error) {
	if cfg.UseMock {
		applog.Info(ctx, "using in-memory mock ledger")
		return ledger.NewMemory(common.HexToAddress(mock.ManufacturerAddress)), func() {}, nil
	}
	client, err := ledger.Dial(ctx, ledger.Config{
		RPCURL:          cfg.RPCURL,
		ContractAddress: cfg.ContractAddress,
		PrivateKey:      cfg.PrivateKey,
		ChainID:         cfg.ChainID,
		ReceiptTimeout:  cfg.ReceiptTimeout,
		CacheSize:       cfg.CacheSize,
		CacheTTL:        cfg.CacheTTL,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, client.Close, nil
}
