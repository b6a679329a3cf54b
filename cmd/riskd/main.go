package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/uhyunpark/hyperrisk/params"
	"github.com/uhyunpark/hyperrisk/pkg/api"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/risk"
	"github.com/uhyunpark/hyperrisk/pkg/crypto"
	"github.com/uhyunpark/hyperrisk/pkg/storage"
	"github.com/uhyunpark/hyperrisk/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLogger(cfg.Log.Level, cfg.Log.File)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "level", cfg.Log.Level, "log_file", cfg.Log.File)

	store, err := openStore(cfg.Storage.DBPath)
	if err != nil {
		sugar.Fatalw("storage_open_failed", "path", cfg.Storage.DBPath, "err", err)
	}
	defer store.Close()

	app, err := risk.NewApp(store, risk.Options{
		BufferRatio: cfg.Risk.LiquidationMarginBufferRatio,
		Clock:       util.RealClock{},
		Logger:      logger,
	})
	if err != nil {
		sugar.Fatalw("risk_engine_init_failed", "err", err)
	}
	if err := bootstrap(app, sugar); err != nil {
		sugar.Fatalw("bootstrap_failed", "err", err)
	}

	server := api.NewServer(app, crypto.NewEIP712Signer(crypto.DefaultDomain()), api.Options{
		CORSAllowedOrigins: cfg.API.CORSAllowedOrigins,
		RecentLiquidations: cfg.Risk.RecentLiquidations,
		Logger:             logger.Named("api"),
	})
	app.SetEventSink(server)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go app.RunAccrual(ctx, cfg.Risk.InterestAccrualInterval)

	if err := server.Start(ctx, cfg.API.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		sugar.Fatalw("api_server_failed", "err", err)
	}
	sugar.Infow("shutdown_complete")
}

func openStore(path string) (storage.Store, error) {
	if path == "" {
		return storage.NewMemStore(), nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, err
	}
	return storage.NewPebbleStore(path)
}

// bootstrap registers the reference USDC and SOL pools and SOL-PERP on an empty store
func bootstrap(app *risk.App, sugar *zap.SugaredLogger) error {
	pools, err := app.Pools()
	if err != nil {
		return err
	}
	if len(pools) == 0 {
		for _, p := range []pool.Pool{pool.DefaultUSDC, pool.DefaultSOL} {
			if err := app.RegisterPool(p); err != nil {
				return err
			}
			sugar.Infow("pool_registered", "index", p.Index, "name", p.Name)
		}
	}
	if len(app.Markets()) == 0 {
		m := market.DefaultSOLPerp
		if err := app.RegisterMarket(m); err != nil {
			return err
		}
		sugar.Infow("market_registered", "index", m.Index, "symbol", m.Symbol)
	}
	return nil
}
