package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/custodia/gotrade/internal/coordinator"
	"github.com/custodia/gotrade/internal/domain"
	"github.com/custodia/gotrade/internal/gateway/exchange"
	"github.com/custodia/gotrade/internal/gateway/signer"
	"github.com/custodia/gotrade/internal/history"
	"github.com/custodia/gotrade/internal/ledger"
	"github.com/custodia/gotrade/internal/server"
	"github.com/custodia/gotrade/pkg/config"
	"github.com/custodia/gotrade/pkg/logger"
	"github.com/custodia/gotrade/pkg/shutdown"
	"github.com/custodia/gotrade/pkg/syncgroup"
)

func main() {
	// Load .env (best-effort). If missing, fall back to real env vars.
	_ = godotenv.Load()

	var configPath = flag.String("config", os.Getenv("GOTRADE_CONFIG"), "path to YAML config (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		OutputFile: cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	var encKey []byte
	if cfg.Ledger.EncryptionKey != "" {
		encKey, err = hex.DecodeString(cfg.Ledger.EncryptionKey)
		if err != nil || len(encKey) != 32 {
			logger.Errorf("ledger encryption key must be 32 hex-encoded bytes")
			os.Exit(1)
		}
	}

	store, err := ledger.Open(ledger.OpenOptions{Path: cfg.Ledger.Path, EncryptionKey: encKey})
	if err != nil {
		logger.Errorf("open ledger: %v", err)
		os.Exit(1)
	}

	archive, err := history.Open(cfg.HistoryDBPath)
	if err != nil {
		logger.Errorf("open history db: %v", err)
		os.Exit(1)
	}

	privy := signer.NewPrivy(signer.PrivyConfig{
		BaseURL:          cfg.Privy.BaseURL,
		AppID:            cfg.Privy.AppID,
		AppSecret:        cfg.Privy.AppSecret,
		AuthorizationKey: cfg.Privy.AuthorizationKey,
		CAIP2:            cfg.Privy.CAIP2,
	})
	hl := exchange.NewHyperliquid(exchange.HyperliquidConfig{BaseURL: cfg.Hyperliquid.APIURL()})

	stream := exchange.NewUserStream(cfg.Hyperliquid.WSURL)

	coord := coordinator.New(store, privy, hl, coordinator.Options{
		Retry: coordinator.RetryPolicy{
			Base:        cfg.Retry.Base,
			Cap:         cfg.Retry.Cap,
			MaxAttempts: cfg.Retry.MaxAttempts,
			CallTimeout: cfg.Retry.CallTimeout,
		},
		MarketCacheTTL: cfg.MarketCacheTTL,
		History:        archive,
		OnWalletActive: func(w domain.Wallet) {
			stream.Subscribe(w.Address)
		},
	})

	stream.OnOrderUpdate(coord.HandleOrderUpdate)

	// Re-subscribe wallets that were already active before this boot.
	if wallets, err := store.Wallets.List(nil); err == nil {
		for _, w := range wallets {
			if w.Status == domain.WalletActive && w.Address != "" {
				stream.Subscribe(w.Address)
			}
		}
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	bg := syncgroup.NewSyncGroup()
	bg.Add(func() { stream.Run(bgCtx) })
	bg.Add(func() { coord.RunReconciler(bgCtx, cfg.ReconcileInterval) })
	bg.Run()

	httpSrv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           server.New(coord, archive).Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("http server error: %v", err)
		}
	}()

	mgr := shutdown.NewManager()
	mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		_ = httpSrv.Shutdown(ctx)
	})
	mgr.OnShutdown(func(ctx context.Context, _ *sync.WaitGroup) {
		bgCancel()
		bg.Wait()
	})
	mgr.OnShutdown(func(_ context.Context, _ *sync.WaitGroup) {
		if err := store.Close(); err != nil {
			logger.Warnf("close ledger: %v", err)
		}
		if err := archive.Close(); err != nil {
			logger.Warnf("close history db: %v", err)
		}
	})

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	<-stopCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	mgr.Shutdown(ctx)

	logger.Info("server stopped")
}
