package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/duel-escrow-backend/internal/auth"
	"github.com/DoyleJ11/duel-escrow-backend/internal/config"
	"github.com/DoyleJ11/duel-escrow-backend/internal/httpapi"
	"github.com/DoyleJ11/duel-escrow-backend/internal/hub"
	"github.com/DoyleJ11/duel-escrow-backend/internal/store"
	"github.com/DoyleJ11/duel-escrow-backend/internal/token"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() (err error) {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, st.Close()) }()

	var client token.Client = token.LogClient{Log: log.Named("token")}
	if cfg.TokenServiceURL != "" {
		client = token.NewHTTPClient(cfg.TokenServiceURL, cfg.TokenTimeout)
	}
	relay := token.NewRelay(st, client, token.RelayConfig{
		Interval:    cfg.RelayInterval,
		Batch:       cfg.RelayBatch,
		MaxAttempts: cfg.RelayAttempts,
		MaxBackoff:  cfg.RelayMaxBackoff,
	}, log)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	var issuer *auth.Issuer
	if cfg.IssuerKey != "" {
		issuer = auth.NewIssuer(verifier, cfg.IssuerKey, cfg.TokenTTL)
	}

	h := hub.NewHub(ctx, hub.Options{Store: st, Log: log, OnCommit: relay.Nudge})
	// Build the router *with* the hub injected
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpapi.SetupRoutes(h, st, verifier, issuer, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return relay.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	return g.Wait()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	if cfg.Development {
		return zap.NewDevelopment()
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	return zc.Build()
}

func openStore(ctx context.Context, cfg config.Config, log *zap.Logger) (store.Store, error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, ledger state is kept in memory")
		return store.NewMemory(), nil
	}
	pg, err := store.OpenPostgres(ctx, cfg.DatabaseURL, log)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return pg, nil
}
