// Package main is the entry point for the resolution engine's API server.
// It wires together the store, ledger, repositories, payout calculator,
// distributor, and resolution engine, then starts the HTTP server alongside
// the websocket changefeed.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/resolution-engine/internal/api"
	"github.com/evetabi/resolution-engine/internal/changefeed"
	"github.com/evetabi/resolution-engine/internal/config"
	"github.com/evetabi/resolution-engine/internal/distributor"
	"github.com/evetabi/resolution-engine/internal/engine"
	"github.com/evetabi/resolution-engine/internal/ledger"
	"github.com/evetabi/resolution-engine/internal/payout"
	"github.com/evetabi/resolution-engine/internal/repository"
	"github.com/evetabi/resolution-engine/internal/service"
	"github.com/evetabi/resolution-engine/internal/store"
	"github.com/evetabi/resolution-engine/internal/ws"
	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver
	"github.com/jmoiron/sqlx"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting resolution engine server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("pgx", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Repositories ───────────────────────────────────────────────────────
	userRepo := repository.NewUserRepository(db)
	marketRepo := repository.NewMarketRepository(db)
	commitmentRepo := repository.NewCommitmentRepo(db)
	resolutionRepo := repository.NewResolutionRepo(db)
	uidRepo := repository.NewWalletUIDRepo(db)

	// ── 5. Core engine stack ───────────────────────────────────────────────────
	st := store.New(db, cfg.Resolution.TxRetryLimit)
	ldg := ledger.New(db, cfg.Resolution.InitialBalanceGrant).WithIdentityResolver(uidRepo)
	calculator := payout.New(cfg.Resolution.HouseFeeFraction, cfg.Resolution.MaxCreatorFeeFraction)
	dist := distributor.New(st, ldg, commitmentRepo, resolutionRepo)

	feed := changefeed.New()

	eng := engine.New(st, ldg, commitmentRepo, marketRepo, resolutionRepo, calculator, dist,
		feed, cfg.Resolution.MinEvidenceDescLen, cfg.Resolution.OperationDeadline, logger)

	authSvc := service.NewAuthService(db, userRepo, cfg)

	// ── 6. WebSocket changefeed ───────────────────────────────────────────────
	var allowedOrigins []string
	if ori := os.Getenv("WS_ALLOWED_ORIGINS"); ori != "" {
		for _, o := range strings.Split(ori, ",") {
			allowedOrigins = append(allowedOrigins, strings.TrimSpace(o))
		}
	}
	wsServer := ws.NewServer(feed, allowedOrigins, logger).
		WithSnapshot(func(ctx context.Context, marketID uuid.UUID) (any, error) {
			m, err := marketRepo.GetByID(ctx, marketID)
			if err != nil {
				return nil, err
			}
			commitments, err := commitmentRepo.ListByMarket(ctx, nil, marketID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"market": m, "commitments": commitments}, nil
		})

	// ── 7. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 8. HTTP Router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuthSvc: authSvc,
		Ledger:  ldg,
		Engine:  eng,
		WS:      wsServer,
		Cfg:     cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 9. Start server ──────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	db.Close()
	logger.Info("server stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. Idempotent: SQL files should use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
