// Package main is the entry point for the keyvault server.
//
// Usage:
//
//	keyvault serve     — HTTP API server (default)
//	keyvault mcp       — MCP stdio server for coding agents
//	keyvault version   — print version
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/keyvault/internal/logging"
	"github.com/rendis/keyvault/internal/rules"
	"github.com/rendis/keyvault/internal/scheduler"
	"github.com/rendis/keyvault/internal/seal"
	"github.com/rendis/keyvault/internal/search"
	"github.com/rendis/keyvault/internal/server"
	"github.com/rendis/keyvault/internal/store"
	"github.com/rendis/keyvault/internal/streaming"
	"github.com/rendis/keyvault/pkg/mcp"
)

func main() {
	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	switch cmd {
	case "serve":
		fatalOnErr(runServe())
	case "mcp":
		fatalOnErr(runMCP())
	case "version":
		printVersion()
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func fatalOnErr(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "keyvault:", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `keyvault v%s — self-hosted secrets vault

Usage:
  keyvault <command>

Commands:
  serve      Start the HTTP API server (default)
  mcp        Serve vault tools to a coding agent over MCP stdio
  version    Print version

Environment variables:
  KEYVAULT_LISTEN_ADDR      API listen address (default :3000)
  KEYVAULT_DB_PATH          Database file (default ~/.keyvault/vault.db)
  KEYVAULT_READ_KEY         API key for read routes (required for serve)
  KEYVAULT_WRITE_KEY        API key for mutating routes (required for serve)
  KEYVAULT_SEAL_PASSPHRASE  Encrypt values at rest when set
  KEYVAULT_WRITE_POLICIES   Semicolon-separated write policy expressions
  KEYVAULT_CONFIG           Settings file (default ~/.keyvault/settings.json)

The settings file accepts the same keys in snake_case JSON, plus backup
and audit retention options; environment variables win.

`, version)
}

// app bundles the core services shared by the serve and mcp commands.
type app struct {
	cfg       Config
	logger    *slog.Logger
	store     *store.LibSQLStore
	evaluator *rules.Evaluator
	policies  *rules.Policies
	searcher  *search.Searcher
	hub       *streaming.MemoryHub
}

// bootstrap opens the store and builds the service graph from cfg.
func bootstrap(ctx context.Context, cfg Config) (*app, error) {
	logger := newLogger(cfg.LogLevel)

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	sealer, err := newSealer(cfg)
	if err != nil {
		return nil, err
	}
	if !sealer.Enabled() {
		logger.Warn("seal passphrase not set, secret values are stored unencrypted")
	}

	st, err := store.NewLibSQLStore("file:"+cfg.DBPath, sealer)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	eval, err := rules.NewEvaluator()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if len(cfg.WritePolicies) > 0 {
		logger.Info("write policies active", slog.Int("count", len(cfg.WritePolicies)))
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		store:     st,
		evaluator: eval,
		policies:  rules.NewPolicies(cfg.WritePolicies, eval),
		searcher:  search.NewSearcher(st, cfg.SearchWorkers),
		hub:       streaming.NewMemoryHub(),
	}, nil
}

func (a *app) close() {
	a.searcher.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Error("store close failed", slog.String("error", err.Error()))
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	inner := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})
	return slog.New(logging.NewCorrelationHandler(inner))
}

// newSealer picks the at-rest encryption for secret values. The salt
// lives next to the database so backups of the data dir stay usable.
func newSealer(cfg Config) (seal.Sealer, error) {
	if cfg.SealPassphrase == "" {
		return seal.NoopSealer{}, nil
	}
	salt, err := seal.LoadOrCreateSalt(filepath.Join(filepath.Dir(cfg.DBPath), "seal.salt"))
	if err != nil {
		return nil, fmt.Errorf("load seal salt: %w", err)
	}
	return seal.NewAESSealer(cfg.SealPassphrase, salt)
}

// runServe boots the full stack and serves the HTTP API until SIGINT/SIGTERM.
func runServe() error {
	cfg := loadConfig()
	if cfg.ReadKey == "" || cfg.WriteKey == "" {
		return errors.New("read and write API keys must be configured (KEYVAULT_READ_KEY, KEYVAULT_WRITE_KEY)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	// Background maintenance.
	sched := scheduler.NewScheduler(a.logger)
	maint := scheduler.NewMaintenance(a.store, a.logger,
		time.Duration(cfg.AuditRetentionDays)*24*time.Hour, cfg.BackupDir, cfg.BackupKeep)
	if err := maint.Register(sched, cfg.PruneSchedule, cfg.CheckpointSchedule, cfg.BackupSchedule); err != nil {
		return err
	}
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = sched.Stop() }()

	api := server.NewServer(server.Deps{
		Store:     a.store,
		Searcher:  a.searcher,
		Policies:  a.policies,
		Evaluator: a.evaluator,
		Hub:       a.hub,
		Logger:    a.logger,
		ReadKey:   cfg.ReadKey,
		WriteKey:  cfg.WriteKey,
	})

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("keyvault listening",
			slog.String("addr", cfg.ListenAddr),
			slog.String("version", version))
		if serveErr := httpSrv.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	select {
	case serveErr := <-errCh:
		return serveErr
	case <-ctx.Done():
	}

	a.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		// Long-lived event streams may outlast the grace period.
		a.logger.Warn("http shutdown incomplete", slog.String("error", err.Error()))
		_ = httpSrv.Close()
	}
	return nil
}

// runMCP serves the vault tools over stdio until the client disconnects.
// The network API keys are not required here; MCP trusts the local
// process boundary and stdout carries the protocol, so logs go to stderr.
func runMCP() error {
	cfg := loadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	srv := mcp.NewVaultServer(mcp.VaultServerDeps{
		Store:     a.store,
		Searcher:  a.searcher,
		Policies:  a.policies,
		Evaluator: a.evaluator,
		Hub:       a.hub,
		Logger:    a.logger,
	})

	go func() {
		if watchErr := srv.Watch(ctx); watchErr != nil {
			a.logger.Error("change watch failed", slog.String("error", watchErr.Error()))
		}
	}()

	a.logger.Info("keyvault mcp server on stdio", slog.String("version", version))
	return srv.Serve(ctx)
}
