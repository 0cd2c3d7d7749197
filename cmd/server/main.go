// Package main is the entry point of the unchained server.
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

	"github.com/spf13/cobra"

	"unchained/internal/config"
	"unchained/internal/domain/application"
	"unchained/internal/domain/auth"
	"unchained/internal/domain/extension"
	"unchained/internal/infrastructure/cache"
	"unchained/internal/infrastructure/files"
	v1 "unchained/internal/infrastructure/http/v1"
	"unchained/internal/infrastructure/storage/postgres"
	"unchained/internal/infrastructure/storage/postgres/entity_repo"
	"unchained/internal/metadata"
	"unchained/pkg/logger"
)

var version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:           "unchained",
	Short:         "Config-driven entity store and JSON API",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Migrate entity tables and serve the HTTP API",
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or extend the table of every configured entity and exit",
	RunE:  runMigrate,
}

var (
	tokenRoles  []string
	tokenLocale string
)

var tokenCmd = &cobra.Command{
	Use:   "token <subject>",
	Short: "Print a bearer token for subject",
	Args:  cobra.ExactArgs(1),
	RunE:  runToken,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("UNCHAINED_CONFIG"), "path to the YAML config file")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "roles carried by the token")
	tokenCmd.Flags().StringVar(&tokenLocale, "locale", "", "viewer locale")
	rootCmd.AddCommand(serveCmd, migrateCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the process logger.
func setup() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Development: cfg.Development(),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("init logger: %w", err)
	}
	logger.SetDefault(log)
	return cfg, log, nil
}

// loadSchema reads the entity documents and brings their tables up to date.
// The registry is returned with provisioning failures, which only affect the
// entities that failed.
func loadSchema(ctx context.Context, cfg *config.Config, db *postgres.TxManager, sc *cache.SchemaCache) (*metadata.Registry, error) {
	reg, err := metadata.LoadDir(cfg.Entities.Dir, time.Now())
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "entities loaded", "dir", cfg.Entities.Dir, "count", len(reg.IDs()))

	if err := postgres.NewSchemaManager(db, sc).EnsureAll(ctx, reg); err != nil {
		return reg, err
	}
	return reg, nil
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()
	ctx := cmd.Context()

	pool, err := postgres.NewPool(ctx, cfg.PoolConfig())
	if err != nil {
		return err
	}
	defer pool.Close()

	// not started: migrate only announces its changes to running servers
	sc := cache.NewSchemaCache(pool.Unwrap())
	if _, err := loadSchema(ctx, cfg, postgres.NewTxManager(pool), sc); err != nil {
		return err
	}
	log.Info("entity tables are up to date")
	return nil
}

func runToken(_ *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}
	jwtCfg := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
	jwtCfg.Issuer = cfg.Auth.Issuer
	token, expires, err := auth.NewJWTService(jwtCfg).GenerateAccessToken(args[0], tokenRoles, tokenLocale)
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintln(os.Stderr, "expires", expires.Format(time.RFC3339))
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Database ---
	pool, err := postgres.NewPool(ctx, cfg.PoolConfig())
	if err != nil {
		return err
	}
	defer pool.Close()
	db := postgres.NewTxManager(pool)
	log.Info("database connection established")

	var schemaCache *cache.SchemaCache
	if cfg.Database.ListenSchema {
		schemaCache = cache.NewSchemaCache(pool.Unwrap())
	} else {
		schemaCache = cache.NewSchemaCache(nil)
	}
	schemaCache.Start(ctx)
	defer schemaCache.Stop()

	reg, err := loadSchema(ctx, cfg, db, schemaCache)
	if reg == nil {
		return err
	}
	if err != nil {
		log.Warnw("serving with unprovisioned entities", "error", err)
	}

	// --- Hooks ---
	hooks := extension.NewRegistry()
	if err := extension.RegisterExpressions(ctx, hooks, reg); err != nil {
		return err
	}
	for _, f := range extension.Missing(hooks, reg) {
		log.Warnw("external field has no hook", "field", f)
	}

	// --- Repositories ---
	store, err := cache.NewStorage(cfg.CacheConfig())
	if err != nil {
		return fmt.Errorf("init cache: %w", err)
	}
	dirs := metadata.Directories{Public: cfg.Media.Public}
	repos := entity_repo.NewManager(db, reg, store,
		entity_repo.WithFiles(files.NewStore(cfg.Media.Public), dirs),
		entity_repo.WithLifecycle(hooks),
	)
	repos.Watch(schemaCache)

	var translator metadata.Translator = metadata.NopTranslator{}
	if cfg.Entities.Translations != "" {
		tr, err := metadata.LoadTranslations(cfg.Entities.Translations)
		if err != nil {
			return err
		}
		translator = tr
	}

	apps := application.NewService(application.Config{
		Repos:       repos,
		Hooks:       hooks,
		Translator:  translator,
		Directories: dirs,
		PublicURI:   cfg.Server.PublicURI,
	})

	// --- Router ---
	var validator *auth.JWTService
	if cfg.Auth.JWTSecret != "" {
		jwtCfg := auth.DefaultJWTConfig(cfg.Auth.JWTSecret)
		jwtCfg.Issuer = cfg.Auth.Issuer
		validator = auth.NewJWTService(jwtCfg)
	} else {
		log.Warn("auth.jwt_secret is empty, serving public viewers only")
	}
	routerCfg := v1.RouterConfig{
		Applications: apps,
		DB:           pool,
		Logger:       log,
		Version:      version,
		Debug:        cfg.Development(),
	}
	if validator != nil {
		routerCfg.JWTValidator = validator
	}

	if cfg.Database.StatsInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.Database.StatsInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					postgres.LogPoolStats(ctx, pool.Unwrap())
				}
			}
		}()
	}

	// --- HTTP Server ---
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      v1.NewRouter(routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server starting", "port", cfg.Server.Port, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}
