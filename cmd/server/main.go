package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"boutique/backend/internal/cache"
	"boutique/backend/internal/config"
	"boutique/backend/internal/httpapi"
	"boutique/backend/internal/logging"
	"boutique/backend/internal/service"
	"boutique/backend/internal/store"
	"boutique/backend/internal/store/memory"
	pgstore "boutique/backend/internal/store/postgres"
	sqlitestore "boutique/backend/internal/store/sqlite"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid configuration: %v", err)
	}
	if err := validateSecurityConfig(cfg); err != nil {
		logger.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("open repository: %v", err)
	}

	catalog := cache.CatalogCache(cache.NoopCatalogCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisCatalogCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.WithError(err).Warn("redis unavailable, using noop catalog cache")
			_ = redisCache.Close()
		} else {
			catalog = redisCache
			closers = append(closers, redisCache.Close)
			logger.Info("catalog cache: redis")
		}
	} else {
		logger.Info("catalog cache: noop")
	}

	svc := service.New(repo, logger)
	if cfg.SeedSampleData {
		seeded, err := svc.SeedSampleData(ctx)
		if err != nil {
			logger.Fatalf("seed sample data: %v", err)
		}
		if seeded {
			_ = catalog.Invalidate(ctx)
		}
	}

	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	created, err := auth.EnsureAdmin(ctx, cfg.AdminUsername, cfg.AdminPassword)
	if err != nil {
		logger.Fatalf("bootstrap admin: %v", err)
	}
	if created {
		logger.WithField("username", cfg.AdminUsername).Info("admin account created")
	}

	api := httpapi.New(svc, auth, cfg.AllowedOrigin,
		httpapi.WithCatalogCache(catalog, time.Duration(cfg.CatalogCacheTTLSeconds)*time.Second),
		httpapi.WithLogger(logger),
	)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Infof("boutique backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("shutdown error")
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.WithError(err).Error("close error")
		}
	}

	logger.Info("server stopped")
}

func openRepository(ctx context.Context, cfg config.Config, logger *logrus.Logger) (store.Repository, []func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverPostgres:
		if cfg.RunMigrations {
			if err := pgstore.MigrateUp(cfg.DatabaseURL); err != nil {
				return nil, nil, err
			}
			logger.Info("postgres migrations applied")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres unavailable: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	case config.DriverSQLite:
		db, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite unavailable: %w", err)
		}
		logger.WithField("path", cfg.SQLitePath).Info("repository: sqlite")
		return db, []func() error{db.Close}, nil
	default:
		logger.Warn("repository: in-memory, data is lost on restart")
		return memory.New(), nil, nil
	}
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if strings.TrimSpace(cfg.AdminUsername) == "" {
		return fmt.Errorf("ADMIN_USERNAME must not be empty")
	}
	if err := validatePasswordStrength(cfg.AdminPassword); err != nil {
		return fmt.Errorf("ADMIN_PASSWORD is too weak: %w", err)
	}
	return nil
}

// validatePasswordStrength wants at least 10 characters mixing letters and
// digits, and rejects a short list of well-known passwords.
func validatePasswordStrength(password string) error {
	known := map[string]bool{
		"admin123": true, "password": true, "password1": true, "1234567890": true,
		"azertyuiop": true, "qwertyuiop": true, "boutique123": true, "motdepasse": true,
	}
	if known[strings.ToLower(password)] {
		return fmt.Errorf("common password not allowed")
	}
	if len(password) < 10 {
		return fmt.Errorf("must be at least 10 characters")
	}

	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return fmt.Errorf("must mix letters and digits")
	}
	return nil
}
