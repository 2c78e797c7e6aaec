package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/veridianlabs/veridian/internal/admin"
	"github.com/veridianlabs/veridian/internal/api"
	"github.com/veridianlabs/veridian/internal/audit"
	"github.com/veridianlabs/veridian/internal/broker"
	"github.com/veridianlabs/veridian/internal/config"
	"github.com/veridianlabs/veridian/internal/crypto"
	"github.com/veridianlabs/veridian/internal/jobs"
	"github.com/veridianlabs/veridian/internal/keys"
	"github.com/veridianlabs/veridian/internal/mfa"
	"github.com/veridianlabs/veridian/internal/oauth"
	"github.com/veridianlabs/veridian/internal/policy"
	"github.com/veridianlabs/veridian/internal/storage"
	"github.com/veridianlabs/veridian/internal/storage/memory"
	"github.com/veridianlabs/veridian/internal/storage/postgres"
	"github.com/veridianlabs/veridian/pkg/logger"
)

func main() {
	// Masked on purpose: in production the files do not exist and the
	// process relies on real environment variables.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	log := logger.Setup(cfg.Env)
	log.Info("application_startup", "env", cfg.Env)

	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.SentryDSN,
			TracesSampleRate: 1.0,
			Environment:      cfg.Env,
		})
		if err != nil {
			log.Error("sentry_init_failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
			log.Info("sentry_initialized")
		}
	} else {
		log.Warn("sentry_dsn_missing", "details", "skipping_init")
	}

	ctx := context.Background()

	var stores *storage.Stores
	if cfg.DatabaseURL == "" {
		// Dev mode: everything lives in memory and vanishes on restart.
		log.Warn("database_url_missing", "details", "using_in_memory_stores")
		stores = memory.NewStores()
	} else {
		if err := runMigrations(cfg.DatabaseURL, log); err != nil {
			log.Error("migrations_failed", "error", err)
			os.Exit(1)
		}
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Error("database_connect_failed", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		log.Info("database_connected")
		stores = postgres.NewStores(pool)
	}

	keySvc := keys.NewService(stores.Keys)
	hasher := crypto.NewArgon2Hasher()
	auditLogger := audit.NewJSONLogger()

	mfaSvc := mfa.NewService("Veridian", stores.Credentials, stores.RecoveryCodes, stores.PendingActions)
	gate := policy.NewGate(stores.LoginFailures)
	blacklist := oauth.NewBlacklist()
	backchannel := oauth.NewBackchannelDispatcher(cfg.BaseURL, stores.Clients, keySvc, log)

	oauthSvc := oauth.NewService(cfg.BaseURL, stores, keySvc, hasher, mfaSvc, gate, blacklist, backchannel, auditLogger, log)
	brokerSvc := broker.NewService(cfg.BaseURL, stores, keySvc, auditLogger, log)
	adminSvc := admin.NewService(stores, keySvc, hasher, log)

	if err := bootstrap(ctx, cfg, stores, adminSvc, log); err != nil {
		log.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}

	server := api.NewServer(api.Deps{
		Config: cfg,
		Stores: stores,
		Keys:   keySvc,
		OAuth:  oauthSvc,
		Broker: brokerSvc,
		Admin:  adminSvc,
		MFA:    mfaSvc,
		Logger: log,
	})

	gcCtx, gcCancel := context.WithCancel(ctx)
	defer gcCancel()
	gc := jobs.NewGC(stores, blacklist, log)
	go gc.Run(gcCtx)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.Router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		log.Info("server_listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		log.Error("server_startup_failed", "error", err)
		os.Exit(1)

	case sig := <-shutdown:
		log.Info("shutdown_signal_received", "signal", sig)
		gcCancel()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful_shutdown_failed", "error", err)
			if err := srv.Close(); err != nil {
				log.Error("server_force_close_failed", "error", err)
			}
		}
		log.Info("server_shutdown_complete")
	}
}

func runMigrations(dbURL string, log *slog.Logger) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			log.Info("database_schema_current")
			return nil
		}
		return err
	}
	log.Info("migrations_applied")
	return nil
}

// bootstrap seeds the master realm, its CLI client and the first admin user
// when ADMIN_USER and ADMIN_PASSWORD are set. Idempotent: an existing master
// realm short-circuits everything.
func bootstrap(ctx context.Context, cfg config.Config, stores *storage.Stores, adminSvc *admin.Service, log *slog.Logger) error {
	if _, err := stores.Realms.GetByName(ctx, "master"); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	realm := &storage.Realm{
		Name:              "master",
		DisplayName:       "Master",
		Enabled:           true,
		PasswordMinLength: 12,
		BruteForceEnabled: true,
		MaxLoginFailures:  5,
		LockoutDuration:   300,
		FailureResetTime:  900,
	}
	if err := adminSvc.CreateRealm(ctx, realm); err != nil {
		return err
	}
	log.Info("master_realm_created", "realm_id", realm.ID)

	client := &storage.Client{
		ID:         uuid.New(),
		RealmID:    realm.ID,
		ClientID:   "admin-cli",
		Type:       storage.ClientPublic,
		Enabled:    true,
		GrantTypes: []string{"password", "refresh_token"},
	}
	if _, err := adminSvc.CreateClient(ctx, client); err != nil {
		return err
	}

	if cfg.AdminUser == "" || cfg.AdminPassword == "" {
		log.Warn("admin_bootstrap_skipped", "details", "ADMIN_USER or ADMIN_PASSWORD not set")
		return nil
	}

	user := &storage.User{
		ID:       uuid.New(),
		RealmID:  realm.ID,
		Username: cfg.AdminUser,
		Enabled:  true,
	}
	if err := adminSvc.CreateUser(ctx, realm, user, cfg.AdminPassword); err != nil {
		return err
	}
	log.Info("admin_user_created", "username", cfg.AdminUser)
	return nil
}
