package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/openmobilesign/linkrelay/internal/config"
	"github.com/openmobilesign/linkrelay/internal/logger"
	"github.com/openmobilesign/linkrelay/internal/server"
	"github.com/openmobilesign/linkrelay/internal/version"
	"github.com/openmobilesign/linkrelay/migrations"
)

//	@title			linkrelay-server
//	@description	linkrelay-server relays signature requests between relying
//	@description	parties and mobile credential apps.
//	@description
//	@description	## APIs
//	@description	The server exposes two surfaces:
//	@description	- **Link API** (`/link`, `/sign`, `/docsign`, `/generatekey`, `/updatekey`, `/listkeys`):
//	@description	used by relying parties to couple accounts and request signatures.
//	@description	- **Coupling API** (`/musaplink`): a single endpoint polled by the
//	@description	mobile credential apps. The message type inside the JSON envelope
//	@description	selects the operation.
//	@description
//	@description	## Error Responses
//	@description	Protocol failures on both APIs are reported with HTTP 200 and a
//	@description	JSON error document carrying a numeric errorcode, so transport
//	@description	status and protocol outcome stay separate concerns.
//	@description
//	@description	## Request Limits
//	@description	All endpoints are protected by:
//	@description	- **Rate limiting**: Configurable requests per second (see env vars) - default 100 rps (set to 0 to disable)
//	@description	- **Request size limits**: Configurable (see env vars) - default 1MB
//	@description
//	@license.name	MIT

//	@accept		json
//	@produce	json

//	@tag.name			Link
//	@tag.description	Relying-party endpoints for coupling and signature requests

//	@tag.name			Coupling
//	@tag.description	Mobile credential app endpoint

func main() {
	cmd := &cobra.Command{
		Use:   "linkrelay-server",
		Short: "Mobile credential signature relay server",
		Long:  `linkrelay-server relays signature requests from relying parties to coupled mobile credential apps and returns the signatures`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run()
		},
	}

	v := version.Get()
	cmd.Version = fmt.Sprintf("%s (built %s, commit %s)", v.Version, v.BuildDate, v.GitCommit)

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	cfg, err := config.NewServerConfig()
	if err != nil {
		log.Printf("failed to load configuration: %v", err.Error())
		os.Exit(1)
	}

	appLogger := logger.InitLogger(logger.ParseLogLevel(cfg.LogLevel), cfg.Environment)

	appLogger.Info("Configuration loaded",
		slog.String("ENVIRONMENT", cfg.Environment),
		slog.String("HOST", cfg.Host),
		slog.Int("PORT", cfg.Port),
		slog.String("LOG_LEVEL", cfg.LogLevel),
		slog.Bool("TRANSPORT_ENCRYPTION_REQUIRED", cfg.TransportEncryptionRequired),
		slog.Bool("LIST_KEYS_ENABLED", cfg.ListKeysEnabled),
		slog.Duration("COUPLING_CODE_LIFETIME", cfg.CouplingCodeLifetime),
		slog.Duration("TRANSACTION_LIFETIME", cfg.TransactionLifetime),
		slog.Int("EXTSIG_CLIENTS", len(cfg.ExtSigClients)),
	)

	dbCtx, dbCancel := context.WithTimeout(context.Background(), cfg.DatabasePingTimeout)
	defer dbCancel()

	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		appLogger.Error("Failed to parse database URL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	poolConfig.MaxConns = cfg.DBMaxConnections
	poolConfig.MinConns = cfg.DBMinConnections
	poolConfig.MaxConnLifetime = cfg.DBMaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.DBMaxConnIdleTime
	poolConfig.ConnConfig.ConnectTimeout = cfg.DBConnectTimeout

	pool, err := pgxpool.NewWithConfig(dbCtx, poolConfig)
	if err != nil {
		appLogger.Error("Unable to create connection pool", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err = pool.Ping(dbCtx); err != nil {
		appLogger.Error("Error pinging database via pool", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("connected to PostgreSQL")

	if err := migrateUp(pool); err != nil {
		appLogger.Error("Failed to run database migrations", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("Starting server", slog.String("version", version.Get().Version))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(pool, cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to create server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defer srv.DatabaseShutdown()

	go srv.RunSweeper(ctx)

	if err := srv.Start(ctx); err != nil {
		appLogger.Error("Server error", slog.String("error", err.Error()))
		return err
	}

	appLogger.Info("server shutdown complete")
	return nil
}

// migrateUp applies any pending schema migrations embedded in the binary.
func migrateUp(pool *pgxpool.Pool) error {
	goose.SetBaseFS(migrations.FS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}

	db := stdlib.OpenDBFromPool(pool)
	defer db.Close()

	if err := goose.Up(db, "."); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}
