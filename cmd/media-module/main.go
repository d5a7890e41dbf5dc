// Точка входа Media Module — хранилище медиафайлов радиостанции.
// Загружает конфигурацию, применяет миграции, подключается к PostgreSQL,
// собирает кэши, журнал скачиваний и сервисный слой, запускает
// topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/bigkaa/radiodesk/media-module/internal/api/handlers"
	"github.com/bigkaa/radiodesk/media-module/internal/api/middleware"
	"github.com/bigkaa/radiodesk/media-module/internal/config"
	"github.com/bigkaa/radiodesk/media-module/internal/database"
	"github.com/bigkaa/radiodesk/media-module/internal/repository"
	"github.com/bigkaa/radiodesk/media-module/internal/server"
	"github.com/bigkaa/radiodesk/media-module/internal/service"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string

	rootCmd := &cobra.Command{
		Use:           "media-module",
		Short:         "Media Module — хранилище медиафайлов RadioDesk",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return config.LoadDotEnv(envFile)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "путь к .env файлу (необязательный)")

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newMigrateCommand())

	return rootCmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запуск HTTP-сервера (команда по умолчанию)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func newMigrateCommand() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Применение (или откат) миграций БД и выход",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("загрузка конфигурации: %w", err)
			}
			logger := config.SetupLogger(cfg)
			if down {
				return database.MigrateDown(cfg, logger)
			}
			return database.Migrate(cfg, logger)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "откатить все миграции")

	return cmd
}

func runServe(ctx context.Context) error {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("загрузка конфигурации: %w", err)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Media Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	if os.Getenv("MM_DEPHEALTH_GROUP") == "" {
		logger.Warn("MM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		return fmt.Errorf("миграции БД: %w", err)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Repositories
	fileRepo := repository.NewFileRepository(pool)
	folderRepo := repository.NewFolderRepository(pool)
	logRepo := repository.NewDownloadLogRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	// 6. Кэши: blob (долгий TTL) и мемоизация списков (короткий TTL)
	bgCtx, cancelBg := context.WithCancel(ctx)
	defer cancelBg()

	blobCache := service.NewBoundedCache[string, service.CachedBlob]("blob", cfg.BlobCacheMaxEntries, cfg.BlobCacheTTL, logger)
	blobCache.Start(bgCtx, cfg.CacheSweepInterval)
	defer blobCache.Stop()

	memo := service.NewBoundedCache[string, any]("memo", cfg.MemoCacheMaxEntries, cfg.MemoCacheTTL, logger)
	memo.Start(bgCtx, cfg.CacheSweepInterval)
	defer memo.Stop()

	// 7. Журнал скачиваний (асинхронная очередь + воркеры)
	ledger := service.NewDownloadLedger(logRepo, fileRepo, service.LedgerConfig{
		QueueSize:    cfg.LedgerQueueSize,
		Workers:      cfg.LedgerWorkers,
		WriteTimeout: cfg.LedgerWriteTimeout,
	}, logger)
	ledger.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := ledger.Stop(stopCtx); err != nil {
			logger.Warn("Журнал скачиваний остановлен с потерей записей",
				slog.String("error", err.Error()),
			)
		}
	}()

	// 8. Services
	downloadSvc := service.NewDownloadService(fileRepo, blobCache, ledger, service.DownloadConfig{
		MaxCacheBlobBytes: cfg.CacheMaxBlobBytes,
		StoreTimeout:      cfg.StoreReadTimeout,
	}, logger)
	fileSvc := service.NewFileService(fileRepo, folderRepo, blobCache, memo, cfg.MaxUploadBytes, logger)
	folderSvc := service.NewFolderService(txRunner, folderRepo,
		repository.NewFileRepository, repository.NewFolderRepository, memo, logger)
	orderingSvc := service.NewOrderingService(txRunner,
		repository.NewFileRepository, repository.NewFolderRepository, memo, logger)

	// 9. topologymetrics: PostgreSQL (критичная) и IdP (некритичная)
	dephealthSvc, err := service.NewDephealthService(
		"media-module",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL("postgres"),
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		cfg.DephealthIsEntry,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics не инициализирован, мониторинг зависимостей отключён",
			slog.String("error", err.Error()),
		)
	} else {
		if err := dephealthSvc.Start(bgCtx); err != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", err.Error()))
		} else {
			defer dephealthSvc.Stop()
		}
	}

	// 10. JWT middleware (JWKS из IdP)
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.JWTCACertPath,
		cfg.JWTIssuer,
		middleware.RoleGroups{
			Admin:  cfg.RoleAdminGroups,
			Editor: cfg.RoleEditorGroups,
			Viewer: cfg.RoleViewerGroups,
		},
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		return fmt.Errorf("инициализация JWT middleware: %w", err)
	}
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
	)

	// 11. Health и API handlers
	idpChecker, err := middleware.NewIdPReadinessChecker(cfg.JWTJWKSURL, cfg.JWTCACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		return fmt.Errorf("инициализация проверки IdP: %w", err)
	}
	healthHandler := handlers.NewHealthHandler(database.NewReadinessChecker(pool), idpChecker)
	apiHandler := handlers.NewAPIHandler(
		healthHandler,
		downloadSvc,
		fileSvc,
		folderSvc,
		orderingSvc,
		cfg.MaxUploadBytes,
		logger,
	)

	// 12. HTTP-сервер (блокирующий вызов с graceful shutdown)
	srv := server.New(cfg, logger, apiHandler, jwtAuth.Middleware())
	if err := srv.Run(ctx); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Media Module остановлен")
	return nil
}
