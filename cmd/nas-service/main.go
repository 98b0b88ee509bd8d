// Точка входа NAS-сервиса — хранилища файлов с индексом метаданных.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/goartstore/nas-service/internal/api/handlers"
	"github.com/bigkaa/goartstore/nas-service/internal/api/middleware"
	"github.com/bigkaa/goartstore/nas-service/internal/config"
	"github.com/bigkaa/goartstore/nas-service/internal/server"
	"github.com/bigkaa/goartstore/nas-service/internal/service"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/filestore"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/index"
	"github.com/bigkaa/goartstore/nas-service/internal/storage/wal"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("NAS-сервис запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("data_dir", cfg.DataDir),
		slog.String("index_path", cfg.IndexPath),
	)

	ctx := context.Background()

	// --- Инициализация хранилища ---

	// 1. Файловое хранилище
	store, err := filestore.New(cfg.DataDir)
	if err != nil {
		logger.Error("Ошибка инициализации FileStore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Индекс метаданных (SQLite, миграции применяются при открытии)
	idx, err := index.Open(ctx, cfg.IndexPath, logger)
	if err != nil {
		logger.Error("Ошибка открытия индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Журнал намерений
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации WAL", slog.String("error", err.Error()))
		idx.Close()
		os.Exit(1)
	}

	// 4. Каталог и восстановление прерванных операций
	cache := service.NewResolveCache(cfg.ResolveCacheSize, cfg.ResolveCacheTTL)
	catalog := service.NewCatalogService(store, idx, journal, cache, logger)

	recovered, err := catalog.RecoverJournal(ctx)
	if err != nil {
		logger.Error("Ошибка восстановления WAL", slog.String("error", err.Error()))
		idx.Close()
		os.Exit(1)
	}
	if recovered > 0 {
		logger.Warn("Доведены незавершённые операции", slog.Int("count", recovered))
	}

	if err := catalog.RefreshMetrics(ctx); err != nil {
		logger.Warn("Не удалось обновить метрики файлов", slog.String("error", err.Error()))
	}

	// --- Фоновые процессы ---

	// 5. Снимки индекса
	backups, err := service.NewBackupScheduler(idx, cfg.BackupDir, logger)
	if err != nil {
		logger.Error("Ошибка инициализации снимков", slog.String("error", err.Error()))
		idx.Close()
		os.Exit(1)
	}
	if cfg.BackupIntervalSeconds > 0 {
		if err := backups.SetPeriodic(cfg.BackupIntervalSeconds); err != nil {
			logger.Error("Ошибка запуска периодических снимков", slog.String("error", err.Error()))
			idx.Close()
			os.Exit(1)
		}
	}

	// 6. Проба хранилища
	monitor := service.NewHealthMonitor(catalog, cfg.HealthInterval, logger)
	monitor.Start(ctx)

	// 7. Сверка диска и индекса
	reconciler := service.NewReconcileService(catalog, cfg.ReconcileInterval, cfg.OrphanGrace, logger)
	reconciler.Start(ctx)

	// --- HTTP ---

	router := server.NewRouter(server.Handlers{
		Files:       handlers.NewFilesHandler(catalog, cfg.MaxFileSize, logger),
		Backup:      handlers.NewBackupHandler(backups),
		Health:      handlers.NewHealthHandler(idx, monitor),
		Maintenance: handlers.NewMaintenanceHandler(reconciler),
		System:      handlers.NewSystemHandler(catalog, backups, store.DataDir(), getDiskUsage, logger),
	},
		middleware.MetricsMiddleware(),
		middleware.RequestLogger(logger),
	)

	srv := server.New(cfg, logger, router)
	runErr := srv.Run()

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	backups.CancelPeriodic()
	reconciler.Stop()
	monitor.Stop()

	if err := idx.Close(); err != nil {
		logger.Error("Ошибка закрытия индекса", slog.String("error", err.Error()))
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}

	logger.Info("NAS-сервис остановлен")
}
