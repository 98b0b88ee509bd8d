// Пакет config — загрузка и валидация конфигурации NAS-сервиса
// из переменных окружения с префиксом NAS_.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации NAS-сервиса.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Директория хранения загруженных файлов
	DataDir string
	// Директория снимков индекса
	BackupDir string
	// Путь к файлу индекса метаданных (SQLite)
	IndexPath string
	// Директория журнала намерений
	WALDir string
	// Максимальный размер загружаемого файла в байтах
	MaxFileSize int64

	// Период автоматических снимков в секундах при старте (0 — выключено)
	BackupIntervalSeconds int
	// Интервал пробы хранилища
	HealthInterval time.Duration
	// Интервал автоматической сверки
	ReconcileInterval time.Duration
	// Минимальный возраст файла без записи, после которого сверка его удаляет
	OrphanGrace time.Duration

	// Размер кэша разрешения имён (0 — кэш выключен)
	ResolveCacheSize int
	// Время жизни записи в кэше разрешения имён
	ResolveCacheTTL time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// NAS_PORT — порт HTTP-сервера (по умолчанию 8000)
	port, err := getEnvInt("NAS_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("NAS_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("NAS_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	cfg.DataDir = getEnvDefault("NAS_DATA_DIR", "uploads")
	cfg.BackupDir = getEnvDefault("NAS_BACKUP_DIR", "backups")
	cfg.IndexPath = getEnvDefault("NAS_INDEX_PATH", "files.db")
	cfg.WALDir = getEnvDefault("NAS_WAL_DIR", "wal")

	// NAS_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 1 GB)
	cfg.MaxFileSize, err = getEnvInt64("NAS_MAX_FILE_SIZE", 1073741824)
	if err != nil {
		return nil, fmt.Errorf("NAS_MAX_FILE_SIZE: %w", err)
	}
	if cfg.MaxFileSize <= 0 {
		return nil, fmt.Errorf("NAS_MAX_FILE_SIZE: значение должно быть положительным")
	}

	// NAS_BACKUP_INTERVAL — период снимков в секундах (0 — выключено)
	cfg.BackupIntervalSeconds, err = getEnvInt("NAS_BACKUP_INTERVAL", 0)
	if err != nil {
		return nil, fmt.Errorf("NAS_BACKUP_INTERVAL: %w", err)
	}
	if cfg.BackupIntervalSeconds < 0 {
		return nil, fmt.Errorf("NAS_BACKUP_INTERVAL: значение должно быть неотрицательным, получено %d", cfg.BackupIntervalSeconds)
	}

	cfg.HealthInterval, err = getEnvPositiveDuration("NAS_HEALTH_INTERVAL", time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.ReconcileInterval, err = getEnvPositiveDuration("NAS_RECONCILE_INTERVAL", 6*time.Hour)
	if err != nil {
		return nil, err
	}

	// NAS_ORPHAN_GRACE — должен быть положительным, иначе сверка может
	// удалить файл выполняющейся загрузки
	cfg.OrphanGrace, err = getEnvPositiveDuration("NAS_ORPHAN_GRACE", 10*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.ResolveCacheSize, err = getEnvInt("NAS_RESOLVE_CACHE_SIZE", 1024)
	if err != nil {
		return nil, fmt.Errorf("NAS_RESOLVE_CACHE_SIZE: %w", err)
	}
	if cfg.ResolveCacheSize < 0 {
		return nil, fmt.Errorf("NAS_RESOLVE_CACHE_SIZE: значение должно быть неотрицательным")
	}

	cfg.ResolveCacheTTL, err = getEnvPositiveDuration("NAS_RESOLVE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("NAS_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("NAS_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("NAS_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("NAS_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	cfg.ShutdownTimeout, err = getEnvPositiveDuration("NAS_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}

	cfg.HTTPReadTimeout, err = getEnvPositiveDuration("NAS_HTTP_READ_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.HTTPWriteTimeout, err = getEnvPositiveDuration("NAS_HTTP_WRITE_TIMEOUT", 60*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.HTTPIdleTimeout, err = getEnvPositiveDuration("NAS_HTTP_IDLE_TIMEOUT", 120*time.Second)
	if err != nil {
		return nil, err
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(val))
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой d > 0.
// Ошибка содержит имя переменной.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %s", key, d)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
