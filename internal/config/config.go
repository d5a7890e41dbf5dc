// Пакет config — загрузка и валидация конфигурации Media Module
// из переменных окружения (с необязательным .env файлом).
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Media Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (по умолчанию 8040)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- HTTP Server Timeouts ---

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration

	// --- PostgreSQL ---

	DBHost     string
	DBPort     int
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	// Таймаут установки соединения с PostgreSQL
	DBConnectTimeout time.Duration
	// Максимальное количество соединений в пуле
	DBMaxConns int32
	// Таймаут чтения метаданных/blob в download pipeline
	StoreReadTimeout time.Duration

	// --- JWT ---

	// URL JWKS endpoint IdP
	JWTJWKSURL string
	// Ожидаемый issuer (пусто — не проверяется)
	JWTIssuer string
	// Путь к CA-сертификату для JWKS (опционально)
	JWTCACertPath       string
	JWKSClientTimeout   time.Duration
	JWKSRefreshInterval time.Duration
	JWTLeeway           time.Duration
	RoleAdminGroups     []string
	RoleEditorGroups    []string
	RoleViewerGroups    []string

	// --- Кэши ---

	// Кэш декодированных blob (долгий TTL, мало записей)
	BlobCacheTTL        time.Duration
	BlobCacheMaxEntries int
	// Кэш мемоизации ответов (короткий TTL, больше записей)
	MemoCacheTTL        time.Duration
	MemoCacheMaxEntries int
	// Интервал фоновой очистки просроченных записей
	CacheSweepInterval time.Duration
	// Blob такого размера и больше в кэш не попадает
	CacheMaxBlobBytes int

	// --- Загрузка и журнал скачиваний ---

	MaxUploadBytes     int64
	LedgerQueueSize    int
	LedgerWorkers      int
	LedgerWriteTimeout time.Duration

	// --- topologymetrics ---

	DephealthGroup         string
	DephealthCheckInterval time.Duration
	DephealthIsEntry       bool

	// --- Graceful shutdown ---

	ShutdownTimeout time.Duration
}

// LoadDotEnv подгружает переменные из файла .env, если он существует.
// Уже заданные переменные окружения не перезаписываются.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Load загружает конфигурацию из переменных окружения.
// Возвращает ошибку, если обязательные переменные не заданы
// или значения некорректны.
//
//nolint:funlen,gocyclo // линейный разбор переменных
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	cfg.Port, err = getEnvInt("MM_PORT", 8040)
	if err != nil {
		return nil, fmt.Errorf("MM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("MM_PORT: порт %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("MM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("MM_LOG_LEVEL: %w", err)
	}

	cfg.LogFormat = getEnvDefault("MM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("MM_LOG_FORMAT: недопустимый формат %q, допустимые: json, text", cfg.LogFormat)
	}

	if cfg.HTTPReadTimeout, err = getEnvDuration("MM_HTTP_READ_TIMEOUT", 30*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("MM_HTTP_WRITE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("MM_HTTP_IDLE_TIMEOUT", 120*time.Second); err != nil {
		return nil, fmt.Errorf("MM_HTTP_IDLE_TIMEOUT: %w", err)
	}

	// --- PostgreSQL ---

	if cfg.DBHost, err = getEnvRequired("MM_DB_HOST"); err != nil {
		return nil, err
	}
	if cfg.DBPort, err = getEnvInt("MM_DB_PORT", 5432); err != nil {
		return nil, fmt.Errorf("MM_DB_PORT: %w", err)
	}
	if cfg.DBName, err = getEnvRequired("MM_DB_NAME"); err != nil {
		return nil, err
	}
	if cfg.DBUser, err = getEnvRequired("MM_DB_USER"); err != nil {
		return nil, err
	}
	if cfg.DBPassword, err = getEnvRequired("MM_DB_PASSWORD"); err != nil {
		return nil, err
	}
	cfg.DBSSLMode = getEnvDefault("MM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{"disable": true, "require": true, "verify-ca": true, "verify-full": true}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("MM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}
	if cfg.DBConnectTimeout, err = getEnvPositiveDuration("MM_DB_CONNECT_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("MM_DB_CONNECT_TIMEOUT: %w", err)
	}
	maxConns, err := getEnvInt("MM_DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("MM_DB_MAX_CONNS: %w", err)
	}
	if maxConns < 1 {
		return nil, fmt.Errorf("MM_DB_MAX_CONNS: значение должно быть > 0")
	}
	cfg.DBMaxConns = int32(maxConns) //nolint:gosec // проверено выше
	if cfg.StoreReadTimeout, err = getEnvPositiveDuration("MM_STORE_READ_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MM_STORE_READ_TIMEOUT: %w", err)
	}

	// --- JWT ---

	if cfg.JWTJWKSURL, err = getEnvRequired("MM_JWT_JWKS_URL"); err != nil {
		return nil, err
	}
	cfg.JWTIssuer = os.Getenv("MM_JWT_ISSUER")
	cfg.JWTCACertPath = os.Getenv("MM_JWT_CA_CERT_PATH")
	if cfg.JWKSClientTimeout, err = getEnvPositiveDuration("MM_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MM_JWKS_CLIENT_TIMEOUT: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvPositiveDuration("MM_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWTLeeway, err = getEnvDuration("MM_JWT_LEEWAY", 5*time.Second); err != nil {
		return nil, fmt.Errorf("MM_JWT_LEEWAY: %w", err)
	}
	cfg.RoleAdminGroups = parseCSV(getEnvDefault("MM_ROLE_ADMIN_GROUPS", "radio-admins"))
	cfg.RoleEditorGroups = parseCSV(getEnvDefault("MM_ROLE_EDITOR_GROUPS", "radio-producers,radio-editors"))
	cfg.RoleViewerGroups = parseCSV(getEnvDefault("MM_ROLE_VIEWER_GROUPS", "radio-viewers"))

	// --- Кэши ---

	if cfg.BlobCacheTTL, err = getEnvPositiveDuration("MM_BLOB_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_BLOB_CACHE_TTL: %w", err)
	}
	if cfg.BlobCacheMaxEntries, err = getEnvPositiveInt("MM_BLOB_CACHE_MAX_ENTRIES", 50); err != nil {
		return nil, fmt.Errorf("MM_BLOB_CACHE_MAX_ENTRIES: %w", err)
	}
	if cfg.MemoCacheTTL, err = getEnvPositiveDuration("MM_MEMO_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("MM_MEMO_CACHE_TTL: %w", err)
	}
	if cfg.MemoCacheMaxEntries, err = getEnvPositiveInt("MM_MEMO_CACHE_MAX_ENTRIES", 100); err != nil {
		return nil, fmt.Errorf("MM_MEMO_CACHE_MAX_ENTRIES: %w", err)
	}
	if cfg.CacheSweepInterval, err = getEnvPositiveDuration("MM_CACHE_SWEEP_INTERVAL", time.Minute); err != nil {
		return nil, fmt.Errorf("MM_CACHE_SWEEP_INTERVAL: %w", err)
	}
	if cfg.CacheMaxBlobBytes, err = getEnvPositiveInt("MM_CACHE_MAX_BLOB_BYTES", 10*1024*1024); err != nil {
		return nil, fmt.Errorf("MM_CACHE_MAX_BLOB_BYTES: %w", err)
	}

	// --- Загрузка и журнал скачиваний ---

	maxUpload, err := getEnvPositiveInt("MM_MAX_UPLOAD_BYTES", 100*1024*1024)
	if err != nil {
		return nil, fmt.Errorf("MM_MAX_UPLOAD_BYTES: %w", err)
	}
	cfg.MaxUploadBytes = int64(maxUpload)
	if cfg.LedgerQueueSize, err = getEnvPositiveInt("MM_LEDGER_QUEUE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("MM_LEDGER_QUEUE_SIZE: %w", err)
	}
	if cfg.LedgerWorkers, err = getEnvPositiveInt("MM_LEDGER_WORKERS", 4); err != nil {
		return nil, fmt.Errorf("MM_LEDGER_WORKERS: %w", err)
	}
	if cfg.LedgerWriteTimeout, err = getEnvPositiveDuration("MM_LEDGER_WRITE_TIMEOUT", 5*time.Second); err != nil {
		return nil, fmt.Errorf("MM_LEDGER_WRITE_TIMEOUT: %w", err)
	}

	// --- topologymetrics ---

	cfg.DephealthGroup = getEnvDefault("MM_DEPHEALTH_GROUP", "radiodesk")
	if cfg.DephealthCheckInterval, err = getEnvPositiveDuration("MM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("MM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	if cfg.DephealthIsEntry, err = getEnvBool("DEPHEALTH_ISENTRY", false); err != nil {
		return nil, fmt.Errorf("DEPHEALTH_ISENTRY: %w", err)
	}

	// --- Graceful shutdown ---

	if cfg.ShutdownTimeout, err = getEnvDuration("MM_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("MM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает DSN для pgxpool.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s connect_timeout=%d",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
		int(c.DBConnectTimeout.Seconds()),
	)
}

// DatabaseURL возвращает URL PostgreSQL (для golang-migrate и лейблов метрик).
// scheme — "postgres" или "pgx5".
func (c *Config) DatabaseURL(scheme string) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(c.DBUser, c.DBPassword),
		Host:     fmt.Sprintf("%s:%d", c.DBHost, c.DBPort),
		Path:     "/" + c.DBName,
		RawQuery: "sslmode=" + c.DBSSLMode,
	}
	return u.String()
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

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

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
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveInt — getEnvInt с проверкой > 0.
func getEnvPositiveInt(key string, defaultVal int) (int, error) {
	n, err := getEnvInt(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
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
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// getEnvPositiveDuration — getEnvDuration с проверкой > 0.
func getEnvPositiveDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	d, err := getEnvDuration(key, defaultVal)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("значение должно быть > 0")
	}
	return d, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q (допустимые: true, false, 1, 0)", val)
	}
	return b, nil
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

// parseCSV разбирает строку через запятую, отбрасывая пустые элементы.
func parseCSV(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			result = append(result, p)
		}
	}
	return result
}
