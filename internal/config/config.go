package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"riskguard/internal/models"
	"riskguard/pkg/crypto"
	"riskguard/pkg/utils"
)

// Режимы торговли
const (
	TradingModePaper = "paper"
	TradingModeLive  = "live"
)

const (
	alpacaPaperURL = "https://paper-api.alpaca.markets"
	alpacaLiveURL  = "https://api.alpaca.markets"
	alpacaDataURL  = "https://data.alpaca.markets"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	TradingMode string

	Server        ServerConfig
	Database      DatabaseConfig
	Security      SecurityConfig
	Broker        BrokerConfig
	Monitor       MonitorConfig
	Dispatch      DispatchConfig
	Risk          models.RiskLimits
	DailyReset    DailyResetConfig
	Notifications NotificationConfig
	Logging       LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к БД.
// Без БД движок работает, история сделок и уведомлений держится в памяти.
type DatabaseConfig struct {
	Enabled      bool
	Driver       string
	Host         string
	Port         int
	Name         string
	User         string
	Password     string
	SSLMode      string
	MaxOpenConns int
}

// SecurityConfig - настройки безопасности
type SecurityConfig struct {
	APITokenHash   string   // bcrypt-хеш токена дашборда, пусто - без аутентификации
	EncryptionKey  string   // 32 байта, расшифровка значений с префиксом enc:
	AllowedOrigins []string // CORS и WebSocket
}

// BrokerConfig - брокер и доступ к нему
type BrokerConfig struct {
	Name      string // alpaca | paper
	APIKey    string
	APISecret string
	BaseURL   string
	DataURL   string
	RateLimit float64 // запросов в секунду
	PaperCash float64
}

// MonitorConfig - цикл мониторинга стопов
type MonitorConfig struct {
	Interval         time.Duration
	FetchTimeout     time.Duration
	MaxParallel      int
	MaxFetchFailures int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
}

// DispatchConfig - отправка выходных ордеров
type DispatchConfig struct {
	CallTimeout      time.Duration
	MaxRetries       int
	FillPollInterval time.Duration
	FillTimeout      time.Duration
}

// DailyResetConfig - граница торгового дня
type DailyResetConfig struct {
	At       utils.ClockTime
	Location *time.Location
}

// NotificationConfig - журнал уведомлений
type NotificationConfig struct {
	Buffer        int // очередь между движком и сервисом уведомлений
	Keep          int // сколько записей хранить в БД
	CleanupPeriod time.Duration
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из .env и переменных окружения.
// Переменные окружения имеют приоритет над .env.
func Load() (*Config, error) {
	envFile := getEnv("ENV_FILE", ".env")
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv строит конфигурацию только из переменных окружения
func FromEnv() (*Config, error) {
	mode := strings.ToLower(getEnv("TRADING_MODE", TradingModePaper))

	defaultBroker := "paper"
	defaultBaseURL := alpacaPaperURL
	if mode == TradingModeLive {
		defaultBroker = "alpaca"
		defaultBaseURL = alpacaLiveURL
	}

	defaults := models.DefaultRiskLimits()

	cfg := &Config{
		TradingMode: mode,
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Enabled:      getEnvAsBool("DB_ENABLED", true),
			Driver:       getEnv("DB_DRIVER", "postgres"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			Name:         getEnv("DB_NAME", "riskguard"),
			User:         getEnv("DB_USER", "riskguard"),
			Password:     getEnv("DB_PASSWORD", ""),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		},
		Security: SecurityConfig{
			APITokenHash:   getEnv("API_TOKEN_HASH", ""),
			EncryptionKey:  getEnv("ENCRYPTION_KEY", ""),
			AllowedOrigins: getEnvAsList("ALLOWED_ORIGINS"),
		},
		Broker: BrokerConfig{
			Name:      strings.ToLower(getEnv("BROKER", defaultBroker)),
			APIKey:    getEnv("BROKER_API_KEY", ""),
			APISecret: getEnv("BROKER_API_SECRET", ""),
			BaseURL:   getEnv("BROKER_BASE_URL", defaultBaseURL),
			DataURL:   getEnv("BROKER_DATA_URL", alpacaDataURL),
			RateLimit: getEnvAsFloat("BROKER_RATE_LIMIT", 3),
			PaperCash: getEnvAsFloat("PAPER_CASH", 100000),
		},
		Monitor: MonitorConfig{
			Interval:         getEnvAsDuration("MONITOR_INTERVAL", time.Second),
			FetchTimeout:     getEnvAsDuration("MONITOR_FETCH_TIMEOUT", 3*time.Second),
			MaxParallel:      getEnvAsInt("MONITOR_MAX_PARALLEL", 8),
			MaxFetchFailures: getEnvAsInt("MONITOR_MAX_FETCH_FAILURES", 5),
			BackoffBase:      getEnvAsDuration("MONITOR_BACKOFF_BASE", time.Second),
			BackoffMax:       getEnvAsDuration("MONITOR_BACKOFF_MAX", 30*time.Second),
		},
		Dispatch: DispatchConfig{
			CallTimeout:      getEnvAsDuration("DISPATCH_CALL_TIMEOUT", 5*time.Second),
			MaxRetries:       getEnvAsInt("DISPATCH_MAX_RETRIES", 4),
			FillPollInterval: getEnvAsDuration("FILL_POLL_INTERVAL", 500*time.Millisecond),
			FillTimeout:      getEnvAsDuration("FILL_TIMEOUT", 30*time.Second),
		},
		Risk: models.RiskLimits{
			MaxPositionSize:  getEnvAsFloat("RISK_MAX_POSITION_SIZE", defaults.MaxPositionSize),
			MaxDailyLoss:     getEnvAsFloat("RISK_MAX_DAILY_LOSS", defaults.MaxDailyLoss),
			MaxOpenPositions: getEnvAsInt("RISK_MAX_OPEN_POSITIONS", defaults.MaxOpenPositions),
			RiskPerTrade:     getEnvAsFloat("RISK_PER_TRADE", defaults.RiskPerTrade),
			LotSize:          getEnvAsFloat("RISK_LOT_SIZE", defaults.LotSize),
			MinOrderValue:    getEnvAsFloat("RISK_MIN_ORDER_VALUE", defaults.MinOrderValue),
		},
		Notifications: NotificationConfig{
			Buffer:        getEnvAsInt("NOTIFICATION_BUFFER", 256),
			Keep:          getEnvAsInt("NOTIFICATION_KEEP", 10000),
			CleanupPeriod: getEnvAsDuration("NOTIFICATION_CLEANUP_PERIOD", time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", "stdout"),
		},
	}

	resetAt, err := utils.ParseClockTime(getEnv("DAILY_RESET_TIME", "09:30"))
	if err != nil {
		return nil, fmt.Errorf("DAILY_RESET_TIME: %w", err)
	}
	loc, err := time.LoadLocation(getEnv("DAILY_RESET_TZ", "America/New_York"))
	if err != nil {
		return nil, fmt.Errorf("DAILY_RESET_TZ: %w", err)
	}
	cfg.DailyReset = DailyResetConfig{At: resetAt, Location: loc}

	if err := cfg.revealSecrets(); err != nil {
		return nil, err
	}

	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// revealSecrets расшифровывает значения вида enc:...
func (c *Config) revealSecrets() error {
	key := []byte(c.Security.EncryptionKey)
	for name, field := range map[string]*string{
		"BROKER_API_KEY":    &c.Broker.APIKey,
		"BROKER_API_SECRET": &c.Broker.APISecret,
		"DB_PASSWORD":       &c.Database.Password,
	} {
		if !strings.HasPrefix(*field, crypto.EncryptedPrefix) {
			continue
		}
		if len(key) != 32 {
			return fmt.Errorf("%s is encrypted but ENCRYPTION_KEY is not a 32-byte key", name)
		}
		plain, err := crypto.RevealSecret(*field, key)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		*field = plain
	}
	return nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.APITokenHash != "" && !crypto.IsValidHash(c.Security.APITokenHash) {
		return fmt.Errorf("API_TOKEN_HASH must be a bcrypt hash")
	}

	// реальные деньги без аутентификации дашборда не запускаем
	if c.TradingMode == TradingModeLive && c.Security.APITokenHash == "" {
		return fmt.Errorf("API_TOKEN_HASH is required in live trading mode")
	}

	if c.Broker.Name == "alpaca" && (c.Broker.APIKey == "" || c.Broker.APISecret == "") {
		return fmt.Errorf("BROKER_API_KEY and BROKER_API_SECRET are required for alpaca")
	}

	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	if c.TradingMode != TradingModePaper && c.TradingMode != TradingModeLive {
		return fmt.Errorf("TRADING_MODE must be paper or live, got %q", c.TradingMode)
	}

	if c.Broker.Name != "paper" && c.Broker.Name != "alpaca" {
		return fmt.Errorf("BROKER must be paper or alpaca, got %q", c.Broker.Name)
	}

	if c.TradingMode == TradingModeLive && c.Broker.Name == "paper" {
		return fmt.Errorf("BROKER=paper cannot be used in live trading mode")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.Enabled && (c.Database.Port < 1 || c.Database.Port > 65535) {
		return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
	}

	if c.Monitor.Interval < 100*time.Millisecond {
		return fmt.Errorf("MONITOR_INTERVAL must be at least 100ms, got %v", c.Monitor.Interval)
	}

	if c.Monitor.FetchTimeout <= 0 {
		return fmt.Errorf("MONITOR_FETCH_TIMEOUT must be positive, got %v", c.Monitor.FetchTimeout)
	}

	if c.Monitor.MaxParallel < 1 {
		return fmt.Errorf("MONITOR_MAX_PARALLEL must be at least 1, got %d", c.Monitor.MaxParallel)
	}

	if c.Monitor.MaxFetchFailures < 1 {
		return fmt.Errorf("MONITOR_MAX_FETCH_FAILURES must be at least 1, got %d", c.Monitor.MaxFetchFailures)
	}

	if c.Monitor.BackoffBase <= 0 || c.Monitor.BackoffMax < c.Monitor.BackoffBase {
		return fmt.Errorf("MONITOR_BACKOFF_MAX (%v) must be >= MONITOR_BACKOFF_BASE (%v) > 0",
			c.Monitor.BackoffMax, c.Monitor.BackoffBase)
	}

	if c.Dispatch.MaxRetries < 0 || c.Dispatch.MaxRetries > 10 {
		return fmt.Errorf("DISPATCH_MAX_RETRIES must be between 0 and 10, got %d", c.Dispatch.MaxRetries)
	}

	if c.Dispatch.CallTimeout <= 0 || c.Dispatch.FillPollInterval <= 0 || c.Dispatch.FillTimeout <= 0 {
		return fmt.Errorf("dispatch timeouts must be positive")
	}

	if c.Broker.RateLimit <= 0 {
		return fmt.Errorf("BROKER_RATE_LIMIT must be positive, got %v", c.Broker.RateLimit)
	}

	if c.Broker.Name == "paper" && c.Broker.PaperCash <= 0 {
		return fmt.Errorf("PAPER_CASH must be positive, got %v", c.Broker.PaperCash)
	}

	if err := c.Risk.Validate(); err != nil {
		return fmt.Errorf("risk limits: %w", err)
	}

	if c.Notifications.Buffer < 1 {
		return fmt.Errorf("NOTIFICATION_BUFFER must be at least 1, got %d", c.Notifications.Buffer)
	}

	return nil
}

// Address адрес для http.Server
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DSN возвращает строку подключения к базе данных
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// DSNWithoutPassword возвращает строку подключения без пароля (для логирования)
func (d DatabaseConfig) DSNWithoutPassword() string {
	return fmt.Sprintf("host=%s port=%d user=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Name, d.SSLMode)
}

// Вспомогательные функции для чтения переменных окружения

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsList разбирает список через запятую
func getEnvAsList(key string) []string {
	var result []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			result = append(result, part)
		}
	}
	return result
}
