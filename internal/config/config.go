package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"tradeops/internal/models"
	"tradeops/pkg/crypto"
)

// Бэкенды хранилища ордеров
const (
	StoreBackendPostgres = "postgres"
	StoreBackendDynamoDB = "dynamodb"
)

// Config содержит всю конфигурацию приложения
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Store       StoreConfig
	StuckOrders StuckOrdersConfig
	Exchanges   ExchangesConfig
	Alerts      AlertsConfig
	Security    SecurityConfig
	Logging     LoggingConfig
}

// ServerConfig - настройки HTTP сервера
type ServerConfig struct {
	Port            int
	Host            string
	UseHTTPS        bool
	CertFile        string
	KeyFile         string
	AllowedOrigins  []string // CORS и WebSocket origins
	ShutdownTimeout time.Duration
}

// DatabaseConfig - настройки подключения к Postgres
type DatabaseConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

// StoreConfig - выбор хранилища ордеров
type StoreConfig struct {
	Backend     string // postgres | dynamodb
	DynamoTable string
	AWSRegion   string
	AWSEndpoint string // пусто = эндпоинт AWS по умолчанию (для localstack указать URL)
}

// StuckOrdersConfig - пороги детектора зависших ордеров
type StuckOrdersConfig struct {
	PendingThreshold      time.Duration
	OpenNoUpdateThreshold time.Duration
	MaxResolutionAttempts int
}

// ExchangesConfig - подключения к биржам
type ExchangesConfig struct {
	Bybit BybitConfig
	// таймаут HTTP запроса к бирже
	RequestTimeout time.Duration
}

// BybitConfig - ключи и лимиты Bybit
type BybitConfig struct {
	APIKey    string
	SecretKey string
	BaseURL   string
	Category  string
	RateLimit float64 // запросов в секунду
	Burst     int
}

// Enabled - адаптер регистрируется только при наличии ключей
func (b BybitConfig) Enabled() bool {
	return b.APIKey != "" && b.SecretKey != ""
}

// AlertsConfig - внешние уведомления об эскалациях
type AlertsConfig struct {
	SNSTopicARN string // пусто = SNS отключен
	MaxRetries  int
}

// SecurityConfig - учётные данные оператора
type SecurityConfig struct {
	OperatorUser         string
	OperatorPasswordHash string // bcrypt
	MinHashCost          int    // минимальный cost OPERATOR_PASSWORD_HASH
	EncryptionKey        string // AES-256 для значений "enc:..." (hex или 32 байта)
}

// LoggingConfig - настройки логирования
type LoggingConfig struct {
	Level  string
	Format string
	Output string
}

// Load загружает конфигурацию из переменных окружения.
// Если задан CONFIG_FILE, YAML файл переопределяет разделы stuck_orders и exchanges.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			UseHTTPS:        getEnvAsBool("USE_HTTPS", false),
			CertFile:        getEnv("CERT_FILE", ""),
			KeyFile:         getEnv("KEY_FILE", ""),
			AllowedOrigins:  getEnvAsList("CORS_ALLOWED_ORIGINS"),
			ShutdownTimeout: getEnvAsDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			Name:     getEnv("DB_NAME", "tradeops"),
			User:     getEnv("DB_USER", "tradeops"),
			Password: getEnv("DB_PASSWORD", ""),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
		},
		Store: StoreConfig{
			Backend:     strings.ToLower(getEnv("ORDER_STORE", StoreBackendPostgres)),
			DynamoTable: getEnv("DYNAMODB_TABLE", "orders"),
			AWSRegion:   getEnv("AWS_REGION", "us-east-1"),
			AWSEndpoint: getEnv("AWS_ENDPOINT_URL", ""),
		},
		StuckOrders: StuckOrdersConfig{
			PendingThreshold:      getEnvAsDuration("STUCK_PENDING_THRESHOLD", models.DefaultPendingThreshold),
			OpenNoUpdateThreshold: getEnvAsDuration("STUCK_OPEN_NO_UPDATE_THRESHOLD", models.DefaultOpenNoUpdateThreshold),
			MaxResolutionAttempts: getEnvAsInt("STUCK_MAX_RESOLUTION_ATTEMPTS", models.DefaultMaxResolutionAttempts),
		},
		Exchanges: ExchangesConfig{
			Bybit: BybitConfig{
				APIKey:    getEnv("BYBIT_API_KEY", ""),
				SecretKey: getEnv("BYBIT_SECRET_KEY", ""),
				BaseURL:   getEnv("BYBIT_BASE_URL", ""),
				Category:  getEnv("BYBIT_CATEGORY", "linear"),
				RateLimit: getEnvAsFloat("BYBIT_RATE_LIMIT", 10),
				Burst:     getEnvAsInt("BYBIT_RATE_BURST", 1),
			},
			RequestTimeout: getEnvAsDuration("EXCHANGE_REQUEST_TIMEOUT", 30*time.Second),
		},
		Alerts: AlertsConfig{
			SNSTopicARN: getEnv("ALERTS_SNS_TOPIC_ARN", ""),
			MaxRetries:  getEnvAsInt("ALERTS_MAX_RETRIES", 3),
		},
		Security: SecurityConfig{
			OperatorUser:         getEnv("OPERATOR_USER", "operator"),
			OperatorPasswordHash: getEnv("OPERATOR_PASSWORD_HASH", ""),
			MinHashCost:          getEnvAsInt("OPERATOR_HASH_MIN_COST", crypto.MinOperatorCost),
			EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
			Output: getEnv("LOG_OUTPUT", ""),
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	// Валидация критичных параметров безопасности
	if err := cfg.validateSecurity(); err != nil {
		return nil, err
	}

	// Расшифровка ключей бирж
	if err := cfg.unsealSecrets(); err != nil {
		return nil, err
	}

	// Валидация числовых диапазонов
	if err := cfg.validateRanges(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// fileOverlay - разделы YAML файла; отсутствующие ключи не меняют значения из окружения
type fileOverlay struct {
	StuckOrders *struct {
		PendingThreshold      *time.Duration `yaml:"pending_threshold"`
		OpenNoUpdateThreshold *time.Duration `yaml:"open_no_update_threshold"`
		MaxResolutionAttempts *int           `yaml:"max_resolution_attempts"`
	} `yaml:"stuck_orders"`

	Exchanges *struct {
		RequestTimeout *time.Duration `yaml:"request_timeout"`
		Bybit          *struct {
			BaseURL   *string  `yaml:"base_url"`
			Category  *string  `yaml:"category"`
			RateLimit *float64 `yaml:"rate_limit"`
			Burst     *int     `yaml:"burst"`
		} `yaml:"bybit"`
	} `yaml:"exchanges"`
}

// applyFile применяет YAML overlay
func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	return c.applyYAML(data)
}

func (c *Config) applyYAML(data []byte) error {
	var overlay fileOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if so := overlay.StuckOrders; so != nil {
		if so.PendingThreshold != nil {
			c.StuckOrders.PendingThreshold = *so.PendingThreshold
		}
		if so.OpenNoUpdateThreshold != nil {
			c.StuckOrders.OpenNoUpdateThreshold = *so.OpenNoUpdateThreshold
		}
		if so.MaxResolutionAttempts != nil {
			c.StuckOrders.MaxResolutionAttempts = *so.MaxResolutionAttempts
		}
	}

	if ex := overlay.Exchanges; ex != nil {
		if ex.RequestTimeout != nil {
			c.Exchanges.RequestTimeout = *ex.RequestTimeout
		}
		if b := ex.Bybit; b != nil {
			if b.BaseURL != nil {
				c.Exchanges.Bybit.BaseURL = *b.BaseURL
			}
			if b.Category != nil {
				c.Exchanges.Bybit.Category = *b.Category
			}
			if b.RateLimit != nil {
				c.Exchanges.Bybit.RateLimit = *b.RateLimit
			}
			if b.Burst != nil {
				c.Exchanges.Bybit.Burst = *b.Burst
			}
		}
	}

	return nil
}

// validateSecurity проверяет параметры безопасности
func (c *Config) validateSecurity() error {
	if c.Security.OperatorUser == "" {
		return fmt.Errorf("OPERATOR_USER is required")
	}

	// OPERATOR_PASSWORD_HASH обязателен: без него API недоступен
	if c.Security.OperatorPasswordHash == "" {
		return fmt.Errorf("OPERATOR_PASSWORD_HASH is required (bcrypt hash)")
	}

	if !strings.HasPrefix(c.Security.OperatorPasswordHash, "$2") {
		return fmt.Errorf("OPERATOR_PASSWORD_HASH must be a bcrypt hash")
	}

	if c.Security.MinHashCost < bcrypt.MinCost || c.Security.MinHashCost > bcrypt.MaxCost {
		return fmt.Errorf("OPERATOR_HASH_MIN_COST must be between %d and %d, got %d",
			bcrypt.MinCost, bcrypt.MaxCost, c.Security.MinHashCost)
	}
	if err := crypto.CheckOperatorHash(c.Security.OperatorPasswordHash, c.Security.MinHashCost); err != nil {
		return fmt.Errorf("OPERATOR_PASSWORD_HASH: %w (regenerate with sealsecret -hashpw)", err)
	}

	if c.Server.UseHTTPS && (c.Server.CertFile == "" || c.Server.KeyFile == "") {
		return fmt.Errorf("CERT_FILE and KEY_FILE are required when USE_HTTPS is enabled")
	}

	return nil
}

// unsealSecrets расшифровывает ключи бирж, заданные как "enc:..."
func (c *Config) unsealSecrets() error {
	b := &c.Exchanges.Bybit
	if !crypto.IsSealed(b.APIKey) && !crypto.IsSealed(b.SecretKey) {
		return nil
	}

	if c.Security.EncryptionKey == "" {
		return fmt.Errorf("ENCRYPTION_KEY is required for encrypted exchange keys")
	}
	key, err := crypto.ParseKey(c.Security.EncryptionKey)
	if err != nil {
		return fmt.Errorf("ENCRYPTION_KEY: %w", err)
	}

	if b.APIKey, err = crypto.Unseal(b.APIKey, key); err != nil {
		return fmt.Errorf("BYBIT_API_KEY: %w", err)
	}
	if b.SecretKey, err = crypto.Unseal(b.SecretKey, key); err != nil {
		return fmt.Errorf("BYBIT_SECRET_KEY: %w", err)
	}
	return nil
}

// validateRanges проверяет числовые диапазоны параметров
func (c *Config) validateRanges() error {
	// Валидация портов
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	switch c.Store.Backend {
	case StoreBackendPostgres:
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("DB_PORT must be between 1 and 65535, got %d", c.Database.Port)
		}
	case StoreBackendDynamoDB:
		if c.Store.DynamoTable == "" {
			return fmt.Errorf("DYNAMODB_TABLE is required for dynamodb store")
		}
	default:
		return fmt.Errorf("ORDER_STORE must be %q or %q, got %q", StoreBackendPostgres, StoreBackendDynamoDB, c.Store.Backend)
	}

	// Пороги детектора (должны быть положительными)
	if c.StuckOrders.PendingThreshold <= 0 {
		return fmt.Errorf("STUCK_PENDING_THRESHOLD must be positive, got %v", c.StuckOrders.PendingThreshold)
	}

	if c.StuckOrders.OpenNoUpdateThreshold <= 0 {
		return fmt.Errorf("STUCK_OPEN_NO_UPDATE_THRESHOLD must be positive, got %v", c.StuckOrders.OpenNoUpdateThreshold)
	}

	if c.StuckOrders.MaxResolutionAttempts < 1 {
		return fmt.Errorf("STUCK_MAX_RESOLUTION_ATTEMPTS must be at least 1, got %d", c.StuckOrders.MaxResolutionAttempts)
	}

	if c.Exchanges.Bybit.RateLimit <= 0 {
		return fmt.Errorf("BYBIT_RATE_LIMIT must be positive, got %v", c.Exchanges.Bybit.RateLimit)
	}

	if c.Exchanges.RequestTimeout <= 0 {
		return fmt.Errorf("EXCHANGE_REQUEST_TIMEOUT must be positive, got %v", c.Exchanges.RequestTimeout)
	}

	if c.Alerts.MaxRetries < 0 || c.Alerts.MaxRetries > 10 {
		return fmt.Errorf("ALERTS_MAX_RETRIES must be between 0 and 10, got %d", c.Alerts.MaxRetries)
	}

	return nil
}

// StuckOrderConfig возвращает пороги детектора в доменном виде
func (c *Config) StuckOrderConfig() models.StuckOrderConfig {
	return models.StuckOrderConfig{
		PendingThreshold:      c.StuckOrders.PendingThreshold,
		OpenNoUpdateThreshold: c.StuckOrders.OpenNoUpdateThreshold,
		MaxResolutionAttempts: c.StuckOrders.MaxResolutionAttempts,
	}
}

// Addr возвращает адрес для net/http
func (s ServerConfig) Addr() string {
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

// getEnvAsList читает список через запятую
func getEnvAsList(key string) []string {
	var result []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			result = append(result, item)
		}
	}
	return result
}
